package interfaces

import (
	"context"

	"github.com/customeros/mailsync/internal/models"
)

type AccountRepository interface {
	GetByID(ctx context.Context, id string) (*models.Account, error)
	GetByIDForUser(ctx context.Context, userID, id string) (*models.Account, error)
	GetLatestForUser(ctx context.Context, userID string) (*models.Account, error)
	GetByProviderAccountID(ctx context.Context, providerAccountID string) (*models.Account, error)
	ListByUser(ctx context.Context, userID string) ([]*models.Account, error)
	ListAll(ctx context.Context) ([]*models.Account, error)
	Link(ctx context.Context, account *models.Account) (*models.Account, error)
}
