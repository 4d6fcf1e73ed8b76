package interfaces

import (
	"context"

	"github.com/customeros/mailsync/internal/models"
)

type UserRepository interface {
	Upsert(ctx context.Context, user *models.User) error
	Delete(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (*models.User, error)
}

type ChatbotInteractionRepository interface {
	GetCount(ctx context.Context, userID, day string) (int, error)
	// Reserve takes one credit if fewer than limit were used that day. It
	// returns the new count and whether a credit was taken.
	Reserve(ctx context.Context, userID, day string, limit int) (int, bool, error)
	// Release gives back a credit taken by Reserve.
	Release(ctx context.Context, userID, day string) error
}
