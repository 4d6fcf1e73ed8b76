package interfaces

import (
	"context"

	"github.com/customeros/mailsync/internal/enum"
	"github.com/customeros/mailsync/internal/models"
)

type ThreadRepository interface {
	ListByTab(ctx context.Context, accountID string, tab enum.ThreadTab, limit, offset int) ([]*models.Thread, error)
	CountByTab(ctx context.Context, accountID string, tab enum.ThreadTab) (int64, error)
	GetMessage(ctx context.Context, accountID, messageID string) (*models.Message, error)
}
