package interfaces

import (
	"context"

	"github.com/customeros/mailsync/internal/enum"
	"github.com/customeros/mailsync/internal/models"
)

type SyncStateRepository interface {
	GetSyncState(ctx context.Context, accountID string) (*models.AccountSyncState, error)
	GetSyncStates(ctx context.Context) (map[string]*models.AccountSyncState, error)
	SaveCursor(ctx context.Context, accountID, token string) error
	ClearCursor(ctx context.Context, accountID string) error
	SetStatus(ctx context.Context, accountID string, status enum.SyncStatus, reason string) error
	Reset(ctx context.Context, accountID string) error
}
