package interfaces

import (
	"context"

	"github.com/customeros/mailsync/dto"
)

type SyncEngine interface {
	Sync(ctx context.Context, accountID string) (*dto.SyncResult, error)
	Resync(ctx context.Context, accountID string) (*dto.SyncResult, error)
}

// SyncScheduler runs a sync for an account at some later point.
type SyncScheduler interface {
	ScheduleSync(ctx context.Context, accountID string, fullResync bool, reason string) error
}
