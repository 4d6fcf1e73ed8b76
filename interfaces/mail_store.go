package interfaces

import (
	"context"

	"github.com/customeros/mailsync/internal/models"
)

// ChangeSet is applied atomically. With Reset set, every thread and message
// of the account not present in the set is removed first.
type ChangeSet struct {
	AccountID         string
	Reset             bool
	Threads           []*models.Thread
	Messages          []*models.Message
	DeletedMessageIDs []string
	DeletedThreadIDs  []string
}

func (c *ChangeSet) IsEmpty() bool {
	return c == nil || (!c.Reset && len(c.Threads) == 0 && len(c.Messages) == 0 &&
		len(c.DeletedMessageIDs) == 0 && len(c.DeletedThreadIDs) == 0)
}

type MailStore interface {
	GetThreads(ctx context.Context, accountID string, threadIDs []string) ([]*models.Thread, error)
	GetThreadMessages(ctx context.Context, accountID string, threadIDs []string) ([]*models.Message, error)
	GetMessagesByIDs(ctx context.Context, accountID string, messageIDs []string) ([]*models.Message, error)
	GetRecentMessages(ctx context.Context, accountID string, limit int) ([]*models.Message, error)
	ApplyChangeSet(ctx context.Context, cs *ChangeSet) error
}
