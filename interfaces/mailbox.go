package interfaces

import (
	"context"

	"github.com/customeros/mailsync/dto"
	"github.com/customeros/mailsync/internal/models"
)

// RemoteMailboxClient pulls message sets from a provider. Both calls return
// only after every page of the logical batch was retrieved.
type RemoteMailboxClient interface {
	ListInitial(ctx context.Context, account *models.Account) (*dto.RemoteBatch, error)
	ListDelta(ctx context.Context, account *models.Account, token string) (*dto.RemoteBatch, error)
}
