package interfaces

import (
	"context"

	"github.com/customeros/mailsync/dto"
)

type IndexManager interface {
	EnsureBuilt(ctx context.Context, accountID string) error
	Search(ctx context.Context, accountID, term string) ([]dto.SearchHit, error)
	Invalidate(accountID string)
}
