package interfaces

import (
	"context"

	"github.com/customeros/mailsync/dto"
)

type AIService interface {
	Complete(ctx context.Context, request dto.CompletionRequest) (string, error)
}
