package handlers

import (
	"context"

	"github.com/customeros/mailsync/config"
	"github.com/customeros/mailsync/dto"
	"github.com/customeros/mailsync/internal/enum"
	"github.com/customeros/mailsync/internal/logger"
	"github.com/customeros/mailsync/internal/models"
	"github.com/customeros/mailsync/internal/repository"
	"github.com/customeros/mailsync/services"
)

type AccountService interface {
	Link(ctx context.Context, request dto.LinkAccountRequest) (*models.Account, error)
	List(ctx context.Context, userID string) ([]*models.Account, error)
	Owned(ctx context.Context, userID, accountID string) (*models.Account, error)
	Threads(ctx context.Context, userID, accountID string, tab enum.ThreadTab, limit, offset int) (*dto.ThreadList, error)
	CountThreads(ctx context.Context, userID, accountID string, tab enum.ThreadTab) (int64, error)
	Message(ctx context.Context, userID, accountID, messageID string) (*dto.MessageView, error)
	Statuses(ctx context.Context) ([]dto.AccountStatus, error)
}

type ChatService interface {
	Chat(ctx context.Context, userID string, request dto.ChatRequest) (*dto.ChatResponse, error)
	Compose(ctx context.Context, userID string, request dto.ComposeRequest) (string, error)
	Autocomplete(ctx context.Context, userID string, request dto.AutocompleteRequest) (string, error)
	RemainingCredits(ctx context.Context, userID string) (int, error)
}

type Searcher interface {
	Search(ctx context.Context, accountID, term string) ([]dto.SearchHit, error)
}

type APIHandlers struct {
	Sync     *SyncHandler
	Search   *SearchHandler
	Accounts *AccountsHandler
	Chat     *ChatHandler
	Webhooks *WebhookHandler
}

func InitHandlers(cfg *config.Config, s *services.Services, repos *repository.Repositories, log logger.Logger) *APIHandlers {
	return &APIHandlers{
		Sync:     NewSyncHandler(repos.AccountRepository, s.SyncEngine, log),
		Search:   NewSearchHandler(s.AccountService, s.IndexManager),
		Accounts: NewAccountsHandler(s.AccountService),
		Chat:     NewChatHandler(s.ChatService),
		Webhooks: NewWebhookHandler(cfg.WebhookConfig, repos.AccountRepository, repos.UserRepository, s.SyncScheduler, log),
	}
}
