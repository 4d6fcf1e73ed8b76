package services

import (
	"github.com/customeros/mailsync/config"
	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/logger"
	"github.com/customeros/mailsync/internal/repository"
	"github.com/customeros/mailsync/services/accounts"
	"github.com/customeros/mailsync/services/ai"
	"github.com/customeros/mailsync/services/chat"
	"github.com/customeros/mailsync/services/events"
	"github.com/customeros/mailsync/services/index"
	"github.com/customeros/mailsync/services/mailbox"
	"github.com/customeros/mailsync/services/storage"
	syncservice "github.com/customeros/mailsync/services/sync"
)

type Services struct {
	EventsService  *events.EventsService
	Mailboxes      *mailbox.Registry
	IndexManager   *index.Manager
	SyncEngine     *syncservice.Engine
	SyncScheduler  interfaces.SyncScheduler
	LocalScheduler *syncservice.LocalScheduler
	AccountService *accounts.Service
	ChatService    *chat.Service
	BodyStore      *storage.BodyStore
}

// InitServices wires the sync pipeline. Without a RabbitMQ url, sync
// requests and notifications stay in-process.
func InitServices(cfg *config.Config, log logger.Logger, repos *repository.Repositories) (*Services, error) {
	var eventsService *events.EventsService
	if cfg.AppConfig.RabbitMQURL != "" {
		var err error
		eventsService, err = events.NewEventsService(cfg.AppConfig.RabbitMQURL, log, events.DefaultPublisherConfig(), events.DefaultSubscriberConfig())
		if err != nil {
			return nil, err
		}
	} else {
		log.Warn("RABBITMQ_URL not set, sync requests run in-process")
	}

	var objectStorage interfaces.StorageService
	if cfg.R2StorageConfig.Enabled() {
		var err error
		objectStorage, err = storage.NewR2StorageService(cfg.R2StorageConfig)
		if err != nil {
			return nil, err
		}
	}
	bodyStore := storage.NewBodyStore(objectStorage, cfg.R2StorageConfig.OffloadThreshold)

	indexManager, err := index.NewManager(repos.MailStore, cfg.IndexConfig, log)
	if err != nil {
		return nil, err
	}

	mailboxes := mailbox.NewRegistry(cfg.ProviderConfig)

	opts := []syncservice.Option{
		syncservice.WithIndex(indexManager),
		syncservice.WithBodyOffloader(bodyStore),
	}
	if eventsService != nil {
		opts = append(opts, syncservice.WithNotifier(eventsService.Publisher))
	}
	engine := syncservice.NewEngine(
		repos.AccountRepository,
		repos.SyncStateRepository,
		repos.MailStore,
		mailboxes,
		cfg.SyncConfig,
		log,
		opts...,
	)

	localScheduler := syncservice.NewLocalScheduler(engine, cfg.SyncConfig.PollConcurrency, log)
	var scheduler interfaces.SyncScheduler = localScheduler
	if eventsService != nil {
		scheduler = syncservice.NewQueueScheduler(eventsService.Publisher)
	}

	return &Services{
		EventsService:  eventsService,
		Mailboxes:      mailboxes,
		IndexManager:   indexManager,
		SyncEngine:     engine,
		SyncScheduler:  scheduler,
		LocalScheduler: localScheduler,
		AccountService: accounts.NewService(
			repos.AccountRepository,
			repos.ThreadRepository,
			repos.SyncStateRepository,
			bodyStore,
			scheduler,
			indexManager,
			log,
		),
		ChatService: chat.NewService(
			repos.AccountRepository,
			indexManager,
			ai.NewAIService(cfg.OpenAIConfig),
			repos.ChatbotInteractionRepository,
			cfg.ChatConfig,
		),
		BodyStore: bodyStore,
	}, nil
}

func (s *Services) Close() error {
	if s.LocalScheduler != nil {
		s.LocalScheduler.Wait()
	}
	if s.EventsService != nil {
		return s.EventsService.Close()
	}
	return nil
}
