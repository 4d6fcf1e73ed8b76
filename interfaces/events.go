package interfaces

import (
	"context"

	"github.com/customeros/mailsync/dto"
	"github.com/customeros/mailsync/internal/enum"
)

// Notifier publishes fan-out notifications about an entity.
type Notifier interface {
	PublishNotification(ctx context.Context, entityId string, entityType enum.EntityType, message interface{}) error
}

type EventPublisher interface {
	Notifier
	PublishSyncRequested(ctx context.Context, request dto.SyncRequested) error
	Close() error
}

type EventListener interface {
	Handle(ctx context.Context, event any) error
	GetEventType() string
	GetQueueName() string
}

type EventSubscriber interface {
	RegisterListener(listener EventListener)
	ListenQueue(queueName string) error
	Close() error
}
