package listeners

import (
	"context"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/mailsync/dto"
	mailsync_errors "github.com/customeros/mailsync/errors"
	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/logger"
	"github.com/customeros/mailsync/internal/tracing"
	"github.com/customeros/mailsync/services/events"
)

// SyncRequestedListener runs one sync cycle per queued request.
type SyncRequestedListener struct {
	events.BaseEventListener
	engine interfaces.SyncEngine
}

func NewSyncRequestedListener(logger logger.Logger, engine interfaces.SyncEngine) interfaces.EventListener {
	return &SyncRequestedListener{
		BaseEventListener: events.NewBaseEventListener(
			logger,
			events.GetEventType[dto.SyncRequested](),
			events.QueueSyncRequested,
		),
		engine: engine,
	}
}

// Handle returns an error only for failures worth a dead-letter entry.
// Outcomes the engine already recorded on the account are acknowledged.
func (l *SyncRequestedListener) Handle(ctx context.Context, baseEvent any) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "SyncRequestedListener.Handle")
	defer span.Finish()
	tracing.SetDefaultListenerSpanTags(ctx, span)
	tracing.LogObjectAsJson(span, "event", baseEvent)

	validatedEvent, err := l.ValidateBaseEvent(ctx, baseEvent)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	request, err := events.DecodeEventData[dto.SyncRequested](ctx, validatedEvent)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if request.AccountID == "" {
		request.AccountID = validatedEvent.Event.EntityId
	}
	tracing.TagAccount(span, request.AccountID)
	span.LogKV("fullResync", request.FullResync, "reason", request.Reason)

	var result *dto.SyncResult
	if request.FullResync {
		result, err = l.engine.Resync(ctx, request.AccountID)
	} else {
		result, err = l.engine.Sync(ctx, request.AccountID)
	}

	switch {
	case err == nil:
		l.Logger().Infof("Sync for account %s (%s) finished: %d upserted, %d deleted",
			request.AccountID, request.Reason, result.MessagesUpserted, result.MessagesDeleted)
		return nil
	case errors.Is(err, mailsync_errors.ErrAccountNotFound):
		l.Logger().Warnf("Dropping sync request for unknown account %s", request.AccountID)
		return nil
	case mailsync_errors.IsAuth(err), mailsync_errors.IsDegraded(err):
		l.Logger().Warnf("Sync for account %s not completed: %v", request.AccountID, err)
		return nil
	}

	tracing.TraceErr(span, err)
	return err
}
