package sync

import (
	"context"
	"sync"

	"github.com/opentracing/opentracing-go"

	"github.com/customeros/mailsync/dto"
	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/logger"
	"github.com/customeros/mailsync/internal/tracing"
)

// QueueScheduler hands sync requests to the broker; a listener runs them.
type QueueScheduler struct {
	publisher interfaces.EventPublisher
}

func NewQueueScheduler(publisher interfaces.EventPublisher) *QueueScheduler {
	return &QueueScheduler{publisher: publisher}
}

func (s *QueueScheduler) ScheduleSync(ctx context.Context, accountID string, fullResync bool, reason string) error {
	return s.publisher.PublishSyncRequested(ctx, dto.SyncRequested{
		AccountID:  accountID,
		FullResync: fullResync,
		Reason:     reason,
	})
}

// LocalScheduler runs syncs on background goroutines when no broker is
// configured. Requests for an account that is already waiting to run are
// merged into the pending one.
type LocalScheduler struct {
	engine interfaces.SyncEngine
	log    logger.Logger
	slots  chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	pending map[string]bool
}

func NewLocalScheduler(engine interfaces.SyncEngine, concurrency int, log logger.Logger) *LocalScheduler {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &LocalScheduler{
		engine:  engine,
		log:     log,
		slots:   make(chan struct{}, concurrency),
		pending: make(map[string]bool),
	}
}

func (s *LocalScheduler) ScheduleSync(ctx context.Context, accountID string, fullResync bool, reason string) error {
	s.mu.Lock()
	if resync, queued := s.pending[accountID]; queued {
		s.pending[accountID] = resync || fullResync
		s.mu.Unlock()
		return nil
	}
	s.pending[accountID] = fullResync
	s.mu.Unlock()

	// the request outlives the caller, e.g. a webhook handler
	runCtx := context.WithoutCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer tracing.RecoverAndLogToJaeger(s.log)

		s.slots <- struct{}{}
		defer func() { <-s.slots }()

		s.mu.Lock()
		resync := s.pending[accountID]
		delete(s.pending, accountID)
		s.mu.Unlock()

		s.run(runCtx, accountID, resync, reason)
	}()
	return nil
}

func (s *LocalScheduler) run(ctx context.Context, accountID string, fullResync bool, reason string) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "LocalScheduler.run")
	defer span.Finish()
	tracing.TagAccount(span, accountID)
	span.LogKV("fullResync", fullResync, "reason", reason)

	var err error
	if fullResync {
		_, err = s.engine.Resync(ctx, accountID)
	} else {
		_, err = s.engine.Sync(ctx, accountID)
	}
	if err != nil {
		tracing.TraceErr(span, err)
		s.log.Warnf("Scheduled sync for account %s (%s) failed: %v", accountID, reason, err)
	}
}

// Wait blocks until every scheduled sync has finished.
func (s *LocalScheduler) Wait() {
	s.wg.Wait()
}
