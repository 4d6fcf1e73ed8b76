package sync

import (
	"context"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/mailsync/config"
	"github.com/customeros/mailsync/dto"
	mailsync_errors "github.com/customeros/mailsync/errors"
	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/enum"
	"github.com/customeros/mailsync/internal/logger"
	"github.com/customeros/mailsync/internal/metrics"
	"github.com/customeros/mailsync/internal/models"
	"github.com/customeros/mailsync/internal/tracing"
)

// ClientResolver picks the provider client for an account.
type ClientResolver interface {
	ClientFor(account *models.Account) (interfaces.RemoteMailboxClient, error)
}

type IndexInvalidator interface {
	Invalidate(accountID string)
}

type BodyOffloader interface {
	Offload(ctx context.Context, message *models.Message) error
}

type Option func(*Engine)

func WithIndex(index IndexInvalidator) Option {
	return func(e *Engine) { e.index = index }
}

func WithNotifier(notifier interfaces.Notifier) Option {
	return func(e *Engine) { e.notifier = notifier }
}

func WithBodyOffloader(bodies BodyOffloader) Option {
	return func(e *Engine) { e.bodies = bodies }
}

// Engine drives the per-account sync state machine. At most one cycle runs
// per account at a time; different accounts proceed in parallel.
type Engine struct {
	accounts interfaces.AccountRepository
	states   interfaces.SyncStateRepository
	store    interfaces.MailStore
	clients  ClientResolver
	index    IndexInvalidator
	notifier interfaces.Notifier
	bodies   BodyOffloader
	cfg      config.SyncConfig
	log      logger.Logger
	sleep    func(ctx context.Context, d time.Duration) error

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func NewEngine(
	accounts interfaces.AccountRepository,
	states interfaces.SyncStateRepository,
	store interfaces.MailStore,
	clients ClientResolver,
	cfg *config.SyncConfig,
	log logger.Logger,
	opts ...Option,
) *Engine {
	e := &Engine{
		accounts: accounts,
		states:   states,
		store:    store,
		clients:  clients,
		cfg:      *cfg,
		log:      log,
		sleep:    sleepContext,
		locks:    make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) lockFor(accountID string) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()

	mu, ok := e.locks[accountID]
	if !ok {
		mu = &sync.Mutex{}
		e.locks[accountID] = mu
	}
	return mu
}

// Sync runs one cycle: an initial sync when the account has no token, a
// delta sync otherwise.
func (e *Engine) Sync(ctx context.Context, accountID string) (*dto.SyncResult, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "SyncEngine.Sync")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, accountID)

	result, err := e.run(ctx, accountID, false)
	if err != nil {
		tracing.TraceErr(span, err)
	}
	return result, err
}

// Resync discards the stored token and rebuilds the account from scratch.
func (e *Engine) Resync(ctx context.Context, accountID string) (*dto.SyncResult, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "SyncEngine.Resync")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, accountID)

	result, err := e.run(ctx, accountID, true)
	if err != nil {
		tracing.TraceErr(span, err)
	}
	return result, err
}

func (e *Engine) run(ctx context.Context, accountID string, force bool) (*dto.SyncResult, error) {
	account, err := e.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, mailsync_errors.NewStoreError("get account", err)
	}
	if account == nil {
		return nil, mailsync_errors.ErrAccountNotFound
	}

	mu := e.lockFor(accountID)
	mu.Lock()
	defer mu.Unlock()

	state, err := e.states.GetSyncState(ctx, accountID)
	if err != nil {
		return nil, mailsync_errors.NewStoreError("get sync state", err)
	}
	if state.NeedsReauth() {
		return nil, mailsync_errors.NewAuthError(errors.New("account is waiting to be relinked"))
	}

	client, err := e.clients.ClientFor(account)
	if err != nil {
		return nil, err
	}

	token := state.Token()
	kind := enum.SyncKindDelta
	if token == "" {
		kind = enum.SyncKindInitial
	}
	if force {
		if token != "" {
			if err := e.states.ClearCursor(ctx, accountID); err != nil {
				return nil, mailsync_errors.NewStoreError("clear cursor", err)
			}
		}
		token = ""
		kind = enum.SyncKindFullResync
	}

	started := time.Now()
	result, err := e.cycleWithRetry(ctx, client, account, token, kind)
	if err != nil {
		metrics.ObserveSync(kind.String(), outcomeOf(err), time.Since(started))
		return nil, err
	}
	result.Duration = time.Since(started)

	metrics.ObserveSync(result.Kind.String(), metrics.OutcomeSuccess, result.Duration)
	metrics.AddMessages(result.MessagesUpserted, result.MessagesDeleted)
	if e.index != nil {
		e.index.Invalidate(accountID)
	}
	e.notify(ctx, account, dto.AccountSynced{
		AccountID:        account.ID,
		UserID:           account.UserID,
		Kind:             result.Kind,
		DeltaToken:       result.DeltaToken,
		MessagesUpserted: result.MessagesUpserted,
		MessagesDeleted:  result.MessagesDeleted,
	})

	e.log.Infof("Synced account %s (%s): %d upserted, %d deleted in %v",
		accountID, result.Kind, result.MessagesUpserted, result.MessagesDeleted, result.Duration)
	return result, nil
}

// cycleWithRetry runs cycles until one commits. The account lock is held by
// the caller for the whole loop, backoff waits included.
func (e *Engine) cycleWithRetry(ctx context.Context, client interfaces.RemoteMailboxClient, account *models.Account, token string, kind enum.SyncKind) (*dto.SyncResult, error) {
	attempt := 0
	for {
		result, err := e.cycle(ctx, client, account, token, kind)
		if err == nil {
			return result, nil
		}

		switch {
		case mailsync_errors.IsCursorExpired(err) && token != "":
			e.log.Warnf("Continuation token expired for account %s, running full resync", account.ID)
			if clearErr := e.states.ClearCursor(ctx, account.ID); clearErr != nil {
				return nil, mailsync_errors.NewStoreError("clear cursor", clearErr)
			}
			token = ""
			kind = enum.SyncKindFullResync

		case mailsync_errors.IsAuth(err):
			e.markUnhealthy(ctx, account, enum.SyncStatusReauthRequired, err)
			return nil, err

		case mailsync_errors.IsTransient(err):
			attempt++
			if attempt > e.cfg.MaxRetries {
				e.markUnhealthy(ctx, account, enum.SyncStatusDegraded, err)
				return nil, &mailsync_errors.DegradedSyncError{AccountID: account.ID, Attempts: attempt, Err: err}
			}
			delay := backoffDelay(attempt, e.cfg.BackoffInitial, e.cfg.BackoffMax, mailsync_errors.RetryAfter(err))
			e.log.Warnf("Transient sync error for account %s (attempt %d/%d), retrying in %v: %v",
				account.ID, attempt, e.cfg.MaxRetries, delay, err)
			metrics.IncSyncRetry()
			if sleepErr := e.sleep(ctx, delay); sleepErr != nil {
				return nil, sleepErr
			}

		case mailsync_errors.IsStore(err):
			// the same batch comes back next cycle, so a store rejection repeats
			e.markUnhealthy(ctx, account, enum.SyncStatusDegraded, err)
			return nil, err

		default:
			return nil, err
		}
	}
}

// cycle fetches one logical batch and commits it. The change set is written
// before the token, so a failure in between leaves the old token in place
// and the next cycle re-applies the same batch.
func (e *Engine) cycle(ctx context.Context, client interfaces.RemoteMailboxClient, account *models.Account, token string, kind enum.SyncKind) (*dto.SyncResult, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "SyncEngine.cycle")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, account.ID)
	span.SetTag("kind", kind.String())

	batch, err := e.fetch(ctx, client, account, token)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	if batch.NextToken == "" {
		err := mailsync_errors.NewTransientError(errors.New("provider returned no continuation token"), 0)
		tracing.TraceErr(span, err)
		return nil, err
	}

	normalized := normalizeBatch(account.ID, batch.Messages)
	e.offloadBodies(ctx, normalized.Upserts)

	var cs *interfaces.ChangeSet
	if token == "" {
		cs = buildFullChangeSet(account.ID, normalized)
	} else {
		cs, err = buildDeltaChangeSet(ctx, e.store, account.ID, normalized)
		if err != nil {
			err = mailsync_errors.NewStoreError("load current state", err)
			tracing.TraceErr(span, err)
			return nil, err
		}
	}

	if !cs.IsEmpty() {
		if err := e.store.ApplyChangeSet(ctx, cs); err != nil {
			err = mailsync_errors.NewStoreError("apply change set", err)
			tracing.TraceErr(span, err)
			return nil, err
		}
	}

	if err := e.states.SaveCursor(ctx, account.ID, batch.NextToken); err != nil {
		err = mailsync_errors.NewStoreError("save cursor", err)
		tracing.TraceErr(span, err)
		return nil, err
	}

	return &dto.SyncResult{
		AccountID:        account.ID,
		Kind:             kind,
		DeltaToken:       batch.NextToken,
		MessagesUpserted: len(cs.Messages),
		MessagesDeleted:  len(cs.DeletedMessageIDs),
		ThreadsUpserted:  len(cs.Threads),
		ThreadsDeleted:   len(cs.DeletedThreadIDs),
	}, nil
}

func (e *Engine) fetch(ctx context.Context, client interfaces.RemoteMailboxClient, account *models.Account, token string) (*dto.RemoteBatch, error) {
	providerCtx, cancel := context.WithTimeout(ctx, e.cfg.ProviderTimeout)
	defer cancel()

	var (
		batch *dto.RemoteBatch
		err   error
	)
	if token == "" {
		batch, err = client.ListInitial(providerCtx, account)
	} else {
		batch, err = client.ListDelta(providerCtx, account, token)
	}
	if err != nil {
		if providerCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil && !isClassified(err) {
			return nil, mailsync_errors.NewTransientError(errors.Wrap(err, "provider call timed out"), 0)
		}
		return nil, err
	}
	if batch == nil {
		return nil, mailsync_errors.NewTransientError(errors.New("provider returned an empty response"), 0)
	}
	return batch, nil
}

func (e *Engine) offloadBodies(ctx context.Context, messages []*models.Message) {
	if e.bodies == nil {
		return
	}
	for _, m := range messages {
		if err := e.bodies.Offload(ctx, m); err != nil {
			e.log.Warnf("Keeping body of message %s inline: %v", m.ID, err)
		}
	}
}

func (e *Engine) markUnhealthy(ctx context.Context, account *models.Account, status enum.SyncStatus, cause error) {
	reason := cause.Error()
	if err := e.states.SetStatus(ctx, account.ID, status, reason); err != nil {
		e.log.Errorf("Failed to set status %s for account %s: %v", status, account.ID, err)
	}
	e.log.Warnf("Account %s is now %s: %s", account.ID, status, reason)
	e.notify(ctx, account, dto.SyncAlert{
		AccountID: account.ID,
		UserID:    account.UserID,
		Status:    status,
		Reason:    reason,
	})
}

func (e *Engine) notify(ctx context.Context, account *models.Account, message interface{}) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.PublishNotification(ctx, account.ID, enum.ACCOUNT, message); err != nil {
		e.log.Errorf("Failed to publish %T for account %s: %v", message, account.ID, err)
	}
}

func isClassified(err error) bool {
	return mailsync_errors.IsAuth(err) || mailsync_errors.IsCursorExpired(err) || mailsync_errors.IsTransient(err)
}

func outcomeOf(err error) string {
	switch {
	case mailsync_errors.IsAuth(err):
		return metrics.OutcomeAuth
	case mailsync_errors.IsDegraded(err):
		return metrics.OutcomeDegraded
	case mailsync_errors.IsStore(err):
		return metrics.OutcomeStore
	}
	return metrics.OutcomeError
}
