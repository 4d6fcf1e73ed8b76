package accounts

import (
	"context"
	"strings"

	"github.com/opentracing/opentracing-go"

	"github.com/customeros/mailsync/dto"
	mailsync_errors "github.com/customeros/mailsync/errors"
	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/enum"
	"github.com/customeros/mailsync/internal/logger"
	"github.com/customeros/mailsync/internal/models"
	"github.com/customeros/mailsync/internal/tracing"
)

const (
	defaultThreadLimit = 50
	maxThreadLimit     = 200
)

type BodyLoader interface {
	Load(ctx context.Context, message *models.Message) (string, error)
}

type Service struct {
	accounts  interfaces.AccountRepository
	threads   interfaces.ThreadRepository
	states    interfaces.SyncStateRepository
	bodies    BodyLoader
	scheduler interfaces.SyncScheduler
	index     interfaces.IndexManager
	log       logger.Logger
}

func NewService(
	accounts interfaces.AccountRepository,
	threads interfaces.ThreadRepository,
	states interfaces.SyncStateRepository,
	bodies BodyLoader,
	scheduler interfaces.SyncScheduler,
	index interfaces.IndexManager,
	log logger.Logger,
) *Service {
	return &Service{
		accounts:  accounts,
		threads:   threads,
		states:    states,
		bodies:    bodies,
		scheduler: scheduler,
		index:     index,
		log:       log,
	}
}

// Link stores the account and schedules its first sync. Relinking an
// existing account replaces its credential and starts over from an
// uninitialized cursor.
func (s *Service) Link(ctx context.Context, request dto.LinkAccountRequest) (*models.Account, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountService.Link")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	if err := validateLink(request); err != nil {
		return nil, err
	}

	account, err := s.accounts.Link(ctx, &models.Account{
		UserID:            request.UserID,
		Provider:          request.Provider,
		ProviderAccountID: request.ProviderAccountID,
		EmailAddress:      strings.ToLower(strings.TrimSpace(request.EmailAddress)),
		Name:              request.Name,
		Token:             request.Token,
		ProviderSettings:  request.ProviderSettings,
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, mailsync_errors.NewStoreError("link account", err)
	}
	tracing.TagAccount(span, account.ID)

	if err := s.states.Reset(ctx, account.ID); err != nil {
		tracing.TraceErr(span, err)
		return nil, mailsync_errors.NewStoreError("reset sync state", err)
	}
	s.index.Invalidate(account.ID)

	if err := s.scheduler.ScheduleSync(ctx, account.ID, false, "linked"); err != nil {
		// the poll job picks the account up on its next run
		s.log.Warnf("Failed to schedule initial sync for account %s: %v", account.ID, err)
	}

	s.log.Infof("Linked %s account %s for user %s", account.Provider, account.ID, account.UserID)
	return account, nil
}

func validateLink(request dto.LinkAccountRequest) error {
	if request.UserID == "" {
		return mailsync_errors.NewValidationError("userId", "userId is required")
	}
	if request.Token == "" {
		return mailsync_errors.NewValidationError("token", "token is required")
	}
	switch request.Provider {
	case "", enum.ProviderAurinko, enum.ProviderGmail:
	case enum.ProviderIMAP:
		if _, ok := request.ProviderSettings["host"]; !ok {
			return mailsync_errors.NewValidationError("providerSettings", "imap accounts need a host")
		}
	default:
		return mailsync_errors.ErrUnsupportedProvider
	}
	return nil
}

func (s *Service) List(ctx context.Context, userID string) ([]*models.Account, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountService.List")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	accounts, err := s.accounts.ListByUser(ctx, userID)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return accounts, nil
}

// Owned returns the account when it belongs to the user.
func (s *Service) Owned(ctx context.Context, userID, accountID string) (*models.Account, error) {
	if userID == "" {
		return nil, mailsync_errors.ErrUserIDNotSet
	}
	account, err := s.accounts.GetByIDForUser(ctx, userID, accountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, mailsync_errors.ErrUnauthorizedAccount
	}
	return account, nil
}

func (s *Service) Threads(ctx context.Context, userID, accountID string, tab enum.ThreadTab, limit, offset int) (*dto.ThreadList, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountService.Threads")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, accountID)

	if _, err := s.Owned(ctx, userID, accountID); err != nil {
		return nil, err
	}

	limit, offset = clampPage(limit, offset)
	threads, err := s.threads.ListByTab(ctx, accountID, tab, limit, offset)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	total, err := s.threads.CountByTab(ctx, accountID, tab)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	list := &dto.ThreadList{Threads: make([]dto.ThreadSummary, 0, len(threads)), Total: total}
	for _, t := range threads {
		list.Threads = append(list.Threads, dto.ThreadSummary{
			ID:            t.ID,
			Subject:       t.Subject,
			LastMessageAt: t.LastMessageAt,
			Inbox:         t.InboxStatus,
			Sent:          t.SentStatus,
			Draft:         t.DraftStatus,
		})
	}
	return list, nil
}

func (s *Service) CountThreads(ctx context.Context, userID, accountID string, tab enum.ThreadTab) (int64, error) {
	if _, err := s.Owned(ctx, userID, accountID); err != nil {
		return 0, err
	}
	return s.threads.CountByTab(ctx, accountID, tab)
}

// Message returns one message with its body, loading offloaded HTML from
// object storage. A nil view means the message does not exist.
func (s *Service) Message(ctx context.Context, userID, accountID, messageID string) (*dto.MessageView, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountService.Message")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, accountID)
	tracing.TagEntity(span, messageID)

	if _, err := s.Owned(ctx, userID, accountID); err != nil {
		return nil, err
	}

	message, err := s.threads.GetMessage(ctx, accountID, messageID)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	if message == nil {
		return nil, nil
	}

	html, err := s.bodies.Load(ctx, message)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	return &dto.MessageView{
		ID:       message.ID,
		ThreadID: message.ThreadID,
		Subject:  message.Subject,
		From:     message.FromAddress,
		To:       message.ToAddresses,
		Cc:       message.CcAddresses,
		BodyText: message.BodyText,
		BodyHTML: html,
		Snippet:  message.BodySnippet,
		SentAt:   message.SentAt,
	}, nil
}

// Statuses summarizes the sync state of every account.
func (s *Service) Statuses(ctx context.Context) ([]dto.AccountStatus, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountService.Statuses")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	accounts, err := s.accounts.ListAll(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	states, err := s.states.GetSyncStates(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	statuses := make([]dto.AccountStatus, 0, len(accounts))
	for _, a := range accounts {
		state := states[a.ID]
		status := dto.AccountStatus{
			AccountID:    a.ID,
			UserID:       a.UserID,
			Provider:     string(a.Provider),
			EmailAddress: a.EmailAddress,
			Mode:         state.Mode(),
			Status:       enum.SyncStatusActive,
		}
		if state != nil {
			status.Status = state.Status
			status.LastError = state.LastError
			status.ConsecutiveFailures = state.ConsecutiveFailures
			status.LastSyncedAt = state.LastSyncedAt
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultThreadLimit
	}
	if limit > maxThreadLimit {
		limit = maxThreadLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
