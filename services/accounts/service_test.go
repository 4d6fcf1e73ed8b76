package accounts

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customeros/mailsync/dto"
	mailsync_errors "github.com/customeros/mailsync/errors"
	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/enum"
	"github.com/customeros/mailsync/internal/logger"
	"github.com/customeros/mailsync/internal/models"
)

func getLogger() logger.Logger {
	appLogger := logger.NewAppLogger(&logger.Config{DevMode: true, LogLevel: "debug"})
	appLogger.InitLogger()
	return appLogger
}

type fakeAccounts struct {
	interfaces.AccountRepository
	accounts map[string]*models.Account
	linkErr  error
}

func (f *fakeAccounts) Link(ctx context.Context, account *models.Account) (*models.Account, error) {
	if f.linkErr != nil {
		return nil, f.linkErr
	}
	for _, existing := range f.accounts {
		if existing.UserID == account.UserID && existing.ProviderAccountID == account.ProviderAccountID {
			existing.Token = account.Token
			return existing, nil
		}
	}
	account.ID = "acct_new"
	f.accounts[account.ID] = account
	return account, nil
}

func (f *fakeAccounts) GetByIDForUser(ctx context.Context, userID, id string) (*models.Account, error) {
	a, ok := f.accounts[id]
	if !ok || a.UserID != userID {
		return nil, nil
	}
	return a, nil
}

func (f *fakeAccounts) ListByUser(ctx context.Context, userID string) ([]*models.Account, error) {
	var out []*models.Account
	for _, a := range f.accounts {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAccounts) ListAll(ctx context.Context) ([]*models.Account, error) {
	var out []*models.Account
	for _, a := range f.accounts {
		out = append(out, a)
	}
	return out, nil
}

type fakeStates struct {
	interfaces.SyncStateRepository
	resets []string
	states map[string]*models.AccountSyncState
}

func (f *fakeStates) Reset(ctx context.Context, accountID string) error {
	f.resets = append(f.resets, accountID)
	return nil
}

func (f *fakeStates) GetSyncStates(ctx context.Context) (map[string]*models.AccountSyncState, error) {
	return f.states, nil
}

type fakeThreads struct {
	threads  []*models.Thread
	messages map[string]*models.Message
	lastTab  enum.ThreadTab
	lastPage [2]int
}

func (f *fakeThreads) ListByTab(ctx context.Context, accountID string, tab enum.ThreadTab, limit, offset int) ([]*models.Thread, error) {
	f.lastTab = tab
	f.lastPage = [2]int{limit, offset}
	return f.threads, nil
}

func (f *fakeThreads) CountByTab(ctx context.Context, accountID string, tab enum.ThreadTab) (int64, error) {
	return int64(len(f.threads)), nil
}

func (f *fakeThreads) GetMessage(ctx context.Context, accountID, messageID string) (*models.Message, error) {
	return f.messages[messageID], nil
}

type fakeBodies struct{}

func (fakeBodies) Load(ctx context.Context, message *models.Message) (string, error) {
	if message.BodyStorageKey != "" {
		return "<p>from bucket</p>", nil
	}
	return message.BodyHTML, nil
}

type scheduled struct {
	accountID string
	full      bool
}

type fakeScheduler struct {
	calls []scheduled
	err   error
}

func (f *fakeScheduler) ScheduleSync(ctx context.Context, accountID string, fullResync bool, reason string) error {
	f.calls = append(f.calls, scheduled{accountID, fullResync})
	return f.err
}

type fakeIndex struct {
	interfaces.IndexManager
	invalidated []string
}

func (f *fakeIndex) Invalidate(accountID string) {
	f.invalidated = append(f.invalidated, accountID)
}

type fixture struct {
	service   *Service
	accounts  *fakeAccounts
	states    *fakeStates
	threads   *fakeThreads
	scheduler *fakeScheduler
	index     *fakeIndex
}

func newFixture() *fixture {
	f := &fixture{
		accounts: &fakeAccounts{accounts: map[string]*models.Account{
			"acct_1": {ID: "acct_1", UserID: "user_1", Provider: enum.ProviderAurinko, ProviderAccountID: "p1", EmailAddress: "me@acme.com"},
		}},
		states:    &fakeStates{states: map[string]*models.AccountSyncState{}},
		threads:   &fakeThreads{messages: map[string]*models.Message{}},
		scheduler: &fakeScheduler{},
		index:     &fakeIndex{},
	}
	f.service = NewService(f.accounts, f.threads, f.states, fakeBodies{}, f.scheduler, f.index, getLogger())
	return f
}

func TestLink_NewAccountSchedulesInitialSync(t *testing.T) {
	f := newFixture()
	account, err := f.service.Link(context.Background(), dto.LinkAccountRequest{
		UserID:            "user_2",
		ProviderAccountID: "p2",
		EmailAddress:      " Me@Other.com ",
		Token:             "tok",
	})
	require.NoError(t, err)

	assert.Equal(t, "acct_new", account.ID)
	assert.Equal(t, "me@other.com", account.EmailAddress)
	assert.Equal(t, []string{"acct_new"}, f.states.resets)
	assert.Equal(t, []string{"acct_new"}, f.index.invalidated)
	assert.Equal(t, []scheduled{{"acct_new", false}}, f.scheduler.calls)
}

func TestLink_RelinkResetsCursor(t *testing.T) {
	f := newFixture()
	account, err := f.service.Link(context.Background(), dto.LinkAccountRequest{
		UserID: "user_1", ProviderAccountID: "p1", Token: "fresh",
	})
	require.NoError(t, err)

	assert.Equal(t, "acct_1", account.ID)
	assert.Equal(t, "fresh", account.Token)
	assert.Equal(t, []string{"acct_1"}, f.states.resets)
}

func TestLink_ScheduleFailureIsNotFatal(t *testing.T) {
	f := newFixture()
	f.scheduler.err = errors.New("broker down")
	_, err := f.service.Link(context.Background(), dto.LinkAccountRequest{UserID: "user_2", Token: "tok"})
	assert.NoError(t, err)
}

func TestLink_Validation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.service.Link(ctx, dto.LinkAccountRequest{Token: "tok"})
	assert.True(t, mailsync_errors.IsValidation(err))

	_, err = f.service.Link(ctx, dto.LinkAccountRequest{UserID: "u"})
	assert.True(t, mailsync_errors.IsValidation(err))

	_, err = f.service.Link(ctx, dto.LinkAccountRequest{UserID: "u", Token: "t", Provider: enum.ProviderIMAP})
	assert.True(t, mailsync_errors.IsValidation(err))

	_, err = f.service.Link(ctx, dto.LinkAccountRequest{UserID: "u", Token: "t", Provider: "outlook"})
	assert.ErrorIs(t, err, mailsync_errors.ErrUnsupportedProvider)

	assert.Empty(t, f.scheduler.calls)
}

func TestLink_StoreError(t *testing.T) {
	f := newFixture()
	f.accounts.linkErr = errors.New("db down")
	_, err := f.service.Link(context.Background(), dto.LinkAccountRequest{UserID: "u", Token: "t"})
	assert.True(t, mailsync_errors.IsStore(err))
}

func TestThreads(t *testing.T) {
	f := newFixture()
	at := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	f.threads.threads = []*models.Thread{{ID: "t1", Subject: "Hello", LastMessageAt: &at, InboxStatus: true, SentStatus: true}}

	list, err := f.service.Threads(context.Background(), "user_1", "acct_1", enum.TabSent, 0, -5)
	require.NoError(t, err)

	assert.Equal(t, int64(1), list.Total)
	assert.Equal(t, []dto.ThreadSummary{{ID: "t1", Subject: "Hello", LastMessageAt: &at, Inbox: true, Sent: true}}, list.Threads)
	assert.Equal(t, enum.TabSent, f.threads.lastTab)
	assert.Equal(t, [2]int{defaultThreadLimit, 0}, f.threads.lastPage)

	_, err = f.service.Threads(context.Background(), "user_2", "acct_1", enum.TabInbox, 10, 0)
	assert.ErrorIs(t, err, mailsync_errors.ErrUnauthorizedAccount)
}

func TestMessage_LoadsOffloadedBody(t *testing.T) {
	f := newFixture()
	f.threads.messages["m1"] = &models.Message{ID: "m1", ThreadID: "t1", Subject: "Hi", BodyStorageKey: "bodies/acct_1/m1"}

	view, err := f.service.Message(context.Background(), "user_1", "acct_1", "m1")
	require.NoError(t, err)
	assert.Equal(t, "<p>from bucket</p>", view.BodyHTML)
	assert.Equal(t, "t1", view.ThreadID)

	missing, err := f.service.Message(context.Background(), "user_1", "acct_1", "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStatuses(t *testing.T) {
	f := newFixture()
	token := "tok"
	f.accounts.accounts["acct_2"] = &models.Account{ID: "acct_2", UserID: "user_2", Provider: enum.ProviderGmail}
	f.states.states["acct_2"] = &models.AccountSyncState{AccountID: "acct_2", DeltaToken: &token, Status: enum.SyncStatusDegraded, LastError: "timeout", ConsecutiveFailures: 3}

	statuses, err := f.service.Statuses(context.Background())
	require.NoError(t, err)
	require.Len(t, statuses, 2)

	byID := map[string]dto.AccountStatus{}
	for _, s := range statuses {
		byID[s.AccountID] = s
	}
	assert.Equal(t, enum.SyncModeUninitialized, byID["acct_1"].Mode)
	assert.Equal(t, enum.SyncStatusActive, byID["acct_1"].Status)
	assert.Equal(t, enum.SyncModeSynced, byID["acct_2"].Mode)
	assert.Equal(t, enum.SyncStatusDegraded, byID["acct_2"].Status)
	assert.Equal(t, 3, byID["acct_2"].ConsecutiveFailures)
}
