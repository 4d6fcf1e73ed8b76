package cron

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	cronv3 "github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"k8s.io/client-go/kubernetes"

	"github.com/customeros/mailsync/config"
	"github.com/customeros/mailsync/dto"
	mailsync_errors "github.com/customeros/mailsync/errors"
	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/enum"
	"github.com/customeros/mailsync/internal/logger"
	"github.com/customeros/mailsync/internal/models"
)

type mockKubernetesInterface struct {
	kubernetes.Interface
	mock.Mock
}

func getLogger() logger.Logger {
	appLogger := logger.NewAppLogger(&logger.Config{
		DevMode: true,
	})
	appLogger.InitLogger()
	return appLogger
}

type fakeAccounts struct {
	interfaces.AccountRepository
	accounts []*models.Account
}

func (f *fakeAccounts) ListAll(ctx context.Context) ([]*models.Account, error) {
	return f.accounts, nil
}

type fakeStates struct {
	interfaces.SyncStateRepository
	states map[string]*models.AccountSyncState
}

func (f *fakeStates) GetSyncStates(ctx context.Context) (map[string]*models.AccountSyncState, error) {
	return f.states, nil
}

type countingEngine struct {
	mu      sync.Mutex
	synced  []string
	errs    map[string]error
	running int32
	peak    int32
}

func (e *countingEngine) Sync(ctx context.Context, accountID string) (*dto.SyncResult, error) {
	n := atomic.AddInt32(&e.running, 1)
	defer atomic.AddInt32(&e.running, -1)
	for {
		peak := atomic.LoadInt32(&e.peak)
		if n <= peak || atomic.CompareAndSwapInt32(&e.peak, peak, n) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.synced = append(e.synced, accountID)
	return &dto.SyncResult{AccountID: accountID}, e.errs[accountID]
}

func (e *countingEngine) Resync(ctx context.Context, accountID string) (*dto.SyncResult, error) {
	return e.Sync(ctx, accountID)
}

func testConfig(concurrency int) *config.Config {
	return &config.Config{
		AppConfig:  &config.AppConfig{},
		Logger:     &logger.Config{LogLevel: "info"},
		SyncConfig: &config.SyncConfig{PollConcurrency: concurrency},
	}
}

func TestNewCronManager(t *testing.T) {
	cfg := testConfig(2)
	log := getLogger()
	k8s := &mockKubernetesInterface{}

	cm := NewCronManager(cfg, log, k8s, nil, nil, nil)

	assert.NotNil(t, cm)
	assert.Equal(t, cfg, cm.cfg)
	assert.Equal(t, log, cm.log)
	assert.Equal(t, k8s, cm.k8s)
	assert.NotNil(t, cm.jobIDs)
}

func TestCronManager_RegisterJobs(t *testing.T) {
	os.Setenv("CRON_SCHEDULE_POLL_SYNC", "0 */10 * * * *")
	defer os.Unsetenv("CRON_SCHEDULE_POLL_SYNC")

	cm := NewCronManager(testConfig(2), getLogger(), &mockKubernetesInterface{}, nil, nil, nil)
	c := cronv3.New(cronv3.WithSeconds())
	cm.registerJobs(c)

	assert.Contains(t, cm.jobIDs, "heartbeat")
	assert.Contains(t, cm.jobIDs, "poll_sync")
	assert.Len(t, c.Entries(), 2)
}

func TestCronManager_Stop(t *testing.T) {
	cm := NewCronManager(testConfig(2), getLogger(), &mockKubernetesInterface{}, nil, nil, nil)

	mockCron := cronv3.New()
	mockCron.Start()
	cm.cron = mockCron

	cm.Stop()
	cm.Stop()

	select {
	case <-cm.stopCh:
	default:
		t.Error("Stop channel was not closed")
	}
}

func TestPollSync(t *testing.T) {
	accounts := &fakeAccounts{}
	for _, id := range []string{"a1", "a2", "a3", "a4", "a5", "a6"} {
		accounts.accounts = append(accounts.accounts, &models.Account{ID: id})
	}
	states := &fakeStates{states: map[string]*models.AccountSyncState{
		"a2": {AccountID: "a2", Status: enum.SyncStatusReauthRequired},
		"a3": {AccountID: "a3", Status: enum.SyncStatusDegraded},
	}}
	engine := &countingEngine{errs: map[string]error{
		"a4": errors.New("provider down"),
		"a5": mailsync_errors.NewAuthError(errors.New("revoked")),
	}}

	cm := NewCronManager(testConfig(2), getLogger(), nil, accounts, states, engine)
	summary, err := cm.PollSync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, PollSummary{Synced: 3, Failed: 1, Skipped: 2}, summary)
	assert.ElementsMatch(t, []string{"a1", "a3", "a4", "a5", "a6"}, engine.synced)
	assert.LessOrEqual(t, atomic.LoadInt32(&engine.peak), int32(2))
}

func TestPollSync_CancelledContext(t *testing.T) {
	accounts := &fakeAccounts{accounts: []*models.Account{{ID: "a1"}, {ID: "a2"}, {ID: "a3"}}}
	engine := &countingEngine{}
	cm := NewCronManager(testConfig(1), getLogger(), nil, accounts, &fakeStates{}, engine)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := cm.PollSync(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
