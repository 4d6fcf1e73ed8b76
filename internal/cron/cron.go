package cron

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/caarlos0/env/v6"
	cronv3 "github.com/robfig/cron/v3"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/leaderelection"
	"k8s.io/client-go/tools/leaderelection/resourcelock"

	"github.com/customeros/mailsync/config"
	mailsync_errors "github.com/customeros/mailsync/errors"
	"github.com/customeros/mailsync/interfaces"
	cron_config "github.com/customeros/mailsync/internal/cron/config"
	"github.com/customeros/mailsync/internal/logger"
	"github.com/customeros/mailsync/internal/tracing"
)

// CONSTANTS
const (
	// GroupSync is the group for mailbox sync jobs
	GroupSync = "sync"

	// LeaseDuration is how long a lease lasts before needing renewal
	LeaseDuration = 15 * time.Second
	// RenewDeadline is how long a leader has to renew its lease
	RenewDeadline = 10 * time.Second
	// RetryPeriod is how long to wait between leadership attempts
	RetryPeriod = 2 * time.Second
)

// LOCK MANAGEMENT
var jobLocks = struct {
	sync.Mutex
	locks map[string]*sync.Mutex
}{
	locks: map[string]*sync.Mutex{
		GroupSync: new(sync.Mutex),
	},
}

type CronManager struct {
	cfg      *config.Config
	log      logger.Logger
	cron     *cronv3.Cron
	k8s      kubernetes.Interface
	stopCh   chan struct{}
	stopOnce sync.Once
	jobIDs   map[string]cronv3.EntryID
	accounts interfaces.AccountRepository
	states   interfaces.SyncStateRepository
	engine   interfaces.SyncEngine
}

func NewCronManager(
	cfg *config.Config,
	log logger.Logger,
	k8s kubernetes.Interface,
	accounts interfaces.AccountRepository,
	states interfaces.SyncStateRepository,
	engine interfaces.SyncEngine,
) *CronManager {
	return &CronManager{
		cfg:      cfg,
		log:      log,
		k8s:      k8s,
		stopCh:   make(chan struct{}),
		jobIDs:   make(map[string]cronv3.EntryID),
		accounts: accounts,
		states:   states,
		engine:   engine,
	}
}

// Start initializes and starts the cron manager with leader election
// If k8s is nil, it will start in local mode without leader election
func (cm *CronManager) Start(podName, namespace string) error {
	if cm.k8s == nil || os.Getenv("LOCAL_DEV") == "true" {
		cm.log.Info("Starting cron manager in local mode")
		cm.StartCron()
		return nil
	}

	lock := &resourcelock.LeaseLock{
		LeaseMeta: metav1.ObjectMeta{
			Name:      "mailsync-cron-leader",
			Namespace: namespace,
		},
		Client: cm.k8s.CoordinationV1(),
		LockConfig: resourcelock.ResourceLockConfig{
			Identity: podName,
		},
	}

	errCh := make(chan error, 1)

	go func() {
		le, err := leaderelection.NewLeaderElector(leaderelection.LeaderElectionConfig{
			Lock:            lock,
			ReleaseOnCancel: true,
			LeaseDuration:   LeaseDuration,
			RenewDeadline:   RenewDeadline,
			RetryPeriod:     RetryPeriod,
			Callbacks: leaderelection.LeaderCallbacks{
				OnStartedLeading: func(ctx context.Context) {
					cm.StartCron()
				},
				OnStoppedLeading: func() {
					cm.log.Info("Leader lost - stopping crons")
					cm.Stop()
				},
				OnNewLeader: func(identity string) {
					cm.log.Infof("New leader elected: %s", identity)
				},
			},
		})
		if err != nil {
			errCh <- err
			return
		}

		le.Run(context.Background())
	}()

	// Wait briefly to see if leader election fails immediately
	select {
	case err := <-errCh:
		cm.log.Warnf("Leader election failed, falling back to local mode: %v", err)
		cm.StartCron()
	case <-time.After(5 * time.Second):
	}

	return nil
}

// Stop gracefully stops the cron manager
func (cm *CronManager) Stop() {
	if cm.cron != nil {
		cm.log.Info("Stopping cron manager")
		ctx := cm.cron.Stop()
		<-ctx.Done()
	}
	cm.stopOnce.Do(func() { close(cm.stopCh) })
}

// registerJobs adds all cron jobs to the scheduler
func (cm *CronManager) registerJobs(c *cronv3.Cron) {
	var cronConfig cron_config.Config
	if err := env.Parse(&cronConfig); err != nil {
		cm.log.Fatalf("Failed to parse cron config from environment: %v", err)
	}

	if cronConfig.CronScheduleHeartbeat != "" {
		podName := os.Getenv("POD_NAME")
		if podName == "" {
			podName = "local"
		}
		id, err := c.AddFunc(cronConfig.CronScheduleHeartbeat, func() {
			defer tracing.RecoverAndLogToJaeger(cm.log)
			cm.log.Infof("Cron heartbeat from pod: %s", podName)
		})
		if err != nil {
			cm.log.Fatalf("Could not add heartbeat cron job: %v", err)
		}
		cm.jobIDs["heartbeat"] = id
		cm.log.Infof("Registered heartbeat job with schedule: %s", cronConfig.CronScheduleHeartbeat)
	}

	if cronConfig.CronSchedulePollSync != "" {
		id, err := c.AddFunc(cronConfig.CronSchedulePollSync, func() {
			defer tracing.RecoverAndLogToJaeger(cm.log)
			jobLocks.locks[GroupSync].Lock()
			defer jobLocks.locks[GroupSync].Unlock()
			cm.pollSync()
		})
		if err != nil {
			cm.log.Fatalf("Could not add poll sync cron job: %v", err)
		}
		cm.jobIDs["poll_sync"] = id
		cm.log.Infof("Registered poll sync job with schedule: %s", cronConfig.CronSchedulePollSync)
	}
}

// StartCron initializes and starts the cron scheduler
func (cm *CronManager) StartCron() {
	cm.log.Info("Starting cron manager")
	cronOptions := []cronv3.Option{
		cronv3.WithSeconds(),
		cronv3.WithChain(
			cronv3.SkipIfStillRunning(cronv3.DefaultLogger),
			cronv3.Recover(cronv3.DefaultLogger),
		),
	}
	c := cronv3.New(cronOptions...)
	cm.registerJobs(c)
	c.Start()
	cm.cron = c
}

func (cm *CronManager) pollSync() {
	cm.log.Info("Running poll sync")

	span, ctx := tracing.StartTracerSpan(context.Background(), "CronManager.pollSync")
	defer span.Finish()
	tracing.TagComponentCronJob(span)

	summary, err := cm.PollSync(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		cm.log.Errorf("Poll sync failed: %v", err)
		return
	}
	span.LogKV("synced", summary.Synced, "failed", summary.Failed, "skipped", summary.Skipped)
	cm.log.Infof("Poll sync done: %d synced, %d failed, %d skipped", summary.Synced, summary.Failed, summary.Skipped)
}

type PollSummary struct {
	Synced  int
	Failed  int
	Skipped int
}

// PollSync runs one sync cycle for every account, a bounded number at a
// time. Accounts waiting for a new credential are skipped.
func (cm *CronManager) PollSync(ctx context.Context) (PollSummary, error) {
	accounts, err := cm.accounts.ListAll(ctx)
	if err != nil {
		return PollSummary{}, err
	}
	states, err := cm.states.GetSyncStates(ctx)
	if err != nil {
		return PollSummary{}, err
	}

	workers := 1
	if cm.cfg != nil && cm.cfg.SyncConfig != nil && cm.cfg.SyncConfig.PollConcurrency > 0 {
		workers = cm.cfg.SyncConfig.PollConcurrency
	}

	var (
		summary PollSummary
		mu      sync.Mutex
		wg      sync.WaitGroup
		slots   = make(chan struct{}, workers)
	)
	for _, account := range accounts {
		if ctx.Err() != nil {
			wg.Wait()
			return summary, ctx.Err()
		}
		if states[account.ID].NeedsReauth() {
			summary.Skipped++
			continue
		}

		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return summary, ctx.Err()
		}

		wg.Add(1)
		go func(accountID string) {
			defer wg.Done()
			defer func() { <-slots }()
			defer tracing.RecoverAndLogToJaeger(cm.log)

			_, err := cm.engine.Sync(ctx, accountID)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				summary.Synced++
			case mailsync_errors.IsAuth(err):
				summary.Skipped++
				cm.log.Warnf("Account %s needs to be relinked", accountID)
			default:
				summary.Failed++
				cm.log.Errorf("Poll sync of account %s failed: %v", accountID, err)
			}
		}(account.ID)
	}
	wg.Wait()
	return summary, nil
}
