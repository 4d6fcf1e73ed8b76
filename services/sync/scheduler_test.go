package sync

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customeros/mailsync/dto"
	"github.com/customeros/mailsync/internal/enum"
)

type gatedEngine struct {
	mu      sync.Mutex
	gate    chan struct{}
	started chan string
	syncs   []string
	resyncs []string
}

func (g *gatedEngine) record(list *[]string, accountID string) {
	g.started <- accountID
	<-g.gate
	g.mu.Lock()
	*list = append(*list, accountID)
	g.mu.Unlock()
}

func (g *gatedEngine) Sync(ctx context.Context, accountID string) (*dto.SyncResult, error) {
	g.record(&g.syncs, accountID)
	return &dto.SyncResult{AccountID: accountID, Kind: enum.SyncKindDelta}, nil
}

func (g *gatedEngine) Resync(ctx context.Context, accountID string) (*dto.SyncResult, error) {
	g.record(&g.resyncs, accountID)
	return &dto.SyncResult{AccountID: accountID, Kind: enum.SyncKindFullResync}, nil
}

type capturingPublisher struct {
	recordingNotifier
	requests []dto.SyncRequested
}

func (p *capturingPublisher) PublishSyncRequested(ctx context.Context, request dto.SyncRequested) error {
	p.requests = append(p.requests, request)
	return nil
}

func (p *capturingPublisher) Close() error { return nil }

func TestLocalScheduler_MergesPendingRequests(t *testing.T) {
	engine := &gatedEngine{gate: make(chan struct{}), started: make(chan string, 10)}
	scheduler := NewLocalScheduler(engine, 1, getLogger())

	// occupy the only slot
	require.NoError(t, scheduler.ScheduleSync(context.Background(), "busy", false, "poll"))
	assert.Equal(t, "busy", <-engine.started)

	require.NoError(t, scheduler.ScheduleSync(context.Background(), "acct", false, "webhook"))
	require.NoError(t, scheduler.ScheduleSync(context.Background(), "acct", true, "webhook"))
	require.NoError(t, scheduler.ScheduleSync(context.Background(), "acct", false, "webhook"))

	close(engine.gate)
	scheduler.Wait()

	assert.Equal(t, []string{"busy"}, engine.syncs)
	assert.Equal(t, []string{"acct"}, engine.resyncs)
}

func TestLocalScheduler_OutlivesCallerContext(t *testing.T) {
	engine := &gatedEngine{gate: make(chan struct{}), started: make(chan string, 1)}
	scheduler := NewLocalScheduler(engine, 2, getLogger())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, scheduler.ScheduleSync(ctx, "acct", false, "webhook"))
	cancel()

	<-engine.started
	close(engine.gate)
	scheduler.Wait()
	assert.Equal(t, []string{"acct"}, engine.syncs)
}

func TestQueueScheduler_Publishes(t *testing.T) {
	publisher := &capturingPublisher{}
	scheduler := NewQueueScheduler(publisher)

	require.NoError(t, scheduler.ScheduleSync(context.Background(), "acct", true, "relink"))
	assert.Equal(t, []dto.SyncRequested{{AccountID: "acct", FullResync: true, Reason: "relink"}}, publisher.requests)
}
