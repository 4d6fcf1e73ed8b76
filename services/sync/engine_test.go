package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customeros/mailsync/dto"
	mailsync_errors "github.com/customeros/mailsync/errors"
	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/enum"
	"github.com/customeros/mailsync/internal/models"
)

func twelveMessages() []dto.RemoteMessage {
	messages := make([]dto.RemoteMessage, 0, 12)
	for i := 1; i <= 12; i++ {
		messages = append(messages, remoteMessage(fmt.Sprintf("m%02d", i), fmt.Sprintf("t%d", (i+1)/2), i, "INBOX"))
	}
	return messages
}

func TestSync_InitialSyncStoresBatchAndCommitsToken(t *testing.T) {
	// Arrange
	h := newHarness()
	h.client.initial = []response{batchOf("T1", twelveMessages()...)}

	// Act
	result, err := h.engine.Sync(context.Background(), testAccountID)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, enum.SyncKindInitial, result.Kind)
	assert.Equal(t, "T1", result.DeltaToken)
	assert.Equal(t, 12, result.MessagesUpserted)
	assert.Equal(t, 12, h.store.messageCount(testAccountID))
	assert.Equal(t, 6, h.store.threadCount(testAccountID))
	require.NotNil(t, h.states.token(testAccountID))
	assert.Equal(t, "T1", *h.states.token(testAccountID))
	assert.Equal(t, 1, h.client.initialCalls)
	assert.Equal(t, 0, h.client.deltaCalls)
}

func TestSync_UnchangedDeltaLeavesStoreAndCursorUnchanged(t *testing.T) {
	// Arrange
	h := newHarness()
	h.client.initial = []response{batchOf("T1", twelveMessages()...)}
	_, err := h.engine.Sync(context.Background(), testAccountID)
	require.NoError(t, err)
	threadsBefore, messagesBefore := h.store.snapshot(testAccountID)
	h.client.delta = []response{batchOf("T1")}

	// Act
	result, err := h.engine.Sync(context.Background(), testAccountID)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, enum.SyncKindDelta, result.Kind)
	assert.Equal(t, []string{"T1"}, h.client.tokens)
	assert.Equal(t, "T1", *h.states.token(testAccountID))
	threadsAfter, messagesAfter := h.store.snapshot(testAccountID)
	assert.Equal(t, threadsBefore, threadsAfter)
	assert.Equal(t, messagesBefore, messagesAfter)
}

func TestSync_ReapplyingTheSameDeltaIsIdempotent(t *testing.T) {
	h := newHarness()
	h.client.initial = []response{batchOf("T1", remoteMessage("m1", "t1", 1, "INBOX"))}
	_, err := h.engine.Sync(context.Background(), testAccountID)
	require.NoError(t, err)

	delta := []dto.RemoteMessage{
		remoteMessage("m2", "t1", 2, "INBOX"),
		remoteMessage("m3", "t2", 3, "SENT"),
		deletedMarker("m1"),
	}
	h.client.delta = []response{batchOf("T2", delta...)}
	_, err = h.engine.Sync(context.Background(), testAccountID)
	require.NoError(t, err)
	threadsOnce, messagesOnce := h.store.snapshot(testAccountID)

	// the token was not advanced by the provider, so the same changes arrive again
	h.client.delta = []response{batchOf("T2", delta...)}
	_, err = h.engine.Sync(context.Background(), testAccountID)
	require.NoError(t, err)

	threadsTwice, messagesTwice := h.store.snapshot(testAccountID)
	assert.Equal(t, threadsOnce, threadsTwice)
	assert.Equal(t, messagesOnce, messagesTwice)
}

func TestSync_CursorFailureAfterChangeSetKeepsOldToken(t *testing.T) {
	// Arrange
	h := newHarness()
	h.client.initial = []response{batchOf("T1", remoteMessage("m1", "t1", 1, "INBOX"))}
	_, err := h.engine.Sync(context.Background(), testAccountID)
	require.NoError(t, err)

	delta := batchOf("T2", remoteMessage("m2", "t1", 2, "INBOX"))
	h.client.delta = []response{delta}
	h.states.saveCursorErr = errors.New("connection reset")

	// Act
	_, err = h.engine.Sync(context.Background(), testAccountID)

	// Assert
	require.Error(t, err)
	assert.True(t, mailsync_errors.IsStore(err))
	assert.Equal(t, "T1", *h.states.token(testAccountID))

	// the retried cycle re-reads from T1 and converges on the same state
	h.states.saveCursorErr = nil
	h.client.delta = []response{delta}
	_, err = h.engine.Sync(context.Background(), testAccountID)
	require.NoError(t, err)
	assert.Equal(t, "T2", *h.states.token(testAccountID))
	assert.Equal(t, []string{"T1", "T1"}, h.client.tokens)
	assert.Equal(t, 2, h.store.messageCount(testAccountID))
}

func TestSync_StoreFailureAbortsWithoutAdvancingToken(t *testing.T) {
	h := newHarness()
	h.client.initial = []response{batchOf("T1", remoteMessage("m1", "t1", 1, "INBOX"))}
	h.store.applyErr = errors.New("disk full")

	_, err := h.engine.Sync(context.Background(), testAccountID)

	require.Error(t, err)
	assert.True(t, mailsync_errors.IsStore(err))
	assert.Nil(t, h.states.token(testAccountID))
	assert.Equal(t, 0, h.store.messageCount(testAccountID))
	assert.Equal(t, 0, h.index.invalidated[testAccountID])
	assert.Empty(t, h.sleeps)
	state, _ := h.states.GetSyncState(context.Background(), testAccountID)
	assert.Equal(t, enum.SyncStatusDegraded, state.Status)
	require.Len(t, h.notifier.alerts(), 1)
	assert.Equal(t, enum.SyncStatusDegraded, h.notifier.alerts()[0].Status)
}

func TestSync_InitialFailureLeavesAccountUninitialized(t *testing.T) {
	h := newHarness()
	h.client.initial = []response{failWith(errors.New("unexpected payload"))}

	_, err := h.engine.Sync(context.Background(), testAccountID)

	require.Error(t, err)
	assert.Nil(t, h.states.token(testAccountID))

	h.client.initial = []response{batchOf("T1", remoteMessage("m1", "t1", 1))}
	result, err := h.engine.Sync(context.Background(), testAccountID)
	require.NoError(t, err)
	assert.Equal(t, enum.SyncKindInitial, result.Kind)
}

func TestSync_ThreadFlagsOnlyGrowOnUpsert(t *testing.T) {
	// Arrange
	h := newHarness()
	h.client.initial = []response{batchOf("T1", remoteMessage("m1", "t1", 1, "INBOX"))}
	_, err := h.engine.Sync(context.Background(), testAccountID)
	require.NoError(t, err)

	// the reply is only in sent, and the original lost its inbox label
	h.client.delta = []response{batchOf("T2",
		remoteMessage("m2", "t1", 2, "SENT"),
		remoteMessage("m1", "t1", 1, "ARCHIVE"),
	)}

	// Act
	_, err = h.engine.Sync(context.Background(), testAccountID)

	// Assert
	require.NoError(t, err)
	thread, ok := h.store.thread(testAccountID, "t1")
	require.True(t, ok)
	assert.True(t, thread.InboxStatus)
	assert.True(t, thread.SentStatus)
	assert.False(t, thread.DraftStatus)
	require.NotNil(t, thread.LastMessageAt)
	assert.Equal(t, baseTime.Add(2*time.Minute), *thread.LastMessageAt)
}

func TestSync_DeletionRecomputesThreadFlags(t *testing.T) {
	// Arrange
	h := newHarness()
	h.client.initial = []response{batchOf("T1",
		remoteMessage("m1", "t1", 1, "INBOX"),
		remoteMessage("m2", "t1", 2, "SENT"),
	)}
	_, err := h.engine.Sync(context.Background(), testAccountID)
	require.NoError(t, err)
	h.client.delta = []response{batchOf("T2", deletedMarker("m1"))}

	// Act
	result, err := h.engine.Sync(context.Background(), testAccountID)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 1, result.MessagesDeleted)
	thread, ok := h.store.thread(testAccountID, "t1")
	require.True(t, ok)
	assert.False(t, thread.InboxStatus)
	assert.True(t, thread.SentStatus)
	assert.Equal(t, baseTime.Add(2*time.Minute), *thread.LastMessageAt)
	assert.Equal(t, "Subject m1", thread.Subject)
}

func TestSync_DeletingLastMessageRemovesThread(t *testing.T) {
	h := newHarness()
	h.client.initial = []response{batchOf("T1",
		remoteMessage("m1", "t1", 1, "INBOX"),
		remoteMessage("m2", "t2", 2, "INBOX"),
	)}
	_, err := h.engine.Sync(context.Background(), testAccountID)
	require.NoError(t, err)
	h.client.delta = []response{batchOf("T2", deletedMarker("m1"), deletedMarker("unknown"))}

	result, err := h.engine.Sync(context.Background(), testAccountID)

	require.NoError(t, err)
	assert.Equal(t, 1, result.MessagesDeleted)
	assert.Equal(t, 1, result.ThreadsDeleted)
	_, ok := h.store.thread(testAccountID, "t1")
	assert.False(t, ok)
	_, ok = h.store.thread(testAccountID, "t2")
	assert.True(t, ok)
}

func TestSync_LastRecordForAnIdWins(t *testing.T) {
	h := newHarness()
	h.client.initial = []response{batchOf("T1", remoteMessage("m1", "t1", 1, "INBOX"))}
	_, err := h.engine.Sync(context.Background(), testAccountID)
	require.NoError(t, err)

	h.client.delta = []response{batchOf("T2",
		remoteMessage("m2", "t2", 2, "INBOX"),
		deletedMarker("m2"),
		deletedMarker("m1"),
		remoteMessage("m1", "t1", 5, "INBOX"),
	)}
	_, err = h.engine.Sync(context.Background(), testAccountID)
	require.NoError(t, err)

	_, messages := h.store.snapshot(testAccountID)
	assert.Len(t, messages, 1)
	assert.Equal(t, baseTime.Add(5*time.Minute), messages["m1"].SentAt)
	_, ok := h.store.thread(testAccountID, "t2")
	assert.False(t, ok)
}

func TestSync_MessageMovedToAnotherThread(t *testing.T) {
	h := newHarness()
	h.client.initial = []response{batchOf("T1", remoteMessage("m1", "t1", 1, "INBOX"))}
	_, err := h.engine.Sync(context.Background(), testAccountID)
	require.NoError(t, err)

	h.client.delta = []response{batchOf("T2", remoteMessage("m1", "t9", 1, "INBOX"))}
	_, err = h.engine.Sync(context.Background(), testAccountID)
	require.NoError(t, err)

	_, ok := h.store.thread(testAccountID, "t1")
	assert.False(t, ok)
	moved, ok := h.store.thread(testAccountID, "t9")
	require.True(t, ok)
	assert.True(t, moved.InboxStatus)
}

func TestSync_MissingThreadIdGetsSingletonThread(t *testing.T) {
	h := newHarness()
	h.client.initial = []response{batchOf("T1", remoteMessage("m1", "", 1, "INBOX"))}

	_, err := h.engine.Sync(context.Background(), testAccountID)

	require.NoError(t, err)
	thread, ok := h.store.thread(testAccountID, "m1")
	require.True(t, ok)
	assert.True(t, thread.InboxStatus)
}

func TestSync_CursorExpiredFallsBackToFullResync(t *testing.T) {
	// Arrange
	h := newHarness()
	h.client.initial = []response{
		batchOf("T1", remoteMessage("m1", "t1", 1, "INBOX"), remoteMessage("gone", "t2", 2, "INBOX")),
	}
	_, err := h.engine.Sync(context.Background(), testAccountID)
	require.NoError(t, err)

	fresh := []dto.RemoteMessage{
		remoteMessage("m1", "t1", 1, "SENT"),
		remoteMessage("m3", "t3", 3, "DRAFT"),
	}
	h.client.delta = []response{failWith(mailsync_errors.NewCursorExpiredError(errors.New("410 gone")))}
	h.client.initial = []response{batchOf("T9", fresh...)}

	// Act
	result, err := h.engine.Sync(context.Background(), testAccountID)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, enum.SyncKindFullResync, result.Kind)
	assert.Equal(t, "T9", *h.states.token(testAccountID))
	assert.Equal(t, 2, h.client.initialCalls)

	scratch := newHarness()
	scratch.client.initial = []response{batchOf("T9", fresh...)}
	_, err = scratch.engine.Sync(context.Background(), testAccountID)
	require.NoError(t, err)

	threadsA, messagesA := h.store.snapshot(testAccountID)
	threadsB, messagesB := scratch.store.snapshot(testAccountID)
	assert.Equal(t, threadsB, threadsA)
	assert.Equal(t, messagesB, messagesA)

	// full resync recomputes flags, so t1 is no longer in the inbox
	assert.False(t, threadsA["t1"].InboxStatus)
	assert.True(t, threadsA["t1"].SentStatus)
}

func TestSync_AuthErrorMarksReauthAndStopsRetrying(t *testing.T) {
	// Arrange
	h := newHarness()
	h.client.initial = []response{failWith(mailsync_errors.NewAuthError(errors.New("401")))}

	// Act
	_, err := h.engine.Sync(context.Background(), testAccountID)

	// Assert
	require.Error(t, err)
	assert.True(t, mailsync_errors.IsAuth(err))
	assert.Equal(t, 1, h.client.initialCalls)
	assert.Empty(t, h.sleeps)
	state, _ := h.states.GetSyncState(context.Background(), testAccountID)
	require.NotNil(t, state)
	assert.Equal(t, enum.SyncStatusReauthRequired, state.Status)
	require.Len(t, h.notifier.alerts(), 1)
	assert.Equal(t, enum.SyncStatusReauthRequired, h.notifier.alerts()[0].Status)

	// further cycles do not reach the provider until the account is relinked
	_, err = h.engine.Sync(context.Background(), testAccountID)
	assert.True(t, mailsync_errors.IsAuth(err))
	assert.Equal(t, 1, h.client.initialCalls)

	require.NoError(t, h.states.Reset(context.Background(), testAccountID))
	_, err = h.engine.Sync(context.Background(), testAccountID)
	require.NoError(t, err)
	assert.Equal(t, 2, h.client.initialCalls)
}

func TestSync_TransientErrorsAreRetriedWithBackoff(t *testing.T) {
	h := newHarness()
	h.client.initial = []response{
		failWith(mailsync_errors.NewTransientError(errors.New("502"), 0)),
		failWith(mailsync_errors.NewTransientError(errors.New("429"), 10*time.Second)),
		batchOf("T1", remoteMessage("m1", "t1", 1, "INBOX")),
	}

	result, err := h.engine.Sync(context.Background(), testAccountID)

	require.NoError(t, err)
	assert.Equal(t, "T1", result.DeltaToken)
	assert.Equal(t, 3, h.client.initialCalls)
	assert.Equal(t, []time.Duration{time.Second, 10 * time.Second}, h.sleeps)
}

func TestSync_TransientExhaustionMarksDegraded(t *testing.T) {
	// Arrange
	h := newHarness()
	h.client.initial = []response{batchOf("T1", remoteMessage("m1", "t1", 1, "INBOX"))}
	_, err := h.engine.Sync(context.Background(), testAccountID)
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		h.client.delta = append(h.client.delta, failWith(mailsync_errors.NewTransientError(errors.New("503"), 0)))
	}

	// Act
	_, err = h.engine.Sync(context.Background(), testAccountID)

	// Assert
	require.Error(t, err)
	assert.True(t, mailsync_errors.IsDegraded(err))
	assert.Equal(t, 4, h.client.deltaCalls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, h.sleeps)
	state, _ := h.states.GetSyncState(context.Background(), testAccountID)
	assert.Equal(t, enum.SyncStatusDegraded, state.Status)
	assert.Equal(t, "T1", *state.DeltaToken)
	require.Len(t, h.notifier.alerts(), 1)
	assert.Equal(t, enum.SyncStatusDegraded, h.notifier.alerts()[0].Status)
}

func TestSync_MissingNextTokenIsTransient(t *testing.T) {
	h := newHarness()
	h.engine.cfg.MaxRetries = 0
	h.client.initial = []response{batchOf("", remoteMessage("m1", "t1", 1))}

	_, err := h.engine.Sync(context.Background(), testAccountID)

	require.Error(t, err)
	assert.True(t, mailsync_errors.IsDegraded(err))
	assert.Equal(t, 0, h.store.messageCount(testAccountID))
}

func TestSync_SuccessInvalidatesIndexAndNotifies(t *testing.T) {
	h := newHarness()
	h.client.initial = []response{batchOf("T1", remoteMessage("m1", "t1", 1, "INBOX"))}

	_, err := h.engine.Sync(context.Background(), testAccountID)

	require.NoError(t, err)
	assert.Equal(t, 1, h.index.invalidated[testAccountID])
	synced := h.notifier.synced()
	require.Len(t, synced, 1)
	assert.Equal(t, "T1", synced[0].DeltaToken)
	assert.Equal(t, "user_1", synced[0].UserID)
}

func TestSync_UnknownAccount(t *testing.T) {
	h := newHarness()

	_, err := h.engine.Sync(context.Background(), "acct_missing")

	assert.ErrorIs(t, err, mailsync_errors.ErrAccountNotFound)
}

func TestResync_ClearsTokenAndRebuilds(t *testing.T) {
	h := newHarness()
	h.client.initial = []response{
		batchOf("T1", remoteMessage("m1", "t1", 1, "INBOX"), remoteMessage("m2", "t2", 2, "INBOX")),
		batchOf("T5", remoteMessage("m2", "t2", 2, "INBOX")),
	}
	_, err := h.engine.Sync(context.Background(), testAccountID)
	require.NoError(t, err)

	result, err := h.engine.Resync(context.Background(), testAccountID)

	require.NoError(t, err)
	assert.Equal(t, enum.SyncKindFullResync, result.Kind)
	assert.Equal(t, "T5", *h.states.token(testAccountID))
	assert.Equal(t, 1, h.store.messageCount(testAccountID))
	assert.Equal(t, 0, h.client.deltaCalls)
}

func TestSync_SerializesCyclesPerAccount(t *testing.T) {
	// Arrange
	h := newHarness()
	var inFlight, maxInFlight int32
	h.client.onCall = func() {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			current := atomic.LoadInt32(&maxInFlight)
			if n <= current || atomic.CompareAndSwapInt32(&maxInFlight, current, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
	}

	// Act
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.engine.Sync(context.Background(), testAccountID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// Assert
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxInFlight))
	assert.Equal(t, 1, h.client.initialCalls)
	assert.Equal(t, 4, h.client.deltaCalls)
	for _, token := range h.client.tokens {
		assert.Equal(t, "T-initial", token)
	}
}

func TestSync_DifferentAccountsRunInParallel(t *testing.T) {
	// Arrange
	entered := make(chan struct{}, 2)
	release := make(chan struct{})
	blocking := func() {
		entered <- struct{}{}
		<-release
	}
	clientA := &scriptedClient{onCall: blocking}
	clientB := &scriptedClient{onCall: blocking}
	accounts := newFakeAccounts(
		&models.Account{ID: "acct_a", UserID: "u"},
		&models.Account{ID: "acct_b", UserID: "u"},
	)
	engine := NewEngine(accounts, newFakeStates(), newMemStore(),
		staticResolver{clients: map[string]interfaces.RemoteMailboxClient{"acct_a": clientA, "acct_b": clientB}},
		testSyncConfig(), getLogger())

	// Act
	var wg sync.WaitGroup
	for _, id := range []string{"acct_a", "acct_b"} {
		wg.Add(1)
		go func(accountID string) {
			defer wg.Done()
			_, err := engine.Sync(context.Background(), accountID)
			assert.NoError(t, err)
		}(id)
	}

	// Assert
	for i := 0; i < 2; i++ {
		select {
		case <-entered:
		case <-time.After(2 * time.Second):
			close(release)
			t.Fatal("accounts were not synced concurrently")
		}
	}
	close(release)
	wg.Wait()
}

func TestSync_ProviderCallsRunUnderTimeout(t *testing.T) {
	h := newHarness()
	h.engine.cfg.ProviderTimeout = 20 * time.Millisecond
	h.engine.cfg.MaxRetries = 0
	h.engine.clients = staticResolver{clients: map[string]interfaces.RemoteMailboxClient{testAccountID: blockingClient{}}}

	_, err := h.engine.Sync(context.Background(), testAccountID)

	require.Error(t, err)
	assert.True(t, mailsync_errors.IsTransient(err))
	assert.Nil(t, h.states.token(testAccountID))
}

type blockingClient struct{}

func (blockingClient) ListInitial(ctx context.Context, account *models.Account) (*dto.RemoteBatch, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blockingClient) ListDelta(ctx context.Context, account *models.Account, token string) (*dto.RemoteBatch, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
