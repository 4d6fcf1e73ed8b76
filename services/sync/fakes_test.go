package sync

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/customeros/mailsync/config"
	"github.com/customeros/mailsync/dto"
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

func testSyncConfig() *config.SyncConfig {
	return &config.SyncConfig{
		ProviderTimeout: 5 * time.Second,
		MaxRetries:      3,
		BackoffInitial:  time.Second,
		BackoffMax:      30 * time.Second,
		PollConcurrency: 2,
	}
}

type fakeAccounts struct {
	interfaces.AccountRepository
	accounts map[string]*models.Account
}

func newFakeAccounts(accounts ...*models.Account) *fakeAccounts {
	f := &fakeAccounts{accounts: map[string]*models.Account{}}
	for _, a := range accounts {
		f.accounts[a.ID] = a
	}
	return f
}

func (f *fakeAccounts) GetByID(ctx context.Context, id string) (*models.Account, error) {
	return f.accounts[id], nil
}

type fakeStates struct {
	mu            sync.Mutex
	states        map[string]*models.AccountSyncState
	saveCursorErr error
}

func newFakeStates() *fakeStates {
	return &fakeStates{states: map[string]*models.AccountSyncState{}}
}

func (f *fakeStates) GetSyncState(ctx context.Context, accountID string) (*models.AccountSyncState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.states[accountID]
	if !ok {
		return nil, nil
	}
	copied := *s
	return &copied, nil
}

func (f *fakeStates) GetSyncStates(ctx context.Context) (map[string]*models.AccountSyncState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	result := map[string]*models.AccountSyncState{}
	for k, v := range f.states {
		copied := *v
		result[k] = &copied
	}
	return result, nil
}

func (f *fakeStates) state(accountID string) *models.AccountSyncState {
	s, ok := f.states[accountID]
	if !ok {
		s = &models.AccountSyncState{AccountID: accountID, Status: enum.SyncStatusActive}
		f.states[accountID] = s
	}
	return s
}

func (f *fakeStates) SaveCursor(ctx context.Context, accountID, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveCursorErr != nil {
		return f.saveCursorErr
	}
	s := f.state(accountID)
	s.DeltaToken = &token
	s.Status = enum.SyncStatusActive
	s.LastError = ""
	s.ConsecutiveFailures = 0
	return nil
}

func (f *fakeStates) ClearCursor(ctx context.Context, accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.states[accountID]; ok {
		s.DeltaToken = nil
	}
	return nil
}

func (f *fakeStates) SetStatus(ctx context.Context, accountID string, status enum.SyncStatus, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.state(accountID)
	s.Status = status
	s.LastError = reason
	if status != enum.SyncStatusActive {
		s.ConsecutiveFailures++
	}
	return nil
}

func (f *fakeStates) Reset(ctx context.Context, accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[accountID] = &models.AccountSyncState{AccountID: accountID, Status: enum.SyncStatusActive}
	return nil
}

func (f *fakeStates) token(accountID string) *string {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.states[accountID]
	if !ok {
		return nil
	}
	return s.DeltaToken
}

// memStore keeps rows in maps and applies change sets all or nothing.
type memStore struct {
	mu       sync.Mutex
	threads  map[string]map[string]models.Thread
	messages map[string]map[string]models.Message
	applyErr error
	applied  int
}

func newMemStore() *memStore {
	return &memStore{
		threads:  map[string]map[string]models.Thread{},
		messages: map[string]map[string]models.Message{},
	}
}

func (s *memStore) GetThreads(ctx context.Context, accountID string, threadIDs []string) ([]*models.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*models.Thread
	for _, id := range threadIDs {
		if t, ok := s.threads[accountID][id]; ok {
			copied := t
			result = append(result, &copied)
		}
	}
	return result, nil
}

func (s *memStore) GetThreadMessages(ctx context.Context, accountID string, threadIDs []string) ([]*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wanted := map[string]bool{}
	for _, id := range threadIDs {
		wanted[id] = true
	}
	var result []*models.Message
	for _, m := range s.messages[accountID] {
		if wanted[m.ThreadID] {
			copied := m
			result = append(result, &copied)
		}
	}
	return result, nil
}

func (s *memStore) GetMessagesByIDs(ctx context.Context, accountID string, messageIDs []string) ([]*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*models.Message
	for _, id := range messageIDs {
		if m, ok := s.messages[accountID][id]; ok {
			copied := m
			result = append(result, &copied)
		}
	}
	return result, nil
}

func (s *memStore) GetRecentMessages(ctx context.Context, accountID string, limit int) ([]*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*models.Message
	for _, m := range s.messages[accountID] {
		copied := m
		result = append(result, &copied)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].SentAt.Equal(result[j].SentAt) {
			return result[i].SentAt.After(result[j].SentAt)
		}
		return result[i].ID < result[j].ID
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *memStore) ApplyChangeSet(ctx context.Context, cs *interfaces.ChangeSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.applyErr != nil {
		return s.applyErr
	}
	s.applied++

	threads := map[string]models.Thread{}
	messages := map[string]models.Message{}
	if !cs.Reset {
		for k, v := range s.threads[cs.AccountID] {
			threads[k] = v
		}
		for k, v := range s.messages[cs.AccountID] {
			messages[k] = v
		}
	}
	for _, t := range cs.Threads {
		threads[t.ID] = *t
	}
	for _, m := range cs.Messages {
		messages[m.ID] = *m
	}
	for _, id := range cs.DeletedMessageIDs {
		delete(messages, id)
	}
	for _, id := range cs.DeletedThreadIDs {
		delete(threads, id)
	}
	s.threads[cs.AccountID] = threads
	s.messages[cs.AccountID] = messages
	return nil
}

func (s *memStore) thread(accountID, id string) (models.Thread, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[accountID][id]
	return t, ok
}

func (s *memStore) messageCount(accountID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages[accountID])
}

func (s *memStore) threadCount(accountID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.threads[accountID])
}

// snapshot strips timestamps managed by the database so two stores can be compared.
func (s *memStore) snapshot(accountID string) (map[string]models.Thread, map[string]models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	threads := map[string]models.Thread{}
	for k, v := range s.threads[accountID] {
		v.CreatedAt, v.UpdatedAt = time.Time{}, time.Time{}
		threads[k] = v
	}
	messages := map[string]models.Message{}
	for k, v := range s.messages[accountID] {
		v.CreatedAt, v.UpdatedAt = time.Time{}, time.Time{}
		messages[k] = v
	}
	return threads, messages
}

type response struct {
	batch *dto.RemoteBatch
	err   error
}

// scriptedClient replays queued responses. With an empty queue it answers
// with an empty batch that keeps the given token.
type scriptedClient struct {
	mu           sync.Mutex
	initial      []response
	delta        []response
	initialCalls int
	deltaCalls   int
	tokens       []string
	onCall       func()
}

func (c *scriptedClient) ListInitial(ctx context.Context, account *models.Account) (*dto.RemoteBatch, error) {
	c.mu.Lock()
	c.initialCalls++
	var r response
	if len(c.initial) > 0 {
		r = c.initial[0]
		c.initial = c.initial[1:]
	} else {
		r = response{batch: &dto.RemoteBatch{NextToken: "T-initial"}}
	}
	onCall := c.onCall
	c.mu.Unlock()
	if onCall != nil {
		onCall()
	}
	return r.batch, r.err
}

func (c *scriptedClient) ListDelta(ctx context.Context, account *models.Account, token string) (*dto.RemoteBatch, error) {
	c.mu.Lock()
	c.deltaCalls++
	c.tokens = append(c.tokens, token)
	var r response
	if len(c.delta) > 0 {
		r = c.delta[0]
		c.delta = c.delta[1:]
	} else {
		r = response{batch: &dto.RemoteBatch{NextToken: token}}
	}
	onCall := c.onCall
	c.mu.Unlock()
	if onCall != nil {
		onCall()
	}
	return r.batch, r.err
}

type staticResolver struct {
	clients map[string]interfaces.RemoteMailboxClient
}

func (r staticResolver) ClientFor(account *models.Account) (interfaces.RemoteMailboxClient, error) {
	return r.clients[account.ID], nil
}

type countingIndex struct {
	mu          sync.Mutex
	invalidated map[string]int
}

func newCountingIndex() *countingIndex {
	return &countingIndex{invalidated: map[string]int{}}
}

func (c *countingIndex) Invalidate(accountID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated[accountID]++
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []interface{}
}

func (n *recordingNotifier) PublishNotification(ctx context.Context, entityId string, entityType enum.EntityType, message interface{}) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
	return nil
}

func (n *recordingNotifier) alerts() []dto.SyncAlert {
	n.mu.Lock()
	defer n.mu.Unlock()
	var result []dto.SyncAlert
	for _, m := range n.messages {
		if a, ok := m.(dto.SyncAlert); ok {
			result = append(result, a)
		}
	}
	return result
}

func (n *recordingNotifier) synced() []dto.AccountSynced {
	n.mu.Lock()
	defer n.mu.Unlock()
	var result []dto.AccountSynced
	for _, m := range n.messages {
		if a, ok := m.(dto.AccountSynced); ok {
			result = append(result, a)
		}
	}
	return result
}

type harness struct {
	engine   *Engine
	states   *fakeStates
	store    *memStore
	client   *scriptedClient
	index    *countingIndex
	notifier *recordingNotifier
	sleeps   []time.Duration
}

const testAccountID = "acct_test"

func newHarness() *harness {
	h := &harness{
		states:   newFakeStates(),
		store:    newMemStore(),
		client:   &scriptedClient{},
		index:    newCountingIndex(),
		notifier: &recordingNotifier{},
	}
	account := &models.Account{ID: testAccountID, UserID: "user_1", Provider: enum.ProviderAurinko, Token: "secret"}
	h.engine = NewEngine(
		newFakeAccounts(account),
		h.states,
		h.store,
		staticResolver{clients: map[string]interfaces.RemoteMailboxClient{testAccountID: h.client}},
		testSyncConfig(),
		getLogger(),
		WithIndex(h.index),
		WithNotifier(h.notifier),
	)
	h.engine.sleep = func(ctx context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		return nil
	}
	return h
}

func batchOf(token string, messages ...dto.RemoteMessage) response {
	return response{batch: &dto.RemoteBatch{Messages: messages, NextToken: token}}
}

func failWith(err error) response {
	return response{err: err}
}

var baseTime = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func remoteMessage(id, threadID string, minutes int, labels ...string) dto.RemoteMessage {
	return dto.RemoteMessage{
		ID:       id,
		ThreadID: threadID,
		Subject:  "Subject " + id,
		From:     "alice@acme.com",
		To:       []string{"bob@acme.com"},
		SentAt:   baseTime.Add(time.Duration(minutes) * time.Minute),
		Snippet:  "snippet " + id,
		Labels:   labels,
	}
}

func deletedMarker(id string) dto.RemoteMessage {
	return dto.RemoteMessage{ID: id, Deleted: true}
}
