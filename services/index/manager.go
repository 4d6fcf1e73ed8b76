package index

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/mailsync/config"
	"github.com/customeros/mailsync/dto"
	"github.com/customeros/mailsync/internal/logger"
	"github.com/customeros/mailsync/internal/metrics"
	"github.com/customeros/mailsync/internal/models"
	"github.com/customeros/mailsync/internal/tracing"
)

const maxBuildAttempts = 3

// MessageSource loads the newest messages of an account.
type MessageSource interface {
	GetRecentMessages(ctx context.Context, accountID string, limit int) ([]*models.Message, error)
}

// Manager keeps one lazily built in-memory index per account. Searches never
// wait for a sync; they read whatever the store held at build time.
type Manager struct {
	source MessageSource
	cfg    config.IndexConfig
	log    logger.Logger

	mu      sync.Mutex
	entries *lru.Cache[string, *entry]
	evicted []*entry
}

func NewManager(source MessageSource, cfg *config.IndexConfig, log logger.Logger) (*Manager, error) {
	m := &Manager{
		source: source,
		cfg:    *cfg,
		log:    log,
	}
	if m.cfg.MaxAccounts <= 0 {
		m.cfg.MaxAccounts = 1000
	}
	if m.cfg.MaxDocuments <= 0 {
		m.cfg.MaxDocuments = 300
	}

	entries, err := lru.NewWithEvict[string, *entry](m.cfg.MaxAccounts, m.onEvict)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create index cache")
	}
	m.entries = entries
	return m, nil
}

// onEvict runs while m.mu is held; entries are reset after it is released.
func (m *Manager) onEvict(_ string, e *entry) {
	m.evicted = append(m.evicted, e)
}

func (m *Manager) entryFor(accountID string) *entry {
	m.mu.Lock()
	e, ok := m.entries.Get(accountID)
	if !ok {
		e = &entry{}
		m.entries.Add(accountID, e)
	}
	size := m.entries.Len()
	m.mu.Unlock()

	metrics.SetIndexedAccounts(size)
	m.drainEvicted()
	return e
}

func (m *Manager) drainEvicted() {
	m.mu.Lock()
	evicted := m.evicted
	m.evicted = nil
	m.mu.Unlock()

	for _, e := range evicted {
		e.reset()
	}
}

// EnsureBuilt builds the account's index if it is not cached.
func (m *Manager) EnsureBuilt(ctx context.Context, accountID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "IndexManager.EnsureBuilt")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, accountID)

	if err := m.ensure(ctx, accountID, m.entryFor(accountID)); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

// Invalidate drops the cached index; the next search rebuilds it.
func (m *Manager) Invalidate(accountID string) {
	m.mu.Lock()
	m.entries.Remove(accountID)
	size := m.entries.Len()
	m.mu.Unlock()

	metrics.SetIndexedAccounts(size)
	m.drainEvicted()
}

// Search returns hits ordered by score, newest first on equal scores. An
// empty term or an account without messages gives no hits.
func (m *Manager) Search(ctx context.Context, accountID, term string) ([]dto.SearchHit, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "IndexManager.Search")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, accountID)

	term = strings.TrimSpace(term)
	if term == "" || accountID == "" {
		metrics.IncSearch(metrics.OutcomeEmpty)
		return []dto.SearchHit{}, nil
	}

	for attempt := 0; attempt < maxBuildAttempts; attempt++ {
		e := m.entryFor(accountID)
		if err := m.ensure(ctx, accountID, e); err != nil {
			metrics.IncSearch(metrics.OutcomeError)
			tracing.TraceErr(span, err)
			return nil, err
		}

		hits, ok, err := e.search(ctx, term, m.cfg.SearchResultLimit)
		if err != nil {
			metrics.IncSearch(metrics.OutcomeError)
			tracing.TraceErr(span, err)
			return nil, err
		}
		if ok {
			metrics.IncSearch(metrics.OutcomeSuccess)
			span.SetTag("hits", len(hits))
			return hits, nil
		}
	}

	err := errors.Errorf("index for account %s was invalidated %d times during search", accountID, maxBuildAttempts)
	metrics.IncSearch(metrics.OutcomeError)
	tracing.TraceErr(span, err)
	return nil, err
}

func (m *Manager) ensure(ctx context.Context, accountID string, e *entry) error {
	if e.isBuilt() {
		return nil
	}

	e.buildMu.Lock()
	defer e.buildMu.Unlock()

	generation, built := e.snapshot()
	if built {
		return nil
	}

	started := time.Now()
	messages, err := m.source.GetRecentMessages(ctx, accountID, m.cfg.MaxDocuments)
	if err != nil {
		return errors.Wrap(err, "failed to load messages for index")
	}
	idx, docs, err := buildIndex(messages)
	if err != nil {
		return err
	}

	if !e.publish(generation, idx, docs) {
		// invalidated while building: the loaded rows may already be stale
		m.log.Debugf("Discarding index build for account %s", accountID)
		return nil
	}
	metrics.ObserveIndexBuild(time.Since(started))
	m.log.Debugf("Built index for account %s with %d documents", accountID, len(docs))
	return nil
}

func buildIndex(messages []*models.Message) (bleve.Index, map[string]document, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to create index")
	}

	docs := make(map[string]document, len(messages))
	batch := idx.NewBatch()
	for _, msg := range messages {
		doc := documentFrom(msg)
		docs[doc.ID] = doc
		if err := batch.Index(doc.ID, doc.fields()); err != nil {
			idx.Close()
			return nil, nil, errors.Wrapf(err, "failed to index message %s", doc.ID)
		}
	}
	if err := idx.Batch(batch); err != nil {
		idx.Close()
		return nil, nil, errors.Wrap(err, "failed to write index batch")
	}
	return idx, docs, nil
}

func sortHits(hits []dto.SearchHit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if !hits[i].SentAt.Equal(hits[j].SentAt) {
			return hits[i].SentAt.After(hits[j].SentAt)
		}
		return hits[i].ID < hits[j].ID
	})
}
