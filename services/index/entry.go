package index

import (
	"context"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/pkg/errors"

	"github.com/customeros/mailsync/dto"
	"github.com/customeros/mailsync/internal/models"
)

type entryState int

const (
	stateUnbuilt entryState = iota
	stateBuilt
)

// entry is the cached index of one account. The generation is bumped on
// every reset so a build that started earlier cannot publish stale data.
type entry struct {
	buildMu sync.Mutex

	mu         sync.RWMutex
	state      entryState
	generation uint64
	index      bleve.Index
	docs       map[string]document
}

type document struct {
	ID       string
	ThreadID string
	Title    string
	From     string
	To       []string
	Snippet  string
	SentAt   time.Time
}

// UnknownSender stands in for a sender address that did not survive cleaning.
const UnknownSender = "Unknown"

func documentFrom(msg *models.Message) document {
	from := msg.FromAddress
	if from == "" {
		from = UnknownSender
	}
	return document{
		ID:       msg.ID,
		ThreadID: msg.ThreadID,
		Title:    msg.Subject,
		From:     from,
		To:       append([]string{}, msg.ToAddresses...),
		Snippet:  msg.BodySnippet,
		SentAt:   msg.SentAt,
	}
}

func (d document) fields() map[string]interface{} {
	return map[string]interface{}{
		"title":   d.Title,
		"from":    d.From,
		"to":      d.To,
		"snippet": d.Snippet,
	}
}

func (d document) hit(score float64) dto.SearchHit {
	return dto.SearchHit{
		ID:       d.ID,
		ThreadID: d.ThreadID,
		Title:    d.Title,
		From:     d.From,
		To:       d.To,
		RawBody:  d.Snippet,
		SentAt:   d.SentAt,
		Score:    score,
	}
}

func (e *entry) isBuilt() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state == stateBuilt
}

func (e *entry) snapshot() (uint64, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.generation, e.state == stateBuilt
}

// publish installs a finished build unless the entry was reset meanwhile.
func (e *entry) publish(generation uint64, idx bleve.Index, docs map[string]document) bool {
	e.mu.Lock()
	if e.generation != generation {
		e.mu.Unlock()
		idx.Close()
		return false
	}
	e.index = idx
	e.docs = docs
	e.state = stateBuilt
	e.mu.Unlock()
	return true
}

func (e *entry) reset() {
	e.mu.Lock()
	old := e.index
	e.index = nil
	e.docs = nil
	e.state = stateUnbuilt
	e.generation++
	e.mu.Unlock()

	if old != nil {
		old.Close()
	}
}

// search reports ok=false when the entry is not built, which happens when it
// was reset between ensure and search.
func (e *entry) search(ctx context.Context, term string, limit int) ([]dto.SearchHit, bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.state != stateBuilt {
		return nil, false, nil
	}
	hits := []dto.SearchHit{}
	if len(e.docs) == 0 {
		return hits, true, nil
	}

	request := bleve.NewSearchRequestOptions(bleve.NewMatchQuery(term), len(e.docs), 0, false)
	result, err := e.index.SearchInContext(ctx, request)
	if err != nil {
		return nil, true, errors.Wrap(err, "index search failed")
	}

	for _, match := range result.Hits {
		doc, ok := e.docs[match.ID]
		if !ok {
			continue
		}
		hits = append(hits, doc.hit(match.Score))
	}
	sortHits(hits)
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, true, nil
}
