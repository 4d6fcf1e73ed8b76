package sync

import (
	"context"
	"sort"
	"time"

	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/models"
)

// buildFullChangeSet replaces the account's data with the batch. Thread
// flags are computed from scratch.
func buildFullChangeSet(accountID string, batch normalizedBatch) *interfaces.ChangeSet {
	grouped := groupByThread(batch.Upserts)

	cs := &interfaces.ChangeSet{
		AccountID: accountID,
		Reset:     true,
		Messages:  batch.Upserts,
	}
	for _, threadID := range sortedKeys(grouped) {
		cs.Threads = append(cs.Threads, aggregateThread(accountID, threadID, grouped[threadID]))
	}
	return cs
}

// buildDeltaChangeSet merges the batch into the stored state. Threads that
// only gain messages OR their flags into the stored ones; threads that lose a
// message (deleted, or moved to another thread) are recomputed from what
// remains and removed when nothing does.
func buildDeltaChangeSet(ctx context.Context, store interfaces.MailStore, accountID string, batch normalizedBatch) (*interfaces.ChangeSet, error) {
	cs := &interfaces.ChangeSet{
		AccountID: accountID,
		Messages:  batch.Upserts,
	}

	touched := make([]string, 0, len(batch.Upserts)+len(batch.DeletedIDs))
	for _, m := range batch.Upserts {
		touched = append(touched, m.ID)
	}
	touched = append(touched, batch.DeletedIDs...)

	previous, err := store.GetMessagesByIDs(ctx, accountID, touched)
	if err != nil {
		return nil, err
	}
	previousByID := make(map[string]*models.Message, len(previous))
	for _, p := range previous {
		previousByID[p.ID] = p
	}

	shrinking := map[string]bool{}
	for _, id := range batch.DeletedIDs {
		if p, ok := previousByID[id]; ok {
			cs.DeletedMessageIDs = append(cs.DeletedMessageIDs, id)
			shrinking[p.ThreadID] = true
		}
	}
	for _, m := range batch.Upserts {
		if p, ok := previousByID[m.ID]; ok && p.ThreadID != m.ThreadID {
			shrinking[p.ThreadID] = true
		}
	}

	growing := groupByThread(batch.Upserts)

	affected := map[string]bool{}
	for id := range growing {
		affected[id] = true
	}
	for id := range shrinking {
		affected[id] = true
	}
	affectedIDs := sortedKeys(affected)

	existing, err := store.GetThreads(ctx, accountID, affectedIDs)
	if err != nil {
		return nil, err
	}
	existingByID := make(map[string]*models.Thread, len(existing))
	for _, t := range existing {
		existingByID[t.ID] = t
	}

	remaining := map[string][]*models.Message{}
	if len(shrinking) > 0 {
		stored, err := store.GetThreadMessages(ctx, accountID, sortedKeys(shrinking))
		if err != nil {
			return nil, err
		}
		replaced := make(map[string]bool, len(touched))
		for _, id := range touched {
			replaced[id] = true
		}
		for _, m := range stored {
			if !replaced[m.ID] {
				remaining[m.ThreadID] = append(remaining[m.ThreadID], m)
			}
		}
		for threadID := range shrinking {
			remaining[threadID] = append(remaining[threadID], growing[threadID]...)
		}
	}

	for _, threadID := range affectedIDs {
		current := existingByID[threadID]

		if shrinking[threadID] {
			rest := remaining[threadID]
			if len(rest) == 0 {
				if current != nil {
					cs.DeletedThreadIDs = append(cs.DeletedThreadIDs, threadID)
				}
				continue
			}
			thread := aggregateThread(accountID, threadID, rest)
			if current != nil {
				keepIdentity(thread, current)
			}
			cs.Threads = append(cs.Threads, thread)
			continue
		}

		thread := aggregateThread(accountID, threadID, growing[threadID])
		if current != nil {
			keepIdentity(thread, current)
			thread.SetFlags(current.Flags().Or(thread.Flags()))
			thread.LastMessageAt = latest(current.LastMessageAt, thread.LastMessageAt)
		}
		cs.Threads = append(cs.Threads, thread)
	}

	return cs, nil
}

func keepIdentity(thread, current *models.Thread) {
	if current.Subject != "" {
		thread.Subject = current.Subject
	}
	thread.CreatedAt = current.CreatedAt
}

// aggregateThread derives a thread from its messages: the oldest message
// names it and the flags are the OR of every message's flags.
func aggregateThread(accountID, threadID string, messages []*models.Message) *models.Thread {
	thread := &models.Thread{AccountID: accountID, ID: threadID}

	var flags models.FolderFlags
	var first *models.Message
	for _, m := range messages {
		flags = flags.Or(m.Flags())
		sentAt := m.SentAt
		thread.LastMessageAt = latest(thread.LastMessageAt, &sentAt)
		if first == nil || m.SentAt.Before(first.SentAt) || (m.SentAt.Equal(first.SentAt) && m.ID < first.ID) {
			first = m
		}
	}
	thread.SetFlags(flags)
	if first != nil {
		thread.Subject = first.Subject
	}
	return thread
}

func groupByThread(messages []*models.Message) map[string][]*models.Message {
	grouped := make(map[string][]*models.Message)
	for _, m := range messages {
		grouped[m.ThreadID] = append(grouped[m.ThreadID], m)
	}
	return grouped
}

func latest(a, b *time.Time) *time.Time {
	if a == nil {
		return b
	}
	if b == nil || a.After(*b) {
		return a
	}
	return b
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
