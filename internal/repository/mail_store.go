package repository

import (
	"context"
	"fmt"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/models"
	"github.com/customeros/mailsync/internal/tracing"
)

const upsertBatchSize = 200

var (
	threadUpdateColumns = []string{
		"subject", "last_message_at", "inbox_status", "sent_status", "draft_status", "updated_at",
	}
	messageUpdateColumns = []string{
		"thread_id", "from_address", "to_addresses", "cc_addresses", "subject", "body_text", "body_html",
		"body_storage_key", "body_snippet", "sent_at", "is_inbox", "is_sent", "is_draft", "updated_at",
	}
)

type mailStore struct {
	db *gorm.DB
}

func NewMailStore(db *gorm.DB) interfaces.MailStore {
	return &mailStore{db: db}
}

func (r *mailStore) GetThreads(ctx context.Context, accountID string, threadIDs []string) ([]*models.Thread, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "mailStore.GetThreads")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)
	span.SetTag("thread_count", len(threadIDs))

	var threads []*models.Thread
	if len(threadIDs) == 0 {
		return threads, nil
	}
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND id IN ?", accountID, threadIDs).
		Find(&threads).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to get threads: %w", err)
	}
	return threads, nil
}

func (r *mailStore) GetThreadMessages(ctx context.Context, accountID string, threadIDs []string) ([]*models.Message, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "mailStore.GetThreadMessages")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	var messages []*models.Message
	if len(threadIDs) == 0 {
		return messages, nil
	}
	err := r.db.WithContext(ctx).
		Select("account_id", "id", "thread_id", "subject", "sent_at", "is_inbox", "is_sent", "is_draft").
		Where("account_id = ? AND thread_id IN ?", accountID, threadIDs).
		Find(&messages).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to get thread messages: %w", err)
	}
	return messages, nil
}

func (r *mailStore) GetMessagesByIDs(ctx context.Context, accountID string, messageIDs []string) ([]*models.Message, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "mailStore.GetMessagesByIDs")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	var messages []*models.Message
	if len(messageIDs) == 0 {
		return messages, nil
	}
	err := r.db.WithContext(ctx).
		Select("account_id", "id", "thread_id", "sent_at", "is_inbox", "is_sent", "is_draft").
		Where("account_id = ? AND id IN ?", accountID, messageIDs).
		Find(&messages).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	return messages, nil
}

// GetRecentMessages returns the newest messages of the account, bodies excluded.
func (r *mailStore) GetRecentMessages(ctx context.Context, accountID string, limit int) ([]*models.Message, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "mailStore.GetRecentMessages")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)
	span.SetTag("limit", limit)

	var messages []*models.Message
	err := r.db.WithContext(ctx).
		Select("account_id", "id", "thread_id", "from_address", "to_addresses", "subject", "body_snippet", "sent_at").
		Where("account_id = ?", accountID).
		Order("sent_at DESC").
		Order("id ASC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to get recent messages: %w", err)
	}
	return messages, nil
}

// ApplyChangeSet writes the whole set in one transaction
func (r *mailStore) ApplyChangeSet(ctx context.Context, cs *interfaces.ChangeSet) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "mailStore.ApplyChangeSet")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	if cs == nil || cs.AccountID == "" {
		tracing.TraceErr(span, ErrInvalidInput)
		return ErrInvalidInput
	}
	tracing.TagAccount(span, cs.AccountID)
	span.SetTag("reset", cs.Reset)
	span.SetTag("threads", len(cs.Threads))
	span.SetTag("messages", len(cs.Messages))
	span.SetTag("deleted_messages", len(cs.DeletedMessageIDs))
	span.SetTag("deleted_threads", len(cs.DeletedThreadIDs))

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if cs.Reset {
			if err := tx.Where("account_id = ?", cs.AccountID).Delete(&models.Message{}).Error; err != nil {
				return fmt.Errorf("failed to reset messages: %w", err)
			}
			if err := tx.Where("account_id = ?", cs.AccountID).Delete(&models.Thread{}).Error; err != nil {
				return fmt.Errorf("failed to reset threads: %w", err)
			}
		}

		if len(cs.Threads) > 0 {
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "account_id"}, {Name: "id"}},
				DoUpdates: clause.AssignmentColumns(threadUpdateColumns),
			}).CreateInBatches(cs.Threads, upsertBatchSize).Error
			if err != nil {
				return fmt.Errorf("failed to upsert threads: %w", err)
			}
		}

		if len(cs.Messages) > 0 {
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "account_id"}, {Name: "id"}},
				DoUpdates: clause.AssignmentColumns(messageUpdateColumns),
			}).CreateInBatches(cs.Messages, upsertBatchSize).Error
			if err != nil {
				return fmt.Errorf("failed to upsert messages: %w", err)
			}
		}

		if len(cs.DeletedMessageIDs) > 0 {
			err := tx.Where("account_id = ? AND id IN ?", cs.AccountID, cs.DeletedMessageIDs).
				Delete(&models.Message{}).Error
			if err != nil {
				return fmt.Errorf("failed to delete messages: %w", err)
			}
		}

		if len(cs.DeletedThreadIDs) > 0 {
			err := tx.Where("account_id = ? AND id IN ?", cs.AccountID, cs.DeletedThreadIDs).
				Delete(&models.Thread{}).Error
			if err != nil {
				return fmt.Errorf("failed to delete threads: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}
