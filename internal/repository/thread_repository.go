package repository

import (
	"context"
	"fmt"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/enum"
	"github.com/customeros/mailsync/internal/models"
	"github.com/customeros/mailsync/internal/tracing"
)

type threadRepository struct {
	db *gorm.DB
}

func NewThreadRepository(db *gorm.DB) interfaces.ThreadRepository {
	return &threadRepository{db: db}
}

func tabColumn(tab enum.ThreadTab) (string, error) {
	switch tab {
	case enum.TabInbox:
		return "inbox_status", nil
	case enum.TabSent:
		return "sent_status", nil
	case enum.TabDrafts:
		return "draft_status", nil
	}
	return "", errors.Wrapf(ErrInvalidInput, "unknown tab %q", tab)
}

// ListByTab returns the threads shown on a tab, newest first
func (r *threadRepository) ListByTab(ctx context.Context, accountID string, tab enum.ThreadTab, limit, offset int) ([]*models.Thread, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "threadRepository.ListByTab")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)
	span.SetTag("tab", tab.String())
	span.SetTag("limit", limit)
	span.SetTag("offset", offset)

	column, err := tabColumn(tab)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	var threads []*models.Thread
	err = r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Where(column+" = ?", true).
		Order("last_message_at DESC NULLS LAST").
		Limit(limit).
		Offset(offset).
		Find(&threads).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}
	return threads, nil
}

func (r *threadRepository) CountByTab(ctx context.Context, accountID string, tab enum.ThreadTab) (int64, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "threadRepository.CountByTab")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)
	span.SetTag("tab", tab.String())

	column, err := tabColumn(tab)
	if err != nil {
		tracing.TraceErr(span, err)
		return 0, err
	}

	var count int64
	err = r.db.WithContext(ctx).
		Model(&models.Thread{}).
		Where("account_id = ?", accountID).
		Where(column+" = ?", true).
		Count(&count).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return 0, fmt.Errorf("failed to count threads: %w", err)
	}
	return count, nil
}

func (r *threadRepository) GetMessage(ctx context.Context, accountID, messageID string) (*models.Message, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "threadRepository.GetMessage")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)
	tracing.TagEntity(span, messageID)

	var message models.Message
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND id = ?", accountID, messageID).
		First(&message).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return &message, nil
}
