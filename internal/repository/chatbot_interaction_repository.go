package repository

import (
	"context"
	"fmt"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"

	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/models"
	"github.com/customeros/mailsync/internal/tracing"
	"github.com/customeros/mailsync/internal/utils"
)

type chatbotInteractionRepository struct {
	db *gorm.DB
}

func NewChatbotInteractionRepository(db *gorm.DB) interfaces.ChatbotInteractionRepository {
	return &chatbotInteractionRepository{db: db}
}

func (r *chatbotInteractionRepository) GetCount(ctx context.Context, userID, day string) (int, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "chatbotInteractionRepository.GetCount")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	span.SetTag("user_id", userID)

	var interactions []models.ChatbotInteraction
	err := r.db.WithContext(ctx).
		Where("day = ? AND user_id = ?", day, userID).
		Limit(1).
		Find(&interactions).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return 0, fmt.Errorf("failed to get chatbot interactions: %w", err)
	}
	if len(interactions) == 0 {
		return 0, nil
	}
	return interactions[0].Count, nil
}

// Reserve increments the day's counter in one statement, only while it is
// below limit, so concurrent requests cannot overspend.
func (r *chatbotInteractionRepository) Reserve(ctx context.Context, userID, day string, limit int) (int, bool, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "chatbotInteractionRepository.Reserve")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	span.SetTag("user_id", userID)

	if limit <= 0 {
		return 0, false, nil
	}

	now := utils.Now()
	var counts []int
	err := r.db.WithContext(ctx).Raw(`
		INSERT INTO chatbot_interactions (id, day, user_id, count, created_at, updated_at)
		VALUES (?, ?, ?, 1, ?, ?)
		ON CONFLICT (day, user_id) DO UPDATE
		SET count = chatbot_interactions.count + 1, updated_at = EXCLUDED.updated_at
		WHERE chatbot_interactions.count < ?
		RETURNING count`,
		utils.GenerateNanoIDWithPrefix("chat", 16), day, userID, now, now, limit,
	).Scan(&counts).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return 0, false, fmt.Errorf("failed to reserve chatbot credit: %w", err)
	}
	if len(counts) == 0 {
		span.LogKV("reserved", false)
		return limit, false, nil
	}
	return counts[0], true, nil
}

func (r *chatbotInteractionRepository) Release(ctx context.Context, userID, day string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "chatbotInteractionRepository.Release")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	span.SetTag("user_id", userID)

	err := r.db.WithContext(ctx).
		Model(&models.ChatbotInteraction{}).
		Where("day = ? AND user_id = ? AND count > 0", day, userID).
		UpdateColumns(map[string]interface{}{
			"count":      gorm.Expr("count - 1"),
			"updated_at": utils.Now(),
		}).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to release chatbot credit: %w", err)
	}
	return nil
}
