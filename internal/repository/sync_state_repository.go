package repository

import (
	"context"
	"fmt"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/enum"
	"github.com/customeros/mailsync/internal/models"
	"github.com/customeros/mailsync/internal/tracing"
	"github.com/customeros/mailsync/internal/utils"
)

type syncStateRepository struct {
	db *gorm.DB
}

func NewSyncStateRepository(db *gorm.DB) interfaces.SyncStateRepository {
	return &syncStateRepository{db: db}
}

// GetSyncState returns nil when the account has no row yet
func (r *syncStateRepository) GetSyncState(ctx context.Context, accountID string) (*models.AccountSyncState, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "syncStateRepository.GetSyncState")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	var state models.AccountSyncState
	err := r.db.WithContext(ctx).Where("account_id = ?", accountID).First(&state).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to get sync state: %w", err)
	}
	return &state, nil
}

func (r *syncStateRepository) GetSyncStates(ctx context.Context) (map[string]*models.AccountSyncState, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "syncStateRepository.GetSyncStates")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var states []*models.AccountSyncState
	if err := r.db.WithContext(ctx).Find(&states).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to get sync states: %w", err)
	}

	result := make(map[string]*models.AccountSyncState, len(states))
	for _, state := range states {
		result[state.AccountID] = state
	}
	return result, nil
}

// SaveCursor replaces the token in a single statement and marks the account healthy.
func (r *syncStateRepository) SaveCursor(ctx context.Context, accountID, token string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "syncStateRepository.SaveCursor")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	if accountID == "" || token == "" {
		tracing.TraceErr(span, ErrInvalidInput)
		return ErrInvalidInput
	}

	now := utils.Now()
	state := models.AccountSyncState{
		AccountID:    accountID,
		DeltaToken:   &token,
		Status:       enum.SyncStatusActive,
		LastSyncedAt: &now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "account_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"delta_token":          token,
				"status":               enum.SyncStatusActive,
				"last_error":           "",
				"consecutive_failures": 0,
				"last_synced_at":       now,
				"updated_at":           now,
			}),
		}).
		Create(&state).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to save cursor: %w", err)
	}
	return nil
}

func (r *syncStateRepository) ClearCursor(ctx context.Context, accountID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "syncStateRepository.ClearCursor")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	err := r.db.WithContext(ctx).
		Model(&models.AccountSyncState{}).
		Where("account_id = ?", accountID).
		Updates(map[string]interface{}{
			"delta_token": gorm.Expr("NULL"),
			"updated_at":  utils.Now(),
		}).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to clear cursor: %w", err)
	}
	return nil
}

// SetStatus records a status change. Non-active statuses count as a failure.
func (r *syncStateRepository) SetStatus(ctx context.Context, accountID string, status enum.SyncStatus, reason string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "syncStateRepository.SetStatus")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)
	span.SetTag("status", status.String())

	failures := 0
	failureExpr := gorm.Expr("0")
	if status != enum.SyncStatusActive {
		failures = 1
		failureExpr = gorm.Expr("account_sync_states.consecutive_failures + 1")
	}

	now := utils.Now()
	state := models.AccountSyncState{
		AccountID:           accountID,
		Status:              status,
		LastError:           reason,
		ConsecutiveFailures: failures,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "account_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"status":               status,
				"last_error":           reason,
				"consecutive_failures": failureExpr,
				"updated_at":           now,
			}),
		}).
		Create(&state).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to set sync status: %w", err)
	}
	return nil
}

// Reset puts the account back to UNINITIALIZED and active, used on relink.
func (r *syncStateRepository) Reset(ctx context.Context, accountID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "syncStateRepository.Reset")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	now := utils.Now()
	state := models.AccountSyncState{
		AccountID: accountID,
		Status:    enum.SyncStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "account_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"delta_token":          gorm.Expr("NULL"),
				"status":               enum.SyncStatusActive,
				"last_error":           "",
				"consecutive_failures": 0,
				"updated_at":           now,
			}),
		}).
		Create(&state).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to reset sync state: %w", err)
	}
	return nil
}
