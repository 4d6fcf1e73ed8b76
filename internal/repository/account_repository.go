package repository

import (
	"context"
	"fmt"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/models"
	"github.com/customeros/mailsync/internal/tracing"
	"github.com/customeros/mailsync/internal/utils"
)

type accountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) interfaces.AccountRepository {
	return &accountRepository{db: db}
}

func (r *accountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.GetByID")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, id)

	var account models.Account
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &account, nil
}

func (r *accountRepository) GetByIDForUser(ctx context.Context, userID, id string) (*models.Account, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.GetByIDForUser")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, id)

	var account models.Account
	err := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to get account for user: %w", err)
	}
	return &account, nil
}

// GetLatestForUser returns the most recently linked account of the user.
func (r *accountRepository) GetLatestForUser(ctx context.Context, userID string) (*models.Account, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.GetLatestForUser")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	span.SetTag("user_id", userID)

	var account models.Account
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to get latest account: %w", err)
	}
	return &account, nil
}

func (r *accountRepository) GetByProviderAccountID(ctx context.Context, providerAccountID string) (*models.Account, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.GetByProviderAccountID")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	span.SetTag("provider_account_id", providerAccountID)

	if providerAccountID == "" {
		return nil, nil
	}

	var account models.Account
	err := r.db.WithContext(ctx).
		Where("provider_account_id = ?", providerAccountID).
		Order("created_at DESC").
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to get account by provider id: %w", err)
	}
	return &account, nil
}

func (r *accountRepository) ListByUser(ctx context.Context, userID string) ([]*models.Account, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.ListByUser")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	span.SetTag("user_id", userID)

	var accounts []*models.Account
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&accounts).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return accounts, nil
}

func (r *accountRepository) ListAll(ctx context.Context) ([]*models.Account, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.ListAll")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var accounts []*models.Account
	if err := r.db.WithContext(ctx).Order("created_at ASC").Find(&accounts).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to list all accounts: %w", err)
	}
	return accounts, nil
}

// Link creates the account, or refreshes the credential of an existing one
// matched by user, provider and provider account id.
func (r *accountRepository) Link(ctx context.Context, account *models.Account) (*models.Account, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.Link")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	if account == nil || account.UserID == "" || account.Token == "" {
		tracing.TraceErr(span, ErrInvalidInput)
		return nil, ErrInvalidInput
	}

	var existing models.Account
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND provider = ? AND provider_account_id = ?", account.UserID, account.Provider, account.ProviderAccountID).
		First(&existing).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to look up account: %w", err)
	}

	if err == nil {
		err = r.db.WithContext(ctx).
			Model(&existing).
			Updates(map[string]interface{}{
				"token":             account.Token,
				"email_address":     account.EmailAddress,
				"name":              account.Name,
				"provider_settings": account.ProviderSettings,
				"updated_at":        utils.Now(),
			}).Error
		if err != nil {
			tracing.TraceErr(span, err)
			return nil, fmt.Errorf("failed to relink account: %w", err)
		}
		tracing.TagAccount(span, existing.ID)
		return r.GetByID(ctx, existing.ID)
	}

	if err := r.db.WithContext(ctx).Create(account).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	tracing.TagAccount(span, account.ID)
	return account, nil
}
