package models

import (
	"time"

	"github.com/customeros/mailsync/internal/enum"
)

// AccountSyncState is the persisted sync cursor of one account. A nil
// DeltaToken means the account has never completed a sync.
type AccountSyncState struct {
	AccountID           string          `gorm:"column:account_id;type:varchar(50);primaryKey" json:"accountId"`
	DeltaToken          *string         `gorm:"column:delta_token;type:text" json:"deltaToken"`
	Status              enum.SyncStatus `gorm:"column:status;type:varchar(30);not null;default:active;index" json:"status"`
	LastError           string          `gorm:"column:last_error;type:text" json:"lastError,omitempty"`
	ConsecutiveFailures int             `gorm:"column:consecutive_failures;not null;default:0" json:"consecutiveFailures"`
	LastSyncedAt        *time.Time      `gorm:"column:last_synced_at;type:timestamp" json:"lastSyncedAt"`
	CreatedAt           time.Time       `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt           time.Time       `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
}

func (AccountSyncState) TableName() string {
	return "account_sync_states"
}

func (s *AccountSyncState) Mode() enum.SyncMode {
	if s == nil || s.DeltaToken == nil {
		return enum.SyncModeUninitialized
	}
	return enum.SyncModeSynced
}

func (s *AccountSyncState) Token() string {
	if s == nil || s.DeltaToken == nil {
		return ""
	}
	return *s.DeltaToken
}

func (s *AccountSyncState) NeedsReauth() bool {
	return s != nil && s.Status == enum.SyncStatusReauthRequired
}
