package models

import (
	"strconv"
	"time"

	"gorm.io/gorm"

	"github.com/customeros/mailsync/internal/enum"
	"github.com/customeros/mailsync/internal/utils"
)

// Account is one linked remote mailbox.
type Account struct {
	ID                string               `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	UserID            string               `gorm:"column:user_id;type:varchar(100);index;not null" json:"userId"`
	Provider          enum.MailboxProvider `gorm:"column:provider;type:varchar(20);not null;default:aurinko" json:"provider"`
	ProviderAccountID string               `gorm:"column:provider_account_id;type:varchar(255);index" json:"providerAccountId"`
	EmailAddress      string               `gorm:"column:email_address;type:varchar(255)" json:"emailAddress"`
	Name              string               `gorm:"column:name;type:varchar(255)" json:"name"`
	Token             string               `gorm:"column:token;type:text;not null" json:"-"`
	ProviderSettings  JSONMap              `gorm:"column:provider_settings;type:jsonb" json:"providerSettings,omitempty"`
	CreatedAt         time.Time            `gorm:"column:created_at;type:timestamp;index" json:"createdAt"`
	UpdatedAt         time.Time            `gorm:"column:updated_at;type:timestamp" json:"updatedAt"`
}

func (Account) TableName() string {
	return "accounts"
}

func (a *Account) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = utils.GenerateNanoIDWithPrefix("acct", 16)
	}
	if a.Provider == "" {
		a.Provider = enum.ProviderAurinko
	}
	now := utils.Now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	return nil
}

// Setting returns a provider setting as a string.
func (a *Account) Setting(key string) string {
	if a.ProviderSettings == nil {
		return ""
	}
	v, ok := a.ProviderSettings[key]
	if !ok || v == nil {
		return ""
	}
	switch value := v.(type) {
	case string:
		return value
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(value)
	}
	return ""
}
