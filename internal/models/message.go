package models

import (
	"time"

	"github.com/lib/pq"
)

type Message struct {
	AccountID      string         `gorm:"column:account_id;type:varchar(50);primaryKey;index:idx_messages_account_sent,priority:1" json:"accountId"`
	ID             string         `gorm:"column:id;type:text;primaryKey" json:"id"`
	ThreadID       string         `gorm:"column:thread_id;type:text;index;not null" json:"threadId"`
	FromAddress    string         `gorm:"column:from_address;type:varchar(255)" json:"from"`
	ToAddresses    pq.StringArray `gorm:"column:to_addresses;type:text[]" json:"to"`
	CcAddresses    pq.StringArray `gorm:"column:cc_addresses;type:text[]" json:"cc"`
	Subject        string         `gorm:"column:subject;type:varchar(1000)" json:"subject"`
	BodyText       string         `gorm:"column:body_text;type:text" json:"bodyText,omitempty"`
	BodyHTML       string         `gorm:"column:body_html;type:text" json:"bodyHtml,omitempty"`
	BodyStorageKey string         `gorm:"column:body_storage_key;type:varchar(500)" json:"-"`
	BodySnippet    string         `gorm:"column:body_snippet;type:varchar(1000)" json:"bodySnippet"`
	SentAt         time.Time      `gorm:"column:sent_at;type:timestamp;index:idx_messages_account_sent,priority:2,sort:desc" json:"sentAt"`
	IsInbox        bool           `gorm:"column:is_inbox;not null;default:false" json:"isInbox"`
	IsSent         bool           `gorm:"column:is_sent;not null;default:false" json:"isSent"`
	IsDraft        bool           `gorm:"column:is_draft;not null;default:false" json:"isDraft"`
	CreatedAt      time.Time      `gorm:"column:created_at;type:timestamp" json:"createdAt"`
	UpdatedAt      time.Time      `gorm:"column:updated_at;type:timestamp" json:"updatedAt"`
}

func (Message) TableName() string {
	return "messages"
}

func (m *Message) Flags() FolderFlags {
	return FolderFlags{Inbox: m.IsInbox, Sent: m.IsSent, Draft: m.IsDraft}
}

func (m *Message) SetFlags(f FolderFlags) {
	m.IsInbox = f.Inbox
	m.IsSent = f.Sent
	m.IsDraft = f.Draft
}
