package models

import (
	"time"
)

// FolderFlags is the inbox/sent/draft classification of a message or thread.
type FolderFlags struct {
	Inbox bool `json:"inbox"`
	Sent  bool `json:"sent"`
	Draft bool `json:"draft"`
}

func (f FolderFlags) Or(other FolderFlags) FolderFlags {
	return FolderFlags{
		Inbox: f.Inbox || other.Inbox,
		Sent:  f.Sent || other.Sent,
		Draft: f.Draft || other.Draft,
	}
}

type Thread struct {
	AccountID     string     `gorm:"column:account_id;type:varchar(50);primaryKey" json:"accountId"`
	ID            string     `gorm:"column:id;type:text;primaryKey" json:"id"`
	Subject       string     `gorm:"column:subject;type:varchar(1000)" json:"subject"`
	LastMessageAt *time.Time `gorm:"column:last_message_at;type:timestamp;index" json:"lastMessageAt"`
	InboxStatus   bool       `gorm:"column:inbox_status;not null;default:false" json:"inboxStatus"`
	SentStatus    bool       `gorm:"column:sent_status;not null;default:false" json:"sentStatus"`
	DraftStatus   bool       `gorm:"column:draft_status;not null;default:false" json:"draftStatus"`
	CreatedAt     time.Time  `gorm:"column:created_at;type:timestamp" json:"createdAt"`
	UpdatedAt     time.Time  `gorm:"column:updated_at;type:timestamp" json:"updatedAt"`
}

func (Thread) TableName() string {
	return "threads"
}

func (t *Thread) Flags() FolderFlags {
	return FolderFlags{Inbox: t.InboxStatus, Sent: t.SentStatus, Draft: t.DraftStatus}
}

func (t *Thread) SetFlags(f FolderFlags) {
	t.InboxStatus = f.Inbox
	t.SentStatus = f.Sent
	t.DraftStatus = f.Draft
}
