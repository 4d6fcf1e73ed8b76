package dto

import (
	"time"

	"github.com/customeros/mailsync/internal/enum"
)

type LinkAccountRequest struct {
	UserID            string                 `json:"userId"`
	Provider          enum.MailboxProvider   `json:"provider"`
	ProviderAccountID string                 `json:"providerAccountId"`
	EmailAddress      string                 `json:"emailAddress"`
	Name              string                 `json:"name"`
	Token             string                 `json:"token"`
	ProviderSettings  map[string]interface{} `json:"providerSettings"`
}

type ThreadSummary struct {
	ID            string     `json:"id"`
	Subject       string     `json:"subject"`
	LastMessageAt *time.Time `json:"lastMessageAt"`
	Inbox         bool       `json:"inbox"`
	Sent          bool       `json:"sent"`
	Draft         bool       `json:"draft"`
}

type ThreadList struct {
	Threads []ThreadSummary `json:"threads"`
	Total   int64           `json:"total"`
}

type MessageView struct {
	ID       string    `json:"id"`
	ThreadID string    `json:"threadId"`
	Subject  string    `json:"subject"`
	From     string    `json:"from"`
	To       []string  `json:"to"`
	Cc       []string  `json:"cc"`
	BodyText string    `json:"bodyText"`
	BodyHTML string    `json:"bodyHtml"`
	Snippet  string    `json:"snippet"`
	SentAt   time.Time `json:"sentAt"`
}
