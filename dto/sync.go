package dto

import (
	"time"

	"github.com/customeros/mailsync/internal/enum"
)

type SyncResult struct {
	AccountID        string        `json:"accountId"`
	Kind             enum.SyncKind `json:"kind"`
	DeltaToken       string        `json:"deltaToken"`
	MessagesUpserted int           `json:"messagesUpserted"`
	MessagesDeleted  int           `json:"messagesDeleted"`
	ThreadsUpserted  int           `json:"threadsUpserted"`
	ThreadsDeleted   int           `json:"threadsDeleted"`
	Duration         time.Duration `json:"duration"`
}

type SyncRequest struct {
	UserID     string `json:"userId"`
	FullResync bool   `json:"fullResync"`
}

type SyncResponse struct {
	Success    bool   `json:"success"`
	DeltaToken string `json:"deltaToken"`
	AccountID  string `json:"accountId"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type AccountStatus struct {
	AccountID           string          `json:"accountId"`
	UserID              string          `json:"userId"`
	Provider            string          `json:"provider"`
	EmailAddress        string          `json:"emailAddress"`
	Mode                enum.SyncMode   `json:"mode"`
	Status              enum.SyncStatus `json:"status"`
	LastError           string          `json:"lastError,omitempty"`
	ConsecutiveFailures int             `json:"consecutiveFailures"`
	LastSyncedAt        *time.Time      `json:"lastSyncedAt"`
}
