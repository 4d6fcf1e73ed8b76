package dto

import "github.com/customeros/mailsync/internal/enum"

// SyncRequested asks a worker to run one sync cycle for an account.
type SyncRequested struct {
	AccountID  string `json:"accountId"`
	FullResync bool   `json:"fullResync"`
	Reason     string `json:"reason"`
}

// SyncAlert is published when an account stops syncing on its own.
type SyncAlert struct {
	AccountID string          `json:"accountId"`
	UserID    string          `json:"userId"`
	Status    enum.SyncStatus `json:"status"`
	Reason    string          `json:"reason"`
}

type AccountSynced struct {
	AccountID        string        `json:"accountId"`
	UserID           string        `json:"userId"`
	Kind             enum.SyncKind `json:"kind"`
	DeltaToken       string        `json:"deltaToken"`
	MessagesUpserted int           `json:"messagesUpserted"`
	MessagesDeleted  int           `json:"messagesDeleted"`
}
