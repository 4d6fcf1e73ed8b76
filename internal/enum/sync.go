package enum

// SyncMode is derived from the presence of a continuation token.
type SyncMode string

const (
	SyncModeUninitialized SyncMode = "UNINITIALIZED"
	SyncModeSynced        SyncMode = "SYNCED"
)

func (m SyncMode) String() string {
	return string(m)
}

type SyncStatus string

const (
	SyncStatusActive         SyncStatus = "active"
	SyncStatusDegraded       SyncStatus = "degraded"
	SyncStatusReauthRequired SyncStatus = "reauth_required"
)

func (s SyncStatus) String() string {
	return string(s)
}

// SyncKind describes what a completed cycle did.
type SyncKind string

const (
	SyncKindInitial    SyncKind = "initial"
	SyncKindDelta      SyncKind = "delta"
	SyncKindFullResync SyncKind = "full_resync"
)

func (k SyncKind) String() string {
	return string(k)
}
