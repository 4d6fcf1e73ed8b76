package dto

import "time"

// RemoteMessage is a message as reported by a provider, before
// normalization. Deleted markers only carry the ID.
type RemoteMessage struct {
	ID       string
	ThreadID string
	Subject  string
	From     string
	To       []string
	Cc       []string
	SentAt   time.Time
	Snippet  string
	BodyText string
	BodyHTML string
	Labels   []string
	Deleted  bool
}

// RemoteBatch is one fully paginated provider response. NextToken is the
// continuation token to store once the batch has been persisted.
type RemoteBatch struct {
	Messages  []RemoteMessage
	NextToken string
}
