package dto

import "time"

type SearchRequest struct {
	AccountID string `json:"accountId"`
	Query     string `json:"query"`
}

// SearchHit is one matching message. RawBody carries the snippet.
type SearchHit struct {
	ID       string    `json:"id"`
	ThreadID string    `json:"threadId"`
	Title    string    `json:"title"`
	From     string    `json:"from"`
	To       []string  `json:"to"`
	RawBody  string    `json:"rawBody"`
	SentAt   time.Time `json:"-"`
	Score    float64   `json:"-"`
}
