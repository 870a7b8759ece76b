package models

import "time"

type QueueStatus string

const (
	StatusPending    QueueStatus = "pending"
	StatusProcessing QueueStatus = "processing"
	StatusSent       QueueStatus = "sent"
	StatusFailed     QueueStatus = "failed"
)

// DefaultMaxAttempts caps delivery attempts of a queued message.
const DefaultMaxAttempts = 3

// Terminal reports whether no further attempts will be made.
func (s QueueStatus) Terminal() bool {
	return s == StatusSent || s == StatusFailed
}

// QueuedMessage is a rendered message waiting in the durable retry queue.
type QueuedMessage struct {
	ID int64 `json:"id"`
	// ContentID links the message to the content item it announces. Empty
	// for ad hoc messages.
	ContentID   string      `json:"content_id,omitempty"`
	Recipient   string      `json:"recipient"`
	Subject     string      `json:"subject"`
	Body        string      `json:"body"`
	Status      QueueStatus `json:"status"`
	Attempts    int         `json:"attempts"`
	MaxAttempts int         `json:"max_attempts"`
	LastError   string      `json:"last_error,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`
	SentAt    *time.Time `json:"sent_at,omitempty"`
}
