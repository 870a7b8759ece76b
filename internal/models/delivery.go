package models

import "time"

type DeliveryStatus string

const (
	DeliverySent   DeliveryStatus = "sent"
	DeliveryFailed DeliveryStatus = "failed"
)

// DeliveryRecord is one append-only ledger row per recipient per attempt.
type DeliveryRecord struct {
	ID               int64            `json:"id"`
	ContentID        string           `json:"content_id"`
	Recipient        string           `json:"recipient"`
	NotificationType NotificationType `json:"notification_type"`
	Attempt          int              `json:"attempt"`
	Status           DeliveryStatus   `json:"status"`
	ErrorMsg         string           `json:"error_msg,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
}
