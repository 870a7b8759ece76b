package models

type RecipientStatus string

const (
	RecipientActive       RecipientStatus = "active"
	RecipientUnsubscribed RecipientStatus = "unsubscribed"
)

// Recipient is a subscriber keyed by email address.
type Recipient struct {
	Email       string                    `json:"email" validate:"required,email"`
	Name        string                    `json:"name,omitempty"`
	Preferences map[NotificationType]bool `json:"preferences,omitempty"`
	Status      RecipientStatus           `json:"status,omitempty"`
}

// Wants reports whether the recipient accepts notifications of type t.
// A category missing from the preference set counts as enabled.
func (r Recipient) Wants(t NotificationType) bool {
	enabled, ok := r.Preferences[t]
	if !ok {
		return true
	}
	return enabled
}
