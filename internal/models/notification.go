package models

import "time"

// NotificationStatus tracks one delivery attempt record.
type NotificationStatus string

const (
	NotificationPending NotificationStatus = "pending"
	NotificationSent    NotificationStatus = "sent"
	NotificationFailed  NotificationStatus = "failed"
)

// Terminal reports whether no further delivery attempts are scheduled.
func (s NotificationStatus) Terminal() bool {
	return s == NotificationSent || s == NotificationFailed
}

// AlertNotification is one per-channel delivery record, child of one alert.
// Rows are created in batch at alert-creation time and mutated solely by
// the dispatcher's send/retry loop; they are never deleted.
type AlertNotification struct {
	ID        string             `json:"id"`
	AlertID   string             `json:"alert_id"`
	Channel   string             `json:"channel"`
	Recipient string             `json:"recipient"`
	Body      string             `json:"body"`
	Status    NotificationStatus `json:"status"`

	RetryCount  int        `json:"retry_count"`
	MaxRetries  int        `json:"max_retries"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`

	SentAt       *time.Time `json:"sent_at,omitempty"`
	FailedAt     *time.Time `json:"failed_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
