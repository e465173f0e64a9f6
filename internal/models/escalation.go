package models

import "time"

// EscalationStatus tracks a scheduled escalation step.
type EscalationStatus string

const (
	EscalationPending   EscalationStatus = "pending"
	EscalationFired     EscalationStatus = "fired"
	EscalationCancelled EscalationStatus = "cancelled"
)

// Escalation is a persisted "due at" record for one escalation step of an
// unacknowledged alert. Persisting the schedule (instead of holding timers
// in memory) lets escalation survive process restarts and run correctly
// across multiple service instances.
type Escalation struct {
	ID       string `json:"id"`
	AlertID  string `json:"alert_id"`
	TenantID string `json:"tenant_id"`

	// Step is the zero-based index into the escalation policy's step list.
	Step int `json:"step"`

	// Channels override the alert's channels for this step. Empty means
	// re-notify the alert's own channels.
	Channels []string `json:"channels,omitempty"`

	DueAt  time.Time        `json:"due_at"`
	Status EscalationStatus `json:"status"`

	FiredAt     *time.Time `json:"fired_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
