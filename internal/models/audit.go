package models

import "time"

// ActorType identifies what kind of principal performed an audited action.
type ActorType string

const (
	ActorUser   ActorType = "user"
	ActorSystem ActorType = "system"
	ActorAPI    ActorType = "api"
)

// Audit action names. Every lifecycle transition and rule mutation
// produces exactly one entry.
const (
	AuditAlertCreated      = "created"
	AuditAlertAcknowledged = "acknowledged"
	AuditAlertResolved     = "resolved"
	AuditAlertDismissed    = "dismissed"
	AuditAlertEscalated    = "escalated"
	AuditRuleCreated       = "rule_created"
	AuditRuleUpdated       = "rule_updated"
	AuditRuleDisabled      = "rule_disabled"
)

// AuditEntry is an append-only record of a state-changing action.
// Entries are immutable once written.
type AuditEntry struct {
	ID       string `json:"id"`
	AlertID  string `json:"alert_id"` // rule id for rule_* actions
	TenantID string `json:"tenant_id"`

	Action    string    `json:"action"`
	Actor     string    `json:"actor"`
	ActorType ActorType `json:"actor_type"`

	// Changes holds before/after values, e.g.
	// {"status": {"from": "new", "to": "acknowledged"}}.
	Changes map[string]any `json:"changes,omitempty"`
	Reason  string         `json:"reason,omitempty"`

	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}
