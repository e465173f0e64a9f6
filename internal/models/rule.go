package models

import (
	"fmt"
	"time"
)

// TriggerType defines what kind of upstream signal a rule reacts to.
type TriggerType string

const (
	TriggerThreshold    TriggerType = "threshold"
	TriggerPattern      TriggerType = "pattern"
	TriggerMLPrediction TriggerType = "ml_prediction"
	TriggerManual       TriggerType = "manual"
)

// ValidTriggerType reports whether s is a known trigger type.
func ValidTriggerType(s string) bool {
	switch TriggerType(s) {
	case TriggerThreshold, TriggerPattern, TriggerMLPrediction, TriggerManual:
		return true
	}
	return false
}

// Operator is a condition comparison operator.
type Operator string

const (
	OpGT       Operator = "gt"
	OpLT       Operator = "lt"
	OpEQ       Operator = "eq"
	OpNE       Operator = "ne"
	OpContains Operator = "contains"
	OpRegex    Operator = "regex"
)

// Condition is one declarative trigger condition. A rule matches a signal
// only when every condition holds.
type Condition struct {
	// Field names a signal attribute. "data.<key>" and "metadata.<key>"
	// address the signal's context and evidence maps directly; bare names
	// check top-level attributes first, then context, then evidence.
	Field    string   `json:"field" yaml:"field"`
	Operator Operator `json:"operator" yaml:"operator"`
	Value    any      `json:"value" yaml:"value"`
}

// Validate checks a single condition.
func (c *Condition) Validate() error {
	if c.Field == "" {
		return fmt.Errorf("condition field is required")
	}
	switch c.Operator {
	case OpGT, OpLT, OpEQ, OpNE, OpContains, OpRegex:
	default:
		return fmt.Errorf("invalid operator %q", c.Operator)
	}
	return nil
}

// AlertRule is a named, tenant-scoped declarative trigger.
type AlertRule struct {
	ID          string      `json:"id"`
	TenantID    string      `json:"tenant_id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Enabled     bool        `json:"enabled"`
	TriggerType TriggerType `json:"trigger_type"`
	Conditions  []Condition `json:"conditions"`
	Severity    Severity    `json:"severity"`
	Channels    []string    `json:"channels"`

	// CooldownMinutes is the hard suppression window after an accepted
	// alert for this rule. Zero disables the cooldown.
	CooldownMinutes int `json:"cooldown_minutes"`

	// GroupSimilar collapses alerts sharing a dedup key within
	// GroupWindowMinutes into one logical incident for reporting.
	GroupSimilar       bool `json:"group_similar"`
	GroupWindowMinutes int  `json:"group_window_minutes"`

	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewAlertRule creates a rule with the defaults the store applies.
func NewAlertRule(tenantID, name string, trigger TriggerType, severity Severity) *AlertRule {
	now := time.Now()
	return &AlertRule{
		TenantID:           tenantID,
		Name:               name,
		Enabled:            true,
		TriggerType:        trigger,
		Severity:           severity,
		Channels:           []string{},
		CooldownMinutes:    5,
		GroupSimilar:       true,
		GroupWindowMinutes: 15,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// Validate checks the rule's invariants.
func (r *AlertRule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("rule name is required")
	}
	if r.TenantID == "" {
		return fmt.Errorf("tenant id is required for rule %q", r.Name)
	}
	if !ValidTriggerType(string(r.TriggerType)) {
		return fmt.Errorf("invalid trigger type %q for rule %q", r.TriggerType, r.Name)
	}
	if !ValidSeverity(string(r.Severity)) {
		return fmt.Errorf("invalid severity %q for rule %q", r.Severity, r.Name)
	}
	if r.CooldownMinutes < 0 {
		return fmt.Errorf("cooldown must not be negative for rule %q", r.Name)
	}
	if r.GroupWindowMinutes < 0 {
		return fmt.Errorf("group window must not be negative for rule %q", r.Name)
	}
	if r.Enabled && len(r.Channels) == 0 {
		return fmt.Errorf("enabled rule %q must have at least one channel", r.Name)
	}
	for i := range r.Conditions {
		if err := r.Conditions[i].Validate(); err != nil {
			return fmt.Errorf("rule %q condition %d: %w", r.Name, i, err)
		}
	}
	return nil
}

// Cooldown returns the cooldown as a duration.
func (r *AlertRule) Cooldown() time.Duration {
	return time.Duration(r.CooldownMinutes) * time.Minute
}

// GroupWindow returns the grouping window as a duration.
func (r *AlertRule) GroupWindow() time.Duration {
	return time.Duration(r.GroupWindowMinutes) * time.Minute
}
