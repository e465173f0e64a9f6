// Package models defines domain models for AlertFlow.
package models

import "time"

// Severity represents alert severity level.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ParseSeverity converts a string to Severity.
func ParseSeverity(s string) Severity {
	switch s {
	case "low":
		return SeverityLow
	case "medium":
		return SeverityMedium
	case "high":
		return SeverityHigh
	case "critical":
		return SeverityCritical
	default:
		return SeverityMedium
	}
}

// ValidSeverity reports whether s is a known severity value.
func ValidSeverity(s string) bool {
	switch Severity(s) {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Category classifies what kind of condition an alert reports.
type Category string

const (
	CategorySecurityThreat      Category = "security_threat"
	CategorySystemError         Category = "system_error"
	CategoryPerformanceIssue    Category = "performance_issue"
	CategoryComplianceViolation Category = "compliance_violation"
	CategoryMLAnomaly           Category = "ml_anomaly"
	CategoryManualTrigger       Category = "manual_trigger"
)

// Categories lists all known categories, used for validation and statistics.
var Categories = []Category{
	CategorySecurityThreat,
	CategorySystemError,
	CategoryPerformanceIssue,
	CategoryComplianceViolation,
	CategoryMLAnomaly,
	CategoryManualTrigger,
}

// ValidCategory reports whether s is a known category value.
func ValidCategory(s string) bool {
	for _, c := range Categories {
		if Category(s) == c {
			return true
		}
	}
	return false
}

// Status represents the lifecycle state of an alert.
type Status string

const (
	StatusNew          Status = "new"
	StatusAcknowledged Status = "acknowledged"
	StatusResolved     Status = "resolved"
	StatusDismissed    Status = "dismissed"
)

// ValidStatus reports whether s is a known status value.
func ValidStatus(s string) bool {
	switch Status(s) {
	case StatusNew, StatusAcknowledged, StatusResolved, StatusDismissed:
		return true
	}
	return false
}

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusResolved || s == StatusDismissed
}

// MLAnalysis carries the output of the upstream threat scorer.
// It is consumed as an opaque input; the engine only maps riskScore
// to severity and stores the rest as evidence.
type MLAnalysis struct {
	RiskScore   float64 `json:"risk_score"` // in [0, 1]
	Confidence  float64 `json:"confidence"` // in [0, 1]
	ThreatType  string  `json:"threat_type,omitempty"`
	Explanation string  `json:"explanation,omitempty"`
}

// Alert is one persisted occurrence of a triggered condition.
type Alert struct {
	ID       string   `json:"id"`
	RuleID   string   `json:"rule_id,omitempty"` // empty for ad hoc alerts
	TenantID string   `json:"tenant_id"`
	Title    string   `json:"title"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
	Category Category `json:"category"`
	Status   Status   `json:"status"`
	Source   string   `json:"source,omitempty"`

	// Correlation fields
	RequestID string `json:"request_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	Endpoint  string `json:"endpoint,omitempty"`

	// ML evidence, set when the alert came from the threat scorer.
	ML *MLAnalysis `json:"ml,omitempty"`

	Context  map[string]any `json:"context,omitempty"`
	Evidence map[string]any `json:"evidence,omitempty"`

	TriggeredAt time.Time `json:"triggered_at"`

	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	AcknowledgedBy string     `json:"acknowledged_by,omitempty"`

	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy     string     `json:"resolved_by,omitempty"`
	ResolvedReason string     `json:"resolved_reason,omitempty"`

	DismissedAt     *time.Time `json:"dismissed_at,omitempty"`
	DismissedBy     string     `json:"dismissed_by,omitempty"`
	DismissedReason string     `json:"dismissed_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
