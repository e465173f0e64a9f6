// Package storage provides database storage interfaces and implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/good-yellow-bee/alertflow/internal/models"
)

// ErrConflict is returned by conditional writes when the record's current
// state no longer matches the expected pre-state.
var ErrConflict = errors.New("storage: conditional update conflict")

// Storage is the main interface for database operations.
type Storage interface {
	// Open initializes the database connection.
	Open() error
	// Close closes the database connection.
	Close() error
	// Migrate runs database migrations.
	Migrate() error
	// Ping verifies the database connection for health checks.
	Ping(ctx context.Context) error

	// Repository accessors
	Rules() RuleRepository
	Alerts() AlertRepository
	Notifications() NotificationRepository
	AuditLog() AuditLogRepository
	Escalations() EscalationRepository
}

// RuleRepository defines operations for alert rule management.
// Rules are never hard-deleted; they are disabled to preserve audit
// continuity.
type RuleRepository interface {
	Create(ctx context.Context, rule *models.AlertRule) error
	GetByID(ctx context.Context, id string) (*models.AlertRule, error)
	Update(ctx context.Context, rule *models.AlertRule) error
	SetEnabled(ctx context.Context, id string, enabled bool) error
	List(ctx context.Context, tenantID string) ([]*models.AlertRule, error)
	ListEnabled(ctx context.Context, tenantID string) ([]*models.AlertRule, error)
}

// AlertFilter narrows alert listings. Zero values mean no filter.
type AlertFilter struct {
	Status   models.Status
	Severity models.Severity
	Category models.Category
	Limit    int
	Offset   int
}

// AlertRepository defines operations for alert records.
type AlertRepository interface {
	Create(ctx context.Context, alert *models.Alert) error
	GetByID(ctx context.Context, id string) (*models.Alert, error)

	// UpdateStatus performs a conditional status transition: the write
	// succeeds only when the stored status is one of expected, and the
	// matched pre-state is returned. It returns ("", nil) when the alert
	// does not exist and ErrConflict when the stored status does not
	// match.
	UpdateStatus(ctx context.Context, id string, expected []models.Status, update StatusUpdate) (models.Status, error)

	// List returns a tenant's alerts, most recent first.
	List(ctx context.Context, tenantID string, filter AlertFilter) ([]*models.Alert, error)

	// ListSince returns a tenant's alerts triggered at or after cutoff,
	// most recent first, for statistics.
	ListSince(ctx context.Context, tenantID string, cutoff time.Time) ([]*models.Alert, error)

	// CountRecentByRule counts alerts for a rule triggered at or after
	// cutoff; used for the cooldown gate.
	CountRecentByRule(ctx context.Context, tenantID, ruleID string, cutoff time.Time) (int64, error)

	// CountRecentByKey counts alerts sharing (category, severity, source)
	// triggered at or after cutoff; the ad hoc dedup key.
	CountRecentByKey(ctx context.Context, tenantID string, category models.Category, severity models.Severity, source string, cutoff time.Time) (int64, error)
}

// StatusUpdate carries the fields a lifecycle transition sets.
type StatusUpdate struct {
	Status models.Status
	Actor  string
	Reason string
	At     time.Time
}

// NotificationRepository defines operations for delivery attempt records.
type NotificationRepository interface {
	CreateBatch(ctx context.Context, notifications []*models.AlertNotification) error
	GetByID(ctx context.Context, id string) (*models.AlertNotification, error)
	ListByAlert(ctx context.Context, alertID string) ([]*models.AlertNotification, error)

	// ListDue returns pending notifications whose next retry is due
	// (or that have never been attempted), oldest first.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*models.AlertNotification, error)

	MarkSent(ctx context.Context, id string, at time.Time) error
	ScheduleRetry(ctx context.Context, id string, retryCount int, nextRetryAt time.Time, errMsg string) error
	MarkFailed(ctx context.Context, id string, at time.Time, errMsg string) error
}

// AuditLogRepository defines append-only audit log operations.
type AuditLogRepository interface {
	Append(ctx context.Context, entry *models.AuditEntry) error
	ListByAlert(ctx context.Context, alertID string) ([]*models.AuditEntry, error)
	ListByTenant(ctx context.Context, tenantID string, limit, offset int) ([]*models.AuditEntry, int64, error)
}

// EscalationRepository defines operations for scheduled escalation steps.
type EscalationRepository interface {
	Create(ctx context.Context, esc *models.Escalation) error
	ListDue(ctx context.Context, now time.Time, limit int) ([]*models.Escalation, error)
	MarkFired(ctx context.Context, id string, at time.Time) error
	// CancelPendingByAlert cancels all pending steps for an alert and
	// returns how many were cancelled.
	CancelPendingByAlert(ctx context.Context, alertID string, at time.Time) (int64, error)
}
