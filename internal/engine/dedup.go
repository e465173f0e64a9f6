package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/good-yellow-bee/alertflow/internal/models"
	"github.com/good-yellow-bee/alertflow/internal/storage"
)

// DefaultCooldown applies to ad hoc alerts that carry no rule.
const DefaultCooldown = 5 * time.Minute

// Deduper decides whether a would-be alert is suppressed by the cooldown
// window of an earlier accepted alert. The gate is backed by the alert
// store rather than in-memory timers so it holds across restarts.
type Deduper struct {
	alerts storage.AlertRepository
}

// NewDeduper creates a new Deduper.
func NewDeduper(alerts storage.AlertRepository) *Deduper {
	return &Deduper{alerts: alerts}
}

// Suppressed reports whether an alert for the given rule (nil for ad hoc
// alerts) would fall inside an active cooldown window at time now.
// Rule-driven alerts dedup on (tenant, rule); ad hoc alerts on
// (tenant, category, severity, source).
func (d *Deduper) Suppressed(ctx context.Context, tenantID string, rule *models.AlertRule, alert *models.Alert, now time.Time) (bool, error) {
	if rule != nil {
		if rule.CooldownMinutes <= 0 {
			return false, nil
		}
		cutoff := now.Add(-rule.Cooldown())
		count, err := d.alerts.CountRecentByRule(ctx, tenantID, rule.ID, cutoff)
		if err != nil {
			return false, fmt.Errorf("cooldown check for rule %s: %w", rule.ID, err)
		}
		return count > 0, nil
	}

	cutoff := now.Add(-DefaultCooldown)
	count, err := d.alerts.CountRecentByKey(ctx, tenantID, alert.Category, alert.Severity, alert.Source, cutoff)
	if err != nil {
		return false, fmt.Errorf("cooldown check for %s/%s: %w", alert.Category, alert.Severity, err)
	}
	return count > 0, nil
}
