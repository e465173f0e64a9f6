package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/good-yellow-bee/alertflow/internal/models"
	"github.com/good-yellow-bee/alertflow/internal/storage"
)

// AlertStats is a windowed summary of a tenant's alerts.
type AlertStats struct {
	Total      int                     `json:"total"`
	ByStatus   map[models.Status]int   `json:"by_status"`
	BySeverity map[models.Severity]int `json:"by_severity"`
	ByCategory map[models.Category]int `json:"by_category"`

	// GroupedIncidents counts logical incidents after collapsing alerts
	// that share a dedup key inside the grouping window.
	GroupedIncidents int `json:"grouped_incidents"`

	// ResolutionRate is resolved/total as a percentage, 0 for no alerts.
	ResolutionRate float64 `json:"resolution_rate"`

	AvgResolutionMinutes     float64 `json:"avg_resolution_minutes"`
	AvgAcknowledgmentMinutes float64 `json:"avg_acknowledgment_minutes"`

	WindowDays  int       `json:"window_days"`
	GeneratedAt time.Time `json:"generated_at"`
}

// defaultGroupWindow collapses same-key ad hoc alerts into one incident.
// Rule-driven alerts group per their rule's settings.
const defaultGroupWindow = 15 * time.Minute

// StatsCalculator computes alert statistics with a short-lived cache.
type StatsCalculator struct {
	alerts storage.AlertRepository
	rules  storage.RuleRepository
	ttl    time.Duration

	mu    sync.Mutex
	cache map[string]cachedStats

	now func() time.Time
}

type cachedStats struct {
	stats   *AlertStats
	expires time.Time
}

// NewStatsCalculator creates a calculator with the given cache TTL.
func NewStatsCalculator(alerts storage.AlertRepository, rules storage.RuleRepository, ttl time.Duration) *StatsCalculator {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &StatsCalculator{
		alerts: alerts,
		rules:  rules,
		ttl:    ttl,
		cache:  make(map[string]cachedStats),
		now:    time.Now,
	}
}

// Get returns statistics for the tenant over the last windowDays days,
// served from cache when fresh.
func (c *StatsCalculator) Get(ctx context.Context, tenantID string, windowDays int) (*AlertStats, error) {
	if windowDays <= 0 {
		windowDays = 7
	}
	key := fmt.Sprintf("%s/%d", tenantID, windowDays)
	now := c.now()

	c.mu.Lock()
	if entry, ok := c.cache[key]; ok && now.Before(entry.expires) {
		c.mu.Unlock()
		return entry.stats, nil
	}
	c.mu.Unlock()

	cutoff := now.AddDate(0, 0, -windowDays)
	alerts, err := c.alerts.ListSince(ctx, tenantID, cutoff)
	if err != nil {
		return nil, fmt.Errorf("load alerts for stats: %w", err)
	}

	// Disabled rules included: their historical alerts still group by the
	// rule's settings.
	rules, err := c.rules.List(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load rules for stats: %w", err)
	}
	rulesByID := make(map[string]*models.AlertRule, len(rules))
	for _, r := range rules {
		rulesByID[r.ID] = r
	}

	stats := compute(alerts, rulesByID, windowDays, now)

	c.mu.Lock()
	c.cache[key] = cachedStats{stats: stats, expires: now.Add(c.ttl)}
	c.mu.Unlock()

	return stats, nil
}

// Invalidate drops all cached windows for a tenant.
func (c *StatsCalculator) Invalidate(tenantID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.cache {
		if len(key) > len(tenantID) && key[:len(tenantID)] == tenantID && key[len(tenantID)] == '/' {
			delete(c.cache, key)
		}
	}
}

func compute(alerts []*models.Alert, rulesByID map[string]*models.AlertRule, windowDays int, now time.Time) *AlertStats {
	stats := &AlertStats{
		Total:       len(alerts),
		ByStatus:    make(map[models.Status]int),
		BySeverity:  make(map[models.Severity]int),
		ByCategory:  make(map[models.Category]int),
		WindowDays:  windowDays,
		GeneratedAt: now,
	}

	var resolved int
	var resolutionSum, ackSum time.Duration
	var ackCount int

	for _, a := range alerts {
		stats.ByStatus[a.Status]++
		stats.BySeverity[a.Severity]++
		stats.ByCategory[a.Category]++

		if a.Status == models.StatusResolved && a.ResolvedAt != nil {
			resolved++
			resolutionSum += a.ResolvedAt.Sub(a.TriggeredAt)
		}
		if a.AcknowledgedAt != nil {
			ackCount++
			ackSum += a.AcknowledgedAt.Sub(a.TriggeredAt)
		}
	}

	if stats.Total > 0 {
		stats.ResolutionRate = float64(resolved) / float64(stats.Total) * 100
	}
	if resolved > 0 {
		stats.AvgResolutionMinutes = resolutionSum.Minutes() / float64(resolved)
	}
	if ackCount > 0 {
		stats.AvgAcknowledgmentMinutes = ackSum.Minutes() / float64(ackCount)
	}
	stats.GroupedIncidents = groupIncidents(alerts, rulesByID)

	return stats
}

// groupIncidents collapses alerts sharing a dedup key within their rule's
// grouping window into one incident. Rules with grouping off count every
// alert; ad hoc alerts use the default window. Alerts arrive most recent
// first; grouping walks them oldest first so each incident anchors at its
// earliest alert.
func groupIncidents(alerts []*models.Alert, rulesByID map[string]*models.AlertRule) int {
	anchors := make(map[string]time.Time)
	incidents := 0

	for i := len(alerts) - 1; i >= 0; i-- {
		a := alerts[i]
		key := a.RuleID
		window := defaultGroupWindow
		if a.RuleID != "" {
			if rule, ok := rulesByID[a.RuleID]; ok {
				if !rule.GroupSimilar {
					incidents++
					continue
				}
				window = rule.GroupWindow()
			}
		} else {
			key = string(a.Category) + "|" + string(a.Severity) + "|" + a.Source
		}

		prev, ok := anchors[key]
		if !ok || a.TriggeredAt.Sub(prev) > window {
			incidents++
			anchors[key] = a.TriggeredAt
		}
	}
	return incidents
}
