package notifier

import (
	"context"
	"sync"
	"time"

	"github.com/good-yellow-bee/alertflow/internal/models"
)

const defaultFeedCapacity = 200

// FeedEntry is one dashboard feed item.
type FeedEntry struct {
	Alert      *models.Alert `json:"alert"`
	ReceivedAt time.Time     `json:"received_at"`
}

// DashboardProvider keeps a bounded in-memory feed of recent alerts for
// the dashboard API. Delivery never fails; the channel exists so every
// alert has at least one destination.
type DashboardProvider struct {
	mu       sync.RWMutex
	entries  []FeedEntry
	capacity int
}

// NewDashboardProvider creates a dashboard feed with the given capacity.
// capacity <= 0 uses the default.
func NewDashboardProvider(capacity int) *DashboardProvider {
	if capacity <= 0 {
		capacity = defaultFeedCapacity
	}
	return &DashboardProvider{capacity: capacity}
}

// Name returns "dashboard".
func (d *DashboardProvider) Name() string {
	return "dashboard"
}

// Send appends the alert to the feed, evicting the oldest entry when full.
func (d *DashboardProvider) Send(ctx context.Context, alert *models.Alert, recipient string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.entries = append(d.entries, FeedEntry{Alert: alert, ReceivedAt: time.Now().UTC()})
	if len(d.entries) > d.capacity {
		d.entries = d.entries[len(d.entries)-d.capacity:]
	}
	return nil
}

// HealthCheck always reports healthy.
func (d *DashboardProvider) HealthCheck(ctx context.Context) bool {
	return true
}

// Feed returns up to limit entries, most recent first. limit <= 0 returns
// the whole feed.
func (d *DashboardProvider) Feed(limit int) []FeedEntry {
	d.mu.RLock()
	defer d.mu.RUnlock()

	n := len(d.entries)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]FeedEntry, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, d.entries[i])
	}
	return out
}
