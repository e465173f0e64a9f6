package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/good-yellow-bee/alertflow/internal/metrics"
	"github.com/good-yellow-bee/alertflow/internal/models"
	"github.com/good-yellow-bee/alertflow/internal/storage"
)

const (
	defaultMaxRetries  = 3
	defaultSendTimeout = 30 * time.Second
	defaultSweepBatch  = 100
	defaultSweepEvery  = 30 * time.Second
)

// DispatcherConfig tunes delivery behavior.
type DispatcherConfig struct {
	// MaxRetries bounds delivery attempts after the first.
	MaxRetries int
	// SendTimeout bounds a single provider send.
	SendTimeout time.Duration
	// RatePerSecond throttles outbound sends across all channels.
	// Zero disables throttling.
	RatePerSecond float64
}

// Dispatcher fans alerts out to their channels. Every delivery is
// tracked as a notification row; failed sends are retried with
// exponential backoff by the sweep loop.
type Dispatcher struct {
	store    storage.Storage
	registry *Registry
	config   DispatcherConfig
	limiter  *rate.Limiter

	now func() time.Time
}

// NewDispatcher creates a dispatcher over the given provider registry.
func NewDispatcher(store storage.Storage, registry *Registry, config DispatcherConfig) *Dispatcher {
	if config.MaxRetries <= 0 {
		config.MaxRetries = defaultMaxRetries
	}
	if config.SendTimeout <= 0 {
		config.SendTimeout = defaultSendTimeout
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if config.RatePerSecond > 0 {
		burst := int(math.Ceil(config.RatePerSecond))
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(config.RatePerSecond), burst)
	}

	return &Dispatcher{
		store:    store,
		registry: registry,
		config:   config,
		limiter:  limiter,
		now:      time.Now,
	}
}

// Dispatch records one pending notification per channel and attempts
// delivery. Individual send failures do not fail the call; they feed
// the retry loop.
func (d *Dispatcher) Dispatch(ctx context.Context, alert *models.Alert, channels []string) error {
	if len(channels) == 0 {
		return nil
	}

	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	now := d.now().UTC()
	notifications := make([]*models.AlertNotification, 0, len(channels))
	for _, channel := range channels {
		notifications = append(notifications, &models.AlertNotification{
			ID:         uuid.NewString(),
			AlertID:    alert.ID,
			Channel:    channel,
			Recipient:  d.registry.Recipient(channel),
			Body:       string(body),
			Status:     models.NotificationPending,
			MaxRetries: d.config.MaxRetries,
			CreatedAt:  now,
		})
	}

	if err := d.store.Notifications().CreateBatch(ctx, notifications); err != nil {
		return fmt.Errorf("create notifications: %w", err)
	}

	var wg sync.WaitGroup
	for _, n := range notifications {
		wg.Add(1)
		go func(n *models.AlertNotification) {
			defer wg.Done()
			d.attempt(ctx, n, alert)
		}(n)
	}
	wg.Wait()

	return nil
}

// attempt makes one delivery attempt and records the outcome. A failure
// schedules a retry at now + 2^retryCount minutes until retries are
// exhausted.
func (d *Dispatcher) attempt(ctx context.Context, n *models.AlertNotification, alert *models.Alert) {
	if err := d.limiter.Wait(ctx); err != nil {
		return
	}

	provider, ok := d.registry.Get(n.Channel)
	if !ok {
		log.Printf("notification %s: unknown channel %q", n.ID, n.Channel)
		if err := d.store.Notifications().MarkFailed(ctx, n.ID, d.now().UTC(), "unknown channel"); err != nil {
			log.Printf("notification %s: mark failed: %v", n.ID, err)
		}
		metrics.NotificationsFailedTotal.WithLabelValues(n.Channel).Inc()
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.config.SendTimeout)
	err := provider.Send(sendCtx, alert, n.Recipient)
	cancel()

	if err == nil {
		if err := d.store.Notifications().MarkSent(ctx, n.ID, d.now().UTC()); err != nil {
			log.Printf("notification %s: mark sent: %v", n.ID, err)
		}
		metrics.NotificationsSentTotal.WithLabelValues(n.Channel).Inc()
		return
	}

	newCount := n.RetryCount + 1
	if newCount < n.MaxRetries {
		backoff := time.Duration(1<<uint(newCount)) * time.Minute
		nextRetryAt := d.now().UTC().Add(backoff)
		log.Printf("notification %s: send via %s failed (attempt %d/%d), retrying at %s: %v",
			n.ID, n.Channel, newCount, n.MaxRetries, nextRetryAt.Format(time.RFC3339), err)
		if serr := d.store.Notifications().ScheduleRetry(ctx, n.ID, newCount, nextRetryAt, err.Error()); serr != nil {
			log.Printf("notification %s: schedule retry: %v", n.ID, serr)
		}
		metrics.NotificationRetriesTotal.WithLabelValues(n.Channel).Inc()
		return
	}

	log.Printf("notification %s: send via %s failed permanently after %d attempts: %v",
		n.ID, n.Channel, newCount, err)
	if serr := d.store.Notifications().MarkFailed(ctx, n.ID, d.now().UTC(), err.Error()); serr != nil {
		log.Printf("notification %s: mark failed: %v", n.ID, serr)
	}
	metrics.NotificationsFailedTotal.WithLabelValues(n.Channel).Inc()
}

// SweepOnce retries every due pending notification.
func (d *Dispatcher) SweepOnce(ctx context.Context) error {
	due, err := d.store.Notifications().ListDue(ctx, d.now().UTC(), defaultSweepBatch)
	if err != nil {
		return fmt.Errorf("list due notifications: %w", err)
	}

	for _, n := range due {
		// Freshly created rows with no attempt yet are handled by
		// Dispatch; skip ones created moments ago.
		if n.NextRetryAt == nil && d.now().UTC().Sub(n.CreatedAt) < d.config.SendTimeout {
			continue
		}

		alert, err := d.store.Alerts().GetByID(ctx, n.AlertID)
		if err != nil {
			log.Printf("notification %s: load alert %s: %v", n.ID, n.AlertID, err)
			continue
		}
		if alert == nil {
			if err := d.store.Notifications().MarkFailed(ctx, n.ID, d.now().UTC(), "alert no longer exists"); err != nil {
				log.Printf("notification %s: mark failed: %v", n.ID, err)
			}
			continue
		}
		d.attempt(ctx, n, alert)
	}

	return nil
}

// RunRetrySweep periodically retries due notifications until ctx is done.
func (d *Dispatcher) RunRetrySweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultSweepEvery
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.SweepOnce(ctx); err != nil {
				log.Printf("notification retry sweep: %v", err)
			}
		}
	}
}

// HealthCheck probes every registered provider.
func (d *Dispatcher) HealthCheck(ctx context.Context) map[string]bool {
	return d.registry.HealthCheck(ctx)
}
