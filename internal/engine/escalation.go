package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/good-yellow-bee/alertflow/internal/metrics"
	"github.com/good-yellow-bee/alertflow/internal/models"
	"github.com/good-yellow-bee/alertflow/internal/storage"
)

// EscalationStep is one step of the escalation policy: re-notify the given
// channels after the alert has stayed unengaged for After.
type EscalationStep struct {
	After    time.Duration
	Channels []string
}

// DefaultEscalationSteps re-notifies the alert's own channels after 15
// minutes without acknowledgment.
var DefaultEscalationSteps = []EscalationStep{
	{After: 15 * time.Minute},
}

// Escalator schedules and fires escalation steps for unacknowledged
// alerts. Schedules are persisted as due-at rows and executed by a sweep,
// so they survive restarts; timers are never held in memory.
type Escalator struct {
	store      storage.Storage
	dispatcher Dispatcher
	steps      []EscalationStep

	now func() time.Time
}

// NewEscalator creates an escalator with the given policy steps.
func NewEscalator(store storage.Storage, dispatcher Dispatcher, steps []EscalationStep) *Escalator {
	if len(steps) == 0 {
		steps = DefaultEscalationSteps
	}
	return &Escalator{
		store:      store,
		dispatcher: dispatcher,
		steps:      steps,
		now:        time.Now,
	}
}

// Arm schedules the first escalation step for an alert. channels are the
// alert's own channels, used for steps that don't override them.
func (e *Escalator) Arm(ctx context.Context, alert *models.Alert, channels []string) error {
	return e.armStep(ctx, alert, 0, channels)
}

func (e *Escalator) armStep(ctx context.Context, alert *models.Alert, step int, alertChannels []string) error {
	if step >= len(e.steps) {
		return nil
	}

	policy := e.steps[step]
	channels := policy.Channels
	if len(channels) == 0 {
		channels = alertChannels
	}
	if len(channels) == 0 {
		channels = []string{"dashboard"}
	}

	now := e.now()
	esc := &models.Escalation{
		ID:        uuid.New().String(),
		AlertID:   alert.ID,
		TenantID:  alert.TenantID,
		Step:      step,
		Channels:  channels,
		DueAt:     now.Add(policy.After),
		Status:    models.EscalationPending,
		CreatedAt: now,
	}
	if err := e.store.Escalations().Create(ctx, esc); err != nil {
		return fmt.Errorf("arm escalation step %d: %w", step, err)
	}
	metrics.EscalationsArmedTotal.Inc()
	return nil
}

// Cancel marks all pending steps of an alert cancelled. Racing with a
// concurrent fire is safe: firing re-checks the alert's live status.
func (e *Escalator) Cancel(ctx context.Context, alertID string) error {
	n, err := e.store.Escalations().CancelPendingByAlert(ctx, alertID, e.now())
	if err != nil {
		return err
	}
	if n > 0 {
		metrics.EscalationsCancelledTotal.Add(float64(n))
	}
	return nil
}

// SweepOnce fires all due pending steps. A step only fires when its alert
// is still new; engaged or closed alerts have their schedule cancelled.
func (e *Escalator) SweepOnce(ctx context.Context) error {
	now := e.now()
	due, err := e.store.Escalations().ListDue(ctx, now, 100)
	if err != nil {
		return fmt.Errorf("list due escalations: %w", err)
	}

	for _, esc := range due {
		if err := e.fire(ctx, esc); err != nil {
			log.Printf("escalation %s for alert %s: %v", esc.ID, esc.AlertID, err)
		}
	}
	return nil
}

func (e *Escalator) fire(ctx context.Context, esc *models.Escalation) error {
	alert, err := e.store.Alerts().GetByID(ctx, esc.AlertID)
	if err != nil {
		return err
	}
	if alert == nil || alert.Status != models.StatusNew {
		// The alert was engaged between scheduling and firing.
		_, err := e.store.Escalations().CancelPendingByAlert(ctx, esc.AlertID, e.now())
		return err
	}

	if err := e.store.Escalations().MarkFired(ctx, esc.ID, e.now()); err != nil {
		// Another sweep already claimed this row.
		return nil
	}
	metrics.EscalationsFiredTotal.Inc()
	log.Printf("escalating alert %s (step %d)", alert.ID, esc.Step)

	if err := e.dispatcher.Dispatch(ctx, alert, esc.Channels); err != nil {
		log.Printf("escalation dispatch for alert %s: %v", alert.ID, err)
	}

	entry := &models.AuditEntry{
		ID:        uuid.New().String(),
		AlertID:   alert.ID,
		TenantID:  alert.TenantID,
		Action:    models.AuditAlertEscalated,
		Actor:     "system",
		ActorType: models.ActorSystem,
		Changes:   map[string]any{"step": esc.Step, "channels": esc.Channels},
		Timestamp: e.now(),
	}
	if err := e.store.AuditLog().Append(ctx, entry); err != nil {
		metrics.AuditWriteFailures.Inc()
		log.Printf("audit write failed (escalated on %s): %v", alert.ID, err)
	}

	return e.armStep(ctx, alert, esc.Step+1, esc.Channels)
}

// RunSweep runs the escalation sweep until the context is cancelled.
func (e *Escalator) RunSweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("escalation sweep running every %s", interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.SweepOnce(ctx); err != nil {
				log.Printf("escalation sweep: %v", err)
			}
		}
	}
}
