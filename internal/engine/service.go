package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/good-yellow-bee/alertflow/internal/metrics"
	"github.com/good-yellow-bee/alertflow/internal/models"
	"github.com/good-yellow-bee/alertflow/internal/storage"
)

var (
	// ErrSuppressed reports that an alert fell inside an active cooldown
	// window and no record was created.
	ErrSuppressed = errors.New("alert suppressed by cooldown")

	// ErrRiskTooLow reports that an ML analysis scored below the alerting
	// threshold.
	ErrRiskTooLow = errors.New("risk score below alert threshold")

	// ErrNotFound reports a missing alert or rule.
	ErrNotFound = errors.New("not found")

	// ErrConflict reports a lifecycle transition from a stale pre-state.
	ErrConflict = errors.New("conflicting lifecycle transition")
)

// riskAlertThreshold is the minimum ML risk score that produces an alert.
const riskAlertThreshold = 0.3

// Dispatcher delivers an alert to the named channels. Implementations
// record per-channel delivery attempts and must not block alert creation
// on remote failures.
type Dispatcher interface {
	Dispatch(ctx context.Context, alert *models.Alert, channels []string) error
}

// Service implements the alert lifecycle: creation with dedup, state
// transitions with optimistic concurrency, rule management and audit.
type Service struct {
	store      storage.Storage
	evaluator  *Evaluator
	deduper    *Deduper
	dispatcher Dispatcher
	escalator  *Escalator
	stats      *StatsCalculator

	now func() time.Time
}

// NewService creates the lifecycle service.
func NewService(store storage.Storage, dispatcher Dispatcher, escalator *Escalator, stats *StatsCalculator) *Service {
	return &Service{
		store:      store,
		evaluator:  NewEvaluator(),
		deduper:    NewDeduper(store.Alerts()),
		dispatcher: dispatcher,
		escalator:  escalator,
		stats:      stats,
		now:        time.Now,
	}
}

// CreateAlertRequest carries everything needed to create one alert.
type CreateAlertRequest struct {
	TenantID string         `json:"tenant_id"`
	RuleID   string         `json:"rule_id,omitempty"`
	Title    string         `json:"title"`
	Message  string         `json:"message"`
	Severity models.Severity `json:"severity"`
	Category models.Category `json:"category"`
	Source   string         `json:"source,omitempty"`

	// Channels to notify. Falls back to the rule's channels, then to the
	// dashboard feed.
	Channels []string `json:"channels,omitempty"`

	// Escalate schedules escalation if the alert stays unacknowledged.
	// Only the caller decides; the ML path sets it for critical scores.
	Escalate bool `json:"escalate,omitempty"`

	Actor string `json:"actor,omitempty"`

	RequestID string `json:"request_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	Endpoint  string `json:"endpoint,omitempty"`

	ML       *models.MLAnalysis `json:"ml,omitempty"`
	Context  map[string]any     `json:"context,omitempty"`
	Evidence map[string]any     `json:"evidence,omitempty"`
}

// Validate checks the request.
func (r *CreateAlertRequest) Validate() error {
	if r.TenantID == "" {
		return fmt.Errorf("tenant id is required")
	}
	if r.Title == "" {
		return fmt.Errorf("title is required")
	}
	if r.Message == "" {
		return fmt.Errorf("message is required")
	}
	if !models.ValidSeverity(string(r.Severity)) {
		return fmt.Errorf("invalid severity %q", r.Severity)
	}
	if !models.ValidCategory(string(r.Category)) {
		return fmt.Errorf("invalid category %q", r.Category)
	}
	return nil
}

// CreateAlert validates, dedups and persists a new alert, then kicks off
// notification dispatch and escalation scheduling. Returns ErrSuppressed
// when the cooldown gate rejects the alert before any write.
func (s *Service) CreateAlert(ctx context.Context, req *CreateAlertRequest) (*models.Alert, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var rule *models.AlertRule
	if req.RuleID != "" {
		var err error
		rule, err = s.store.Rules().GetByID(ctx, req.RuleID)
		if err != nil {
			return nil, fmt.Errorf("load rule: %w", err)
		}
		if rule == nil || rule.TenantID != req.TenantID {
			return nil, fmt.Errorf("rule %s: %w", req.RuleID, ErrNotFound)
		}
	}

	now := s.now()
	alert := &models.Alert{
		ID:          uuid.New().String(),
		RuleID:      req.RuleID,
		TenantID:    req.TenantID,
		Title:       req.Title,
		Message:     req.Message,
		Severity:    req.Severity,
		Category:    req.Category,
		Status:      models.StatusNew,
		Source:      req.Source,
		RequestID:   req.RequestID,
		UserID:      req.UserID,
		IPAddress:   req.IPAddress,
		UserAgent:   req.UserAgent,
		Endpoint:    req.Endpoint,
		ML:          req.ML,
		Context:     req.Context,
		Evidence:    req.Evidence,
		TriggeredAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	suppressed, err := s.deduper.Suppressed(ctx, req.TenantID, rule, alert, now)
	if err != nil {
		return nil, err
	}
	if suppressed {
		metrics.AlertsSuppressedTotal.Inc()
		return nil, ErrSuppressed
	}

	if err := s.store.Alerts().Create(ctx, alert); err != nil {
		return nil, fmt.Errorf("create alert: %w", err)
	}
	metrics.AlertsCreatedTotal.WithLabelValues(string(alert.Severity)).Inc()
	log.Printf("alert created: %s %s/%s (%s)", alert.ID, alert.Category, alert.Severity, alert.TenantID)

	channels := req.Channels
	if len(channels) == 0 && rule != nil {
		channels = rule.Channels
	}
	if len(channels) == 0 {
		channels = []string{"dashboard"}
	}

	// Dispatch runs detached; delivery failures go to the retry path and
	// never surface to the caller.
	go func() {
		dctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.dispatcher.Dispatch(dctx, alert, channels); err != nil {
			log.Printf("dispatch for alert %s: %v", alert.ID, err)
		}
	}()

	if req.Escalate {
		if err := s.escalator.Arm(ctx, alert, channels); err != nil {
			log.Printf("arm escalation for alert %s: %v", alert.ID, err)
		}
	}

	actor := req.Actor
	actorType := models.ActorUser
	if actor == "" {
		actor = "system"
		actorType = models.ActorSystem
	}
	s.audit(ctx, &models.AuditEntry{
		AlertID:   alert.ID,
		TenantID:  alert.TenantID,
		Action:    models.AuditAlertCreated,
		Actor:     actor,
		ActorType: actorType,
		Changes: map[string]any{
			"severity": string(alert.Severity),
			"category": string(alert.Category),
		},
	})
	s.stats.Invalidate(alert.TenantID)

	return alert, nil
}

// MLContext carries request correlation data for ML-triggered alerts.
type MLContext struct {
	RequestID string
	UserID    string
	IPAddress string
	UserAgent string
	Endpoint  string
	Data      map[string]any
}

// CreateFromMLAnalysis maps an ML risk score onto an alert. Scores below
// the threshold return ErrRiskTooLow; the severity bands follow the
// scorer's contract (>= 0.9 critical, >= 0.7 high, >= 0.4 medium).
func (s *Service) CreateFromMLAnalysis(ctx context.Context, tenantID string, ml *models.MLAnalysis, mctx MLContext) (*models.Alert, error) {
	if ml == nil {
		return nil, fmt.Errorf("ml analysis is required")
	}
	if ml.RiskScore < riskAlertThreshold {
		return nil, ErrRiskTooLow
	}

	var severity models.Severity
	switch {
	case ml.RiskScore >= 0.9:
		severity = models.SeverityCritical
	case ml.RiskScore >= 0.7:
		severity = models.SeverityHigh
	case ml.RiskScore >= 0.4:
		severity = models.SeverityMedium
	default:
		severity = models.SeverityLow
	}

	threat := ml.ThreatType
	if threat == "" {
		threat = "anomaly"
	}

	req := &CreateAlertRequest{
		TenantID: tenantID,
		Title:    fmt.Sprintf("ML detection: %s", threat),
		Message:  fmt.Sprintf("threat scorer flagged %s with risk %.2f (confidence %.2f)", threat, ml.RiskScore, ml.Confidence),
		Severity: severity,
		Category: models.CategoryMLAnomaly,
		Source:   "ml_analysis",
		Channels: []string{"dashboard", "slack"},
		Escalate: severity == models.SeverityCritical,

		RequestID: mctx.RequestID,
		UserID:    mctx.UserID,
		IPAddress: mctx.IPAddress,
		UserAgent: mctx.UserAgent,
		Endpoint:  mctx.Endpoint,

		ML:      ml,
		Context: mctx.Data,
	}
	return s.CreateAlert(ctx, req)
}

// EvaluateSignal runs a signal through the tenant's enabled rules and
// creates one alert per match, using each rule's severity and channels.
// Suppressed matches are skipped silently.
func (s *Service) EvaluateSignal(ctx context.Context, tenantID string, sig *models.Signal) ([]*models.Alert, error) {
	metrics.SignalsEvaluatedTotal.Inc()

	rules, err := s.store.Rules().ListEnabled(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}

	var created []*models.Alert
	for _, rule := range rules {
		if !s.evaluator.Matches(rule, sig) {
			continue
		}

		req := &CreateAlertRequest{
			TenantID: tenantID,
			RuleID:   rule.ID,
			Title:    sig.Title,
			Message:  sig.Message,
			Severity: rule.Severity,
			Category: sig.Category,
			Source:   sig.Source,
			Channels: rule.Channels,
			UserID:   sig.UserID,
			Context:  sig.Context,
			Evidence: sig.Evidence,
		}
		if req.Title == "" {
			req.Title = rule.Name
		}
		if req.Message == "" {
			req.Message = rule.Description
		}
		if req.Category == "" {
			req.Category = models.CategoryManualTrigger
		}

		alert, err := s.CreateAlert(ctx, req)
		if errors.Is(err, ErrSuppressed) {
			continue
		}
		if err != nil {
			log.Printf("create alert for rule %s: %v", rule.ID, err)
			continue
		}
		created = append(created, alert)
	}
	return created, nil
}

// GetAlert returns one alert, scoped to the tenant.
func (s *Service) GetAlert(ctx context.Context, tenantID, id string) (*models.Alert, error) {
	alert, err := s.store.Alerts().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if alert == nil || alert.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return alert, nil
}

// ListAlerts returns a tenant's alerts, most recent first.
func (s *Service) ListAlerts(ctx context.Context, tenantID string, filter storage.AlertFilter) ([]*models.Alert, error) {
	return s.store.Alerts().List(ctx, tenantID, filter)
}

// Acknowledge moves a new alert to acknowledged and cancels its pending
// escalations.
func (s *Service) Acknowledge(ctx context.Context, tenantID, id, actor string) (*models.Alert, error) {
	return s.transition(ctx, tenantID, id, transitionSpec{
		expected: []models.Status{models.StatusNew},
		to:       models.StatusAcknowledged,
		action:   models.AuditAlertAcknowledged,
		actor:    actor,
	})
}

// Resolve moves a new or acknowledged alert to resolved.
func (s *Service) Resolve(ctx context.Context, tenantID, id, actor, reason string) (*models.Alert, error) {
	return s.transition(ctx, tenantID, id, transitionSpec{
		expected: []models.Status{models.StatusNew, models.StatusAcknowledged},
		to:       models.StatusResolved,
		action:   models.AuditAlertResolved,
		actor:    actor,
		reason:   reason,
	})
}

// Dismiss moves a new or acknowledged alert to dismissed.
func (s *Service) Dismiss(ctx context.Context, tenantID, id, actor, reason string) (*models.Alert, error) {
	return s.transition(ctx, tenantID, id, transitionSpec{
		expected: []models.Status{models.StatusNew, models.StatusAcknowledged},
		to:       models.StatusDismissed,
		action:   models.AuditAlertDismissed,
		actor:    actor,
		reason:   reason,
	})
}

type transitionSpec struct {
	expected []models.Status
	to       models.Status
	action   string
	actor    string
	reason   string
}

func (s *Service) transition(ctx context.Context, tenantID, id string, spec transitionSpec) (*models.Alert, error) {
	if spec.actor == "" {
		return nil, fmt.Errorf("actor is required")
	}

	before, err := s.store.Alerts().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if before == nil || before.TenantID != tenantID {
		return nil, ErrNotFound
	}

	now := s.now()
	// The audit "from" status comes from the CAS itself, not the read
	// above; a transition racing past that read must not record a stale
	// pre-state.
	from, err := s.store.Alerts().UpdateStatus(ctx, id, spec.expected, storage.StatusUpdate{
		Status: spec.to,
		Actor:  spec.actor,
		Reason: spec.reason,
		At:     now,
	})
	if errors.Is(err, storage.ErrConflict) {
		return nil, ErrConflict
	}
	if err != nil {
		return nil, err
	}
	if from == "" {
		return nil, ErrNotFound
	}

	// Any engagement or terminal transition ends the escalation schedule.
	if err := s.escalator.Cancel(ctx, id); err != nil {
		log.Printf("cancel escalations for alert %s: %v", id, err)
	}

	s.audit(ctx, &models.AuditEntry{
		AlertID:   id,
		TenantID:  tenantID,
		Action:    spec.action,
		Actor:     spec.actor,
		ActorType: models.ActorUser,
		Changes: map[string]any{
			"status": map[string]any{"from": string(from), "to": string(spec.to)},
		},
		Reason: spec.reason,
	})
	s.stats.Invalidate(tenantID)
	log.Printf("alert %s: %s by %s", id, spec.action, spec.actor)

	return s.store.Alerts().GetByID(ctx, id)
}

// ListNotifications returns the delivery records of one alert.
func (s *Service) ListNotifications(ctx context.Context, tenantID, alertID string) ([]*models.AlertNotification, error) {
	if _, err := s.GetAlert(ctx, tenantID, alertID); err != nil {
		return nil, err
	}
	return s.store.Notifications().ListByAlert(ctx, alertID)
}

// AuditTrail returns the audit entries of one alert.
func (s *Service) AuditTrail(ctx context.Context, tenantID, alertID string) ([]*models.AuditEntry, error) {
	if _, err := s.GetAlert(ctx, tenantID, alertID); err != nil {
		return nil, err
	}
	return s.store.AuditLog().ListByAlert(ctx, alertID)
}

// Statistics returns windowed alert statistics for a tenant.
func (s *Service) Statistics(ctx context.Context, tenantID string, windowDays int) (*AlertStats, error) {
	return s.stats.Get(ctx, tenantID, windowDays)
}

// CreateRule validates and stores a new rule.
func (s *Service) CreateRule(ctx context.Context, rule *models.AlertRule, actor string) error {
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	now := s.now()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now
	if err := rule.Validate(); err != nil {
		return err
	}
	if err := s.store.Rules().Create(ctx, rule); err != nil {
		return fmt.Errorf("create rule: %w", err)
	}
	s.auditRule(ctx, rule, models.AuditRuleCreated, actor)
	return nil
}

// UpdateRule validates and stores rule changes.
func (s *Service) UpdateRule(ctx context.Context, rule *models.AlertRule, actor string) error {
	existing, err := s.store.Rules().GetByID(ctx, rule.ID)
	if err != nil {
		return err
	}
	if existing == nil || existing.TenantID != rule.TenantID {
		return ErrNotFound
	}
	rule.UpdatedAt = s.now()
	if err := rule.Validate(); err != nil {
		return err
	}
	if err := s.store.Rules().Update(ctx, rule); err != nil {
		return fmt.Errorf("update rule: %w", err)
	}
	s.auditRule(ctx, rule, models.AuditRuleUpdated, actor)
	return nil
}

// DisableRule turns a rule off. Rules are never hard-deleted.
func (s *Service) DisableRule(ctx context.Context, tenantID, id, actor string) error {
	rule, err := s.store.Rules().GetByID(ctx, id)
	if err != nil {
		return err
	}
	if rule == nil || rule.TenantID != tenantID {
		return ErrNotFound
	}
	if err := s.store.Rules().SetEnabled(ctx, id, false); err != nil {
		return fmt.Errorf("disable rule: %w", err)
	}
	s.auditRule(ctx, rule, models.AuditRuleDisabled, actor)
	return nil
}

// GetRule returns one rule, scoped to the tenant.
func (s *Service) GetRule(ctx context.Context, tenantID, id string) (*models.AlertRule, error) {
	rule, err := s.store.Rules().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rule == nil || rule.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return rule, nil
}

// ListRules returns a tenant's rules.
func (s *Service) ListRules(ctx context.Context, tenantID string) ([]*models.AlertRule, error) {
	return s.store.Rules().List(ctx, tenantID)
}

// audit appends an entry; failure never rolls back the action that
// produced it, it is logged and counted instead.
func (s *Service) audit(ctx context.Context, entry *models.AuditEntry) {
	entry.ID = uuid.New().String()
	entry.Timestamp = s.now()
	if err := s.store.AuditLog().Append(ctx, entry); err != nil {
		metrics.AuditWriteFailures.Inc()
		log.Printf("audit write failed (%s on %s): %v", entry.Action, entry.AlertID, err)
	}
}

func (s *Service) auditRule(ctx context.Context, rule *models.AlertRule, action, actor string) {
	actorType := models.ActorUser
	if actor == "" {
		actor = "system"
		actorType = models.ActorSystem
	}
	s.audit(ctx, &models.AuditEntry{
		AlertID:   rule.ID,
		TenantID:  rule.TenantID,
		Action:    action,
		Actor:     actor,
		ActorType: actorType,
		Changes:   map[string]any{"name": rule.Name, "enabled": rule.Enabled},
	})
}
