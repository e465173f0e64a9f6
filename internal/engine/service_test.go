package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/good-yellow-bee/alertflow/internal/models"
	"github.com/good-yellow-bee/alertflow/internal/storage"
)

type fakeDispatcher struct {
	mu    sync.Mutex
	calls []dispatchCall
	done  chan struct{}
}

type dispatchCall struct {
	alertID  string
	channels []string
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{done: make(chan struct{}, 16)}
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, alert *models.Alert, channels []string) error {
	d.mu.Lock()
	d.calls = append(d.calls, dispatchCall{alertID: alert.ID, channels: channels})
	d.mu.Unlock()
	d.done <- struct{}{}
	return nil
}

func (d *fakeDispatcher) waitForCall(t *testing.T) dispatchCall {
	t.Helper()
	select {
	case <-d.done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher was not called")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[len(d.calls)-1]
}

func newTestService(t *testing.T) (*Service, *fakeDispatcher, storage.Storage, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "alertflow-engine-*")
	if err != nil {
		t.Fatalf("create temp dir: %v", err)
	}

	store := storage.NewSQLiteStorage(filepath.Join(tmpDir, "test.db"))
	if err := store.Open(); err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("open database: %v", err)
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		os.RemoveAll(tmpDir)
		t.Fatalf("migrate database: %v", err)
	}

	dispatcher := newFakeDispatcher()
	escalator := NewEscalator(store, dispatcher, nil)
	stats := NewStatsCalculator(store.Alerts(), store.Rules(), time.Minute)
	svc := NewService(store, dispatcher, escalator, stats)

	cleanup := func() {
		store.Close()
		os.RemoveAll(tmpDir)
	}
	return svc, dispatcher, store, cleanup
}

func createReq(tenantID string) *CreateAlertRequest {
	return &CreateAlertRequest{
		TenantID: tenantID,
		Title:    "suspicious request",
		Message:  "request blocked by policy",
		Severity: models.SeverityHigh,
		Category: models.CategorySecurityThreat,
		Source:   "firewall",
		Channels: []string{"slack"},
	}
}

func TestService_CreateAlert(t *testing.T) {
	svc, dispatcher, store, cleanup := newTestService(t)
	defer cleanup()
	ctx := context.Background()

	alert, err := svc.CreateAlert(ctx, createReq("tenant-a"))
	if err != nil {
		t.Fatalf("create alert: %v", err)
	}
	if alert.Status != models.StatusNew {
		t.Errorf("status = %v, want new", alert.Status)
	}
	if alert.ID == "" {
		t.Error("alert should have an id")
	}

	call := dispatcher.waitForCall(t)
	if call.alertID != alert.ID || len(call.channels) != 1 || call.channels[0] != "slack" {
		t.Errorf("dispatch call = %+v", call)
	}

	entries, err := store.AuditLog().ListByAlert(ctx, alert.ID)
	if err != nil {
		t.Fatalf("audit trail: %v", err)
	}
	if len(entries) != 1 || entries[0].Action != models.AuditAlertCreated {
		t.Errorf("audit trail = %+v", entries)
	}
}

func TestService_CreateAlert_Validation(t *testing.T) {
	svc, _, _, cleanup := newTestService(t)
	defer cleanup()
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*CreateAlertRequest)
	}{
		{"missing tenant", func(r *CreateAlertRequest) { r.TenantID = "" }},
		{"missing title", func(r *CreateAlertRequest) { r.Title = "" }},
		{"missing message", func(r *CreateAlertRequest) { r.Message = "" }},
		{"bad severity", func(r *CreateAlertRequest) { r.Severity = "urgent" }},
		{"bad category", func(r *CreateAlertRequest) { r.Category = "other" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := createReq("tenant-a")
			tt.mutate(req)
			if _, err := svc.CreateAlert(ctx, req); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestService_CreateAlert_Cooldown(t *testing.T) {
	svc, _, _, cleanup := newTestService(t)
	defer cleanup()
	ctx := context.Background()

	if _, err := svc.CreateAlert(ctx, createReq("tenant-a")); err != nil {
		t.Fatalf("first create: %v", err)
	}

	// Same ad hoc dedup key inside the window is suppressed without a write.
	_, err := svc.CreateAlert(ctx, createReq("tenant-a"))
	if !errors.Is(err, ErrSuppressed) {
		t.Fatalf("second create err = %v, want ErrSuppressed", err)
	}

	// A different key passes.
	other := createReq("tenant-a")
	other.Severity = models.SeverityLow
	if _, err := svc.CreateAlert(ctx, other); err != nil {
		t.Errorf("different key create: %v", err)
	}

	// Another tenant is unaffected.
	if _, err := svc.CreateAlert(ctx, createReq("tenant-b")); err != nil {
		t.Errorf("other tenant create: %v", err)
	}

	alerts, err := svc.ListAlerts(ctx, "tenant-a", storage.AlertFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(alerts) != 2 {
		t.Errorf("tenant-a alerts = %d, want 2", len(alerts))
	}
}

func TestService_CreateAlert_CooldownExpiry(t *testing.T) {
	svc, _, _, cleanup := newTestService(t)
	defer cleanup()
	ctx := context.Background()

	base := time.Now()
	svc.now = func() time.Time { return base }
	if _, err := svc.CreateAlert(ctx, createReq("tenant-a")); err != nil {
		t.Fatalf("first create: %v", err)
	}

	svc.now = func() time.Time { return base.Add(DefaultCooldown + time.Second) }
	if _, err := svc.CreateAlert(ctx, createReq("tenant-a")); err != nil {
		t.Errorf("create after cooldown: %v", err)
	}
}

func TestService_CreateFromMLAnalysis(t *testing.T) {
	tests := []struct {
		risk     float64
		severity models.Severity
		wantErr  error
	}{
		{0.95, models.SeverityCritical, nil},
		{0.75, models.SeverityHigh, nil},
		{0.45, models.SeverityMedium, nil},
		{0.35, models.SeverityLow, nil},
		{0.2, "", ErrRiskTooLow},
	}

	for _, tt := range tests {
		svc, _, store, cleanup := newTestService(t)
		ctx := context.Background()

		ml := &models.MLAnalysis{RiskScore: tt.risk, Confidence: 0.8, ThreatType: "prompt_injection"}
		alert, err := svc.CreateFromMLAnalysis(ctx, "tenant-a", ml, MLContext{UserID: "user-1"})

		if tt.wantErr != nil {
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("risk %.2f: err = %v, want %v", tt.risk, err, tt.wantErr)
			}
			cleanup()
			continue
		}
		if err != nil {
			t.Fatalf("risk %.2f: %v", tt.risk, err)
		}
		if alert.Severity != tt.severity {
			t.Errorf("risk %.2f: severity = %v, want %v", tt.risk, alert.Severity, tt.severity)
		}
		if alert.Category != models.CategoryMLAnomaly {
			t.Errorf("category = %v, want ml_anomaly", alert.Category)
		}
		if alert.ML == nil || alert.ML.RiskScore != tt.risk {
			t.Errorf("ml evidence not stored: %+v", alert.ML)
		}

		// Critical ML alerts arm escalation.
		due, err := store.Escalations().ListDue(ctx, time.Now().Add(24*time.Hour), 10)
		if err != nil {
			t.Fatalf("list escalations: %v", err)
		}
		if tt.severity == models.SeverityCritical && len(due) == 0 {
			t.Error("critical alert should arm escalation")
		}
		if tt.severity != models.SeverityCritical && len(due) != 0 {
			t.Errorf("severity %v should not arm escalation", tt.severity)
		}
		cleanup()
	}
}

func TestService_EscalationRequiresExplicitFlag(t *testing.T) {
	svc, _, store, cleanup := newTestService(t)
	defer cleanup()
	ctx := context.Background()

	// A critical alert without the escalate flag stays unescalated.
	req := createReq("tenant-a")
	req.Severity = models.SeverityCritical
	if _, err := svc.CreateAlert(ctx, req); err != nil {
		t.Fatalf("create critical alert: %v", err)
	}

	due, err := store.Escalations().ListDue(ctx, time.Now().Add(24*time.Hour), 10)
	if err != nil {
		t.Fatalf("list escalations: %v", err)
	}
	if len(due) != 0 {
		t.Errorf("unflagged critical alert armed %d escalation steps, want 0", len(due))
	}

	// The flag arms escalation at any severity.
	flagged := createReq("tenant-a")
	flagged.Escalate = true
	if _, err := svc.CreateAlert(ctx, flagged); err != nil {
		t.Fatalf("create flagged alert: %v", err)
	}

	due, err = store.Escalations().ListDue(ctx, time.Now().Add(24*time.Hour), 10)
	if err != nil {
		t.Fatalf("list escalations: %v", err)
	}
	if len(due) != 1 {
		t.Errorf("flagged alert armed %d escalation steps, want 1", len(due))
	}
}

func TestService_Lifecycle(t *testing.T) {
	svc, _, _, cleanup := newTestService(t)
	defer cleanup()
	ctx := context.Background()

	alert, err := svc.CreateAlert(ctx, createReq("tenant-a"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	acked, err := svc.Acknowledge(ctx, "tenant-a", alert.ID, "alice")
	if err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if acked.Status != models.StatusAcknowledged || acked.AcknowledgedBy != "alice" {
		t.Errorf("acknowledged alert = %+v", acked)
	}

	// Acknowledging twice conflicts.
	if _, err := svc.Acknowledge(ctx, "tenant-a", alert.ID, "bob"); !errors.Is(err, ErrConflict) {
		t.Errorf("double acknowledge err = %v, want ErrConflict", err)
	}

	resolved, err := svc.Resolve(ctx, "tenant-a", alert.ID, "alice", "patched upstream")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Status != models.StatusResolved || resolved.ResolvedReason != "patched upstream" {
		t.Errorf("resolved alert = %+v", resolved)
	}

	// Terminal alerts reject all transitions.
	if _, err := svc.Dismiss(ctx, "tenant-a", alert.ID, "alice", ""); !errors.Is(err, ErrConflict) {
		t.Errorf("dismiss after resolve err = %v, want ErrConflict", err)
	}
	if _, err := svc.Acknowledge(ctx, "tenant-a", alert.ID, "alice"); !errors.Is(err, ErrConflict) {
		t.Errorf("acknowledge after resolve err = %v, want ErrConflict", err)
	}

	trail, err := svc.AuditTrail(ctx, "tenant-a", alert.ID)
	if err != nil {
		t.Fatalf("audit trail: %v", err)
	}
	actions := make([]string, len(trail))
	for i, e := range trail {
		actions[i] = e.Action
	}
	want := []string{models.AuditAlertCreated, models.AuditAlertAcknowledged, models.AuditAlertResolved}
	if len(actions) != len(want) {
		t.Fatalf("audit actions = %v, want %v", actions, want)
	}
	for i := range want {
		if actions[i] != want[i] {
			t.Errorf("audit action %d = %v, want %v", i, actions[i], want[i])
		}
	}

	// Each transition records the pre-state the CAS matched: the resolve
	// that followed the acknowledge must say it came from acknowledged.
	auditFrom := func(e *models.AuditEntry) string {
		status, _ := e.Changes["status"].(map[string]any)
		from, _ := status["from"].(string)
		return from
	}
	if got := auditFrom(trail[1]); got != string(models.StatusNew) {
		t.Errorf("acknowledge audit from = %q, want new", got)
	}
	if got := auditFrom(trail[2]); got != string(models.StatusAcknowledged) {
		t.Errorf("resolve audit from = %q, want acknowledged", got)
	}
}

func TestService_DismissFromNew(t *testing.T) {
	svc, _, _, cleanup := newTestService(t)
	defer cleanup()
	ctx := context.Background()

	alert, err := svc.CreateAlert(ctx, createReq("tenant-a"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	dismissed, err := svc.Dismiss(ctx, "tenant-a", alert.ID, "alice", "false positive")
	if err != nil {
		t.Fatalf("dismiss: %v", err)
	}
	if dismissed.Status != models.StatusDismissed || dismissed.DismissedReason != "false positive" {
		t.Errorf("dismissed alert = %+v", dismissed)
	}
}

func TestService_TransitionNotFound(t *testing.T) {
	svc, _, _, cleanup := newTestService(t)
	defer cleanup()
	ctx := context.Background()

	if _, err := svc.Acknowledge(ctx, "tenant-a", "missing", "alice"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing alert err = %v, want ErrNotFound", err)
	}

	// Wrong tenant reads as not found, never as a cross-tenant leak.
	alert, err := svc.CreateAlert(ctx, createReq("tenant-a"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Acknowledge(ctx, "tenant-b", alert.ID, "alice"); !errors.Is(err, ErrNotFound) {
		t.Errorf("cross-tenant err = %v, want ErrNotFound", err)
	}
}

func TestService_EvaluateSignal(t *testing.T) {
	svc, dispatcher, _, cleanup := newTestService(t)
	defer cleanup()
	ctx := context.Background()

	rule := models.NewAlertRule("tenant-a", "high risk block", models.TriggerThreshold, models.SeverityCritical)
	rule.Channels = []string{"webhook"}
	rule.CooldownMinutes = 0
	rule.Conditions = []models.Condition{
		{Field: "data.risk", Operator: models.OpGT, Value: 0.8},
	}
	if err := svc.CreateRule(ctx, rule, "admin"); err != nil {
		t.Fatalf("create rule: %v", err)
	}

	noMatch := models.NewAlertRule("tenant-a", "other rule", models.TriggerThreshold, models.SeverityLow)
	noMatch.Channels = []string{"slack"}
	noMatch.Conditions = []models.Condition{
		{Field: "data.risk", Operator: models.OpLT, Value: 0.1},
	}
	if err := svc.CreateRule(ctx, noMatch, "admin"); err != nil {
		t.Fatalf("create rule: %v", err)
	}

	sig := &models.Signal{
		Title:    "blocked request",
		Message:  "risk threshold exceeded",
		Category: models.CategorySecurityThreat,
		Source:   "firewall",
		Context:  map[string]any{"risk": 0.92},
	}
	created, err := svc.EvaluateSignal(ctx, "tenant-a", sig)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("created = %d alerts, want 1", len(created))
	}
	if created[0].Severity != models.SeverityCritical {
		t.Errorf("severity = %v, want rule severity critical", created[0].Severity)
	}
	if created[0].RuleID != rule.ID {
		t.Errorf("rule id = %v, want %v", created[0].RuleID, rule.ID)
	}

	call := dispatcher.waitForCall(t)
	if len(call.channels) != 1 || call.channels[0] != "webhook" {
		t.Errorf("dispatch channels = %v, want rule channels", call.channels)
	}
}

func TestService_EvaluateSignal_DisabledRule(t *testing.T) {
	svc, _, _, cleanup := newTestService(t)
	defer cleanup()
	ctx := context.Background()

	rule := models.NewAlertRule("tenant-a", "disabled rule", models.TriggerThreshold, models.SeverityHigh)
	rule.Channels = []string{"slack"}
	rule.Conditions = []models.Condition{
		{Field: "severity", Operator: models.OpEQ, Value: "high"},
	}
	if err := svc.CreateRule(ctx, rule, "admin"); err != nil {
		t.Fatalf("create rule: %v", err)
	}
	if err := svc.DisableRule(ctx, "tenant-a", rule.ID, "admin"); err != nil {
		t.Fatalf("disable rule: %v", err)
	}

	created, err := svc.EvaluateSignal(ctx, "tenant-a", &models.Signal{
		Title: "t", Message: "m", Severity: models.SeverityHigh,
		Category: models.CategorySystemError,
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(created) != 0 {
		t.Errorf("disabled rule created %d alerts", len(created))
	}

	// The rule row survives as disabled.
	got, err := svc.GetRule(ctx, "tenant-a", rule.ID)
	if err != nil {
		t.Fatalf("get rule: %v", err)
	}
	if got.Enabled {
		t.Error("rule should be disabled")
	}
}

func TestService_RuleValidation(t *testing.T) {
	svc, _, _, cleanup := newTestService(t)
	defer cleanup()
	ctx := context.Background()

	// Enabled rule without channels is rejected.
	rule := models.NewAlertRule("tenant-a", "no channels", models.TriggerThreshold, models.SeverityHigh)
	if err := svc.CreateRule(ctx, rule, "admin"); err == nil {
		t.Error("rule without channels should fail validation")
	}

	rule.Channels = []string{"slack"}
	rule.CooldownMinutes = -1
	if err := svc.CreateRule(ctx, rule, "admin"); err == nil {
		t.Error("negative cooldown should fail validation")
	}
}
