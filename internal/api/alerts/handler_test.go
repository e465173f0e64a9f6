package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/good-yellow-bee/alertflow/internal/api/middleware"
	"github.com/good-yellow-bee/alertflow/internal/engine"
	"github.com/good-yellow-bee/alertflow/internal/models"
	"github.com/good-yellow-bee/alertflow/internal/notifier"
	"github.com/good-yellow-bee/alertflow/internal/storage"
)

// newTestRouter builds the alert routes over a real store and engine,
// with the dashboard feed as the only notification channel.
func newTestRouter(t *testing.T) (*chi.Mux, *notifier.DashboardProvider, storage.Storage, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "alertflow-api-*")
	if err != nil {
		t.Fatalf("temp dir: %v", err)
	}

	store := storage.NewSQLiteStorage(filepath.Join(tmpDir, "test.db"))
	if err := store.Open(); err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("open storage: %v", err)
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		os.RemoveAll(tmpDir)
		t.Fatalf("migrate: %v", err)
	}

	feed := notifier.NewDashboardProvider(100)
	registry := notifier.NewRegistry()
	registry.Register(feed, "")

	dispatcher := notifier.NewDispatcher(store, registry, notifier.DispatcherConfig{})
	escalator := engine.NewEscalator(store, dispatcher, nil)
	stats := engine.NewStatsCalculator(store.Alerts(), store.Rules(), time.Second)
	service := engine.NewService(store, dispatcher, escalator, stats)

	handler := NewHandler(service, feed, store.AuditLog())

	r := chi.NewRouter()
	r.Use(middleware.RequireTenant)
	r.Route("/alerts", func(r chi.Router) {
		r.Post("/", handler.Create)
		r.Post("/ml", handler.CreateFromML)
		r.Post("/evaluate", handler.Evaluate)
		r.Get("/", handler.List)
		r.Get("/feed", handler.Feed)
		r.Get("/stats", handler.Stats)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", handler.GetByID)
			r.Post("/acknowledge", handler.Acknowledge)
			r.Post("/resolve", handler.Resolve)
			r.Post("/dismiss", handler.Dismiss)
			r.Get("/notifications", handler.Notifications)
			r.Get("/audit", handler.AuditTrail)
		})
	})
	r.Get("/audit", handler.TenantAudit)

	return r, feed, store, func() {
		store.Close()
		os.RemoveAll(tmpDir)
	}
}

func doJSON(t *testing.T, router http.Handler, method, path, tenant string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if tenant != "" {
		req.Header.Set(middleware.TenantHeader, tenant)
	}
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	var resp struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v (body %s)", err, w.Body.String())
	}
	if err := json.Unmarshal(resp.Data, out); err != nil {
		t.Fatalf("decode data: %v (body %s)", err, w.Body.String())
	}
}

func createBody(suffix string) map[string]any {
	return map[string]any{
		"title":    "High error rate " + suffix,
		"message":  "error rate exceeded threshold",
		"severity": "high",
		"category": "system_error",
		"source":   "api-gateway-" + suffix,
		"actor":    "tester",
	}
}

func TestCreateAlertEndpoint(t *testing.T) {
	router, _, _, cleanup := newTestRouter(t)
	defer cleanup()

	w := doJSON(t, router, http.MethodPost, "/alerts", "tenant-a", createBody("1"))
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var alert struct {
		ID       string `json:"id"`
		TenantID string `json:"tenant_id"`
		Status   string `json:"status"`
	}
	decodeData(t, w, &alert)
	if alert.ID == "" {
		t.Error("alert id missing")
	}
	if alert.TenantID != "tenant-a" {
		t.Errorf("tenant = %q, want tenant-a", alert.TenantID)
	}
	if alert.Status != "new" {
		t.Errorf("status = %q, want new", alert.Status)
	}
}

func TestCreateAlertValidation(t *testing.T) {
	router, _, _, cleanup := newTestRouter(t)
	defer cleanup()

	body := createBody("1")
	delete(body, "title")

	w := doJSON(t, router, http.MethodPost, "/alerts", "tenant-a", body)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 (body %s)", w.Code, w.Body.String())
	}
}

func TestCreateAlertRequiresTenant(t *testing.T) {
	router, _, _, cleanup := newTestRouter(t)
	defer cleanup()

	w := doJSON(t, router, http.MethodPost, "/alerts", "", createBody("1"))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestCreateAlertSuppressed(t *testing.T) {
	router, _, _, cleanup := newTestRouter(t)
	defer cleanup()

	body := createBody("1")
	if w := doJSON(t, router, http.MethodPost, "/alerts", "tenant-a", body); w.Code != http.StatusCreated {
		t.Fatalf("first create status = %d", w.Code)
	}

	// Duplicate key inside the cooldown window is suppressed, not an error.
	w := doJSON(t, router, http.MethodPost, "/alerts", "tenant-a", body)
	if w.Code != http.StatusOK {
		t.Fatalf("duplicate status = %d, want 200 (body %s)", w.Code, w.Body.String())
	}
	var resp struct {
		Suppressed bool `json:"suppressed"`
	}
	decodeData(t, w, &resp)
	if !resp.Suppressed {
		t.Error("expected suppressed response")
	}
}

func TestCreateFromMLEndpoint(t *testing.T) {
	router, _, _, cleanup := newTestRouter(t)
	defer cleanup()

	w := doJSON(t, router, http.MethodPost, "/alerts/ml", "tenant-a", map[string]any{
		"risk_score":  0.95,
		"confidence":  0.9,
		"threat_type": "prompt_injection",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var alert struct {
		Severity string `json:"severity"`
		Category string `json:"category"`
	}
	decodeData(t, w, &alert)
	if alert.Severity != "critical" {
		t.Errorf("severity = %q, want critical", alert.Severity)
	}
	if alert.Category != "ml_anomaly" {
		t.Errorf("category = %q, want ml_anomaly", alert.Category)
	}
}

func TestCreateFromMLBelowThreshold(t *testing.T) {
	router, _, _, cleanup := newTestRouter(t)
	defer cleanup()

	w := doJSON(t, router, http.MethodPost, "/alerts/ml", "tenant-a", map[string]any{
		"risk_score": 0.1,
		"confidence": 0.8,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", w.Code, w.Body.String())
	}
	var resp struct {
		Created bool `json:"created"`
	}
	decodeData(t, w, &resp)
	if resp.Created {
		t.Error("low-risk analysis should not create an alert")
	}
}

func TestCreateFromMLInvalidScore(t *testing.T) {
	router, _, _, cleanup := newTestRouter(t)
	defer cleanup()

	w := doJSON(t, router, http.MethodPost, "/alerts/ml", "tenant-a", map[string]any{
		"risk_score": 1.7,
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestLifecycleEndpoints(t *testing.T) {
	router, _, _, cleanup := newTestRouter(t)
	defer cleanup()

	w := doJSON(t, router, http.MethodPost, "/alerts", "tenant-a", createBody("1"))
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d", w.Code)
	}
	var alert struct {
		ID string `json:"id"`
	}
	decodeData(t, w, &alert)
	base := "/alerts/" + alert.ID

	// acknowledge
	w = doJSON(t, router, http.MethodPost, base+"/acknowledge", "tenant-a", map[string]any{"actor": "oncall"})
	if w.Code != http.StatusOK {
		t.Fatalf("acknowledge status = %d, body %s", w.Code, w.Body.String())
	}
	var after struct {
		Status         string `json:"status"`
		AcknowledgedBy string `json:"acknowledged_by"`
	}
	decodeData(t, w, &after)
	if after.Status != "acknowledged" || after.AcknowledgedBy != "oncall" {
		t.Errorf("after ack: %+v", after)
	}

	// double acknowledge conflicts
	w = doJSON(t, router, http.MethodPost, base+"/acknowledge", "tenant-a", map[string]any{"actor": "oncall"})
	if w.Code != http.StatusConflict {
		t.Fatalf("double ack status = %d, want 409", w.Code)
	}

	// resolve
	w = doJSON(t, router, http.MethodPost, base+"/resolve", "tenant-a", map[string]any{"actor": "oncall", "reason": "fixed"})
	if w.Code != http.StatusOK {
		t.Fatalf("resolve status = %d, body %s", w.Code, w.Body.String())
	}

	// terminal state rejects further transitions
	w = doJSON(t, router, http.MethodPost, base+"/dismiss", "tenant-a", map[string]any{"actor": "oncall"})
	if w.Code != http.StatusConflict {
		t.Fatalf("dismiss after resolve status = %d, want 409", w.Code)
	}
}

func TestTransitionRequiresActor(t *testing.T) {
	router, _, _, cleanup := newTestRouter(t)
	defer cleanup()

	w := doJSON(t, router, http.MethodPost, "/alerts", "tenant-a", createBody("1"))
	var alert struct {
		ID string `json:"id"`
	}
	decodeData(t, w, &alert)

	w = doJSON(t, router, http.MethodPost, "/alerts/"+alert.ID+"/acknowledge", "tenant-a", map[string]any{})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestGetAlertTenantScoping(t *testing.T) {
	router, _, _, cleanup := newTestRouter(t)
	defer cleanup()

	w := doJSON(t, router, http.MethodPost, "/alerts", "tenant-a", createBody("1"))
	var alert struct {
		ID string `json:"id"`
	}
	decodeData(t, w, &alert)

	if w := doJSON(t, router, http.MethodGet, "/alerts/"+alert.ID, "tenant-a", nil); w.Code != http.StatusOK {
		t.Errorf("same-tenant get status = %d", w.Code)
	}
	if w := doJSON(t, router, http.MethodGet, "/alerts/"+alert.ID, "tenant-b", nil); w.Code != http.StatusNotFound {
		t.Errorf("cross-tenant get status = %d, want 404", w.Code)
	}
	if w := doJSON(t, router, http.MethodGet, "/alerts/nope", "tenant-a", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing get status = %d, want 404", w.Code)
	}
}

func TestListAlertsFilters(t *testing.T) {
	router, _, _, cleanup := newTestRouter(t)
	defer cleanup()

	for i := 0; i < 3; i++ {
		body := createBody(fmt.Sprintf("%d", i))
		if w := doJSON(t, router, http.MethodPost, "/alerts", "tenant-a", body); w.Code != http.StatusCreated {
			t.Fatalf("create %d status = %d", i, w.Code)
		}
	}

	w := doJSON(t, router, http.MethodGet, "/alerts?severity=high", "tenant-a", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var list []json.RawMessage
	decodeData(t, w, &list)
	if len(list) != 3 {
		t.Errorf("list = %d alerts, want 3", len(list))
	}

	w = doJSON(t, router, http.MethodGet, "/alerts?severity=critical", "tenant-a", nil)
	decodeData(t, w, &list)
	if len(list) != 0 {
		t.Errorf("critical list = %d alerts, want 0", len(list))
	}

	if w := doJSON(t, router, http.MethodGet, "/alerts?status=bogus", "tenant-a", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad filter status = %d, want 400", w.Code)
	}
}

func TestNotificationsEndpoint(t *testing.T) {
	router, _, _, cleanup := newTestRouter(t)
	defer cleanup()

	w := doJSON(t, router, http.MethodPost, "/alerts", "tenant-a", createBody("1"))
	var alert struct {
		ID string `json:"id"`
	}
	decodeData(t, w, &alert)

	// Dispatch runs detached from alert creation.
	var list []struct {
		Channel string `json:"channel"`
		Status  string `json:"status"`
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		w = doJSON(t, router, http.MethodGet, "/alerts/"+alert.ID+"/notifications", "tenant-a", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("notifications status = %d", w.Code)
		}
		list = nil
		decodeData(t, w, &list)
		if len(list) > 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	if len(list) != 1 {
		t.Fatalf("notifications = %d, want 1", len(list))
	}
	if list[0].Channel != "dashboard" || list[0].Status != "sent" {
		t.Errorf("notification = %+v", list[0])
	}
}

func TestAuditEndpoints(t *testing.T) {
	router, _, _, cleanup := newTestRouter(t)
	defer cleanup()

	w := doJSON(t, router, http.MethodPost, "/alerts", "tenant-a", createBody("1"))
	var alert struct {
		ID string `json:"id"`
	}
	decodeData(t, w, &alert)

	doJSON(t, router, http.MethodPost, "/alerts/"+alert.ID+"/acknowledge", "tenant-a", map[string]any{"actor": "oncall"})

	w = doJSON(t, router, http.MethodGet, "/alerts/"+alert.ID+"/audit", "tenant-a", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("audit status = %d", w.Code)
	}
	var entries []struct {
		Action string `json:"action"`
	}
	decodeData(t, w, &entries)
	if len(entries) != 2 {
		t.Fatalf("audit entries = %d, want 2", len(entries))
	}
	if entries[0].Action != "created" || entries[1].Action != "acknowledged" {
		t.Errorf("audit actions = %+v", entries)
	}

	// Tenant-wide audit page
	w = doJSON(t, router, http.MethodGet, "/audit?per_page=10", "tenant-a", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("tenant audit status = %d", w.Code)
	}
	var page struct {
		Total int64 `json:"total"`
	}
	decodeData(t, w, &page)
	if page.Total != 2 {
		t.Errorf("tenant audit total = %d, want 2", page.Total)
	}
}

func TestStatsEndpoint(t *testing.T) {
	router, _, _, cleanup := newTestRouter(t)
	defer cleanup()

	doJSON(t, router, http.MethodPost, "/alerts", "tenant-a", createBody("1"))

	w := doJSON(t, router, http.MethodGet, "/alerts/stats?window_days=7", "tenant-a", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("stats status = %d, body %s", w.Code, w.Body.String())
	}
	var stats struct {
		Total      int `json:"total"`
		WindowDays int `json:"window_days"`
	}
	decodeData(t, w, &stats)
	if stats.Total != 1 {
		t.Errorf("total = %d, want 1", stats.Total)
	}
	if stats.WindowDays != 7 {
		t.Errorf("window = %d, want 7", stats.WindowDays)
	}

	if w := doJSON(t, router, http.MethodGet, "/alerts/stats?window_days=9999", "tenant-a", nil); w.Code != http.StatusBadRequest {
		t.Errorf("oversized window status = %d, want 400", w.Code)
	}
	if w := doJSON(t, router, http.MethodGet, "/alerts/stats?window_days=0", "tenant-a", nil); w.Code != http.StatusBadRequest {
		t.Errorf("zero window status = %d, want 400", w.Code)
	}
}

func TestFeedEndpoint(t *testing.T) {
	router, _, _, cleanup := newTestRouter(t)
	defer cleanup()

	doJSON(t, router, http.MethodPost, "/alerts", "tenant-a", createBody("1"))
	doJSON(t, router, http.MethodPost, "/alerts", "tenant-b", createBody("2"))

	// Feed fills in asynchronously.
	var feed []struct {
		Alert struct {
			TenantID string `json:"tenant_id"`
		} `json:"alert"`
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		w := doJSON(t, router, http.MethodGet, "/alerts/feed", "tenant-a", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("feed status = %d", w.Code)
		}
		feed = nil
		decodeData(t, w, &feed)
		if len(feed) > 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	if len(feed) != 1 {
		t.Fatalf("feed = %d entries, want 1", len(feed))
	}
	if feed[0].Alert.TenantID != "tenant-a" {
		t.Errorf("feed tenant = %q, want tenant-a", feed[0].Alert.TenantID)
	}
}

func TestEvaluateEndpoint(t *testing.T) {
	router, _, store, cleanup := newTestRouter(t)
	defer cleanup()

	// Seed an enabled rule directly.
	rule := models.NewAlertRule("tenant-a", "high error rate", models.TriggerThreshold, models.SeverityHigh)
	rule.ID = "rule-eval-1"
	rule.Channels = []string{"dashboard"}
	rule.Conditions = []models.Condition{
		{Field: "data.error_rate", Operator: models.OpGT, Value: 0.5},
	}
	if err := store.Rules().Create(context.Background(), rule); err != nil {
		t.Fatalf("create rule: %v", err)
	}

	w := doJSON(t, router, http.MethodPost, "/alerts/evaluate", "tenant-a", map[string]any{
		"title":    "error spike",
		"message":  "too many errors",
		"severity": "high",
		"category": "system_error",
		"source":   "ingest",
		"context":  map[string]any{"error_rate": 0.9},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("evaluate status = %d, body %s", w.Code, w.Body.String())
	}
	var resp struct {
		Matched int `json:"matched"`
	}
	decodeData(t, w, &resp)
	if resp.Matched != 1 {
		t.Errorf("matched = %d, want 1", resp.Matched)
	}
}
