package rules

import (
	"bytes"
	"encoding/json"
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

func newTestRouter(t *testing.T) (*chi.Mux, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "alertflow-rules-api-*")
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

	registry := notifier.NewRegistry()
	registry.Register(notifier.NewDashboardProvider(10), "")
	dispatcher := notifier.NewDispatcher(store, registry, notifier.DispatcherConfig{})
	escalator := engine.NewEscalator(store, dispatcher, nil)
	stats := engine.NewStatsCalculator(store.Alerts(), store.Rules(), time.Second)
	service := engine.NewService(store, dispatcher, escalator, stats)

	handler := NewHandler(service)

	r := chi.NewRouter()
	r.Use(middleware.RequireTenant)
	r.Route("/rules", func(r chi.Router) {
		r.Post("/", handler.Create)
		r.Get("/", handler.List)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", handler.GetByID)
			r.Put("/", handler.Update)
			r.Delete("/", handler.Disable)
		})
	})

	return r, func() {
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

func ruleBody() map[string]any {
	return map[string]any{
		"name":         "high error rate",
		"description":  "too many errors in five minutes",
		"trigger_type": "threshold",
		"severity":     "high",
		"channels":     []string{"slack", "dashboard"},
		"conditions": []map[string]any{
			{"field": "data.error_rate", "operator": "gt", "value": 0.5},
		},
		"actor": "ops",
	}
}

func TestCreateRuleEndpoint(t *testing.T) {
	router, cleanup := newTestRouter(t)
	defer cleanup()

	w := doJSON(t, router, http.MethodPost, "/rules", "tenant-a", ruleBody())
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var rule models.AlertRule
	decodeData(t, w, &rule)
	if rule.ID == "" {
		t.Error("rule id missing")
	}
	if !rule.Enabled {
		t.Error("rule should default to enabled")
	}
	if rule.CooldownMinutes != 5 {
		t.Errorf("cooldown = %d, want store default 5", rule.CooldownMinutes)
	}
	if rule.TenantID != "tenant-a" {
		t.Errorf("tenant = %q", rule.TenantID)
	}
}

func TestCreateRuleValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(map[string]any)
	}{
		{"missing name", func(b map[string]any) { delete(b, "name") }},
		{"bad severity", func(b map[string]any) { b["severity"] = "urgent" }},
		{"bad trigger", func(b map[string]any) { b["trigger_type"] = "cron" }},
		{"no channels", func(b map[string]any) { delete(b, "channels") }},
		{"bad operator", func(b map[string]any) {
			b["conditions"] = []map[string]any{{"field": "x", "operator": "matches", "value": 1}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, cleanup := newTestRouter(t)
			defer cleanup()

			body := ruleBody()
			tt.mutate(body)
			w := doJSON(t, router, http.MethodPost, "/rules", "tenant-a", body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400 (body %s)", w.Code, w.Body.String())
			}
		})
	}
}

func TestUpdateRuleEndpoint(t *testing.T) {
	router, cleanup := newTestRouter(t)
	defer cleanup()

	w := doJSON(t, router, http.MethodPost, "/rules", "tenant-a", ruleBody())
	var rule models.AlertRule
	decodeData(t, w, &rule)

	w = doJSON(t, router, http.MethodPut, "/rules/"+rule.ID, "tenant-a", map[string]any{
		"severity":         "critical",
		"cooldown_minutes": 30,
		"actor":            "ops",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d, body %s", w.Code, w.Body.String())
	}

	var updated models.AlertRule
	decodeData(t, w, &updated)
	if updated.Severity != models.SeverityCritical {
		t.Errorf("severity = %s, want critical", updated.Severity)
	}
	if updated.CooldownMinutes != 30 {
		t.Errorf("cooldown = %d, want 30", updated.CooldownMinutes)
	}
	// Untouched fields survive.
	if updated.Name != "high error rate" {
		t.Errorf("name = %q", updated.Name)
	}
}

func TestDisableRuleEndpoint(t *testing.T) {
	router, cleanup := newTestRouter(t)
	defer cleanup()

	w := doJSON(t, router, http.MethodPost, "/rules", "tenant-a", ruleBody())
	var rule models.AlertRule
	decodeData(t, w, &rule)

	w = doJSON(t, router, http.MethodDelete, "/rules/"+rule.ID+"?actor=ops", "tenant-a", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("disable status = %d", w.Code)
	}

	// The rule still exists, disabled.
	w = doJSON(t, router, http.MethodGet, "/rules/"+rule.ID, "tenant-a", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	var after models.AlertRule
	decodeData(t, w, &after)
	if after.Enabled {
		t.Error("rule should be disabled")
	}
}

func TestRuleTenantScoping(t *testing.T) {
	router, cleanup := newTestRouter(t)
	defer cleanup()

	w := doJSON(t, router, http.MethodPost, "/rules", "tenant-a", ruleBody())
	var rule models.AlertRule
	decodeData(t, w, &rule)

	if w := doJSON(t, router, http.MethodGet, "/rules/"+rule.ID, "tenant-b", nil); w.Code != http.StatusNotFound {
		t.Errorf("cross-tenant get status = %d, want 404", w.Code)
	}
	if w := doJSON(t, router, http.MethodDelete, "/rules/"+rule.ID, "tenant-b", nil); w.Code != http.StatusNotFound {
		t.Errorf("cross-tenant disable status = %d, want 404", w.Code)
	}

	w = doJSON(t, router, http.MethodGet, "/rules", "tenant-b", nil)
	var list []models.AlertRule
	decodeData(t, w, &list)
	if len(list) != 0 {
		t.Errorf("tenant-b rules = %d, want 0", len(list))
	}
}
