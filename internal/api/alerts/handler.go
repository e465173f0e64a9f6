// Package alerts provides the alert lifecycle HTTP endpoints.
package alerts

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/good-yellow-bee/alertflow/internal/api/middleware"
	"github.com/good-yellow-bee/alertflow/internal/engine"
	"github.com/good-yellow-bee/alertflow/internal/models"
	"github.com/good-yellow-bee/alertflow/internal/notifier"
	"github.com/good-yellow-bee/alertflow/internal/storage"
)

// Response helpers
type errorResponse struct {
	Error errorBody `json:"error"`
}
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
type dataResponse struct {
	Data any `json:"data"`
}

const (
	errCodeBadRequest       = "BAD_REQUEST"
	errCodeValidationFailed = "VALIDATION_FAILED"
	errCodeNotFound         = "NOT_FOUND"
	errCodeConflict         = "CONFLICT"
	errCodeInternalError    = "INTERNAL_ERROR"
)

func jsonError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(errorResponse{Error: errorBody{Code: code, Message: message}}); err != nil {
		log.Printf("json encode error: %v", err)
	}
}

func jsonStatus(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(dataResponse{Data: data}); err != nil {
		log.Printf("json encode error: %v", err)
	}
}

func jsonOK(w http.ResponseWriter, data any) {
	jsonStatus(w, http.StatusOK, data)
}

func jsonCreated(w http.ResponseWriter, data any) {
	jsonStatus(w, http.StatusCreated, data)
}

// Handler handles alert endpoints.
type Handler struct {
	service *engine.Service
	feed    *notifier.DashboardProvider
	audit   storage.AuditLogRepository
}

// NewHandler creates the alert handler. feed may be nil when the
// dashboard channel is disabled.
func NewHandler(service *engine.Service, feed *notifier.DashboardProvider, audit storage.AuditLogRepository) *Handler {
	return &Handler{service: service, feed: feed, audit: audit}
}

// suppressedResponse is returned when the cooldown gate rejects an alert.
type suppressedResponse struct {
	Suppressed bool   `json:"suppressed"`
	Reason     string `json:"reason"`
}

// Create creates a new alert.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req engine.CreateAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}
	req.TenantID = middleware.GetTenantID(ctx)

	alert, err := h.service.CreateAlert(ctx, &req)
	switch {
	case errors.Is(err, engine.ErrSuppressed):
		jsonOK(w, suppressedResponse{Suppressed: true, Reason: "duplicate within cooldown window"})
		return
	case errors.Is(err, engine.ErrNotFound):
		jsonError(w, http.StatusNotFound, errCodeNotFound, "rule not found")
		return
	case err != nil:
		if validationErr(err) {
			jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
			return
		}
		log.Printf("create alert error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	jsonCreated(w, alert)
}

// MLRequest carries an ML analysis result plus request correlation data.
type MLRequest struct {
	RiskScore   float64 `json:"risk_score"`
	Confidence  float64 `json:"confidence"`
	ThreatType  string  `json:"threat_type,omitempty"`
	Explanation string  `json:"explanation,omitempty"`

	RequestID string         `json:"request_id,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
	IPAddress string         `json:"ip_address,omitempty"`
	UserAgent string         `json:"user_agent,omitempty"`
	Endpoint  string         `json:"endpoint,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// CreateFromML creates an alert from an ML analysis result. Scores below
// the alerting threshold return 200 with created=false rather than an
// error; the scorer is expected to post every analysis.
func (h *Handler) CreateFromML(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req MLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}
	if req.RiskScore < 0 || req.RiskScore > 1 {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, "risk_score must be in [0, 1]")
		return
	}

	ml := &models.MLAnalysis{
		RiskScore:   req.RiskScore,
		Confidence:  req.Confidence,
		ThreatType:  req.ThreatType,
		Explanation: req.Explanation,
	}
	mctx := engine.MLContext{
		RequestID: req.RequestID,
		UserID:    req.UserID,
		IPAddress: req.IPAddress,
		UserAgent: req.UserAgent,
		Endpoint:  req.Endpoint,
		Data:      req.Data,
	}

	alert, err := h.service.CreateFromMLAnalysis(ctx, middleware.GetTenantID(ctx), ml, mctx)
	switch {
	case errors.Is(err, engine.ErrRiskTooLow):
		jsonOK(w, map[string]any{"created": false, "reason": "risk score below alert threshold"})
		return
	case errors.Is(err, engine.ErrSuppressed):
		jsonOK(w, suppressedResponse{Suppressed: true, Reason: "duplicate within cooldown window"})
		return
	case err != nil:
		log.Printf("create ml alert error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	jsonCreated(w, alert)
}

// Evaluate runs a signal through the tenant's enabled rules.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var sig models.Signal
	if err := json.NewDecoder(r.Body).Decode(&sig); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}

	created, err := h.service.EvaluateSignal(ctx, middleware.GetTenantID(ctx), &sig)
	if err != nil {
		log.Printf("evaluate signal error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}
	if created == nil {
		created = []*models.Alert{}
	}

	jsonOK(w, map[string]any{"alerts": created, "matched": len(created)})
}

// List returns the tenant's alerts, most recent first.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	filter := storage.AlertFilter{}
	if s := q.Get("status"); s != "" {
		if !models.ValidStatus(s) {
			jsonError(w, http.StatusBadRequest, errCodeValidationFailed, "invalid status filter")
			return
		}
		filter.Status = models.Status(s)
	}
	if s := q.Get("severity"); s != "" {
		if !models.ValidSeverity(s) {
			jsonError(w, http.StatusBadRequest, errCodeValidationFailed, "invalid severity filter")
			return
		}
		filter.Severity = models.Severity(s)
	}
	if s := q.Get("category"); s != "" {
		if !models.ValidCategory(s) {
			jsonError(w, http.StatusBadRequest, errCodeValidationFailed, "invalid category filter")
			return
		}
		filter.Category = models.Category(s)
	}
	if s := q.Get("limit"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 && v <= 500 {
			filter.Limit = v
		}
	}
	if s := q.Get("offset"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v >= 0 {
			filter.Offset = v
		}
	}

	alerts, err := h.service.ListAlerts(ctx, middleware.GetTenantID(ctx), filter)
	if err != nil {
		log.Printf("list alerts error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}
	if alerts == nil {
		alerts = []*models.Alert{}
	}
	jsonOK(w, alerts)
}

// GetByID returns an alert by ID.
func (h *Handler) GetByID(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	if id == "" {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "alert id required")
		return
	}

	alert, err := h.service.GetAlert(ctx, middleware.GetTenantID(ctx), id)
	if errors.Is(err, engine.ErrNotFound) {
		jsonError(w, http.StatusNotFound, errCodeNotFound, "alert not found")
		return
	}
	if err != nil {
		log.Printf("get alert error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	jsonOK(w, alert)
}

// transitionRequest carries the acting user and optional reason.
type transitionRequest struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason,omitempty"`
}

func decodeTransition(w http.ResponseWriter, r *http.Request) (string, *transitionRequest, bool) {
	id := chi.URLParam(r, "id")
	if id == "" {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "alert id required")
		return "", nil, false
	}

	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return "", nil, false
	}
	if req.Actor == "" {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, "actor is required")
		return "", nil, false
	}
	return id, &req, true
}

func (h *Handler) writeTransition(w http.ResponseWriter, alert *models.Alert, err error) {
	switch {
	case errors.Is(err, engine.ErrNotFound):
		jsonError(w, http.StatusNotFound, errCodeNotFound, "alert not found")
	case errors.Is(err, engine.ErrConflict):
		jsonError(w, http.StatusConflict, errCodeConflict, "alert status does not permit this transition")
	case err != nil:
		log.Printf("alert transition error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
	default:
		jsonOK(w, alert)
	}
}

// Acknowledge marks a new alert acknowledged.
func (h *Handler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	id, req, ok := decodeTransition(w, r)
	if !ok {
		return
	}
	alert, err := h.service.Acknowledge(r.Context(), middleware.GetTenantID(r.Context()), id, req.Actor)
	h.writeTransition(w, alert, err)
}

// Resolve marks a new or acknowledged alert resolved.
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	id, req, ok := decodeTransition(w, r)
	if !ok {
		return
	}
	alert, err := h.service.Resolve(r.Context(), middleware.GetTenantID(r.Context()), id, req.Actor, req.Reason)
	h.writeTransition(w, alert, err)
}

// Dismiss marks a new or acknowledged alert dismissed.
func (h *Handler) Dismiss(w http.ResponseWriter, r *http.Request) {
	id, req, ok := decodeTransition(w, r)
	if !ok {
		return
	}
	alert, err := h.service.Dismiss(r.Context(), middleware.GetTenantID(r.Context()), id, req.Actor, req.Reason)
	h.writeTransition(w, alert, err)
}

// Notifications returns the delivery records of one alert.
func (h *Handler) Notifications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	notifications, err := h.service.ListNotifications(ctx, middleware.GetTenantID(ctx), id)
	if errors.Is(err, engine.ErrNotFound) {
		jsonError(w, http.StatusNotFound, errCodeNotFound, "alert not found")
		return
	}
	if err != nil {
		log.Printf("list notifications error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}
	if notifications == nil {
		notifications = []*models.AlertNotification{}
	}
	jsonOK(w, notifications)
}

// AuditTrail returns the audit entries of one alert.
func (h *Handler) AuditTrail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	entries, err := h.service.AuditTrail(ctx, middleware.GetTenantID(ctx), id)
	if errors.Is(err, engine.ErrNotFound) {
		jsonError(w, http.StatusNotFound, errCodeNotFound, "alert not found")
		return
	}
	if err != nil {
		log.Printf("alert audit trail error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}
	if entries == nil {
		entries = []*models.AuditEntry{}
	}
	jsonOK(w, entries)
}

// TenantAudit returns the tenant's audit log with pagination.
func (h *Handler) TenantAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	page := 1
	perPage := 50
	if p := r.URL.Query().Get("page"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			page = v
		}
	}
	if pp := r.URL.Query().Get("per_page"); pp != "" {
		if v, err := strconv.Atoi(pp); err == nil && v > 0 && v <= 100 {
			perPage = v
		}
	}

	offset := (page - 1) * perPage
	entries, total, err := h.audit.ListByTenant(ctx, middleware.GetTenantID(ctx), perPage, offset)
	if err != nil {
		log.Printf("tenant audit error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}
	if entries == nil {
		entries = []*models.AuditEntry{}
	}

	jsonOK(w, map[string]any{
		"items":    entries,
		"total":    total,
		"page":     page,
		"per_page": perPage,
	})
}

// Stats returns windowed alert statistics for the tenant.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	windowDays := 0
	if s := r.URL.Query().Get("window_days"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 || v > 365 {
			jsonError(w, http.StatusBadRequest, errCodeValidationFailed, "window_days must be between 1 and 365")
			return
		}
		windowDays = v
	}

	stats, err := h.service.Statistics(ctx, middleware.GetTenantID(ctx), windowDays)
	if err != nil {
		log.Printf("alert stats error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}
	jsonOK(w, stats)
}

// Feed returns the recent-alert dashboard feed.
func (h *Handler) Feed(w http.ResponseWriter, r *http.Request) {
	if h.feed == nil {
		jsonOK(w, []notifier.FeedEntry{})
		return
	}

	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 && v <= 200 {
			limit = v
		}
	}

	tenantID := middleware.GetTenantID(r.Context())
	entries := h.feed.Feed(0)
	out := make([]notifier.FeedEntry, 0, limit)
	for _, e := range entries {
		if e.Alert.TenantID != tenantID {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	jsonOK(w, out)
}

// validationErr reports whether err is a request validation failure
// rather than an infrastructure error.
func validationErr(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "required") || strings.Contains(msg, "invalid")
}
