// Package rules provides the alert rule management HTTP endpoints.
package rules

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/good-yellow-bee/alertflow/internal/api/middleware"
	"github.com/good-yellow-bee/alertflow/internal/engine"
	"github.com/good-yellow-bee/alertflow/internal/models"
)

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

// Handler handles rule endpoints.
type Handler struct {
	service *engine.Service
}

// NewHandler creates the rule handler.
func NewHandler(service *engine.Service) *Handler {
	return &Handler{service: service}
}

// CreateRequest carries a new rule definition.
type CreateRequest struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	TriggerType string             `json:"trigger_type"`
	Conditions  []models.Condition `json:"conditions"`
	Severity    string             `json:"severity"`
	Channels    []string           `json:"channels"`
	Enabled     *bool              `json:"enabled,omitempty"`

	CooldownMinutes    *int  `json:"cooldown_minutes,omitempty"`
	GroupSimilar       *bool `json:"group_similar,omitempty"`
	GroupWindowMinutes *int  `json:"group_window_minutes,omitempty"`

	Actor string `json:"actor,omitempty"`
}

// UpdateRequest carries partial rule changes.
type UpdateRequest struct {
	Name        string             `json:"name,omitempty"`
	Description *string            `json:"description,omitempty"`
	TriggerType string             `json:"trigger_type,omitempty"`
	Conditions  []models.Condition `json:"conditions,omitempty"`
	Severity    string             `json:"severity,omitempty"`
	Channels    []string           `json:"channels,omitempty"`
	Enabled     *bool              `json:"enabled,omitempty"`

	CooldownMinutes    *int  `json:"cooldown_minutes,omitempty"`
	GroupSimilar       *bool `json:"group_similar,omitempty"`
	GroupWindowMinutes *int  `json:"group_window_minutes,omitempty"`

	Actor string `json:"actor,omitempty"`
}

// Create creates a new rule.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}

	rule := models.NewAlertRule(
		middleware.GetTenantID(ctx),
		strings.TrimSpace(req.Name),
		models.TriggerType(req.TriggerType),
		models.Severity(req.Severity),
	)
	rule.Description = strings.TrimSpace(req.Description)
	rule.Conditions = req.Conditions
	rule.Channels = req.Channels
	rule.CreatedBy = req.Actor
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}
	if req.CooldownMinutes != nil {
		rule.CooldownMinutes = *req.CooldownMinutes
	}
	if req.GroupSimilar != nil {
		rule.GroupSimilar = *req.GroupSimilar
	}
	if req.GroupWindowMinutes != nil {
		rule.GroupWindowMinutes = *req.GroupWindowMinutes
	}

	if err := h.service.CreateRule(ctx, rule, req.Actor); err != nil {
		if validationErr(err) {
			jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
			return
		}
		log.Printf("create rule error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	log.Printf("rule created: %s (%s)", rule.Name, rule.ID)
	jsonStatus(w, http.StatusCreated, rule)
}

// List returns the tenant's rules.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	rules, err := h.service.ListRules(ctx, middleware.GetTenantID(ctx))
	if err != nil {
		log.Printf("list rules error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}
	if rules == nil {
		rules = []*models.AlertRule{}
	}
	jsonStatus(w, http.StatusOK, rules)
}

// GetByID returns a rule by ID.
func (h *Handler) GetByID(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	if id == "" {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "rule id required")
		return
	}

	rule, err := h.service.GetRule(ctx, middleware.GetTenantID(ctx), id)
	if errors.Is(err, engine.ErrNotFound) {
		jsonError(w, http.StatusNotFound, errCodeNotFound, "rule not found")
		return
	}
	if err != nil {
		log.Printf("get rule error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}
	jsonStatus(w, http.StatusOK, rule)
}

// Update updates a rule.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	if id == "" {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "rule id required")
		return
	}

	var req UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}

	rule, err := h.service.GetRule(ctx, middleware.GetTenantID(ctx), id)
	if errors.Is(err, engine.ErrNotFound) {
		jsonError(w, http.StatusNotFound, errCodeNotFound, "rule not found")
		return
	}
	if err != nil {
		log.Printf("update rule error: get: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	if req.Name != "" {
		rule.Name = strings.TrimSpace(req.Name)
	}
	if req.Description != nil {
		rule.Description = strings.TrimSpace(*req.Description)
	}
	if req.TriggerType != "" {
		rule.TriggerType = models.TriggerType(req.TriggerType)
	}
	if req.Conditions != nil {
		rule.Conditions = req.Conditions
	}
	if req.Severity != "" {
		rule.Severity = models.Severity(req.Severity)
	}
	if req.Channels != nil {
		rule.Channels = req.Channels
	}
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}
	if req.CooldownMinutes != nil {
		rule.CooldownMinutes = *req.CooldownMinutes
	}
	if req.GroupSimilar != nil {
		rule.GroupSimilar = *req.GroupSimilar
	}
	if req.GroupWindowMinutes != nil {
		rule.GroupWindowMinutes = *req.GroupWindowMinutes
	}

	if err := h.service.UpdateRule(ctx, rule, req.Actor); err != nil {
		if validationErr(err) {
			jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
			return
		}
		log.Printf("update rule error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	log.Printf("rule updated: %s (%s)", rule.Name, rule.ID)
	jsonStatus(w, http.StatusOK, rule)
}

// Disable turns a rule off. Rules are never hard-deleted, so DELETE maps
// to disable.
func (h *Handler) Disable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	if id == "" {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "rule id required")
		return
	}

	actor := r.URL.Query().Get("actor")

	err := h.service.DisableRule(ctx, middleware.GetTenantID(ctx), id, actor)
	if errors.Is(err, engine.ErrNotFound) {
		jsonError(w, http.StatusNotFound, errCodeNotFound, "rule not found")
		return
	}
	if err != nil {
		log.Printf("disable rule error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	log.Printf("rule disabled: %s", id)
	w.WriteHeader(http.StatusNoContent)
}

func validationErr(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "required") || strings.Contains(msg, "invalid") ||
		strings.Contains(msg, "must")
}
