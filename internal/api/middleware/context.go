// Package middleware provides HTTP middleware for the API.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

type contextKey string

// tenantIDKey stores the request's tenant ID in context.
const tenantIDKey contextKey = "tenant_id"

// TenantHeader carries the caller's tenant on every API request.
const TenantHeader = "X-Tenant-ID"

// GetTenantID returns the tenant ID from context, or "" when absent.
func GetTenantID(ctx context.Context) string {
	if v := ctx.Value(tenantIDKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// WithTenantID returns a context carrying the tenant ID, for tests.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantIDKey, tenantID)
}

// RequireTenant extracts the tenant ID header and rejects requests
// without one. Every alert and rule operation is tenant-scoped.
func RequireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := strings.TrimSpace(r.Header.Get(TenantHeader))
		if tenantID == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]string{
					"code":    "BAD_REQUEST",
					"message": TenantHeader + " header is required",
				},
			})
			return
		}
		next.ServeHTTP(w, r.WithContext(WithTenantID(r.Context(), tenantID)))
	})
}
