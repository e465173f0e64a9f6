package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/good-yellow-bee/alertflow/internal/models"
)

type sqliteAlertRepo struct {
	db *sql.DB
}

const alertColumns = `id, rule_id, tenant_id, title, message, severity, category, status, source,
	request_id, user_id, ip_address, user_agent, endpoint,
	ml_risk_score, ml_confidence, ml_threat_type, ml_explanation,
	context_json, evidence_json, triggered_at,
	acknowledged_at, acknowledged_by, resolved_at, resolved_by, resolved_reason,
	dismissed_at, dismissed_by, dismissed_reason, created_at, updated_at`

func (r *sqliteAlertRepo) Create(ctx context.Context, alert *models.Alert) error {
	contextJSON, err := marshalMap(alert.Context)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}
	evidenceJSON, err := marshalMap(alert.Evidence)
	if err != nil {
		return fmt.Errorf("marshal evidence: %w", err)
	}

	var riskScore, confidence sql.NullFloat64
	var threatType, explanation sql.NullString
	if alert.ML != nil {
		riskScore = sql.NullFloat64{Float64: alert.ML.RiskScore, Valid: true}
		confidence = sql.NullFloat64{Float64: alert.ML.Confidence, Valid: true}
		threatType = nullString(alert.ML.ThreatType)
		explanation = nullString(alert.ML.Explanation)
	}

	query := `
		INSERT INTO alerts (id, rule_id, tenant_id, title, message, severity, category, status, source,
			request_id, user_id, ip_address, user_agent, endpoint,
			ml_risk_score, ml_confidence, ml_threat_type, ml_explanation,
			context_json, evidence_json, triggered_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, query,
		alert.ID, nullString(alert.RuleID), alert.TenantID, alert.Title, alert.Message,
		alert.Severity, alert.Category, alert.Status, nullString(alert.Source),
		nullString(alert.RequestID), nullString(alert.UserID), nullString(alert.IPAddress),
		nullString(alert.UserAgent), nullString(alert.Endpoint),
		riskScore, confidence, threatType, explanation,
		contextJSON, evidenceJSON, alert.TriggeredAt, alert.CreatedAt, alert.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func (r *sqliteAlertRepo) GetByID(ctx context.Context, id string) (*models.Alert, error) {
	query := "SELECT " + alertColumns + " FROM alerts WHERE id = ?"
	alert, err := scanAlertFields(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return alert, err
}

// UpdateStatus writes the transition only when the stored status is one of
// expected, and returns the pre-state that matched. The status check in
// the WHERE clause is what makes concurrent transitions safe without a
// read-modify-write lock; one update per candidate status is what lets
// the matched pre-state be reported exactly.
func (r *sqliteAlertRepo) UpdateStatus(ctx context.Context, id string, expected []models.Status, update StatusUpdate) (models.Status, error) {
	set := "status = ?, updated_at = ?"
	setArgs := []any{update.Status, update.At}

	switch update.Status {
	case models.StatusAcknowledged:
		set += ", acknowledged_at = ?, acknowledged_by = ?"
		setArgs = append(setArgs, update.At, update.Actor)
	case models.StatusResolved:
		set += ", resolved_at = ?, resolved_by = ?, resolved_reason = ?"
		setArgs = append(setArgs, update.At, update.Actor, nullString(update.Reason))
	case models.StatusDismissed:
		set += ", dismissed_at = ?, dismissed_by = ?, dismissed_reason = ?"
		setArgs = append(setArgs, update.At, update.Actor, nullString(update.Reason))
	}

	query := fmt.Sprintf("UPDATE alerts SET %s WHERE status = ? AND id = ?", set)
	for _, st := range expected {
		args := append(append([]any{}, setArgs...), st, id)
		result, err := r.db.ExecContext(ctx, query, args...)
		if err != nil {
			return "", fmt.Errorf("update alert status: %w", err)
		}
		if rows, _ := result.RowsAffected(); rows > 0 {
			return st, nil
		}
	}

	// Distinguish "not found" from "status mismatch".
	var exists int
	err := r.db.QueryRowContext(ctx, "SELECT 1 FROM alerts WHERE id = ?", id).Scan(&exists)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("check alert exists: %w", err)
	}
	return "", ErrConflict
}

func (r *sqliteAlertRepo) List(ctx context.Context, tenantID string, filter AlertFilter) ([]*models.Alert, error) {
	where := []string{"tenant_id = ?"}
	args := []any{tenantID}

	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.Severity != "" {
		where = append(where, "severity = ?")
		args = append(args, filter.Severity)
	}
	if filter.Category != "" {
		where = append(where, "category = ?")
		args = append(args, filter.Category)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	query := fmt.Sprintf(
		"SELECT %s FROM alerts WHERE %s ORDER BY triggered_at DESC LIMIT ? OFFSET ?",
		alertColumns, strings.Join(where, " AND "),
	)
	args = append(args, limit, filter.Offset)

	return r.queryAlerts(ctx, query, args...)
}

func (r *sqliteAlertRepo) ListSince(ctx context.Context, tenantID string, cutoff time.Time) ([]*models.Alert, error) {
	query := "SELECT " + alertColumns + " FROM alerts WHERE tenant_id = ? AND triggered_at >= ? ORDER BY triggered_at DESC"
	return r.queryAlerts(ctx, query, tenantID, cutoff)
}

func (r *sqliteAlertRepo) CountRecentByRule(ctx context.Context, tenantID, ruleID string, cutoff time.Time) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM alerts WHERE tenant_id = ? AND rule_id = ? AND triggered_at >= ?",
		tenantID, ruleID, cutoff,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count alerts by rule: %w", err)
	}
	return count, nil
}

func (r *sqliteAlertRepo) CountRecentByKey(ctx context.Context, tenantID string, category models.Category, severity models.Severity, source string, cutoff time.Time) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM alerts
		 WHERE tenant_id = ? AND category = ? AND severity = ?
		   AND COALESCE(source, '') = ? AND triggered_at >= ?`,
		tenantID, category, severity, source, cutoff,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count alerts by key: %w", err)
	}
	return count, nil
}

func (r *sqliteAlertRepo) queryAlerts(ctx context.Context, query string, args ...any) ([]*models.Alert, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*models.Alert
	for rows.Next() {
		alert, err := scanAlertFields(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}

func scanAlertFields(row scanner) (*models.Alert, error) {
	alert := &models.Alert{}
	var ruleID, source, requestID, userID, ipAddress, userAgent, endpoint sql.NullString
	var riskScore, confidence sql.NullFloat64
	var threatType, explanation sql.NullString
	var contextJSON, evidenceJSON sql.NullString
	var ackAt, resolvedAt, dismissedAt sql.NullTime
	var ackBy, resolvedBy, resolvedReason, dismissedBy, dismissedReason sql.NullString

	err := row.Scan(
		&alert.ID, &ruleID, &alert.TenantID, &alert.Title, &alert.Message,
		&alert.Severity, &alert.Category, &alert.Status, &source,
		&requestID, &userID, &ipAddress, &userAgent, &endpoint,
		&riskScore, &confidence, &threatType, &explanation,
		&contextJSON, &evidenceJSON, &alert.TriggeredAt,
		&ackAt, &ackBy, &resolvedAt, &resolvedBy, &resolvedReason,
		&dismissedAt, &dismissedBy, &dismissedReason,
		&alert.CreatedAt, &alert.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan alert: %w", err)
	}

	alert.RuleID = ruleID.String
	alert.Source = source.String
	alert.RequestID = requestID.String
	alert.UserID = userID.String
	alert.IPAddress = ipAddress.String
	alert.UserAgent = userAgent.String
	alert.Endpoint = endpoint.String

	if riskScore.Valid {
		alert.ML = &models.MLAnalysis{
			RiskScore:   riskScore.Float64,
			Confidence:  confidence.Float64,
			ThreatType:  threatType.String,
			Explanation: explanation.String,
		}
	}

	if err := unmarshalMap(contextJSON, &alert.Context); err != nil {
		return nil, fmt.Errorf("unmarshal context: %w", err)
	}
	if err := unmarshalMap(evidenceJSON, &alert.Evidence); err != nil {
		return nil, fmt.Errorf("unmarshal evidence: %w", err)
	}

	if ackAt.Valid {
		alert.AcknowledgedAt = &ackAt.Time
	}
	alert.AcknowledgedBy = ackBy.String
	if resolvedAt.Valid {
		alert.ResolvedAt = &resolvedAt.Time
	}
	alert.ResolvedBy = resolvedBy.String
	alert.ResolvedReason = resolvedReason.String
	if dismissedAt.Valid {
		alert.DismissedAt = &dismissedAt.Time
	}
	alert.DismissedBy = dismissedBy.String
	alert.DismissedReason = dismissedReason.String

	return alert, nil
}

func marshalMap(m map[string]any) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalMap(s sql.NullString, dst *map[string]any) error {
	if !s.Valid || s.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(s.String), dst)
}
