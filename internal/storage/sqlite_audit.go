package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/good-yellow-bee/alertflow/internal/models"
)

type sqliteAuditRepo struct {
	db *sql.DB
}

const auditColumns = `id, alert_id, tenant_id, action, actor, actor_type,
	changes_json, reason, ip_address, user_agent, timestamp`

func (r *sqliteAuditRepo) Append(ctx context.Context, entry *models.AuditEntry) error {
	changesJSON, err := marshalMap(entry.Changes)
	if err != nil {
		return fmt.Errorf("marshal changes: %w", err)
	}

	query := `
		INSERT INTO alert_audit_log (id, alert_id, tenant_id, action, actor, actor_type,
			changes_json, reason, ip_address, user_agent, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, query,
		entry.ID, entry.AlertID, entry.TenantID, entry.Action, entry.Actor, entry.ActorType,
		changesJSON, nullString(entry.Reason),
		nullString(entry.IPAddress), nullString(entry.UserAgent), entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (r *sqliteAuditRepo) ListByAlert(ctx context.Context, alertID string) ([]*models.AuditEntry, error) {
	query := "SELECT " + auditColumns + " FROM alert_audit_log WHERE alert_id = ? ORDER BY timestamp"
	rows, err := r.db.QueryContext(ctx, query, alertID)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()
	return scanAuditRows(rows)
}

func (r *sqliteAuditRepo) ListByTenant(ctx context.Context, tenantID string, limit, offset int) ([]*models.AuditEntry, int64, error) {
	var total int64
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM alert_audit_log WHERE tenant_id = ?", tenantID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count audit log: %w", err)
	}

	if limit <= 0 {
		limit = 100
	}
	query := "SELECT " + auditColumns + " FROM alert_audit_log WHERE tenant_id = ? ORDER BY timestamp DESC LIMIT ? OFFSET ?"
	rows, err := r.db.QueryContext(ctx, query, tenantID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	entries, err := scanAuditRows(rows)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

func scanAuditRows(rows *sql.Rows) ([]*models.AuditEntry, error) {
	var entries []*models.AuditEntry
	for rows.Next() {
		entry := &models.AuditEntry{}
		var changesJSON, reason, ipAddress, userAgent sql.NullString

		err := rows.Scan(
			&entry.ID, &entry.AlertID, &entry.TenantID, &entry.Action, &entry.Actor, &entry.ActorType,
			&changesJSON, &reason, &ipAddress, &userAgent, &entry.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}

		entry.Reason = reason.String
		entry.IPAddress = ipAddress.String
		entry.UserAgent = userAgent.String
		if changesJSON.Valid && changesJSON.String != "" {
			if err := json.Unmarshal([]byte(changesJSON.String), &entry.Changes); err != nil {
				return nil, fmt.Errorf("unmarshal changes: %w", err)
			}
		}

		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
