package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/good-yellow-bee/alertflow/internal/models"
)

type sqliteEscalationRepo struct {
	db *sql.DB
}

const escalationColumns = `id, alert_id, tenant_id, step, channels_json, due_at, status,
	fired_at, cancelled_at, created_at`

func (r *sqliteEscalationRepo) Create(ctx context.Context, esc *models.Escalation) error {
	channelsJSON, err := json.Marshal(esc.Channels)
	if err != nil {
		return fmt.Errorf("marshal channels: %w", err)
	}

	query := `
		INSERT INTO alert_escalations (id, alert_id, tenant_id, step, channels_json, due_at, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, query,
		esc.ID, esc.AlertID, esc.TenantID, esc.Step, string(channelsJSON),
		esc.DueAt, esc.Status, esc.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert escalation: %w", err)
	}
	return nil
}

func (r *sqliteEscalationRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.Escalation, error) {
	if limit <= 0 {
		limit = 100
	}
	query := "SELECT " + escalationColumns + ` FROM alert_escalations
		WHERE status = 'pending' AND due_at <= ?
		ORDER BY due_at LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("query escalations: %w", err)
	}
	defer rows.Close()

	var escalations []*models.Escalation
	for rows.Next() {
		esc := &models.Escalation{}
		var channelsJSON string
		var firedAt, cancelledAt sql.NullTime

		err := rows.Scan(
			&esc.ID, &esc.AlertID, &esc.TenantID, &esc.Step, &channelsJSON,
			&esc.DueAt, &esc.Status, &firedAt, &cancelledAt, &esc.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan escalation: %w", err)
		}

		if err := json.Unmarshal([]byte(channelsJSON), &esc.Channels); err != nil {
			return nil, fmt.Errorf("unmarshal channels: %w", err)
		}
		if firedAt.Valid {
			esc.FiredAt = &firedAt.Time
		}
		if cancelledAt.Valid {
			esc.CancelledAt = &cancelledAt.Time
		}

		escalations = append(escalations, esc)
	}
	return escalations, rows.Err()
}

func (r *sqliteEscalationRepo) MarkFired(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE alert_escalations SET status = 'fired', fired_at = ? WHERE id = ? AND status = 'pending'",
		at, id,
	)
	if err != nil {
		return fmt.Errorf("mark escalation fired: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("escalation not pending: %s", id)
	}
	return nil
}

func (r *sqliteEscalationRepo) CancelPendingByAlert(ctx context.Context, alertID string, at time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		"UPDATE alert_escalations SET status = 'cancelled', cancelled_at = ? WHERE alert_id = ? AND status = 'pending'",
		at, alertID,
	)
	if err != nil {
		return 0, fmt.Errorf("cancel escalations: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows, nil
}
