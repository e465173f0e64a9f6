package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/good-yellow-bee/alertflow/internal/models"
)

type sqliteNotificationRepo struct {
	db *sql.DB
}

const notificationColumns = `id, alert_id, channel, recipient, body, status,
	retry_count, max_retries, next_retry_at, sent_at, failed_at, error_message, created_at`

func (r *sqliteNotificationRepo) CreateBatch(ctx context.Context, notifications []*models.AlertNotification) error {
	if len(notifications) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO alert_notifications (id, alert_id, channel, recipient, body, status,
			retry_count, max_retries, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	for _, n := range notifications {
		_, err := tx.ExecContext(ctx, query,
			n.ID, n.AlertID, n.Channel, n.Recipient, n.Body, n.Status,
			n.RetryCount, n.MaxRetries, n.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert notification: %w", err)
		}
	}

	return tx.Commit()
}

func (r *sqliteNotificationRepo) GetByID(ctx context.Context, id string) (*models.AlertNotification, error) {
	query := "SELECT " + notificationColumns + " FROM alert_notifications WHERE id = ?"
	n, err := scanNotificationFields(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return n, err
}

func (r *sqliteNotificationRepo) ListByAlert(ctx context.Context, alertID string) ([]*models.AlertNotification, error) {
	query := "SELECT " + notificationColumns + " FROM alert_notifications WHERE alert_id = ? ORDER BY created_at"
	return r.queryNotifications(ctx, query, alertID)
}

func (r *sqliteNotificationRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.AlertNotification, error) {
	if limit <= 0 {
		limit = 100
	}
	query := "SELECT " + notificationColumns + ` FROM alert_notifications
		WHERE status = 'pending' AND (next_retry_at IS NULL OR next_retry_at <= ?)
		ORDER BY created_at LIMIT ?`
	return r.queryNotifications(ctx, query, now, limit)
}

func (r *sqliteNotificationRepo) MarkSent(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE alert_notifications SET status = 'sent', sent_at = ?, error_message = NULL WHERE id = ?",
		at, id,
	)
	if err != nil {
		return fmt.Errorf("mark notification sent: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("notification not found: %s", id)
	}
	return nil
}

func (r *sqliteNotificationRepo) ScheduleRetry(ctx context.Context, id string, retryCount int, nextRetryAt time.Time, errMsg string) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE alert_notifications SET retry_count = ?, next_retry_at = ?, error_message = ? WHERE id = ?",
		retryCount, nextRetryAt, errMsg, id,
	)
	if err != nil {
		return fmt.Errorf("schedule notification retry: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("notification not found: %s", id)
	}
	return nil
}

func (r *sqliteNotificationRepo) MarkFailed(ctx context.Context, id string, at time.Time, errMsg string) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE alert_notifications SET status = 'failed', failed_at = ?, error_message = ? WHERE id = ?",
		at, errMsg, id,
	)
	if err != nil {
		return fmt.Errorf("mark notification failed: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("notification not found: %s", id)
	}
	return nil
}

func (r *sqliteNotificationRepo) queryNotifications(ctx context.Context, query string, args ...any) ([]*models.AlertNotification, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*models.AlertNotification
	for rows.Next() {
		n, err := scanNotificationFields(rows)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

func scanNotificationFields(row scanner) (*models.AlertNotification, error) {
	n := &models.AlertNotification{}
	var nextRetryAt, sentAt, failedAt sql.NullTime
	var errMsg sql.NullString

	err := row.Scan(
		&n.ID, &n.AlertID, &n.Channel, &n.Recipient, &n.Body, &n.Status,
		&n.RetryCount, &n.MaxRetries, &nextRetryAt, &sentAt, &failedAt, &errMsg, &n.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan notification: %w", err)
	}

	if nextRetryAt.Valid {
		n.NextRetryAt = &nextRetryAt.Time
	}
	if sentAt.Valid {
		n.SentAt = &sentAt.Time
	}
	if failedAt.Valid {
		n.FailedAt = &failedAt.Time
	}
	n.ErrorMessage = errMsg.String

	return n, nil
}
