package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// Migration represents a database migration.
type Migration struct {
	Version int
	Name    string
	Up      string
}

// migrations holds all database migrations in order.
var migrations = []Migration{
	{
		Version: 1,
		Name:    "initial_schema",
		Up: `
			-- Alert rules table
			CREATE TABLE IF NOT EXISTS alert_rules (
				id TEXT PRIMARY KEY,
				tenant_id TEXT NOT NULL,
				name TEXT NOT NULL,
				description TEXT,
				enabled INTEGER NOT NULL DEFAULT 1,
				trigger_type TEXT NOT NULL,
				conditions_json TEXT NOT NULL,
				severity TEXT NOT NULL,
				channels_json TEXT NOT NULL,
				cooldown_minutes INTEGER NOT NULL DEFAULT 5,
				group_similar INTEGER NOT NULL DEFAULT 1,
				group_window_minutes INTEGER NOT NULL DEFAULT 15,
				created_by TEXT,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			);

			-- Alerts table
			CREATE TABLE IF NOT EXISTS alerts (
				id TEXT PRIMARY KEY,
				rule_id TEXT,
				tenant_id TEXT NOT NULL,
				title TEXT NOT NULL,
				message TEXT NOT NULL,
				severity TEXT NOT NULL,
				category TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'new',
				source TEXT,
				request_id TEXT,
				user_id TEXT,
				ip_address TEXT,
				user_agent TEXT,
				endpoint TEXT,
				ml_risk_score REAL,
				ml_confidence REAL,
				ml_threat_type TEXT,
				ml_explanation TEXT,
				context_json TEXT,
				evidence_json TEXT,
				triggered_at DATETIME NOT NULL,
				acknowledged_at DATETIME,
				acknowledged_by TEXT,
				resolved_at DATETIME,
				resolved_by TEXT,
				resolved_reason TEXT,
				dismissed_at DATETIME,
				dismissed_by TEXT,
				dismissed_reason TEXT,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL,
				FOREIGN KEY (rule_id) REFERENCES alert_rules(id) ON DELETE SET NULL
			);

			-- Notification delivery records
			CREATE TABLE IF NOT EXISTS alert_notifications (
				id TEXT PRIMARY KEY,
				alert_id TEXT NOT NULL,
				channel TEXT NOT NULL,
				recipient TEXT NOT NULL,
				body TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'pending',
				retry_count INTEGER NOT NULL DEFAULT 0,
				max_retries INTEGER NOT NULL DEFAULT 3,
				next_retry_at DATETIME,
				sent_at DATETIME,
				failed_at DATETIME,
				error_message TEXT,
				created_at DATETIME NOT NULL,
				FOREIGN KEY (alert_id) REFERENCES alerts(id) ON DELETE CASCADE
			);

			-- Append-only audit log
			CREATE TABLE IF NOT EXISTS alert_audit_log (
				id TEXT PRIMARY KEY,
				alert_id TEXT NOT NULL,
				tenant_id TEXT NOT NULL,
				action TEXT NOT NULL,
				actor TEXT NOT NULL,
				actor_type TEXT NOT NULL,
				changes_json TEXT,
				reason TEXT,
				ip_address TEXT,
				user_agent TEXT,
				timestamp DATETIME NOT NULL
			);

			-- Scheduled escalation steps
			CREATE TABLE IF NOT EXISTS alert_escalations (
				id TEXT PRIMARY KEY,
				alert_id TEXT NOT NULL,
				tenant_id TEXT NOT NULL,
				step INTEGER NOT NULL DEFAULT 0,
				channels_json TEXT NOT NULL,
				due_at DATETIME NOT NULL,
				status TEXT NOT NULL DEFAULT 'pending',
				fired_at DATETIME,
				cancelled_at DATETIME,
				created_at DATETIME NOT NULL,
				FOREIGN KEY (alert_id) REFERENCES alerts(id) ON DELETE CASCADE
			);

			-- Indexes
			CREATE INDEX IF NOT EXISTS idx_alert_rules_tenant ON alert_rules(tenant_id);
			CREATE INDEX IF NOT EXISTS idx_alert_rules_enabled ON alert_rules(enabled);
			CREATE INDEX IF NOT EXISTS idx_alerts_tenant ON alerts(tenant_id);
			CREATE INDEX IF NOT EXISTS idx_alerts_rule ON alerts(rule_id);
			CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status);
			CREATE INDEX IF NOT EXISTS idx_alerts_triggered_at ON alerts(triggered_at);
			CREATE INDEX IF NOT EXISTS idx_notifications_alert ON alert_notifications(alert_id);
			CREATE INDEX IF NOT EXISTS idx_notifications_status ON alert_notifications(status);
			CREATE INDEX IF NOT EXISTS idx_notifications_next_retry ON alert_notifications(next_retry_at);
			CREATE INDEX IF NOT EXISTS idx_audit_alert ON alert_audit_log(alert_id);
			CREATE INDEX IF NOT EXISTS idx_audit_tenant ON alert_audit_log(tenant_id);
			CREATE INDEX IF NOT EXISTS idx_escalations_due ON alert_escalations(due_at);
			CREATE INDEX IF NOT EXISTS idx_escalations_alert ON alert_escalations(alert_id);
		`,
	},
}

// runMigrations applies all pending migrations.
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	var currentVersion int
	err = db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction for migration %d: %w", m.Version, err)
		}

		_, err = tx.Exec(m.Up)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d (%s): %w", m.Version, m.Name, err)
		}

		_, err = tx.Exec(
			"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Name, time.Now(),
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}
