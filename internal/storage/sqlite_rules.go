package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/good-yellow-bee/alertflow/internal/models"
)

type sqliteRuleRepo struct {
	db *sql.DB
}

const ruleColumns = `id, tenant_id, name, description, enabled, trigger_type,
	conditions_json, severity, channels_json, cooldown_minutes,
	group_similar, group_window_minutes, created_by, created_at, updated_at`

func (r *sqliteRuleRepo) Create(ctx context.Context, rule *models.AlertRule) error {
	conditionsJSON, err := json.Marshal(rule.Conditions)
	if err != nil {
		return fmt.Errorf("marshal conditions: %w", err)
	}
	channelsJSON, err := json.Marshal(rule.Channels)
	if err != nil {
		return fmt.Errorf("marshal channels: %w", err)
	}

	query := `
		INSERT INTO alert_rules (id, tenant_id, name, description, enabled, trigger_type,
			conditions_json, severity, channels_json, cooldown_minutes,
			group_similar, group_window_minutes, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, query,
		rule.ID, rule.TenantID, rule.Name, nullString(rule.Description),
		boolToInt(rule.Enabled), rule.TriggerType,
		string(conditionsJSON), rule.Severity, string(channelsJSON),
		rule.CooldownMinutes, boolToInt(rule.GroupSimilar), rule.GroupWindowMinutes,
		nullString(rule.CreatedBy), rule.CreatedAt, rule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert rule: %w", err)
	}
	return nil
}

func (r *sqliteRuleRepo) GetByID(ctx context.Context, id string) (*models.AlertRule, error) {
	query := "SELECT " + ruleColumns + " FROM alert_rules WHERE id = ?"
	return r.scanRule(r.db.QueryRowContext(ctx, query, id))
}

func (r *sqliteRuleRepo) Update(ctx context.Context, rule *models.AlertRule) error {
	conditionsJSON, err := json.Marshal(rule.Conditions)
	if err != nil {
		return fmt.Errorf("marshal conditions: %w", err)
	}
	channelsJSON, err := json.Marshal(rule.Channels)
	if err != nil {
		return fmt.Errorf("marshal channels: %w", err)
	}

	query := `
		UPDATE alert_rules SET name = ?, description = ?, enabled = ?, trigger_type = ?,
			conditions_json = ?, severity = ?, channels_json = ?, cooldown_minutes = ?,
			group_similar = ?, group_window_minutes = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		rule.Name, nullString(rule.Description), boolToInt(rule.Enabled), rule.TriggerType,
		string(conditionsJSON), rule.Severity, string(channelsJSON), rule.CooldownMinutes,
		boolToInt(rule.GroupSimilar), rule.GroupWindowMinutes, rule.UpdatedAt,
		rule.ID,
	)
	if err != nil {
		return fmt.Errorf("update rule: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("rule not found: %s", rule.ID)
	}
	return nil
}

func (r *sqliteRuleRepo) SetEnabled(ctx context.Context, id string, enabled bool) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE alert_rules SET enabled = ?, updated_at = ? WHERE id = ?",
		boolToInt(enabled), time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("set rule enabled: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("rule not found: %s", id)
	}
	return nil
}

func (r *sqliteRuleRepo) List(ctx context.Context, tenantID string) ([]*models.AlertRule, error) {
	query := "SELECT " + ruleColumns + " FROM alert_rules WHERE tenant_id = ? ORDER BY name"
	return r.queryRules(ctx, query, tenantID)
}

func (r *sqliteRuleRepo) ListEnabled(ctx context.Context, tenantID string) ([]*models.AlertRule, error) {
	query := "SELECT " + ruleColumns + " FROM alert_rules WHERE tenant_id = ? AND enabled = 1 ORDER BY name"
	return r.queryRules(ctx, query, tenantID)
}

func (r *sqliteRuleRepo) queryRules(ctx context.Context, query string, args ...any) ([]*models.AlertRule, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	var rules []*models.AlertRule
	for rows.Next() {
		rule, err := scanRuleFields(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func (r *sqliteRuleRepo) scanRule(row *sql.Row) (*models.AlertRule, error) {
	rule, err := scanRuleFields(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rule, err
}

func scanRuleFields(row scanner) (*models.AlertRule, error) {
	rule := &models.AlertRule{}
	var description, createdBy sql.NullString
	var conditionsJSON, channelsJSON string
	var enabled, groupSimilar int

	err := row.Scan(
		&rule.ID, &rule.TenantID, &rule.Name, &description, &enabled, &rule.TriggerType,
		&conditionsJSON, &rule.Severity, &channelsJSON, &rule.CooldownMinutes,
		&groupSimilar, &rule.GroupWindowMinutes, &createdBy,
		&rule.CreatedAt, &rule.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan rule: %w", err)
	}

	rule.Description = description.String
	rule.CreatedBy = createdBy.String
	rule.Enabled = enabled != 0
	rule.GroupSimilar = groupSimilar != 0

	if err := json.Unmarshal([]byte(conditionsJSON), &rule.Conditions); err != nil {
		return nil, fmt.Errorf("unmarshal conditions: %w", err)
	}
	if err := json.Unmarshal([]byte(channelsJSON), &rule.Channels); err != nil {
		return nil, fmt.Errorf("unmarshal channels: %w", err)
	}

	return rule, nil
}

type scanner interface {
	Scan(dest ...any) error
}
