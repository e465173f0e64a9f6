package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/good-yellow-bee/alertflow/internal/models"
	"github.com/good-yellow-bee/alertflow/internal/storage"
)

// RulesFile is the YAML layout of the rule bootstrap file.
type RulesFile struct {
	Rules []RuleSpec `yaml:"rules"`
}

// RuleSpec is one rule definition in the bootstrap file.
type RuleSpec struct {
	TenantID           string             `yaml:"tenant_id"`
	Name               string             `yaml:"name"`
	Description        string             `yaml:"description"`
	Enabled            *bool              `yaml:"enabled"`
	TriggerType        string             `yaml:"trigger_type"`
	Conditions         []models.Condition `yaml:"conditions"`
	Severity           string             `yaml:"severity"`
	Channels           []string           `yaml:"channels"`
	CooldownMinutes    *int               `yaml:"cooldown_minutes"`
	GroupSimilar       *bool              `yaml:"group_similar"`
	GroupWindowMinutes *int               `yaml:"group_window_minutes"`
}

// toRule converts a spec into a rule with store defaults applied.
func (s *RuleSpec) toRule() *models.AlertRule {
	rule := models.NewAlertRule(s.TenantID, s.Name, models.TriggerType(s.TriggerType), models.Severity(s.Severity))
	rule.Description = s.Description
	rule.Conditions = s.Conditions
	rule.Channels = s.Channels
	rule.CreatedBy = "bootstrap"
	if s.Enabled != nil {
		rule.Enabled = *s.Enabled
	}
	if s.CooldownMinutes != nil {
		rule.CooldownMinutes = *s.CooldownMinutes
	}
	if s.GroupSimilar != nil {
		rule.GroupSimilar = *s.GroupSimilar
	}
	if s.GroupWindowMinutes != nil {
		rule.GroupWindowMinutes = *s.GroupWindowMinutes
	}
	return rule
}

// Loader bootstraps rules from a YAML file into the store and reloads
// the file when it changes on disk.
type Loader struct {
	rules storage.RuleRepository
	path  string
}

// NewLoader creates a loader for the given rules file.
func NewLoader(rules storage.RuleRepository, path string) *Loader {
	return &Loader{rules: rules, path: path}
}

// ParseRules parses and validates YAML rule definitions.
func ParseRules(data []byte) ([]*models.AlertRule, error) {
	var file RulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse rules yaml: %w", err)
	}

	rules := make([]*models.AlertRule, 0, len(file.Rules))
	for i := range file.Rules {
		rule := file.Rules[i].toRule()
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("rule at index %d: %w", i, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// Load reads the rules file and upserts each rule, matching existing
// rows by (tenant, name). A broken file leaves the store untouched.
func (l *Loader) Load(ctx context.Context) error {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return fmt.Errorf("read rules file: %w", err)
	}

	rules, err := ParseRules(data)
	if err != nil {
		return err
	}

	for _, rule := range rules {
		existing, err := l.findByName(ctx, rule.TenantID, rule.Name)
		if err != nil {
			return err
		}
		if existing != nil {
			rule.ID = existing.ID
			rule.CreatedAt = existing.CreatedAt
			rule.UpdatedAt = time.Now()
			if err := l.rules.Update(ctx, rule); err != nil {
				return fmt.Errorf("update rule %q: %w", rule.Name, err)
			}
			continue
		}
		if err := l.rules.Create(ctx, rule); err != nil {
			return fmt.Errorf("create rule %q: %w", rule.Name, err)
		}
	}

	log.Printf("loaded %d rules from %s", len(rules), l.path)
	return nil
}

func (l *Loader) findByName(ctx context.Context, tenantID, name string) (*models.AlertRule, error) {
	rules, err := l.rules.List(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	for _, r := range rules {
		if r.Name == name {
			return r, nil
		}
	}
	return nil, nil
}

// Watch reloads the rules file whenever it changes, until the context is
// cancelled. Editors replace files on save, so rename and create events
// count as changes too.
func (l *Loader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(l.path); err != nil {
		return fmt.Errorf("watch %s: %w", l.path, err)
	}

	// Debounce bursts of write events from a single save.
	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				pending = time.After(250 * time.Millisecond)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("rules watcher: %v", err)
		case <-pending:
			pending = nil
			if err := l.Load(ctx); err != nil {
				log.Printf("reload rules: %v", err)
			}
			// Re-add in case the file was replaced by rename.
			watcher.Add(l.path)
		}
	}
}
