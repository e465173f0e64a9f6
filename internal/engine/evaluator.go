// Package engine implements rule evaluation, deduplication, lifecycle
// transitions and escalation for alerts.
package engine

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/good-yellow-bee/alertflow/internal/models"
)

// Evaluator matches signals against rule conditions.
type Evaluator struct{}

// NewEvaluator creates a new Evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Matches reports whether the signal satisfies every condition of the rule.
// A rule with no conditions never matches; an empty condition list is a
// misconfiguration, not a wildcard.
func (e *Evaluator) Matches(rule *models.AlertRule, sig *models.Signal) bool {
	if !rule.Enabled || len(rule.Conditions) == 0 {
		return false
	}
	for i := range rule.Conditions {
		if !e.evaluateCondition(&rule.Conditions[i], sig) {
			return false
		}
	}
	return true
}

func (e *Evaluator) evaluateCondition(cond *models.Condition, sig *models.Signal) bool {
	value, ok := e.fieldValue(cond.Field, sig)
	if !ok {
		// Absent fields fail every operator. Values that happen to be
		// zero, false or empty are present and compare normally.
		return false
	}

	switch cond.Operator {
	case models.OpGT:
		a, aok := toFloat64(value)
		b, bok := toFloat64(cond.Value)
		return aok && bok && a > b
	case models.OpLT:
		a, aok := toFloat64(value)
		b, bok := toFloat64(cond.Value)
		return aok && bok && a < b
	case models.OpEQ:
		return looseEqual(value, cond.Value)
	case models.OpNE:
		return !looseEqual(value, cond.Value)
	case models.OpContains:
		return strings.Contains(stringify(value), stringify(cond.Value))
	case models.OpRegex:
		re, err := regexp.Compile(stringify(cond.Value))
		if err != nil {
			// Malformed pattern is a non-match, never an error.
			return false
		}
		return re.MatchString(stringify(value))
	default:
		return false
	}
}

// fieldValue resolves a condition field against the signal. "data.<key>"
// and "metadata.<key>" address the context and evidence maps; bare names
// check the well-known attributes first, then context, then evidence.
func (e *Evaluator) fieldValue(field string, sig *models.Signal) (any, bool) {
	switch field {
	case "severity":
		return string(sig.Severity), true
	case "category", "type":
		return string(sig.Category), true
	case "source":
		return sig.Source, true
	case "user_id", "userId":
		return sig.UserID, true
	case "title":
		return sig.Title, true
	case "message":
		return sig.Message, true
	}

	if root, key, found := strings.Cut(field, "."); found {
		switch root {
		case "data":
			v, ok := sig.Context[key]
			return v, ok
		case "metadata":
			v, ok := sig.Evidence[key]
			return v, ok
		}
	}

	if v, ok := sig.Context[field]; ok {
		return v, true
	}
	if v, ok := sig.Evidence[field]; ok {
		return v, true
	}
	return nil, false
}

// looseEqual compares numerically when both sides convert to numbers,
// otherwise by string form.
func looseEqual(a, b any) bool {
	an, aok := toFloat64(a)
	bn, bok := toFloat64(b)
	if aok && bok {
		return an == bn
	}
	return stringify(a) == stringify(b)
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// toFloat64 converts an interface to float64 if possible.
func toFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case int32:
		return float64(val), true
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case string:
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f, true
		}
		return 0, false
	default:
		return 0, false
	}
}
