package section

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Rule kinds.
const (
	RuleRequired   = "required"
	RuleMinLength  = "min_length"
	RuleMaxLength  = "max_length"
	RulePattern    = "pattern"
	RuleMin        = "min"
	RuleMax        = "max"
	RuleMinItems   = "min_items"
	RuleMaxItems   = "max_items"
	RuleURL        = "url"
	RuleExpression = "expression"
	RuleUnique     = "unique"
)

// Rule is one declarative check on a section's values.
//
// LiveOnly rules, and rules whose When expression evaluates to false, report
// valid. Expression rules are violated when their expression is true.
type Rule struct {
	Field      string `yaml:"field" json:"field,omitempty"`
	Kind       string `yaml:"kind" json:"kind"`
	Value      any    `yaml:"value" json:"value,omitempty"`
	Expression string `yaml:"expression" json:"expression,omitempty"`
	When       string `yaml:"when" json:"when,omitempty"`
	LiveOnly   bool   `yaml:"live_only" json:"live_only,omitempty"`
	Message    string `yaml:"message" json:"message,omitempty"`

	when    *vm.Program
	program *vm.Program
	pattern *regexp.Regexp
}

// Compile prepares expressions and patterns. It must be called before the
// rule is evaluated, and before the rule is shared between goroutines.
func (r *Rule) Compile() error {
	switch r.Kind {
	case RuleRequired, RuleMinLength, RuleMaxLength, RuleMin, RuleMax,
		RuleMinItems, RuleMaxItems, RuleURL, RuleUnique:
		if r.Field == "" {
			return fmt.Errorf("rule %s: field is required", r.Kind)
		}
	case RulePattern:
		s, ok := r.Value.(string)
		if !ok {
			return fmt.Errorf("rule pattern on %s: value must be a string", r.Field)
		}
		re, err := regexp.Compile(s)
		if err != nil {
			return fmt.Errorf("rule pattern on %s: %w", r.Field, err)
		}
		r.pattern = re
	case RuleExpression:
		prog, err := expr.Compile(r.Expression, expr.AsBool())
		if err != nil {
			return fmt.Errorf("compile expression: %w", err)
		}
		r.program = prog
	default:
		return fmt.Errorf("unknown rule kind %q", r.Kind)
	}

	if r.When != "" {
		prog, err := expr.Compile(r.When, expr.AsBool())
		if err != nil {
			return fmt.Errorf("compile when: %w", err)
		}
		r.when = prog
	}
	return nil
}

// Rules is an ordered rule list.
type Rules []*Rule

func (rs Rules) Compile() error {
	for _, r := range rs {
		if err := r.Compile(); err != nil {
			return err
		}
	}
	return nil
}

// Evaluate checks values against every applicable rule. prefix is prepended
// to reported field names, so collection items can report "faqs.2.question".
func (rs Rules) Evaluate(ctx context.Context, env Env, sectionKey, prefix string, values map[string]any) []ValidationError {
	if len(rs) == 0 {
		return nil
	}
	exprEnv := map[string]any{
		"record": values,
		"status": string(env.Status),
		"kind":   env.Kind,
		"is_new": env.RecordID == "",
	}

	var errs []ValidationError
	for _, r := range rs {
		if !r.applies(env, exprEnv) {
			continue
		}
		if msg, failed := r.check(ctx, env, values, exprEnv); failed {
			errs = append(errs, ValidationError{
				Section: sectionKey,
				Field:   prefix + r.Field,
				Message: msg,
			})
		}
	}
	return errs
}

func (r *Rule) applies(env Env, exprEnv map[string]any) bool {
	if r.LiveOnly && env.Status != StatusLive {
		return false
	}
	if r.when == nil {
		return true
	}
	out, err := expr.Run(r.when, exprEnv)
	if err != nil {
		return false
	}
	ok, _ := out.(bool)
	return ok
}

func (r *Rule) check(ctx context.Context, env Env, values map[string]any, exprEnv map[string]any) (string, bool) {
	val := values[r.Field]

	switch r.Kind {
	case RuleRequired:
		if IsEmpty(val) {
			return r.message(fmt.Sprintf("%s is required", r.Field)), true
		}

	case RuleMinLength, RuleMaxLength:
		s, ok := val.(string)
		if !ok || s == "" {
			return "", false
		}
		limit, ok := ToFloat64(r.Value)
		if !ok {
			return "", false
		}
		n := utf8.RuneCountInString(s)
		if r.Kind == RuleMinLength && n < int(limit) {
			return r.message(fmt.Sprintf("%s must be at least %d characters", r.Field, int(limit))), true
		}
		if r.Kind == RuleMaxLength && n > int(limit) {
			return r.message(fmt.Sprintf("%s must be at most %d characters", r.Field, int(limit))), true
		}

	case RulePattern:
		s, ok := val.(string)
		if !ok || s == "" {
			return "", false
		}
		if !r.pattern.MatchString(s) {
			return r.message(fmt.Sprintf("%s has an invalid format", r.Field)), true
		}

	case RuleMin, RuleMax:
		num, ok := ToFloat64(val)
		if !ok {
			return "", false
		}
		limit, ok := ToFloat64(r.Value)
		if !ok {
			return "", false
		}
		if r.Kind == RuleMin && num < limit {
			return r.message(fmt.Sprintf("%s must be at least %v", r.Field, limit)), true
		}
		if r.Kind == RuleMax && num > limit {
			return r.message(fmt.Sprintf("%s must be at most %v", r.Field, limit)), true
		}

	case RuleMinItems, RuleMaxItems:
		n := lengthOf(val)
		limit, ok := ToFloat64(r.Value)
		if !ok {
			return "", false
		}
		if r.Kind == RuleMinItems && n < int(limit) {
			return r.message(fmt.Sprintf("%s needs at least %d items", r.Field, int(limit))), true
		}
		if r.Kind == RuleMaxItems && n > int(limit) {
			return r.message(fmt.Sprintf("%s allows at most %d items", r.Field, int(limit))), true
		}

	case RuleURL:
		s, ok := val.(string)
		if !ok || s == "" {
			return "", false
		}
		if !isURL(s) {
			return r.message(fmt.Sprintf("%s must be a valid URL", r.Field)), true
		}

	case RuleExpression:
		out, err := expr.Run(r.program, exprEnv)
		if err != nil {
			return fmt.Sprintf("rule evaluation error: %v", err), true
		}
		if violated, _ := out.(bool); violated {
			return r.message("Expression rule violated"), true
		}

	case RuleUnique:
		s, ok := val.(string)
		if !ok || strings.TrimSpace(s) == "" || env.Lookup == nil {
			return "", false
		}
		column := r.Field
		if c, ok := r.Value.(string); ok && c != "" {
			column = c
		}
		taken, err := env.Lookup.ValueTaken(ctx, env.Kind, column, s, env.RecordID)
		if err != nil {
			return fmt.Sprintf("could not check %s: %v", r.Field, err), true
		}
		if taken {
			return r.message(fmt.Sprintf("%s %q is already in use", r.Field, s)), true
		}
	}
	return "", false
}

func (r *Rule) message(fallback string) string {
	if r.Message != "" {
		return r.Message
	}
	return fallback
}

// IsEmpty treats nil, blank strings and empty lists as missing.
func IsEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	case []any:
		return len(val) == 0
	case []string:
		return len(val) == 0
	case []map[string]any:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	}
	return false
}

func lengthOf(v any) int {
	switch val := v.(type) {
	case []any:
		return len(val)
	case []string:
		return len(val)
	case []map[string]any:
		return len(val)
	}
	return 0
}

func isURL(s string) bool {
	if strings.HasPrefix(s, "/") {
		return true
	}
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// ToFloat64 converts numeric types to float64.
func ToFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	}
	return 0, false
}
