package engine

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dwsmith1983/tripwire/pkg/types"
)

// ErrInvalidRule is returned for rules that cannot be registered.
var ErrInvalidRule = errors.New("engine: invalid rule")

// Escalation overrides the engine escalation policy for one rule.
type Escalation struct {
	Delay    time.Duration
	Channels []string
}

// Rule is an alerting rule definition.
type Rule struct {
	Name        string
	Description string
	Condition   Condition
	Severity    types.Severity
	Category    types.Category
	// Channels defaults to the engine default channels.
	Channels []string
	// Suppression defaults to the engine default suppression.
	Suppression time.Duration
	Escalation  *Escalation
	Disabled    bool
}

type ruleState struct {
	rule          Rule
	enabled       bool
	triggerCount  int
	lastTriggered *time.Time
	lastError     string
}

func (s *ruleState) status() types.RuleStatus {
	st := types.RuleStatus{
		Name:         s.rule.Name,
		Description:  s.rule.Description,
		Condition:    s.rule.Condition.Type(),
		Severity:     s.rule.Severity,
		Category:     s.rule.Category,
		Enabled:      s.enabled,
		TriggerCount: s.triggerCount,
		LastError:    s.lastError,
	}
	if s.lastTriggered != nil {
		t := *s.lastTriggered
		st.LastTriggered = &t
	}
	return st
}

func normalizeRule(r Rule) (Rule, error) {
	if r.Name == "" {
		return r, fmt.Errorf("%w: name is required", ErrInvalidRule)
	}
	if r.Condition == nil {
		return r, fmt.Errorf("%w: rule %q has no condition", ErrInvalidRule, r.Name)
	}
	if c, ok := r.Condition.(Custom); ok && c.Predicate == nil {
		return r, fmt.Errorf("%w: rule %q has no predicate", ErrInvalidRule, r.Name)
	}
	if r.Severity == "" {
		r.Severity = types.SeverityMedium
	}
	if !r.Severity.Valid() {
		return r, fmt.Errorf("%w: rule %q has unknown severity %q", ErrInvalidRule, r.Name, r.Severity)
	}
	if r.Category == "" {
		r.Category = types.CategoryCustom
	}
	if r.Suppression < 0 {
		return r, fmt.Errorf("%w: rule %q has negative suppression", ErrInvalidRule, r.Name)
	}
	r.Channels = append([]string(nil), r.Channels...)
	if r.Escalation != nil {
		esc := *r.Escalation
		esc.Channels = append([]string(nil), esc.Channels...)
		r.Escalation = &esc
	}
	return r, nil
}

// ConditionFromConfig builds the declarative condition variants. Custom
// conditions cannot be declared.
func ConditionFromConfig(cfg types.ConditionConfig) (Condition, error) {
	op := types.OpGreater
	if cfg.Operator != "" {
		parsed, ok := types.ParseOperator(cfg.Operator)
		if !ok {
			return nil, fmt.Errorf("unknown operator %q", cfg.Operator)
		}
		op = parsed
	}
	window, err := parseWindow(cfg.Window)
	if err != nil {
		return nil, err
	}

	switch cfg.Type {
	case types.ConditionThreshold:
		if cfg.Metric == "" {
			return nil, errors.New("threshold condition requires a metric")
		}
		return Threshold{Metric: cfg.Metric, Op: op, Value: cfg.Threshold}, nil
	case types.ConditionRate:
		if cfg.Metric == "" {
			return nil, errors.New("rate condition requires a metric")
		}
		return Rate{Metric: cfg.Metric, Op: op, Value: cfg.Threshold, Window: window}, nil
	case types.ConditionErrorSeverity:
		if !cfg.Severity.Valid() {
			return nil, fmt.Errorf("error_severity condition has unknown severity %q", cfg.Severity)
		}
		return ErrorSeverity{Severity: cfg.Severity, Op: op, Value: cfg.Threshold, Window: window}, nil
	case types.ConditionErrorPattern:
		return ErrorPattern{Op: op, Value: cfg.Threshold}, nil
	case types.ConditionCustom:
		return nil, errors.New("custom conditions can only be registered in code")
	default:
		return nil, fmt.Errorf("unknown condition type %q", cfg.Type)
	}
}

func parseWindow(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parsing window %q: %w", s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("window %q must be positive", s)
	}
	return d, nil
}

// RuleFromConfig converts a YAML rule into a Rule.
func RuleFromConfig(cfg types.RuleConfig) (Rule, error) {
	cond, err := ConditionFromConfig(cfg.Condition)
	if err != nil {
		return Rule{}, fmt.Errorf("%w: rule %q: %v", ErrInvalidRule, cfg.Name, err)
	}
	r := Rule{
		Name:        cfg.Name,
		Description: cfg.Description,
		Condition:   cond,
		Severity:    cfg.Severity,
		Category:    cfg.Category,
		Channels:    cfg.Channels,
		Disabled:    cfg.Enabled != nil && !*cfg.Enabled,
	}
	if cfg.Suppression != "" {
		d, err := time.ParseDuration(cfg.Suppression)
		if err != nil || d < 0 {
			return Rule{}, fmt.Errorf("%w: rule %q: invalid suppression %q", ErrInvalidRule, cfg.Name, cfg.Suppression)
		}
		r.Suppression = d
	}
	if cfg.Escalation != nil {
		esc := &Escalation{Channels: cfg.Escalation.Channels}
		if cfg.Escalation.Delay != "" {
			d, err := time.ParseDuration(cfg.Escalation.Delay)
			if err != nil || d <= 0 {
				return Rule{}, fmt.Errorf("%w: rule %q: invalid escalation delay %q", ErrInvalidRule, cfg.Name, cfg.Escalation.Delay)
			}
			esc.Delay = d
		}
		r.Escalation = esc
	}
	return normalizeRule(r)
}

// ruleConfig is the inverse of RuleFromConfig. Custom rules have no
// declarative form.
func ruleConfig(r Rule, enabled bool) (types.RuleConfig, bool) {
	var cond types.ConditionConfig
	switch c := r.Condition.(type) {
	case Threshold:
		cond = types.ConditionConfig{Type: c.Type(), Metric: c.Metric, Operator: string(opOrDefault(c.Op)), Threshold: c.Value}
	case Rate:
		cond = types.ConditionConfig{Type: c.Type(), Metric: c.Metric, Operator: string(opOrDefault(c.Op)), Threshold: c.Value, Window: durationString(c.Window)}
	case ErrorSeverity:
		cond = types.ConditionConfig{Type: c.Type(), Severity: c.Severity, Operator: string(opOrDefault(c.Op)), Threshold: c.Value, Window: durationString(c.Window)}
	case ErrorPattern:
		cond = types.ConditionConfig{Type: c.Type(), Operator: string(opOrDefault(c.Op)), Threshold: c.Value}
	default:
		return types.RuleConfig{}, false
	}

	cfg := types.RuleConfig{
		Name:        r.Name,
		Description: r.Description,
		Condition:   cond,
		Severity:    r.Severity,
		Category:    r.Category,
		Channels:    append([]string(nil), r.Channels...),
		Suppression: durationString(r.Suppression),
		Enabled:     &enabled,
	}
	if r.Escalation != nil {
		cfg.Escalation = &types.EscalationConfig{
			Delay:    durationString(r.Escalation.Delay),
			Channels: append([]string(nil), r.Escalation.Channels...),
		}
	}
	return cfg, true
}

func durationString(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	return d.String()
}

// Default rule thresholds.
const (
	DefaultErrorRatePerMinute = 10
	DefaultMemoryLimitMB      = 500
	DefaultSlowRequestMillis  = 1000
)

// DefaultRules returns the built-in rule set: error rate, memory,
// request latency and critical errors.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:        "high_error_rate",
			Description: "Error rate above " + strconv.Itoa(DefaultErrorRatePerMinute) + " per minute",
			Condition:   Rate{Metric: "errors.total", Op: types.OpGreater, Value: DefaultErrorRatePerMinute, Window: time.Minute},
			Severity:    types.SeverityHigh,
			Category:    types.CategoryErrorRate,
		},
		{
			Name:        "high_memory_usage",
			Description: "Memory usage above " + strconv.Itoa(DefaultMemoryLimitMB) + "MB",
			Condition:   Threshold{Metric: "system.memory.used", Op: types.OpGreater, Value: DefaultMemoryLimitMB},
			Severity:    types.SeverityMedium,
			Category:    types.CategoryMemory,
		},
		{
			Name:        "poor_performance",
			Description: "Request latency above " + strconv.Itoa(DefaultSlowRequestMillis) + "ms",
			Condition:   Threshold{Metric: "performance.request.duration", Op: types.OpGreater, Value: DefaultSlowRequestMillis},
			Severity:    types.SeverityMedium,
			Category:    types.CategoryPerformance,
		},
		{
			Name:        "critical_errors",
			Description: "Critical error tracked in the last minute",
			Condition:   ErrorSeverity{Severity: types.SeverityCritical, Op: types.OpGreater, Value: 0, Window: time.Minute},
			Severity:    types.SeverityCritical,
			Category:    types.CategoryErrorRate,
		},
	}
}
