package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/dwsmith1983/tripwire/internal/metricstore"
	"github.com/dwsmith1983/tripwire/internal/tracker"
	"github.com/dwsmith1983/tripwire/pkg/types"
)

// DefaultRateWindow is used by rate and error severity conditions without a
// window.
const DefaultRateWindow = time.Minute

// View is the read-only access a condition gets during a tick.
type View interface {
	Now() time.Time
	CurrentValue(metric string) (float64, bool)
	MetricStats(metric string, rng time.Duration) types.Stats
	ErrorCount(f tracker.Filter) int
	PatternStats() types.PatternStats
}

// Condition decides whether a rule fires.
type Condition interface {
	Type() types.ConditionType
	Evaluate(v View) (bool, error)
}

// Threshold compares the latest value of a metric. Missing metrics never
// fire.
type Threshold struct {
	Metric string
	Op     types.Operator
	Value  float64
}

func (Threshold) Type() types.ConditionType { return types.ConditionThreshold }

func (c Threshold) Evaluate(v View) (bool, error) {
	cur, ok := v.CurrentValue(c.Metric)
	if !ok {
		return false, nil
	}
	return opOrDefault(c.Op).Compare(cur, c.Value), nil
}

// Rate compares samples per minute inside Window.
type Rate struct {
	Metric string
	Op     types.Operator
	Value  float64
	Window time.Duration
}

func (Rate) Type() types.ConditionType { return types.ConditionRate }

func (c Rate) Evaluate(v View) (bool, error) {
	window := c.Window
	if window <= 0 {
		window = DefaultRateWindow
	}
	st := v.MetricStats(c.Metric, window)
	if st.Count == 0 {
		return false, nil
	}
	rate := float64(st.Count) / window.Minutes()
	return opOrDefault(c.Op).Compare(rate, c.Value), nil
}

// ErrorSeverity counts tracked errors of Severity inside Window.
type ErrorSeverity struct {
	Severity types.Severity
	Op       types.Operator
	Value    float64
	Window   time.Duration
}

func (ErrorSeverity) Type() types.ConditionType { return types.ConditionErrorSeverity }

func (c ErrorSeverity) Evaluate(v View) (bool, error) {
	window := c.Window
	if window <= 0 {
		window = DefaultRateWindow
	}
	n := v.ErrorCount(tracker.Filter{Since: v.Now().Add(-window), Severity: c.Severity})
	return opOrDefault(c.Op).Compare(float64(n), c.Value), nil
}

// ErrorPattern compares the number of critical error patterns.
type ErrorPattern struct {
	Op    types.Operator
	Value float64
}

func (ErrorPattern) Type() types.ConditionType { return types.ConditionErrorPattern }

func (c ErrorPattern) Evaluate(v View) (bool, error) {
	n := v.PatternStats().CriticalPatterns
	return opOrDefault(c.Op).Compare(float64(n), c.Value), nil
}

// Predicate is an arbitrary rule body.
type Predicate func(v View) (bool, error)

// Custom runs a Predicate. Panics are converted into errors.
type Custom struct {
	Predicate Predicate
}

func (Custom) Type() types.ConditionType { return types.ConditionCustom }

func (c Custom) Evaluate(v View) (fired bool, err error) {
	if c.Predicate == nil {
		return false, errors.New("custom condition has no predicate")
	}
	defer func() {
		if r := recover(); r != nil {
			fired, err = false, fmt.Errorf("predicate panicked: %v", r)
		}
	}()
	return c.Predicate(v)
}

func opOrDefault(op types.Operator) types.Operator {
	if op == "" {
		return types.OpGreater
	}
	return op
}

// MetricReader is the subset of the metric store the engine reads.
type MetricReader interface {
	CurrentValue(name string) (float64, bool)
	Stats(name string, opts metricstore.StatsOptions) types.Stats
}

// ErrorSource is the subset of the event tracker the engine reads. OnPattern
// is used once at construction to bridge pattern alerts.
type ErrorSource interface {
	Count(f tracker.Filter) int
	PatternStats() types.PatternStats
	OnPattern(fn func(types.PatternAlert))
}

// view binds the readers for one tick. Either reader may be nil.
type view struct {
	now     time.Time
	metrics MetricReader
	errors  ErrorSource
}

func (v view) Now() time.Time { return v.now }

func (v view) CurrentValue(metric string) (float64, bool) {
	if v.metrics == nil {
		return 0, false
	}
	return v.metrics.CurrentValue(metric)
}

func (v view) MetricStats(metric string, rng time.Duration) types.Stats {
	if v.metrics == nil {
		return types.Stats{}
	}
	return v.metrics.Stats(metric, metricstore.StatsOptions{Range: rng})
}

func (v view) ErrorCount(f tracker.Filter) int {
	if v.errors == nil {
		return 0
	}
	return v.errors.Count(f)
}

func (v view) PatternStats() types.PatternStats {
	if v.errors == nil {
		return types.PatternStats{}
	}
	return v.errors.PatternStats()
}
