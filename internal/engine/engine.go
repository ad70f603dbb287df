// Package engine evaluates alert rules against metrics and tracked errors
// and manages the resulting alerts: suppression, escalation,
// acknowledgment and resolution.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dwsmith1983/tripwire/internal/lifecycle"
	"github.com/dwsmith1983/tripwire/internal/metrics"
	"github.com/dwsmith1983/tripwire/internal/store"
	"github.com/dwsmith1983/tripwire/pkg/types"
)

// Engine defaults.
const (
	DefaultInterval        = 5 * time.Second
	DefaultSuppression     = 5 * time.Minute
	DefaultEscalationDelay = 10 * time.Minute
	DefaultAlertRetention  = 7 * 24 * time.Hour

	maxPendingPatterns = 100
	tracerName         = "github.com/dwsmith1983/tripwire/internal/engine"
)

// Sources of an alert, stored in Alert.Rule for non-rule alerts.
const (
	SourceManual  = "manual"
	SourcePattern = "pattern"
)

var (
	ErrUnknownAlert      = errors.New("engine: unknown alert")
	ErrInvalidTransition = errors.New("engine: invalid alert transition")
	ErrSuppressed        = errors.New("engine: alert suppressed")
	ErrInvalidAlert      = errors.New("engine: invalid alert")
)

// Dispatcher queues alerts for delivery. dispatch.Runner implements it.
type Dispatcher interface {
	Enqueue(alert types.Alert, channels []string) int
	Stats() map[string]types.ChannelStats
}

// Options configures an Engine.
type Options struct {
	Metrics    MetricReader
	Errors     ErrorSource
	Dispatcher Dispatcher
	Store      store.Store

	Interval           time.Duration
	DefaultSuppression time.Duration
	EscalationDelay    time.Duration
	DisableEscalation  bool
	AlertRetention     time.Duration
	// DefaultChannels receive alerts that name no channels.
	DefaultChannels []string

	Now    func() time.Time
	Logger *slog.Logger
	Tracer trace.Tracer
}

// OptionsFromConfig converts the YAML engine section into Options.
func OptionsFromConfig(cfg types.EngineConfig) Options {
	return Options{
		Interval:           types.ParseDurationOr(cfg.Interval, DefaultInterval),
		DefaultSuppression: types.ParseDurationOr(cfg.DefaultSuppression, DefaultSuppression),
		EscalationDelay:    types.ParseDurationOr(cfg.EscalationDelay, DefaultEscalationDelay),
		DisableEscalation:  cfg.Escalation != nil && !*cfg.Escalation,
		AlertRetention:     types.ParseDurationOr(cfg.AlertRetention, DefaultAlertRetention),
		DefaultChannels:    cfg.DefaultChannels,
	}
}

// TickResult counts what one tick did.
type TickResult struct {
	Evaluated  int
	Fired      int
	Suppressed int
	Failed     int
	Patterns   int
	Escalated  int
	Expired    int
}

// Engine owns rules, alerts and the suppression table.
type Engine struct {
	mu           sync.Mutex
	rules        map[string]*ruleState
	alerts       map[string]*types.Alert
	suppressions map[string]types.Suppression

	patMu    sync.Mutex
	patterns []types.PatternAlert

	// tickMu serializes ticks.
	tickMu sync.Mutex

	metrics    MetricReader
	errors     ErrorSource
	dispatcher Dispatcher
	store      store.Store

	interval           time.Duration
	defaultSuppression time.Duration
	escalationDelay    time.Duration
	escalation         bool
	retention          time.Duration
	defaultChannels    []string

	now    func() time.Time
	logger *slog.Logger
	tracer trace.Tracer

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an Engine. When opts.Errors is set, its pattern alerts are
// queued and turned into alerts on the next tick.
func New(opts Options) *Engine {
	e := &Engine{
		rules:              make(map[string]*ruleState),
		alerts:             make(map[string]*types.Alert),
		suppressions:       make(map[string]types.Suppression),
		metrics:            opts.Metrics,
		errors:             opts.Errors,
		dispatcher:         opts.Dispatcher,
		store:              opts.Store,
		interval:           opts.Interval,
		defaultSuppression: opts.DefaultSuppression,
		escalationDelay:    opts.EscalationDelay,
		escalation:         !opts.DisableEscalation,
		retention:          opts.AlertRetention,
		defaultChannels:    append([]string(nil), opts.DefaultChannels...),
		now:                opts.Now,
		logger:             opts.Logger,
		tracer:             opts.Tracer,
	}
	if e.interval <= 0 {
		e.interval = DefaultInterval
	}
	if e.defaultSuppression <= 0 {
		e.defaultSuppression = DefaultSuppression
	}
	if e.escalationDelay <= 0 {
		e.escalationDelay = DefaultEscalationDelay
	}
	if e.retention <= 0 {
		e.retention = DefaultAlertRetention
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(tracerName)
	}
	if e.errors != nil {
		e.errors.OnPattern(e.queuePattern)
	}
	return e
}

// CreateRule registers r, replacing any rule with the same name. A
// replaced rule starts with fresh trigger counters.
func (e *Engine) CreateRule(r Rule) error {
	r, err := normalizeRule(r)
	if err != nil {
		return err
	}
	e.mu.Lock()
	_, replaced := e.rules[r.Name]
	e.rules[r.Name] = &ruleState{rule: r, enabled: !r.Disabled}
	e.mu.Unlock()

	e.logger.Info("engine: rule registered", "rule", r.Name, "condition", r.Condition.Type(),
		"severity", r.Severity, "replaced", replaced)
	return nil
}

// RegisterDefaultRules installs DefaultRules.
func (e *Engine) RegisterDefaultRules() error {
	for _, r := range DefaultRules() {
		if err := e.CreateRule(r); err != nil {
			return err
		}
	}
	return nil
}

// EnableRule re-enables a rule. It reports whether the rule exists.
func (e *Engine) EnableRule(name string) bool { return e.setEnabled(name, true) }

// DisableRule stops a rule from being evaluated from the next tick on.
func (e *Engine) DisableRule(name string) bool { return e.setEnabled(name, false) }

func (e *Engine) setEnabled(name string, enabled bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.rules[name]
	if ok {
		st.enabled = enabled
	}
	return ok
}

// RemoveRule deletes a rule. Alerts it already produced are kept.
func (e *Engine) RemoveRule(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.rules[name]
	delete(e.rules, name)
	return ok
}

// Rules returns the status of every rule, sorted by name.
func (e *Engine) Rules() []types.RuleStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]types.RuleStatus, 0, len(e.rules))
	for _, st := range e.rules {
		out = append(out, st.status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ExportConfig returns the declarative form of every non-custom rule.
func (e *Engine) ExportConfig() []types.RuleConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]types.RuleConfig, 0, len(e.rules))
	for _, st := range e.rules {
		if cfg, ok := ruleConfig(st.rule, st.enabled); ok {
			out = append(out, cfg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ImportConfig registers every rule in cfgs. Nothing is registered unless
// all of them are valid.
func (e *Engine) ImportConfig(cfgs []types.RuleConfig) error {
	rules := make([]Rule, 0, len(cfgs))
	for _, cfg := range cfgs {
		r, err := RuleFromConfig(cfg)
		if err != nil {
			return err
		}
		rules = append(rules, r)
	}
	for _, r := range rules {
		if err := e.CreateRule(r); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) queuePattern(p types.PatternAlert) {
	e.patMu.Lock()
	defer e.patMu.Unlock()
	if len(e.patterns) >= maxPendingPatterns {
		e.patterns = e.patterns[1:]
	}
	e.patterns = append(e.patterns, p)
}

func (e *Engine) takePatterns() []types.PatternAlert {
	e.patMu.Lock()
	defer e.patMu.Unlock()
	out := e.patterns
	e.patterns = nil
	return out
}

type evaluation struct {
	state *ruleState
	rule  Rule
}

// Tick runs one evaluation cycle: purge expired suppressions, turn queued
// error patterns into alerts, evaluate enabled rules, fire due escalations
// and drop alerts past retention.
func (e *Engine) Tick(ctx context.Context) TickResult {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	ctx, span := e.tracer.Start(ctx, "tripwire.engine.tick")
	defer span.End()

	metrics.TicksTotal.Add(1)
	now := e.now()
	var res TickResult
	var created []types.Alert

	e.purgeSuppressions(ctx, now)

	for _, p := range e.takePatterns() {
		if a, ok := e.firePattern(ctx, p, now); ok {
			created = append(created, a)
			res.Patterns++
		} else {
			res.Suppressed++
		}
	}

	v := view{now: now, metrics: e.metrics, errors: e.errors}
	for _, ev := range e.enabledRules() {
		res.Evaluated++
		metrics.RuleEvaluations.Add(1)

		fired, err := ev.rule.Condition.Evaluate(v)
		e.recordEvaluation(ev.state, err)
		if err != nil {
			res.Failed++
			metrics.RuleEvaluationErrors.Add(1)
			e.logger.Error("engine: rule evaluation failed", "rule", ev.rule.Name, "error", err)
			continue
		}
		if !fired {
			continue
		}
		if a, ok := e.fireRule(ctx, ev, now); ok {
			created = append(created, a)
			res.Fired++
		} else {
			res.Suppressed++
		}
	}

	escalated := e.escalate(ctx, now)
	created = append(created, escalated...)
	res.Escalated = len(escalated)
	res.Expired = e.collectGarbage(ctx, now)

	for _, a := range created {
		e.dispatch(a)
	}

	span.SetAttributes(
		attribute.Int("rules.evaluated", res.Evaluated),
		attribute.Int("alerts.fired", res.Fired+res.Patterns),
		attribute.Int("alerts.suppressed", res.Suppressed),
		attribute.Int("alerts.escalated", res.Escalated),
	)
	if res.Failed > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d rule evaluations failed", res.Failed))
	}
	return res
}

func (e *Engine) enabledRules() []evaluation {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]evaluation, 0, len(e.rules))
	for _, st := range e.rules {
		if st.enabled {
			out = append(out, evaluation{state: st, rule: st.rule})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].rule.Name < out[j].rule.Name })
	return out
}

func (e *Engine) recordEvaluation(st *ruleState, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		st.lastError = err.Error()
	} else {
		st.lastError = ""
	}
}

// fireRule creates an alert for a rule unless its key is suppressed, then
// suppresses the key for the rule's suppression period.
func (e *Engine) fireRule(ctx context.Context, ev evaluation, now time.Time) (types.Alert, bool) {
	r := ev.rule
	key := "rule_" + r.Name

	e.mu.Lock()
	if e.suppressedLocked(key, now) {
		e.mu.Unlock()
		metrics.AlertsSuppressed.Add(1)
		return types.Alert{}, false
	}

	message := r.Description
	if message == "" {
		message = fmt.Sprintf("Rule %q triggered", r.Name)
	}
	delay := e.escalationDelay
	if r.Escalation != nil && r.Escalation.Delay > 0 {
		delay = r.Escalation.Delay
	}
	a := e.newAlertLocked(types.Alert{
		Rule:           r.Name,
		Title:          "Alert: " + r.Name,
		Message:        message,
		Severity:       r.Severity,
		Category:       r.Category,
		SuppressionKey: key,
		Channels:       r.Channels,
		Metadata: map[string]string{
			"source":    "rule",
			"condition": string(r.Condition.Type()),
		},
	}, now, delay)

	ev.state.triggerCount++
	t := now
	ev.state.lastTriggered = &t

	suppression := r.Suppression
	if suppression <= 0 {
		suppression = e.defaultSuppression
	}
	sup := e.suppressLocked(key, now, suppression, "auto-suppression after rule trigger")
	e.mu.Unlock()

	e.logger.Warn("engine: alert triggered", "alert", a.ID, "rule", r.Name, "severity", a.Severity)
	e.saveAlerts(ctx, a)
	e.saveSuppression(ctx, sup)
	return a, true
}

func (e *Engine) firePattern(ctx context.Context, p types.PatternAlert, now time.Time) (types.Alert, bool) {
	key := "pattern_" + p.Fingerprint

	e.mu.Lock()
	if e.suppressedLocked(key, now) {
		e.mu.Unlock()
		metrics.AlertsSuppressed.Add(1)
		return types.Alert{}, false
	}
	severity := types.SeverityHigh
	if p.Sample.Severity == types.SeverityCritical {
		severity = types.SeverityCritical
	}
	a := e.newAlertLocked(types.Alert{
		Rule:           SourcePattern,
		Title:          "Error pattern detected",
		Message:        fmt.Sprintf("%d occurrences of %q within %s", p.Count, p.Sample.Message, p.Window),
		Severity:       severity,
		Category:       types.CategoryErrorPattern,
		SuppressionKey: key,
		Metadata: map[string]string{
			"source":        SourcePattern,
			"fingerprint":   p.Fingerprint,
			"errorCategory": string(p.Sample.Category),
			"sampleError":   p.Sample.ID,
		},
	}, now, e.escalationDelay)
	sup := e.suppressLocked(key, now, e.defaultSuppression, "auto-suppression after pattern alert")
	e.mu.Unlock()

	e.logger.Warn("engine: error pattern alert", "alert", a.ID, "fingerprint", p.Fingerprint, "count", p.Count)
	e.saveAlerts(ctx, a)
	e.saveSuppression(ctx, sup)
	return a, true
}

// AlertOptions configures a manual alert.
type AlertOptions struct {
	Severity types.Severity
	Category types.Category
	Channels []string
	// SuppressionKey defaults to "manual_<title>".
	SuppressionKey string
	Metadata       map[string]string
}

// TriggerAlert raises a manual alert and queues it for delivery. It returns
// ErrSuppressed when the suppression key is currently suppressed. Manual
// alerts do not install a suppression themselves.
func (e *Engine) TriggerAlert(ctx context.Context, title, message string, opts AlertOptions) (string, error) {
	if title == "" {
		return "", fmt.Errorf("%w: title is required", ErrInvalidAlert)
	}
	if opts.Severity == "" {
		opts.Severity = types.SeverityMedium
	}
	if !opts.Severity.Valid() {
		return "", fmt.Errorf("%w: unknown severity %q", ErrInvalidAlert, opts.Severity)
	}
	if opts.Category == "" {
		opts.Category = types.CategoryCustom
	}
	key := opts.SuppressionKey
	if key == "" {
		key = "manual_" + title
	}
	now := e.now()

	e.mu.Lock()
	if e.suppressedLocked(key, now) {
		e.mu.Unlock()
		metrics.AlertsSuppressed.Add(1)
		e.logger.Debug("engine: alert suppressed", "title", title, "key", key)
		return "", ErrSuppressed
	}
	meta := make(map[string]string, len(opts.Metadata)+1)
	for k, v := range opts.Metadata {
		meta[k] = v
	}
	meta["source"] = SourceManual
	a := e.newAlertLocked(types.Alert{
		Rule:           SourceManual,
		Title:          title,
		Message:        message,
		Severity:       opts.Severity,
		Category:       opts.Category,
		SuppressionKey: key,
		Channels:       opts.Channels,
		Metadata:       meta,
	}, now, e.escalationDelay)
	e.mu.Unlock()

	e.logger.Warn("engine: alert triggered", "alert", a.ID, "title", title, "severity", a.Severity)
	e.saveAlerts(ctx, a)
	e.dispatch(a)
	return a.ID, nil
}

// newAlertLocked fills in identity, status and escalation schedule, stores
// the alert and returns a copy.
func (e *Engine) newAlertLocked(a types.Alert, now time.Time, escalationDelay time.Duration) types.Alert {
	a.ID = "alert_" + ulid.Make().String()
	a.Status = types.AlertActive
	a.CreatedAt = now
	if len(a.Channels) == 0 {
		a.Channels = e.defaultChannels
	}
	a.Channels = append([]string(nil), a.Channels...)
	if e.escalation && a.Severity == types.SeverityCritical && a.EscalatedFrom == "" {
		at := now.Add(escalationDelay)
		a.EscalationAt = &at
	}
	stored := copyAlert(a)
	e.alerts[a.ID] = &stored
	metrics.AlertsCreated.Add(1)
	return copyAlert(a)
}

func (e *Engine) dispatch(a types.Alert) {
	if e.dispatcher == nil || len(a.Channels) == 0 {
		return
	}
	e.dispatcher.Enqueue(a, a.Channels)
}

// escalate fires every due escalation. Only alerts still active at fire
// time escalate; acknowledged or resolved alerts have their escalation
// cancelled. Each alert escalates at most once.
func (e *Engine) escalate(ctx context.Context, now time.Time) []types.Alert {
	var created, changed []types.Alert

	e.mu.Lock()
	due := make([]*types.Alert, 0)
	for _, a := range e.alerts {
		if a.EscalationAt != nil && !a.Escalated && !now.Before(*a.EscalationAt) {
			due = append(due, a)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })

	for _, a := range due {
		if a.Status != types.AlertActive {
			a.EscalationAt = nil
			changed = append(changed, copyAlert(*a))
			continue
		}
		a.Escalated = true
		changed = append(changed, copyAlert(*a))

		channels := a.Channels
		if st, ok := e.rules[a.Rule]; ok && st.rule.Escalation != nil && len(st.rule.Escalation.Channels) > 0 {
			channels = st.rule.Escalation.Channels
		}
		meta := make(map[string]string, len(a.Metadata)+1)
		for k, v := range a.Metadata {
			meta[k] = v
		}
		meta["escalatedFrom"] = a.ID
		esc := e.newAlertLocked(types.Alert{
			Rule:           a.Rule,
			Title:          "ESCALATED: " + a.Title,
			Message:        "Alert has been escalated due to no acknowledgment. Original: " + a.Message,
			Severity:       a.Severity,
			Category:       a.Category,
			SuppressionKey: a.SuppressionKey,
			Channels:       channels,
			EscalatedFrom:  a.ID,
			Metadata:       meta,
		}, now, 0)
		created = append(created, esc)
		metrics.AlertsEscalated.Add(1)
	}
	e.mu.Unlock()

	for _, a := range created {
		e.logger.Warn("engine: alert escalated", "alert", a.ID, "from", a.EscalatedFrom)
	}
	e.saveAlerts(ctx, changed...)
	e.saveAlerts(ctx, created...)
	return created
}

// Acknowledge moves an active alert to acknowledged.
func (e *Engine) Acknowledge(ctx context.Context, id, by, comment string) error {
	now := e.now()
	e.mu.Lock()
	a, ok := e.alerts[id]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownAlert, id)
	}
	if err := lifecycle.Transition(a.Status, types.AlertAcknowledged); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrInvalidTransition, err)
	}
	a.Status = types.AlertAcknowledged
	a.AcknowledgedBy = by
	a.AcknowledgedAt = &now
	a.Comment = comment
	out := copyAlert(*a)
	e.mu.Unlock()

	e.logger.Info("engine: alert acknowledged", "alert", id, "by", by)
	e.saveAlerts(ctx, out)
	return nil
}

// Resolve moves an active or acknowledged alert to resolved. Resolved
// alerts are immutable.
func (e *Engine) Resolve(ctx context.Context, id, by, resolution string) error {
	now := e.now()
	e.mu.Lock()
	a, ok := e.alerts[id]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownAlert, id)
	}
	if err := lifecycle.Transition(a.Status, types.AlertResolved); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrInvalidTransition, err)
	}
	a.Status = types.AlertResolved
	a.ResolvedBy = by
	a.ResolvedAt = &now
	a.Resolution = resolution
	out := copyAlert(*a)
	e.mu.Unlock()

	metrics.AlertsResolved.Add(1)
	e.logger.Info("engine: alert resolved", "alert", id, "by", by, "duration", now.Sub(out.CreatedAt))
	e.saveAlerts(ctx, out)
	return nil
}

// Suppress installs or overwrites a suppression for key. A non-positive
// duration uses the default suppression.
func (e *Engine) Suppress(ctx context.Context, key string, d time.Duration, reason string) error {
	if key == "" {
		return fmt.Errorf("%w: suppression key is required", ErrInvalidAlert)
	}
	if d <= 0 {
		d = e.defaultSuppression
	}
	e.mu.Lock()
	sup := e.suppressLocked(key, e.now(), d, reason)
	e.mu.Unlock()

	e.logger.Info("engine: alerts suppressed", "key", key, "duration", d, "reason", reason)
	e.saveSuppression(ctx, sup)
	return nil
}

func (e *Engine) suppressLocked(key string, now time.Time, d time.Duration, reason string) types.Suppression {
	sup := types.Suppression{Key: key, Until: now.Add(d), Reason: reason, CreatedAt: now}
	e.suppressions[key] = sup
	return sup
}

func (e *Engine) suppressedLocked(key string, now time.Time) bool {
	s, ok := e.suppressions[key]
	return ok && s.Active(now)
}

func (e *Engine) purgeSuppressions(ctx context.Context, now time.Time) {
	var expired []string
	e.mu.Lock()
	for key, s := range e.suppressions {
		if !s.Active(now) {
			delete(e.suppressions, key)
			expired = append(expired, key)
		}
	}
	e.mu.Unlock()

	if e.store == nil {
		return
	}
	for _, key := range expired {
		if err := e.store.DeleteSuppression(ctx, key); err != nil && !errors.Is(err, store.ErrNotFound) {
			metrics.StoreErrors.Add(1)
			e.logger.Error("engine: deleting suppression", "key", key, "error", err)
		}
	}
}

// collectGarbage drops alerts older than the retention period.
func (e *Engine) collectGarbage(ctx context.Context, now time.Time) int {
	cutoff := now.Add(-e.retention)
	var expired []string
	e.mu.Lock()
	for id, a := range e.alerts {
		if a.CreatedAt.Before(cutoff) {
			delete(e.alerts, id)
			expired = append(expired, id)
		}
	}
	e.mu.Unlock()

	if e.store != nil {
		for _, id := range expired {
			if err := e.store.DeleteAlert(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
				metrics.StoreErrors.Add(1)
				e.logger.Error("engine: deleting alert", "alert", id, "error", err)
			}
		}
	}
	return len(expired)
}

func (e *Engine) saveAlerts(ctx context.Context, alerts ...types.Alert) {
	if e.store == nil {
		return
	}
	for _, a := range alerts {
		if err := e.store.SaveAlert(ctx, a); err != nil {
			metrics.StoreErrors.Add(1)
			e.logger.Error("engine: saving alert", "alert", a.ID, "error", err)
		}
	}
}

func (e *Engine) saveSuppression(ctx context.Context, s types.Suppression) {
	if e.store == nil {
		return
	}
	if err := e.store.SaveSuppression(ctx, s); err != nil {
		metrics.StoreErrors.Add(1)
		e.logger.Error("engine: saving suppression", "key", s.Key, "error", err)
	}
}

// Restore loads unexpired suppressions and alerts inside the retention
// period from the store. Alerts already held in memory win.
func (e *Engine) Restore(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	sups, err := e.store.ListSuppressions(ctx)
	if err != nil {
		return fmt.Errorf("restoring suppressions: %w", err)
	}
	alerts, err := e.store.ListAlerts(ctx, 0)
	if err != nil {
		return fmt.Errorf("restoring alerts: %w", err)
	}

	now := e.now()
	cutoff := now.Add(-e.retention)
	restoredAlerts, restoredSups := 0, 0

	e.mu.Lock()
	for _, s := range sups {
		if !s.Active(now) {
			continue
		}
		if cur, ok := e.suppressions[s.Key]; ok && !cur.Until.Before(s.Until) {
			continue
		}
		e.suppressions[s.Key] = s
		restoredSups++
	}
	for _, a := range alerts {
		if a.CreatedAt.Before(cutoff) {
			continue
		}
		if _, ok := e.alerts[a.ID]; ok {
			continue
		}
		stored := copyAlert(a)
		e.alerts[a.ID] = &stored
		restoredAlerts++
	}
	e.mu.Unlock()

	e.logger.Info("engine: state restored", "alerts", restoredAlerts, "suppressions", restoredSups)
	return nil
}

// Start begins the tick loop. The first tick runs immediately.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.logger.Info("engine started", "interval", e.interval, "rules", len(e.Rules()))

		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()

		e.Tick(ctx)

		for {
			select {
			case <-ctx.Done():
				e.logger.Info("engine stopping")
				return
			case <-ticker.C:
				e.Tick(ctx)
			}
		}
	}()
}

// Stop cancels the tick loop and waits for it to exit or ctx to expire.
func (e *Engine) Stop(ctx context.Context) {
	if e.cancel != nil {
		e.cancel()
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.logger.Info("engine stopped")
	case <-ctx.Done():
		e.logger.Warn("engine stop timed out")
	}
}

func copyAlert(a types.Alert) types.Alert {
	out := a
	out.Channels = append([]string(nil), a.Channels...)
	if a.AcknowledgedAt != nil {
		t := *a.AcknowledgedAt
		out.AcknowledgedAt = &t
	}
	if a.ResolvedAt != nil {
		t := *a.ResolvedAt
		out.ResolvedAt = &t
	}
	if a.EscalationAt != nil {
		t := *a.EscalationAt
		out.EscalationAt = &t
	}
	if a.Metadata != nil {
		out.Metadata = make(map[string]string, len(a.Metadata))
		for k, v := range a.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}
