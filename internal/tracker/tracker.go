// Package tracker records failure events, fingerprints them and detects
// recurring patterns.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/dwsmith1983/tripwire/internal/metrics"
	"github.com/dwsmith1983/tripwire/pkg/types"
)

// Tracker defaults.
const (
	DefaultMaxErrors        = 1000
	DefaultPatternThreshold = 5
	DefaultPatternWindow    = 5 * time.Minute
	DefaultMaxPatternIDs    = 10
	DefaultRetention        = 7 * 24 * time.Hour
	DefaultCleanupInterval  = 5 * time.Minute

	// activeWindow bounds which patterns count as active.
	activeWindow = time.Hour
)

// ErrEmptyEvent is returned for events with no name, message or stack.
var ErrEmptyEvent = errors.New("tracker: empty error event")

// Counter is the subset of the metric store used to count tracked errors.
type Counter interface {
	Increment(name string, delta float64, tags map[string]string) error
}

// Options configures a Tracker.
type Options struct {
	MaxErrors        int
	PatternThreshold int
	PatternWindow    time.Duration
	MaxPatternIDs    int
	// MaxAge evicts records and idle pattern buckets older than this.
	MaxAge time.Duration
	// CleanupInterval paces the age sweep, both inline in Track and in the
	// Start loop.
	CleanupInterval time.Duration
	// Counter, when set, receives an errors.total increment per event.
	Counter Counter
	Now     func() time.Time
	Logger  *slog.Logger
}

// OptionsFromConfig converts the YAML tracker section into Options.
func OptionsFromConfig(cfg types.TrackerConfig) Options {
	return Options{
		MaxErrors:        cfg.MaxErrors,
		PatternThreshold: cfg.PatternThreshold,
		PatternWindow:    types.ParseDurationOr(cfg.PatternWindow, DefaultPatternWindow),
		MaxAge:           types.ParseDurationOr(cfg.Retention, DefaultRetention),
	}
}

// ErrorInput is a language-neutral failure description.
type ErrorInput struct {
	Name    string
	Message string
	Stack   string
	File    string
	Line    int
}

// FromError adapts a Go error. The name is the dynamic type of err and the
// stack is the %+v rendering when it adds detail beyond Error().
func FromError(err error) ErrorInput {
	if err == nil {
		return ErrorInput{}
	}
	in := ErrorInput{
		Name:    reflect.TypeOf(err).String(),
		Message: err.Error(),
	}
	if verbose := fmt.Sprintf("%+v", err); verbose != in.Message {
		in.Stack = verbose
	}
	return in
}

// TrackOptions overrides classification.
type TrackOptions struct {
	Category    types.Category
	Severity    types.Severity
	Recoverable *bool
	UserImpact  string
	Tags        []string
}

type bucket struct {
	count       int
	windowStart time.Time
	windowCount int
	first       time.Time
	last        time.Time
	ids         []string
}

// Tracker is a concurrency-safe error tracker.
type Tracker struct {
	mu        sync.Mutex
	records   []types.ErrorRecord
	patterns  map[string]*bucket
	listeners []func(types.PatternAlert)

	maxErrors     int
	threshold     int
	window        time.Duration
	maxPatternIDs int
	maxAge        time.Duration
	sweepEvery    time.Duration
	lastSweep     time.Time
	counter       Counter
	now           func() time.Time
	logger        *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Tracker.
func New(opts Options) *Tracker {
	t := &Tracker{
		patterns:      make(map[string]*bucket),
		maxErrors:     opts.MaxErrors,
		threshold:     opts.PatternThreshold,
		window:        opts.PatternWindow,
		maxPatternIDs: opts.MaxPatternIDs,
		maxAge:        opts.MaxAge,
		sweepEvery:    opts.CleanupInterval,
		counter:       opts.Counter,
		now:           opts.Now,
		logger:        opts.Logger,
	}
	if t.maxErrors <= 0 {
		t.maxErrors = DefaultMaxErrors
	}
	if t.threshold <= 0 {
		t.threshold = DefaultPatternThreshold
	}
	if t.window <= 0 {
		t.window = DefaultPatternWindow
	}
	if t.maxPatternIDs <= 0 {
		t.maxPatternIDs = DefaultMaxPatternIDs
	}
	if t.maxAge <= 0 {
		t.maxAge = DefaultRetention
	}
	if t.sweepEvery <= 0 {
		t.sweepEvery = DefaultCleanupInterval
	}
	if t.now == nil {
		t.now = time.Now
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	return t
}

// OnPattern registers fn to be called whenever a fingerprint bucket reaches
// the pattern threshold inside the pattern window. fn runs on the tracking
// goroutine after the tracker lock is released.
func (t *Tracker) OnPattern(fn func(types.PatternAlert)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, fn)
}

// Threshold returns the pattern threshold.
func (t *Tracker) Threshold() int { return t.threshold }

// Track records an event and returns its id. Category and severity are
// classified from the message when not supplied.
func (t *Tracker) Track(in ErrorInput, ctx map[string]any, opts TrackOptions) (string, error) {
	if in.Name == "" && in.Message == "" && in.Stack == "" {
		return "", ErrEmptyEvent
	}
	if in.Name == "" {
		in.Name = "Error"
	}

	category := opts.Category
	if !category.ErrorCategory() {
		category = Classify(in.Message, in.Stack)
	}
	severity := opts.Severity
	if !severity.Valid() {
		severity = ClassifySeverity(in.Message, ctx)
	}
	recoverable := true
	if opts.Recoverable != nil {
		recoverable = *opts.Recoverable
	}
	impact := opts.UserImpact
	if impact == "" {
		impact = "unknown"
	}

	tags := make([]string, 0, len(opts.Tags)+2)
	for _, tag := range opts.Tags {
		if tag != "" {
			tags = append(tags, tag)
		}
	}
	tags = append(tags, string(category), string(severity))

	rec := types.ErrorRecord{
		ID:          "error_" + ulid.Make().String(),
		Name:        in.Name,
		Message:     in.Message,
		Stack:       in.Stack,
		File:        in.File,
		Line:        in.Line,
		Fingerprint: Fingerprint(in),
		Category:    category,
		Severity:    severity,
		Recoverable: recoverable,
		UserImpact:  impact,
		Tags:        tags,
		Context:     copyContext(ctx),
	}

	t.mu.Lock()
	rec.Timestamp = t.now()
	t.records = append(t.records, rec)
	if over := len(t.records) - t.maxErrors; over > 0 {
		t.records = append(t.records[:0:0], t.records[over:]...)
	}
	if rec.Timestamp.Sub(t.lastSweep) >= t.sweepEvery {
		t.sweepLocked(rec.Timestamp.Add(-t.maxAge))
	}
	alert, fire := t.updatePatternLocked(rec)
	listeners := append([]func(types.PatternAlert){}, t.listeners...)
	t.mu.Unlock()

	metrics.ErrorsTracked.Add(1)
	t.logger.Warn("tracker: error tracked",
		"id", rec.ID,
		"category", rec.Category,
		"severity", rec.Severity,
		"fingerprint", rec.Fingerprint,
		"message", rec.Message,
	)
	if t.counter != nil {
		tagset := map[string]string{"category": string(category), "severity": string(severity)}
		if err := t.counter.Increment("errors.total", 1, tagset); err != nil {
			t.logger.Warn("tracker: counting error", "error", err)
		}
	}

	if fire {
		metrics.PatternsDetected.Add(1)
		t.logger.Warn("tracker: error pattern detected",
			"pattern", alert.Fingerprint,
			"count", alert.Count,
			"window", alert.Window,
			"category", rec.Category,
			"severity", rec.Severity,
		)
		for _, fn := range listeners {
			t.notify(fn, alert)
		}
	}
	return rec.ID, nil
}

func (t *Tracker) notify(fn func(types.PatternAlert), alert types.PatternAlert) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("tracker: pattern listener panicked", "pattern", alert.Fingerprint, "panic", r)
		}
	}()
	fn(alert)
}

// updatePatternLocked bumps the bucket for rec and reports whether the
// bucket is at or above threshold within the current window.
func (t *Tracker) updatePatternLocked(rec types.ErrorRecord) (types.PatternAlert, bool) {
	now := rec.Timestamp
	b, ok := t.patterns[rec.Fingerprint]
	if !ok {
		b = &bucket{first: now, windowStart: now}
		t.patterns[rec.Fingerprint] = b
	}
	if now.Sub(b.windowStart) > t.window {
		b.windowStart = now
		b.windowCount = 0
	}
	b.count++
	b.windowCount++
	b.last = now
	b.ids = append(b.ids, rec.ID)
	if over := len(b.ids) - t.maxPatternIDs; over > 0 {
		b.ids = append(b.ids[:0:0], b.ids[over:]...)
	}

	if b.windowCount < t.threshold {
		return types.PatternAlert{}, false
	}
	return types.PatternAlert{
		Fingerprint: rec.Fingerprint,
		Count:       b.windowCount,
		Window:      t.window,
		Sample:      rec,
	}, true
}

// TrackError records a Go error.
func (t *Tracker) TrackError(err error, ctx map[string]any, opts TrackOptions) (string, error) {
	if err == nil {
		return "", ErrEmptyEvent
	}
	return t.Track(FromError(err), ctx, opts)
}

// RequestInfo describes a failed outbound request.
type RequestInfo struct {
	URL        string
	Method     string
	Status     int
	StatusText string
	Timeout    time.Duration
}

// TrackNetwork records a network failure graded by HTTP status.
func (t *Tracker) TrackNetwork(err error, req RequestInfo) (string, error) {
	in := FromError(err)
	if err == nil {
		in = ErrorInput{Name: "NetworkError", Message: fmt.Sprintf("request to %s failed with status %d", req.URL, req.Status)}
	}
	ctx := map[string]any{
		"type":       "network_error",
		"url":        req.URL,
		"method":     req.Method,
		"status":     req.Status,
		"statusText": req.StatusText,
	}
	if req.Timeout > 0 {
		ctx["timeout"] = req.Timeout.String()
	}
	return t.Track(in, ctx, TrackOptions{
		Category: types.CategoryNetwork,
		Severity: NetworkSeverity(req.Status),
		Tags:     []string{"network", "api", strings.ToLower(req.Method)},
	})
}

// TrackValidation records a low severity validation failure on field.
func (t *Tracker) TrackValidation(field, message string, value any, ctx map[string]any) (string, error) {
	merged := map[string]any{"type": "validation_error", "field": field, "value": value}
	for k, v := range ctx {
		merged[k] = v
	}
	return t.Track(ErrorInput{
		Name:    "ValidationError",
		Message: fmt.Sprintf("Validation error in field '%s': %s", field, message),
	}, merged, TrackOptions{
		Category:   types.CategoryValidation,
		Severity:   types.SeverityLow,
		UserImpact: "form_submission_blocked",
		Tags:       []string{"validation", "form", field},
	})
}

// TrackPerformance records an operation that exceeded its time budget.
func (t *Tracker) TrackPerformance(operation string, duration, threshold time.Duration, ctx map[string]any) (string, error) {
	d := float64(duration) / float64(time.Millisecond)
	th := float64(threshold) / float64(time.Millisecond)
	merged := map[string]any{"type": "performance_error", "operation": operation, "durationMs": d, "thresholdMs": th}
	if th > 0 {
		merged["slowRatio"] = d / th
	}
	for k, v := range ctx {
		merged[k] = v
	}
	return t.Track(ErrorInput{
		Name:    "PerformanceError",
		Message: fmt.Sprintf("Performance issue: %s took %.0fms (threshold: %.0fms)", operation, d, th),
	}, merged, TrackOptions{
		Category:   types.CategoryPerformance,
		Severity:   PerformanceSeverity(d, th),
		UserImpact: "slow_response",
		Tags:       []string{"performance", "slow", operation},
	})
}

// RecoveryInfo describes a recovery attempt. Success defaults to true.
type RecoveryInfo struct {
	Method   string
	Success  *bool
	Duration time.Duration
	Details  string
}

// MarkRecovered attaches recovery information to a tracked error. It
// reports whether id was found.
func (t *Tracker) MarkRecovered(id string, info RecoveryInfo) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := len(t.records) - 1; i >= 0; i-- {
		if t.records[i].ID != id {
			continue
		}
		method := info.Method
		if method == "" {
			method = "unknown"
		}
		success := true
		if info.Success != nil {
			success = *info.Success
		}
		t.records[i].Recovery = &types.Recovery{
			Method:    method,
			Success:   success,
			Duration:  info.Duration,
			Details:   info.Details,
			Timestamp: t.now(),
		}
		t.logger.Info("tracker: error recovered", "id", id, "method", method, "success", success)
		return true
	}
	return false
}

// Get returns a copy of the record with id.
func (t *Tracker) Get(id string) (types.ErrorRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.records) - 1; i >= 0; i-- {
		if t.records[i].ID == id {
			return copyRecord(t.records[i]), true
		}
	}
	return types.ErrorRecord{}, false
}

// Cleanup drops records and patterns older than maxAge. A non-positive
// maxAge uses the tracker's MaxAge.
func (t *Tracker) Cleanup(maxAge time.Duration) {
	if maxAge <= 0 {
		maxAge = t.maxAge
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sweepLocked(t.now().Add(-maxAge))
}

func (t *Tracker) sweepLocked(cutoff time.Time) {
	t.lastSweep = t.now()
	kept := t.records[:0:0]
	for _, r := range t.records {
		if r.Timestamp.After(cutoff) {
			kept = append(kept, r)
		}
	}
	if len(kept) != len(t.records) {
		t.logger.Debug("tracker: aged records evicted", "count", len(t.records)-len(kept))
	}
	t.records = kept
	for fp, b := range t.patterns {
		if b.last.Before(cutoff) {
			delete(t.patterns, fp)
		}
	}
}

// Start sweeps aged records and pattern buckets every CleanupInterval
// until Stop is called or ctx is cancelled.
func (t *Tracker) Start(ctx context.Context) {
	ctx, t.cancel = context.WithCancel(ctx)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.logger.Info("tracker started", "cleanupInterval", t.sweepEvery, "maxAge", t.maxAge)

		ticker := time.NewTicker(t.sweepEvery)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.Cleanup(0)
			}
		}
	}()
}

// Stop halts the cleanup loop and waits for it to exit.
func (t *Tracker) Stop(ctx context.Context) {
	if t.cancel != nil {
		t.cancel()
	}

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.logger.Info("tracker stopped")
	case <-ctx.Done():
		t.logger.Warn("tracker stop timed out")
	}
}

func copyRecord(r types.ErrorRecord) types.ErrorRecord {
	r.Tags = append([]string(nil), r.Tags...)
	r.Context = copyContext(r.Context)
	if r.Recovery != nil {
		rc := *r.Recovery
		r.Recovery = &rc
	}
	return r
}

func copyContext(ctx map[string]any) map[string]any {
	if len(ctx) == 0 {
		return nil
	}
	out := make(map[string]any, len(ctx))
	for k, v := range ctx {
		out[k] = v
	}
	return out
}
