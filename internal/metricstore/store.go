// Package metricstore records typed, bounded time-series and derives
// rolling statistics from them.
package metricstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/dwsmith1983/tripwire/internal/metrics"
	"github.com/dwsmith1983/tripwire/pkg/types"
)

// Store defaults.
const (
	DefaultRetention            = 5 * time.Minute
	DefaultMaxSamples           = 300
	DefaultSubscriptionInterval = time.Second
)

// Input errors. Producers receive these instead of panics.
var (
	ErrInvalidName  = errors.New("metricstore: invalid metric name")
	ErrInvalidValue = errors.New("metricstore: invalid metric value")
	ErrInvalidKind  = errors.New("metricstore: invalid metric kind")
)

// Options configures a Store.
type Options struct {
	Retention            time.Duration
	MaxSamples           int
	SubscriptionInterval time.Duration
	Now                  func() time.Time
	Logger               *slog.Logger
}

// OptionsFromConfig converts the YAML metrics section into Options.
func OptionsFromConfig(cfg types.MetricsConfig) Options {
	return Options{
		Retention:            types.ParseDurationOr(cfg.Retention, DefaultRetention),
		MaxSamples:           cfg.MaxSamples,
		SubscriptionInterval: types.ParseDurationOr(cfg.SubscriptionInterval, DefaultSubscriptionInterval),
	}
}

// MetricOptions describes a metric at registration.
type MetricOptions struct {
	Description string
	Unit        string
	Tags        map[string]string
	// Aggregation selects Stats.Value: latest, avg, sum, min, max, median,
	// p95, p99 or count.
	Aggregation string
}

type series struct {
	name        string
	kind        types.MetricKind
	description string
	unit        string
	tags        map[string]string
	aggregation string
	samples     []types.Sample
}

// Store is a concurrency-safe in-memory metric store. Readers always
// receive copies.
type Store struct {
	mu         sync.Mutex
	series     map[string]*series
	subs       map[string]*subscription
	collectors map[string]*collector

	retention  time.Duration
	maxSamples int
	interval   time.Duration
	now        func() time.Time
	logger     *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Store.
func New(opts Options) *Store {
	s := &Store{
		series:     make(map[string]*series),
		subs:       make(map[string]*subscription),
		collectors: make(map[string]*collector),
		retention:  opts.Retention,
		maxSamples: opts.MaxSamples,
		interval:   opts.SubscriptionInterval,
		now:        opts.Now,
		logger:     opts.Logger,
	}
	if s.retention <= 0 {
		s.retention = DefaultRetention
	}
	if s.maxSamples <= 0 {
		s.maxSamples = DefaultMaxSamples
	}
	if s.interval <= 0 {
		s.interval = DefaultSubscriptionInterval
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// validName rejects empty names and names containing whitespace or
// control characters.
func validName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return false
		}
	}
	return true
}

func validValue(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// RegisterMetric declares a metric. Re-registering keeps existing samples
// and replaces the metadata.
func (s *Store) RegisterMetric(name string, kind types.MetricKind, opts MetricOptions) error {
	if !validName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sr, ok := s.series[name]
	if !ok {
		sr = &series{name: name}
		s.series[name] = sr
	}
	sr.kind = kind
	sr.description = opts.Description
	sr.unit = opts.Unit
	sr.tags = copyTags(opts.Tags)
	sr.aggregation = opts.Aggregation
	return nil
}

// Record appends a sample, registering name as a gauge on first write.
func (s *Store) Record(name string, value float64, tags map[string]string) error {
	return s.write(name, types.KindGauge, tags, func(_ *series, _ float64, _ bool) (float64, error) {
		return value, nil
	})
}

// SetGauge is Record for gauges.
func (s *Store) SetGauge(name string, value float64, tags map[string]string) error {
	return s.Record(name, value, tags)
}

// ObserveHistogram records a distribution sample, registering name as a
// histogram on first write.
func (s *Store) ObserveHistogram(name string, value float64, tags map[string]string) error {
	return s.write(name, types.KindHistogram, tags, func(_ *series, _ float64, _ bool) (float64, error) {
		return value, nil
	})
}

// Increment records last+delta, registering name as a counter on first
// write. Counters reject negative deltas.
func (s *Store) Increment(name string, delta float64, tags map[string]string) error {
	return s.write(name, types.KindCounter, tags, func(sr *series, last float64, _ bool) (float64, error) {
		if sr.kind == types.KindCounter && delta < 0 {
			return 0, fmt.Errorf("%w: negative counter delta %v", ErrInvalidValue, delta)
		}
		return last + delta, nil
	})
}

// StartTimer returns a stop function that records the elapsed milliseconds
// to a timer metric and returns the elapsed duration.
func (s *Store) StartTimer(name string, tags map[string]string) func() time.Duration {
	start := s.now()
	return func() time.Duration {
		elapsed := s.now().Sub(start)
		if err := s.recordTimer(name, elapsed, tags); err != nil {
			s.logger.Warn("metricstore: timer dropped", "metric", name, "error", err)
		}
		return elapsed
	}
}

// Measure times fn, records the duration to name and increments
// name_success or name_error. The error from fn is returned unchanged.
func (s *Store) Measure(name string, fn func() error) error {
	stop := s.StartTimer(name, nil)
	err := fn()
	stop()

	outcome := name + "_success"
	if err != nil {
		outcome = name + "_error"
	}
	if ierr := s.Increment(outcome, 1, nil); ierr != nil {
		s.logger.Warn("metricstore: measure counter dropped", "metric", outcome, "error", ierr)
	}
	return err
}

func (s *Store) recordTimer(name string, elapsed time.Duration, tags map[string]string) error {
	ms := float64(elapsed) / float64(time.Millisecond)
	return s.write(name, types.KindTimer, tags, func(_ *series, _ float64, _ bool) (float64, error) {
		return ms, nil
	})
}

// write validates, computes the new value under the lock, appends, prunes,
// and notifies subscribers after releasing the lock.
func (s *Store) write(name string, implicit types.MetricKind, tags map[string]string, next func(sr *series, last float64, hasLast bool) (float64, error)) error {
	if !validName(name) {
		metrics.SamplesRejected.Add(1)
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	s.mu.Lock()
	sr, ok := s.series[name]
	if !ok {
		sr = &series{name: name, kind: implicit}
	}

	var last float64
	hasLast := len(sr.samples) > 0
	if hasLast {
		last = sr.samples[len(sr.samples)-1].Value
	}
	value, err := next(sr, last, hasLast)
	if err == nil && !validValue(value) {
		err = fmt.Errorf("%w: %v", ErrInvalidValue, value)
	}
	if err != nil {
		s.mu.Unlock()
		metrics.SamplesRejected.Add(1)
		return err
	}

	if !ok {
		s.series[name] = sr
	}

	now := s.now()
	if hasLast {
		if prev := sr.samples[len(sr.samples)-1].Timestamp; now.Before(prev) {
			now = prev
		}
	}
	sample := types.Sample{Value: value, Timestamp: now, Tags: copyTags(tags)}
	sr.samples = append(sr.samples, sample)
	s.pruneLocked(sr, now)

	pending := s.matchSubscribersLocked(name, sample)
	s.mu.Unlock()

	metrics.SamplesRecorded.Add(1)
	s.deliver(pending)
	return nil
}

// pruneLocked drops samples older than the retention window and trims to
// the max sample count.
func (s *Store) pruneLocked(sr *series, now time.Time) {
	cutoff := now.Add(-s.retention)
	drop := 0
	for drop < len(sr.samples) && sr.samples[drop].Timestamp.Before(cutoff) {
		drop++
	}
	if extra := len(sr.samples) - drop - s.maxSamples; extra > 0 {
		drop += extra
	}
	if drop > 0 {
		sr.samples = append(sr.samples[:0:0], sr.samples[drop:]...)
	}
}

// Prune applies retention to every metric.
func (s *Store) Prune() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for _, sr := range s.series {
		s.pruneLocked(sr, now)
	}
}

// CurrentValue returns the latest in-retention sample value.
func (s *Store) CurrentValue(name string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sr, ok := s.series[name]
	if !ok {
		return 0, false
	}
	s.pruneLocked(sr, s.now())
	if len(sr.samples) == 0 {
		return 0, false
	}
	return sr.samples[len(sr.samples)-1].Value, true
}

// StatsOptions scopes a Stats query.
type StatsOptions struct {
	// Range limits samples to timestamp >= now-Range. Zero means the whole
	// retention window.
	Range       time.Duration
	Aggregation string
}

// Stats aggregates samples inside the requested range. Unknown metrics and
// empty ranges yield a zero Count and a nil Value.
func (s *Store) Stats(name string, opts StatsOptions) types.Stats {
	samples, agg := s.window(name, opts.Range)
	if opts.Aggregation != "" {
		agg = opts.Aggregation
	}
	return computeStats(samples, agg)
}

// Samples returns a copy of the samples inside the range.
func (s *Store) Samples(name string, rng time.Duration) []types.Sample {
	samples, _ := s.window(name, rng)
	return samples
}

func (s *Store) window(name string, rng time.Duration) ([]types.Sample, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sr, ok := s.series[name]
	if !ok {
		return nil, ""
	}
	now := s.now()
	s.pruneLocked(sr, now)
	if rng <= 0 {
		rng = s.retention
	}
	cutoff := now.Add(-rng)
	i := sort.Search(len(sr.samples), func(i int) bool {
		return !sr.samples[i].Timestamp.Before(cutoff)
	})
	out := make([]types.Sample, len(sr.samples)-i)
	copy(out, sr.samples[i:])
	return out, sr.aggregation
}

// Filter narrows All.
type Filter struct {
	Kind types.MetricKind
	Tags map[string]string
}

// All returns summaries of every metric matching f.
func (s *Store) All(f Filter) map[string]types.MetricSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	out := make(map[string]types.MetricSummary, len(s.series))
	for name, sr := range s.series {
		if f.Kind != "" && sr.kind != f.Kind {
			continue
		}
		if !hasTags(sr.tags, f.Tags) {
			continue
		}
		s.pruneLocked(sr, now)
		out[name] = summarize(sr)
	}
	return out
}

// Names returns registered metric names in sorted order.
func (s *Store) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.series))
	for name := range s.series {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshot exports every metric with its full-window statistics.
func (s *Store) Snapshot() types.MetricsSnapshot {
	all := s.All(Filter{})
	snap := types.MetricsSnapshot{
		Timestamp: s.now(),
		Metrics:   all,
		Stats:     make(map[string]types.Stats, len(all)),
	}
	for name := range all {
		snap.Stats[name] = s.Stats(name, StatsOptions{})
	}
	s.mu.Lock()
	snap.Subscriptions = len(s.subs)
	snap.Collectors = len(s.collectors)
	s.mu.Unlock()
	return snap
}

func summarize(sr *series) types.MetricSummary {
	sum := types.MetricSummary{
		Name:        sr.name,
		Kind:        sr.kind,
		Unit:        sr.unit,
		Description: sr.description,
		Tags:        copyTags(sr.tags),
		Samples:     len(sr.samples),
	}
	if n := len(sr.samples); n > 0 {
		v := sr.samples[n-1].Value
		sum.Current = &v
		sum.LastUpdated = sr.samples[n-1].Timestamp
	}
	return sum
}

func hasTags(have, want map[string]string) bool {
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}
	return true
}

func copyTags(tags map[string]string) map[string]string {
	if len(tags) == 0 {
		return nil
	}
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		out[k] = v
	}
	return out
}

// RegisterDefaults declares the standard process metrics and installs the
// runtime collector that feeds them.
func (s *Store) RegisterDefaults() {
	defaults := []struct {
		name string
		kind types.MetricKind
		opts MetricOptions
	}{
		{"system.memory.used", types.KindGauge, MetricOptions{Description: "Heap memory in use", Unit: "MB"}},
		{"system.goroutines", types.KindGauge, MetricOptions{Description: "Live goroutines"}},
		{"errors.total", types.KindCounter, MetricOptions{Description: "Tracked errors"}},
		{"performance.request.duration", types.KindTimer, MetricOptions{Description: "Request latency", Unit: "ms"}},
	}
	for _, d := range defaults {
		if err := s.RegisterMetric(d.name, d.kind, d.opts); err != nil {
			s.logger.Error("metricstore: registering default metric", "metric", d.name, "error", err)
		}
	}
	s.RegisterCollector("system", runtimeCollector, 5*time.Second)
}

func metricKey(parts ...string) string {
	return strings.Join(parts, ".")
}
