package metricstore

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/dwsmith1983/tripwire/internal/metrics"
	"github.com/dwsmith1983/tripwire/pkg/types"
)

// Update is delivered to subscribers.
type Update struct {
	Metric    string            `json:"metric"`
	Value     float64           `json:"value"`
	Tags      map[string]string `json:"tags,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	// Periodic marks updates produced by the subscription interval rather
	// than by a write.
	Periodic bool `json:"periodic"`
}

// SubscribeOptions tunes a subscription.
type SubscribeOptions struct {
	// Interval between periodic deliveries. Zero disables periodic delivery.
	// A running store shortens its tick to the smallest registered interval
	// on its next tick.
	Interval time.Duration
	// Threshold suppresses write-driven updates whose change since the last
	// notification is smaller than Threshold.
	Threshold float64
	// Aggregation picks the periodic value; defaults to latest.
	Aggregation string
}

type subscription struct {
	id           string
	names        map[string]struct{}
	callback     func(Update)
	opts         SubscribeOptions
	lastNotified map[string]float64
	lastPeriodic time.Time
}

type delivery struct {
	subID    string
	callback func(Update)
	update   Update
}

// Subscribe registers callback for updates to names and returns the
// subscription id.
func (s *Store) Subscribe(names []string, callback func(Update), opts SubscribeOptions) (string, error) {
	if callback == nil {
		return "", fmt.Errorf("metricstore: nil subscription callback")
	}
	if len(names) == 0 {
		return "", fmt.Errorf("metricstore: subscription needs at least one metric")
	}
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		if !validName(n) {
			return "", fmt.Errorf("%w: %q", ErrInvalidName, n)
		}
		set[n] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sub := &subscription{
		id:           "sub_" + ulid.Make().String(),
		names:        set,
		callback:     callback,
		opts:         opts,
		lastNotified: make(map[string]float64),
		lastPeriodic: s.now(),
	}
	s.subs[sub.id] = sub
	return sub.id, nil
}

// Unsubscribe removes a subscription. It reports whether id existed.
func (s *Store) Unsubscribe(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.subs[id]
	delete(s.subs, id)
	return ok
}

// matchSubscribersLocked applies threshold hysteresis and returns the
// deliveries to run once the lock is released.
func (s *Store) matchSubscribersLocked(name string, sample types.Sample) []delivery {
	var out []delivery
	for _, sub := range s.subs {
		if _, ok := sub.names[name]; !ok {
			continue
		}
		if last, seen := sub.lastNotified[name]; seen && sub.opts.Threshold > 0 {
			if math.Abs(sample.Value-last) < sub.opts.Threshold {
				continue
			}
		}
		sub.lastNotified[name] = sample.Value
		out = append(out, delivery{
			subID:    sub.id,
			callback: sub.callback,
			update: Update{
				Metric:    name,
				Value:     sample.Value,
				Tags:      copyTags(sample.Tags),
				Timestamp: sample.Timestamp,
			},
		})
	}
	return out
}

func (s *Store) deliver(pending []delivery) {
	for _, d := range pending {
		s.invoke(d)
	}
}

func (s *Store) invoke(d delivery) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("metricstore: subscriber panicked", "subscription", d.subID, "metric", d.update.Metric, "panic", r)
		}
	}()
	d.callback(d.update)
	metrics.SubscriberNotifications.Add(1)
}

// NotifySubscribers runs periodic deliveries that are due. The background
// loop calls it every subscription interval.
func (s *Store) NotifySubscribers() {
	s.mu.Lock()
	now := s.now()
	var pending []delivery
	for _, sub := range s.subs {
		if sub.opts.Interval <= 0 || now.Sub(sub.lastPeriodic) < sub.opts.Interval {
			continue
		}
		sub.lastPeriodic = now
		for name := range sub.names {
			sr, ok := s.series[name]
			if !ok {
				continue
			}
			s.pruneLocked(sr, now)
			if len(sr.samples) == 0 {
				continue
			}
			st := computeStats(sr.samples, sub.opts.Aggregation)
			pending = append(pending, delivery{
				subID:    sub.id,
				callback: sub.callback,
				update: Update{
					Metric:    name,
					Value:     *st.Value,
					Timestamp: now,
					Periodic:  true,
				},
			})
		}
	}
	s.mu.Unlock()
	s.deliver(pending)
}

// CollectorFunc returns gauge values keyed by suffix.
type CollectorFunc func(ctx context.Context) (map[string]float64, error)

type collector struct {
	name     string
	fn       CollectorFunc
	interval time.Duration
	lastRun  time.Time
}

// RegisterCollector installs a pull collector. Each returned key k is
// written as gauge "<name>.<k>" tagged collector=<name>.
func (s *Store) RegisterCollector(name string, fn CollectorFunc, interval time.Duration) {
	if interval <= 0 {
		interval = s.interval
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collectors[name] = &collector{name: name, fn: fn, interval: interval}
}

// RemoveCollector uninstalls a collector.
func (s *Store) RemoveCollector(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collectors, name)
}

// Collect runs every collector that is due, or all of them when force is
// set. Collector errors are logged and counted.
func (s *Store) Collect(ctx context.Context, force bool) {
	s.mu.Lock()
	now := s.now()
	var due []*collector
	for _, c := range s.collectors {
		if force || c.lastRun.IsZero() || now.Sub(c.lastRun) >= c.interval {
			c.lastRun = now
			due = append(due, c)
		}
	}
	s.mu.Unlock()

	for _, c := range due {
		values, err := c.fn(ctx)
		if err != nil {
			metrics.CollectorErrors.Add(1)
			s.logger.Warn("metricstore: collector failed", "collector", c.name, "error", err)
			continue
		}
		tags := map[string]string{"collector": c.name}
		for k, v := range values {
			if err := s.SetGauge(metricKey(c.name, k), v, tags); err != nil {
				s.logger.Warn("metricstore: collector value dropped", "collector", c.name, "key", k, "error", err)
			}
		}
	}
}

func runtimeCollector(_ context.Context) (map[string]float64, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return map[string]float64{
		"memory.used": float64(ms.HeapAlloc) / (1024 * 1024),
		"goroutines":  float64(runtime.NumGoroutine()),
	}, nil
}

// Start runs periodic subscription delivery, collectors and pruning until
// Stop is called or ctx is cancelled.
func (s *Store) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("metricstore started", "interval", s.interval)

		tick := s.tickInterval()
		ticker := time.NewTicker(tick)
		defer ticker.Stop()

		s.Collect(ctx, true)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.NotifySubscribers()
				s.Collect(ctx, false)
				s.Prune()
				if next := s.tickInterval(); next != tick {
					tick = next
					ticker.Reset(tick)
				}
			}
		}
	}()
}

// tickInterval is the store interval, shortened to the smallest positive
// subscription or collector interval.
func (s *Store) tickInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.interval
	for _, sub := range s.subs {
		if iv := sub.opts.Interval; iv > 0 && iv < d {
			d = iv
		}
	}
	for _, c := range s.collectors {
		if c.interval > 0 && c.interval < d {
			d = c.interval
		}
	}
	return d
}

// Stop halts the background loop and waits for it to exit.
func (s *Store) Stop(ctx context.Context) {
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("metricstore stopped")
	case <-ctx.Done():
		s.logger.Warn("metricstore stop timed out")
	}
}
