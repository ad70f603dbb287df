// Package dispatch delivers alerts to channels through a bounded queue
// drained by a pool of workers.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dwsmith1983/tripwire/internal/channel"
	"github.com/dwsmith1983/tripwire/internal/metrics"
	"github.com/dwsmith1983/tripwire/pkg/types"
)

// Runner defaults.
const (
	DefaultQueueSize = 256
	DefaultWorkers   = 4
)

// Options configures a Runner.
type Options struct {
	QueueSize int
	Workers   int
	// Timeout bounds a send on channels that do not set their own.
	Timeout time.Duration
	Now     func() time.Time
	Logger  *slog.Logger
}

// OptionsFromConfig converts the engine config section into Options.
func OptionsFromConfig(cfg types.EngineConfig) Options {
	return Options{QueueSize: cfg.QueueSize, Workers: cfg.Workers}
}

type task struct {
	alert   types.Alert
	channel channel.Channel
}

// Result is the outcome of one delivery attempt.
type Result struct {
	Channel string
	AlertID string
	Err     error
	At      time.Time
}

// Runner owns the dispatch queue, its workers and per-channel counters.
type Runner struct {
	channels map[string]channel.Channel
	queue    chan task
	workers  int
	timeout  time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu      sync.Mutex
	stats   map[string]*types.ChannelStats
	pending int
	stopped bool

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
}

// New creates a Runner over channels, keyed by channel name. Later
// channels with a duplicate name replace earlier ones.
func New(channels []channel.Channel, opts Options) *Runner {
	r := &Runner{
		channels: make(map[string]channel.Channel, len(channels)),
		stats:    make(map[string]*types.ChannelStats, len(channels)),
		workers:  opts.Workers,
		timeout:  opts.Timeout,
		now:      opts.Now,
		logger:   opts.Logger,
	}
	size := opts.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	if r.workers <= 0 {
		r.workers = DefaultWorkers
	}
	if r.timeout <= 0 {
		r.timeout = channel.DefaultTimeout
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.queue = make(chan task, size)
	for _, ch := range channels {
		r.channels[ch.Name()] = ch
		r.stats[ch.Name()] = &types.ChannelStats{}
	}
	return r
}

// Names returns the registered channel names, sorted.
func (r *Runner) Names() []string {
	names := make([]string, 0, len(r.channels))
	for n := range r.channels {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Has reports whether a channel named name is registered.
func (r *Runner) Has(name string) bool {
	_, ok := r.channels[name]
	return ok
}

// Enqueue schedules alert for delivery on each named channel and returns
// how many deliveries were queued. It never blocks: when the queue is full
// the delivery is dropped and counted, as it is once the Runner has been
// stopped. Unknown channels and channels whose
// severity filter rejects the alert are skipped.
func (r *Runner) Enqueue(alert types.Alert, channels []string) int {
	queued := 0
	for _, name := range channels {
		ch, ok := r.channels[name]
		if !ok {
			r.logger.Warn("dispatch: unknown channel", "channel", name, "alert", alert.ID)
			continue
		}
		if !channel.Accepts(ch, alert) {
			continue
		}

		r.mu.Lock()
		if r.stopped {
			r.stats[name].Dropped++
			r.mu.Unlock()
			metrics.DispatchDropped.Add(1)
			r.logger.Warn("dispatch: runner stopped, alert dropped", "channel", name, "alert", alert.ID)
			continue
		}
		select {
		case r.queue <- task{alert: alert, channel: ch}:
			r.pending++
			queued++
			r.mu.Unlock()
		default:
			r.stats[name].Dropped++
			r.mu.Unlock()
			metrics.DispatchDropped.Add(1)
			r.logger.Warn("dispatch: queue full, alert dropped", "channel", name, "alert", alert.ID)
		}
	}
	return queued
}

// Start launches the workers and the result counter. Calling Start on a
// running Runner is a no-op.
func (r *Runner) Start(ctx context.Context) {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()
	if r.cancel != nil {
		return
	}

	r.mu.Lock()
	r.stopped = false
	r.mu.Unlock()

	ctx, r.cancel = context.WithCancel(ctx)
	results := make(chan Result, r.workers)
	r.done = make(chan struct{})

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < r.workers; i++ {
		g.Go(func() error {
			r.work(gctx, results)
			return nil
		})
	}

	go func() {
		_ = g.Wait()
		close(results)
	}()
	done := r.done
	go func() {
		defer close(done)
		for res := range results {
			r.record(res)
		}
		r.dropQueued()
	}()

	r.logger.Info("dispatch: started", "workers", r.workers, "queue", cap(r.queue), "channels", len(r.channels))
}

// Stop cancels the workers and waits for them to exit or for ctx to expire.
// Deliveries still queued are counted as dropped.
func (r *Runner) Stop(ctx context.Context) {
	r.lifecycle.Lock()
	cancel, done := r.cancel, r.done
	r.cancel = nil
	r.lifecycle.Unlock()
	if cancel == nil {
		return
	}
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()
	cancel()

	select {
	case <-done:
		r.logger.Info("dispatch: stopped")
	case <-ctx.Done():
		r.logger.Warn("dispatch: stop timed out")
	}
}

func (r *Runner) work(ctx context.Context, results chan<- Result) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-r.queue:
			results <- r.send(ctx, t)
		}
	}
}

func (r *Runner) send(ctx context.Context, t task) (res Result) {
	res = Result{Channel: t.channel.Name(), AlertID: t.alert.ID}
	defer func() {
		if p := recover(); p != nil {
			res.Err = fmt.Errorf("channel panicked: %v", p)
		}
		res.At = r.now()
	}()

	sctx, cancel := context.WithTimeout(ctx, channel.TimeoutOf(t.channel, r.timeout))
	defer cancel()
	res.Err = t.channel.Send(sctx, t.alert)
	return res
}

func (r *Runner) record(res Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending--

	st := r.stats[res.Channel]
	if st == nil {
		st = &types.ChannelStats{}
		r.stats[res.Channel] = st
	}
	if res.Err != nil {
		st.Failed++
		st.LastError = res.Err.Error()
		metrics.DispatchFailed.Add(1)
		r.logger.Warn("dispatch: send failed", "channel", res.Channel, "alert", res.AlertID, "error", res.Err)
		return
	}
	st.Sent++
	st.LastSentAt = res.At
	metrics.DispatchSucceeded.Add(1)
}

func (r *Runner) dropQueued() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for {
		select {
		case t := <-r.queue:
			r.pending--
			r.stats[t.channel.Name()].Dropped++
			metrics.DispatchDropped.Add(1)
		default:
			return
		}
	}
}

// Stats returns a copy of the per-channel counters.
func (r *Runner) Stats() map[string]types.ChannelStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]types.ChannelStats, len(r.stats))
	for name, st := range r.stats {
		out[name] = *st
	}
	return out
}

// Pending returns the number of queued or in-flight deliveries.
func (r *Runner) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending
}

// Flush waits until every queued delivery has completed or ctx expires.
func (r *Runner) Flush(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		if r.Pending() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("flushing dispatch queue: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}
