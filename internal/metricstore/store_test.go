package metricstore

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"pgregory.net/rapid"

	"github.com/dwsmith1983/tripwire/internal/testutil"
	"github.com/dwsmith1983/tripwire/pkg/types"
)

var start = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) (*Store, *testutil.FakeClock) {
	t.Helper()
	clock := testutil.NewFakeClock(start)
	return New(Options{Now: clock.Now}), clock
}

func TestRecord_ImplicitGauge(t *testing.T) {
	s, _ := newTestStore(t)

	require.NoError(t, s.Record("mem.used", 600, nil))

	v, ok := s.CurrentValue("mem.used")
	require.True(t, ok)
	assert.Equal(t, 600.0, v)

	all := s.All(Filter{})
	require.Contains(t, all, "mem.used")
	assert.Equal(t, types.KindGauge, all["mem.used"].Kind)
}

func TestRecord_InvalidInput(t *testing.T) {
	s, _ := newTestStore(t)

	assert.ErrorIs(t, s.Record("", 1, nil), ErrInvalidName)
	assert.ErrorIs(t, s.Record("has space", 1, nil), ErrInvalidName)
	assert.ErrorIs(t, s.Record("ok", math.NaN(), nil), ErrInvalidValue)
	assert.ErrorIs(t, s.Record("ok", math.Inf(1), nil), ErrInvalidValue)

	_, ok := s.CurrentValue("ok")
	assert.False(t, ok, "rejected writes must not create the metric")
}

func TestCurrentValue_Unknown(t *testing.T) {
	s, _ := newTestStore(t)
	_, ok := s.CurrentValue("nope")
	assert.False(t, ok)
}

func TestIncrement(t *testing.T) {
	s, clock := newTestStore(t)

	require.NoError(t, s.Increment("requests", 1, nil))
	clock.Advance(time.Second)
	require.NoError(t, s.Increment("requests", 2, nil))

	v, ok := s.CurrentValue("requests")
	require.True(t, ok)
	assert.Equal(t, 3.0, v)

	assert.ErrorIs(t, s.Increment("requests", -1, nil), ErrInvalidValue)
	v, _ = s.CurrentValue("requests")
	assert.Equal(t, 3.0, v)
	assert.Equal(t, types.KindCounter, s.All(Filter{})["requests"].Kind)
}

func TestRetention_PrunesOldSamples(t *testing.T) {
	clock := testutil.NewFakeClock(start)
	s := New(Options{Now: clock.Now, Retention: time.Minute})

	require.NoError(t, s.Record("cpu", 10, nil))
	clock.Advance(2 * time.Minute)

	_, ok := s.CurrentValue("cpu")
	assert.False(t, ok)
	assert.Equal(t, 0, s.Stats("cpu", StatsOptions{}).Count)
}

func TestMaxSamples(t *testing.T) {
	clock := testutil.NewFakeClock(start)
	s := New(Options{Now: clock.Now, MaxSamples: 3})

	for i := 1; i <= 5; i++ {
		require.NoError(t, s.Record("x", float64(i), nil))
		clock.Advance(time.Millisecond)
	}
	samples := s.Samples("x", 0)
	require.Len(t, samples, 3)
	assert.Equal(t, 3.0, samples[0].Value)
	assert.Equal(t, 5.0, samples[2].Value)
}

func TestStats_UnknownMetric(t *testing.T) {
	s, _ := newTestStore(t)

	st := s.Stats("latency", StatsOptions{Range: time.Minute})
	assert.Equal(t, 0, st.Count)
	assert.Nil(t, st.Value)
}

func TestStats_Range(t *testing.T) {
	s, clock := newTestStore(t)

	require.NoError(t, s.Record("latency", 100, nil))
	clock.Advance(90 * time.Second)
	require.NoError(t, s.Record("latency", 200, nil))
	clock.Advance(10 * time.Second)
	require.NoError(t, s.Record("latency", 300, nil))

	st := s.Stats("latency", StatsOptions{Range: time.Minute})
	assert.Equal(t, 2, st.Count)
	assert.Equal(t, 500.0, st.Sum)
	assert.Equal(t, 200.0, st.Min)
	assert.Equal(t, 300.0, st.Max)
	assert.Equal(t, 250.0, st.Avg)
	assert.Equal(t, 300.0, st.Latest)
	assert.Equal(t, 50.0, st.Trend)
	require.NotNil(t, st.Value)
	assert.Equal(t, 300.0, *st.Value)

	full := s.Stats("latency", StatsOptions{})
	assert.Equal(t, 3, full.Count)
}

func TestStats_RegisteredAggregation(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.RegisterMetric("load", types.KindGauge, MetricOptions{Aggregation: "max"}))
	require.NoError(t, s.Record("load", 4, nil))
	require.NoError(t, s.Record("load", 2, nil))

	assert.Equal(t, 4.0, *s.Stats("load", StatsOptions{}).Value)
	assert.Equal(t, 3.0, *s.Stats("load", StatsOptions{Aggregation: "avg"}).Value)
}

func TestStats_CountMatchesRange(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		clock := testutil.NewFakeClock(start)
		s := New(Options{Now: clock.Now, MaxSamples: 1000, Retention: time.Hour})

		gaps := rapid.SliceOfN(rapid.IntRange(0, 30_000), 1, 100).Draw(rt, "gapsMs")
		var stamps []time.Time
		for _, g := range gaps {
			clock.Advance(time.Duration(g) * time.Millisecond)
			if err := s.Record("m", 1, nil); err != nil {
				rt.Fatalf("record: %v", err)
			}
			stamps = append(stamps, clock.Now())
		}

		rng := time.Duration(rapid.IntRange(1, 600_000).Draw(rt, "rangeMs")) * time.Millisecond
		cutoff := clock.Now().Add(-rng)
		want := 0
		for _, ts := range stamps {
			if !ts.Before(cutoff) {
				want++
			}
		}
		if got := s.Stats("m", StatsOptions{Range: rng}).Count; got != want {
			rt.Fatalf("count %d, want %d", got, want)
		}
	})
}

func TestRecord_TimestampsMonotonic(t *testing.T) {
	s, clock := newTestStore(t)
	require.NoError(t, s.Record("m", 1, nil))
	clock.Set(start.Add(-time.Minute))
	require.NoError(t, s.Record("m", 2, nil))

	samples := s.Samples("m", time.Hour)
	require.Len(t, samples, 2)
	assert.False(t, samples[1].Timestamp.Before(samples[0].Timestamp))
}

func TestAll_Filters(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.RegisterMetric("a", types.KindCounter, MetricOptions{Tags: map[string]string{"team": "core"}}))
	require.NoError(t, s.RegisterMetric("b", types.KindGauge, MetricOptions{Tags: map[string]string{"team": "edge"}}))

	assert.Len(t, s.All(Filter{}), 2)
	assert.Len(t, s.All(Filter{Kind: types.KindCounter}), 1)
	edge := s.All(Filter{Tags: map[string]string{"team": "edge"}})
	require.Len(t, edge, 1)
	assert.Contains(t, edge, "b")
	assert.Nil(t, edge["b"].Current)
}

func TestAll_ReturnsCopies(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.RegisterMetric("a", types.KindGauge, MetricOptions{Tags: map[string]string{"k": "v"}}))

	all := s.All(Filter{})
	all["a"].Tags["k"] = "mutated"
	assert.Equal(t, "v", s.All(Filter{})["a"].Tags["k"])
}

func TestMeasure(t *testing.T) {
	s, clock := newTestStore(t)

	err := s.Measure("db.query", func() error {
		clock.Advance(25 * time.Millisecond)
		return nil
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = s.Measure("db.query", func() error { return boom })
	assert.ErrorIs(t, err, boom)

	v, ok := s.CurrentValue("db.query_success")
	require.True(t, ok)
	assert.Equal(t, 1.0, v)
	v, ok = s.CurrentValue("db.query_error")
	require.True(t, ok)
	assert.Equal(t, 1.0, v)

	st := s.Stats("db.query", StatsOptions{})
	assert.Equal(t, 2, st.Count)
	assert.Equal(t, 25.0, st.Max)
	assert.Equal(t, types.KindTimer, s.All(Filter{})["db.query"].Kind)
}

func TestStartTimer(t *testing.T) {
	s, clock := newTestStore(t)
	stop := s.StartTimer("render", nil)
	clock.Advance(40 * time.Millisecond)
	assert.Equal(t, 40*time.Millisecond, stop())

	v, ok := s.CurrentValue("render")
	require.True(t, ok)
	assert.Equal(t, 40.0, v)
}

func TestSubscribe_Threshold(t *testing.T) {
	s, _ := newTestStore(t)

	var mu sync.Mutex
	var got []float64
	id, err := s.Subscribe([]string{"temp"}, func(u Update) {
		mu.Lock()
		got = append(got, u.Value)
		mu.Unlock()
	}, SubscribeOptions{Threshold: 5})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	for _, v := range []float64{10, 12, 14, 16, 30, 31} {
		require.NoError(t, s.Record("temp", v, nil))
	}
	require.NoError(t, s.Record("other", 1, nil))

	mu.Lock()
	assert.Equal(t, []float64{10, 16, 30}, got)
	mu.Unlock()

	assert.True(t, s.Unsubscribe(id))
	assert.False(t, s.Unsubscribe(id))
	require.NoError(t, s.Record("temp", 100, nil))

	mu.Lock()
	assert.Len(t, got, 3)
	mu.Unlock()
}

func TestSubscribe_Validation(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Subscribe(nil, func(Update) {}, SubscribeOptions{})
	assert.Error(t, err)
	_, err = s.Subscribe([]string{"a"}, nil, SubscribeOptions{})
	assert.Error(t, err)
}

func TestSubscribe_PanickingCallbackIsContained(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Subscribe([]string{"x"}, func(Update) { panic("bad subscriber") }, SubscribeOptions{})
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		require.NoError(t, s.Record("x", 1, nil))
	})
}

func TestNotifySubscribers_Periodic(t *testing.T) {
	s, clock := newTestStore(t)

	var updates []Update
	_, err := s.Subscribe([]string{"rps"}, func(u Update) {
		if u.Periodic {
			updates = append(updates, u)
		}
	}, SubscribeOptions{Interval: 10 * time.Second, Aggregation: "avg"})
	require.NoError(t, err)

	require.NoError(t, s.Record("rps", 10, nil))
	require.NoError(t, s.Record("rps", 20, nil))

	s.NotifySubscribers()
	assert.Empty(t, updates, "interval has not elapsed")

	clock.Advance(10 * time.Second)
	s.NotifySubscribers()
	require.Len(t, updates, 1)
	assert.Equal(t, "rps", updates[0].Metric)
	assert.Equal(t, 15.0, updates[0].Value)
}

func TestTickInterval_FollowsShortestSubscription(t *testing.T) {
	s, _ := newTestStore(t)
	assert.Equal(t, DefaultSubscriptionInterval, s.tickInterval())

	id, err := s.Subscribe([]string{"rps"}, func(Update) {}, SubscribeOptions{Interval: 250 * time.Millisecond})
	require.NoError(t, err)
	_, err = s.Subscribe([]string{"rps"}, func(Update) {}, SubscribeOptions{Interval: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, s.tickInterval())

	s.Unsubscribe(id)
	assert.Equal(t, DefaultSubscriptionInterval, s.tickInterval())
}

func TestStartStop_FastSubscriptionDelivered(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := New(Options{SubscriptionInterval: time.Hour})
	var mu sync.Mutex
	periodic := 0
	_, err := s.Subscribe([]string{"rps"}, func(u Update) {
		if u.Periodic {
			mu.Lock()
			periodic++
			mu.Unlock()
		}
	}, SubscribeOptions{Interval: 10 * time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, s.Record("rps", 1, nil))

	s.Start(context.Background())
	testutil.WaitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return periodic > 0
	}, "periodic update delivered before the store interval")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}

func TestCollect(t *testing.T) {
	s, clock := newTestStore(t)
	calls := 0
	s.RegisterCollector("queue", func(context.Context) (map[string]float64, error) {
		calls++
		return map[string]float64{"depth": 42}, nil
	}, time.Minute)
	s.RegisterCollector("broken", func(context.Context) (map[string]float64, error) {
		return nil, errors.New("unavailable")
	}, time.Minute)

	s.Collect(context.Background(), false)
	v, ok := s.CurrentValue("queue.depth")
	require.True(t, ok)
	assert.Equal(t, 42.0, v)
	assert.Equal(t, "queue", s.All(Filter{})["queue.depth"].Tags["collector"])

	s.Collect(context.Background(), false)
	assert.Equal(t, 1, calls, "collector not due yet")

	clock.Advance(time.Minute)
	s.Collect(context.Background(), false)
	assert.Equal(t, 2, calls)

	s.RemoveCollector("queue")
	s.Collect(context.Background(), true)
	assert.Equal(t, 2, calls)
}

func TestSnapshot(t *testing.T) {
	s, _ := newTestStore(t)
	s.RegisterDefaults()
	require.NoError(t, s.Record("mem.used", 10, nil))

	snap := s.Snapshot()
	assert.Equal(t, start, snap.Timestamp)
	assert.Contains(t, snap.Metrics, "system.memory.used")
	assert.Contains(t, snap.Metrics, "errors.total")
	assert.Equal(t, 1, snap.Stats["mem.used"].Count)
	assert.Equal(t, 1, snap.Collectors)
}

func TestStartStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := New(Options{SubscriptionInterval: 10 * time.Millisecond})
	var mu sync.Mutex
	collected := 0
	s.RegisterCollector("heartbeat", func(context.Context) (map[string]float64, error) {
		mu.Lock()
		collected++
		mu.Unlock()
		return map[string]float64{"up": 1}, nil
	}, 10*time.Millisecond)

	s.Start(context.Background())
	testutil.WaitFor(t, 2*time.Second, func() bool {
		_, ok := s.CurrentValue("heartbeat.up")
		return ok
	}, "collector ran")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}

func TestConcurrentWrites(t *testing.T) {
	s := New(Options{MaxSamples: 10_000})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = s.Increment("hits", 1, nil)
				_ = s.Stats("hits", StatsOptions{})
			}
		}()
	}
	wg.Wait()

	v, ok := s.CurrentValue("hits")
	require.True(t, ok)
	assert.Equal(t, 800.0, v)
}
