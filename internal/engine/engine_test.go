package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"pgregory.net/rapid"

	"github.com/dwsmith1983/tripwire/internal/channel"
	"github.com/dwsmith1983/tripwire/internal/dispatch"
	"github.com/dwsmith1983/tripwire/internal/metricstore"
	"github.com/dwsmith1983/tripwire/internal/store"
	"github.com/dwsmith1983/tripwire/internal/testutil"
	"github.com/dwsmith1983/tripwire/internal/tracker"
	"github.com/dwsmith1983/tripwire/pkg/types"
)

var start = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type recordingDispatcher struct {
	mu    sync.Mutex
	sent  []types.Alert
	sends [][]string
}

func (d *recordingDispatcher) Enqueue(a types.Alert, channels []string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, a)
	d.sends = append(d.sends, append([]string(nil), channels...))
	return len(channels)
}

func (d *recordingDispatcher) Stats() map[string]types.ChannelStats {
	return map[string]types.ChannelStats{"log": {Sent: int64(len(d.Sent()))}}
}

func (d *recordingDispatcher) Sent() []types.Alert {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]types.Alert(nil), d.sent...)
}

type fixture struct {
	clock   *testutil.FakeClock
	metrics *metricstore.Store
	tracker *tracker.Tracker
	disp    *recordingDispatcher
	engine  *Engine
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(mutate ...func(*Options)) *fixture {
	clock := testutil.NewFakeClock(start)
	f := &fixture{
		clock:   clock,
		metrics: metricstore.New(metricstore.Options{Now: clock.Now, Logger: discardLogger()}),
		tracker: tracker.New(tracker.Options{PatternThreshold: 3, Now: clock.Now, Logger: discardLogger()}),
		disp:    &recordingDispatcher{},
	}
	opts := Options{
		Metrics:         f.metrics,
		Errors:          f.tracker,
		Dispatcher:      f.disp,
		DefaultChannels: []string{"log"},
		Now:             clock.Now,
		Logger:          discardLogger(),
	}
	for _, m := range mutate {
		m(&opts)
	}
	f.engine = New(opts)
	return f
}

func always(View) (bool, error) { return true, nil }

func TestEngine_ScenarioA(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.engine.CreateRule(Rule{
		Name:        "high_memory",
		Condition:   Threshold{Metric: "mem.used", Op: types.OpGreater, Value: 500},
		Severity:    types.SeverityHigh,
		Suppression: 60 * time.Second,
	}))
	require.NoError(t, f.metrics.Record("mem.used", 600, nil))

	res := f.engine.Tick(context.Background())
	assert.Equal(t, 1, res.Fired)

	active := f.engine.Active(AlertFilter{})
	require.Len(t, active, 1)
	assert.Equal(t, types.SeverityHigh, active[0].Severity)
	assert.Equal(t, "high_memory", active[0].Rule)
	assert.Equal(t, "rule_high_memory", active[0].SuppressionKey)
	assert.Equal(t, "Alert: high_memory", active[0].Title)
	assert.Equal(t, []string{"log"}, active[0].Channels)

	res = f.engine.Tick(context.Background())
	assert.Equal(t, 0, res.Fired)
	assert.Equal(t, 1, res.Suppressed)
	assert.Len(t, f.engine.Active(AlertFilter{}), 1)
	assert.Len(t, f.disp.Sent(), 1)

	f.clock.Advance(60 * time.Second)
	require.NoError(t, f.metrics.Record("mem.used", 650, nil))
	res = f.engine.Tick(context.Background())
	assert.Equal(t, 1, res.Fired)
	assert.Len(t, f.engine.Active(AlertFilter{}), 2)
}

func TestEngine_ThresholdMissingMetricDoesNotFire(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.engine.CreateRule(Rule{
		Name:      "low_fps",
		Condition: Threshold{Metric: "fps", Op: types.OpLess, Value: 30},
	}))
	res := f.engine.Tick(context.Background())
	assert.Equal(t, 1, res.Evaluated)
	assert.Equal(t, 0, res.Fired)
}

func TestEngine_SuppressionHoldsForEveryTick(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		d := time.Duration(rapid.IntRange(1, 600).Draw(rt, "suppressionSeconds")) * time.Second
		steps := rapid.SliceOfN(rapid.IntRange(1, 120), 1, 40).Draw(rt, "stepSeconds")

		f := newFixture()
		if err := f.engine.CreateRule(Rule{Name: "always", Condition: Custom{Predicate: always}, Suppression: d}); err != nil {
			rt.Fatalf("create rule: %v", err)
		}
		if res := f.engine.Tick(context.Background()); res.Fired != 1 {
			rt.Fatalf("first tick fired %d alerts", res.Fired)
		}
		lastFire := f.clock.Now()

		for _, s := range steps {
			f.clock.Advance(time.Duration(s) * time.Second)
			now := f.clock.Now()
			want := 0
			if now.Sub(lastFire) >= d {
				want = 1
				lastFire = now
			}
			if res := f.engine.Tick(context.Background()); res.Fired != want {
				rt.Fatalf("at +%s fired %d, want %d (suppression %s)", now.Sub(start), res.Fired, want, d)
			}
		}
	})
}

func TestEngine_RateCondition(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.engine.CreateRule(Rule{
		Name:      "error_rate",
		Condition: Rate{Metric: "errors.total", Op: types.OpGreater, Value: 10, Window: time.Minute},
	}))

	for i := 0; i < 10; i++ {
		require.NoError(t, f.metrics.Increment("errors.total", 1, nil))
	}
	assert.Equal(t, 0, f.engine.Tick(context.Background()).Fired)

	require.NoError(t, f.metrics.Increment("errors.total", 1, nil))
	assert.Equal(t, 1, f.engine.Tick(context.Background()).Fired)
}

func TestEngine_RateWindowScalesPerMinute(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.engine.CreateRule(Rule{
		Name:      "slow_rate",
		Condition: Rate{Metric: "requests", Op: types.OpGreaterEqual, Value: 3, Window: 2 * time.Minute},
	}))
	for i := 0; i < 5; i++ {
		require.NoError(t, f.metrics.Increment("requests", 1, nil))
	}
	// 5 samples over 2 minutes is 2.5 per minute.
	assert.Equal(t, 0, f.engine.Tick(context.Background()).Fired)

	require.NoError(t, f.metrics.Increment("requests", 1, nil))
	assert.Equal(t, 1, f.engine.Tick(context.Background()).Fired)
}

func TestEngine_DefaultRules(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.engine.RegisterDefaultRules())

	names := make([]string, 0)
	for _, r := range f.engine.Rules() {
		names = append(names, r.Name)
		assert.True(t, r.Enabled)
	}
	assert.Equal(t, []string{"critical_errors", "high_error_rate", "high_memory_usage", "poor_performance"}, names)

	_, err := f.tracker.Track(tracker.ErrorInput{Name: "Error", Message: "disk gone"}, nil,
		tracker.TrackOptions{Severity: types.SeverityCritical})
	require.NoError(t, err)

	res := f.engine.Tick(context.Background())
	assert.Equal(t, 1, res.Fired)
	alerts := f.engine.Active(AlertFilter{Severity: types.SeverityCritical})
	require.Len(t, alerts, 1)
	assert.Equal(t, "critical_errors", alerts[0].Rule)
	assert.Equal(t, types.CategoryErrorRate, alerts[0].Category)
}

func TestEngine_PatternBridge(t *testing.T) {
	f := newFixture()
	for i := 0; i < 3; i++ {
		_, err := f.tracker.Track(tracker.ErrorInput{Name: "Error", Message: "x failed at 42"}, nil, tracker.TrackOptions{})
		require.NoError(t, err)
	}
	fp := tracker.Fingerprint(tracker.ErrorInput{Name: "Error", Message: "x failed at 1"})

	res := f.engine.Tick(context.Background())
	assert.Equal(t, 1, res.Patterns)

	alerts := f.engine.Active(AlertFilter{Category: types.CategoryErrorPattern})
	require.Len(t, alerts, 1)
	assert.Equal(t, "pattern_"+fp, alerts[0].SuppressionKey)
	assert.Equal(t, SourcePattern, alerts[0].Rule)
	assert.Equal(t, fp, alerts[0].Metadata["fingerprint"])
	assert.True(t, f.engine.IsSuppressed("pattern_"+fp))

	// Same pattern again inside the suppression period.
	f.clock.Advance(time.Minute)
	for i := 0; i < 3; i++ {
		_, err := f.tracker.Track(tracker.ErrorInput{Name: "Error", Message: "x failed at 7"}, nil, tracker.TrackOptions{})
		require.NoError(t, err)
	}
	res = f.engine.Tick(context.Background())
	assert.Equal(t, 0, res.Patterns)
	assert.Len(t, f.engine.Active(AlertFilter{Category: types.CategoryErrorPattern}), 1)
}

func TestEngine_ErrorPatternCondition(t *testing.T) {
	f := newFixture()
	cond, err := ConditionFromConfig(types.ConditionConfig{Type: types.ConditionErrorPattern})
	require.NoError(t, err)
	require.NoError(t, f.engine.CreateRule(Rule{Name: "patterns", Condition: cond}))

	assert.Equal(t, 0, f.engine.Tick(context.Background()).Fired)
	for i := 0; i < 3; i++ {
		_, err := f.tracker.Track(tracker.ErrorInput{Name: "Error", Message: "timeout"}, nil, tracker.TrackOptions{})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, f.engine.Tick(context.Background()).Fired)
}

func TestEngine_EscalationFiresAtMostOnce(t *testing.T) {
	f := newFixture()
	id, err := f.engine.TriggerAlert(context.Background(), "Database down", "primary unreachable",
		AlertOptions{Severity: types.SeverityCritical})
	require.NoError(t, err)

	a, ok := f.engine.Alert(id)
	require.True(t, ok)
	require.NotNil(t, a.EscalationAt)
	assert.Equal(t, start.Add(DefaultEscalationDelay), *a.EscalationAt)

	f.clock.Advance(9 * time.Minute)
	assert.Equal(t, 0, f.engine.Tick(context.Background()).Escalated)

	f.clock.Advance(time.Minute)
	assert.Equal(t, 1, f.engine.Tick(context.Background()).Escalated)

	for i := 0; i < 5; i++ {
		f.clock.Advance(DefaultEscalationDelay)
		assert.Equal(t, 0, f.engine.Tick(context.Background()).Escalated)
	}

	all := f.engine.Alerts(AlertFilter{})
	require.Len(t, all, 2)
	esc := all[0]
	assert.Equal(t, "ESCALATED: Database down", esc.Title)
	assert.Equal(t, id, esc.EscalatedFrom)
	assert.Contains(t, esc.Message, "primary unreachable")
	assert.Nil(t, esc.EscalationAt)

	orig, _ := f.engine.Alert(id)
	assert.True(t, orig.Escalated)
}

func TestEngine_EscalationProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		steps := rapid.SliceOfN(rapid.IntRange(1, 900), 1, 50).Draw(rt, "stepSeconds")
		f := newFixture()
		id, err := f.engine.TriggerAlert(context.Background(), "disk", "full", AlertOptions{Severity: types.SeverityCritical})
		if err != nil {
			rt.Fatalf("trigger: %v", err)
		}
		total := 0
		for _, s := range steps {
			f.clock.Advance(time.Duration(s) * time.Second)
			total += f.engine.Tick(context.Background()).Escalated
		}
		want := 0
		if f.clock.Now().Sub(start) >= DefaultEscalationDelay {
			want = 1
		}
		if total != want {
			rt.Fatalf("alert %s escalated %d times, want %d", id, total, want)
		}
	})
}

func TestEngine_AcknowledgeBlocksEscalation(t *testing.T) {
	f := newFixture()
	id, err := f.engine.TriggerAlert(context.Background(), "Database down", "", AlertOptions{Severity: types.SeverityCritical})
	require.NoError(t, err)
	require.NoError(t, f.engine.Acknowledge(context.Background(), id, "oncall", "looking"))

	f.clock.Advance(DefaultEscalationDelay)
	assert.Equal(t, 0, f.engine.Tick(context.Background()).Escalated)

	a, _ := f.engine.Alert(id)
	assert.False(t, a.Escalated)
	assert.Nil(t, a.EscalationAt)
}

func TestEngine_EscalationPolicy(t *testing.T) {
	t.Run("rule delay and channels", func(t *testing.T) {
		f := newFixture()
		require.NoError(t, f.engine.CreateRule(Rule{
			Name:       "outage",
			Condition:  Custom{Predicate: always},
			Severity:   types.SeverityCritical,
			Escalation: &Escalation{Delay: time.Minute, Channels: []string{"pager"}},
		}))
		f.engine.Tick(context.Background())
		f.clock.Advance(time.Minute)
		assert.Equal(t, 1, f.engine.Tick(context.Background()).Escalated)

		sent := f.disp.Sent()
		last := f.disp.sends[len(f.disp.sends)-1]
		assert.Equal(t, "ESCALATED: Alert: outage", sent[len(sent)-1].Title)
		assert.Equal(t, []string{"pager"}, last)
	})

	t.Run("disabled", func(t *testing.T) {
		f := newFixture(func(o *Options) { o.DisableEscalation = true })
		id, err := f.engine.TriggerAlert(context.Background(), "x", "", AlertOptions{Severity: types.SeverityCritical})
		require.NoError(t, err)
		a, _ := f.engine.Alert(id)
		assert.Nil(t, a.EscalationAt)
	})

	t.Run("non critical never escalates", func(t *testing.T) {
		f := newFixture()
		id, err := f.engine.TriggerAlert(context.Background(), "x", "", AlertOptions{Severity: types.SeverityHigh})
		require.NoError(t, err)
		a, _ := f.engine.Alert(id)
		assert.Nil(t, a.EscalationAt)
	})
}

func TestEngine_Lifecycle(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	id, err := f.engine.TriggerAlert(ctx, "Deploy failed", "build 12", AlertOptions{})
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	require.NoError(t, f.engine.Acknowledge(ctx, id, "alice", "on it"))
	a, _ := f.engine.Alert(id)
	assert.Equal(t, types.AlertAcknowledged, a.Status)
	assert.Equal(t, "alice", a.AcknowledgedBy)
	assert.Equal(t, "on it", a.Comment)
	require.NotNil(t, a.AcknowledgedAt)
	assert.Equal(t, start.Add(time.Minute), *a.AcknowledgedAt)

	err = f.engine.Acknowledge(ctx, id, "bob", "")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	f.clock.Advance(time.Minute)
	require.NoError(t, f.engine.Resolve(ctx, id, "alice", "rolled back"))
	a, _ = f.engine.Alert(id)
	assert.Equal(t, types.AlertResolved, a.Status)
	assert.Equal(t, "rolled back", a.Resolution)
	resolvedAt := *a.ResolvedAt

	f.clock.Advance(time.Minute)
	err = f.engine.Resolve(ctx, id, "bob", "again")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	a, _ = f.engine.Alert(id)
	assert.Equal(t, resolvedAt, *a.ResolvedAt)
	assert.Equal(t, "alice", a.ResolvedBy)

	assert.ErrorIs(t, f.engine.Acknowledge(ctx, "alert_missing", "x", ""), ErrUnknownAlert)
	assert.ErrorIs(t, f.engine.Resolve(ctx, "alert_missing", "x", ""), ErrUnknownAlert)
}

func TestEngine_ResolveActiveDirectly(t *testing.T) {
	f := newFixture()
	id, err := f.engine.TriggerAlert(context.Background(), "x", "", AlertOptions{})
	require.NoError(t, err)
	require.NoError(t, f.engine.Resolve(context.Background(), id, "ops", ""))
	assert.Empty(t, f.engine.Active(AlertFilter{}))
	assert.Len(t, f.engine.Alerts(AlertFilter{Status: types.AlertResolved}), 1)
}

func TestEngine_TriggerAlertSuppression(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	require.NoError(t, f.engine.Suppress(ctx, "manual_Deploy", 10*time.Minute, "maintenance"))
	_, err := f.engine.TriggerAlert(ctx, "Deploy", "", AlertOptions{})
	assert.ErrorIs(t, err, ErrSuppressed)

	id, err := f.engine.TriggerAlert(ctx, "Deploy", "", AlertOptions{SuppressionKey: "deploys"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	// Manual alerts do not suppress themselves.
	_, err = f.engine.TriggerAlert(ctx, "Deploy", "", AlertOptions{SuppressionKey: "deploys"})
	require.NoError(t, err)

	f.clock.Advance(10 * time.Minute)
	_, err = f.engine.TriggerAlert(ctx, "Deploy", "", AlertOptions{})
	require.NoError(t, err)

	_, err = f.engine.TriggerAlert(ctx, "", "", AlertOptions{})
	assert.ErrorIs(t, err, ErrInvalidAlert)
	_, err = f.engine.TriggerAlert(ctx, "x", "", AlertOptions{Severity: "urgent"})
	assert.ErrorIs(t, err, ErrInvalidAlert)
}

func TestEngine_TriggerAlertChannels(t *testing.T) {
	f := newFixture()
	_, err := f.engine.TriggerAlert(context.Background(), "x", "", AlertOptions{Channels: []string{"slack", "ring"}})
	require.NoError(t, err)
	_, err = f.engine.TriggerAlert(context.Background(), "y", "", AlertOptions{})
	require.NoError(t, err)

	require.Len(t, f.disp.sends, 2)
	assert.Equal(t, []string{"slack", "ring"}, f.disp.sends[0])
	assert.Equal(t, []string{"log"}, f.disp.sends[1])
}

func TestEngine_PredicateFailureIsolated(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.engine.CreateRule(Rule{
		Name:      "a_panics",
		Condition: Custom{Predicate: func(View) (bool, error) { panic("boom") }},
	}))
	require.NoError(t, f.engine.CreateRule(Rule{
		Name:      "b_errors",
		Condition: Custom{Predicate: func(View) (bool, error) { return false, errors.New("no data") }},
	}))
	require.NoError(t, f.engine.CreateRule(Rule{Name: "c_fires", Condition: Custom{Predicate: always}}))

	res := f.engine.Tick(context.Background())
	assert.Equal(t, 3, res.Evaluated)
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, 1, res.Fired)

	status := f.engine.Rules()
	assert.Contains(t, status[0].LastError, "boom")
	assert.Equal(t, "no data", status[1].LastError)
	assert.Empty(t, status[2].LastError)
	assert.Equal(t, 1, status[2].TriggerCount)
	require.NotNil(t, status[2].LastTriggered)
}

func TestEngine_PredicateReadsView(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.metrics.Record("queue.depth", 40, nil))
	var seen float64
	require.NoError(t, f.engine.CreateRule(Rule{
		Name: "deep_queue",
		Condition: Custom{Predicate: func(v View) (bool, error) {
			seen, _ = v.CurrentValue("queue.depth")
			return v.MetricStats("queue.depth", time.Minute).Count > 0 && v.Now().Equal(start), nil
		}},
	}))
	assert.Equal(t, 1, f.engine.Tick(context.Background()).Fired)
	assert.Equal(t, 40.0, seen)
}

func TestEngine_DispatchFailureIsolated(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	bad := testutil.NewMockChannel("bad")
	bad.SetError(errors.New("connection refused"))
	good := testutil.NewMockChannel("good")
	runner := dispatch.New([]channel.Channel{bad, good}, dispatch.Options{Logger: discardLogger()})
	runner.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		runner.Stop(ctx)
	})

	f := newFixture(func(o *Options) {
		o.Dispatcher = runner
		o.DefaultChannels = []string{"bad", "good"}
	})
	id, err := f.engine.TriggerAlert(context.Background(), "x", "y", AlertOptions{})
	require.NoError(t, err)

	testutil.WaitForSent(t, good, 1, 2*time.Second)
	testutil.WaitFor(t, 2*time.Second, func() bool {
		st := runner.Stats()
		return st["bad"].Failed == 1 && st["good"].Sent == 1
	}, "outcomes counted per channel")

	assert.Equal(t, id, good.Alerts()[0].ID)
	assert.Equal(t, "connection refused", runner.Stats()["bad"].LastError)
	assert.EqualValues(t, 1, f.engine.Dashboard().Channels["good"].Sent)
}

func TestEngine_DisableAndRemoveRule(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.engine.CreateRule(Rule{Name: "r", Condition: Custom{Predicate: always}, Suppression: time.Second}))

	assert.True(t, f.engine.DisableRule("r"))
	assert.Equal(t, 0, f.engine.Tick(context.Background()).Evaluated)
	assert.False(t, f.engine.Rules()[0].Enabled)

	assert.True(t, f.engine.EnableRule("r"))
	assert.Equal(t, 1, f.engine.Tick(context.Background()).Fired)

	assert.True(t, f.engine.RemoveRule("r"))
	assert.False(t, f.engine.RemoveRule("r"))
	assert.False(t, f.engine.DisableRule("r"))
	assert.Empty(t, f.engine.Rules())
	assert.Len(t, f.engine.Alerts(AlertFilter{}), 1)
}

func TestEngine_CreateRuleReplaces(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.engine.CreateRule(Rule{Name: "r", Condition: Custom{Predicate: always}}))
	f.engine.Tick(context.Background())
	require.Equal(t, 1, f.engine.Rules()[0].TriggerCount)

	require.NoError(t, f.engine.CreateRule(Rule{Name: "r", Condition: Threshold{Metric: "m", Value: 1}, Severity: types.SeverityLow}))
	st := f.engine.Rules()
	require.Len(t, st, 1)
	assert.Equal(t, 0, st[0].TriggerCount)
	assert.Equal(t, types.ConditionThreshold, st[0].Condition)
	assert.Equal(t, types.SeverityLow, st[0].Severity)
}

func TestEngine_CreateRuleValidation(t *testing.T) {
	f := newFixture()
	tests := []struct {
		name string
		rule Rule
	}{
		{"no name", Rule{Condition: Custom{Predicate: always}}},
		{"no condition", Rule{Name: "r"}},
		{"nil predicate", Rule{Name: "r", Condition: Custom{}}},
		{"bad severity", Rule{Name: "r", Condition: Custom{Predicate: always}, Severity: "urgent"}},
		{"negative suppression", Rule{Name: "r", Condition: Custom{Predicate: always}, Suppression: -time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, f.engine.CreateRule(tt.rule), ErrInvalidRule)
		})
	}
	assert.Empty(t, f.engine.Rules())
}

func TestEngine_AlertsFilterAndOrder(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	first, _ := f.engine.TriggerAlert(ctx, "a", "", AlertOptions{Severity: types.SeverityLow, Category: types.CategoryMemory})
	f.clock.Advance(time.Minute)
	second, _ := f.engine.TriggerAlert(ctx, "b", "", AlertOptions{Severity: types.SeverityHigh})
	f.clock.Advance(time.Minute)
	third, _ := f.engine.TriggerAlert(ctx, "c", "", AlertOptions{Severity: types.SeverityHigh})
	require.NoError(t, f.engine.Acknowledge(ctx, third, "x", ""))

	ids := func(alerts []types.Alert) []string {
		out := make([]string, 0, len(alerts))
		for _, a := range alerts {
			out = append(out, a.ID)
		}
		return out
	}

	assert.Equal(t, []string{third, second, first}, ids(f.engine.Alerts(AlertFilter{})))
	assert.Equal(t, []string{second, first}, ids(f.engine.Active(AlertFilter{})))
	assert.Equal(t, []string{second}, ids(f.engine.Active(AlertFilter{Severity: types.SeverityHigh})))
	assert.Equal(t, []string{first}, ids(f.engine.Active(AlertFilter{Category: types.CategoryMemory})))
	assert.Equal(t, []string{third, second}, ids(f.engine.Alerts(AlertFilter{Since: start.Add(time.Minute)})))
	assert.Equal(t, []string{third}, ids(f.engine.Alerts(AlertFilter{Status: types.AlertAcknowledged})))
}

func TestEngine_ReadersGetCopies(t *testing.T) {
	f := newFixture()
	id, err := f.engine.TriggerAlert(context.Background(), "x", "", AlertOptions{Metadata: map[string]string{"k": "v"}})
	require.NoError(t, err)

	a, _ := f.engine.Alert(id)
	a.Metadata["k"] = "changed"
	a.Channels[0] = "changed"
	a.Status = types.AlertResolved

	again, _ := f.engine.Alert(id)
	assert.Equal(t, "v", again.Metadata["k"])
	assert.Equal(t, "log", again.Channels[0])
	assert.Equal(t, types.AlertActive, again.Status)
	assert.Equal(t, SourceManual, again.Metadata["source"])
}

func TestEngine_Stats(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	old, _ := f.engine.TriggerAlert(ctx, "old", "", AlertOptions{Category: types.CategoryMemory})
	f.clock.Advance(2 * time.Hour)
	a, _ := f.engine.TriggerAlert(ctx, "a", "", AlertOptions{Severity: types.SeverityHigh, Category: types.CategoryErrorRate})
	b, _ := f.engine.TriggerAlert(ctx, "b", "", AlertOptions{Severity: types.SeverityHigh, Category: types.CategoryErrorRate})
	_, _ = f.engine.TriggerAlert(ctx, "c", "", AlertOptions{Severity: types.SeverityLow, Category: types.CategoryMemory})
	require.NoError(t, f.engine.Acknowledge(ctx, a, "x", ""))
	f.clock.Advance(10 * time.Minute)
	require.NoError(t, f.engine.Resolve(ctx, a, "x", ""))
	f.clock.Advance(10 * time.Minute)
	require.NoError(t, f.engine.Resolve(ctx, b, "x", ""))
	require.NoError(t, f.engine.Resolve(ctx, old, "x", ""))

	st := f.engine.Stats(start.Add(time.Hour))
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 2, st.BySeverity[types.SeverityHigh])
	assert.Equal(t, 1, st.BySeverity[types.SeverityLow])
	assert.Equal(t, 0, st.BySeverity[types.SeverityCritical])
	assert.Equal(t, 2, st.ByStatus[types.AlertResolved])
	assert.Equal(t, 1, st.ByStatus[types.AlertActive])
	assert.Equal(t, 0, st.ByStatus[types.AlertAcknowledged])
	assert.InDelta(t, 100.0/3, st.AcknowledgmentRate, 0.001)
	assert.InDelta(t, 200.0/3, st.ResolutionRate, 0.001)
	assert.Equal(t, 15*time.Minute, st.AverageResolutionTime)
	require.Len(t, st.TopCategories, 2)
	assert.Equal(t, types.CategoryCount{Category: types.CategoryErrorRate, Count: 2}, st.TopCategories[0])
	assert.Len(t, st.Trends, 24)
	assert.Equal(t, 3, st.Trends["0h_ago"])

	all := f.engine.Stats(time.Time{})
	assert.Equal(t, 4, all.Total)
	assert.Equal(t, 1, all.Trends["2h_ago"])
}

func TestEngine_StatsEmpty(t *testing.T) {
	f := newFixture()
	st := f.engine.Stats(time.Time{})
	assert.Equal(t, 0, st.Total)
	assert.Zero(t, st.AcknowledgmentRate)
	assert.Zero(t, st.AverageResolutionTime)
	assert.Empty(t, st.TopCategories)
}

func TestEngine_Health(t *testing.T) {
	tests := []struct {
		name       string
		severities []types.Severity
		want       types.HealthStatus
	}{
		{"none", nil, types.HealthHealthy},
		{"low only", []types.Severity{types.SeverityLow, types.SeverityMedium}, types.HealthHealthy},
		{"one high", []types.Severity{types.SeverityHigh}, types.HealthWarning},
		{"three high", []types.Severity{types.SeverityHigh, types.SeverityHigh, types.SeverityHigh}, types.HealthDegraded},
		{"critical", []types.Severity{types.SeverityCritical}, types.HealthCritical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			for i, s := range tt.severities {
				_, err := f.engine.TriggerAlert(context.Background(), "alert", "", AlertOptions{
					Severity:       s,
					SuppressionKey: string(rune('a' + i)),
				})
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, f.engine.Health())
		})
	}
}

func TestEngine_Dashboard(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	require.NoError(t, f.engine.CreateRule(Rule{Name: "r", Condition: Custom{Predicate: always}}))
	f.engine.Tick(ctx)
	for i := 0; i < 11; i++ {
		_, err := f.engine.TriggerAlert(ctx, "burst", "", AlertOptions{SuppressionKey: string(rune('a' + i))})
		require.NoError(t, err)
	}
	crit, err := f.engine.TriggerAlert(ctx, "outage", "", AlertOptions{Severity: types.SeverityCritical})
	require.NoError(t, err)
	require.NoError(t, f.engine.Suppress(ctx, "noisy", time.Hour, "maintenance"))

	d := f.engine.Dashboard()
	assert.Equal(t, start, d.Timestamp)
	assert.Equal(t, 13, d.Summary.Total)
	assert.Equal(t, 13, d.Summary.Active)
	assert.Equal(t, 1, d.Summary.Critical)
	assert.Len(t, d.RecentAlerts, 10)
	assert.Equal(t, crit, d.RecentAlerts[0].ID)
	assert.Equal(t, types.HealthCritical, d.Health)
	assert.Equal(t, 13, d.Stats.Total)
	require.Len(t, d.Rules, 1)
	assert.Equal(t, 1, d.Rules[0].TriggerCount)
	assert.Contains(t, d.Channels, "log")

	keys := make([]string, 0, len(d.Suppressions))
	for _, s := range d.Suppressions {
		keys = append(keys, s.Key)
	}
	assert.Equal(t, []string{"noisy", "rule_r"}, keys)
}

func TestEngine_GarbageCollection(t *testing.T) {
	st := store.NewMemory(store.DefaultMaxAlerts)
	f := newFixture(func(o *Options) { o.Store = st })
	ctx := context.Background()

	old, err := f.engine.TriggerAlert(ctx, "old", "", AlertOptions{})
	require.NoError(t, err)
	require.NoError(t, f.engine.Suppress(ctx, "short", time.Minute, ""))

	f.clock.Advance(DefaultAlertRetention - time.Hour)
	recent, err := f.engine.TriggerAlert(ctx, "recent", "", AlertOptions{})
	require.NoError(t, err)

	f.clock.Advance(2 * time.Hour)
	res := f.engine.Tick(ctx)
	assert.Equal(t, 1, res.Expired)

	_, ok := f.engine.Alert(old)
	assert.False(t, ok)
	_, ok = f.engine.Alert(recent)
	assert.True(t, ok)
	assert.Empty(t, f.engine.Suppressions())

	stored, err := st.ListAlerts(ctx, 0)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, recent, stored[0].ID)
	sups, err := st.ListSuppressions(ctx)
	require.NoError(t, err)
	assert.Empty(t, sups)
}

func TestEngine_PersistAndRestore(t *testing.T) {
	st := store.NewMemory(store.DefaultMaxAlerts)
	ctx := context.Background()

	f := newFixture(func(o *Options) { o.Store = st })
	id, err := f.engine.TriggerAlert(ctx, "Deploy failed", "", AlertOptions{})
	require.NoError(t, err)
	require.NoError(t, f.engine.Acknowledge(ctx, id, "alice", ""))
	require.NoError(t, f.engine.Suppress(ctx, "manual_Deploy failed", time.Hour, "known issue"))
	require.NoError(t, f.engine.Suppress(ctx, "gone", time.Minute, ""))

	f.clock.Advance(2 * time.Minute)

	restored := New(Options{Store: st, Now: f.clock.Now, Logger: discardLogger()})
	require.NoError(t, restored.Restore(ctx))

	a, ok := restored.Alert(id)
	require.True(t, ok)
	assert.Equal(t, types.AlertAcknowledged, a.Status)
	assert.Equal(t, "alice", a.AcknowledgedBy)

	assert.True(t, restored.IsSuppressed("manual_Deploy failed"))
	assert.False(t, restored.IsSuppressed("gone"))
	_, err = restored.TriggerAlert(ctx, "Deploy failed", "", AlertOptions{})
	assert.ErrorIs(t, err, ErrSuppressed)

	require.NoError(t, restored.Resolve(ctx, id, "bob", "fixed"))
	stored, err := st.ListAlerts(ctx, 0)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, types.AlertResolved, stored[0].Status)
}

type failingStore struct {
	store.Store
}

func (failingStore) SaveAlert(context.Context, types.Alert) error { return errors.New("unavailable") }
func (failingStore) SaveSuppression(context.Context, types.Suppression) error {
	return errors.New("unavailable")
}
func (failingStore) ListSuppressions(context.Context) ([]types.Suppression, error) {
	return nil, errors.New("unavailable")
}

func TestEngine_StoreErrorsAreNotFatal(t *testing.T) {
	f := newFixture(func(o *Options) { o.Store = failingStore{} })
	ctx := context.Background()

	id, err := f.engine.TriggerAlert(ctx, "x", "", AlertOptions{})
	require.NoError(t, err)
	require.NoError(t, f.engine.Acknowledge(ctx, id, "a", ""))
	require.NoError(t, f.engine.Suppress(ctx, "k", time.Minute, ""))
	assert.True(t, f.engine.IsSuppressed("k"))

	err = f.engine.Restore(ctx)
	assert.ErrorContains(t, err, "restoring suppressions")
}

func TestEngine_ExportImportConfig(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.engine.RegisterDefaultRules())
	require.NoError(t, f.engine.CreateRule(Rule{Name: "custom", Condition: Custom{Predicate: always}}))
	require.True(t, f.engine.DisableRule("high_memory_usage"))

	exported := f.engine.ExportConfig()
	require.Len(t, exported, 4)
	byName := make(map[string]types.RuleConfig)
	for _, c := range exported {
		byName[c.Name] = c
	}
	assert.Equal(t, types.ConditionRate, byName["high_error_rate"].Condition.Type)
	assert.Equal(t, "1m0s", byName["high_error_rate"].Condition.Window)
	assert.Equal(t, types.SeverityCritical, byName["critical_errors"].Condition.Severity)
	require.NotNil(t, byName["high_memory_usage"].Enabled)
	assert.False(t, *byName["high_memory_usage"].Enabled)

	other := newFixture()
	require.NoError(t, other.engine.ImportConfig(exported))
	assert.Equal(t, exported, other.engine.ExportConfig())
	for _, r := range other.engine.Rules() {
		assert.Equal(t, r.Name != "high_memory_usage", r.Enabled, r.Name)
	}
}

func TestEngine_ImportConfigIsAllOrNothing(t *testing.T) {
	f := newFixture()
	err := f.engine.ImportConfig([]types.RuleConfig{
		{Name: "ok", Severity: types.SeverityLow, Condition: types.ConditionConfig{Type: types.ConditionThreshold, Metric: "m"}},
		{Name: "bad", Condition: types.ConditionConfig{Type: "sql"}},
	})
	assert.ErrorIs(t, err, ErrInvalidRule)
	assert.Empty(t, f.engine.Rules())
}

func TestRuleFromConfig(t *testing.T) {
	disabled := false
	tests := []struct {
		name    string
		cfg     types.RuleConfig
		check   func(t *testing.T, r Rule)
		wantErr string
	}{
		{
			name: "threshold with named operator",
			cfg: types.RuleConfig{Name: "mem", Severity: types.SeverityHigh, Suppression: "60s",
				Condition: types.ConditionConfig{Type: types.ConditionThreshold, Metric: "mem.used", Operator: "greater_than", Threshold: 500}},
			check: func(t *testing.T, r Rule) {
				assert.Equal(t, Threshold{Metric: "mem.used", Op: types.OpGreater, Value: 500}, r.Condition)
				assert.Equal(t, time.Minute, r.Suppression)
				assert.Equal(t, types.CategoryCustom, r.Category)
			},
		},
		{
			name: "rate with window and escalation",
			cfg: types.RuleConfig{Name: "rate", Severity: types.SeverityCritical, Enabled: &disabled,
				Condition:  types.ConditionConfig{Type: types.ConditionRate, Metric: "errors.total", Threshold: 10, Window: "5m"},
				Escalation: &types.EscalationConfig{Delay: "2m", Channels: []string{"pager"}}},
			check: func(t *testing.T, r Rule) {
				assert.Equal(t, Rate{Metric: "errors.total", Op: types.OpGreater, Value: 10, Window: 5 * time.Minute}, r.Condition)
				assert.True(t, r.Disabled)
				require.NotNil(t, r.Escalation)
				assert.Equal(t, 2*time.Minute, r.Escalation.Delay)
			},
		},
		{
			name: "severity defaults to medium",
			cfg:  types.RuleConfig{Name: "x", Condition: types.ConditionConfig{Type: types.ConditionErrorPattern}},
			check: func(t *testing.T, r Rule) {
				assert.Equal(t, types.SeverityMedium, r.Severity)
			},
		},
		{name: "unknown operator", cfg: types.RuleConfig{Name: "x", Condition: types.ConditionConfig{Type: types.ConditionThreshold, Metric: "m", Operator: "~"}}, wantErr: "unknown operator"},
		{name: "missing metric", cfg: types.RuleConfig{Name: "x", Condition: types.ConditionConfig{Type: types.ConditionRate}}, wantErr: "requires a metric"},
		{name: "bad window", cfg: types.RuleConfig{Name: "x", Condition: types.ConditionConfig{Type: types.ConditionRate, Metric: "m", Window: "soon"}}, wantErr: "parsing window"},
		{name: "custom", cfg: types.RuleConfig{Name: "x", Condition: types.ConditionConfig{Type: types.ConditionCustom}}, wantErr: "registered in code"},
		{name: "error severity without severity", cfg: types.RuleConfig{Name: "x", Condition: types.ConditionConfig{Type: types.ConditionErrorSeverity}}, wantErr: "unknown severity"},
		{name: "bad suppression", cfg: types.RuleConfig{Name: "x", Suppression: "forever", Condition: types.ConditionConfig{Type: types.ConditionErrorPattern}}, wantErr: "invalid suppression"},
		{name: "missing name", cfg: types.RuleConfig{Condition: types.ConditionConfig{Type: types.ConditionErrorPattern}}, wantErr: "name is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := RuleFromConfig(tt.cfg)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidRule)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, r)
		})
	}
}

func TestEngine_StartStop(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	f := newFixture(func(o *Options) { o.Interval = 10 * time.Millisecond })
	require.NoError(t, f.engine.CreateRule(Rule{Name: "r", Condition: Custom{Predicate: always}, Suppression: time.Hour}))

	f.engine.Start(context.Background())
	testutil.WaitFor(t, 2*time.Second, func() bool {
		return len(f.engine.Alerts(AlertFilter{})) == 1
	}, "first tick fired the rule")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	f.engine.Stop(ctx)

	assert.Len(t, f.engine.Alerts(AlertFilter{}), 1)
}

func TestOptionsFromConfig(t *testing.T) {
	off := false
	opts := OptionsFromConfig(types.EngineConfig{
		Interval:        "1s",
		EscalationDelay: "bogus",
		Escalation:      &off,
		DefaultChannels: []string{"console"},
	})
	assert.Equal(t, time.Second, opts.Interval)
	assert.Equal(t, DefaultEscalationDelay, opts.EscalationDelay)
	assert.Equal(t, DefaultSuppression, opts.DefaultSuppression)
	assert.Equal(t, DefaultAlertRetention, opts.AlertRetention)
	assert.True(t, opts.DisableEscalation)
	assert.Equal(t, []string{"console"}, opts.DefaultChannels)
}
