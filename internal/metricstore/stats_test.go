package metricstore

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/dwsmith1983/tripwire/pkg/types"
)

func TestPercentile(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		p      float64
		want   float64
	}{
		{"empty", nil, 50, 0},
		{"single", []float64{7}, 95, 7},
		{"p0 is min", []float64{5, 1, 3}, 0, 1},
		{"p100 is max", []float64{5, 1, 3}, 100, 5},
		{"p50 nearest rank", []float64{1, 2, 3, 4}, 50, 2},
		{"p95 of ten", []float64{10, 9, 8, 7, 6, 5, 4, 3, 2, 1}, 95, 10},
		{"p90 of ten", []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, 90, 9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Percentile(tt.values, tt.p))
		})
	}
}

func TestPercentile_DoesNotMutateInput(t *testing.T) {
	in := []float64{3, 1, 2}
	_ = Percentile(in, 50)
	assert.Equal(t, []float64{3, 1, 2}, in)
}

func TestMedian(t *testing.T) {
	assert.Equal(t, 0.0, Median(nil))
	assert.Equal(t, 2.0, Median([]float64{3, 1, 2}))
	assert.Equal(t, 2.5, Median([]float64{4, 1, 3, 2}))
}

func samplesOf(values ...float64) []types.Sample {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	out := make([]types.Sample, len(values))
	for i, v := range values {
		out[i] = types.Sample{Value: v, Timestamp: base.Add(time.Duration(i) * time.Second)}
	}
	return out
}

func TestTrend(t *testing.T) {
	assert.Equal(t, 0.0, Trend(nil))
	assert.Equal(t, 0.0, Trend(samplesOf(5)))
	assert.Equal(t, 100.0, Trend(samplesOf(10, 15, 20)))
	assert.Equal(t, -50.0, Trend(samplesOf(10, 5)))
	assert.Equal(t, 0.0, Trend(samplesOf(0, 10, 20)), "zero first value must not divide")

	// Only the trailing ten samples count: first of window is 2.
	vals := []float64{100, 2, 3, 4, 5, 6, 7, 8, 9, 10, 4}
	assert.Equal(t, 100.0, Trend(samplesOf(vals...)))
}

func TestComputeStats_Aggregation(t *testing.T) {
	s := samplesOf(1, 2, 3, 4)
	assert.Equal(t, 4.0, *computeStats(s, "").Value)
	assert.Equal(t, 10.0, *computeStats(s, "sum").Value)
	assert.Equal(t, 2.5, *computeStats(s, "avg").Value)
	assert.Equal(t, 1.0, *computeStats(s, "min").Value)
	assert.Equal(t, 4.0, *computeStats(s, "count").Value)

	empty := computeStats(nil, "")
	assert.Equal(t, 0, empty.Count)
	assert.Nil(t, empty.Value)
}

func TestPercentile_Bounds(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		values := rapid.SliceOfN(rapid.Float64Range(-1e6, 1e6), 1, 200).Draw(rt, "values")
		sorted := append([]float64(nil), values...)
		sort.Float64s(sorted)

		if got := Percentile(values, 0); got != sorted[0] {
			rt.Fatalf("p0 = %v, want min %v", got, sorted[0])
		}
		if got := Percentile(values, 100); got != sorted[len(sorted)-1] {
			rt.Fatalf("p100 = %v, want max %v", got, sorted[len(sorted)-1])
		}
		p := rapid.Float64Range(0, 100).Draw(rt, "p")
		got := Percentile(values, p)
		if got < sorted[0] || got > sorted[len(sorted)-1] {
			rt.Fatalf("p%v = %v outside [%v, %v]", p, got, sorted[0], sorted[len(sorted)-1])
		}
	})
}

func TestComputeStats_Ordering(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		values := rapid.SliceOfN(rapid.Float64Range(-1e3, 1e3), 1, 100).Draw(rt, "values")
		st := computeStats(samplesOf(values...), "")
		if st.Count != len(values) {
			rt.Fatalf("count %d, want %d", st.Count, len(values))
		}
		if !(st.Min <= st.Median && st.Median <= st.Max) {
			rt.Fatalf("median %v outside [%v, %v]", st.Median, st.Min, st.Max)
		}
		if !(st.P95 <= st.P99 && st.P99 <= st.Max) {
			rt.Fatalf("percentiles out of order: p95=%v p99=%v max=%v", st.P95, st.P99, st.Max)
		}
		if st.Latest != values[len(values)-1] {
			rt.Fatalf("latest %v, want %v", st.Latest, values[len(values)-1])
		}
	})
}
