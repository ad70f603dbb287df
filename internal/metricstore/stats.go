package metricstore

import (
	"math"
	"sort"

	"github.com/dwsmith1983/tripwire/pkg/types"
)

// trendWindow is the number of trailing samples used for Trend.
const trendWindow = 10

// Percentile returns the p-th percentile of values using the nearest-rank
// method: index ceil(p/100*n)-1, clamped to the slice. It returns 0 for an
// empty slice. values is not modified.
func Percentile(values []float64, p float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	sorted := sortedCopy(values)
	return percentileSorted(sorted, p)
}

func percentileSorted(sorted []float64, p float64) float64 {
	n := len(sorted)
	idx := int(math.Ceil(p/100*float64(n))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return sorted[idx]
}

// Median returns the middle value, or the mean of the two middle values
// for an even count.
func Median(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	return medianSorted(sortedCopy(values))
}

func medianSorted(sorted []float64) float64 {
	n := len(sorted)
	mid := n / 2
	if n%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// Trend is the percent change between the first and last of the trailing
// ten samples. A zero first value yields 0.
func Trend(samples []types.Sample) float64 {
	if len(samples) < 2 {
		return 0
	}
	if len(samples) > trendWindow {
		samples = samples[len(samples)-trendWindow:]
	}
	first := samples[0].Value
	last := samples[len(samples)-1].Value
	if first == 0 {
		return 0
	}
	return (last - first) / first * 100
}

func sortedCopy(values []float64) []float64 {
	out := make([]float64, len(values))
	copy(out, values)
	sort.Float64s(out)
	return out
}

// computeStats aggregates samples, which must be in timestamp order.
func computeStats(samples []types.Sample, aggregation string) types.Stats {
	if len(samples) == 0 {
		return types.Stats{}
	}

	values := make([]float64, len(samples))
	var sum float64
	for i, s := range samples {
		values[i] = s.Value
		sum += s.Value
	}
	sorted := sortedCopy(values)

	st := types.Stats{
		Count:  len(values),
		Sum:    sum,
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
		Avg:    sum / float64(len(values)),
		Median: medianSorted(sorted),
		P95:    percentileSorted(sorted, 95),
		P99:    percentileSorted(sorted, 99),
		Latest: values[len(values)-1],
		Trend:  Trend(samples),
	}
	v := pick(st, aggregation)
	st.Value = &v
	return st
}

// pick selects the aggregate named by aggregation, defaulting to latest.
func pick(st types.Stats, aggregation string) float64 {
	switch aggregation {
	case "sum":
		return st.Sum
	case "min":
		return st.Min
	case "max":
		return st.Max
	case "avg", "mean":
		return st.Avg
	case "median":
		return st.Median
	case "p95":
		return st.P95
	case "p99":
		return st.P99
	case "count":
		return float64(st.Count)
	default:
		return st.Latest
	}
}
