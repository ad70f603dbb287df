package metricstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/dwsmith1983/tripwire/pkg/types"
)

// SanitizeName maps a metric name onto the Prometheus charset
// [a-zA-Z0-9_], prefixing an underscore when it starts with a digit.
func SanitizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if out != "" && out[0] >= '0' && out[0] <= '9' {
		out = "_" + out
	}
	return out
}

// Collector exposes the store as a Prometheus collector. Counters and
// gauges export their latest value; histograms and timers export a summary
// with median, p95 and p99 quantiles over the retention window.
type Collector struct {
	store     *Store
	namespace string
}

// NewCollector creates a Collector. namespace may be empty.
func NewCollector(s *Store, namespace string) *Collector {
	return &Collector{store: s, namespace: namespace}
}

// Describe sends nothing; the metric set changes at runtime, so the
// collector is registered unchecked.
func (c *Collector) Describe(chan<- *prometheus.Desc) {}

// Collect emits one metric per series with at least one sample.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for name, sum := range c.store.All(Filter{}) {
		if sum.Current == nil {
			continue
		}
		m, err := c.metricFor(name, sum)
		if err != nil {
			c.store.logger.Warn("metricstore: prometheus export skipped", "metric", name, "error", err)
			continue
		}
		ch <- m
	}
}

func (c *Collector) metricFor(name string, sum types.MetricSummary) (prometheus.Metric, error) {
	fq := SanitizeName(name)
	if c.namespace != "" {
		fq = SanitizeName(c.namespace) + "_" + fq
	}
	help := sum.Description
	if help == "" {
		help = fmt.Sprintf("tripwire metric %s", name)
	}
	labels := prometheus.Labels{}
	for k, v := range sum.Tags {
		labels[SanitizeName(k)] = v
	}
	desc := prometheus.NewDesc(fq, help, nil, labels)

	switch sum.Kind {
	case types.KindCounter:
		return prometheus.NewConstMetric(desc, prometheus.CounterValue, *sum.Current)
	case types.KindHistogram, types.KindTimer:
		st := c.store.Stats(name, StatsOptions{})
		return prometheus.NewConstSummary(desc, uint64(st.Count), st.Sum, map[float64]float64{
			0.5:  st.Median,
			0.95: st.P95,
			0.99: st.P99,
		})
	default:
		return prometheus.NewConstMetric(desc, prometheus.GaugeValue, *sum.Current)
	}
}

// RegisterOTel exposes the latest value of every metric as an OpenTelemetry
// observable gauge, attributed by metric name and kind.
func RegisterOTel(s *Store, meter metric.Meter) error {
	_, err := meter.Float64ObservableGauge("tripwire.metric.latest",
		metric.WithDescription("Latest value of each recorded tripwire metric"),
		metric.WithFloat64Callback(func(_ context.Context, o metric.Float64Observer) error {
			for name, sum := range s.All(Filter{}) {
				if sum.Current == nil {
					continue
				}
				o.Observe(*sum.Current, metric.WithAttributes(
					attribute.String("metric", name),
					attribute.String("kind", string(sum.Kind)),
				))
			}
			return nil
		}),
	)
	if err != nil {
		return fmt.Errorf("registering observable gauge: %w", err)
	}
	return nil
}
