// Package telemetry sets up OpenTelemetry trace and metric providers that
// export over OTLP gRPC.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/dwsmith1983/tripwire/pkg/types"
)

const (
	// DefaultServiceName is reported when the config leaves it empty.
	DefaultServiceName = "tripwire"
	// DefaultInterval is the metric export interval.
	DefaultInterval = 30 * time.Second

	instrumentationName = "github.com/dwsmith1983/tripwire"
)

// Provider owns the trace and meter providers. A disabled Provider hands
// out no-op implementations and never touches the otel globals.
type Provider struct {
	enabled bool
	tp      trace.TracerProvider
	mp      metric.MeterProvider
	sdkTP   *sdktrace.TracerProvider
	sdkMP   *sdkmetric.MeterProvider
	logger  *slog.Logger
}

// New builds a Provider from cfg. A nil or disabled cfg yields no-op
// providers. When enabled the providers are installed as otel globals.
func New(ctx context.Context, cfg *types.TelemetryConfig, version string, logger *slog.Logger) (*Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil || !cfg.Enabled {
		return &Provider{
			tp:     tracenoop.NewTracerProvider(),
			mp:     metricnoop.NewMeterProvider(),
			logger: logger,
		}, nil
	}

	name := cfg.ServiceName
	if name == "" {
		name = DefaultServiceName
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", name),
			attribute.String("service.version", version),
		),
		resource.WithProcessPID(),
		resource.WithHost(),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	traceOpts := []otlptracegrpc.Option{}
	metricOpts := []otlpmetricgrpc.Option{}
	if cfg.Endpoint != "" {
		traceOpts = append(traceOpts, otlptracegrpc.WithEndpoint(cfg.Endpoint))
		metricOpts = append(metricOpts, otlpmetricgrpc.WithEndpoint(cfg.Endpoint))
	}
	if cfg.Insecure {
		traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
		metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
	}

	traceExp, err := otlptracegrpc.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP trace exporter: %w", err)
	}
	metricExp, err := otlpmetricgrpc.New(ctx, metricOpts...)
	if err != nil {
		_ = traceExp.Shutdown(ctx)
		return nil, fmt.Errorf("creating OTLP metric exporter: %w", err)
	}

	sdkTP := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(traceExp, sdktrace.WithBatchTimeout(5*time.Second)),
	)
	sdkMP := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp,
			sdkmetric.WithInterval(types.ParseDurationOr(cfg.Interval, DefaultInterval)),
		)),
	)

	otel.SetTracerProvider(sdkTP)
	otel.SetMeterProvider(sdkMP)

	logger.Info("telemetry: OTLP export enabled", "endpoint", cfg.Endpoint, "service", name)
	return &Provider{
		enabled: true,
		tp:      sdkTP,
		mp:      sdkMP,
		sdkTP:   sdkTP,
		sdkMP:   sdkMP,
		logger:  logger,
	}, nil
}

// Enabled reports whether spans and metrics are exported.
func (p *Provider) Enabled() bool { return p.enabled }

// Tracer returns the tripwire tracer.
func (p *Provider) Tracer() trace.Tracer { return p.tp.Tracer(instrumentationName) }

// Meter returns the tripwire meter.
func (p *Provider) Meter() metric.Meter { return p.mp.Meter(instrumentationName) }

// Shutdown flushes and stops both providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if !p.enabled {
		return nil
	}
	var errs []error
	if err := p.sdkTP.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutting down tracer provider: %w", err))
	}
	if err := p.sdkMP.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutting down meter provider: %w", err))
	}
	return errors.Join(errs...)
}
