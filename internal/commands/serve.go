package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/dwsmith1983/tripwire/internal/dispatch"
	"github.com/dwsmith1983/tripwire/internal/engine"
	"github.com/dwsmith1983/tripwire/internal/metricstore"
	"github.com/dwsmith1983/tripwire/internal/server"
	"github.com/dwsmith1983/tripwire/internal/store"
	"github.com/dwsmith1983/tripwire/internal/telemetry"
	"github.com/dwsmith1983/tripwire/internal/tracker"
)

const shutdownTimeout = 10 * time.Second

// NewServeCmd creates the serve command.
func NewServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the tripwire engine and HTTP API server",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return v.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, v)
		},
	}
	cmd.Flags().String(keyAddr, "", "listen address (overrides server.addr)")
	cmd.Flags().String(keyAPIKey, "", "API key required on /api requests")
	return cmd
}

func runServe(cmd *cobra.Command, v *viper.Viper) error {
	cfg, err := loadConfig(v)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Logging, os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Telemetry first so the engine picks up the global tracer.
	tel, err := telemetry.New(ctx, cfg.Telemetry, cmd.Root().Version, logger)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}

	// Metrics
	msOpts := metricstore.OptionsFromConfig(cfg.Metrics)
	msOpts.Logger = logger
	ms := metricstore.New(msOpts)
	ms.RegisterDefaults()
	if tel.Enabled() {
		if err := metricstore.RegisterOTel(ms, tel.Meter()); err != nil {
			return fmt.Errorf("registering OTel instruments: %w", err)
		}
	}

	// Errors
	trOpts := tracker.OptionsFromConfig(cfg.Tracker)
	trOpts.Counter = ms
	trOpts.Logger = logger
	tr := tracker.New(trOpts)

	// Channels
	chans, err := buildChannels(ctx, cfg, logger)
	if err != nil {
		return err
	}
	dOpts := dispatch.OptionsFromConfig(cfg.Engine)
	dOpts.Logger = logger
	runner := dispatch.New(chans, dOpts)

	// Store
	st, err := store.New(ctx, cfg.Store, logger)
	if err != nil {
		return fmt.Errorf("creating store: %w", err)
	}
	defer func() { _ = st.Close() }()
	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	err = st.Ping(pingCtx)
	pingCancel()
	if err != nil {
		return fmt.Errorf("connecting to store: %w", err)
	}

	// Engine
	eOpts := engine.OptionsFromConfig(cfg.Engine)
	eOpts.Metrics = ms
	eOpts.Errors = tr
	eOpts.Dispatcher = runner
	eOpts.Store = st
	eOpts.DefaultChannels = defaultChannels(cfg)
	eOpts.Logger = logger
	eOpts.Tracer = tel.Tracer()
	eng := engine.New(eOpts)
	if cfg.Engine.DefaultRules {
		if err := eng.RegisterDefaultRules(); err != nil {
			return fmt.Errorf("registering default rules: %w", err)
		}
	}
	if err := eng.ImportConfig(cfg.Rules); err != nil {
		return fmt.Errorf("importing rules: %w", err)
	}
	if err := eng.Restore(ctx); err != nil {
		logger.Warn("restoring alert state failed, starting empty", "error", err)
	}

	// Prometheus
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		metricstore.NewCollector(ms, "tripwire"),
	)

	// Server
	srvOpts := server.Options{
		Addr:     serverAddr(cfg),
		Engine:   eng,
		Metrics:  ms,
		Tracker:  tr,
		Store:    st,
		Gatherer: reg,
		Logger:   logger,
	}
	if cfg.Server != nil {
		srvOpts.APIKey = cfg.Server.APIKey
		srvOpts.MaxRequestBody = cfg.Server.MaxRequestBody
	}
	srv := server.New(srvOpts)

	ms.Start(ctx)
	tr.Start(ctx)
	runner.Start(ctx)
	eng.Start(ctx)

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(sigCtx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		if sigCtx.Err() != nil {
			color.Yellow("\nReceived shutdown signal, shutting down...")
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := srv.Stop(shutdownCtx)
		eng.Stop(shutdownCtx)
		runner.Stop(shutdownCtx)
		tr.Stop(shutdownCtx)
		ms.Stop(shutdownCtx)
		if terr := tel.Shutdown(shutdownCtx); terr != nil {
			logger.Warn("telemetry shutdown failed", "error", terr)
		}
		if err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	color.Green("Server stopped gracefully")
	return nil
}
