// Package commands implements the CLI subcommands for the tripwire binary.
package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/viper"

	"github.com/dwsmith1983/tripwire/internal/channel"
	"github.com/dwsmith1983/tripwire/internal/config"
	"github.com/dwsmith1983/tripwire/pkg/types"
)

// DefaultAddr is the listen address when neither config nor flags set one.
const DefaultAddr = ":3000"

// loadConfig reads tripwire.yaml from the configured directory and applies
// flag and environment overrides on top.
func loadConfig(v *viper.Viper) (*types.ProjectConfig, error) {
	cfg, err := config.Load(v.GetString(keyConfigDir))
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	applyOverrides(cfg, v)
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("validating overrides: %w", err)
	}
	return cfg, nil
}

func applyOverrides(cfg *types.ProjectConfig, v *viper.Viper) {
	if s := v.GetString(keyLogLevel); s != "" {
		cfg.Logging.Level = s
	}
	if s := v.GetString(keyLogFormat); s != "" {
		cfg.Logging.Format = s
	}
	addr, apiKey := v.GetString(keyAddr), v.GetString(keyAPIKey)
	if addr == "" && apiKey == "" {
		return
	}
	if cfg.Server == nil {
		cfg.Server = &types.ServerConfig{}
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}
	if apiKey != "" {
		cfg.Server.APIKey = apiKey
	}
}

// newLogger builds the slog logger described by cfg.
func newLogger(cfg types.LoggingConfig, w io.Writer) (*slog.Logger, error) {
	level := slog.LevelInfo
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q", cfg.Level)
		}
	}
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", cfg.Format)
	}
}

// channelConfigs returns the declared channels, or a single log channel
// when none are declared.
func channelConfigs(cfg *types.ProjectConfig) []types.ChannelConfig {
	if len(cfg.Channels) > 0 {
		return cfg.Channels
	}
	return []types.ChannelConfig{{Name: "log", Type: types.ChannelLog}}
}

// defaultChannels returns engine.defaultChannels, falling back to every
// channel when unset.
func defaultChannels(cfg *types.ProjectConfig) []string {
	if len(cfg.Engine.DefaultChannels) > 0 {
		return cfg.Engine.DefaultChannels
	}
	var names []string
	for _, c := range channelConfigs(cfg) {
		names = append(names, c.Name)
	}
	return names
}

// buildChannels constructs every configured channel.
func buildChannels(ctx context.Context, cfg *types.ProjectConfig, logger *slog.Logger) ([]channel.Channel, error) {
	var out []channel.Channel
	for _, cc := range channelConfigs(cfg) {
		ch, err := channel.New(ctx, cc, channel.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, nil
}

func serverAddr(cfg *types.ProjectConfig) string {
	if cfg.Server != nil && cfg.Server.Addr != "" {
		return cfg.Server.Addr
	}
	return DefaultAddr
}
