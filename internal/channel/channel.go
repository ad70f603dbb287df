// Package channel implements alert output channels.
package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/dwsmith1983/tripwire/pkg/types"
)

// DefaultTimeout bounds a single Send when the channel config sets none.
const DefaultTimeout = 10 * time.Second

// ErrUnknownType is returned by New for unsupported channel types.
var ErrUnknownType = errors.New("channel: unknown type")

// Channel is an alert destination.
type Channel interface {
	Name() string
	Send(ctx context.Context, alert types.Alert) error
}

// Configured wraps a Channel with the per-channel settings from config.
type Configured struct {
	Channel
	name        string
	minSeverity types.Severity
	timeout     time.Duration
}

// Name returns the configured channel name.
func (c *Configured) Name() string { return c.name }

// Accepts reports whether alert meets the channel's minimum severity.
func (c *Configured) Accepts(alert types.Alert) bool {
	return alert.Severity.Rank() >= c.minSeverity.Rank()
}

// Timeout returns the per-send timeout.
func (c *Configured) Timeout() time.Duration { return c.timeout }

// Accepts reports whether ch takes alert. Channels without a severity
// filter take everything.
func Accepts(ch Channel, alert types.Alert) bool {
	if f, ok := ch.(interface{ Accepts(types.Alert) bool }); ok {
		return f.Accepts(alert)
	}
	return true
}

// TimeoutOf returns the per-send timeout of ch, or def.
func TimeoutOf(ch Channel, def time.Duration) time.Duration {
	if t, ok := ch.(interface{ Timeout() time.Duration }); ok && t.Timeout() > 0 {
		return t.Timeout()
	}
	return def
}

type factory struct {
	logger     *slog.Logger
	httpClient *http.Client
	awsCfg     *aws.Config
	secrets    SecretsAPI
}

// Option configures the channel factory.
type Option func(*factory)

// WithLogger sets the logger used by the log channel and by channels that
// report their own failures.
func WithLogger(l *slog.Logger) Option {
	return func(f *factory) { f.logger = l }
}

// WithHTTPClient overrides the HTTP client for webhook and slack channels.
func WithHTTPClient(c *http.Client) Option {
	return func(f *factory) { f.httpClient = c }
}

// WithAWSConfig supplies a preloaded AWS config so New does not call
// LoadDefaultConfig.
func WithAWSConfig(cfg aws.Config) Option {
	return func(f *factory) { f.awsCfg = &cfg }
}

// WithSecretsClient sets the Secrets Manager client used to resolve
// secretArn URLs.
func WithSecretsClient(c SecretsAPI) Option {
	return func(f *factory) { f.secrets = c }
}

// New builds a channel from its config.
func New(ctx context.Context, cfg types.ChannelConfig, opts ...Option) (*Configured, error) {
	f := &factory{}
	for _, o := range opts {
		o(f)
	}
	if f.logger == nil {
		f.logger = slog.Default()
	}

	ch, err := f.build(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating %s channel %q: %w", cfg.Type, cfg.Name, err)
	}
	name := cfg.Name
	if name == "" {
		name = ch.Name()
	}
	return &Configured{
		Channel:     ch,
		name:        name,
		minSeverity: cfg.MinSeverity,
		timeout:     types.ParseDurationOr(cfg.Timeout, DefaultTimeout),
	}, nil
}

func (f *factory) build(ctx context.Context, cfg types.ChannelConfig) (Channel, error) {
	switch cfg.Type {
	case types.ChannelConsole:
		return NewConsole(nil), nil
	case types.ChannelLog:
		return NewLog(f.logger), nil
	case types.ChannelRing:
		return NewRing(cfg.Path, cfg.MaxAlerts)
	case types.ChannelFile:
		return NewFile(cfg.Path)
	case types.ChannelWebhook, types.ChannelSlack:
		hopts := []HTTPOption{WithClient(f.httpClient), WithBreakerName(cfg.Name)}
		if cfg.SecretARN != "" {
			sc, err := f.secretsClient(ctx, cfg.Region)
			if err != nil {
				return nil, err
			}
			hopts = append(hopts, WithSecret(cfg.SecretARN, sc))
		}
		if cfg.Type == types.ChannelSlack {
			return NewSlack(cfg.URL, hopts...)
		}
		return NewWebhook(cfg.URL, hopts...)
	case types.ChannelSNS, types.ChannelSQS, types.ChannelEventBridge, types.ChannelCloudWatchLogs, types.ChannelS3:
		awsCfg, err := f.aws(ctx, cfg.Region)
		if err != nil {
			return nil, err
		}
		return buildAWS(cfg, awsCfg)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownType, cfg.Type)
	}
}

func (f *factory) aws(ctx context.Context, region string) (aws.Config, error) {
	if f.awsCfg != nil {
		cfg := f.awsCfg.Copy()
		if region != "" {
			cfg.Region = region
		}
		return cfg, nil
	}
	var lopts []func(*awsconfig.LoadOptions) error
	if region != "" {
		lopts = append(lopts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, lopts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading AWS config: %w", err)
	}
	return cfg, nil
}

func (f *factory) secretsClient(ctx context.Context, region string) (SecretsAPI, error) {
	if f.secrets != nil {
		return f.secrets, nil
	}
	cfg, err := f.aws(ctx, region)
	if err != nil {
		return nil, err
	}
	return newSecretsClient(cfg), nil
}
