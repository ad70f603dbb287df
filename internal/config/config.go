// Package config handles loading and validation of tripwire.yaml project configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dwsmith1983/tripwire/internal/engine"
	"github.com/dwsmith1983/tripwire/pkg/types"
)

// FileName is the project configuration file looked up by Load.
const FileName = "tripwire.yaml"

// Load reads and parses tripwire.yaml from the given directory.
func Load(dir string) (*types.ProjectConfig, error) {
	return LoadFile(filepath.Join(dir, FileName))
}

// LoadFile reads and parses a configuration file at path.
func LoadFile(path string) (*types.ProjectConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg types.ProjectConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Validate checks cfg for missing or inconsistent settings.
func Validate(cfg *types.ProjectConfig) error {
	for field, d := range map[string]string{
		"metrics.retention":            cfg.Metrics.Retention,
		"metrics.subscriptionInterval": cfg.Metrics.SubscriptionInterval,
		"tracker.patternWindow":        cfg.Tracker.PatternWindow,
		"tracker.retention":            cfg.Tracker.Retention,
		"engine.interval":              cfg.Engine.Interval,
		"engine.defaultSuppression":    cfg.Engine.DefaultSuppression,
		"engine.escalationDelay":       cfg.Engine.EscalationDelay,
		"engine.alertRetention":        cfg.Engine.AlertRetention,
	} {
		if err := checkDuration(field, d); err != nil {
			return err
		}
	}
	if cfg.Metrics.MaxSamples < 0 {
		return fmt.Errorf("metrics.maxSamples must not be negative")
	}
	if cfg.Tracker.MaxErrors < 0 || cfg.Tracker.PatternThreshold < 0 {
		return fmt.Errorf("tracker limits must not be negative")
	}

	channels := make(map[string]bool, len(cfg.Channels))
	for i, ch := range cfg.Channels {
		if ch.Name == "" {
			return fmt.Errorf("channels[%d]: name is required", i)
		}
		if channels[ch.Name] {
			return fmt.Errorf("channel %q is declared twice", ch.Name)
		}
		channels[ch.Name] = true
		if err := validateChannel(ch); err != nil {
			return fmt.Errorf("channel %q: %w", ch.Name, err)
		}
	}
	for _, name := range cfg.Engine.DefaultChannels {
		if !channels[name] {
			return fmt.Errorf("engine.defaultChannels references unknown channel %q", name)
		}
	}

	rules := make(map[string]bool, len(cfg.Rules))
	for i, rc := range cfg.Rules {
		if rc.Name == "" {
			return fmt.Errorf("rules[%d]: name is required", i)
		}
		if rules[rc.Name] {
			return fmt.Errorf("rule %q is declared twice", rc.Name)
		}
		rules[rc.Name] = true
		if _, err := engine.RuleFromConfig(rc); err != nil {
			return err
		}
		refs := append([]string(nil), rc.Channels...)
		if rc.Escalation != nil {
			refs = append(refs, rc.Escalation.Channels...)
		}
		for _, name := range refs {
			if !channels[name] {
				return fmt.Errorf("rule %q references unknown channel %q", rc.Name, name)
			}
		}
	}

	if err := validateStore(cfg.Store); err != nil {
		return err
	}

	switch cfg.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", cfg.Logging.Level)
	}
	switch cfg.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", cfg.Logging.Format)
	}

	if cfg.Telemetry != nil {
		if err := checkDuration("telemetry.interval", cfg.Telemetry.Interval); err != nil {
			return err
		}
	}
	if cfg.Server != nil && cfg.Server.MaxRequestBody < 0 {
		return fmt.Errorf("server.maxRequestBody must not be negative")
	}
	return nil
}

func checkDuration(field, s string) error {
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s must be positive", field)
	}
	return nil
}

func validateChannel(ch types.ChannelConfig) error {
	if ch.MinSeverity != "" && !ch.MinSeverity.Valid() {
		return fmt.Errorf("unknown minSeverity %q", ch.MinSeverity)
	}
	if err := checkDuration("timeout", ch.Timeout); err != nil {
		return err
	}
	switch ch.Type {
	case types.ChannelConsole, types.ChannelLog, types.ChannelEventBridge:
	case types.ChannelWebhook, types.ChannelSlack:
		if ch.URL == "" && ch.SecretARN == "" {
			return fmt.Errorf("%s channel requires url or secretArn", ch.Type)
		}
	case types.ChannelRing, types.ChannelFile:
		if ch.Path == "" {
			return fmt.Errorf("%s channel requires path", ch.Type)
		}
	case types.ChannelSNS:
		if ch.TopicARN == "" {
			return fmt.Errorf("sns channel requires topicArn")
		}
	case types.ChannelSQS:
		if ch.QueueURL == "" {
			return fmt.Errorf("sqs channel requires queueUrl")
		}
	case types.ChannelCloudWatchLogs:
		if ch.LogGroup == "" {
			return fmt.Errorf("cloudwatchlogs channel requires logGroup")
		}
	case types.ChannelS3:
		if ch.Bucket == "" {
			return fmt.Errorf("s3 channel requires bucket")
		}
	case "":
		return fmt.Errorf("type is required")
	default:
		return fmt.Errorf("unknown type %q", ch.Type)
	}
	return nil
}

func validateStore(sc types.StoreConfig) error {
	switch sc.Type {
	case "", "memory":
	case "file":
		if sc.Path == "" {
			return fmt.Errorf("store.path is required when store type is file")
		}
	case "redis":
		if sc.Redis == nil {
			return fmt.Errorf("store.redis is required when store type is redis")
		}
		if sc.Redis.Addr == "" {
			return fmt.Errorf("store.redis.addr is required")
		}
	case "dynamodb":
		if sc.DynamoDB == nil {
			return fmt.Errorf("store.dynamodb is required when store type is dynamodb")
		}
		if sc.DynamoDB.TableName == "" {
			return fmt.Errorf("store.dynamodb.tableName is required")
		}
		if err := checkDuration("store.dynamodb.retentionTtl", sc.DynamoDB.RetentionTTL); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown store type %q", sc.Type)
	}
	return nil
}
