package types

import "time"

// ProjectConfig is the top-level tripwire.yaml configuration.
type ProjectConfig struct {
	Metrics   MetricsConfig    `yaml:"metrics" json:"metrics"`
	Tracker   TrackerConfig    `yaml:"tracker" json:"tracker"`
	Engine    EngineConfig     `yaml:"engine" json:"engine"`
	Channels  []ChannelConfig  `yaml:"channels,omitempty" json:"channels,omitempty"`
	Rules     []RuleConfig     `yaml:"rules,omitempty" json:"rules,omitempty"`
	Store     StoreConfig      `yaml:"store" json:"store"`
	Server    *ServerConfig    `yaml:"server,omitempty" json:"server,omitempty"`
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty" json:"telemetry,omitempty"`
	Logging   LoggingConfig    `yaml:"logging" json:"logging"`
}

// MetricsConfig tunes the metric store.
type MetricsConfig struct {
	Retention            string `yaml:"retention,omitempty" json:"retention,omitempty"`
	MaxSamples           int    `yaml:"maxSamples,omitempty" json:"maxSamples,omitempty"`
	SubscriptionInterval string `yaml:"subscriptionInterval,omitempty" json:"subscriptionInterval,omitempty"`
}

// TrackerConfig tunes the event tracker.
type TrackerConfig struct {
	MaxErrors        int    `yaml:"maxErrors,omitempty" json:"maxErrors,omitempty"`
	PatternThreshold int    `yaml:"patternThreshold,omitempty" json:"patternThreshold,omitempty"`
	PatternWindow    string `yaml:"patternWindow,omitempty" json:"patternWindow,omitempty"`
	Retention        string `yaml:"retention,omitempty" json:"retention,omitempty"`
}

// EngineConfig tunes the alert engine.
type EngineConfig struct {
	Interval           string   `yaml:"interval,omitempty" json:"interval,omitempty"`
	DefaultSuppression string   `yaml:"defaultSuppression,omitempty" json:"defaultSuppression,omitempty"`
	EscalationDelay    string   `yaml:"escalationDelay,omitempty" json:"escalationDelay,omitempty"`
	Escalation         *bool    `yaml:"escalation,omitempty" json:"escalation,omitempty"`
	AlertRetention     string   `yaml:"alertRetention,omitempty" json:"alertRetention,omitempty"`
	DefaultRules       bool     `yaml:"defaultRules,omitempty" json:"defaultRules,omitempty"`
	QueueSize          int      `yaml:"queueSize,omitempty" json:"queueSize,omitempty"`
	Workers            int      `yaml:"workers,omitempty" json:"workers,omitempty"`
	DefaultChannels    []string `yaml:"defaultChannels,omitempty" json:"defaultChannels,omitempty"`
}

// ChannelConfig configures one alert output channel.
type ChannelConfig struct {
	Name        string      `yaml:"name" json:"name"`
	Type        ChannelType `yaml:"type" json:"type"`
	MinSeverity Severity    `yaml:"minSeverity,omitempty" json:"minSeverity,omitempty"`
	Timeout     string      `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// webhook, slack
	URL       string `yaml:"url,omitempty" json:"url,omitempty"`
	SecretARN string `yaml:"secretArn,omitempty" json:"secretArn,omitempty"`

	// ring, file
	Path      string `yaml:"path,omitempty" json:"path,omitempty"`
	MaxAlerts int    `yaml:"maxAlerts,omitempty" json:"maxAlerts,omitempty"`

	// AWS
	Region    string `yaml:"region,omitempty" json:"region,omitempty"`
	TopicARN  string `yaml:"topicArn,omitempty" json:"topicArn,omitempty"`
	QueueURL  string `yaml:"queueUrl,omitempty" json:"queueUrl,omitempty"`
	EventBus  string `yaml:"eventBus,omitempty" json:"eventBus,omitempty"`
	Source    string `yaml:"source,omitempty" json:"source,omitempty"`
	LogGroup  string `yaml:"logGroup,omitempty" json:"logGroup,omitempty"`
	LogStream string `yaml:"logStream,omitempty" json:"logStream,omitempty"`
	Bucket    string `yaml:"bucket,omitempty" json:"bucket,omitempty"`
	Prefix    string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
}

// ConditionConfig is the declarative form of a rule condition.
type ConditionConfig struct {
	Type      ConditionType `yaml:"type" json:"type"`
	Metric    string        `yaml:"metric,omitempty" json:"metric,omitempty"`
	Operator  string        `yaml:"operator,omitempty" json:"operator,omitempty"`
	Threshold float64       `yaml:"threshold" json:"threshold"`
	Window    string        `yaml:"window,omitempty" json:"window,omitempty"`
	Severity  Severity      `yaml:"severity,omitempty" json:"severity,omitempty"`
}

// EscalationConfig configures escalation for a rule.
type EscalationConfig struct {
	Delay    string   `yaml:"delay,omitempty" json:"delay,omitempty"`
	Channels []string `yaml:"channels,omitempty" json:"channels,omitempty"`
}

// RuleConfig is the declarative form of an alert rule.
type RuleConfig struct {
	Name        string            `yaml:"name" json:"name"`
	Description string            `yaml:"description,omitempty" json:"description,omitempty"`
	Condition   ConditionConfig   `yaml:"condition" json:"condition"`
	Severity    Severity          `yaml:"severity" json:"severity"`
	Category    Category          `yaml:"category,omitempty" json:"category,omitempty"`
	Channels    []string          `yaml:"channels,omitempty" json:"channels,omitempty"`
	Suppression string            `yaml:"suppression,omitempty" json:"suppression,omitempty"`
	Escalation  *EscalationConfig `yaml:"escalation,omitempty" json:"escalation,omitempty"`
	Enabled     *bool             `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

// StoreConfig selects the alert persistence backend.
type StoreConfig struct {
	Type     string          `yaml:"type,omitempty" json:"type,omitempty"`
	Path     string          `yaml:"path,omitempty" json:"path,omitempty"`
	Redis    *RedisConfig    `yaml:"redis,omitempty" json:"redis,omitempty"`
	DynamoDB *DynamoDBConfig `yaml:"dynamodb,omitempty" json:"dynamodb,omitempty"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr      string `yaml:"addr" json:"addr"`
	Password  string `yaml:"password,omitempty" json:"password,omitempty"`
	DB        int    `yaml:"db,omitempty" json:"db,omitempty"`
	KeyPrefix string `yaml:"keyPrefix,omitempty" json:"keyPrefix,omitempty"`
	MaxAlerts int    `yaml:"maxAlerts,omitempty" json:"maxAlerts,omitempty"`
}

// DynamoDBConfig holds DynamoDB connection and table settings.
type DynamoDBConfig struct {
	TableName    string `yaml:"tableName" json:"tableName"`
	Region       string `yaml:"region,omitempty" json:"region,omitempty"`
	Endpoint     string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	RetentionTTL string `yaml:"retentionTtl,omitempty" json:"retentionTtl,omitempty"`
	CreateTable  bool   `yaml:"createTable,omitempty" json:"createTable,omitempty"`
}

// ServerConfig configures the HTTP query API.
type ServerConfig struct {
	Addr           string `yaml:"addr,omitempty" json:"addr,omitempty"`
	APIKey         string `yaml:"apiKey,omitempty" json:"apiKey,omitempty"`
	MaxRequestBody int64  `yaml:"maxRequestBody,omitempty" json:"maxRequestBody,omitempty"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	Endpoint    string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	Insecure    bool   `yaml:"insecure,omitempty" json:"insecure,omitempty"`
	ServiceName string `yaml:"serviceName,omitempty" json:"serviceName,omitempty"`
	Interval    string `yaml:"interval,omitempty" json:"interval,omitempty"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty" json:"level,omitempty"`
	Format string `yaml:"format,omitempty" json:"format,omitempty"`
}

// ParseDurationOr parses s, returning def when s is empty or invalid.
func ParseDurationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
