// Package types defines the public domain types for the tripwire observability engine.
package types

// MetricKind is the kind of a recorded time-series.
type MetricKind string

// MetricKind values enumerate the supported metric types.
const (
	KindCounter   MetricKind = "counter"
	KindGauge     MetricKind = "gauge"
	KindHistogram MetricKind = "histogram"
	KindTimer     MetricKind = "timer"
)

// Valid reports whether k is a known metric kind.
func (k MetricKind) Valid() bool {
	switch k {
	case KindCounter, KindGauge, KindHistogram, KindTimer:
		return true
	}
	return false
}

// Severity is the urgency of an error or alert.
type Severity string

// Severity values, lowest to highest.
const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities; unknown values rank below low.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool { return s.Rank() > 0 }

// Category classifies both tracked errors and alerts.
type Category string

// Error categories assigned by the event tracker.
const (
	CategoryNetwork       Category = "network"
	CategoryValidation    Category = "validation"
	CategoryRuntime       Category = "runtime"
	CategoryUI            Category = "ui"
	CategoryPerformance   Category = "performance"
	CategorySecurity      Category = "security"
	CategoryBusinessLogic Category = "business_logic"
	CategoryIntegration   Category = "integration"
	CategoryUnknown       Category = "unknown"
)

// ErrorCategory reports whether c is one of the tracker's error categories.
func (c Category) ErrorCategory() bool {
	switch c {
	case CategoryNetwork, CategoryValidation, CategoryRuntime, CategoryUI,
		CategoryPerformance, CategorySecurity, CategoryBusinessLogic,
		CategoryIntegration, CategoryUnknown:
		return true
	}
	return false
}

// Alert categories used by rules and manual alerts.
const (
	CategoryErrorRate    Category = "error_rate"
	CategoryMemory       Category = "memory"
	CategoryErrorPattern Category = "error_pattern"
	CategoryCustom       Category = "custom"
)

// AlertStatus is the lifecycle state of an alert.
type AlertStatus string

// AlertStatus values. Resolved is terminal.
const (
	AlertActive       AlertStatus = "active"
	AlertAcknowledged AlertStatus = "acknowledged"
	AlertResolved     AlertStatus = "resolved"
)

// HealthStatus summarizes the active alert population.
type HealthStatus string

// HealthStatus values reported by the engine dashboard.
const (
	HealthHealthy  HealthStatus = "healthy"
	HealthWarning  HealthStatus = "warning"
	HealthDegraded HealthStatus = "degraded"
	HealthCritical HealthStatus = "critical"
)

// Operator compares a metric value against a threshold.
type Operator string

// Operator values accepted by threshold and rate conditions.
const (
	OpGreater      Operator = ">"
	OpLess         Operator = "<"
	OpEqual        Operator = "=="
	OpGreaterEqual Operator = ">="
	OpLessEqual    Operator = "<="
	OpNotEqual     Operator = "!="
)

// ParseOperator normalizes symbolic and named operators.
func ParseOperator(s string) (Operator, bool) {
	switch s {
	case ">", "greater_than", "gt":
		return OpGreater, true
	case "<", "less_than", "lt":
		return OpLess, true
	case "==", "=", "equals", "eq":
		return OpEqual, true
	case ">=", "gte":
		return OpGreaterEqual, true
	case "<=", "lte":
		return OpLessEqual, true
	case "!=", "not_equals", "ne":
		return OpNotEqual, true
	}
	return "", false
}

// Compare applies the operator to value and threshold.
func (o Operator) Compare(value, threshold float64) bool {
	switch o {
	case OpGreater:
		return value > threshold
	case OpLess:
		return value < threshold
	case OpEqual:
		return value == threshold
	case OpGreaterEqual:
		return value >= threshold
	case OpLessEqual:
		return value <= threshold
	case OpNotEqual:
		return value != threshold
	}
	return false
}

// ChannelType identifies an alert output channel implementation.
type ChannelType string

// ChannelType values supported by the channel factory.
const (
	ChannelConsole        ChannelType = "console"
	ChannelLog            ChannelType = "log"
	ChannelRing           ChannelType = "ring"
	ChannelFile           ChannelType = "file"
	ChannelWebhook        ChannelType = "webhook"
	ChannelSlack          ChannelType = "slack"
	ChannelSNS            ChannelType = "sns"
	ChannelSQS            ChannelType = "sqs"
	ChannelEventBridge    ChannelType = "eventbridge"
	ChannelCloudWatchLogs ChannelType = "cloudwatchlogs"
	ChannelS3             ChannelType = "s3"
)

// ConditionType tags the variant of a rule condition.
type ConditionType string

// ConditionType values.
const (
	ConditionThreshold     ConditionType = "threshold"
	ConditionRate          ConditionType = "rate"
	ConditionErrorSeverity ConditionType = "error_severity"
	ConditionErrorPattern  ConditionType = "error_pattern"
	ConditionCustom        ConditionType = "custom"
)
