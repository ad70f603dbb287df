package types

import "time"

// Sample is a single timestamped measurement.
type Sample struct {
	Value     float64           `json:"value"`
	Timestamp time.Time         `json:"timestamp"`
	Tags      map[string]string `json:"tags,omitempty"`
}

// MetricSummary describes a metric and its latest value.
type MetricSummary struct {
	Name        string            `json:"name"`
	Kind        MetricKind        `json:"kind"`
	Unit        string            `json:"unit,omitempty"`
	Description string            `json:"description,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
	Current     *float64          `json:"current"`
	Samples     int               `json:"samples"`
	LastUpdated time.Time         `json:"lastUpdated,omitempty"`
}

// Stats is the aggregate view of a metric over a time range. Value is nil
// and Count is zero when no samples fall inside the range.
type Stats struct {
	Count  int      `json:"count"`
	Value  *float64 `json:"value"`
	Sum    float64  `json:"sum"`
	Min    float64  `json:"min"`
	Max    float64  `json:"max"`
	Avg    float64  `json:"avg"`
	Median float64  `json:"median"`
	P95    float64  `json:"p95"`
	P99    float64  `json:"p99"`
	Latest float64  `json:"latest"`
	Trend  float64  `json:"trend"`
}

// MetricsSnapshot is a read-only export of the metric store.
type MetricsSnapshot struct {
	Timestamp     time.Time                `json:"timestamp"`
	Metrics       map[string]MetricSummary `json:"metrics"`
	Stats         map[string]Stats         `json:"stats"`
	Subscriptions int                      `json:"subscriptions"`
	Collectors    int                      `json:"collectors"`
}

// Recovery records how a tracked error was recovered from.
type Recovery struct {
	Method    string        `json:"method"`
	Success   bool          `json:"success"`
	Duration  time.Duration `json:"duration,omitempty"`
	Details   string        `json:"details,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// ErrorRecord is one tracked failure event.
type ErrorRecord struct {
	ID          string         `json:"id"`
	Timestamp   time.Time      `json:"timestamp"`
	Name        string         `json:"name"`
	Message     string         `json:"message"`
	Stack       string         `json:"stack,omitempty"`
	File        string         `json:"file,omitempty"`
	Line        int            `json:"line,omitempty"`
	Fingerprint string         `json:"fingerprint"`
	Category    Category       `json:"category"`
	Severity    Severity       `json:"severity"`
	Recoverable bool           `json:"recoverable"`
	UserImpact  string         `json:"userImpact"`
	Tags        []string       `json:"tags,omitempty"`
	Context     map[string]any `json:"context,omitempty"`
	Recovery    *Recovery      `json:"recovery"`
}

// PatternInfo is a read-only view of a fingerprint bucket. Count is the
// lifetime total; WindowCount only covers the current pattern window.
type PatternInfo struct {
	Fingerprint     string    `json:"pattern"`
	Count           int       `json:"count"`
	WindowCount     int       `json:"windowCount"`
	FirstOccurrence time.Time `json:"firstOccurrence"`
	LastOccurrence  time.Time `json:"lastOccurrence"`
	ErrorIDs        []string  `json:"errorIds"`
	IsCritical      bool      `json:"isCritical"`
}

// PatternAlert is emitted when a fingerprint bucket crosses the threshold
// inside the pattern window.
type PatternAlert struct {
	Fingerprint string        `json:"pattern"`
	Count       int           `json:"count"`
	Window      time.Duration `json:"window"`
	Sample      ErrorRecord   `json:"sample"`
}

// PatternStats summarizes fingerprint buckets.
type PatternStats struct {
	TotalPatterns    int `json:"totalPatterns"`
	ActivePatterns   int `json:"activePatterns"`
	CriticalPatterns int `json:"criticalPatterns"`
}

// TopError is a fingerprint ranked by occurrence count.
type TopError struct {
	Fingerprint    string    `json:"fingerprint"`
	Count          int       `json:"count"`
	Message        string    `json:"message"`
	Category       Category  `json:"category"`
	Severity       Severity  `json:"severity"`
	LastOccurrence time.Time `json:"lastOccurrence"`
}

// ErrorStats aggregates tracked errors.
type ErrorStats struct {
	Total        int              `json:"total"`
	ByCategory   map[Category]int `json:"byCategory"`
	BySeverity   map[Severity]int `json:"bySeverity"`
	ByUserImpact map[string]int   `json:"byUserImpact"`
	RecoveryRate float64          `json:"recoveryRate"`
	TopErrors    []TopError       `json:"topErrors"`
	RecentTrends map[string]int   `json:"recentTrends"`
	Patterns     PatternStats     `json:"patterns"`
}

// ErrorReport bundles error statistics with the records behind them.
type ErrorReport struct {
	GeneratedAt       time.Time     `json:"generatedAt"`
	Since             time.Time     `json:"since"`
	Until             time.Time     `json:"until"`
	Summary           ErrorStats    `json:"summary"`
	CriticalErrors    []ErrorRecord `json:"criticalErrors"`
	UnrecoveredErrors []ErrorRecord `json:"unrecoveredErrors"`
	Patterns          []PatternInfo `json:"patterns"`
	DetailedErrors    []ErrorRecord `json:"detailedErrors,omitempty"`
}

// Alert is an alert instance produced by a rule or a manual trigger.
type Alert struct {
	ID             string            `json:"id"`
	Rule           string            `json:"rule"`
	Title          string            `json:"title"`
	Message        string            `json:"message"`
	Severity       Severity          `json:"severity"`
	Category       Category          `json:"category"`
	Status         AlertStatus       `json:"status"`
	CreatedAt      time.Time         `json:"createdAt"`
	AcknowledgedBy string            `json:"acknowledgedBy,omitempty"`
	AcknowledgedAt *time.Time        `json:"acknowledgedAt,omitempty"`
	Comment        string            `json:"comment,omitempty"`
	ResolvedBy     string            `json:"resolvedBy,omitempty"`
	ResolvedAt     *time.Time        `json:"resolvedAt,omitempty"`
	Resolution     string            `json:"resolution,omitempty"`
	SuppressionKey string            `json:"suppressionKey"`
	Channels       []string          `json:"channels,omitempty"`
	EscalationAt   *time.Time        `json:"escalationAt,omitempty"`
	Escalated      bool              `json:"escalated"`
	EscalatedFrom  string            `json:"escalatedFrom,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Suppression blocks alerts carrying Key until Until.
type Suppression struct {
	Key       string    `json:"key"`
	Until     time.Time `json:"until"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"createdAt"`
}

// Active reports whether the suppression still applies at now.
func (s Suppression) Active(now time.Time) bool { return now.Before(s.Until) }

// AlertStats aggregates alerts created since a point in time.
type AlertStats struct {
	Total                 int                 `json:"total"`
	BySeverity            map[Severity]int    `json:"bySeverity"`
	ByCategory            map[Category]int    `json:"byCategory"`
	ByStatus              map[AlertStatus]int `json:"byStatus"`
	AcknowledgmentRate    float64             `json:"acknowledgmentRate"`
	ResolutionRate        float64             `json:"resolutionRate"`
	AverageResolutionTime time.Duration       `json:"averageResolutionTime"`
	TopCategories         []CategoryCount     `json:"topCategories"`
	Trends                map[string]int      `json:"trends"`
}

// CategoryCount pairs a category with its alert count.
type CategoryCount struct {
	Category Category `json:"category"`
	Count    int      `json:"count"`
}

// ChannelStats records delivery outcomes for one channel.
type ChannelStats struct {
	Sent       int64     `json:"sent"`
	Failed     int64     `json:"failed"`
	Dropped    int64     `json:"dropped"`
	LastError  string    `json:"lastError,omitempty"`
	LastSentAt time.Time `json:"lastSentAt,omitempty"`
}

// AlertSummary counts alerts by status for the dashboard.
type AlertSummary struct {
	Total        int `json:"total"`
	Active       int `json:"active"`
	Critical     int `json:"critical"`
	Acknowledged int `json:"acknowledged"`
	Resolved     int `json:"resolved"`
}

// Dashboard is a read-only view of the alert engine.
type Dashboard struct {
	Timestamp    time.Time               `json:"timestamp"`
	Summary      AlertSummary            `json:"summary"`
	RecentAlerts []Alert                 `json:"recentAlerts"`
	Stats        AlertStats              `json:"stats"`
	Health       HealthStatus            `json:"health"`
	Suppressions []Suppression           `json:"suppressions"`
	Channels     map[string]ChannelStats `json:"channels"`
	Rules        []RuleStatus            `json:"rules"`
}

// RuleStatus is a read-only view of a registered rule.
type RuleStatus struct {
	Name          string        `json:"name"`
	Description   string        `json:"description,omitempty"`
	Condition     ConditionType `json:"condition"`
	Severity      Severity      `json:"severity"`
	Category      Category      `json:"category"`
	Enabled       bool          `json:"enabled"`
	TriggerCount  int           `json:"triggerCount"`
	LastTriggered *time.Time    `json:"lastTriggered,omitempty"`
	LastError     string        `json:"lastError,omitempty"`
}
