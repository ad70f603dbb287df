package channel

import (
	"context"
	"log/slog"

	"github.com/dwsmith1983/tripwire/pkg/types"
)

// Log writes alerts synchronously to a structured logger.
type Log struct {
	logger *slog.Logger
}

// NewLog creates a log channel. A nil logger uses slog.Default().
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

// Name returns the channel identifier.
func (l *Log) Name() string { return "log" }

// Send logs the alert at a level derived from its severity.
func (l *Log) Send(ctx context.Context, alert types.Alert) error {
	l.logger.Log(ctx, logLevel(alert.Severity), "alert: "+alert.Title,
		"id", alert.ID,
		"rule", alert.Rule,
		"severity", alert.Severity,
		"category", alert.Category,
		"status", alert.Status,
		"message", alert.Message,
	)
	return nil
}

func logLevel(s types.Severity) slog.Level {
	switch s {
	case types.SeverityCritical, types.SeverityHigh:
		return slog.LevelError
	case types.SeverityMedium:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
