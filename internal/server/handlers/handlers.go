// Package handlers implements HTTP request handlers for the tripwire API.
package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dwsmith1983/tripwire/internal/engine"
	"github.com/dwsmith1983/tripwire/internal/metricstore"
	"github.com/dwsmith1983/tripwire/internal/store"
	"github.com/dwsmith1983/tripwire/internal/tracker"
)

// Handlers contains all HTTP handler dependencies.
type Handlers struct {
	engine  *engine.Engine
	metrics *metricstore.Store
	tracker *tracker.Tracker
	store   store.Store
	now     func() time.Time
	logger  *slog.Logger
}

// New creates a new Handlers instance. st may be nil when alerts are not
// persisted.
func New(eng *engine.Engine, ms *metricstore.Store, tr *tracker.Tracker, st store.Store) *Handlers {
	return &Handlers{
		engine:  eng,
		metrics: ms,
		tracker: tr,
		store:   st,
		now:     time.Now,
		logger:  slog.Default(),
	}
}

// SetLogger overrides the default logger.
func (h *Handlers) SetLogger(l *slog.Logger) {
	if l != nil {
		h.logger = l
	}
}

// SetClock overrides the clock used to resolve relative "since" queries.
func (h *Handlers) SetClock(now func() time.Time) {
	if now != nil {
		h.now = now
	}
}

// writeError logs the internal error and returns a sanitized JSON error to the client.
func (h *Handlers) writeError(w http.ResponseWriter, status int, msg string, err error) {
	if err != nil {
		h.logger.Error(msg, "error", err, "status", status)
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encoding response", "error", err)
	}
}

// parseSince accepts a Go duration relative to now ("1h") or an RFC 3339
// timestamp. An empty value yields the zero time.
func parseSince(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		if d < 0 {
			return time.Time{}, fmt.Errorf("since must not be negative")
		}
		return now.Add(-d), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("since must be a duration or RFC 3339 time")
	}
	return t, nil
}
