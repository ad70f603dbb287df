package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dwsmith1983/tripwire/internal/engine"
	"github.com/dwsmith1983/tripwire/pkg/types"
)

// ListAlerts returns alerts newest first, filtered by severity, category,
// status and since.
func (h *Handlers) ListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	since, err := parseSince(q.Get("since"), h.now())
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	f := engine.AlertFilter{
		Severity: types.Severity(q.Get("severity")),
		Category: types.Category(q.Get("category")),
		Status:   types.AlertStatus(q.Get("status")),
		Since:    since,
	}
	if f.Severity != "" && !f.Severity.Valid() {
		h.writeError(w, http.StatusBadRequest, "unknown severity", nil)
		return
	}
	h.writeJSON(w, http.StatusOK, h.engine.Alerts(f))
}

// GetAlert returns one alert.
func (h *Handlers) GetAlert(w http.ResponseWriter, r *http.Request) {
	a, ok := h.engine.Alert(chi.URLParam(r, "alertID"))
	if !ok {
		h.writeError(w, http.StatusNotFound, "alert not found", nil)
		return
	}
	h.writeJSON(w, http.StatusOK, a)
}

// AlertStats returns alert statistics, by default for the last 24 hours.
func (h *Handlers) AlertStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("since")
	if q == "" {
		q = "24h"
	}
	since, err := parseSince(q, h.now())
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	h.writeJSON(w, http.StatusOK, h.engine.Stats(since))
}

// Dashboard returns the alert dashboard.
func (h *Handlers) Dashboard(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.engine.Dashboard())
}

type triggerRequest struct {
	Title          string            `json:"title"`
	Message        string            `json:"message"`
	Severity       types.Severity    `json:"severity"`
	Category       types.Category    `json:"category"`
	Channels       []string          `json:"channels"`
	SuppressionKey string            `json:"suppressionKey"`
	Metadata       map[string]string `json:"metadata"`
}

// TriggerAlert raises a manual alert.
func (h *Handlers) TriggerAlert(w http.ResponseWriter, r *http.Request) {
	var body triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", err)
		return
	}
	id, err := h.engine.TriggerAlert(r.Context(), body.Title, body.Message, engine.AlertOptions{
		Severity:       body.Severity,
		Category:       body.Category,
		Channels:       body.Channels,
		SuppressionKey: body.SuppressionKey,
		Metadata:       body.Metadata,
	})
	switch {
	case errors.Is(err, engine.ErrSuppressed):
		h.writeJSON(w, http.StatusOK, map[string]any{"id": nil, "suppressed": true})
		return
	case errors.Is(err, engine.ErrInvalidAlert):
		h.writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	case err != nil:
		h.writeError(w, http.StatusInternalServerError, "failed to trigger alert", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]any{"id": id, "suppressed": false})
}

type transitionRequest struct {
	By         string `json:"by"`
	Comment    string `json:"comment"`
	Resolution string `json:"resolution"`
}

// AcknowledgeAlert moves an active alert to acknowledged.
func (h *Handlers) AcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(id string, body transitionRequest) error {
		return h.engine.Acknowledge(r.Context(), id, body.By, body.Comment)
	})
}

// ResolveAlert resolves an alert.
func (h *Handlers) ResolveAlert(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(id string, body transitionRequest) error {
		return h.engine.Resolve(r.Context(), id, body.By, body.Resolution)
	})
}

func (h *Handlers) transition(w http.ResponseWriter, r *http.Request, apply func(string, transitionRequest) error) {
	id := chi.URLParam(r, "alertID")

	var body transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", err)
		return
	}
	if body.By == "" {
		h.writeError(w, http.StatusBadRequest, "by is required", nil)
		return
	}

	err := apply(id, body)
	switch {
	case errors.Is(err, engine.ErrUnknownAlert):
		h.writeError(w, http.StatusNotFound, "alert not found", nil)
		return
	case errors.Is(err, engine.ErrInvalidTransition):
		h.writeError(w, http.StatusConflict, "invalid state transition", nil)
		return
	case err != nil:
		h.writeError(w, http.StatusInternalServerError, "failed to update alert", err)
		return
	}

	a, _ := h.engine.Alert(id)
	h.writeJSON(w, http.StatusOK, a)
}

// ListSuppressions returns the suppressions still in force.
func (h *Handlers) ListSuppressions(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.engine.Suppressions())
}

type suppressRequest struct {
	Key      string `json:"key"`
	Duration string `json:"duration"`
	Reason   string `json:"reason"`
}

// CreateSuppression installs or overwrites a suppression.
func (h *Handlers) CreateSuppression(w http.ResponseWriter, r *http.Request) {
	var body suppressRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", err)
		return
	}
	var d time.Duration
	if body.Duration != "" {
		parsed, err := time.ParseDuration(body.Duration)
		if err != nil || parsed <= 0 {
			h.writeError(w, http.StatusBadRequest, "duration must be a positive duration", nil)
			return
		}
		d = parsed
	}
	if err := h.engine.Suppress(r.Context(), body.Key, d, body.Reason); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// ListRules returns rule status.
func (h *Handlers) ListRules(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.engine.Rules())
}
