package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dwsmith1983/tripwire/internal/metricstore"
)

// ListMetrics returns the metric store snapshot.
func (h *Handlers) ListMetrics(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.metrics.Snapshot())
}

// GetMetric returns statistics for one metric. Unknown metrics yield an
// empty result rather than an error.
func (h *Handlers) GetMetric(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var rng time.Duration
	if q := r.URL.Query().Get("range"); q != "" {
		d, err := time.ParseDuration(q)
		if err != nil || d <= 0 {
			h.writeError(w, http.StatusBadRequest, "range must be a positive duration", nil)
			return
		}
		rng = d
	}

	stats := h.metrics.Stats(name, metricstore.StatsOptions{
		Range:       rng,
		Aggregation: r.URL.Query().Get("aggregation"),
	})
	resp := map[string]any{"name": name, "stats": stats}
	if v, ok := h.metrics.CurrentValue(name); ok {
		resp["current"] = v
	} else {
		resp["current"] = nil
	}
	h.writeJSON(w, http.StatusOK, resp)
}

type recordRequest struct {
	Value *float64          `json:"value"`
	Delta *float64          `json:"delta"`
	Tags  map[string]string `json:"tags"`
}

// RecordMetric records a sample, or increments a counter when delta is
// given.
func (h *Handlers) RecordMetric(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var body recordRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", err)
		return
	}

	var err error
	switch {
	case body.Delta != nil:
		err = h.metrics.Increment(name, *body.Delta, body.Tags)
	case body.Value != nil:
		err = h.metrics.Record(name, *body.Value, body.Tags)
	default:
		h.writeError(w, http.StatusBadRequest, "value or delta is required", nil)
		return
	}
	if err != nil {
		if errors.Is(err, metricstore.ErrInvalidName) || errors.Is(err, metricstore.ErrInvalidValue) || errors.Is(err, metricstore.ErrInvalidKind) {
			h.writeError(w, http.StatusBadRequest, err.Error(), nil)
			return
		}
		h.writeError(w, http.StatusInternalServerError, "failed to record metric", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
