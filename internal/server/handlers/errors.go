package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dwsmith1983/tripwire/internal/tracker"
	"github.com/dwsmith1983/tripwire/pkg/types"
)

// ErrorStats returns tracked error statistics.
func (h *Handlers) ErrorStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	since, err := parseSince(q.Get("since"), h.now())
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	h.writeJSON(w, http.StatusOK, h.tracker.Stats(tracker.Filter{
		Since:    since,
		Category: types.Category(q.Get("category")),
		Severity: types.Severity(q.Get("severity")),
	}))
}

// ErrorPatterns returns active fingerprint buckets and pattern totals.
func (h *Handlers) ErrorPatterns(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"stats":    h.tracker.PatternStats(),
		"patterns": h.tracker.ActivePatterns(),
	})
}

// ErrorReport returns the error report for ?range (default 24h).
func (h *Handlers) ErrorReport(w http.ResponseWriter, r *http.Request) {
	opts := tracker.ReportOptions{IncludeDetails: r.URL.Query().Get("details") == "true"}
	if q := r.URL.Query().Get("range"); q != "" {
		since, err := parseSince(q, h.now())
		if err != nil {
			h.writeError(w, http.StatusBadRequest, err.Error(), nil)
			return
		}
		opts.Range = h.now().Sub(since)
	}
	h.writeJSON(w, http.StatusOK, h.tracker.Report(opts))
}

type trackRequest struct {
	Name     string         `json:"name"`
	Message  string         `json:"message"`
	Stack    string         `json:"stack"`
	File     string         `json:"file"`
	Line     int            `json:"line"`
	Context  map[string]any `json:"context"`
	Category types.Category `json:"category"`
	Severity types.Severity `json:"severity"`
	Tags     []string       `json:"tags"`
}

// TrackError records an error reported by an external producer.
func (h *Handlers) TrackError(w http.ResponseWriter, r *http.Request) {
	var body trackRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", err)
		return
	}
	id, err := h.tracker.Track(tracker.ErrorInput{
		Name:    body.Name,
		Message: body.Message,
		Stack:   body.Stack,
		File:    body.File,
		Line:    body.Line,
	}, body.Context, tracker.TrackOptions{
		Category: body.Category,
		Severity: body.Severity,
		Tags:     body.Tags,
	})
	if errors.Is(err, tracker.ErrEmptyEvent) {
		h.writeError(w, http.StatusBadRequest, "name, message or stack is required", nil)
		return
	}
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to track error", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}
