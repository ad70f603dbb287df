package handlers

import (
	"encoding/json"
	"net/http"
)

// Health returns the server health status and the alert health summary.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if h.store != nil {
		if err := h.store.Ping(r.Context()); err != nil {
			h.logger.Warn("store ping failed", "error", err)
			status = "degraded"
		}
	}

	if err := json.NewEncoder(w).Encode(map[string]string{
		"status": status,
		"alerts": string(h.engine.Health()),
	}); err != nil {
		http.Error(w, `{"error":"failed to encode response"}`, http.StatusInternalServerError)
		return
	}
}
