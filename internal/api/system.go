package api

import (
	"net/http"
	"time"
)

var startTime = time.Now()

func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(startTime).String(),
	}

	if summary, err := h.repo.GetSummary(); err == nil {
		health["jobs"] = summary
	}

	h.writeSuccess(w, http.StatusOK, health, "Service is healthy")
}
