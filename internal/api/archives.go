package api

import (
	"net/http"
	"strconv"
)

const defaultRecentArchives = 5

func (h *Handlers) GetArchives(w http.ResponseWriter, r *http.Request) {
	endpoint := r.URL.Query().Get("endpoint")

	archives, err := h.catalog.List(endpoint)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to list archives", err)
		return
	}

	h.writeSuccess(w, http.StatusOK, archives, "")
}

func (h *Handlers) GetArchiveSummary(w http.ResponseWriter, r *http.Request) {
	recent := defaultRecentArchives
	if recentStr := r.URL.Query().Get("recent"); recentStr != "" {
		parsed, err := strconv.Atoi(recentStr)
		if err != nil || parsed < 1 {
			h.writeError(w, http.StatusBadRequest, "recent must be a positive integer", err)
			return
		}
		recent = parsed
	}

	summary, err := h.catalog.Summary(recent)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to summarize archives", err)
		return
	}

	h.writeSuccess(w, http.StatusOK, summary, "")
}
