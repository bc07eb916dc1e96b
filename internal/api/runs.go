package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

const defaultRunLimit = 20

func (h *Handlers) GetRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer", err)
			return
		}
		limit = parsed
	}

	runs, err := h.repo.GetRecentRuns(limit)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to get runs", err)
		return
	}

	h.writeSuccess(w, http.StatusOK, runs, "")
}

func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	run, err := h.repo.GetRun(id)
	if err != nil {
		h.writeError(w, http.StatusNotFound, "Run not found", err)
		return
	}

	h.writeSuccess(w, http.StatusOK, run, "")
}

func (h *Handlers) GetRunOutcomes(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	// Resolve the run first so missing ids return 404 rather than an empty list.
	if _, err := h.repo.GetRun(id); err != nil {
		h.writeError(w, http.StatusNotFound, "Run not found", err)
		return
	}

	outcomes, err := h.repo.GetRunOutcomes(id)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to get run outcomes", err)
		return
	}

	h.writeSuccess(w, http.StatusOK, outcomes, "")
}

func (h *Handlers) GetSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.repo.GetSummary()
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to get summary", err)
		return
	}

	h.writeSuccess(w, http.StatusOK, summary, "")
}
