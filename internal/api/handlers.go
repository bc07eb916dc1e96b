package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"loghaul/internal/archive"
	"loghaul/internal/config"
	"loghaul/internal/repository"

	"github.com/gorilla/mux"
)

type Handlers struct {
	repo    *repository.Repository
	catalog *archive.Catalog
	config  *config.Config
}

type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func NewHandlers(repo *repository.Repository, catalog *archive.Catalog, cfg *config.Config) *Handlers {
	return &Handlers{
		repo:    repo,
		catalog: catalog,
		config:  cfg,
	}
}

func (h *Handlers) RegisterRoutes(r *mux.Router) {
	// Health endpoint outside the versioned prefix for probes
	r.HandleFunc("/health", h.HealthCheck).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()

	// Run history endpoints
	api.HandleFunc("/runs", h.GetRuns).Methods("GET")
	api.HandleFunc("/runs/{id}", h.GetRun).Methods("GET")
	api.HandleFunc("/runs/{id}/outcomes", h.GetRunOutcomes).Methods("GET")
	api.HandleFunc("/summary", h.GetSummary).Methods("GET")

	// Archive catalog endpoints
	api.HandleFunc("/archives", h.GetArchives).Methods("GET")
	api.HandleFunc("/archives/summary", h.GetArchiveSummary).Methods("GET")

	// System endpoints
	api.HandleFunc("/health", h.HealthCheck).Methods("GET")

	api.Use(corsMiddleware)
	api.Use(loggingMiddleware)
	api.Use(jsonContentTypeMiddleware)
}

func (h *Handlers) writeSuccess(w http.ResponseWriter, statusCode int, data interface{}, message string) {
	w.WriteHeader(statusCode)
	response := APIResponse{
		Success: true,
		Data:    data,
		Message: message,
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, statusCode int, message string, err error) {
	w.WriteHeader(statusCode)
	response := APIResponse{
		Success: false,
		Error:   message,
	}

	if err != nil {
		slog.Error("API error", "message", message, "error", err)
	} else {
		slog.Warn("API error", "message", message)
	}

	if jsonErr := json.NewEncoder(w).Encode(response); jsonErr != nil {
		slog.Error("failed to encode error response", "error", jsonErr)
	}
}
