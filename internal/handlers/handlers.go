package handlers

import (
	"context"
	"net/http"

	"capture-library/internal/cleanup"
	"capture-library/internal/database"
	"capture-library/internal/library"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Library is the part of the capture library the API serves.
type Library interface {
	Get(ctx context.Context, id string) (*database.CaptureItem, bool)
	Search(ctx context.Context, f database.Filter, limit, offset int) ([]*database.CaptureItem, bool)
	Thumbnail(ctx context.Context, id string) ([]byte, bool)
	SetPinned(ctx context.Context, id string, pinned bool) bool
	SetNote(ctx context.Context, id, note string) bool
	SetTags(ctx context.Context, id string, tags []string) ([]string, bool)
	Delete(ctx context.Context, ids []string) (int, bool)
	Stats(ctx context.Context) (database.LibraryStats, bool)
	AppHistogram(ctx context.Context, limit int) ([]database.AppCount, bool)
	TagHistogram(ctx context.Context, limit int) ([]database.Tag, bool)
	RunCleanup(ctx context.Context) (cleanup.Report, bool)
	Health(ctx context.Context) library.HealthStatus
}

// Handlers serves the API.
type Handlers struct {
	lib Library
}

// New creates handlers over lib.
func New(lib Library) *Handlers {
	return &Handlers{lib: lib}
}

// Routes registers every API route on r. The metrics endpoint is only
// registered when withMetrics is set.
func (h *Handlers) Routes(r *mux.Router, withMetrics bool) {
	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet, http.MethodHead).Name("health")
	r.HandleFunc("/version", h.GetVersion).Methods(http.MethodGet).Name("version")
	if withMetrics {
		r.Handle("/metrics", h.MetricsHandler()).Methods(http.MethodGet).Name("metrics")
	}

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/items", h.ListItems).Methods(http.MethodGet).Name("listItems")
	api.HandleFunc("/items/delete", h.DeleteItems).Methods(http.MethodPost).Name("deleteItems")
	api.HandleFunc("/items/{id}", h.GetItem).Methods(http.MethodGet).Name("getItem")
	api.HandleFunc("/items/{id}/thumbnail", h.GetThumbnail).Methods(http.MethodGet).Name("thumbnail")
	api.HandleFunc("/items/{id}/pin", h.SetPinned).Methods(http.MethodPut).Name("setPinned")
	api.HandleFunc("/items/{id}/tags", h.SetTags).Methods(http.MethodPut).Name("setTags")
	api.HandleFunc("/items/{id}/note", h.SetNote).Methods(http.MethodPut).Name("setNote")
	api.HandleFunc("/stats", h.GetStats).Methods(http.MethodGet).Name("stats")
	api.HandleFunc("/apps", h.GetApps).Methods(http.MethodGet).Name("apps")
	api.HandleFunc("/tags", h.GetTags).Methods(http.MethodGet).Name("tags")
	api.HandleFunc("/cleanup", h.RunCleanup).Methods(http.MethodPost).Name("cleanup")
}

// MetricsHandler returns the Prometheus metrics handler
func (h *Handlers) MetricsHandler() http.Handler {
	return promhttp.Handler()
}
