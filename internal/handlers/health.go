package handlers

import (
	"net/http"
	"runtime"

	"capture-library/internal/startup"
)

const (
	statusHealthy  = "healthy"
	statusDegraded = "degraded"
)

// HealthResponse contains the health check response
type HealthResponse struct {
	Status  string `json:"status"`
	Ready   bool   `json:"ready"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
	Error   string `json:"error,omitempty"`

	GoVersion    string `json:"goVersion"`
	NumGoroutine int    `json:"numGoroutine"`

	Items       int64 `json:"items"`
	PinnedItems int64 `json:"pinnedItems"`
	TotalBytes  int64 `json:"totalBytes"`
}

// HealthCheck reports whether the library database can be opened and read.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := h.lib.Health(r.Context())

	response := HealthResponse{
		Status:       statusHealthy,
		Ready:        status.Ready,
		Version:      startup.Version,
		Uptime:       status.Uptime,
		Error:        status.Error,
		GoVersion:    runtime.Version(),
		NumGoroutine: runtime.NumGoroutine(),
	}
	if status.Stats != nil {
		response.Items = status.Stats.ItemCount
		response.PinnedItems = status.Stats.PinnedCount
		response.TotalBytes = status.Stats.TotalBytes
	}

	w.Header().Set("Content-Type", "application/json")
	if !status.Ready {
		response.Status = statusDegraded
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	if r.Method != http.MethodHead {
		writeJSON(w, response)
	}
}
