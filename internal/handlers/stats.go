package handlers

import (
	"net/http"

	"capture-library/internal/database"
)

const defaultHistogramLimit = 20

// GetStats returns item count, pinned count and total bytes.
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, ok := h.lib.Stats(r.Context())
	if !ok {
		writeJSONError(w, "Library unavailable or busy", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, stats)
}

// GetApps returns the most captured source apps.
func (h *Handlers) GetApps(w http.ResponseWriter, r *http.Request) {
	apps, ok := h.lib.AppHistogram(r.Context(), queryInt(r, "limit", defaultHistogramLimit))
	if !ok {
		writeJSONError(w, "Library unavailable or busy", http.StatusServiceUnavailable)
		return
	}
	if apps == nil {
		apps = []database.AppCount{}
	}
	writeJSON(w, apps)
}

// GetTags returns tags with their item counts.
func (h *Handlers) GetTags(w http.ResponseWriter, r *http.Request) {
	tags, ok := h.lib.TagHistogram(r.Context(), queryInt(r, "limit", 0))
	if !ok {
		writeJSONError(w, "Library unavailable or busy", http.StatusServiceUnavailable)
		return
	}
	if tags == nil {
		tags = []database.Tag{}
	}
	writeJSON(w, tags)
}
