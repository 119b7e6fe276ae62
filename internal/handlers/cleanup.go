package handlers

import (
	"net/http"
)

// RunCleanup runs the configured cleanup policy now and returns its report.
func (h *Handlers) RunCleanup(w http.ResponseWriter, r *http.Request) {
	rep, ok := h.lib.RunCleanup(r.Context())
	if !ok {
		writeJSONError(w, "Cleanup failed or library busy", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, rep)
}
