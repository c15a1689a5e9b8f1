package api

import "net/http"

// HandleHealthz reports liveness.
// GET /api/healthz
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
