package handlers

import (
	"net/http"
)

// Health returns the supervisor's health snapshot: one entry per configured
// route with status, uptime, port, and pid. Derived from supervisor-local
// bookkeeping only; no network probes.
func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.Sup.Health())
}
