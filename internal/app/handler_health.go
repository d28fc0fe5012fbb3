package app

import (
	"encoding/json"
	"net/http"
)

var healthResponse = map[string]string{"status": "healthy"}

// healthHandler answers GET /health without touching the shared store or
// upstream - it only confirms the process itself is serving.
func (a *Application) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(healthResponse)
}
