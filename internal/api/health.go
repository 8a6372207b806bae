package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/docvault/engine/pkg/models"
	"github.com/docvault/engine/pkg/registry"
)

// HealthHandler serves /health directly off the outer router, bypassing
// the dispatcher entirely since every dispatcher action is authenticated
// unconditionally (§6: health checks are exempt from auth).
type HealthHandler struct {
	registry *registry.Registry
}

// NewHealthHandler creates a health handler bound to reg.
func NewHealthHandler(reg *registry.Registry) *HealthHandler {
	return &HealthHandler{registry: reg}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ready := h.registry.Ready()
	w.Header().Set("Content-Type", "application/json")
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(models.HealthView{Ready: ready, Timestamp: time.Now()})
}
