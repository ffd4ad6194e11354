package vfd

import (
	"encoding/json"
	"net/http"
)

// Handler serves the energy-saving read model.
type Handler struct {
	service *Service
}

// NewHandler constructs a handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// ServeHTTP handles GET /api/v1/vfd.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.service == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}

	summary, err := h.service.Summary()
	if err != nil {
		http.Error(w, "read drive status error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(summary)
}
