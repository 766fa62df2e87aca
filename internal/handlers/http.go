package handlers

import (
	"net/http"

	"gorm.io/gorm"

	"github.com/radiowatch/radiowatch/internal/api"
	"github.com/radiowatch/radiowatch/internal/database"
)

// HTTPHandler handles the unauthenticated service endpoints
type HTTPHandler struct {
	db *gorm.DB
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(db *gorm.DB) *HTTPHandler {
	return &HTTPHandler{db: db}
}

// SetupRoutes configures the service routes
func (h *HTTPHandler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.handleHealth)
}

// handleHealth returns a simple health check response. It reports
// degraded (503) when the store cannot be reached.
func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		api.RespondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if err := database.Ping(h.db); err != nil {
		api.RespondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}

	api.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
