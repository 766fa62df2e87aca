package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/radiowatch/radiowatch/internal/aggregates"
	"github.com/radiowatch/radiowatch/internal/alerting"
	"github.com/radiowatch/radiowatch/internal/api"
	"github.com/radiowatch/radiowatch/internal/database"
	"github.com/radiowatch/radiowatch/internal/maintenance"
	"github.com/radiowatch/radiowatch/internal/middleware"
)

// APIHandler exposes the operator query and alert-management surface
type APIHandler struct {
	calls        *database.CallStore
	samples      *database.MetricStore
	refresher    *aggregates.Refresher
	orchestrator *maintenance.Orchestrator
	engine       *alerting.Engine
}

// NewAPIHandler creates a new API handler
func NewAPIHandler(db *gorm.DB, refresher *aggregates.Refresher, orchestrator *maintenance.Orchestrator, engine *alerting.Engine) *APIHandler {
	return &APIHandler{
		calls:        database.NewCallStore(db),
		samples:      database.NewMetricStore(db),
		refresher:    refresher,
		orchestrator: orchestrator,
		engine:       engine,
	}
}

// SetupRoutes sets up the API routes
func (h *APIHandler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/calls/search", h.handleSearchCalls)
	mux.HandleFunc("/api/metrics", h.handleMetrics)
	mux.HandleFunc("/api/alerts", h.handleListAlerts)
	mux.HandleFunc("/api/alerts/", h.handleAlertAction)
	mux.HandleFunc("/api/report", h.handleReport)
	mux.HandleFunc("/api/rollup", h.handleRollup)
}

// handleSearchCalls handles GET /api/calls/search?q=&limit=&offset=
func (h *APIHandler) handleSearchCalls(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		api.RespondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	term := r.URL.Query().Get("q")
	if strings.TrimSpace(term) == "" {
		api.RespondError(w, http.StatusBadRequest, "Query parameter 'q' is required")
		return
	}

	params := api.ParseListParams(r)
	results, err := h.calls.SearchCalls(term, params.Limit, params.Offset)
	if err != nil {
		api.RespondStoreError(w, err)
		return
	}

	api.RespondJSON(w, http.StatusOK, api.NewListResponse(results, params, len(results)))
}

// handleMetrics handles GET /api/metrics?name=&minutes=
func (h *APIHandler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		api.RespondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	minutes := 60
	if v := r.URL.Query().Get("minutes"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			api.RespondError(w, http.StatusBadRequest, "Parameter 'minutes' must be a positive integer")
			return
		}
		minutes = n
	}

	now := time.Now().UTC()
	samples, err := h.samples.SamplesInRange(now.Add(-time.Duration(minutes)*time.Minute), now, r.URL.Query().Get("name"))
	if err != nil {
		api.RespondStoreError(w, err)
		return
	}

	api.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"minutes": minutes,
		"samples": samples,
	})
}

// handleListAlerts handles GET /api/alerts?status=&limit=
func (h *APIHandler) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		api.RespondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	status := database.AlertStatus(r.URL.Query().Get("status"))
	switch status {
	case "", database.AlertStatusActive, database.AlertStatusAcknowledged,
		database.AlertStatusResolved, database.AlertStatusSuppressed:
	default:
		api.RespondError(w, http.StatusBadRequest, "Unknown alert status")
		return
	}

	params := api.ParseListParams(r)
	alerts, err := h.engine.ListAlerts(status, params.Limit)
	if err != nil {
		api.RespondStoreError(w, err)
		return
	}

	api.RespondJSON(w, http.StatusOK, api.NewListResponse(alerts, params, len(alerts)))
}

// alertActionRequest is the body for acknowledge/resolve actions. The
// acting user defaults to the authenticated one.
type alertActionRequest struct {
	By    string `json:"by"`
	Notes string `json:"notes"`
}

// handleAlertAction handles POST /api/alerts/{uuid}/ack and
// POST /api/alerts/{uuid}/resolve
func (h *APIHandler) handleAlertAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		api.RespondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/alerts/"), "/")
	if len(parts) != 2 || parts[0] == "" {
		api.RespondError(w, http.StatusNotFound, "Not found")
		return
	}
	alertUUID, action := parts[0], parts[1]

	var req alertActionRequest
	if r.ContentLength > 0 {
		if err := api.DecodeJSON(r, &req); err != nil {
			api.RespondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}
	if req.By == "" {
		req.By = middleware.GetUserFromContext(r.Context())
	}
	if req.By == "" {
		api.RespondError(w, http.StatusBadRequest, "Field 'by' is required")
		return
	}

	var err error
	switch action {
	case "ack":
		err = h.engine.AcknowledgeAlert(alertUUID, req.By)
	case "resolve":
		err = h.engine.ResolveAlert(alertUUID, req.By, req.Notes)
	default:
		api.RespondError(w, http.StatusNotFound, "Not found")
		return
	}
	if err != nil {
		api.RespondStoreError(w, err)
		return
	}

	api.RespondJSON(w, http.StatusOK, map[string]string{"uuid": alertUUID, "action": action})
}

// handleReport handles GET /api/report, returning the last maintenance
// cycle's outcome list
func (h *APIHandler) handleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		api.RespondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	report := h.orchestrator.LastReport()
	if report == nil {
		api.RespondError(w, http.StatusNotFound, "No maintenance cycle has run yet")
		return
	}
	api.RespondJSON(w, http.StatusOK, report)
}

// handleRollup handles GET /api/rollup, returning the current
// aggregate snapshot
func (h *APIHandler) handleRollup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		api.RespondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	rollup := h.refresher.Current()
	if rollup == nil {
		api.RespondError(w, http.StatusNotFound, "No rollup has been computed yet")
		return
	}
	api.RespondJSON(w, http.StatusOK, rollup)
}
