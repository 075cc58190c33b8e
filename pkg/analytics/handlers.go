package analytics

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
)

// Handlers exposes the read-only analytics API used by the educator
// dashboard. Ingestion stays in-process through the Engine methods;
// nothing here writes telemetry.
type Handlers struct {
	engine *Engine
}

// NewHandlers creates the analytics HTTP handlers.
func NewHandlers(engine *Engine) *Handlers {
	return &Handlers{
		engine: engine,
	}
}

// RegisterRoutes registers the analytics routes.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/analytics/global", h.getGlobal).Methods("GET")
	router.HandleFunc("/analytics/engagement", h.getEngagement).Methods("GET")
	router.HandleFunc("/analytics/users/{id}/insights", h.getUserInsights).Methods("GET")
	router.HandleFunc("/analytics/export", h.exportEvents).Methods("GET")
}

// getGlobal handles GET /analytics/global
func (h *Handlers) getGlobal(w http.ResponseWriter, r *http.Request) {
	stats := h.engine.GlobalAnalytics(r.Context())

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// getEngagement handles GET /analytics/engagement
func (h *Handlers) getEngagement(w http.ResponseWriter, r *http.Request) {
	metrics := h.engine.EngagementMetrics(r.Context())

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(metrics)
}

// getUserInsights handles GET /analytics/users/{id}/insights. The id
// may be a raw identifier; it is anonymized before lookup, so callers
// holding either form get the same answer.
func (h *Handlers) getUserInsights(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	insights, err := h.engine.UserInsights(r.Context(), vars["id"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if insights == nil {
		http.Error(w, "user not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(insights)
}

// exportEvents handles GET /analytics/export
func (h *Handlers) exportEvents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	format := ExportFormat(query.Get("format"))
	if format == "" {
		format = ExportFormatJSON
	}

	data, err := h.engine.ExportData(r.Context(), query.Get("user_id"), format)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	switch format {
	case ExportFormatCSV:
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", "attachment; filename=telemetry-events.csv")
	case ExportFormatNDJSON:
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Header().Set("Content-Disposition", "attachment; filename=telemetry-events.ndjson")
	default:
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", "attachment; filename=telemetry-events.json")
	}

	w.Write(data)
}
