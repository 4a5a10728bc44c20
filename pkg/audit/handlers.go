package audit

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/meridian-cms/audittrail/pkg/httputil"
	"github.com/meridian-cms/audittrail/pkg/middleware"
	"github.com/meridian-cms/audittrail/pkg/observability"
)

// ConfigView is the read-only configuration surface exposed to the admin
// panel. Secrets and storage credentials never appear here.
type ConfigView struct {
	Enabled           bool         `json:"enabled"`
	Deletion          DeletionView `json:"deletion"`
	IndexTableColumns []string     `json:"indexTableColumns"`
}

// DeletionView describes the active retention policy.
type DeletionView struct {
	Enabled  bool   `json:"enabled"`
	Mode     string `json:"mode"`
	Value    int64  `json:"value,omitempty"`
	Interval string `json:"interval,omitempty"`
}

// Handlers provides the HTTP API over the audit log pipeline: ingestion,
// querying, export, manual cleanup and configuration inspection.
type Handlers struct {
	pipeline *Pipeline
	query    *QueryService
	engine   *Engine

	// policy and configView read the live configuration so hot reloads
	// are visible without restarting the handlers.
	policy     func() RetentionPolicy
	configView func() ConfigView

	logger *observability.Logger
}

// NewHandlers creates the audit log API handlers.
func NewHandlers(pipeline *Pipeline, query *QueryService, engine *Engine, policy func() RetentionPolicy, configView func() ConfigView, logger *observability.Logger) *Handlers {
	return &Handlers{
		pipeline:   pipeline,
		query:      query,
		engine:     engine,
		policy:     policy,
		configView: configView,
		logger:     logger,
	}
}

// RegisterRoutes registers the audit log routes with per-route capability
// requirements. The router is expected to already carry authentication.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	read := middleware.RequireCapability(middleware.CapabilityRead)
	admin := middleware.RequireCapability(middleware.CapabilityAdmin)
	ingest := middleware.RequireCapability(middleware.CapabilityIngest)

	router.Handle("/audit-logs", ingest(http.HandlerFunc(h.ingestEvent))).Methods("POST")
	router.Handle("/audit-logs", read(http.HandlerFunc(h.listLogs))).Methods("GET")
	router.Handle("/audit-logs/export", read(http.HandlerFunc(h.exportLogs))).Methods("GET")
	router.Handle("/audit-logs/config", read(http.HandlerFunc(h.getConfig))).Methods("GET")
	router.Handle("/audit-logs/cleanup", admin(http.HandlerFunc(h.runCleanup))).Methods("POST")
	router.Handle("/audit-logs/{id:[0-9]+}", read(http.HandlerFunc(h.getLog))).Methods("GET")
}

// listLogs handles GET /audit-logs
func (h *Handlers) listLogs(w http.ResponseWriter, r *http.Request) {
	opts := parseListOptions(r)

	result, err := h.query.List(r.Context(), opts)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list audit logs")
		httputil.WriteInternalError(w, errors.New("failed to list audit logs"))
		return
	}

	httputil.WriteSuccess(w, result)
}

// getLog handles GET /audit-logs/{id}. The payload detail is only returned
// to callers holding the read-details capability.
func (h *Handlers) getLog(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid audit log ID")
		return
	}

	authorized := middleware.HasCapability(r, middleware.CapabilityReadDetails)

	record, err := h.query.GetOne(r.Context(), id, authorized)
	switch {
	case errors.Is(err, ErrUnauthorized):
		httputil.WriteForbidden(w, "missing capability: "+middleware.CapabilityReadDetails)
		return
	case errors.Is(err, ErrNotFound):
		httputil.WriteNotFoundError(w, "audit log not found")
		return
	case err != nil:
		h.logger.WithError(err).WithField("id", id).Error("Failed to fetch audit log")
		httputil.WriteInternalError(w, errors.New("failed to fetch audit log"))
		return
	}

	httputil.WriteSuccess(w, record)
}

// exportLogs handles GET /audit-logs/export
func (h *Handlers) exportLogs(w http.ResponseWriter, r *http.Request) {
	opts := parseListOptions(r)

	format := ExportFormat(r.URL.Query().Get("format"))
	if format == "" {
		format = ExportFormatJSON
	}

	data, err := h.query.Export(r.Context(), opts, format)
	switch {
	case errors.Is(err, ErrUnsupportedExportFormat):
		httputil.WriteBadRequest(w, err.Error())
		return
	case err != nil:
		h.logger.WithError(err).Error("Failed to export audit logs")
		httputil.WriteInternalError(w, errors.New("failed to export audit logs"))
		return
	}

	switch format {
	case ExportFormatCSV:
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", "attachment; filename=audit-logs.csv")
	case ExportFormatNDJSON:
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Header().Set("Content-Disposition", "attachment; filename=audit-logs.ndjson")
	default:
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", "attachment; filename=audit-logs.json")
	}

	w.Write(data)
}

// runCleanup handles POST /audit-logs/cleanup, applying the currently
// configured retention policy on demand.
func (h *Handlers) runCleanup(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.engine.RunCleanup(r.Context(), h.policy(), time.Now().UTC())
	switch {
	case errors.Is(err, ErrCleanupInProgress):
		httputil.WriteConflict(w, "a cleanup run is already in progress")
		return
	case err != nil:
		h.logger.WithError(err).Error("Manual cleanup run failed")
		httputil.WriteInternalError(w, errors.New("cleanup run failed"))
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"deleted": deleted,
	})
}

// getConfig handles GET /audit-logs/config
func (h *Handlers) getConfig(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, h.configView())
}

// parseListOptions parses filter and pagination query parameters.
func parseListOptions(r *http.Request) ListOptions {
	query := r.URL.Query()
	return ListOptions{
		Page:     httputil.QueryInt(r, "page", 1),
		PageSize: httputil.QueryInt(r, "pageSize", defaultPageSize),
		User:     query.Get("user"),
		Action:   query.Get("action"),
		Sort:     query.Get("sort"),
	}
}
