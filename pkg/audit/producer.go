package audit

import (
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/meridian-cms/audittrail/pkg/contextkeys"
	"github.com/meridian-cms/audittrail/pkg/httputil"
	"github.com/meridian-cms/audittrail/pkg/middleware"
	"github.com/meridian-cms/audittrail/pkg/observability"
)

// ingestEvent handles POST /audit-logs, the push path for event producers
// that cannot sit behind the Recorder middleware.
func (h *Handlers) ingestEvent(w http.ResponseWriter, r *http.Request) {
	var event AuditEvent
	if err := httputil.ParseJSON(r, &event); err != nil {
		httputil.WriteBadRequest(w, "invalid event payload: "+err.Error())
		return
	}
	if event.Action == "" {
		httputil.WriteBadRequest(w, "event action is required")
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	id, captured, err := h.pipeline.Ingest(r.Context(), &event)
	if err != nil {
		var malformed *MalformedPayloadError
		if errors.As(err, &malformed) {
			httputil.WriteErrorMessage(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		h.logger.WithError(err).WithField("action", event.Action).Error("Failed to ingest audit event")
		httputil.WriteInternalError(w, errors.New("failed to ingest audit event"))
		return
	}

	if !captured {
		httputil.WriteSuccess(w, map[string]interface{}{
			"captured": false,
		})
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"id":       id,
		"captured": true,
	})
}

// RouteClassifier maps a finished HTTP request to an event action. Returning
// false skips the request entirely, before the pipeline's own filtering.
type RouteClassifier func(r *http.Request, statusCode int) (string, bool)

// Recorder observes HTTP traffic on a host application and feeds the
// resulting events into the ingestion pipeline. Requests are recorded after
// the response is written so the status code is known.
type Recorder struct {
	pipeline *Pipeline
	classify RouteClassifier
	logger   *observability.Logger
}

// NewRecorder creates a traffic recorder. A nil classifier records every
// mutating request under a method-derived action.
func NewRecorder(pipeline *Pipeline, classify RouteClassifier, logger *observability.Logger) *Recorder {
	if classify == nil {
		classify = defaultClassifier
	}
	return &Recorder{
		pipeline: pipeline,
		classify: classify,
		logger:   logger,
	}
}

// recorderResponseWriter wraps http.ResponseWriter to capture the status code
type recorderResponseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *recorderResponseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *recorderResponseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// Handler wraps an HTTP handler with audit event recording.
func (rec *Recorder) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrapped := &recorderResponseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(wrapped, r)

		action, ok := rec.classify(r, wrapped.statusCode)
		if !ok {
			return
		}

		event := &AuditEvent{
			Action:      action,
			Timestamp:   time.Now().UTC(),
			Endpoint:    r.URL.Path,
			Method:      r.Method,
			StatusCode:  wrapped.statusCode,
			IPAddress:   getClientIP(r),
			UserAgent:   r.UserAgent(),
			RequestID:   contextkeys.GetRequestID(r.Context()),
			ContentType: r.Header.Get("Content-Type"),
		}
		if auth := middleware.GetAuthContext(r); auth != nil {
			event.Actor = &Actor{
				ID:          auth.UserID,
				DisplayName: auth.UserName,
			}
		}

		// Recording failures must never fail the observed request.
		if _, _, err := rec.pipeline.Ingest(r.Context(), event); err != nil {
			rec.logger.WithError(err).WithField("action", action).Warn("Failed to record audit event")
		}
	})
}

// defaultClassifier records mutating requests and authentication outcomes.
func defaultClassifier(r *http.Request, statusCode int) (string, bool) {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return "", false
	}

	if strings.HasPrefix(r.URL.Path, "/admin/login") {
		if statusCode < 400 {
			return ActionAuthSuccess, true
		}
		return ActionAuthFailure, true
	}
	if strings.HasPrefix(r.URL.Path, "/admin/logout") {
		return ActionLogout, true
	}

	switch r.Method {
	case http.MethodPost:
		return ActionEntryCreate, true
	case http.MethodPut, http.MethodPatch:
		return ActionEntryUpdate, true
	case http.MethodDelete:
		return ActionEntryDelete, true
	}
	return "", false
}

// getClientIP extracts the client IP, preferring proxy-set headers.
func getClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if first, _, found := strings.Cut(forwarded, ","); found || first != "" {
			return strings.TrimSpace(first)
		}
	}
	if realIP := r.Header.Get("X-Real-Ip"); realIP != "" {
		return realIP
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
