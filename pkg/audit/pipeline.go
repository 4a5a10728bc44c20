package audit

import (
	"context"
	"sync"
	"time"

	"github.com/meridian-cms/audittrail/pkg/observability"
)

// Pipeline is the single write path into the audit trail: it filters,
// redacts and persists each raw event. Ingestion calls may run concurrently;
// each produces an independent record, so the only shared state is the
// swappable rule set guarded below.
type Pipeline struct {
	mu       sync.RWMutex
	enabled  bool
	filter   *Filter
	redactor *Redactor

	store   Store
	logger  *observability.Logger
	metrics *observability.Metrics

	// now is swappable for tests; records always carry the ingestion-time
	// date, never the producer-supplied timestamp.
	now func() time.Time
}

// NewPipeline wires the ingestion path. The pipeline starts enabled; use
// SetEnabled to honor the top-level configuration switch.
func NewPipeline(filter *Filter, redactor *Redactor, store Store, logger *observability.Logger, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{
		enabled:  true,
		filter:   filter,
		redactor: redactor,
		store:    store,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
	}
}

// SetEnabled toggles the whole pipeline. When disabled every event is
// dropped without persistence.
func (p *Pipeline) SetEnabled(enabled bool) {
	p.mu.Lock()
	p.enabled = enabled
	p.mu.Unlock()
}

// SetRules swaps the admission and redaction rules, used on configuration
// reload. In-flight ingestions finish under the rules they started with.
func (p *Pipeline) SetRules(filter *Filter, redactor *Redactor) {
	p.mu.Lock()
	p.filter = filter
	p.redactor = redactor
	p.mu.Unlock()
}

// Ingest runs one event through filter, redaction and persistence. It
// returns the new record id and captured=true for admitted events, or
// captured=false with no error for intentionally dropped ones. Persistence
// failures are surfaced to the caller; the pipeline performs no retry.
func (p *Pipeline) Ingest(ctx context.Context, event *AuditEvent) (int64, bool, error) {
	p.mu.RLock()
	enabled := p.enabled
	filter := p.filter
	redactor := p.redactor
	p.mu.RUnlock()

	if !enabled {
		p.metrics.EventsDroppedTotal.WithLabelValues(dropReasonDisabled).Inc()
		return 0, false, nil
	}

	if ok, reason := filter.evaluate(event); !ok {
		p.metrics.EventsDroppedTotal.WithLabelValues(reason).Inc()
		p.logger.WithField("action", event.Action).WithField("reason", reason).Debug("audit event dropped")
		return 0, false, nil
	}

	payload, err := redactor.Redact(event.Payload)
	if err != nil {
		// Malformed payloads are a producer-side defect, surfaced as-is.
		p.metrics.EventsDroppedTotal.WithLabelValues("malformed_payload").Inc()
		return 0, false, err
	}

	record := &AuditRecord{
		Action:      event.Action,
		Date:        p.now().UTC(),
		EventTime:   event.Timestamp,
		Endpoint:    event.Endpoint,
		Method:      event.Method,
		StatusCode:  event.StatusCode,
		IPAddress:   event.IPAddress,
		UserAgent:   event.UserAgent,
		RequestID:   event.RequestID,
		ContentType: event.ContentType,
		Payload:     payload,
	}
	if event.Actor != nil {
		actorID := event.Actor.ID
		record.ActorID = &actorID
		record.ActorName = event.Actor.DisplayName
	}

	id, err := p.store.Insert(ctx, record)
	if err != nil {
		p.metrics.StorageErrorsTotal.WithLabelValues("insert").Inc()
		p.logger.WithError(err).WithField("action", event.Action).Error("failed to persist audit record")
		return 0, false, err
	}

	p.metrics.EventsIngestedTotal.WithLabelValues(event.Action).Inc()
	return id, true, nil
}
