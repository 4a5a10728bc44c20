package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/meridian-cms/audittrail/pkg/observability"
)

// Interval is the unit of an age-based retention window.
type Interval string

const (
	IntervalDay   Interval = "day"
	IntervalWeek  Interval = "week"
	IntervalMonth Interval = "month"
	IntervalYear  Interval = "year"
)

// RetentionMode selects which retention rule is active. Exactly one mode is
// active at a time; the tagged variant makes "both modes" unrepresentable.
type RetentionMode int

const (
	RetentionDisabled RetentionMode = iota
	RetentionByAge
	RetentionByCount
)

func (m RetentionMode) String() string {
	switch m {
	case RetentionByAge:
		return "age"
	case RetentionByCount:
		return "count"
	default:
		return "disabled"
	}
}

// RetentionPolicy bounds how old or how many persisted records may remain.
type RetentionPolicy struct {
	Mode RetentionMode

	// Value is the age multiplier in age mode, or the maximum retained
	// record count in count mode.
	Value int64

	// Interval applies in age mode only.
	Interval Interval
}

// CutoffDate computes the oldest ingestion date an age-based policy
// retains, relative to now.
func (p RetentionPolicy) CutoffDate(now time.Time) (time.Time, error) {
	v := int(p.Value)
	switch p.Interval {
	case IntervalDay:
		return now.AddDate(0, 0, -v), nil
	case IntervalWeek:
		return now.AddDate(0, 0, -7*v), nil
	case IntervalMonth:
		return now.AddDate(0, -v, 0), nil
	case IntervalYear:
		return now.AddDate(-v, 0, 0), nil
	default:
		return time.Time{}, fmt.Errorf("unknown retention interval: %q", p.Interval)
	}
}

// ErrCleanupInProgress is returned when another replica holds the cleanup
// lock. Distinct from "nothing to clean up", which returns (0, nil).
var ErrCleanupInProgress = errors.New("cleanup already in progress")

// Locker serializes cleanup runs across replicas. Implementations must be
// safe to call concurrently.
type Locker interface {
	// TryLock attempts to take the cleanup lock without blocking. When
	// acquired it returns a release func and ok=true.
	TryLock(ctx context.Context) (release func(), ok bool, err error)
}

// Archiver receives age-expired records before they are deleted.
type Archiver interface {
	Archive(ctx context.Context, records []*AuditRecord, cutoff time.Time) error
}

// archivePageSize is the page size used when draining expiring records for
// archival.
const archivePageSize = 100

// Engine applies the retention policy to the store. Scheduled and manual
// cleanup both call RunCleanup; there is no divergent logic between the two
// paths. Cleanup failures are surfaced but isolated: they never block
// ingestion or queries.
type Engine struct {
	store    Store
	archiver Archiver
	locker   Locker
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewEngine builds a retention engine. archiver and locker are optional.
func NewEngine(store Store, logger *observability.Logger, metrics *observability.Metrics) *Engine {
	return &Engine{store: store, logger: logger, metrics: metrics}
}

// WithArchiver makes the engine archive age-expired records before deleting
// them. An archive failure aborts the deletion.
func (e *Engine) WithArchiver(archiver Archiver) *Engine {
	e.archiver = archiver
	return e
}

// WithLocker serializes cleanup runs across replicas.
func (e *Engine) WithLocker(locker Locker) *Engine {
	e.locker = locker
	return e
}

// RunCleanup deletes every record whose cutoff condition holds under the
// policy, evaluated against the single now snapshot for the whole run, and
// returns the number deleted. A disabled policy is a no-op.
func (e *Engine) RunCleanup(ctx context.Context, policy RetentionPolicy, now time.Time) (int64, error) {
	if policy.Mode == RetentionDisabled {
		return 0, nil
	}

	if e.locker != nil {
		release, ok, err := e.locker.TryLock(ctx)
		if err != nil {
			// Fail open: a lock backend outage must not stop retention on a
			// single-replica deployment.
			e.logger.WithError(err).Warn("cleanup lock unavailable, proceeding without it")
		} else if !ok {
			return 0, ErrCleanupInProgress
		} else {
			defer release()
		}
	}

	deleted, err := e.runPolicy(ctx, policy, now)
	if err != nil {
		e.metrics.CleanupRunsTotal.WithLabelValues(policy.Mode.String(), "error").Inc()
		e.logger.WithError(err).Error("retention cleanup failed")
		return 0, err
	}

	e.metrics.CleanupRunsTotal.WithLabelValues(policy.Mode.String(), "ok").Inc()
	e.metrics.RecordsDeletedTotal.WithLabelValues(policy.Mode.String()).Add(float64(deleted))
	e.logger.WithField("mode", policy.Mode.String()).WithField("deleted", deleted).Info("retention cleanup complete")
	return deleted, nil
}

func (e *Engine) runPolicy(ctx context.Context, policy RetentionPolicy, now time.Time) (int64, error) {
	switch policy.Mode {
	case RetentionByAge:
		cutoff, err := policy.CutoffDate(now)
		if err != nil {
			return 0, err
		}
		if e.archiver != nil {
			if err := e.archiveOlderThan(ctx, cutoff); err != nil {
				return 0, fmt.Errorf("archive before delete: %w", err)
			}
		}
		return e.store.DeleteOlderThan(ctx, cutoff)

	case RetentionByCount:
		return e.store.DeleteExceedingCount(ctx, policy.Value)

	default:
		return 0, fmt.Errorf("unknown retention mode: %d", policy.Mode)
	}
}

// archiveOlderThan drains every record ingested before cutoff into the
// archiver. Nothing is deleted until the whole expiring set is archived.
func (e *Engine) archiveOlderThan(ctx context.Context, cutoff time.Time) error {
	var expiring []*AuditRecord
	page := 1
	for {
		records, total, err := e.store.Query(ctx, QueryFilter{Before: &cutoff}, Sort{Field: "date", Asc: true}, page, archivePageSize)
		if err != nil {
			return err
		}
		expiring = append(expiring, records...)
		if int64(len(expiring)) >= total || len(records) == 0 {
			break
		}
		page++
	}

	if len(expiring) == 0 {
		return nil
	}
	return e.archiver.Archive(ctx, expiring, cutoff)
}
