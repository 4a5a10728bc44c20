package audit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when no record exists for a requested id.
var ErrNotFound = errors.New("audit record not found")

// StorageError wraps a persistence failure. Storage failures are surfaced
// to the caller of ingest/query/cleanup and never silently swallowed; retry
// policy, if any, belongs to the producer.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("audit storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// QueryFilter narrows a record listing. Zero values mean "no constraint".
type QueryFilter struct {
	// ActorContains matches the actor display name by case-insensitive
	// substring.
	ActorContains string

	// Action matches the event action exactly.
	Action string

	// Before restricts results to records ingested strictly before the
	// given instant. Used by the retention archiver.
	Before *time.Time
}

// Sort orders a record listing. The zero value sorts by descending
// ingestion date, which is the only ordering the log viewer relies on.
type Sort struct {
	Field string
	Asc   bool
}

// Store is the durable persistence surface used by the pipeline, the
// retention engine and the query service. Records are append-only: created
// by Insert, removed only by the bulk deletion operations.
type Store interface {
	// Insert persists a record and returns its new identity.
	Insert(ctx context.Context, record *AuditRecord) (int64, error)

	// Get returns the record with the given id, or ErrNotFound.
	Get(ctx context.Context, id int64) (*AuditRecord, error)

	// Query returns one page of matching records plus the total match
	// count. Pagination is 1-indexed and pageSize is clamped to a sane
	// maximum to avoid unbounded scans.
	Query(ctx context.Context, filter QueryFilter, sort Sort, page, pageSize int) ([]*AuditRecord, int64, error)

	// DeleteOlderThan removes records ingested strictly before cutoff and
	// returns the number deleted. A record with date equal to the cutoff
	// is retained.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	// DeleteExceedingCount removes the oldest records beyond maxRetained,
	// keeping the most recent maxRetained by ingestion date.
	DeleteExceedingCount(ctx context.Context, maxRetained int64) (int64, error)
}
