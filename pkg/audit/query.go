package audit

import (
	"context"
	"errors"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// ErrUnauthorized is returned when the caller lacks the capability required
// for a detail view. Authorization is decided by the host's access-control
// layer; the query service only consumes the resulting boolean.
var ErrUnauthorized = errors.New("caller is not authorized to view audit record details")

const (
	defaultPageSize     = 25
	defaultQueryTimeout = 10 * time.Second
	defaultCacheSize    = 512
)

// ListOptions carries the operator-facing filter and pagination parameters.
type ListOptions struct {
	Page     int
	PageSize int

	// User filters by actor display text, case-insensitive substring.
	User string

	// Action filters by exact event action.
	Action string

	// Sort is "field" or "field:asc"/"field:desc"; empty means descending
	// ingestion date.
	Sort string
}

// Pagination describes one page of results. It is always fully populated,
// even for empty result sets.
type Pagination struct {
	Page      int   `json:"page"`
	PageSize  int   `json:"pageSize"`
	PageCount int   `json:"pageCount"`
	Total     int64 `json:"total"`
}

// ListMeta is the meta envelope of a list response.
type ListMeta struct {
	Pagination Pagination `json:"pagination"`
}

// ListResult is the response envelope for list queries.
type ListResult struct {
	Data []*AuditRecord `json:"data"`
	Meta ListMeta       `json:"meta"`
}

// QueryService is the single read path over the log store, consumed by the
// admin UI list view and the single-record detail view. Records are
// immutable once persisted, so detail lookups are cached.
type QueryService struct {
	store        Store
	cache        *lru.Cache[int64, *AuditRecord]
	queryTimeout time.Duration
}

// NewQueryService builds the read path. cacheSize <= 0 selects the default.
func NewQueryService(store Store, cacheSize int) (*QueryService, error) {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	cache, err := lru.New[int64, *AuditRecord](cacheSize)
	if err != nil {
		return nil, err
	}
	return &QueryService{
		store:        store,
		cache:        cache,
		queryTimeout: defaultQueryTimeout,
	}, nil
}

// List returns one page of records with the full pagination envelope.
func (s *QueryService) List(ctx context.Context, opts ListOptions) (*ListResult, error) {
	page := opts.Page
	if page < 1 {
		page = 1
	}
	pageSize := opts.PageSize
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxQueryPageSize {
		pageSize = maxQueryPageSize
	}

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	filter := QueryFilter{
		ActorContains: opts.User,
		Action:        opts.Action,
	}
	records, total, err := s.store.Query(ctx, filter, parseSort(opts.Sort), page, pageSize)
	if err != nil {
		return nil, err
	}

	pageCount := int((total + int64(pageSize) - 1) / int64(pageSize))
	return &ListResult{
		Data: records,
		Meta: ListMeta{
			Pagination: Pagination{
				Page:      page,
				PageSize:  pageSize,
				PageCount: pageCount,
				Total:     total,
			},
		},
	}, nil
}

// GetOne returns a single record by id. Records are already redacted at
// rest, so no redaction is re-applied. The authorized flag is the host
// access-control decision for the "view details" capability.
func (s *QueryService) GetOne(ctx context.Context, id int64, authorized bool) (*AuditRecord, error) {
	if !authorized {
		return nil, ErrUnauthorized
	}

	if record, ok := s.cache.Get(id); ok {
		return record, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	record, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.Add(id, record)
	return record, nil
}

// parseSort converts "field", "field:asc" or "field:desc" into a Sort.
// Unknown fields fall back to the default descending-date order inside the
// store.
func parseSort(raw string) Sort {
	if raw == "" {
		return Sort{Field: "date", Asc: false}
	}
	field, direction, found := strings.Cut(raw, ":")
	if !found {
		return Sort{Field: field, Asc: false}
	}
	return Sort{Field: field, Asc: strings.EqualFold(direction, "asc")}
}
