package audit

import (
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/meridian-cms/audittrail/pkg/observability"
)

func newTestLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

func newTestMetrics() *observability.Metrics {
	return observability.NewMetrics(prometheus.NewRegistry())
}

// memStore is an in-memory Store used by pipeline, retention, query and
// handler tests. It mirrors the DBStore filter and ordering semantics.
type memStore struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]*AuditRecord

	insertErr error
	queryErr  error
	deleteErr error
}

func newMemStore() *memStore {
	return &memStore{byID: make(map[int64]*AuditRecord)}
}

func (m *memStore) Insert(ctx context.Context, record *AuditRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return 0, m.insertErr
	}
	m.nextID++
	stored := *record
	stored.ID = m.nextID
	m.byID[stored.ID] = &stored
	record.ID = stored.ID
	return stored.ID, nil
}

func (m *memStore) Get(ctx context.Context, id int64) (*AuditRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *record
	return &copied, nil
}

func (m *memStore) Query(ctx context.Context, filter QueryFilter, s Sort, page, pageSize int) ([]*AuditRecord, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.queryErr != nil {
		return nil, 0, m.queryErr
	}

	matched := make([]*AuditRecord, 0, len(m.byID))
	for _, record := range m.byID {
		if filter.ActorContains != "" &&
			!strings.Contains(strings.ToLower(record.ActorName), strings.ToLower(filter.ActorContains)) {
			continue
		}
		if filter.Action != "" && record.Action != filter.Action {
			continue
		}
		if filter.Before != nil && !record.Date.Before(*filter.Before) {
			continue
		}
		matched = append(matched, record)
	}

	asc := s.Asc
	if _, ok := sortFields[s.Field]; !ok {
		asc = false
	}
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		var less bool
		switch s.Field {
		case "action":
			if a.Action != b.Action {
				less = a.Action < b.Action
			} else {
				less = a.ID < b.ID
			}
		case "user":
			if a.ActorName != b.ActorName {
				less = a.ActorName < b.ActorName
			} else {
				less = a.ID < b.ID
			}
		default:
			if !a.Date.Equal(b.Date) {
				less = a.Date.Before(b.Date)
			} else {
				less = a.ID < b.ID
			}
		}
		if asc {
			return less
		}
		return !less
	})

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > maxQueryPageSize {
		pageSize = maxQueryPageSize
	}
	total := int64(len(matched))

	start := (page - 1) * pageSize
	if start >= len(matched) {
		return []*AuditRecord{}, total, nil
	}
	end := start + pageSize
	if end > len(matched) {
		end = len(matched)
	}

	out := make([]*AuditRecord, 0, end-start)
	for _, record := range matched[start:end] {
		copied := *record
		out = append(out, &copied)
	}
	return out, total, nil
}

func (m *memStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return 0, m.deleteErr
	}
	var deleted int64
	for id, record := range m.byID {
		if record.Date.Before(cutoff) {
			delete(m.byID, id)
			deleted++
		}
	}
	return deleted, nil
}

func (m *memStore) DeleteExceedingCount(ctx context.Context, maxRetained int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return 0, m.deleteErr
	}

	all := make([]*AuditRecord, 0, len(m.byID))
	for _, record := range m.byID {
		all = append(all, record)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].Date.Equal(all[j].Date) {
			return all[i].Date.After(all[j].Date)
		}
		return all[i].ID > all[j].ID
	})

	var deleted int64
	for i, record := range all {
		if int64(i) >= maxRetained {
			delete(m.byID, record.ID)
			deleted++
		}
	}
	return deleted, nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}
