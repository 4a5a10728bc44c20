package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedQueryRecords(t *testing.T, store *memStore, n int) {
	t.Helper()
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		_, err := store.Insert(context.Background(), &AuditRecord{
			Action:    ActionEntryCreate,
			Date:      base.Add(time.Duration(i) * time.Minute),
			ActorName: "Jane Editor",
		})
		require.NoError(t, err)
	}
}

func TestQueryService_ListPagination(t *testing.T) {
	store := newMemStore()
	seedQueryRecords(t, store, 57)

	qs, err := NewQueryService(store, 0)
	require.NoError(t, err)

	result, err := qs.List(context.Background(), ListOptions{Page: 1, PageSize: 25})
	require.NoError(t, err)

	assert.Len(t, result.Data, 25)
	assert.Equal(t, 1, result.Meta.Pagination.Page)
	assert.Equal(t, 25, result.Meta.Pagination.PageSize)
	assert.Equal(t, 3, result.Meta.Pagination.PageCount)
	assert.Equal(t, int64(57), result.Meta.Pagination.Total)

	last, err := qs.List(context.Background(), ListOptions{Page: 3, PageSize: 25})
	require.NoError(t, err)
	assert.Len(t, last.Data, 7)
}

func TestQueryService_ListPastEndReturnsEmptyPageWithTotals(t *testing.T) {
	store := newMemStore()
	seedQueryRecords(t, store, 57)

	qs, err := NewQueryService(store, 0)
	require.NoError(t, err)

	result, err := qs.List(context.Background(), ListOptions{Page: 4, PageSize: 25})
	require.NoError(t, err)

	assert.Empty(t, result.Data)
	assert.Equal(t, 4, result.Meta.Pagination.Page)
	assert.Equal(t, 3, result.Meta.Pagination.PageCount)
	assert.Equal(t, int64(57), result.Meta.Pagination.Total)
}

func TestQueryService_ListDefaultsAndClamps(t *testing.T) {
	store := newMemStore()
	seedQueryRecords(t, store, 5)

	qs, err := NewQueryService(store, 0)
	require.NoError(t, err)

	// Zero values get the defaults.
	result, err := qs.List(context.Background(), ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Meta.Pagination.Page)
	assert.Equal(t, defaultPageSize, result.Meta.Pagination.PageSize)

	// Oversized page sizes are clamped.
	result, err = qs.List(context.Background(), ListOptions{PageSize: 10000})
	require.NoError(t, err)
	assert.Equal(t, maxQueryPageSize, result.Meta.Pagination.PageSize)
}

func TestQueryService_ListFilters(t *testing.T) {
	store := newMemStore()
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	records := []*AuditRecord{
		{Action: ActionEntryCreate, Date: base, ActorName: "Jane Editor"},
		{Action: ActionEntryDelete, Date: base.Add(time.Minute), ActorName: "Jane Editor"},
		{Action: ActionEntryCreate, Date: base.Add(2 * time.Minute), ActorName: "Sam Admin"},
	}
	for _, record := range records {
		_, err := store.Insert(context.Background(), record)
		require.NoError(t, err)
	}

	qs, err := NewQueryService(store, 0)
	require.NoError(t, err)

	byUser, err := qs.List(context.Background(), ListOptions{User: "jane"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), byUser.Meta.Pagination.Total)

	byAction, err := qs.List(context.Background(), ListOptions{Action: ActionEntryDelete})
	require.NoError(t, err)
	assert.Equal(t, int64(1), byAction.Meta.Pagination.Total)

	both, err := qs.List(context.Background(), ListOptions{User: "sam", Action: ActionEntryDelete})
	require.NoError(t, err)
	assert.Zero(t, both.Meta.Pagination.Total)
}

func TestQueryService_ListSortOrder(t *testing.T) {
	store := newMemStore()
	seedQueryRecords(t, store, 3)

	qs, err := NewQueryService(store, 0)
	require.NoError(t, err)

	// Default is newest first.
	desc, err := qs.List(context.Background(), ListOptions{})
	require.NoError(t, err)
	require.Len(t, desc.Data, 3)
	assert.True(t, desc.Data[0].Date.After(desc.Data[2].Date))

	asc, err := qs.List(context.Background(), ListOptions{Sort: "date:asc"})
	require.NoError(t, err)
	require.Len(t, asc.Data, 3)
	assert.True(t, asc.Data[0].Date.Before(asc.Data[2].Date))
}

func TestQueryService_GetOne(t *testing.T) {
	store := newMemStore()
	id, err := store.Insert(context.Background(), &AuditRecord{
		Action:    ActionEntryCreate,
		Date:      time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
		ActorName: "Jane Editor",
		Payload:   map[string]interface{}{"title": "Launch post"},
	})
	require.NoError(t, err)

	qs, err := NewQueryService(store, 0)
	require.NoError(t, err)

	record, err := qs.GetOne(context.Background(), id, true)
	require.NoError(t, err)
	assert.Equal(t, id, record.ID)
	assert.Equal(t, "Jane Editor", record.ActorName)
}

func TestQueryService_GetOneUnauthorized(t *testing.T) {
	store := newMemStore()
	id, err := store.Insert(context.Background(), &AuditRecord{Action: ActionEntryCreate})
	require.NoError(t, err)

	qs, err := NewQueryService(store, 0)
	require.NoError(t, err)

	_, err = qs.GetOne(context.Background(), id, false)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestQueryService_GetOneNotFound(t *testing.T) {
	qs, err := NewQueryService(newMemStore(), 0)
	require.NoError(t, err)

	_, err = qs.GetOne(context.Background(), 9999, true)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestQueryService_GetOneServedFromCache(t *testing.T) {
	store := newMemStore()
	id, err := store.Insert(context.Background(), &AuditRecord{Action: ActionEntryCreate})
	require.NoError(t, err)

	qs, err := NewQueryService(store, 4)
	require.NoError(t, err)

	_, err = qs.GetOne(context.Background(), id, true)
	require.NoError(t, err)

	// A store outage after the first read does not affect cached lookups.
	store.mu.Lock()
	delete(store.byID, id)
	store.mu.Unlock()

	record, err := qs.GetOne(context.Background(), id, true)
	require.NoError(t, err)
	assert.Equal(t, id, record.ID)
}

func TestParseSort(t *testing.T) {
	assert.Equal(t, Sort{Field: "date", Asc: false}, parseSort(""))
	assert.Equal(t, Sort{Field: "action", Asc: false}, parseSort("action"))
	assert.Equal(t, Sort{Field: "user", Asc: true}, parseSort("user:asc"))
	assert.Equal(t, Sort{Field: "date", Asc: false}, parseSort("date:desc"))
	assert.Equal(t, Sort{Field: "date", Asc: true}, parseSort("date:ASC"))
}
