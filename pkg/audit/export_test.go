package audit

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newExportService(t *testing.T, n int) *QueryService {
	t.Helper()
	store := newMemStore()
	seedQueryRecords(t, store, n)
	qs, err := NewQueryService(store, 0)
	require.NoError(t, err)
	return qs
}

func TestExport_JSON(t *testing.T) {
	qs := newExportService(t, 3)

	data, err := qs.Export(context.Background(), ListOptions{}, ExportFormatJSON)
	require.NoError(t, err)

	var records []*AuditRecord
	require.NoError(t, json.Unmarshal(data, &records))
	assert.Len(t, records, 3)
	assert.Equal(t, ActionEntryCreate, records[0].Action)
}

func TestExport_NDJSON(t *testing.T) {
	qs := newExportService(t, 3)

	data, err := qs.Export(context.Background(), ListOptions{}, ExportFormatNDJSON)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 3)
	for _, line := range lines {
		var record AuditRecord
		require.NoError(t, json.Unmarshal([]byte(line), &record))
		assert.Equal(t, ActionEntryCreate, record.Action)
	}
}

func TestExport_CSV(t *testing.T) {
	store := newMemStore()
	actorID := int64(42)
	_, err := store.Insert(context.Background(), &AuditRecord{
		Action:     ActionEntryUpdate,
		Date:       time.Date(2026, 5, 1, 10, 30, 0, 0, time.UTC),
		ActorID:    &actorID,
		ActorName:  "Jane Editor",
		Method:     "PUT",
		StatusCode: 200,
	})
	require.NoError(t, err)

	qs, err := NewQueryService(store, 0)
	require.NoError(t, err)

	data, err := qs.Export(context.Background(), ListOptions{}, ExportFormatCSV)
	require.NoError(t, err)

	rows, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "ID", rows[0][0])
	assert.Equal(t, ActionEntryUpdate, rows[1][1])
	assert.Equal(t, "2026-05-01 10:30:00", rows[1][2])
	assert.Equal(t, "42", rows[1][3])
	assert.Equal(t, "Jane Editor", rows[1][4])
}

func TestExport_SpansMultiplePages(t *testing.T) {
	// More records than a single store page.
	qs := newExportService(t, maxQueryPageSize+50)

	data, err := qs.Export(context.Background(), ListOptions{}, ExportFormatJSON)
	require.NoError(t, err)

	var records []*AuditRecord
	require.NoError(t, json.Unmarshal(data, &records))
	assert.Len(t, records, maxQueryPageSize+50)
}

func TestExport_UnsupportedFormat(t *testing.T) {
	qs := newExportService(t, 1)

	_, err := qs.Export(context.Background(), ListOptions{}, ExportFormat("xml"))
	assert.ErrorIs(t, err, ErrUnsupportedExportFormat)
}
