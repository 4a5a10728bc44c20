package audit

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T, dialect Dialect) (*DBStore, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_records").
		WillReturnResult(sqlmock.NewResult(0, 0))

	store, err := NewDBStore(db, dialect)
	require.NoError(t, err)

	return store, mock, func() { db.Close() }
}

func recordRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "action", "date", "event_time", "actor_id", "actor_name",
		"endpoint", "method", "status_code", "ip_address", "user_agent",
		"content_type", "request_id", "payload",
	})
}

func TestDBStore_RejectsUnknownDialect(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, err = NewDBStore(db, Dialect("oracle"))
	assert.Error(t, err)

	_, err = NewDBStore(nil, DialectPostgres)
	assert.Error(t, err)
}

func TestDBStore_InsertPostgres(t *testing.T) {
	store, mock, done := newMockStore(t, DialectPostgres)
	defer done()

	mock.ExpectQuery("INSERT INTO audit_records").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

	actorID := int64(42)
	record := &AuditRecord{
		Action:    ActionEntryCreate,
		Date:      time.Now().UTC(),
		ActorID:   &actorID,
		ActorName: "Jane Editor",
		Payload:   map[string]interface{}{"title": "Launch post"},
	}

	id, err := store.Insert(context.Background(), record)
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	assert.Equal(t, int64(7), record.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBStore_InsertSQLite(t *testing.T) {
	store, mock, done := newMockStore(t, DialectSQLite)
	defer done()

	mock.ExpectExec("INSERT INTO audit_records").
		WillReturnResult(sqlmock.NewResult(3, 1))

	id, err := store.Insert(context.Background(), &AuditRecord{
		Action: ActionEntryCreate,
		Date:   time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBStore_InsertFailureWrapsStorageError(t *testing.T) {
	store, mock, done := newMockStore(t, DialectPostgres)
	defer done()

	mock.ExpectQuery("INSERT INTO audit_records").
		WillReturnError(errors.New("connection refused"))

	_, err := store.Insert(context.Background(), &AuditRecord{
		Action: ActionEntryCreate,
		Date:   time.Now().UTC(),
	})

	var storageErr *StorageError
	require.ErrorAs(t, err, &storageErr)
	assert.Equal(t, "insert", storageErr.Op)
}

func TestDBStore_Get(t *testing.T) {
	store, mock, done := newMockStore(t, DialectPostgres)
	defer done()

	date := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT (.+) FROM audit_records WHERE id").
		WithArgs(int64(7)).
		WillReturnRows(recordRows().AddRow(
			int64(7), ActionEntryCreate, date, nil, int64(42), "Jane Editor",
			"/entries", "POST", 201, "10.0.0.1", "curl", "api::article.article", "req-1",
			[]byte(`{"title":"Launch post"}`),
		))

	record, err := store.Get(context.Background(), 7)
	require.NoError(t, err)

	assert.Equal(t, int64(7), record.ID)
	assert.Equal(t, ActionEntryCreate, record.Action)
	assert.Equal(t, "Jane Editor", record.ActorName)
	require.NotNil(t, record.ActorID)
	assert.Equal(t, int64(42), *record.ActorID)

	payload := record.Payload.(map[string]interface{})
	assert.Equal(t, "Launch post", payload["title"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBStore_GetNotFound(t *testing.T) {
	store, mock, done := newMockStore(t, DialectPostgres)
	defer done()

	mock.ExpectQuery("SELECT (.+) FROM audit_records WHERE id").
		WithArgs(int64(99)).
		WillReturnError(sql.ErrNoRows)

	_, err := store.Get(context.Background(), 99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDBStore_QueryWithFilters(t *testing.T) {
	store, mock, done := newMockStore(t, DialectPostgres)
	defer done()

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM audit_records").
		WithArgs("%jane%", ActionEntryCreate).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(1)))

	date := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT (.+) FROM audit_records WHERE 1=1 AND LOWER\\(actor_name\\) LIKE (.+) ORDER BY date DESC, id DESC").
		WithArgs("%jane%", ActionEntryCreate, 25, 0).
		WillReturnRows(recordRows().AddRow(
			int64(1), ActionEntryCreate, date, nil, nil, "Jane Editor",
			"", "", 0, "", "", "", "", nil,
		))

	records, total, err := store.Query(context.Background(),
		QueryFilter{ActorContains: "Jane", Action: ActionEntryCreate},
		Sort{}, 1, 25)
	require.NoError(t, err)

	assert.Equal(t, int64(1), total)
	require.Len(t, records, 1)
	assert.Nil(t, records[0].ActorID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBStore_QueryEscapesLikeMetacharacters(t *testing.T) {
	store, mock, done := newMockStore(t, DialectPostgres)
	defer done()

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM audit_records").
		WithArgs(`%100\%\_jane%`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(0)))
	mock.ExpectQuery(`SELECT (.+) LIKE (.+) ESCAPE (.+) ORDER BY date DESC, id DESC`).
		WithArgs(`%100\%\_jane%`, 25, 0).
		WillReturnRows(recordRows())

	_, total, err := store.Query(context.Background(),
		QueryFilter{ActorContains: "100%_Jane"}, Sort{}, 1, 25)
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBStore_QueryRejectsUnknownSortField(t *testing.T) {
	store, mock, done := newMockStore(t, DialectSQLite)
	defer done()

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM audit_records").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(0)))
	// An unknown sort field falls back to descending date, never raw SQL.
	mock.ExpectQuery("SELECT (.+) ORDER BY date DESC, id DESC").
		WillReturnRows(recordRows())

	_, _, err := store.Query(context.Background(), QueryFilter{},
		Sort{Field: "payload; DROP TABLE audit_records", Asc: true}, 1, 25)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBStore_DeleteOlderThan(t *testing.T) {
	store, mock, done := newMockStore(t, DialectPostgres)
	defer done()

	cutoff := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec("DELETE FROM audit_records WHERE date <").
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 12))

	deleted, err := store.DeleteOlderThan(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(12), deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBStore_DeleteExceedingCount(t *testing.T) {
	store, mock, done := newMockStore(t, DialectSQLite)
	defer done()

	mock.ExpectExec("DELETE FROM audit_records WHERE id NOT IN").
		WithArgs(int64(1000)).
		WillReturnResult(sqlmock.NewResult(0, 250))

	deleted, err := store.DeleteExceedingCount(context.Background(), 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(250), deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBStore_DeleteExceedingCountRejectsNegative(t *testing.T) {
	store, _, done := newMockStore(t, DialectSQLite)
	defer done()

	_, err := store.DeleteExceedingCount(context.Background(), -1)
	assert.Error(t, err)
}

func TestDBStore_Rebind(t *testing.T) {
	pg := &DBStore{dialect: DialectPostgres}
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", pg.rebind("SELECT * FROM t WHERE a = ? AND b = ?"))

	lite := &DBStore{dialect: DialectSQLite}
	assert.Equal(t, "SELECT * FROM t WHERE a = ?", lite.rebind("SELECT * FROM t WHERE a = ?"))
}
