package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Dialect selects the SQL flavor for the backing database.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite3"
)

// maxQueryPageSize bounds a single page read. Unfiltered queries over large
// tables are the main performance risk on the read path.
const maxQueryPageSize = 100

// sortFields whitelists the columns a caller may sort by.
var sortFields = map[string]string{
	"date":   "date",
	"action": "action",
	"user":   "actor_name",
	"status": "status_code",
}

// DBStore implements Store over database/sql, supporting PostgreSQL and
// SQLite. All single-record operations are atomic; bulk deletions rely on a
// single DELETE statement so they can never remove records outside the
// cutoff or retained window.
type DBStore struct {
	db      *sql.DB
	dialect Dialect
}

// NewDBStore creates the store and ensures the audit_records table exists.
func NewDBStore(db *sql.DB, dialect Dialect) (*DBStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if dialect != DialectPostgres && dialect != DialectSQLite {
		return nil, fmt.Errorf("unsupported dialect: %q", dialect)
	}

	s := &DBStore{db: db, dialect: dialect}
	if err := s.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure audit_records table: %w", err)
	}
	return s, nil
}

func (s *DBStore) ensureTable() error {
	var ddl string
	if s.dialect == DialectPostgres {
		ddl = `
	CREATE TABLE IF NOT EXISTS audit_records (
		id BIGSERIAL PRIMARY KEY,
		action VARCHAR(100) NOT NULL,
		date TIMESTAMP WITH TIME ZONE NOT NULL,
		event_time TIMESTAMP WITH TIME ZONE,
		actor_id BIGINT,
		actor_name VARCHAR(255) NOT NULL DEFAULT '',
		endpoint TEXT NOT NULL DEFAULT '',
		method VARCHAR(10) NOT NULL DEFAULT '',
		status_code INTEGER NOT NULL DEFAULT 0,
		ip_address VARCHAR(45) NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT '',
		content_type VARCHAR(255) NOT NULL DEFAULT '',
		request_id VARCHAR(100) NOT NULL DEFAULT '',
		payload JSONB
	);

	CREATE INDEX IF NOT EXISTS idx_audit_records_date ON audit_records(date DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_records_action ON audit_records(action);
	CREATE INDEX IF NOT EXISTS idx_audit_records_actor_name ON audit_records(actor_name);
	`
	} else {
		ddl = `
	CREATE TABLE IF NOT EXISTS audit_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		action TEXT NOT NULL,
		date TIMESTAMP NOT NULL,
		event_time TIMESTAMP,
		actor_id INTEGER,
		actor_name TEXT NOT NULL DEFAULT '',
		endpoint TEXT NOT NULL DEFAULT '',
		method TEXT NOT NULL DEFAULT '',
		status_code INTEGER NOT NULL DEFAULT 0,
		ip_address TEXT NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT '',
		content_type TEXT NOT NULL DEFAULT '',
		request_id TEXT NOT NULL DEFAULT '',
		payload TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_audit_records_date ON audit_records(date DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_records_action ON audit_records(action);
	CREATE INDEX IF NOT EXISTS idx_audit_records_actor_name ON audit_records(actor_name);
	`
	}

	_, err := s.db.Exec(ddl)
	return err
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *DBStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

const insertColumns = `action, date, event_time, actor_id, actor_name,
		endpoint, method, status_code, ip_address, user_agent,
		content_type, request_id, payload`

// Insert persists one record and returns its identity.
func (s *DBStore) Insert(ctx context.Context, record *AuditRecord) (int64, error) {
	var payloadJSON []byte
	if record.Payload != nil {
		var err error
		payloadJSON, err = json.Marshal(record.Payload)
		if err != nil {
			return 0, &MalformedPayloadError{Depth: maxPayloadDepth}
		}
	}

	var eventTime sql.NullTime
	if !record.EventTime.IsZero() {
		eventTime = sql.NullTime{Time: record.EventTime, Valid: true}
	}

	query := s.rebind(`INSERT INTO audit_records (` + insertColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	args := []interface{}{
		record.Action, record.Date, eventTime, record.ActorID, record.ActorName,
		record.Endpoint, record.Method, record.StatusCode, record.IPAddress, record.UserAgent,
		record.ContentType, record.RequestID, payloadJSON,
	}

	if s.dialect == DialectPostgres {
		var id int64
		err := s.db.QueryRowContext(ctx, query+" RETURNING id", args...).Scan(&id)
		if err != nil {
			return 0, &StorageError{Op: "insert", Err: err}
		}
		record.ID = id
		return id, nil
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, &StorageError{Op: "insert", Err: err}
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, &StorageError{Op: "insert", Err: err}
	}
	record.ID = id
	return id, nil
}

const selectColumns = `id, action, date, event_time, actor_id, actor_name,
		endpoint, method, status_code, ip_address, user_agent,
		content_type, request_id, payload`

// Get returns the record with the given id, or ErrNotFound.
func (s *DBStore) Get(ctx context.Context, id int64) (*AuditRecord, error) {
	query := s.rebind(`SELECT ` + selectColumns + ` FROM audit_records WHERE id = ?`)
	record, err := scanRecord(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &StorageError{Op: "get", Err: err}
	}
	return record, nil
}

// escapeLike neutralizes LIKE metacharacters in a user-supplied filter so a
// value like "100%" matches literally instead of acting as a wildcard.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return s
}

// Query returns one page of matching records plus the total match count.
func (s *DBStore) Query(ctx context.Context, filter QueryFilter, sort Sort, page, pageSize int) ([]*AuditRecord, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = maxQueryPageSize
	}
	if pageSize > maxQueryPageSize {
		pageSize = maxQueryPageSize
	}

	where := " WHERE 1=1"
	args := []interface{}{}

	if filter.ActorContains != "" {
		where += ` AND LOWER(actor_name) LIKE ? ESCAPE '\'`
		args = append(args, "%"+escapeLike(strings.ToLower(filter.ActorContains))+"%")
	}
	if filter.Action != "" {
		where += " AND action = ?"
		args = append(args, filter.Action)
	}
	if filter.Before != nil {
		where += " AND date < ?"
		args = append(args, *filter.Before)
	}

	var total int64
	countQuery := s.rebind("SELECT COUNT(*) FROM audit_records" + where)
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, &StorageError{Op: "count", Err: err}
	}

	column, ok := sortFields[sort.Field]
	if !ok {
		column = "date"
		sort.Asc = false
	}
	direction := "DESC"
	if sort.Asc {
		direction = "ASC"
	}
	// Secondary id ordering keeps pagination stable for equal dates.
	orderBy := fmt.Sprintf(" ORDER BY %s %s, id %s", column, direction, direction)

	pageArgs := append(append([]interface{}{}, args...), pageSize, (page-1)*pageSize)
	listQuery := s.rebind("SELECT " + selectColumns + " FROM audit_records" + where + orderBy + " LIMIT ? OFFSET ?")

	rows, err := s.db.QueryContext(ctx, listQuery, pageArgs...)
	if err != nil {
		return nil, 0, &StorageError{Op: "query", Err: err}
	}
	defer rows.Close()

	records := make([]*AuditRecord, 0, pageSize)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, 0, &StorageError{Op: "scan", Err: err}
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, &StorageError{Op: "query", Err: err}
	}

	return records, total, nil
}

// DeleteOlderThan removes records ingested strictly before cutoff. Records
// dated exactly at the cutoff are retained.
func (s *DBStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := s.rebind(`DELETE FROM audit_records WHERE date < ?`)
	result, err := s.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, &StorageError{Op: "delete_older_than", Err: err}
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, &StorageError{Op: "delete_older_than", Err: err}
	}
	return deleted, nil
}

// DeleteExceedingCount keeps the newest maxRetained records by ingestion
// date and removes the rest.
func (s *DBStore) DeleteExceedingCount(ctx context.Context, maxRetained int64) (int64, error) {
	if maxRetained < 0 {
		return 0, fmt.Errorf("maxRetained must be non-negative, got %d", maxRetained)
	}
	query := s.rebind(`DELETE FROM audit_records WHERE id NOT IN (
		SELECT id FROM audit_records ORDER BY date DESC, id DESC LIMIT ?)`)
	result, err := s.db.ExecContext(ctx, query, maxRetained)
	if err != nil {
		return 0, &StorageError{Op: "delete_exceeding_count", Err: err}
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, &StorageError{Op: "delete_exceeding_count", Err: err}
	}
	return deleted, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*AuditRecord, error) {
	record := &AuditRecord{}
	var eventTime sql.NullTime
	var payloadJSON []byte

	err := row.Scan(
		&record.ID, &record.Action, &record.Date, &eventTime, &record.ActorID, &record.ActorName,
		&record.Endpoint, &record.Method, &record.StatusCode, &record.IPAddress, &record.UserAgent,
		&record.ContentType, &record.RequestID, &payloadJSON,
	)
	if err != nil {
		return nil, err
	}

	if eventTime.Valid {
		record.EventTime = eventTime.Time
	}
	if len(payloadJSON) > 0 {
		if err := json.Unmarshal(payloadJSON, &record.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
		}
	}
	return record, nil
}
