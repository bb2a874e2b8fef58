package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrRecordNotFound is returned when no record exists for the given ID.
var ErrRecordNotFound = errors.New("record not found")

// timeFormat is fixed-width so that lexicographic ordering of stored
// timestamps matches chronological ordering.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

// querier abstracts *sql.DB and *sql.Tx so reads can run either standalone
// or inside a caller's transaction.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// HistoryStore persists live analysis records. It is the durable side of the
// history lifecycle; archival of deleted records happens in ArchiveStore.
type HistoryStore struct {
	db *sql.DB

	// Prepared statements
	insertRecord *sql.Stmt
	deleteRecord *sql.Stmt
	insertQuery  *sql.Stmt
}

// NewHistoryStore creates a HistoryStore from an already-opened and migrated
// database.
func NewHistoryStore(db *sql.DB) (*HistoryStore, error) {
	s := &HistoryStore{db: db}

	if err := s.prepareStatements(); err != nil {
		return nil, fmt.Errorf("prepare statements: %w", err)
	}

	return s, nil
}

func (s *HistoryStore) prepareStatements() error {
	var err error

	s.insertRecord, err = s.db.Prepare(`
		INSERT INTO history (id, owner_id, document_id, document_title, created_at, summary, advantages, limitations)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}

	s.deleteRecord, err = s.db.Prepare(`DELETE FROM history WHERE id = ?`)
	if err != nil {
		return err
	}

	s.insertQuery, err = s.db.Prepare(`
		INSERT INTO queries (record_id, seq, question, answer, asked_at)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}

	return nil
}

// Insert writes a new record. The record's ID is generated and CreatedAt is
// set to the current time when zero. Queries on the incoming record are
// ignored; a freshly created record always starts with none.
func (s *HistoryStore) Insert(ctx context.Context, rec *HistoryRecord) error {
	rec.ID = uuid.NewString()

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.Queries = []Query{}

	advantages, err := marshalStrings(rec.Advantages)
	if err != nil {
		return fmt.Errorf("encode advantages: %w", err)
	}
	limitations, err := marshalStrings(rec.Limitations)
	if err != nil {
		return fmt.Errorf("encode limitations: %w", err)
	}

	_, err = s.insertRecord.ExecContext(ctx,
		rec.ID, rec.OwnerID, rec.DocumentID, rec.DocumentTitle,
		formatTime(rec.CreatedAt), rec.Summary, advantages, limitations,
	)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}

	return nil
}

// Get retrieves a single record by ID, including its queries in insertion
// order. Returns ErrRecordNotFound when absent.
func (s *HistoryStore) Get(ctx context.Context, id string) (*HistoryRecord, error) {
	return s.getWith(ctx, s.db, id)
}

// getWith reads one record through q, which may be a transaction.
func (s *HistoryStore) getWith(ctx context.Context, q querier, id string) (*HistoryRecord, error) {
	var rec HistoryRecord
	var createdStr, advantages, limitations string

	err := q.QueryRowContext(ctx, `
		SELECT id, owner_id, document_id, document_title, created_at, summary, advantages, limitations
		FROM history WHERE id = ?
	`, id).Scan(
		&rec.ID, &rec.OwnerID, &rec.DocumentID, &rec.DocumentTitle,
		&createdStr, &rec.Summary, &advantages, &limitations,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("get record: %w", err)
	}

	if rec.CreatedAt, err = parseTimestamp(createdStr); err != nil {
		return nil, fmt.Errorf("decode created_at: %w", err)
	}
	if rec.Advantages, err = unmarshalStrings(advantages); err != nil {
		return nil, fmt.Errorf("decode advantages: %w", err)
	}
	if rec.Limitations, err = unmarshalStrings(limitations); err != nil {
		return nil, fmt.Errorf("decode limitations: %w", err)
	}

	queries, err := s.queriesFor(ctx, q, id)
	if err != nil {
		return nil, err
	}
	rec.Queries = queries

	return &rec, nil
}

// AppendQuery appends a question/answer pair to the record's query list.
// Sequence numbers are assigned inside a transaction so sequential appends
// from one session never collide. Returns ErrRecordNotFound when the record
// does not exist.
func (s *HistoryStore) AppendQuery(ctx context.Context, id string, q Query) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var exists int
	err = tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM history WHERE id = ?", id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check record: %w", err)
	}
	if exists == 0 {
		return ErrRecordNotFound
	}

	var nextSeq int
	err = tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(seq), 0) + 1 FROM queries WHERE record_id = ?", id,
	).Scan(&nextSeq)
	if err != nil {
		return fmt.Errorf("next query seq: %w", err)
	}

	if q.AskedAt.IsZero() {
		q.AskedAt = time.Now().UTC()
	}

	_, err = tx.StmtContext(ctx, s.insertQuery).ExecContext(ctx,
		id, nextSeq, q.Question, q.Answer, formatTime(q.AskedAt),
	)
	if err != nil {
		return fmt.Errorf("insert query: %w", err)
	}

	return tx.Commit()
}

// ListByOwner returns all records owned by ownerID, newest first, each with
// its queries loaded. Returns an empty slice rather than nil when the owner
// has no records.
func (s *HistoryStore) ListByOwner(ctx context.Context, ownerID string) ([]HistoryRecord, error) {
	return s.listByOwnerWith(ctx, s.db, ownerID)
}

// listByOwnerWith reads an owner's records through q, which may be a
// transaction.
func (s *HistoryStore) listByOwnerWith(ctx context.Context, q querier, ownerID string) ([]HistoryRecord, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, owner_id, document_id, document_title, created_at, summary, advantages, limitations
		FROM history WHERE owner_id = ? ORDER BY created_at DESC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	records := []HistoryRecord{}
	index := map[string]int{}
	for rows.Next() {
		var rec HistoryRecord
		var createdStr, advantages, limitations string
		if err := rows.Scan(
			&rec.ID, &rec.OwnerID, &rec.DocumentID, &rec.DocumentTitle,
			&createdStr, &rec.Summary, &advantages, &limitations,
		); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if rec.CreatedAt, err = parseTimestamp(createdStr); err != nil {
			return nil, fmt.Errorf("decode created_at: %w", err)
		}
		if rec.Advantages, err = unmarshalStrings(advantages); err != nil {
			return nil, fmt.Errorf("decode advantages: %w", err)
		}
		if rec.Limitations, err = unmarshalStrings(limitations); err != nil {
			return nil, fmt.Errorf("decode limitations: %w", err)
		}
		rec.Queries = []Query{}
		index[rec.ID] = len(records)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(records) == 0 {
		return records, nil
	}

	qrows, err := q.QueryContext(ctx, `
		SELECT record_id, question, answer, asked_at
		FROM queries
		WHERE record_id IN (SELECT id FROM history WHERE owner_id = ?)
		ORDER BY record_id, seq
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query queries: %w", err)
	}
	defer qrows.Close()

	for qrows.Next() {
		var recordID string
		var qry Query
		var askedStr string
		if err := qrows.Scan(&recordID, &qry.Question, &qry.Answer, &askedStr); err != nil {
			return nil, fmt.Errorf("scan query: %w", err)
		}
		if qry.AskedAt, err = parseTimestamp(askedStr); err != nil {
			return nil, fmt.Errorf("decode asked_at: %w", err)
		}
		if i, ok := index[recordID]; ok {
			records[i].Queries = append(records[i].Queries, qry)
		}
	}
	if err := qrows.Err(); err != nil {
		return nil, err
	}

	return records, nil
}

// Delete removes a record by ID. Queries are cascade-deleted by the schema.
// Returns ErrRecordNotFound when nothing was removed.
func (s *HistoryStore) Delete(ctx context.Context, id string) error {
	res, err := s.deleteRecord.ExecContext(ctx, id)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRecordNotFound
	}

	return nil
}

// Stats returns aggregate statistics across history and archive.
func (s *HistoryStore) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM history").Scan(&stats.TotalRecords); err != nil {
		return nil, fmt.Errorf("count records: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM queries").Scan(&stats.TotalQueries); err != nil {
		return nil, fmt.Errorf("count queries: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM archive").Scan(&stats.TotalArchived); err != nil {
		return nil, fmt.Errorf("count archived: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(DISTINCT owner_id) FROM history").Scan(&stats.DistinctOwners); err != nil {
		return nil, fmt.Errorf("count owners: %w", err)
	}

	if stats.TotalRecords > 0 {
		var oldestStr, newestStr string
		err := s.db.QueryRowContext(ctx, "SELECT MIN(created_at), MAX(created_at) FROM history").Scan(&oldestStr, &newestStr)
		if err != nil {
			return nil, fmt.Errorf("record time range: %w", err)
		}
		if stats.OldestRecord, err = parseTimestamp(oldestStr); err != nil {
			return nil, fmt.Errorf("decode oldest created_at: %w", err)
		}
		if stats.NewestRecord, err = parseTimestamp(newestStr); err != nil {
			return nil, fmt.Errorf("decode newest created_at: %w", err)
		}
	}

	return stats, nil
}

// Close releases all prepared statements. The underlying *sql.DB is NOT
// closed — that is the caller's responsibility.
func (s *HistoryStore) Close() error {
	stmts := []*sql.Stmt{
		s.insertRecord, s.deleteRecord, s.insertQuery,
	}
	for _, stmt := range stmts {
		if stmt != nil {
			stmt.Close()
		}
	}
	return nil
}

// queriesFor loads a record's queries in insertion order through q, which
// may be a transaction.
func (s *HistoryStore) queriesFor(ctx context.Context, q querier, recordID string) ([]Query, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT question, answer, asked_at FROM queries
		WHERE record_id = ? ORDER BY seq
	`, recordID)
	if err != nil {
		return nil, fmt.Errorf("query queries: %w", err)
	}
	defer rows.Close()

	queries := []Query{}
	for rows.Next() {
		var qry Query
		var askedStr string
		if err := rows.Scan(&qry.Question, &qry.Answer, &askedStr); err != nil {
			return nil, fmt.Errorf("scan query: %w", err)
		}
		if qry.AskedAt, err = parseTimestamp(askedStr); err != nil {
			return nil, fmt.Errorf("decode asked_at: %w", err)
		}
		queries = append(queries, qry)
	}
	return queries, rows.Err()
}

// marshalStrings encodes a string slice as JSON, normalizing nil to [].
func marshalStrings(ss []string) (string, error) {
	if ss == nil {
		ss = []string{}
	}
	b, err := json.Marshal(ss)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// unmarshalStrings decodes a JSON string array, normalizing empty input to [].
func unmarshalStrings(s string) ([]string, error) {
	if s == "" {
		return []string{}, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

// parseTimestamp tries several common SQLite timestamp formats.
func parseTimestamp(s string) (time.Time, error) {
	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05Z",
		"2006-01-02 15:04:05",
	}
	for _, f := range formats {
		if t, err := time.Parse(f, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse timestamp: %s", s)
}
