package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ArchiveStore persists tombstone copies of deleted history records. Rows
// are written once and never updated; a record deleted, restored by a
// retried operation, and deleted again simply appears twice.
type ArchiveStore struct {
	db *sql.DB

	insertArchived *sql.Stmt
}

// NewArchiveStore creates an ArchiveStore from an already-opened and
// migrated database.
func NewArchiveStore(db *sql.DB) (*ArchiveStore, error) {
	s := &ArchiveStore{db: db}

	var err error
	s.insertArchived, err = s.db.Prepare(`
		INSERT INTO archive (id, record_id, owner_id, document_id, document_title,
			original_created_at, deleted_at, summary, advantages, limitations, queries)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return nil, fmt.Errorf("prepare statements: %w", err)
	}

	return s, nil
}

// ArchiveAndDelete moves one live record into the archive: the tombstone
// write and the live-row delete commit in a single transaction, so a record
// can never vanish from history without its tombstone, and queries appended
// up to the moment of deletion are captured in it. Both stores must be built
// over the same *sql.DB. Returns ErrRecordNotFound when the record is
// already gone.
func (s *ArchiveStore) ArchiveAndDelete(ctx context.Context, h *HistoryStore, id string, deletedAt time.Time) (*ArchivedRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	rec, err := h.getWith(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	arch := Tombstone(rec, deletedAt)
	if err := s.insert(ctx, tx.StmtContext(ctx, s.insertArchived), arch); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM history WHERE id = ?", id); err != nil {
		return nil, fmt.Errorf("delete record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return arch, nil
}

// ArchiveAndDeleteByOwner moves every record owned by ownerID into the
// archive, all stamped with the same deletion time, and returns the number
// moved. The listing, the tombstone writes, and the deletes share one
// transaction, so a record created concurrently is either untouched or
// fully moved, never erased without a tombstone. Both stores must be built
// over the same *sql.DB.
func (s *ArchiveStore) ArchiveAndDeleteByOwner(ctx context.Context, h *HistoryStore, ownerID string, deletedAt time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	recs, err := h.listByOwnerWith(ctx, tx, ownerID)
	if err != nil {
		return 0, err
	}
	if len(recs) == 0 {
		return 0, nil
	}

	stmt := tx.StmtContext(ctx, s.insertArchived)
	for i := range recs {
		if err := s.insert(ctx, stmt, Tombstone(&recs[i], deletedAt)); err != nil {
			return 0, err
		}
	}

	// Delete exactly the listed rows, not everything under the owner, so
	// nothing outside the archived snapshot can be touched.
	for i := range recs {
		if _, err := tx.ExecContext(ctx, "DELETE FROM history WHERE id = ?", recs[i].ID); err != nil {
			return 0, fmt.Errorf("delete record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return int64(len(recs)), nil
}

func (s *ArchiveStore) insert(ctx context.Context, stmt *sql.Stmt, arch *ArchivedRecord) error {
	advantages, err := marshalStrings(arch.Advantages)
	if err != nil {
		return fmt.Errorf("encode advantages: %w", err)
	}
	limitations, err := marshalStrings(arch.Limitations)
	if err != nil {
		return fmt.Errorf("encode limitations: %w", err)
	}
	queries, err := json.Marshal(arch.Queries)
	if err != nil {
		return fmt.Errorf("encode queries: %w", err)
	}

	_, err = stmt.ExecContext(ctx,
		arch.ID, arch.RecordID, arch.OwnerID, arch.DocumentID, arch.DocumentTitle,
		formatTime(arch.OriginalCreatedAt), formatTime(arch.DeletedAt),
		arch.Summary, advantages, limitations, string(queries),
	)
	if err != nil {
		return fmt.Errorf("insert archived record: %w", err)
	}

	return nil
}

// ListByOwner returns all archived records for ownerID, most recently
// deleted first. Returns an empty slice rather than nil.
func (s *ArchiveStore) ListByOwner(ctx context.Context, ownerID string) ([]ArchivedRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, record_id, owner_id, document_id, document_title,
			original_created_at, deleted_at, summary, advantages, limitations, queries
		FROM archive WHERE owner_id = ? ORDER BY deleted_at DESC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query archive: %w", err)
	}
	defer rows.Close()

	archived := []ArchivedRecord{}
	for rows.Next() {
		var arch ArchivedRecord
		var createdStr, deletedStr, advantages, limitations, queries string
		if err := rows.Scan(
			&arch.ID, &arch.RecordID, &arch.OwnerID, &arch.DocumentID, &arch.DocumentTitle,
			&createdStr, &deletedStr, &arch.Summary, &advantages, &limitations, &queries,
		); err != nil {
			return nil, fmt.Errorf("scan archived record: %w", err)
		}
		if arch.OriginalCreatedAt, err = parseTimestamp(createdStr); err != nil {
			return nil, fmt.Errorf("decode original_created_at: %w", err)
		}
		if arch.DeletedAt, err = parseTimestamp(deletedStr); err != nil {
			return nil, fmt.Errorf("decode deleted_at: %w", err)
		}
		if arch.Advantages, err = unmarshalStrings(advantages); err != nil {
			return nil, fmt.Errorf("decode advantages: %w", err)
		}
		if arch.Limitations, err = unmarshalStrings(limitations); err != nil {
			return nil, fmt.Errorf("decode limitations: %w", err)
		}
		arch.Queries = []Query{}
		if queries != "" {
			if err := json.Unmarshal([]byte(queries), &arch.Queries); err != nil {
				return nil, fmt.Errorf("decode queries: %w", err)
			}
		}
		if arch.Queries == nil {
			arch.Queries = []Query{}
		}
		archived = append(archived, arch)
	}

	return archived, rows.Err()
}

// CountByRecord returns how many tombstones exist for a given original
// record ID. Used to confirm the archive-then-delete postcondition.
func (s *ArchiveStore) CountByRecord(ctx context.Context, recordID string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM archive WHERE record_id = ?", recordID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count archived: %w", err)
	}
	return n, nil
}

// Close releases all prepared statements. The underlying *sql.DB is NOT
// closed — that is the caller's responsibility.
func (s *ArchiveStore) Close() error {
	if s.insertArchived != nil {
		s.insertArchived.Close()
	}
	return nil
}

// Tombstone copies a live record into its archived form. The archive row
// gets its own ID; the original record ID is preserved in RecordID.
func Tombstone(rec *HistoryRecord, deletedAt time.Time) *ArchivedRecord {
	if deletedAt.IsZero() {
		deletedAt = time.Now().UTC()
	}
	return &ArchivedRecord{
		ID:                uuid.NewString(),
		RecordID:          rec.ID,
		OwnerID:           rec.OwnerID,
		DocumentID:        rec.DocumentID,
		DocumentTitle:     rec.DocumentTitle,
		OriginalCreatedAt: rec.CreatedAt,
		DeletedAt:         deletedAt,
		Summary:           rec.Summary,
		Advantages:        rec.Advantages,
		Limitations:       rec.Limitations,
		Queries:           rec.Queries,
	}
}
