package storage

import "database/sql"

// migrateV001 creates the initial ThinkBrief schema: the live history
// collection with its append-only queries child table, and the archive
// collection that receives tombstone copies of deleted records. Every
// statement uses IF NOT EXISTS for idempotency.
func migrateV001(tx *sql.Tx) error {
	stmts := []string{
		// ── Tables ──────────────────────────────────────────────

		`CREATE TABLE IF NOT EXISTS history (
			id             TEXT PRIMARY KEY,
			owner_id       TEXT NOT NULL,
			document_id    TEXT NOT NULL,
			document_title TEXT NOT NULL,
			created_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			summary        TEXT NOT NULL DEFAULT '',
			advantages     TEXT NOT NULL DEFAULT '[]',
			limitations    TEXT NOT NULL DEFAULT '[]'
		)`,

		`CREATE TABLE IF NOT EXISTS queries (
			record_id TEXT NOT NULL REFERENCES history(id) ON DELETE CASCADE,
			seq       INTEGER NOT NULL,
			question  TEXT NOT NULL,
			answer    TEXT NOT NULL,
			asked_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (record_id, seq)
		)`,

		// Archived queries are stored as a JSON blob: the archive is an
		// immutable audit trail and is never queried field-wise. The same
		// record may appear more than once after a retried delete, so
		// record_id carries no uniqueness constraint.
		`CREATE TABLE IF NOT EXISTS archive (
			id                  TEXT PRIMARY KEY,
			record_id           TEXT NOT NULL,
			owner_id            TEXT NOT NULL,
			document_id         TEXT NOT NULL,
			document_title      TEXT NOT NULL,
			original_created_at DATETIME NOT NULL,
			deleted_at          DATETIME NOT NULL,
			summary             TEXT NOT NULL DEFAULT '',
			advantages          TEXT NOT NULL DEFAULT '[]',
			limitations         TEXT NOT NULL DEFAULT '[]',
			queries             TEXT NOT NULL DEFAULT '[]'
		)`,

		// ── Indexes ────────────────────────────────────────────

		`CREATE INDEX IF NOT EXISTS idx_history_owner         ON history(owner_id)`,
		`CREATE INDEX IF NOT EXISTS idx_history_owner_created ON history(owner_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_history_document      ON history(document_id)`,
		`CREATE INDEX IF NOT EXISTS idx_archive_owner         ON archive(owner_id)`,
		`CREATE INDEX IF NOT EXISTS idx_archive_record        ON archive(record_id)`,
		`CREATE INDEX IF NOT EXISTS idx_archive_deleted       ON archive(deleted_at)`,
	}

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}

	return nil
}
