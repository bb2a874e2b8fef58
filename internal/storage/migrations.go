package storage

import (
	"database/sql"
	"fmt"
)

// A migration moves the schema up one version. Steps run inside their own
// transaction and are recorded in schema_migrations, so a crash mid-step
// leaves the database at the last completed version.
type migration struct {
	version int
	name    string
	up      func(tx *sql.Tx) error
}

// schemaSteps lists every migration in order. Append only; released
// versions are frozen.
var schemaSteps = []migration{
	{version: 1, name: "history_and_archive", up: migrateV001},
}

// MigrationRunner brings a SQLite database up to the current schema
// version.
type MigrationRunner struct {
	db *sql.DB
}

func NewMigrationRunner(db *sql.DB) *MigrationRunner {
	return &MigrationRunner{db: db}
}

// Run configures the connection pragmas, then applies every step above the
// database's recorded version. A fully migrated database is a no-op.
func (r *MigrationRunner) Run() error {
	// WAL keeps readers unblocked during archival writes; foreign keys
	// enforce the history -> queries cascade.
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := r.db.Exec(pragma); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if _, err := r.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	current, err := r.currentVersion()
	if err != nil {
		return err
	}

	for _, step := range schemaSteps {
		if step.version <= current {
			continue
		}
		if err := r.applyStep(step); err != nil {
			return fmt.Errorf("migrate to version %d (%s): %w", step.version, step.name, err)
		}
	}
	return nil
}

// currentVersion reads the highest recorded version, zero for a fresh
// database.
func (r *MigrationRunner) currentVersion() (int, error) {
	var v int
	err := r.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

func (r *MigrationRunner) applyStep(step migration) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := step.up(tx); err != nil {
		return err
	}
	if _, err := tx.Exec(
		"INSERT INTO schema_migrations (version, name) VALUES (?, ?)",
		step.version, step.name,
	); err != nil {
		return fmt.Errorf("record version: %w", err)
	}
	return tx.Commit()
}
