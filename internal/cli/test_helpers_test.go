package cli

import (
	"bytes"
	"context"
	"database/sql"
	"io"
	"os"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/thinkbrief/thinkbrief/internal/history"
	"github.com/thinkbrief/thinkbrief/internal/storage"
)

// captureOutput captures stdout during fn execution and returns it as a string.
func captureOutput(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	fn()

	w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	return buf.String()
}

// newTestService builds a history service over a migrated in-memory database.
func newTestService(t *testing.T) (*history.Service, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, storage.NewMigrationRunner(db).Run())

	store, err := storage.NewHistoryStore(db)
	require.NoError(t, err)
	archive, err := storage.NewArchiveStore(db)
	require.NoError(t, err)

	return history.NewService(store, archive, nil), db
}

// seedRecord creates a history record for owner with the given document id.
func seedRecord(t *testing.T, svc *history.Service, owner, docID string) *storage.HistoryRecord {
	t.Helper()
	rec, err := svc.RecordAnalysis(context.Background(), history.AnalysisParams{
		OwnerID:       owner,
		DocumentID:    docID,
		DocumentTitle: "Doc " + docID,
		Summary:       "summary of " + docID,
	})
	require.NoError(t, err)
	return rec
}
