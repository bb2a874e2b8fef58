package cli

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/thinkbrief/thinkbrief/internal/config"
	"github.com/thinkbrief/thinkbrief/internal/history"
	"github.com/thinkbrief/thinkbrief/internal/storage"
)

// loadConfig loads the config file named by --config, or the default
// location, creating the default file on first use.
func loadConfig(globals *GlobalFlags) (*config.Config, error) {
	if globals != nil && globals.Config != "" {
		return config.Load(globals.Config)
	}
	return config.LoadOrCreate()
}

// openStores opens the configured SQLite database, runs migrations, and
// returns ready-to-use history and archive stores plus the underlying DB.
func openStores(cfg *config.Config) (*storage.HistoryStore, *storage.ArchiveStore, *sql.DB, error) {
	dbPath, err := cfg.DatabasePath()
	if err != nil {
		return nil, nil, nil, err
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, nil, nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open database: %w", err)
	}

	runner := storage.NewMigrationRunner(db)
	if err := runner.Run(); err != nil {
		db.Close()
		return nil, nil, nil, fmt.Errorf("run migrations: %w", err)
	}

	store, err := storage.NewHistoryStore(db)
	if err != nil {
		db.Close()
		return nil, nil, nil, fmt.Errorf("create history store: %w", err)
	}

	archive, err := storage.NewArchiveStore(db)
	if err != nil {
		store.Close()
		db.Close()
		return nil, nil, nil, fmt.Errorf("create archive store: %w", err)
	}

	return store, archive, db, nil
}

// openService opens the stores and wires them into a history service with
// no mirror. CLI operations run server-side; the local mirror belongs to
// interactive clients.
func openService(cfg *config.Config) (*history.Service, *sql.DB, error) {
	store, archive, db, err := openStores(cfg)
	if err != nil {
		return nil, nil, err
	}
	return history.NewService(store, archive, nil), db, nil
}

// setupLogging configures the process-wide slog logger.
func setupLogging(level string, verbose bool) {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	if verbose {
		lvl = slog.LevelDebug
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}

// formatBytes formats a byte count into a human-readable string.
func formatBytes(b int64) string {
	switch {
	case b >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(1<<30))
	case b >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(1<<20))
	case b >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(1<<10))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// formatNumber formats an int64 with comma separators.
func formatNumber(n int64) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}

	var result strings.Builder
	remainder := len(s) % 3
	if remainder > 0 {
		result.WriteString(s[:remainder])
		if len(s) > remainder {
			result.WriteString(",")
		}
	}
	for i := remainder; i < len(s); i += 3 {
		if i > remainder {
			result.WriteString(",")
		}
		result.WriteString(s[i : i+3])
	}
	return result.String()
}
