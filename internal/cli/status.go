package cli

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/thinkbrief/thinkbrief/internal/storage"
)

// statusJSON is the JSON output structure for the status command.
type statusJSON struct {
	Version           string `json:"version"`
	DatabasePath      string `json:"database_path"`
	DatabaseSizeBytes int64  `json:"database_size_bytes"`
	TotalRecords      int64  `json:"total_records"`
	TotalQueries      int64  `json:"total_queries"`
	TotalArchived     int64  `json:"total_archived"`
	DistinctOwners    int64  `json:"distinct_owners"`
	OldestRecord      string `json:"oldest_record,omitempty"`
	NewestRecord      string `json:"newest_record,omitempty"`
}

// Execute implements the go-flags Commander interface for StatusCommand.
func (c *StatusCommand) Execute(args []string) error {
	cfg, err := loadConfig(c.globals)
	if err != nil {
		return err
	}

	store, archive, db, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	defer store.Close()
	defer archive.Close()

	dbPath, err := cfg.DatabasePath()
	if err != nil {
		return err
	}

	return c.executeWithStore(store, db, dbPath)
}

// executeWithStore runs status against a provided store and db (for testing).
func (c *StatusCommand) executeWithStore(store *storage.HistoryStore, db *sql.DB, dbPath string) error {
	ctx := context.Background()

	stats, err := store.Stats(ctx)
	if err != nil {
		return fmt.Errorf("get stats: %w", err)
	}

	dbSize := getDatabaseSize(db, dbPath)

	if c.globals != nil && c.globals.JSON {
		return c.printStatusJSON(stats, dbPath, dbSize)
	}
	return c.printStatusHuman(stats, dbPath, dbSize)
}

func (c *StatusCommand) printStatusHuman(stats *storage.Stats, dbPath string, dbSize int64) error {
	fmt.Println("ThinkBrief Status")
	fmt.Println("=================")
	fmt.Printf("Version:       %s\n", c.version)
	fmt.Printf("Database:      %s (%s)\n", dbPath, formatBytes(dbSize))
	fmt.Printf("Records:       %s\n", formatNumber(stats.TotalRecords))
	fmt.Printf("Queries:       %s\n", formatNumber(stats.TotalQueries))
	fmt.Printf("Archived:      %s\n", formatNumber(stats.TotalArchived))
	fmt.Printf("Owners:        %s\n", formatNumber(stats.DistinctOwners))

	if stats.TotalRecords > 0 {
		fmt.Printf("Oldest:        %s\n", stats.OldestRecord.Local().Format("2006-01-02"))
		fmt.Printf("Newest:        %s\n", stats.NewestRecord.Local().Format("2006-01-02"))
	}

	return nil
}

func (c *StatusCommand) printStatusJSON(stats *storage.Stats, dbPath string, dbSize int64) error {
	out := statusJSON{
		Version:           c.version,
		DatabasePath:      dbPath,
		DatabaseSizeBytes: dbSize,
		TotalRecords:      stats.TotalRecords,
		TotalQueries:      stats.TotalQueries,
		TotalArchived:     stats.TotalArchived,
		DistinctOwners:    stats.DistinctOwners,
	}

	if stats.TotalRecords > 0 {
		out.OldestRecord = stats.OldestRecord.UTC().Format(time.RFC3339)
		out.NewestRecord = stats.NewestRecord.UTC().Format(time.RFC3339)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// getDatabaseSize returns the database file size in bytes.
// For on-disk databases, it uses os.Stat. For in-memory databases,
// it queries page_count * page_size.
func getDatabaseSize(db *sql.DB, dbPath string) int64 {
	if info, err := os.Stat(dbPath); err == nil {
		return info.Size()
	}

	var pageCount, pageSize int64
	if err := db.QueryRow("PRAGMA page_count").Scan(&pageCount); err != nil {
		return 0
	}
	if err := db.QueryRow("PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0
	}
	return pageCount * pageSize
}
