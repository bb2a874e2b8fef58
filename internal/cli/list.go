package cli

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"

	"github.com/thinkbrief/thinkbrief/internal/history"
	"github.com/thinkbrief/thinkbrief/internal/storage"
)

// Execute implements the go-flags Commander interface for ListCommand.
func (c *ListCommand) Execute(args []string) error {
	if c.Owner == "" {
		return fmt.Errorf("list requires --owner")
	}

	svc := c.svc
	if svc == nil {
		cfg, err := loadConfig(c.globals)
		if err != nil {
			return err
		}
		var db *sql.DB
		svc, db, err = openService(cfg)
		if err != nil {
			return err
		}
		defer db.Close()
	}

	return c.executeWithService(svc)
}

// executeWithService runs list against a provided service (for testing).
func (c *ListCommand) executeWithService(svc *history.Service) error {
	ctx := context.Background()

	if c.Archived {
		recs, err := svc.ListArchive(ctx, c.Owner)
		if err != nil {
			return err
		}
		return c.printArchived(recs)
	}

	recs, err := svc.ListHistory(ctx, c.Owner)
	if err != nil {
		return err
	}
	return c.printRecords(recs)
}

func (c *ListCommand) printRecords(recs []storage.HistoryRecord) error {
	if c.Limit > 0 && len(recs) > c.Limit {
		recs = recs[:c.Limit]
	}

	if c.globals != nil && c.globals.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(recs)
	}

	if len(recs) == 0 {
		fmt.Println("No history records.")
		return nil
	}

	for _, r := range recs {
		fmt.Printf("%s  %s  %s  (%d queries)\n",
			r.ID, r.CreatedAt.Local().Format("2006-01-02 15:04"), r.DocumentTitle, len(r.Queries))
	}
	return nil
}

func (c *ListCommand) printArchived(recs []storage.ArchivedRecord) error {
	if c.Limit > 0 && len(recs) > c.Limit {
		recs = recs[:c.Limit]
	}

	if c.globals != nil && c.globals.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(recs)
	}

	if len(recs) == 0 {
		fmt.Println("No archived records.")
		return nil
	}

	for _, r := range recs {
		fmt.Printf("%s  deleted %s  %s  (was %s)\n",
			r.ID, r.DeletedAt.Local().Format("2006-01-02 15:04"), r.DocumentTitle, r.RecordID)
	}
	return nil
}
