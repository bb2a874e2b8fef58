package cli

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"

	"github.com/thinkbrief/thinkbrief/internal/history"
)

// Execute implements the go-flags Commander interface for DeleteCommand.
func (c *DeleteCommand) Execute(args []string) error {
	if c.ID == "" {
		return fmt.Errorf("delete requires --id")
	}
	if c.Owner == "" {
		return fmt.Errorf("delete requires --owner")
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

// executeWithService runs delete against a provided service (for testing).
func (c *DeleteCommand) executeWithService(svc *history.Service) error {
	if err := svc.DeleteOne(context.Background(), c.ID, c.Owner); err != nil {
		return err
	}

	if c.globals != nil && c.globals.JSON {
		out := map[string]any{"deleted": true, "record_id": c.ID}
		return json.NewEncoder(os.Stdout).Encode(out)
	}

	fmt.Printf("Archived and deleted record %s.\n", c.ID)
	return nil
}
