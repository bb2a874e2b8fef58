package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/thinkbrief/thinkbrief/internal/history"
)

// setService allows tests to inject a history service.
func (c *PurgeCommand) setService(svc *history.Service) {
	c.svc = svc
}

// Execute implements the go-flags Commander interface for PurgeCommand.
func (c *PurgeCommand) Execute(args []string) error {
	if c.Owner == "" {
		return fmt.Errorf("purge requires --owner for safety")
	}

	// Confirmation prompt unless --force
	if !c.Force {
		fmt.Printf("⚠ WARNING: This will delete ALL history for owner %q.\n", c.Owner)
		fmt.Println("  - Every history record")
		fmt.Println("  - Every recorded query")
		fmt.Println()
		fmt.Println("Each record is archived as a tombstone before removal.")
		fmt.Println()
		fmt.Print(`Type "PURGE" to confirm: `)

		scanner := bufio.NewScanner(os.Stdin)
		if !scanner.Scan() {
			return fmt.Errorf("aborted: no input received")
		}
		input := strings.TrimSpace(scanner.Text())
		if input != "PURGE" {
			return fmt.Errorf("aborted: confirmation text did not match")
		}
	}

	svc := c.svc
	if svc == nil {
		cfg, err := loadConfig(c.globals)
		if err != nil {
			return err
		}
		var err2 error
		svc, c.db, err2 = openService(cfg)
		if err2 != nil {
			return err2
		}
		defer c.db.Close()
	}

	n, err := svc.DeleteAll(context.Background(), c.Owner)
	if err != nil {
		return fmt.Errorf("purge failed: %w", err)
	}

	if c.globals != nil && c.globals.JSON {
		out := map[string]any{
			"purged":  true,
			"owner":   c.Owner,
			"deleted": n,
		}
		return json.NewEncoder(os.Stdout).Encode(out)
	}

	fmt.Printf("Purged %d records for owner %s.\n", n, c.Owner)
	return nil
}
