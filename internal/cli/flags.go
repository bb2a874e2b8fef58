package cli

import (
	"database/sql"

	"github.com/thinkbrief/thinkbrief/internal/history"
)

// GlobalFlags holds flags available to all subcommands.
type GlobalFlags struct {
	Config  string `long:"config" description:"Path to config file" default:""`
	JSON    bool   `long:"json" description:"Output in JSON format"`
	Verbose bool   `long:"verbose" description:"Enable verbose output"`
	Version bool   `long:"version" description:"Show version and exit"`
}

// ServeCommand — start the ThinkBrief daemon (HTTP service).
type ServeCommand struct {
	Host     string `long:"host" description:"Override listen host"`
	Port     int    `long:"port" description:"Override listen port"`
	LogLevel string `long:"log-level" description:"Override log level"`

	globals *GlobalFlags
	version string
}

// StatusCommand — show database health and statistics.
type StatusCommand struct {
	globals *GlobalFlags
	version string
}

// ListCommand — list an owner's history records or archived tombstones.
type ListCommand struct {
	Owner    string `long:"owner" description:"Owner identity (required)"`
	Archived bool   `long:"archived" description:"List archived tombstones instead of live records"`
	Limit    int    `long:"limit" description:"Maximum records to print" default:"20"`

	globals *GlobalFlags
	version string
	svc     *history.Service // injectable for testing
}

// DeleteCommand — archive and delete a single history record.
type DeleteCommand struct {
	ID    string `long:"id" description:"Record ID (required)"`
	Owner string `long:"owner" description:"Owner identity (required)"`

	globals *GlobalFlags
	version string
	svc     *history.Service // injectable for testing
}

// PurgeCommand — archive and delete ALL of an owner's history with a
// safety confirmation.
type PurgeCommand struct {
	Owner string `long:"owner" description:"Owner identity (required)"`
	Force bool   `long:"force" description:"Skip safety confirmation prompt"`

	globals *GlobalFlags
	version string
	svc     *history.Service // injectable for testing
	db      *sql.DB
}
