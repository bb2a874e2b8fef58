package cli

import (
	"fmt"
	"os"

	goflags "github.com/jessevdk/go-flags"
)

// commands holds references to all subcommand structs for inspection/testing.
type commands struct {
	Serve  *ServeCommand
	Status *StatusCommand
	List   *ListCommand
	Delete *DeleteCommand
	Purge  *PurgeCommand
}

// buildParser constructs the go-flags parser with all subcommands registered.
func buildParser(version string) (*goflags.Parser, *GlobalFlags, *commands) {
	var globals GlobalFlags

	parser := goflags.NewParser(&globals, goflags.Default)
	parser.Name = "thinkbrief"
	parser.LongDescription = "Document summarization history service: durable per-owner records with archive-on-delete."

	cmds := &commands{
		Serve:  &ServeCommand{globals: &globals, version: version},
		Status: &StatusCommand{globals: &globals, version: version},
		List:   &ListCommand{globals: &globals, version: version},
		Delete: &DeleteCommand{globals: &globals, version: version},
		Purge:  &PurgeCommand{globals: &globals, version: version},
	}

	parser.AddCommand("serve", "Start the ThinkBrief daemon", "Start the ThinkBrief daemon (HTTP service).", cmds.Serve)
	parser.AddCommand("status", "Show database health and statistics", "Show database health, record counts, and configuration summary.", cmds.Status)
	parser.AddCommand("list", "List history records", "List an owner's history records, or archived tombstones with --archived.", cmds.List)
	parser.AddCommand("delete", "Delete a single record", "Archive and delete a single history record.", cmds.Delete)
	parser.AddCommand("purge", "Delete ALL of an owner's history", "Archive and delete ALL of an owner's history. Destructive operation with safety prompt.", cmds.Purge)

	return parser, &globals, cmds
}

// Run is the main entry point for the ThinkBrief CLI using os.Args.
func Run(version string) error {
	return RunWithArgs(version, nil)
}

// RunWithArgs parses the given args (or os.Args if nil) and executes the matched subcommand.
func RunWithArgs(version string, args []string) error {
	// Handle --version before parser (go-flags requires a subcommand, but
	// --version is valid without one).
	checkArgs := args
	if checkArgs == nil {
		checkArgs = os.Args[1:]
	}
	for _, arg := range checkArgs {
		if arg == "--version" {
			fmt.Printf("thinkbrief %s\n", version)
			return nil
		}
		if arg == "--" {
			break
		}
	}

	parser, _, _ := buildParser(version)

	var err error
	if args != nil {
		_, err = parser.ParseArgs(args)
	} else {
		_, err = parser.Parse()
	}

	if err != nil {
		if flagsErr, ok := err.(*goflags.Error); ok {
			if flagsErr.Type == goflags.ErrHelp {
				return nil
			}
		}
		return err
	}

	return nil
}
