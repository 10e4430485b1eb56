package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/flowd/internal/tui"
)

// followNoTUI switches the follow command to plain line output.
var followNoTUI bool

func init() {
	rootCmd.AddCommand(followCmd)

	followCmd.Flags().BoolVar(&followNoTUI, "no-tui", false, "Print plain event lines instead of the screen")
}

var followCmd = &cobra.Command{
	Use:   "follow <event-log>",
	Short: "Follow a run's event log",
	Long: `Tail a run's NDJSON event log in a live follow screen. The file does
not have to exist yet; the view attaches as soon as the run creates it
and exits when the run finishes.

Examples:
  # Watch a run started elsewhere
  flowd follow /var/lib/flowd/events/9f3c.ndjson

  # Plain output for logs and pipes
  flowd follow --no-tui run.ndjson`,
	Args: cobra.ExactArgs(1),
	RunE: runFollow,
}

func runFollow(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	if followNoTUI {
		return tui.Follow(ctx, args[0], os.Stdout)
	}
	return tui.Run(ctx, args[0])
}
