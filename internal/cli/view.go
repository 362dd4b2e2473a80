package cli

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/autopanel-io/autopanel/internal/daemon/watcher"
	"github.com/autopanel-io/autopanel/internal/trajectory"
	"github.com/autopanel-io/autopanel/internal/tui"
)

var viewLimit int

var viewCmd = &cobra.Command{
	Use:   "view [session-id]",
	Short: "Browse trajectories in the terminal",
	Long: `Open the terminal trajectory viewer. Sessions refresh live while an agent
is recording. With a session id, that session is opened directly.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runView,
}

func init() {
	viewCmd.Flags().IntVarP(&viewLimit, "limit", "n", 0, "maximum number of sessions listed (0 for all)")
}

func runView(cmd *cobra.Command, args []string) error {
	if !isTerminal(os.Stdout) {
		return fmt.Errorf("view needs a terminal; use 'autopanel sessions show' instead")
	}

	store, _, err := openStore()
	if err != nil {
		return err
	}

	opts := tui.Options{Store: store, Limit: viewLimit}
	if len(args) > 0 {
		if err := trajectory.ValidateSessionID(args[0]); err != nil {
			return err
		}
		opts.SessionID = args[0]
	}

	// Log output would corrupt the alternate screen.
	log.SetOutput(io.Discard)
	defer log.SetOutput(os.Stderr)

	w, err := watcher.New(store.TracesDir, "")
	if err == nil {
		err = w.Start()
	}
	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), styleWarning.Render("Live refresh unavailable: "+err.Error()))
	} else {
		defer w.Stop()
		opts.Events = w.Events()
	}

	return tui.Run(opts)
}
