package cli

import (
	"context"
	"errors"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/autopanel-io/autopanel/internal/trajectory"
)

var recordAck bool

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record a trajectory from JSON commands on stdin",
	Long: `Read newline-delimited JSON commands from stdin and write them to the
session store. Each line is one of:

  {"op":"start","task":"...","model":"...","extra_info":{...}}
  {"op":"step","screenshot":"<base64>","thinking":"...","action":{...},"action_type":"Tap"}
  {"op":"end","message":"..."}

A step may name a file with "screenshot_path" instead of inline base64.
The session banner is printed to stdout when a session starts.`,
	Args: cobra.NoArgs,
	RunE: runRecord,
}

func init() {
	recordCmd.Flags().BoolVar(&recordAck, "ack", false, "write a JSON reply line to stdout for every command")
}

func runRecord(cmd *cobra.Command, args []string) error {
	store, _, err := openStore()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := trajectory.NewLogger(store, trajectory.WithBanner(cmd.OutOrStdout()))
	defer logger.EndSession("")

	var replies io.Writer
	if recordAck {
		replies = cmd.OutOrStdout()
	}
	err = trajectory.NewBridge(logger).Run(ctx, cmd.InOrStdin(), replies)
	if errors.Is(err, context.Canceled) && cmd.Context().Err() == nil {
		// Interrupted by a signal; the open session is closed by the deferred EndSession.
		return nil
	}
	return err
}
