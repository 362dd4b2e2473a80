package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/autopanel-io/autopanel/internal/models"
	"github.com/autopanel-io/autopanel/internal/replay"
	"github.com/autopanel-io/autopanel/internal/trajectory"
)

var (
	sessionsLimit int
	exportOutput  string
)

var sessionsCmd = &cobra.Command{
	Use:     "sessions",
	Aliases: []string{"session", "s"},
	Short:   "Inspect recorded trajectories",
}

var sessionsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List sessions, most recent first",
	Args:    cobra.NoArgs,
	RunE:    runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Print a session's trajectory as text",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

var sessionsExportCmd = &cobra.Command{
	Use:   "export <session-id>",
	Short: "Write a session's records as JSONL",
	Long: `Write the parseable records of a session as JSONL, one record per line.
The sha256 digest of the canonical record list is printed to stderr.`,
	Args: cobra.ExactArgs(1),
	RunE: runSessionsExport,
}

var sessionsVerifyCmd = &cobra.Command{
	Use:   "verify <session-id>",
	Short: "Check a session log against the record format",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsVerify,
}

func init() {
	sessionsListCmd.Flags().IntVarP(&sessionsLimit, "limit", "n", 20, "maximum number of sessions (0 for all)")
	sessionsExportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output file (default stdout)")

	sessionsCmd.AddCommand(sessionsExportCmd)
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsVerifyCmd)
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	store, _, err := openStore()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	infos := store.ListSessionInfos(sessionsLimit)
	if len(infos) == 0 {
		fmt.Fprintf(out, "No sessions in %s.\n", store.TracesDir)
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tMODIFIED\tSIZE\tTASK")
	for _, info := range infos {
		task := ""
		if rec, ok := store.FirstRecord(info.ID); ok && rec.Message.Start != nil {
			task = rec.Message.Start.Task
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", info.ID, info.ModTime.Format(models.TimestampLayout), info.Size, task)
	}
	return w.Flush()
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	store, _, err := openStore()
	if err != nil {
		return err
	}
	if err := trajectory.ValidateSessionID(args[0]); err != nil {
		return err
	}

	renderer := &replay.Renderer{Store: store, Images: replay.ImagesPathOnly}
	t := renderer.Render(args[0])
	if t.Empty() {
		return fmt.Errorf("session %s not found in %s", args[0], store.TracesDir)
	}
	fmt.Fprint(cmd.OutOrStdout(), replay.Text(t))
	return nil
}

func runSessionsExport(cmd *cobra.Command, args []string) error {
	store, _, err := openStore()
	if err != nil {
		return err
	}
	if err := trajectory.ValidateSessionID(args[0]); err != nil {
		return err
	}

	records := store.ReadSessionLogs(args[0])
	if len(records) == 0 {
		return fmt.Errorf("session %s not found in %s", args[0], store.TracesDir)
	}

	if exportOutput == "" {
		if err := writeRecords(cmd.OutOrStdout(), records); err != nil {
			return err
		}
	} else if err := exportFile(exportOutput, records); err != nil {
		return err
	}

	digest, err := trajectory.Digest(records)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%d records, sha256 %s\n", len(records), digest)
	return nil
}

// exportFile writes records to path, reporting write and close errors.
func exportFile(path string, records []models.Record) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := writeRecords(f, records); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	return nil
}

func writeRecords(w io.Writer, records []models.Record) error {
	bw := bufio.NewWriter(w)
	for _, rec := range records {
		line, err := models.MarshalCompact(rec)
		if err != nil {
			return fmt.Errorf("encode record: %w", err)
		}
		bw.Write(line)
		bw.WriteByte('\n')
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write records: %w", err)
	}
	return nil
}

func runSessionsVerify(cmd *cobra.Command, args []string) error {
	store, _, err := openStore()
	if err != nil {
		return err
	}
	if err := trajectory.ValidateSessionID(args[0]); err != nil {
		return err
	}

	report, err := trajectory.Verify(store.LogPath(args[0]))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s\n", styleLabel.Render("Log:    "), styleValue.Render(report.Path))
	fmt.Fprintf(out, "%s %d (%d steps)\n", styleLabel.Render("Records:"), report.Records, report.Steps)
	closed := "no"
	if report.Closed {
		closed = "yes"
	}
	fmt.Fprintf(out, "%s %s\n", styleLabel.Render("Closed: "), closed)

	if digest, err := trajectory.Digest(store.ReadSessionLogs(args[0])); err == nil {
		fmt.Fprintf(out, "%s %s\n", styleLabel.Render("Digest: "), digest)
	}

	if report.Valid() {
		fmt.Fprintln(out, styleSuccess.Render("OK"))
		return nil
	}

	fmt.Fprintln(out, styleError.Render("INVALID"))
	for _, p := range report.Problems {
		fmt.Fprintf(out, "  %s\n", styleWarning.Render(p.String()))
	}
	return fmt.Errorf("%d problems found", len(report.Problems))
}
