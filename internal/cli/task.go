package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/autopanel-io/autopanel/internal/config"
	"github.com/autopanel-io/autopanel/internal/daemon/agent"
	"github.com/autopanel-io/autopanel/internal/daemon/server"
	"github.com/autopanel-io/autopanel/internal/models"
)

const rpcTimeout = 10 * time.Second

var (
	taskPreset   string
	taskBaseURL  string
	taskModel    string
	taskAPIKey   string
	taskDeviceID string
	taskDetach   bool
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Run and inspect agent tasks",
	Long:  `Run the automation agent through the daemon and inspect past runs.`,
}

var taskRunCmd = &cobra.Command{
	Use:   "run <task...>",
	Short: "Start a task and follow its output",
	Long: `Start the agent on a natural-language task. The model endpoint comes from
--preset, from explicit flags, or both (explicit flags win). Output is
followed until the task ends unless --detach is given.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTaskRun,
}

var taskStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running task",
	Args:  cobra.NoArgs,
	RunE:  runTaskStop,
}

var taskStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the running or most recent task",
	Args:  cobra.NoArgs,
	RunE:  runTaskStatus,
}

var taskLogsCmd = &cobra.Command{
	Use:   "logs [log-id]",
	Short: "List console transcripts, or print one",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runTaskLogs,
}

func init() {
	f := taskRunCmd.Flags()
	f.StringVarP(&taskPreset, "preset", "p", "", "model preset name from settings")
	f.StringVar(&taskBaseURL, "base-url", "", "model API base URL")
	f.StringVar(&taskModel, "model", "", "model name")
	f.StringVar(&taskAPIKey, "apikey", "", "model API key")
	f.StringVar(&taskDeviceID, "device-id", "", "adb device id")
	f.BoolVarP(&taskDetach, "detach", "d", false, "return after starting the task")

	taskCmd.AddCommand(taskLogsCmd)
	taskCmd.AddCommand(taskRunCmd)
	taskCmd.AddCommand(taskStatusCmd)
	taskCmd.AddCommand(taskStopCmd)
}

func runTaskRun(cmd *cobra.Command, args []string) error {
	if err := EnsureDaemon(); err != nil {
		return err
	}
	client, err := connectDaemon()
	if err != nil {
		return err
	}
	defer client.Close()

	rows, cols := terminalSize()
	req := server.StartTaskRequest{
		TaskRequest: agent.TaskRequest{
			Task:     strings.Join(args, " "),
			BaseURL:  taskBaseURL,
			Model:    taskModel,
			APIKey:   taskAPIKey,
			DeviceID: taskDeviceID,
			Rows:     rows,
			Cols:     cols,
		},
		Preset: taskPreset,
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), rpcTimeout)
	st, err := client.StartTask(ctx, req)
	cancel()
	if err != nil {
		return describeRPCError(err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s %s\n",
		styleSuccess.Render("Task started"),
		styleHint.Render("run "+st.RunID),
		styleHint.Render("model "+st.Model),
	)
	if taskDetach {
		fmt.Fprintln(out, styleHint.Render("Follow with 'autopanel task status' or stop with 'autopanel task stop'."))
		return nil
	}

	streamCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	err = client.StreamOutput(streamCtx, func(line string) {
		fmt.Fprintln(out, line)
	})
	if streamCtx.Err() != nil {
		fmt.Fprintln(out, styleHint.Render("\nDetached; the task keeps running. Stop it with 'autopanel task stop'."))
		return nil
	}
	if err != nil {
		return describeRPCError(err)
	}

	ctx, cancel = context.WithTimeout(cmd.Context(), rpcTimeout)
	defer cancel()
	info, err := client.GetStatus(ctx)
	if err != nil {
		return describeRPCError(err)
	}
	if info.Task != nil && info.Task.RunID == st.RunID {
		fmt.Fprintln(out)
		printTaskStatus(out, info.Task)
	}
	return nil
}

func runTaskStop(cmd *cobra.Command, args []string) error {
	client, err := connectDaemon()
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), rpcTimeout)
	defer cancel()
	st, err := client.StopTask(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			fmt.Fprintln(cmd.OutOrStdout(), "No task running.")
			return nil
		}
		return describeRPCError(err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Task stopped.")
	printTaskStatus(cmd.OutOrStdout(), st)
	return nil
}

func runTaskStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	running, _, err := config.IsDaemonRunning()
	if err != nil {
		return fmt.Errorf("failed to check daemon status: %w", err)
	}
	if !running {
		fmt.Fprintln(out, "Daemon is not running.")
		return nil
	}

	client, err := connectDaemon()
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), rpcTimeout)
	defer cancel()
	info, err := client.GetStatus(ctx)
	if err != nil {
		return describeRPCError(err)
	}
	if info.Task == nil {
		fmt.Fprintln(out, "No task has run since the daemon started.")
		return nil
	}
	printTaskStatus(out, info.Task)
	return nil
}

func printTaskStatus(w io.Writer, st *models.TaskStatus) {
	fmt.Fprintf(w, "  %s %s\n", styleLabel.Render("Task:   "), styleValue.Render(st.Task))
	fmt.Fprintf(w, "  %s %s\n", styleLabel.Render("State:  "), renderTaskState(st.State))
	fmt.Fprintf(w, "  %s %s\n", styleLabel.Render("Model:  "), st.Model)
	if st.SessionID != "" {
		fmt.Fprintf(w, "  %s %s\n", styleLabel.Render("Session:"), st.SessionID)
	}
	if st.DeviceID != "" {
		fmt.Fprintf(w, "  %s %s\n", styleLabel.Render("Device: "), st.DeviceID)
	}
	fmt.Fprintf(w, "  %s %s\n", styleLabel.Render("Started:"), st.StartedAt.Local().Format(models.TimestampLayout))
	if st.EndedAt != nil {
		fmt.Fprintf(w, "  %s %s (exit %d)\n", styleLabel.Render("Ended:  "), st.EndedAt.Local().Format(models.TimestampLayout), st.ExitCode)
	}
	if st.Issue != nil {
		fmt.Fprintf(w, "  %s %s\n", styleWarning.Render("Issue:  "), fmt.Sprintf("%s: %s", st.Issue.Type, st.Issue.Message))
	}
}

func runTaskLogs(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	dir := settings.Paths.ConsoleDir
	out := cmd.OutOrStdout()

	if len(args) == 1 {
		_, content, err := config.ReadConsoleLog(dir, args[0])
		if err != nil {
			return err
		}
		fmt.Fprint(out, content)
		return nil
	}

	entries, err := config.ListConsoleLogs(dir)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "No console logs yet.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "LOG\tSTATUS\tSESSION\tTASK")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.LogID, e.Status, e.SessionID, e.Task)
	}
	return w.Flush()
}

// describeRPCError turns gRPC status errors into plain messages.
func describeRPCError(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.Unavailable:
		return errors.New("daemon unreachable; is it running? Try 'autopanel daemon start'")
	case codes.InvalidArgument, codes.NotFound, codes.FailedPrecondition:
		return errors.New(st.Message())
	default:
		return fmt.Errorf("%s: %s", st.Code(), st.Message())
	}
}
