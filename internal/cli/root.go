// Package cli implements the autopanel CLI commands.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/autopanel-io/autopanel/internal/config"
	"github.com/autopanel-io/autopanel/internal/models"
	"github.com/autopanel-io/autopanel/internal/trajectory"
)

var (
	tracesDirFlag string
	imagesDirFlag string
)

var rootCmd = &cobra.Command{
	Use:   "autopanel",
	Short: "Drive an Android automation agent and replay its trajectories",
	Long: `AutoPanel runs an Android automation agent through a local daemon and
records every step it takes, so the session can be replayed afterwards.

Without a subcommand on a terminal, opens the trajectory viewer.`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         runRoot,
}

func runRoot(cmd *cobra.Command, args []string) error {
	if !isTerminal(os.Stdout) {
		return cmd.Help()
	}
	return runView(cmd, nil)
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&tracesDirFlag, "traces-dir", "", "trajectory log directory (overrides settings)")
	rootCmd.PersistentFlags().StringVar(&imagesDirFlag, "images-dir", "", "step screenshot directory (overrides settings)")

	// Add subcommands (alphabetical)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(deviceCmd)
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(settingsCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(viewCmd)
}

// loadSettings loads ~/.autopanel/settings.yaml and applies the directory
// flags.
func loadSettings() (*models.Settings, error) {
	settings, err := config.LoadSettings()
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	if tracesDirFlag != "" {
		settings.Paths.TracesDir = tracesDirFlag
	}
	if imagesDirFlag != "" {
		settings.Paths.ImagesDir = imagesDirFlag
	}
	return settings, nil
}

// openStore returns the session store the flags and settings point at.
func openStore() (*trajectory.Store, *models.Settings, error) {
	settings, err := loadSettings()
	if err != nil {
		return nil, nil, err
	}
	return trajectory.NewStore(settings.Paths.TracesDir, settings.Paths.ImagesDir), settings, nil
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// terminalSize returns the size of stdout, or zeros when it is not a terminal.
func terminalSize() (rows, cols int) {
	if !isTerminal(os.Stdout) {
		return 0, 0
	}
	cols, rows, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 0, 0
	}
	return rows, cols
}
