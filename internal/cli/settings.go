package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/autopanel-io/autopanel/internal/config"
)

var settingsCmd = &cobra.Command{
	Use:     "settings",
	Aliases: []string{"config"},
	Short:   "Show global settings",
	Long: `Show the settings in ~/.autopanel/settings.yaml, with defaults applied.
Edit the file directly to change them; a running daemon reloads presets.`,
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective settings as YAML",
	Args:  cobra.NoArgs,
	RunE:  runSettingsShow,
}

var settingsPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the settings file and data directories",
	Args:  cobra.NoArgs,
	RunE:  runSettingsPath,
}

func init() {
	settingsCmd.AddCommand(settingsPathCmd)
	settingsCmd.AddCommand(settingsShowCmd)
}

func runSettingsShow(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	if settings.Telemetry.APIKey != "" {
		settings.Telemetry.APIKey = "********"
	}

	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func runSettingsPath(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	path, err := config.GlobalSettingsFile()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s\n", styleLabel.Render("Settings:"), path)
	fmt.Fprintf(out, "%s %s\n", styleLabel.Render("Traces:  "), settings.Paths.TracesDir)
	fmt.Fprintf(out, "%s %s\n", styleLabel.Render("Images:  "), settings.Paths.ImagesDir)
	fmt.Fprintf(out, "%s %s\n", styleLabel.Render("Console: "), settings.Paths.ConsoleDir)
	return nil
}
