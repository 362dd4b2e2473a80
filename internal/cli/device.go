package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/autopanel-io/autopanel/internal/daemon/device"
	"github.com/autopanel-io/autopanel/internal/models"
)

// newDeviceClient is replaced in tests.
var newDeviceClient = func(cfg models.DeviceConfig) *device.Client {
	return device.New(cfg)
}

var (
	appsDeviceID string
	appsLimit    int
)

var deviceCmd = &cobra.Command{
	Use:     "device",
	Aliases: []string{"dev"},
	Short:   "Inspect Android devices through adb",
}

var deviceStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List attached devices",
	Args:  cobra.NoArgs,
	RunE:  runDeviceStatus,
}

var deviceAppsCmd = &cobra.Command{
	Use:   "apps",
	Short: "List third-party packages installed on a device",
	Args:  cobra.NoArgs,
	RunE:  runDeviceApps,
}

var deviceConnectCmd = &cobra.Command{
	Use:   "connect <host:port>",
	Short: "Connect to a device over TCP/IP",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeviceConnect,
}

func init() {
	deviceAppsCmd.Flags().StringVar(&appsDeviceID, "device-id", "", "device to query (default: the only attached device)")
	deviceAppsCmd.Flags().IntVarP(&appsLimit, "limit", "n", 0, "maximum number of packages (0 for all)")

	deviceCmd.AddCommand(deviceAppsCmd)
	deviceCmd.AddCommand(deviceConnectCmd)
	deviceCmd.AddCommand(deviceStatusCmd)
}

func deviceClient() (*device.Client, error) {
	settings, err := loadSettings()
	if err != nil {
		return nil, err
	}
	return newDeviceClient(settings.Device), nil
}

func runDeviceStatus(cmd *cobra.Command, args []string) error {
	client, err := deviceClient()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if version, err := client.Version(cmd.Context()); err == nil {
		fmt.Fprintln(out, styleHint.Render(version))
	}

	devices, err := client.Devices(cmd.Context())
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Fprintln(out, styleWarning.Render("No devices attached."))
		fmt.Fprintf(out, "%s %s\n", styleHint.Render("Enable USB debugging, or run"), styleCommand.Render("autopanel device connect <host:port>"))
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DEVICE\tSTATE\tMODEL")
	for _, d := range devices {
		fmt.Fprintf(w, "%s\t%s\t%s\n", d.ID, d.State, d.Model)
	}
	return w.Flush()
}

func runDeviceApps(cmd *cobra.Command, args []string) error {
	client, err := deviceClient()
	if err != nil {
		return err
	}

	packages, err := client.Packages(cmd.Context(), appsDeviceID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	total := len(packages)
	if appsLimit > 0 && len(packages) > appsLimit {
		packages = packages[:appsLimit]
	}
	for _, p := range packages {
		fmt.Fprintln(out, p)
	}
	if len(packages) < total {
		fmt.Fprintln(out, styleHint.Render(fmt.Sprintf("(%d of %d packages)", len(packages), total)))
	}
	return nil
}

func runDeviceConnect(cmd *cobra.Command, args []string) error {
	client, err := deviceClient()
	if err != nil {
		return err
	}

	msg, err := client.Connect(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), styleSuccess.Render(msg))
	return nil
}
