// Package device wraps the adb commands the panel uses to inspect and
// connect Android devices.
package device

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/autopanel-io/autopanel/internal/models"
)

const defaultTimeout = 10 * time.Second

// ErrADBNotFound is returned when the adb binary cannot be executed.
var ErrADBNotFound = errors.New("adb not found")

// Runner executes a command and returns its combined output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Device is one entry of `adb devices -l`.
type Device struct {
	ID          string `json:"id"`
	State       string `json:"state"`
	Model       string `json:"model,omitempty"`
	Product     string `json:"product,omitempty"`
	TransportID string `json:"transport_id,omitempty"`
}

// Ready reports whether adb can talk to the device.
func (d Device) Ready() bool {
	return d.State == "device"
}

// Status summarises attached devices.
type Status struct {
	Connected bool     `json:"connected"`
	Devices   []Device `json:"devices"`
}

// Client runs adb.
type Client struct {
	ADBPath string
	Timeout time.Duration
	Runner  Runner
}

// New returns a client configured from settings.
func New(cfg models.DeviceConfig) *Client {
	return &Client{ADBPath: cfg.ADBPath, Timeout: cfg.Timeout, Runner: ExecRunner{}}
}

func (c *Client) run(ctx context.Context, args ...string) (string, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	adb := c.ADBPath
	if adb == "" {
		adb = "adb"
	}
	runner := c.Runner
	if runner == nil {
		runner = ExecRunner{}
	}

	out, err := runner.Run(ctx, adb, args...)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return "", fmt.Errorf("%w: %s", ErrADBNotFound, adb)
		}
		if ctx.Err() != nil {
			return "", fmt.Errorf("adb %s: timed out after %s", strings.Join(args, " "), timeout)
		}
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			return "", fmt.Errorf("adb %s: %w", strings.Join(args, " "), err)
		}
		return "", fmt.Errorf("adb %s: %s", strings.Join(args, " "), msg)
	}
	return string(out), nil
}

// Devices lists every device adb knows about, in any state.
func (c *Client) Devices(ctx context.Context) ([]Device, error) {
	out, err := c.run(ctx, "devices", "-l")
	if err != nil {
		return nil, err
	}
	return ParseDevices(out), nil
}

// Status lists the devices that are ready for use.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	all, err := c.Devices(ctx)
	if err != nil {
		return nil, err
	}
	st := &Status{Devices: []Device{}}
	for _, d := range all {
		if d.Ready() {
			st.Devices = append(st.Devices, d)
		}
	}
	st.Connected = len(st.Devices) > 0
	return st, nil
}

// Packages lists third-party packages on the device, sorted. An empty
// deviceID lets adb pick the only attached device.
func (c *Client) Packages(ctx context.Context, deviceID string) ([]string, error) {
	var args []string
	if deviceID != "" {
		args = append(args, "-s", deviceID)
	}
	args = append(args, "shell", "pm", "list", "packages", "-3")

	out, err := c.run(ctx, args...)
	if err != nil {
		return nil, err
	}
	return ParsePackages(out), nil
}

// Connect attaches a device over TCP/IP and returns adb's message.
func (c *Client) Connect(ctx context.Context, addr string) (string, error) {
	if strings.TrimSpace(addr) == "" {
		return "", fmt.Errorf("address is required")
	}
	out, err := c.run(ctx, "connect", addr)
	if err != nil {
		return "", err
	}
	msg := strings.TrimSpace(out)
	lower := strings.ToLower(msg)
	if !strings.Contains(lower, "connected to") || strings.Contains(lower, "failed") || strings.Contains(lower, "cannot") {
		return "", fmt.Errorf("adb connect %s: %s", addr, msg)
	}
	return msg, nil
}

// Version returns the first line of `adb version`.
func (c *Client) Version(ctx context.Context) (string, error) {
	out, err := c.run(ctx, "version")
	if err != nil {
		return "", err
	}
	first, _, _ := strings.Cut(strings.TrimSpace(out), "\n")
	return strings.TrimSpace(first), nil
}

// ParseDevices parses `adb devices -l` output.
func ParseDevices(out string) []Device {
	var devices []Device
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "List of devices") || strings.HasPrefix(line, "*") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}

		d := Device{ID: fields[0], State: fields[1]}
		rest := fields[2:]
		if d.State == "no" && len(rest) > 0 && rest[0] == "permissions" {
			d.State = "no permissions"
			rest = nil
		}
		for _, f := range rest {
			key, val, ok := strings.Cut(f, ":")
			if !ok {
				continue
			}
			switch key {
			case "model":
				d.Model = val
			case "product":
				d.Product = val
			case "transport_id":
				d.TransportID = val
			}
		}
		devices = append(devices, d)
	}
	return devices
}

// ParsePackages parses `pm list packages` output into sorted package names.
func ParsePackages(out string) []string {
	var pkgs []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if name, ok := strings.CutPrefix(line, "package:"); ok && name != "" {
			pkgs = append(pkgs, name)
		}
	}
	sort.Strings(pkgs)
	return pkgs
}
