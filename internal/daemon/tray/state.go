// Package tray implements the system tray icon and menu for the daemon.
package tray

import "github.com/autopanel-io/autopanel/internal/models"

// DaemonState provides access to daemon state for the tray.
type DaemonState interface {
	PanelURL() string
	CurrentTask() *models.TaskStatus
	StopTask()
	RequestShutdown()
}
