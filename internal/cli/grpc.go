package cli

import (
	"fmt"

	"github.com/autopanel-io/autopanel/internal/config"
	"github.com/autopanel-io/autopanel/internal/daemon/server"
)

// connectDaemon opens a PanelService client to the running daemon.
func connectDaemon() (*server.Client, error) {
	info, err := config.LoadDaemonInfo()
	if err != nil {
		return nil, fmt.Errorf("failed to load daemon info: %w", err)
	}
	if info == nil {
		return nil, fmt.Errorf("daemon not running")
	}
	return server.Dial(info)
}
