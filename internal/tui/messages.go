package tui

import "github.com/autopanel-io/autopanel/internal/replay"

// SessionsLoadedMsg carries the session list, most recent first.
type SessionsLoadedMsg struct {
	Sessions []SessionItem
}

// TrajectoryLoadedMsg carries a freshly rendered session.
type TrajectoryLoadedMsg struct {
	Trajectory *replay.Trajectory
}

// SessionChangedMsg signals that a session log was created or appended to.
type SessionChangedMsg struct {
	SessionID string
	Created   bool
}

// ErrorMsg carries an error to display.
type ErrorMsg struct {
	Err error
}

// ClearErrorMsg clears the error display.
type ClearErrorMsg struct{}
