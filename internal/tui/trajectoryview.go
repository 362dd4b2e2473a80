package tui

import (
	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/lipgloss"

	"github.com/autopanel-io/autopanel/internal/replay"
)

// TrajectoryView shows one rendered session as scrollable text.
type TrajectoryView struct {
	viewport   viewport.Model
	trajectory *replay.Trajectory
	width      int
	height     int
}

// NewTrajectoryView creates an empty view.
func NewTrajectoryView() *TrajectoryView {
	return &TrajectoryView{viewport: viewport.New(80, 24)}
}

// SetSize updates dimensions.
func (v *TrajectoryView) SetSize(width, height int) {
	v.width = width
	v.height = height
	v.viewport.Width = width
	v.viewport.Height = height
}

// SessionID returns the open session, or "".
func (v *TrajectoryView) SessionID() string {
	if v.trajectory == nil {
		return ""
	}
	return v.trajectory.SessionID
}

// Trajectory returns the open session's last render.
func (v *TrajectoryView) Trajectory() *replay.Trajectory {
	return v.trajectory
}

// SetTrajectory replaces the content. Re-rendering the open session keeps
// the scroll position, and a view that was scrolled to the end follows new
// steps.
func (v *TrajectoryView) SetTrajectory(t *replay.Trajectory) {
	same := v.trajectory != nil && v.trajectory.SessionID == t.SessionID
	follow := same && v.viewport.AtBottom()
	offset := v.viewport.YOffset

	v.trajectory = t
	v.viewport.SetContent(replay.Text(t))

	switch {
	case !same:
		v.viewport.GotoTop()
	case follow:
		v.viewport.GotoBottom()
	default:
		v.viewport.SetYOffset(offset)
	}
}

// Close clears the view.
func (v *TrajectoryView) Close() {
	v.trajectory = nil
	v.viewport.SetContent("")
	v.viewport.GotoTop()
}

func (v *TrajectoryView) LineUp() { v.viewport.LineUp(1) }
func (v *TrajectoryView) LineDown() { v.viewport.LineDown(1) }
func (v *TrajectoryView) PageUp() { v.viewport.HalfViewUp() }
func (v *TrajectoryView) PageDown() { v.viewport.HalfViewDown() }
func (v *TrajectoryView) GotoBottom() { v.viewport.GotoBottom() }
func (v *TrajectoryView) AtBottom() bool { return v.viewport.AtBottom() }

// View renders the panel.
func (v *TrajectoryView) View() string {
	if v.trajectory == nil {
		return lipgloss.NewStyle().Foreground(colorDim).Width(v.width).Align(lipgloss.Center).
			Render("\nSelect a session and press Enter.")
	}
	return v.viewport.View()
}
