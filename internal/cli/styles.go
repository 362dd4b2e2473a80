package cli

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/autopanel-io/autopanel/internal/models"
)

// Adaptive colors matching the TUI palette.
var (
	colorWhite  = lipgloss.AdaptiveColor{Light: "0", Dark: "15"}
	colorDim    = lipgloss.AdaptiveColor{Light: "242", Dark: "240"}
	colorGreen  = lipgloss.AdaptiveColor{Light: "28", Dark: "40"}
	colorRed    = lipgloss.AdaptiveColor{Light: "160", Dark: "196"}
	colorYellow = lipgloss.AdaptiveColor{Light: "136", Dark: "220"}
	colorCyan   = lipgloss.AdaptiveColor{Light: "30", Dark: "45"}
)

// Semantic styles for CLI output.
var (
	styleBrand   = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	styleVersion = lipgloss.NewStyle().Foreground(colorGreen)
	styleLabel   = lipgloss.NewStyle().Foreground(colorDim)
	styleValue   = lipgloss.NewStyle().Foreground(colorWhite)
	styleSuccess = lipgloss.NewStyle().Foreground(colorGreen)
	styleWarning = lipgloss.NewStyle().Bold(true).Foreground(colorYellow)
	styleError   = lipgloss.NewStyle().Bold(true).Foreground(colorRed)
	styleHint    = lipgloss.NewStyle().Foreground(colorDim)
	styleCommand = lipgloss.NewStyle().Bold(true).Foreground(colorWhite)
)

// Task state badge styles.
var (
	badgeRunning = lipgloss.NewStyle().Bold(true).Foreground(colorGreen)
	badgeDone    = lipgloss.NewStyle().Foreground(colorGreen)
	badgeFailed  = lipgloss.NewStyle().Foreground(colorRed)
	badgeStopped = lipgloss.NewStyle().Foreground(colorDim)
)

func renderTaskState(state models.TaskState) string {
	switch state {
	case models.TaskStateRunning:
		return badgeRunning.Render(string(state))
	case models.TaskStateCompleted:
		return badgeDone.Render(string(state))
	case models.TaskStateFailed:
		return badgeFailed.Render(string(state))
	default:
		return badgeStopped.Render(string(state))
	}
}
