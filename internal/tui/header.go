package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/autopanel-io/autopanel/internal/replay"
)

func renderHeader(t *replay.Trajectory, sessions, width int) string {
	dot := lipgloss.NewStyle().Foreground(colorCyan).Render("●")
	name := lipgloss.NewStyle().Bold(true).Render("AutoPanel")
	count := lipgloss.NewStyle().Foreground(colorDim).Render(fmt.Sprintf("%d sessions", sessions))

	left := fmt.Sprintf(" %s %s  %s", dot, name, count)
	right := renderSessionBadge(t) + " "

	gap := width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		gap = 1
	}

	return headerStyle.Width(width).Render(left + strings.Repeat(" ", gap) + right)
}

func renderSessionBadge(t *replay.Trajectory) string {
	switch {
	case t == nil:
		return badgeIdleStyle.Render("● No session")
	case t.Empty():
		return badgeIdleStyle.Render("● Empty")
	case t.Closed:
		return badgeClosedStyle.Render(fmt.Sprintf("● Finished · %d steps", stepCount(t)))
	default:
		return badgeOpenStyle.Render(fmt.Sprintf("● Recording · %d steps", stepCount(t)))
	}
}

func stepCount(t *replay.Trajectory) int {
	n := 0
	for _, s := range t.Steps {
		if s.Kind == replay.ViewStep {
			n++
		}
	}
	return n
}
