package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

func renderStatusBar(m *Model, width int) string {
	if m.err != nil {
		return renderErrorBar(m.err.Error(), width)
	}

	left := " " + getKeyHints(m)

	right := ""
	if m.live {
		right = lipgloss.NewStyle().Foreground(colorGreen).Render("Live") + " "
	} else {
		right = lipgloss.NewStyle().Foreground(colorDim).Render("Static") + " "
	}

	gap := width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		gap = 1
	}

	return statusBarStyle.Width(width).Render(left + strings.Repeat(" ", gap) + right)
}

func getKeyHints(m *Model) string {
	if m.showHelp {
		return keyHint("Esc", "close help")
	}

	base := keyHint("q", "quit") + "  " + keyHint("?", "help") + "  " + keyHint("Tab", "switch") +
		"  " + keyHint("r", "reload")

	if m.focusedPanel == panelSessions {
		return base + "  " + keyHint("j/k", "navigate") + "  " + keyHint("Enter", "open")
	}
	return base + "  " + keyHint("PgUp/PgDn", "scroll") + "  " + keyHint("G", "follow") +
		"  " + keyHint("Esc", "back")
}

func keyHint(k, desc string) string {
	if k == "" {
		return hintStyle.Render(desc)
	}
	return keyStyle.Render(k) + " " + hintStyle.Render(desc)
}

func renderErrorBar(msg string, width int) string {
	return statusBarStyle.
		Background(colorRed).
		Width(width).
		Render(" " + msg)
}
