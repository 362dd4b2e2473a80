package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/autopanel-io/autopanel/internal/trajectory"
)

// SessionItem is one row of the session list.
type SessionItem struct {
	trajectory.SessionInfo
	Task  string
	Model string
}

// SessionList is the scrollable list of recorded sessions.
type SessionList struct {
	sessions      []SessionItem
	selectedIndex int
	scrollOffset  int
	width         int
	height        int
	loaded        bool
}

// NewSessionList creates an empty list.
func NewSessionList() *SessionList {
	return &SessionList{}
}

// SetSize updates dimensions.
func (l *SessionList) SetSize(width, height int) {
	l.width = width
	l.height = height
	l.ensureVisible()
}

// SetSessions replaces the list, keeping the selection on the same session
// when it is still present.
func (l *SessionList) SetSessions(sessions []SessionItem) {
	prev := ""
	if s, ok := l.Selected(); ok {
		prev = s.ID
	}

	l.sessions = sessions
	l.loaded = true
	l.selectedIndex = 0
	for i, s := range sessions {
		if s.ID == prev {
			l.selectedIndex = i
			break
		}
	}
	l.ensureVisible()
}

// Select moves the cursor to the session with the given id.
func (l *SessionList) Select(id string) bool {
	for i, s := range l.sessions {
		if s.ID == id {
			l.selectedIndex = i
			l.ensureVisible()
			return true
		}
	}
	return false
}

// Selected returns the session under the cursor.
func (l *SessionList) Selected() (SessionItem, bool) {
	if l.selectedIndex < 0 || l.selectedIndex >= len(l.sessions) {
		return SessionItem{}, false
	}
	return l.sessions[l.selectedIndex], true
}

// Len returns the number of listed sessions.
func (l *SessionList) Len() int {
	return len(l.sessions)
}

// MoveUp moves the cursor up.
func (l *SessionList) MoveUp() {
	if l.selectedIndex > 0 {
		l.selectedIndex--
		l.ensureVisible()
	}
}

// MoveDown moves the cursor down.
func (l *SessionList) MoveDown() {
	if l.selectedIndex < len(l.sessions)-1 {
		l.selectedIndex++
		l.ensureVisible()
	}
}

// MoveTop moves the cursor to the newest session.
func (l *SessionList) MoveTop() {
	l.selectedIndex = 0
	l.scrollOffset = 0
}

func (l *SessionList) ensureVisible() {
	if l.height <= 0 {
		return
	}
	if l.selectedIndex < l.scrollOffset {
		l.scrollOffset = l.selectedIndex
	}
	if l.selectedIndex >= l.scrollOffset+l.height {
		l.scrollOffset = l.selectedIndex - l.height + 1
	}
}

// View renders the list. openID marks the session shown in the other panel.
func (l *SessionList) View(openID string) string {
	if !l.loaded {
		return lipgloss.NewStyle().Foreground(colorDim).Width(l.width).Align(lipgloss.Center).
			Render("\nLoading sessions...")
	}
	if len(l.sessions) == 0 {
		return lipgloss.NewStyle().Foreground(colorDim).Width(l.width).Align(lipgloss.Center).
			Render("\nNo trajectories recorded yet.")
	}

	end := l.scrollOffset + l.height
	if l.height <= 0 || end > len(l.sessions) {
		end = len(l.sessions)
	}

	var lines []string
	for i := l.scrollOffset; i < end; i++ {
		line := l.formatLine(l.sessions[i], l.sessions[i].ID == openID)
		if i == l.selectedIndex {
			line = selectedItemStyle.Width(l.width).Render(line)
		}
		lines = append(lines, line)
	}

	if l.scrollOffset > 0 {
		lines = append([]string{lipgloss.NewStyle().Foreground(colorDim).Render("  ▲ more")}, lines...)
	}
	if end < len(l.sessions) {
		lines = append(lines, lipgloss.NewStyle().Foreground(colorDim).Render("  ▼ more"))
	}

	return strings.Join(lines, "\n")
}

func (l *SessionList) formatLine(s SessionItem, open bool) string {
	marker := "  "
	if open {
		marker = openMarkerStyle.Render("● ")
	}

	task := s.Task
	if task == "" {
		task = shortID(s.ID)
	}

	return fmt.Sprintf("%s%s %s",
		marker,
		lipgloss.NewStyle().Foreground(colorDim).Render(s.ModTime.Format("01-02 15:04")),
		lipgloss.NewStyle().Foreground(colorWhite).Render(task),
	)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
