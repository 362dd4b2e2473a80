package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/autopanel-io/autopanel/internal/replay"
	"github.com/autopanel-io/autopanel/internal/trajectory"
)

const (
	minWidth  = 60
	minHeight = 16
)

// Model is the root Bubbletea model for the viewer.
type Model struct {
	store    *trajectory.Store
	renderer *replay.Renderer
	limit    int
	live     bool

	// openID is the session last requested for display; renders of any
	// other session are stale and dropped.
	openID string

	// UI state
	focusedPanel panel
	showHelp     bool
	splitRatio   float64
	width        int
	height       int
	err          error

	// Child components
	sessionList *SessionList
	trajectory  *TrajectoryView
}

// NewModel creates the initial viewer model.
func NewModel(opts Options) Model {
	m := Model{
		store:        opts.Store,
		renderer:     &replay.Renderer{Store: opts.Store, Images: replay.ImagesPathOnly},
		limit:        opts.Limit,
		live:         opts.Events != nil,
		openID:       opts.SessionID,
		focusedPanel: panelSessions,
		splitRatio:   0.35,
		sessionList:  NewSessionList(),
		trajectory:   NewTrajectoryView(),
	}
	if opts.SessionID != "" {
		m.focusedPanel = panelTrajectory
	}
	return m
}

// Init returns the initial commands.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{loadSessionsCmd(m.store, m.limit)}
	if m.openID != "" {
		cmds = append(cmds, loadTrajectoryCmd(m.renderer, m.openID))
	}
	return tea.Batch(cmds...)
}

// Update processes messages and returns an updated model and commands.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateDimensions()
		return m, nil

	case tea.KeyMsg:
		return m, m.handleKey(msg)

	case SessionsLoadedMsg:
		m.sessionList.SetSessions(msg.Sessions)
		if m.openID != "" && m.trajectory.SessionID() == "" {
			m.sessionList.Select(m.openID)
		}
		return m, nil

	case TrajectoryLoadedMsg:
		if msg.Trajectory == nil || msg.Trajectory.SessionID != m.openID {
			return m, nil
		}
		m.trajectory.SetTrajectory(msg.Trajectory)
		return m, nil

	case SessionChangedMsg:
		cmds := []tea.Cmd{loadSessionsCmd(m.store, m.limit)}
		if msg.SessionID != "" && msg.SessionID == m.openID {
			cmds = append(cmds, loadTrajectoryCmd(m.renderer, m.openID))
		}
		return m, tea.Batch(cmds...)

	case ErrorMsg:
		m.err = msg.Err
		return m, clearErrorAfter(5 * time.Second)

	case ClearErrorMsg:
		m.err = nil
		return m, nil
	}

	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) tea.Cmd {
	if m.showHelp {
		if key.Matches(msg, globalKeys.Help) || msg.String() == "esc" || key.Matches(msg, globalKeys.Quit) {
			m.showHelp = false
		}
		return nil
	}

	switch {
	case key.Matches(msg, globalKeys.Quit):
		return tea.Quit
	case key.Matches(msg, globalKeys.Help):
		m.showHelp = true
		return nil
	case key.Matches(msg, globalKeys.Tab):
		if m.focusedPanel == panelSessions {
			m.focusedPanel = panelTrajectory
		} else {
			m.focusedPanel = panelSessions
		}
		return nil
	case key.Matches(msg, globalKeys.Reload):
		return m.reload()
	}

	if m.focusedPanel == panelSessions {
		return m.handleSessionListKey(msg)
	}
	return m.handleTrajectoryKey(msg)
}

func (m *Model) handleSessionListKey(msg tea.KeyMsg) tea.Cmd {
	switch {
	case key.Matches(msg, sessionListKeys.Up):
		m.sessionList.MoveUp()
	case key.Matches(msg, sessionListKeys.Down):
		m.sessionList.MoveDown()
	case key.Matches(msg, sessionListKeys.Top):
		m.sessionList.MoveTop()
	case key.Matches(msg, sessionListKeys.Enter):
		s, ok := m.sessionList.Selected()
		if !ok {
			return nil
		}
		m.openID = s.ID
		m.focusedPanel = panelTrajectory
		return loadTrajectoryCmd(m.renderer, s.ID)
	}
	return nil
}

func (m *Model) handleTrajectoryKey(msg tea.KeyMsg) tea.Cmd {
	switch {
	case key.Matches(msg, trajectoryKeys.Up):
		m.trajectory.LineUp()
	case key.Matches(msg, trajectoryKeys.Down):
		m.trajectory.LineDown()
	case key.Matches(msg, trajectoryKeys.PageUp):
		m.trajectory.PageUp()
	case key.Matches(msg, trajectoryKeys.PageDown):
		m.trajectory.PageDown()
	case key.Matches(msg, trajectoryKeys.Bottom):
		m.trajectory.GotoBottom()
	case key.Matches(msg, trajectoryKeys.Back):
		m.focusedPanel = panelSessions
	}
	return nil
}

// reload re-reads the session list and re-renders the open session.
func (m *Model) reload() tea.Cmd {
	cmds := []tea.Cmd{loadSessionsCmd(m.store, m.limit)}
	if m.openID != "" {
		cmds = append(cmds, loadTrajectoryCmd(m.renderer, m.openID))
	}
	return tea.Batch(cmds...)
}

func (m *Model) updateDimensions() {
	layout := computeLayout(m.width, m.height, m.splitRatio)
	inner := layout.contentHeight - 2
	if inner < 1 {
		inner = 1
	}
	m.sessionList.SetSize(layout.leftWidth-2, inner)
	m.trajectory.SetSize(layout.rightWidth-2, inner)
}

// View renders the UI.
func (m Model) View() string {
	if m.width < minWidth || m.height < minHeight {
		sizeStr := fmt.Sprintf("%dx%d", m.width, m.height)
		return lipgloss.NewStyle().
			Width(m.width).
			Height(m.height).
			Align(lipgloss.Center, lipgloss.Center).
			Foreground(colorYellow).
			Render(lipgloss.JoinVertical(lipgloss.Center,
				"Terminal too small",
				lipgloss.NewStyle().Foreground(colorDim).Render(
					fmt.Sprintf("Need %dx%d, have ", minWidth, minHeight)+lipgloss.NewStyle().Bold(true).Render(sizeStr),
				),
			))
	}

	layout := computeLayout(m.width, m.height, m.splitRatio)

	header := renderHeader(m.trajectory.Trajectory(), m.sessionList.Len(), m.width)
	panels := renderPanels(
		m.sessionList.View(m.trajectory.SessionID()),
		m.trajectory.View(),
		layout,
		m.focusedPanel,
	)
	statusBar := renderStatusBar(&m, m.width)

	view := lipgloss.JoinVertical(lipgloss.Left, header, panels, statusBar)
	if m.showHelp {
		view = renderOverlay(view, renderHelp(m.width), m.width, m.height)
	}
	return view
}
