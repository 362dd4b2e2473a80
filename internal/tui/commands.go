package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/autopanel-io/autopanel/internal/replay"
	"github.com/autopanel-io/autopanel/internal/trajectory"
)

func loadSessionsCmd(store *trajectory.Store, limit int) tea.Cmd {
	return func() tea.Msg {
		return SessionsLoadedMsg{Sessions: listSessions(store, limit)}
	}
}

// listSessions pairs each session file with the task from its first record.
func listSessions(store *trajectory.Store, limit int) []SessionItem {
	infos := store.ListSessionInfos(limit)
	items := make([]SessionItem, 0, len(infos))
	for _, info := range infos {
		item := SessionItem{SessionInfo: info}
		if rec, ok := store.FirstRecord(info.ID); ok && rec.Message.Start != nil {
			item.Task = rec.Message.Start.Task
			item.Model = rec.Message.Start.ModelConfig.ModelName
		}
		items = append(items, item)
	}
	return items
}

func loadTrajectoryCmd(renderer *replay.Renderer, sessionID string) tea.Cmd {
	return func() tea.Msg {
		if err := trajectory.ValidateSessionID(sessionID); err != nil {
			return ErrorMsg{Err: err}
		}
		return TrajectoryLoadedMsg{Trajectory: renderer.Render(sessionID)}
	}
}

func clearErrorAfter(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(_ time.Time) tea.Msg {
		return ClearErrorMsg{}
	})
}
