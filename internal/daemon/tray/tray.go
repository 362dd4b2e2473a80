package tray

import (
	"fmt"
	"log"
	"os/exec"
	"runtime"

	"github.com/charmbracelet/x/ansi"
	"github.com/getlantern/systray"

	"github.com/autopanel-io/autopanel/internal/models"
)

const maxTitleWidth = 48

var (
	state   DaemonState
	onStart func()
	onExit  func()

	urlItem      *systray.MenuItem
	taskItem     *systray.MenuItem
	stopTaskItem *systray.MenuItem
	openItem     *systray.MenuItem
	quitItem     *systray.MenuItem
)

// Run starts the system tray. This blocks the calling goroutine (must be main).
// onStartFn is called when the tray is ready (start the server here).
// onExitFn is called when the tray exits (cleanup here).
func Run(s DaemonState, onStartFn, onExitFn func()) {
	state = s
	onStart = onStartFn
	onExit = onExitFn
	systray.Run(onReady, onQuit)
}

// Quit signals the tray to exit.
func Quit() {
	systray.Quit()
}

func onReady() {
	systray.SetTemplateIcon(iconData, iconData)
	systray.SetTooltip("AutoPanel")

	header := systray.AddMenuItem("AutoPanel Daemon", "")
	header.Disable()

	urlItem = systray.AddMenuItem("Starting...", "")
	urlItem.Disable()

	systray.AddSeparator()

	taskItem = systray.AddMenuItem("No task running", "")
	taskItem.Disable()
	stopTaskItem = systray.AddMenuItem("Stop Task", "Stop the running agent")
	stopTaskItem.Hide()

	systray.AddSeparator()

	openItem = systray.AddMenuItem("Open Panel", "Open the control panel in a browser")
	quitItem = systray.AddMenuItem("Quit", "Shut down the AutoPanel daemon")

	if onStart != nil {
		onStart()
	}

	if state != nil {
		urlItem.SetTitle(state.PanelURL())
		Refresh()
	}

	go handleClicks()
}

func onQuit() {
	if onExit != nil {
		onExit()
	}
}

func handleClicks() {
	for {
		select {
		case <-openItem.ClickedCh:
			if state != nil {
				if err := OpenBrowser(state.PanelURL()); err != nil {
					log.Printf("[tray] Failed to open browser: %v", err)
				}
			}
		case <-stopTaskItem.ClickedCh:
			if state != nil {
				go state.StopTask()
			}
		case <-quitItem.ClickedCh:
			if state != nil {
				state.RequestShutdown()
			}
		}
	}
}

// Refresh updates the task entries and tooltip. Safe to call before the
// tray is ready.
func Refresh() {
	if state == nil || taskItem == nil {
		return
	}
	task := state.CurrentTask()
	if task == nil {
		taskItem.SetTitle("No task running")
		stopTaskItem.Hide()
	} else {
		taskItem.SetTitle(formatTaskTitle(task))
		stopTaskItem.Show()
	}
	systray.SetTooltip(formatTooltip(task))
}

func formatTaskTitle(task *models.TaskStatus) string {
	title := "● " + ansi.Truncate(task.Task, maxTitleWidth, "…")
	if task.Issue != nil {
		title += fmt.Sprintf(" (%s)", task.Issue.Type)
	}
	return title
}

func formatTooltip(task *models.TaskStatus) string {
	if task == nil {
		return "AutoPanel - idle"
	}
	return "AutoPanel - running: " + ansi.Truncate(task.Task, maxTitleWidth, "…")
}

// OpenBrowser opens url with the platform's default handler.
func OpenBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}
