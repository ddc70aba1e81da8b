package tray

import (
	"fmt"
	"sync"

	"github.com/getlantern/systray"
)

var (
	state   LauncherState
	onStart func()
	onExit  func()

	mu           sync.Mutex
	ready        bool
	pending      *Snapshot
	portItem     *systray.MenuItem
	nodeItem     *systray.MenuItem
	transferItem *systray.MenuItem
	openItem     *systray.MenuItem
	quitItem     *systray.MenuItem
)

// Run starts the system tray. This blocks the calling goroutine (must be main).
// onStartFn is called when the tray is ready (launch the orchestrator here).
// onExitFn is called when the tray exits (cleanup here).
func Run(s LauncherState, onStartFn, onExitFn func()) {
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
	systray.SetTooltip("Nine Chronicles Launcher")

	header := systray.AddMenuItem("Nine Chronicles Launcher", "")
	header.Disable()

	portItem = systray.AddMenuItem("Starting...", "")
	portItem.Disable()
	nodeItem = systray.AddMenuItem(formatNode(Snapshot{}), "")
	nodeItem.Disable()
	transferItem = systray.AddMenuItem("", "")
	transferItem.Disable()
	transferItem.Hide()

	systray.AddSeparator()

	openItem = systray.AddMenuItem("Open Window", "Show the launcher window")
	quitItem = systray.AddMenuItem("Quit Launcher", "Stop the node and game, then exit")

	if onStart != nil {
		onStart()
	}

	if state != nil {
		portItem.SetTitle(fmt.Sprintf("Listening on port %d", state.Port()))
	}

	mu.Lock()
	ready = true
	if pending != nil {
		apply(*pending)
		pending = nil
	}
	mu.Unlock()

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
				state.OpenWindow()
			}
		case <-quitItem.ClickedCh:
			if state != nil {
				state.Quit()
			}
		}
	}
}

// Update refreshes the status lines. Updates before the tray is ready
// are applied once it is.
func Update(s Snapshot) {
	mu.Lock()
	defer mu.Unlock()

	if !ready {
		pending = &s
		return
	}
	apply(s)
}

func apply(s Snapshot) {
	nodeItem.SetTitle(formatNode(s))

	if line := formatTransfer(s); line != "" {
		transferItem.SetTitle(line)
		transferItem.Show()
	} else {
		transferItem.Hide()
	}

	systray.SetTooltip(formatTooltip(s))
}

func formatNode(s Snapshot) string {
	switch {
	case s.NodeRunning:
		return fmt.Sprintf("Node: running (pid %d)", s.NodePID)
	case s.NodeExit != "":
		return "Node: " + s.NodeExit
	default:
		return "Node: stopped"
	}
}

func formatTransfer(s Snapshot) string {
	pct := int(s.TransferProgress * 100)
	switch s.TransferPhase {
	case "downloading":
		return fmt.Sprintf("Downloading snapshot: %d%%", pct)
	case "extracting":
		return fmt.Sprintf("Installing snapshot: %d%%", pct)
	case "failed":
		return "Snapshot install failed"
	}
	return ""
}

func formatTooltip(s Snapshot) string {
	if line := formatTransfer(s); line != "" {
		return "Nine Chronicles Launcher: " + line
	}
	return "Nine Chronicles Launcher: " + formatNode(s)
}
