// Package tray implements the system tray icon and menu for the launcher.
package tray

// LauncherState is what the tray needs from the launcher.
type LauncherState interface {
	Port() int
	OpenWindow()
	Quit()
}

// Snapshot is the launcher state shown in the menu.
type Snapshot struct {
	NodeRunning bool
	NodePID     int
	NodeExit    string

	TransferPhase    string
	TransferProgress float64
}
