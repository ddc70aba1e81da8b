package bus

import (
	"errors"
	"fmt"
	"time"
)

// CommandKind names an inbound command.
type CommandKind string

// Commands accepted from the UI.
const (
	CmdDownloadSnapshot CommandKind = "download-snapshot"
	CmdLaunchGame       CommandKind = "launch-game"
	CmdClearCache       CommandKind = "clear-cache"
	CmdShowWindow       CommandKind = "show-window"
	CmdMinimizeWindow   CommandKind = "minimize-window"
	CmdCloseWindow      CommandKind = "close-window"
	CmdQuit             CommandKind = "quit"
	CmdStatus           CommandKind = "status"
)

// ErrUnknownCommand is returned for a command outside the accepted set.
var ErrUnknownCommand = errors.New("unknown command")

// DownloadOptions parameterizes download-snapshot. An empty URL means the
// configured snapshot URL.
type DownloadOptions struct {
	URL string
}

// Command is a request from the UI.
type Command struct {
	Kind     CommandKind
	Download DownloadOptions
	Args     []string
}

// Validate checks that c is a known command.
func (c Command) Validate() error {
	switch c.Kind {
	case CmdDownloadSnapshot, CmdLaunchGame, CmdClearCache,
		CmdShowWindow, CmdMinimizeWindow, CmdCloseWindow, CmdQuit, CmdStatus:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownCommand, c.Kind)
}

// EventKind names an outbound event.
type EventKind string

// Events emitted to the UI.
const (
	EventDownloadProgress EventKind = "download-progress"
	EventDownloadComplete EventKind = "download-complete"
	EventExtractProgress  EventKind = "extract-progress"
	EventExtractComplete  EventKind = "extract-complete"
	EventGameClosed       EventKind = "game-closed"
	EventTransferFailed   EventKind = "transfer-failed"
	EventWindowMinimize   EventKind = "window-minimize"
	EventWindowState      EventKind = "window-state"
	EventNodeExited       EventKind = "node-exited"
	EventSettingsReloaded EventKind = "settings-reloaded"
)

// Terminal reports whether k ends a transfer job.
func (k EventKind) Terminal() bool {
	return k == EventExtractComplete || k == EventTransferFailed
}

// Event is a notification to the UI. Only the fields relevant to Kind are
// set.
type Event struct {
	Seq  uint64
	Kind EventKind
	Time time.Time

	JobID    string
	Fraction float64
	Path     string
	Phase    string
	Error    string
	Visible  bool
	Code     int
	HasCode  bool
}

// Fields returns the kind-specific payload as a generic map.
func (e Event) Fields() map[string]any {
	m := map[string]any{}
	switch e.Kind {
	case EventDownloadProgress, EventExtractProgress:
		m["fraction"] = e.Fraction
		m["job_id"] = e.JobID
	case EventDownloadComplete:
		m["path"] = e.Path
		m["job_id"] = e.JobID
	case EventExtractComplete:
		m["job_id"] = e.JobID
	case EventTransferFailed:
		m["job_id"] = e.JobID
		m["phase"] = e.Phase
		m["error"] = e.Error
	case EventWindowState:
		m["visible"] = e.Visible
	case EventNodeExited:
		if e.HasCode {
			m["code"] = float64(e.Code)
		}
	}
	return m
}
