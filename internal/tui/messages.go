package tui

import "github.com/nine-chronicles/launcher/internal/daemon/bus"

// EventMsg carries one launcher event from the Subscribe stream.
type EventMsg struct {
	Event bus.Event
}

// StreamEndedMsg signals the event stream closed.
type StreamEndedMsg struct {
	Err error
}
