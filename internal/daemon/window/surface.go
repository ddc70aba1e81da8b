package window

import (
	"github.com/nine-chronicles/launcher/internal/daemon/bus"
)

// Publisher receives window-state events.
type Publisher interface {
	Publish(ev bus.Event) bus.Event
}

// EventSurface is a Surface for a window drawn by an out-of-process UI
// shell: visibility changes are published as window-state events, and a
// close is answered locally since the shell never vetoes it.
type EventSurface struct {
	pub       Publisher
	terminate func()
	life      *Lifecycle
}

// NewEventSurface creates a surface; terminate is called when the
// launcher should exit.
func NewEventSurface(pub Publisher, terminate func()) *EventSurface {
	return &EventSurface{pub: pub, terminate: terminate}
}

// Bind attaches the lifecycle that receives close requests.
func (s *EventSurface) Bind(l *Lifecycle) {
	s.life = l
}

func (s *EventSurface) Show() {
	s.pub.Publish(bus.Event{Kind: bus.EventWindowState, Visible: true})
}

func (s *EventSurface) Hide() {
	s.pub.Publish(bus.Event{Kind: bus.EventWindowState, Visible: false})
}

func (s *EventSurface) Close() {
	if s.life != nil {
		s.life.RequestClose()
	}
}

func (s *EventSurface) Terminate() {
	if s.terminate != nil {
		s.terminate()
	}
}
