// Package window implements the launcher window's minimize-to-tray
// lifecycle. Closing the window hides it unless the user chose Quit.
package window

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Visibility is whether the window is on screen.
type Visibility int

const (
	Shown Visibility = iota
	Hidden
)

func (v Visibility) String() string {
	if v == Shown {
		return "shown"
	}
	return "hidden"
}

// State is the window lifecycle state.
type State struct {
	Visibility Visibility
	Quitting   bool
}

// Surface is the on-screen window.
type Surface interface {
	Show()
	Hide()
	// Close asks the window to close; the window answers by calling
	// Lifecycle.RequestClose.
	Close()
	// Terminate ends the application.
	Terminate()
}

// Lifecycle tracks window state. Methods must be called from the
// control loop.
type Lifecycle struct {
	surface    Surface
	beforeExit func()
	state      State
	terminated bool
	logger     zerolog.Logger
}

// New returns a lifecycle in the Shown state. beforeExit runs once,
// immediately before Terminate, when the window closes while quitting.
func New(surface Surface, beforeExit func()) *Lifecycle {
	return &Lifecycle{
		surface:    surface,
		beforeExit: beforeExit,
		logger:     log.With().Str("component", "window").Logger(),
	}
}

// State returns the current state.
func (l *Lifecycle) State() State {
	return l.state
}

// Minimize hides the window.
func (l *Lifecycle) Minimize() {
	l.hide()
}

// Open shows the window. Used by the tray and by second-instance
// activation.
func (l *Lifecycle) Open() {
	if l.terminated {
		return
	}
	if l.state.Visibility != Shown {
		l.state.Visibility = Shown
		l.surface.Show()
	}
}

// RequestClose handles a close request. While not quitting the window is
// hidden and false is returned. While quitting, children are cleaned up,
// the app terminates and true is returned.
func (l *Lifecycle) RequestClose() bool {
	if !l.state.Quitting {
		l.hide()
		return false
	}
	if l.terminated {
		return true
	}
	l.terminated = true
	l.logger.Info().Msg("closing launcher")
	if l.beforeExit != nil {
		l.beforeExit()
	}
	l.surface.Terminate()
	return true
}

// Quit marks the lifecycle as quitting and closes the window.
func (l *Lifecycle) Quit() {
	if l.terminated {
		return
	}
	l.state.Quitting = true
	l.surface.Close()
}

func (l *Lifecycle) hide() {
	if l.terminated {
		return
	}
	if l.state.Visibility != Hidden {
		l.state.Visibility = Hidden
		l.surface.Hide()
	}
}
