// Package tui implements the launcherctl progress view.
package tui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nine-chronicles/launcher/internal/daemon/bus"
)

// EventSource yields launcher events until the stream ends.
type EventSource interface {
	Recv() (bus.Event, error)
}

// Options configures the view.
type Options struct {
	// JobID, when set, limits the bars to one transfer and exits once it
	// reaches a terminal event.
	JobID string
}

// programRef is a shared reference to the tea.Program for goroutine sends.
// It's set after tea.NewProgram but before p.Run().
type programRef struct {
	mu sync.Mutex
	p  *tea.Program
}

func (r *programRef) Set(p *tea.Program) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.p = p
}

func (r *programRef) Send(msg tea.Msg) {
	r.mu.Lock()
	p := r.p
	r.mu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

// Clear nils out the program reference, preventing post-exit sends.
func (r *programRef) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.p = nil
}

// Run shows the progress view until the user quits, the stream ends, or the
// followed job finishes. A failed job is returned as an error.
func Run(src EventSource, opts Options) error {
	ref := &programRef{}
	model := NewModel(opts)

	p := tea.NewProgram(model)
	ref.Set(p)
	defer ref.Clear()

	go pumpEvents(src, ref)

	final, err := p.Run()
	if err != nil {
		return err
	}
	if m, ok := final.(Model); ok {
		return m.Err()
	}
	return nil
}

func pumpEvents(src EventSource, program *programRef) {
	for {
		ev, err := src.Recv()
		if err != nil {
			program.Send(StreamEndedMsg{Err: err})
			return
		}
		program.Send(EventMsg{Event: ev})
	}
}
