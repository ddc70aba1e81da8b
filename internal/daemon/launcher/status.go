package launcher

import (
	"time"

	"github.com/nine-chronicles/launcher/internal/daemon/process"
	"github.com/nine-chronicles/launcher/internal/daemon/transfer"
	"github.com/nine-chronicles/launcher/internal/daemon/window"
)

// Status is a snapshot of the orchestrator for the tray, CLI and UI.
type Status struct {
	Version     string
	PID         int
	StartedAt   time.Time
	Window      window.State
	Node        *process.Info
	Processes   []process.Info
	Transfer    *transfer.Job
	Subscribers int
}

// Result is the outcome of a command.
type Result struct {
	Job     *transfer.Job
	Process *process.Info
	Status  *Status

	// Closed is set by close-window when the launcher terminated.
	Closed bool
}

// Fields renders the status as a generic map.
func (s Status) Fields() map[string]any {
	m := map[string]any{
		"version":     s.Version,
		"pid":         s.PID,
		"started_at":  s.StartedAt.Format(time.RFC3339),
		"subscribers": s.Subscribers,
		"window": map[string]any{
			"visible":  s.Window.Visibility == window.Shown,
			"quitting": s.Window.Quitting,
		},
	}
	if s.Node != nil {
		m["node"] = ProcessFields(*s.Node)
	}
	procs := make([]any, 0, len(s.Processes))
	for _, p := range s.Processes {
		procs = append(procs, ProcessFields(p))
	}
	m["processes"] = procs
	if s.Transfer != nil {
		m["transfer"] = JobFields(*s.Transfer)
	}
	return m
}

// ProcessFields renders a process snapshot as a generic map.
func ProcessFields(p process.Info) map[string]any {
	m := map[string]any{
		"id":    p.ID,
		"name":  p.Name,
		"path":  p.Path,
		"pid":   p.PID,
		"state": p.State.String(),
	}
	if p.State != process.Running && p.Exit.HasCode {
		m["exit_code"] = p.Exit.Code
	}
	return m
}

// JobFields renders a transfer job as a generic map.
func JobFields(j transfer.Job) map[string]any {
	m := map[string]any{
		"id":       j.ID,
		"source":   j.Source,
		"phase":    string(j.Phase),
		"progress": j.Progress,
	}
	if j.ArchivePath != "" {
		m["archive"] = j.ArchivePath
	}
	if j.Err != nil {
		m["error"] = j.Err.Error()
	}
	return m
}
