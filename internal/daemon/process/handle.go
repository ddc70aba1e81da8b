package process

import (
	"os"
	"os/exec"
	"time"
)

// State is the lifecycle state of a child process.
type State int

// Handle states.
const (
	Running State = iota
	Exited
	Killed
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Exited:
		return "exited"
	case Killed:
		return "killed"
	default:
		return "unknown"
	}
}

// Exit describes how a child process terminated. HasCode is false when
// the process was ended by a signal.
type Exit struct {
	Code    int
	HasCode bool
	Killed  bool
}

// Info is a point-in-time copy of a handle, safe to pass between goroutines.
type Info struct {
	ID        string
	Name      string
	Path      string
	Args      []string
	PID       int
	State     State
	Exit      Exit
	StartedAt time.Time
}

// Handle is a spawned child process. Its fields are owned by the control
// loop; read them through Info.
type Handle struct {
	id        string
	name      string
	path      string
	args      []string
	pid       int
	startedAt time.Time

	cmd     *exec.Cmd
	ptyFile *os.File

	state     State
	exit      Exit
	finished  bool
	callbacks []func(Exit)
	done      chan struct{}
}

// ID returns the handle's unique id.
func (h *Handle) ID() string {
	return h.id
}

// PID returns the OS process id.
func (h *Handle) PID() int {
	return h.pid
}

// Done is closed once the exit has been recorded on the control loop.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Info snapshots the handle. Call it from the control loop.
func (h *Handle) Info() Info {
	args := make([]string, len(h.args))
	copy(args, h.args)
	return Info{
		ID:        h.id,
		Name:      h.name,
		Path:      h.path,
		Args:      args,
		PID:       h.pid,
		State:     h.state,
		Exit:      h.exit,
		StartedAt: h.startedAt,
	}
}
