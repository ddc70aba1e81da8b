// Package process supervises the launcher's child processes: the
// blockchain node and the game client.
package process

import (
	"errors"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// waitDelay bounds how long Wait keeps copying output after the child
// has exited, in case a grandchild still holds the pipes.
const waitDelay = 2 * time.Second

// Poster schedules work on the control loop.
type Poster interface {
	Post(fn func()) bool
}

// SpawnOptions describes a child process to start.
type SpawnOptions struct {
	Name string
	Path string
	Args []string
	Dir  string
	Env  []string

	// PTY runs the child on a pseudo-terminal. Falls back to pipes when
	// the platform has no PTY support.
	PTY bool
}

// Supervisor owns the registry of child processes. All methods must be
// called from the control loop.
type Supervisor struct {
	loop    Poster
	logger  zerolog.Logger
	handles map[string]*Handle
	order   []string
}

// NewSupervisor creates a supervisor that reports exits through loop.
func NewSupervisor(loop Poster) *Supervisor {
	return &Supervisor{
		loop:    loop,
		logger:  log.With().Str("component", "process").Logger(),
		handles: make(map[string]*Handle),
	}
}

// Spawn starts a child process and registers it. Output is streamed to
// the log without blocking the caller.
func (s *Supervisor) Spawn(opts SpawnOptions) (*Handle, error) {
	name := opts.Name
	if name == "" {
		name = opts.Path
	}

	path, err := exec.LookPath(opts.Path)
	if err != nil {
		return nil, &SpawnError{Name: name, Path: opts.Path, Err: err}
	}

	h := &Handle{
		id:   uuid.New().String(),
		name: name,
		path: path,
		args: opts.Args,
		done: make(chan struct{}),
	}

	if opts.PTY {
		err = s.startPTY(h, opts)
		if err != nil && h.cmd == nil {
			s.logger.Warn().Err(err).Str("proc", name).Msg("PTY unavailable, using pipes")
			err = s.startPipes(h, opts)
		}
	} else {
		err = s.startPipes(h, opts)
	}
	if err != nil {
		return nil, &SpawnError{Name: name, Path: path, Err: err}
	}

	h.pid = h.cmd.Process.Pid
	h.startedAt = time.Now().UTC()
	h.state = Running
	s.handles[h.id] = h
	s.order = append(s.order, h.id)

	s.logger.Info().Str("proc", name).Int("pid", h.pid).Strs("args", opts.Args).Msg("process started")

	go s.wait(h)
	return h, nil
}

func newCmd(path string, opts SpawnOptions) *exec.Cmd {
	cmd := exec.Command(path, opts.Args...)
	cmd.Dir = opts.Dir
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}
	return cmd
}

func (s *Supervisor) startPTY(h *Handle, opts SpawnOptions) error {
	cmd := newCmd(h.path, opts)
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return err
	}
	h.cmd = cmd
	h.ptyFile = ptmx
	return nil
}

func (s *Supervisor) startPipes(h *Handle, opts SpawnOptions) error {
	cmd := newCmd(h.path, opts)
	procLogger := s.logger.With().Str("proc", h.name).Logger()
	cmd.Stdout = newLineLogger(procLogger, "stdout")
	cmd.Stderr = newLineLogger(procLogger, "stderr")
	cmd.WaitDelay = waitDelay
	setProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		return err
	}
	h.cmd = cmd
	return nil
}

// wait runs on its own goroutine and hands the exit to the control loop.
func (s *Supervisor) wait(h *Handle) {
	var copied chan struct{}
	var out *lineLogger
	if h.ptyFile != nil {
		out = newLineLogger(s.logger.With().Str("proc", h.name).Int("pid", h.pid).Logger(), "pty")
		copied = make(chan struct{})
		go func() {
			defer close(copied)
			_, _ = io.Copy(out, h.ptyFile)
		}()
	}

	err := h.cmd.Wait()

	if h.ptyFile != nil {
		select {
		case <-copied:
		case <-time.After(waitDelay):
		}
		_ = h.ptyFile.Close()
		out.Flush()
	}
	for _, w := range []io.Writer{h.cmd.Stdout, h.cmd.Stderr} {
		if ll, ok := w.(*lineLogger); ok {
			ll.Flush()
		}
	}

	exit := exitFromError(err)
	if !s.loop.Post(func() { s.finish(h, exit) }) {
		s.logger.Debug().Str("proc", h.name).Msg("control loop stopped before exit was recorded")
	}
}

func exitFromError(err error) Exit {
	if err == nil {
		return Exit{Code: 0, HasCode: true}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		if code < 0 {
			return Exit{}
		}
		return Exit{Code: code, HasCode: true}
	}
	return Exit{}
}

func (s *Supervisor) finish(h *Handle, exit Exit) {
	if h.finished {
		return
	}
	if h.state == Killed {
		exit.Killed = true
	} else {
		h.state = Exited
	}
	h.exit = exit
	h.finished = true
	close(h.done)

	ev := s.logger.Info().Str("proc", h.name).Int("pid", h.pid).Bool("killed", exit.Killed)
	if exit.HasCode {
		ev = ev.Int("code", exit.Code)
	}
	ev.Msg("process exited")

	callbacks := h.callbacks
	h.callbacks = nil
	for _, fn := range callbacks {
		fn(exit)
	}
}

// OnExit registers fn to run once when h terminates. If h has already
// exited, fn runs immediately.
func (s *Supervisor) OnExit(h *Handle, fn func(Exit)) {
	if h.finished {
		fn(h.exit)
		return
	}
	h.callbacks = append(h.callbacks, fn)
}

// KillAll forcibly terminates every running child and its descendants.
// Processes that are already gone count as terminated. It returns the
// number of handles moved to Killed.
func (s *Supervisor) KillAll() int {
	n := 0
	for _, id := range s.order {
		h := s.handles[id]
		if h.state != Running {
			continue
		}
		if err := killTree(h.cmd.Process); err != nil {
			s.logger.Warn().Err(err).Str("proc", h.name).Int("pid", h.pid).Msg("kill failed")
		}
		h.state = Killed
		n++
	}
	if n > 0 {
		s.logger.Info().Int("count", n).Msg("killed child processes")
	}
	return n
}

// Get returns the handle with the given id.
func (s *Supervisor) Get(id string) (*Handle, bool) {
	h, ok := s.handles[id]
	return h, ok
}

// Handles returns every handle created since startup, oldest first.
func (s *Supervisor) Handles() []Info {
	infos := make([]Info, 0, len(s.order))
	for _, id := range s.order {
		infos = append(infos, s.handles[id].Info())
	}
	return infos
}

// Running returns the handles still in the Running state.
func (s *Supervisor) Running() []Info {
	var infos []Info
	for _, id := range s.order {
		if h := s.handles[id]; h.state == Running {
			infos = append(infos, h.Info())
		}
	}
	return infos
}
