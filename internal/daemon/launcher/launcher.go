// Package launcher is the orchestrator at the centre of the launcher. It
// owns the node and game processes, the snapshot transfer pipeline and
// the window lifecycle, and serves the command/event bus.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/nine-chronicles/launcher/internal/buildinfo"
	"github.com/nine-chronicles/launcher/internal/config"
	"github.com/nine-chronicles/launcher/internal/daemon/bus"
	"github.com/nine-chronicles/launcher/internal/daemon/loop"
	"github.com/nine-chronicles/launcher/internal/daemon/process"
	"github.com/nine-chronicles/launcher/internal/daemon/transfer"
	"github.com/nine-chronicles/launcher/internal/daemon/window"
	"github.com/nine-chronicles/launcher/internal/models"
	"github.com/nine-chronicles/launcher/internal/telemetry"
)

// Service is a long-running component driven by Run.
type Service interface {
	Run(ctx context.Context) error
}

// Options configures an Orchestrator.
type Options struct {
	Store *config.Store
	Bus   *bus.Bus

	// Surface is the window. Defaults to an EventSurface on Bus.
	Surface window.Surface

	// Terminate is called once the launcher has cleaned up and should exit.
	Terminate func()

	// Reporter defaults to a reporter built from the telemetry settings.
	Reporter telemetry.Reporter

	// Opener overrides the HTTP snapshot source.
	Opener transfer.Opener

	// GOOS selects the game path. Defaults to runtime.GOOS.
	GOOS string
}

// Orchestrator coordinates the launcher. Its state lives on a single
// control loop; exported methods are safe to call from any goroutine.
type Orchestrator struct {
	loop       *loop.Loop
	store      *config.Store
	bus        *bus.Bus
	supervisor *process.Supervisor
	pipeline   *transfer.Pipeline
	window     *window.Lifecycle
	reporter   telemetry.Reporter
	logger     zerolog.Logger

	customOpener bool
	goos         string
	startedAt    time.Time

	settings *models.Settings
	node     *process.Handle
}

// New creates an orchestrator. Call Run to start the control loop and
// Init once it is running.
func New(opts Options) (*Orchestrator, error) {
	if opts.Store == nil {
		return nil, errors.New("launcher: settings store is required")
	}
	settings, err := opts.Store.Settings()
	if err != nil {
		return nil, err
	}

	b := opts.Bus
	if b == nil {
		b = bus.New(bus.DefaultBuffer)
	}

	reporter := opts.Reporter
	if reporter == nil {
		reporter, err = telemetry.New(settings.Telemetry, buildinfo.Version)
		if err != nil {
			return nil, err
		}
	}

	goos := opts.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}

	l := loop.New()
	o := &Orchestrator{
		loop:         l,
		store:        opts.Store,
		bus:          b,
		supervisor:   process.NewSupervisor(l),
		reporter:     reporter,
		logger:       log.With().Str("component", "launcher").Logger(),
		customOpener: opts.Opener != nil,
		goos:         goos,
		startedAt:    time.Now().UTC(),
		settings:     settings,
	}

	opener := opts.Opener
	if opener == nil {
		opener = transfer.NewHTTPSource(buildinfo.UserAgent(), settings.Snapshot.RateLimitKBps)
	}
	o.pipeline = transfer.New(transfer.Options{
		Loop:      l,
		Opener:    opener,
		Publisher: b,
		OnFinish:  o.transferFinished,
	})

	surface := opts.Surface
	if surface == nil {
		es := window.NewEventSurface(b, opts.Terminate)
		surface = es
		o.window = window.New(surface, o.beforeExit)
		es.Bind(o.window)
	} else {
		o.window = window.New(surface, o.beforeExit)
	}

	return o, nil
}

// Run drives the control loop and services until ctx is cancelled or a
// service fails.
func (o *Orchestrator) Run(ctx context.Context, services ...Service) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		o.loop.Run(ctx)
		return nil
	})
	for _, s := range services {
		g.Go(func() error { return s.Run(ctx) })
	}
	return g.Wait()
}

// Init performs startup work: it assigns a telemetry install id and
// starts the node when auto-start is enabled.
func (o *Orchestrator) Init(ctx context.Context) error {
	var initErr error
	err := o.loop.Do(ctx, func() {
		if o.settings.Telemetry.Enabled && o.settings.Telemetry.InstallID == "" {
			id := uuid.New().String()
			if err := o.store.Set(config.KeyTelemetryInstallID, id); err != nil {
				o.logger.Warn().Err(err).Msg("failed to persist install id")
			}
			o.settings.Telemetry.InstallID = id
		}

		o.reporter.Capture(telemetry.EventLauncherStarted, nil)

		if o.settings.Node.AutoStart {
			_, initErr = o.startNode()
		}
	})
	if err != nil {
		return err
	}
	return initErr
}

// Subscribe registers an event subscriber.
func (o *Orchestrator) Subscribe() *bus.Subscription {
	return o.bus.Subscribe()
}

// Unsubscribe ends an event subscription.
func (o *Orchestrator) Unsubscribe(sub *bus.Subscription) {
	o.bus.Unsubscribe(sub)
}

// Handle dispatches a command.
func (o *Orchestrator) Handle(ctx context.Context, cmd bus.Command) (Result, error) {
	if err := cmd.Validate(); err != nil {
		return Result{}, err
	}

	switch cmd.Kind {
	case bus.CmdDownloadSnapshot:
		job, err := o.DownloadSnapshot(ctx, cmd.Download)
		if err != nil {
			return Result{}, err
		}
		return Result{Job: &job}, nil
	case bus.CmdLaunchGame:
		info, err := o.LaunchGame(ctx, cmd.Args)
		if err != nil {
			return Result{}, err
		}
		return Result{Process: &info}, nil
	case bus.CmdClearCache:
		return Result{}, o.ClearCache(ctx)
	case bus.CmdShowWindow:
		return Result{}, o.ShowWindow(ctx)
	case bus.CmdMinimizeWindow:
		return Result{}, o.Minimize(ctx)
	case bus.CmdCloseWindow:
		closed, err := o.RequestClose(ctx)
		return Result{Closed: closed}, err
	case bus.CmdQuit:
		return Result{}, o.Quit(ctx)
	case bus.CmdStatus:
		st, err := o.Status(ctx)
		if err != nil {
			return Result{}, err
		}
		return Result{Status: &st}, nil
	}
	return Result{}, fmt.Errorf("%w: %q", bus.ErrUnknownCommand, cmd.Kind)
}

// DownloadSnapshot starts downloading and installing a snapshot,
// superseding any transfer in progress.
func (o *Orchestrator) DownloadSnapshot(ctx context.Context, opts bus.DownloadOptions) (transfer.Job, error) {
	var (
		job transfer.Job
		err error
	)
	if doErr := o.loop.Do(ctx, func() { job, err = o.downloadSnapshot(opts) }); doErr != nil {
		return transfer.Job{}, doErr
	}
	return job, err
}

func (o *Orchestrator) downloadSnapshot(opts bus.DownloadOptions) (transfer.Job, error) {
	source := strings.TrimSpace(opts.URL)
	if source == "" {
		source = o.settings.Snapshot.DownloadURL
	}
	if source == "" {
		return transfer.Job{}, ErrNoSnapshotURL
	}
	if u, err := url.Parse(source); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return transfer.Job{}, fmt.Errorf("%w: %q", ErrInvalidSnapshotURL, source)
	}

	downloadDir, err := config.DownloadsDir()
	if err != nil {
		return transfer.Job{}, err
	}

	return o.pipeline.Start(transfer.Request{
		Source:      source,
		DownloadDir: downloadDir,
		ExtractDir:  o.settings.Store.Path,
	}), nil
}

func (o *Orchestrator) transferFinished(job transfer.Job) {
	if job.Phase == transfer.PhaseComplete {
		o.reporter.Capture(telemetry.EventSnapshotInstalled, map[string]any{
			"seconds": job.FinishedAt.Sub(job.StartedAt).Seconds(),
		})
		return
	}
	var terr *transfer.TransferError
	phase := ""
	if errors.As(job.Err, &terr) {
		phase = string(terr.Phase)
	}
	o.reporter.Capture(telemetry.EventTransferFailed, map[string]any{"phase": phase})
}

// LaunchGame starts the game client with args and minimizes the window.
// game-closed is published once when the client exits.
func (o *Orchestrator) LaunchGame(ctx context.Context, args []string) (process.Info, error) {
	var (
		info process.Info
		err  error
	)
	if doErr := o.loop.Do(ctx, func() { info, err = o.launchGame(args) }); doErr != nil {
		return process.Info{}, doErr
	}
	return info, err
}

func (o *Orchestrator) launchGame(args []string) (process.Info, error) {
	path, err := config.ResolveAppPath(o.settings.GamePath(o.goos))
	if err != nil {
		return process.Info{}, err
	}

	h, err := o.supervisor.Spawn(process.SpawnOptions{
		Name: "game",
		Path: path,
		Args: args,
		Dir:  filepath.Dir(path),
	})
	if err != nil {
		o.logger.Error().Err(err).Msg("failed to launch game")
		return process.Info{}, err
	}

	o.supervisor.OnExit(h, func(process.Exit) {
		o.bus.Publish(bus.Event{Kind: bus.EventGameClosed})
	})

	o.bus.Publish(bus.Event{Kind: bus.EventWindowMinimize})
	o.window.Minimize()
	o.reporter.Capture(telemetry.EventGameLaunched, map[string]any{"args": len(args)})

	return h.Info(), nil
}

// StartNode starts the blockchain node if it is not already running.
func (o *Orchestrator) StartNode(ctx context.Context) (process.Info, error) {
	var (
		info process.Info
		err  error
	)
	if doErr := o.loop.Do(ctx, func() { info, err = o.startNode() }); doErr != nil {
		return process.Info{}, doErr
	}
	return info, err
}

func (o *Orchestrator) startNode() (process.Info, error) {
	if o.node != nil && o.node.Info().State == process.Running {
		return o.node.Info(), nil
	}

	path, err := config.ResolveAppPath(o.settings.Node.Path)
	if err != nil {
		return process.Info{}, err
	}

	h, err := o.supervisor.Spawn(process.SpawnOptions{
		Name: "node",
		Path: path,
		Args: NodeArgs(o.settings.Node),
		Dir:  filepath.Dir(path),
		PTY:  o.settings.Node.PTY,
	})
	if err != nil {
		o.logger.Error().Err(err).Msg("failed to start node")
		return process.Info{}, err
	}
	o.node = h

	o.supervisor.OnExit(h, func(exit process.Exit) {
		o.bus.Publish(bus.Event{Kind: bus.EventNodeExited, Code: exit.Code, HasCode: exit.HasCode})
		if !exit.Killed {
			o.reporter.Capture(telemetry.EventNodeExited, map[string]any{"code": exit.Code})
		}
	})
	return h.Info(), nil
}

// NodeArgs returns the node's command-line arguments.
func NodeArgs(cfg models.NodeConfig) []string {
	return []string{
		"--graphql-server=true",
		"--graphql-port=" + strconv.Itoa(cfg.GraphQLPort),
	}
}

// ClearCache deletes the blockchain store. A missing store is already
// clean. The node is left running.
func (o *Orchestrator) ClearCache(ctx context.Context) error {
	var err error
	if doErr := o.loop.Do(ctx, func() { err = o.clearCache() }); doErr != nil {
		return doErr
	}
	return err
}

func (o *Orchestrator) clearCache() error {
	path := o.settings.Store.Path

	if job, ok := o.pipeline.Current(); ok && job.Phase.Active() && sameOrWithin(path, job.ExtractDir) {
		return &CacheClearError{Path: path, Reason: ReasonBusy}
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		o.logger.Info().Str("path", path).Msg("store already clean")
		return nil
	}

	if err := os.RemoveAll(path); err != nil {
		return &CacheClearError{Path: path, Reason: ReasonRemoveFailed, Err: err}
	}
	o.logger.Info().Str("path", path).Msg("store cleared")
	return nil
}

// sameOrWithin reports whether dir is base or lies inside it.
func sameOrWithin(base, dir string) bool {
	rel, err := filepath.Rel(filepath.Clean(base), filepath.Clean(dir))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// ShowWindow brings the window back, e.g. from the tray or a second
// instance.
func (o *Orchestrator) ShowWindow(ctx context.Context) error {
	return o.loop.Do(ctx, o.window.Open)
}

// Minimize hides the window to the tray.
func (o *Orchestrator) Minimize(ctx context.Context) error {
	return o.loop.Do(ctx, o.window.Minimize)
}

// RequestClose forwards a close request from the window. It reports
// whether the launcher terminated.
func (o *Orchestrator) RequestClose(ctx context.Context) (bool, error) {
	var closed bool
	err := o.loop.Do(ctx, func() { closed = o.window.RequestClose() })
	return closed, err
}

// Quit kills all children and terminates the launcher.
func (o *Orchestrator) Quit(ctx context.Context) error {
	return o.loop.Do(ctx, o.window.Quit)
}

func (o *Orchestrator) beforeExit() {
	o.pipeline.Cancel()
	o.supervisor.KillAll()
}

// Shutdown kills all children and releases the orchestrator's resources
// without going through the window. Once the loop has stopped nothing
// else touches its state, so the cleanup runs on the caller's goroutine.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	err := o.loop.Do(ctx, o.beforeExit)
	if errors.Is(err, loop.ErrStopped) {
		o.beforeExit()
		err = nil
	}
	if cerr := o.reporter.Close(); cerr != nil {
		o.logger.Debug().Err(cerr).Msg("telemetry close failed")
	}
	o.bus.Close()
	return err
}

// Status returns a snapshot of the orchestrator.
func (o *Orchestrator) Status(ctx context.Context) (Status, error) {
	var st Status
	err := o.loop.Do(ctx, func() { st = o.status() })
	return st, err
}

func (o *Orchestrator) status() Status {
	st := Status{
		Version:     buildinfo.Version,
		PID:         os.Getpid(),
		StartedAt:   o.startedAt,
		Window:      o.window.State(),
		Processes:   o.supervisor.Handles(),
		Subscribers: o.bus.Subscribers(),
	}
	if o.node != nil {
		info := o.node.Info()
		st.Node = &info
	}
	if job, ok := o.pipeline.Current(); ok {
		st.Transfer = &job
	}
	return st
}

// ReloadSettings re-reads the settings file and applies it. Invalid
// settings are logged and the previous settings kept.
func (o *Orchestrator) ReloadSettings(ctx context.Context) error {
	var err error
	if doErr := o.loop.Do(ctx, func() { err = o.reloadSettings() }); doErr != nil {
		return doErr
	}
	return err
}

func (o *Orchestrator) reloadSettings() error {
	if err := o.store.Reload(); err != nil {
		o.logger.Warn().Err(err).Msg("failed to reload settings")
		return err
	}
	settings, err := o.store.Settings()
	if err != nil {
		o.logger.Warn().Err(err).Msg("ignoring invalid settings")
		return err
	}

	o.settings = settings
	if !o.customOpener {
		o.pipeline.SetOpener(transfer.NewHTTPSource(buildinfo.UserAgent(), settings.Snapshot.RateLimitKBps))
	}
	o.logger.Info().Msg("settings reloaded")
	o.bus.Publish(bus.Event{Kind: bus.EventSettingsReloaded})
	return nil
}
