// Package main is the entry point for the launcher.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nine-chronicles/launcher/internal/buildinfo"
	"github.com/nine-chronicles/launcher/internal/config"
	"github.com/nine-chronicles/launcher/internal/daemon/bus"
	"github.com/nine-chronicles/launcher/internal/daemon/instance"
	"github.com/nine-chronicles/launcher/internal/daemon/launcher"
	"github.com/nine-chronicles/launcher/internal/daemon/process"
	"github.com/nine-chronicles/launcher/internal/daemon/server"
	"github.com/nine-chronicles/launcher/internal/daemon/tray"
	"github.com/nine-chronicles/launcher/internal/daemon/watcher"
	"github.com/nine-chronicles/launcher/internal/models"
)

const (
	quitTimeout     = 15 * time.Second
	shutdownTimeout = 5 * time.Second
)

func main() {
	os.Exit(run())
}

func run() int {
	// Parse flags
	foreground := flag.Bool("foreground", false, "Run in foreground (no system tray)")
	port := flag.Int("port", -1, "Port to listen on (overrides settings; 0 for dynamic allocation)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	closer, err := config.InitLog(*debug, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		return 1
	}
	defer closer.Close()

	lockPath, err := config.GlobalLockFile()
	if err != nil {
		log.Error().Err(err).Msg("failed to resolve lock file")
		return 1
	}
	lock, err := instance.Acquire(lockPath)
	if errors.Is(err, instance.ErrAlreadyRunning) {
		log.Info().Msg("launcher already running, asking it to show its window")
		if err := instance.ForwardShow(context.Background()); err != nil {
			log.Warn().Err(err).Msg("failed to reach running launcher")
		}
		return 0
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to acquire instance lock")
		return 1
	}
	defer lock.Release()

	a, err := newApp(*port)
	if err != nil {
		log.Error().Err(err).Msg("failed to start launcher")
		return 1
	}

	if *foreground {
		log.Info().Msg("running in foreground mode (no system tray)")
		a.runForeground()
	} else {
		log.Info().Msg("running with system tray")
		a.runWithTray()
	}

	if a.err != nil {
		log.Error().Err(a.err).Msg("launcher stopped with error")
		return 1
	}
	log.Info().Msg("launcher stopped")
	return 0
}

// app wires the orchestrator to its services.
type app struct {
	store   *config.Store
	orch    *launcher.Orchestrator
	srv     *server.Server
	watcher *watcher.Watcher

	ctx    context.Context
	stop   context.CancelFunc
	done   chan struct{}
	once   sync.Once
	err    error
	inTray bool
}

func newApp(port int) (*app, error) {
	store, err := config.OpenGlobalStore()
	if err != nil {
		return nil, err
	}
	settings, err := store.Settings()
	if err != nil {
		return nil, err
	}

	a := &app{store: store, done: make(chan struct{})}
	a.ctx, a.stop = context.WithCancel(context.Background())

	a.orch, err = launcher.New(launcher.Options{
		Store:     store,
		Bus:       bus.New(bus.DefaultBuffer),
		Terminate: a.terminate,
	})
	if err != nil {
		return nil, err
	}

	if port < 0 {
		port = settings.Server.Port
	}
	a.srv, err = server.New(settings.Server.Host, port, a.orch)
	if err != nil {
		return nil, err
	}

	a.watcher, err = watcher.New(watcher.DefaultDebounce)
	if err != nil {
		a.srv.Stop()
		return nil, err
	}
	if err := a.watcher.WatchFile(store.Path(), a.reloadSettings); err != nil {
		log.Warn().Err(err).Msg("settings hot reload disabled")
	}
	return a, nil
}

// terminate is called once the window lifecycle has cleaned up.
func (a *app) terminate() {
	a.stop()
}

// start runs the orchestrator and its services in the background.
func (a *app) start() {
	info := models.NewInstanceInfo(a.srv.Host(), a.srv.Port(), os.Getpid())
	if err := config.SaveInstanceInfo(info); err != nil {
		log.Error().Err(err).Msg("failed to write instance info")
	}
	log.Info().
		Str("version", buildinfo.Version).
		Int("port", a.srv.Port()).
		Int("pid", os.Getpid()).
		Msg("launcher started")

	services := []launcher.Service{a.srv, a.watcher}
	if a.inTray {
		services = append(services, a.orch.StatusFeed(func(st launcher.Status) {
			tray.Update(traySnapshot(st))
		}))
	}

	go func() {
		defer close(a.done)
		a.err = a.orch.Run(a.ctx, services...)
		if a.inTray {
			tray.Quit()
		}
	}()

	go func() {
		if err := a.orch.Init(a.ctx); err != nil {
			log.Error().Err(err).Msg("failed to start node")
		}
	}()

	go a.handleSignals()
}

func (a *app) handleSignals() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		a.quit()
	case <-a.ctx.Done():
	}
}

// quit goes through the window's quit path so children are killed before
// the launcher exits.
func (a *app) quit() {
	a.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), quitTimeout)
		defer cancel()
		if err := a.orch.Quit(ctx); err != nil {
			log.Warn().Err(err).Msg("quit did not complete, stopping")
			a.stop()
		}
	})
}

// wait blocks until the orchestrator stops and cleans up.
func (a *app) wait() {
	<-a.done

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.orch.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("shutdown incomplete")
	}
	if err := config.RemoveInstanceInfo(); err != nil {
		log.Warn().Err(err).Msg("failed to remove instance info")
	}
}

func (a *app) reloadSettings() {
	ctx, cancel := context.WithTimeout(a.ctx, quitTimeout)
	defer cancel()
	if err := a.orch.ReloadSettings(ctx); err != nil && a.ctx.Err() == nil {
		log.Warn().Err(err).Msg("settings not applied")
	}
}

// runForeground runs the launcher without a system tray, blocking until it
// quits.
func (a *app) runForeground() {
	a.start()
	a.wait()
}

// runWithTray runs the launcher with a system tray icon on the main goroutine.
// systray.Run must occupy the main goroutine on macOS (Cocoa requirement).
func (a *app) runWithTray() {
	a.inTray = true
	tray.Run(a, a.start, func() {
		if a.ctx.Err() == nil {
			a.quit()
		}
		a.wait()
	})
}

// Port implements tray.LauncherState.
func (a *app) Port() int {
	return a.srv.Port()
}

// OpenWindow implements tray.LauncherState.
func (a *app) OpenWindow() {
	ctx, cancel := context.WithTimeout(a.ctx, quitTimeout)
	defer cancel()
	if err := a.orch.ShowWindow(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to show window")
	}
}

// Quit implements tray.LauncherState.
func (a *app) Quit() {
	go a.quit()
}

func traySnapshot(st launcher.Status) tray.Snapshot {
	var s tray.Snapshot
	if st.Node != nil {
		s.NodePID = st.Node.PID
		switch st.Node.State {
		case process.Running:
			s.NodeRunning = true
		case process.Killed:
			s.NodeExit = "stopped"
		default:
			if st.Node.Exit.HasCode {
				s.NodeExit = fmt.Sprintf("exited (code %d)", st.Node.Exit.Code)
			} else {
				s.NodeExit = "exited"
			}
		}
	}
	if st.Transfer != nil {
		s.TransferPhase = string(st.Transfer.Phase)
		s.TransferProgress = st.Transfer.Progress
	}
	return s
}
