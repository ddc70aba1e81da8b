package cli

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/nine-chronicles/launcher/internal/config"
	"github.com/nine-chronicles/launcher/internal/daemon/server"
)

const (
	launcherBinary = "launcher"
	requestTimeout = 10 * time.Second
)

// EnsureLauncher makes sure the launcher is running, starting it if necessary.
func EnsureLauncher() error {
	running, info, err := config.IsInstanceRunning()
	if err != nil {
		return fmt.Errorf("failed to check launcher status: %w", err)
	}
	if running {
		return nil
	}

	// Clean up stale instance info if it exists
	if info != nil {
		_ = config.RemoveInstanceInfo()
	}

	return startLauncher()
}

// startLauncher starts the launcher in the background and waits for it to
// publish its instance file.
func startLauncher() error {
	path, err := findLauncherBinary()
	if err != nil {
		return err
	}

	cmd := exec.Command(path)
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Stdin = nil

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start launcher: %w", err)
	}
	_ = cmd.Process.Release()

	// Wait for the launcher to be ready (max 5 seconds)
	for i := 0; i < 50; i++ {
		time.Sleep(100 * time.Millisecond)
		running, _, err := config.IsInstanceRunning()
		if err == nil && running {
			return nil
		}
	}

	return fmt.Errorf("launcher failed to start within timeout")
}

// findLauncherBinary locates the launcher executable.
func findLauncherBinary() (string, error) {
	name := launcherBinary
	if runtime.GOOS == "windows" {
		name += ".exe"
	}

	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}

	// Try next to the current executable
	if dir, err := config.AppDir(); err == nil {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	// Try build directory
	if path := filepath.Join("build", name); fileExists(path) {
		return path, nil
	}

	return "", fmt.Errorf("%s not found. Install or build it first", name)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// connect dials the running launcher.
func connect() (*server.Client, error) {
	running, _, err := config.IsInstanceRunning()
	if err != nil {
		return nil, fmt.Errorf("failed to check launcher status: %w", err)
	}
	if !running {
		return nil, fmt.Errorf("launcher not running")
	}
	return server.Connect()
}

// withClient starts the launcher if needed, connects and runs fn with a
// request timeout.
func withClient(fn func(ctx context.Context, c *server.Client) error) error {
	if err := EnsureLauncher(); err != nil {
		return err
	}
	c, err := connect()
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	return fn(ctx, c)
}
