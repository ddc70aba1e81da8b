// Package instance keeps the launcher single-instance. The first process
// holds an exclusive lock on a file in the user-data directory; later
// processes forward a "show window" request to it and exit.
package instance

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/nine-chronicles/launcher/internal/daemon/server"
)

// ErrAlreadyRunning means another launcher holds the lock.
var ErrAlreadyRunning = errors.New("launcher is already running")

const forwardTimeout = 5 * time.Second

// Lock is a held single-instance lock.
type Lock struct {
	f    *os.File
	path string
}

// Acquire takes the lock at path without blocking. It returns
// ErrAlreadyRunning if another process holds it.
func Acquire(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		return nil, err
	}

	_ = f.Truncate(0)
	_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)

	return &Lock{f: f, path: path}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release drops the lock.
func (l *Lock) Release() error {
	if l.f == nil {
		return nil
	}
	err := unlockFile(l.f)
	cerr := l.f.Close()
	l.f = nil
	return errors.Join(err, cerr)
}

// ForwardShow asks the running launcher to show its window.
func ForwardShow(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, forwardTimeout)
	defer cancel()

	client, err := server.Connect()
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.ShowWindow(ctx); err != nil {
		return fmt.Errorf("failed to reach running launcher: %w", err)
	}
	return nil
}
