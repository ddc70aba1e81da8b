package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLog configures the global zerolog logger. Console output goes to
// stderr; when toFile is set the same records are appended to
// logs/launcher.log. The returned closer releases the log file.
func InitLog(debug, toFile bool) (io.Closer, error) {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	if !toFile {
		log.Logger = log.Output(console)
		return io.NopCloser(nil), nil
	}

	if err := EnsureGlobalLogsDir(); err != nil {
		return nil, fmt.Errorf("failed to ensure logs dir: %w", err)
	}
	logsDir, err := GlobalLogsDir()
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(filepath.Join(logsDir, LogFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	file := zerolog.ConsoleWriter{Out: f, NoColor: true, TimeFormat: time.RFC3339}
	log.Logger = log.Output(zerolog.MultiLevelWriter(console, file))
	return f, nil
}

// InitTUILog routes logs to the log file only, so they don't tear the
// terminal UI. Without debug, logs are discarded.
func InitTUILog(debug bool) (io.Closer, error) {
	if !debug {
		log.Logger = log.Output(io.Discard)
		return io.NopCloser(nil), nil
	}

	if err := EnsureGlobalLogsDir(); err != nil {
		return nil, fmt.Errorf("failed to ensure logs dir: %w", err)
	}
	logsDir, err := GlobalLogsDir()
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(filepath.Join(logsDir, "launcherctl.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: f, NoColor: true, TimeFormat: time.RFC3339})
	return f, nil
}
