// Package config handles configuration loading, saving, and path management.
package config

import (
	"os"
	"path/filepath"
)

const (
	// GlobalDirName is the name of the launcher's user-data directory.
	GlobalDirName = "NineChroniclesLauncher"

	// HomeEnv overrides the user-data directory (used by tests and portable installs).
	HomeEnv = "NCLAUNCHER_HOME"

	// LogsDirName is the name of the logs directory.
	LogsDirName = "logs"

	// StoreDirName is the default blockchain store directory name.
	StoreDirName = "9c"
)

// File names
const (
	InstanceFileName = "instance.yaml"
	SettingsFileName = "settings.yaml"
	LockFileName     = "launcher.lock"
	LogFileName      = "launcher.log"
)

// GlobalDir returns the launcher's user-data directory.
func GlobalDir() (string, error) {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return dir, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, GlobalDirName), nil
}

func globalFile(name string) (string, error) {
	dir, err := GlobalDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// GlobalInstanceFile returns the path to the instance.yaml file.
func GlobalInstanceFile() (string, error) {
	return globalFile(InstanceFileName)
}

// GlobalSettingsFile returns the path to the settings.yaml file.
func GlobalSettingsFile() (string, error) {
	return globalFile(SettingsFileName)
}

// GlobalLockFile returns the path to the single-instance lock file.
func GlobalLockFile() (string, error) {
	return globalFile(LockFileName)
}

// GlobalLogsDir returns the path to the logs directory.
func GlobalLogsDir() (string, error) {
	return globalFile(LogsDirName)
}

// DownloadsDir returns where snapshot archives are downloaded to.
// Archives live directly in the user-data directory and are removed after extraction.
func DownloadsDir() (string, error) {
	return GlobalDir()
}

// DefaultStorePath returns the default blockchain store directory.
func DefaultStorePath() (string, error) {
	return globalFile(StoreDirName)
}

// AppDir returns the directory holding the launcher executable.
// Bundled node and game binaries are resolved relative to it.
func AppDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return "", err
	}
	return filepath.Dir(exe), nil
}

// ResolveAppPath makes p absolute, treating relative paths as relative to AppDir.
func ResolveAppPath(p string) (string, error) {
	if p == "" || filepath.IsAbs(p) {
		return p, nil
	}
	dir, err := AppDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, p), nil
}

// EnsureGlobalDir creates the user-data directory if it doesn't exist.
func EnsureGlobalDir() error {
	dir, err := GlobalDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0o755)
}

// EnsureGlobalLogsDir creates the global logs directory if it doesn't exist.
func EnsureGlobalLogsDir() error {
	dir, err := GlobalLogsDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0o755)
}
