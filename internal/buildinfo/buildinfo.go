// Package buildinfo holds version information injected at build time via ldflags.
package buildinfo

import "runtime"

var (
	Version    = "dev"
	Codename   = "unknown"
	CommitHash = "unknown"
	BuildDate  = "unknown"
)

// UserAgent returns the User-Agent sent with snapshot downloads.
func UserAgent() string {
	return "nc-launcher/" + Version + " (" + runtime.GOOS + "/" + runtime.GOARCH + ")"
}
