// Package main is the entry point for launcherctl.
package main

import (
	"os"

	"github.com/nine-chronicles/launcher/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
