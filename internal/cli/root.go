// Package cli implements the launcherctl commands.
package cli

import (
	"github.com/spf13/cobra"
)

var debug bool

var rootCmd = &cobra.Command{
	Use:   "launcherctl",
	Short: "Control the Nine Chronicles launcher",
	Long: `launcherctl drives a running Nine Chronicles launcher.
It downloads and installs blockchain snapshots, starts the game and
watches transfer progress.`,
	SilenceUsage: true,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Write debug logs to the launcher log directory")

	// Add subcommands (alphabetical)
	rootCmd.AddCommand(clearCacheCmd)
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(launchCmd)
	rootCmd.AddCommand(quitCmd)
	rootCmd.AddCommand(settingsCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(watchCmd)
}
