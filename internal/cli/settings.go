package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/nine-chronicles/launcher/internal/config"
)

var settingsCmd = &cobra.Command{
	Use:     "settings",
	Aliases: []string{"config"},
	Short:   "Read and change launcher settings",
	Long: `Read and change launcher settings.

Changes are written to settings.yaml and picked up by a running launcher
without a restart.`,
}

var settingsGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print a setting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := config.OpenGlobalStore()
		if err != nil {
			return err
		}
		fmt.Println(store.GetString(args[0]))
		return nil
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change a setting",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := config.OpenGlobalStore()
		if err != nil {
			return err
		}
		if err := store.Set(args[0], parseValue(args[1])); err != nil {
			return err
		}
		fmt.Printf("%s %s = %s\n", styleSuccess.Render("Updated"), styleCommand.Render(args[0]), args[1])
		return nil
	},
}

var settingsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List all settings",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := config.OpenGlobalStore()
		if err != nil {
			return err
		}
		fmt.Println(styleHint.Render(store.Path()))
		for _, key := range store.Keys() {
			fmt.Printf("%s = %s\n", styleLabel.Render(key), styleValue.Render(store.GetString(key)))
		}
		return nil
	},
}

func init() {
	settingsCmd.AddCommand(settingsGetCmd)
	settingsCmd.AddCommand(settingsListCmd)
	settingsCmd.AddCommand(settingsSetCmd)
}

// parseValue converts a command-line value to a bool or int when it looks
// like one so the settings file keeps native YAML types.
func parseValue(s string) any {
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return s
}
