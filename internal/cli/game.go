package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/nine-chronicles/launcher/internal/daemon/server"
)

var launchCmd = &cobra.Command{
	Use:   "launch [-- args...]",
	Short: "Start the game client",
	Long: `Start the game client for this platform. Arguments after -- are
passed to the game. The launcher window minimizes while the game runs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *server.Client) error {
			proc, err := c.LaunchGame(ctx, args)
			if err != nil {
				return fmt.Errorf("failed to launch game: %s", errorMessage(err))
			}
			fmt.Printf("%s %s\n", styleSuccess.Render("Game started:"), formatProcess(proc))
			return nil
		})
	},
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the launcher window",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *server.Client) error {
			if err := c.ShowWindow(ctx); err != nil {
				return fmt.Errorf("failed to show window: %s", errorMessage(err))
			}
			return nil
		})
	},
}

var quitCmd = &cobra.Command{
	Use:   "quit",
	Short: "Quit the launcher, stopping the node and game",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := connect()
		if err != nil {
			fmt.Println("Launcher is not running.")
			return nil
		}
		defer c.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
		defer cancel()
		if err := c.Quit(ctx); err != nil && status.Code(err) != codes.Unavailable {
			return fmt.Errorf("failed to quit launcher: %s", errorMessage(err))
		}
		fmt.Println("Launcher stopped.")
		return nil
	},
}
