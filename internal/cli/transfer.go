package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nine-chronicles/launcher/internal/daemon/server"
)

var (
	downloadURL  string
	downloadWait bool
)

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download and install a blockchain snapshot",
	Long: `Download a snapshot archive and extract it into the blockchain store.

A download that is already running is superseded by the new one.
Without --url the snapshot URL from the launcher settings is used.`,
	Args: cobra.NoArgs,
	RunE: runDownload,
}

var clearCacheCmd = &cobra.Command{
	Use:   "clear-cache",
	Short: "Delete the local blockchain store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *server.Client) error {
			if err := c.ClearCache(ctx); err != nil {
				return fmt.Errorf("failed to clear cache: %s", errorMessage(err))
			}
			fmt.Println(styleSuccess.Render("Blockchain store cleared."))
			return nil
		})
	},
}

func init() {
	downloadCmd.Flags().StringVar(&downloadURL, "url", "", "Snapshot archive URL (defaults to the configured URL)")
	downloadCmd.Flags().BoolVarP(&downloadWait, "wait", "w", false, "Follow progress until the snapshot is installed")
}

func runDownload(cmd *cobra.Command, args []string) error {
	if err := EnsureLauncher(); err != nil {
		return err
	}
	c, err := connect()
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// Subscribe before starting so no progress event is missed.
	var stream *server.EventStream
	if downloadWait {
		if stream, err = c.Subscribe(ctx); err != nil {
			return fmt.Errorf("failed to subscribe: %s", errorMessage(err))
		}
	}

	reqCtx, reqCancel := context.WithTimeout(ctx, requestTimeout)
	job, err := c.DownloadSnapshot(reqCtx, downloadURL)
	reqCancel()
	if err != nil {
		return fmt.Errorf("failed to start download: %s", errorMessage(err))
	}

	id, _ := job["id"].(string)
	source, _ := job["source"].(string)
	fmt.Printf("%s %s\n", styleLabel.Render("Downloading"), styleValue.Render(source))

	if !downloadWait {
		fmt.Println(styleHint.Render("Run 'launcherctl watch' to follow progress."))
		return nil
	}
	return follow(ctx, stream, id)
}
