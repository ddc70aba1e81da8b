package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/nine-chronicles/launcher/internal/config"
	"github.com/nine-chronicles/launcher/internal/daemon/bus"
	"github.com/nine-chronicles/launcher/internal/daemon/server"
	"github.com/nine-chronicles/launcher/internal/tui"
)

var watchPlain bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow launcher events",
	Long: `Follow launcher events. On a terminal this shows transfer progress bars;
otherwise (or with --plain) each event is printed on its own line.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := connect()
		if err != nil {
			return err
		}
		defer c.Close()

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		stream, err := c.Subscribe(ctx)
		if err != nil {
			return fmt.Errorf("failed to subscribe: %s", errorMessage(err))
		}
		return follow(ctx, stream, "")
	},
}

func init() {
	watchCmd.Flags().BoolVar(&watchPlain, "plain", false, "Print one line per event")
	downloadCmd.Flags().BoolVar(&watchPlain, "plain", false, "Print one line per event with --wait")
}

// follow renders events from stream. With a job id it returns once that job
// reaches a terminal event.
func follow(ctx context.Context, stream *server.EventStream, jobID string) error {
	if !watchPlain && term.IsTerminal(int(os.Stdout.Fd())) {
		closer, err := config.InitTUILog(debug)
		if err == nil && closer != nil {
			defer closer.Close()
		}
		return tui.Run(stream, tui.Options{JobID: jobID})
	}
	return followPlain(ctx, stream, jobID, os.Stdout)
}

// EventSource yields launcher events.
type EventSource interface {
	Recv() (bus.Event, error)
}

func followPlain(ctx context.Context, src EventSource, jobID string, w io.Writer) error {
	for {
		ev, err := src.Recv()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) || status.Code(err) == codes.Canceled {
				return nil
			}
			return fmt.Errorf("event stream closed: %s", errorMessage(err))
		}
		fmt.Fprintln(w, formatEvent(ev))

		if jobID == "" || ev.JobID != jobID || !ev.Kind.Terminal() {
			continue
		}
		if ev.Kind == bus.EventTransferFailed {
			return fmt.Errorf("snapshot install failed while %s: %s", ev.Phase, ev.Error)
		}
		return nil
	}
}
