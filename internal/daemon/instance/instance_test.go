package instance

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nine-chronicles/launcher/internal/config"
	"github.com/nine-chronicles/launcher/internal/daemon/bus"
	"github.com/nine-chronicles/launcher/internal/daemon/launcher"
	"github.com/nine-chronicles/launcher/internal/daemon/server"
	"github.com/nine-chronicles/launcher/internal/models"
)

func TestAcquireIsExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), config.LockFileName)

	first, err := Acquire(path)
	require.NoError(t, err)

	_, err = Acquire(path)
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	require.NoError(t, first.Release())
	require.NoError(t, first.Release())

	again, err := Acquire(path)
	require.NoError(t, err)
	require.NoError(t, again.Release())
}

type showRecorder struct {
	bus   *bus.Bus
	shown chan struct{}
}

func (r *showRecorder) Handle(_ context.Context, cmd bus.Command) (launcher.Result, error) {
	if cmd.Kind == bus.CmdShowWindow {
		close(r.shown)
	}
	return launcher.Result{}, nil
}

func (r *showRecorder) Subscribe() *bus.Subscription { return r.bus.Subscribe() }

func (r *showRecorder) Unsubscribe(sub *bus.Subscription) { r.bus.Unsubscribe(sub) }

func TestForwardShowReachesPrimary(t *testing.T) {
	t.Setenv(config.HomeEnv, t.TempDir())

	primary := &showRecorder{bus: bus.New(8), shown: make(chan struct{})}
	srv, err := server.New("127.0.0.1", 0, primary)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	require.NoError(t, config.SaveInstanceInfo(models.NewInstanceInfo("127.0.0.1", srv.Port(), os.Getpid())))

	require.NoError(t, ForwardShow(context.Background()))

	select {
	case <-primary.shown:
	default:
		t.Fatal("primary did not receive show-window")
	}
}

func TestForwardShowWithoutPrimary(t *testing.T) {
	t.Setenv(config.HomeEnv, t.TempDir())
	assert.Error(t, ForwardShow(context.Background()))
}
