package server

import (
	"context"
	"net"
	"os/exec"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/nine-chronicles/launcher/internal/daemon/bus"
	"github.com/nine-chronicles/launcher/internal/daemon/launcher"
	"github.com/nine-chronicles/launcher/internal/daemon/process"
	"github.com/nine-chronicles/launcher/internal/daemon/transfer"
)

type fakeDispatcher struct {
	bus    *bus.Bus
	cmds   chan bus.Command
	err    error
	closed bool
}

func (f *fakeDispatcher) Handle(_ context.Context, cmd bus.Command) (launcher.Result, error) {
	f.cmds <- cmd
	if f.err != nil {
		return launcher.Result{}, f.err
	}
	switch cmd.Kind {
	case bus.CmdDownloadSnapshot:
		return launcher.Result{Job: &transfer.Job{ID: "job-1", Source: cmd.Download.URL, Phase: transfer.PhaseDownloading}}, nil
	case bus.CmdLaunchGame:
		return launcher.Result{Process: &process.Info{ID: "p-1", Name: "game", PID: 4242, State: process.Running}}, nil
	case bus.CmdStatus:
		return launcher.Result{Status: &launcher.Status{Version: "test", PID: 7}}, nil
	case bus.CmdCloseWindow:
		return launcher.Result{Closed: f.closed}, nil
	}
	return launcher.Result{}, nil
}

func (f *fakeDispatcher) Subscribe() *bus.Subscription { return f.bus.Subscribe() }

func (f *fakeDispatcher) Unsubscribe(sub *bus.Subscription) { f.bus.Unsubscribe(sub) }

func startServer(t *testing.T, d *fakeDispatcher) *Client {
	t.Helper()

	srv, err := New("127.0.0.1", 0, d)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	client, err := Dial(net.JoinHostPort("127.0.0.1", strconv.Itoa(srv.Port())))
	require.NoError(t, err)

	t.Cleanup(func() {
		client.Close()
		d.bus.Close()
		cancel()
		<-done
	})
	return client
}

func newFake() *fakeDispatcher {
	return &fakeDispatcher{bus: bus.New(64), cmds: make(chan bus.Command, 16)}
}

func TestUnaryCommands(t *testing.T) {
	d := newFake()
	client := startServer(t, d)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	job, err := client.DownloadSnapshot(ctx, "https://snapshots.test/latest.zip")
	require.NoError(t, err)
	assert.Equal(t, "job-1", job["id"])
	assert.Equal(t, "downloading", job["phase"])
	cmd := <-d.cmds
	assert.Equal(t, bus.CmdDownloadSnapshot, cmd.Kind)
	assert.Equal(t, "https://snapshots.test/latest.zip", cmd.Download.URL)

	proc, err := client.LaunchGame(ctx, []string{"--private-key", "abc"})
	require.NoError(t, err)
	assert.Equal(t, float64(4242), proc["pid"])
	cmd = <-d.cmds
	assert.Equal(t, []string{"--private-key", "abc"}, cmd.Args)

	require.NoError(t, client.ClearCache(ctx))
	assert.Equal(t, bus.CmdClearCache, (<-d.cmds).Kind)

	require.NoError(t, client.ShowWindow(ctx))
	assert.Equal(t, bus.CmdShowWindow, (<-d.cmds).Kind)

	st, err := client.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "test", st["version"])
	assert.Equal(t, bus.CmdStatus, (<-d.cmds).Kind)

	require.NoError(t, client.Quit(ctx))
	assert.Equal(t, bus.CmdQuit, (<-d.cmds).Kind)
}

func TestWindowCommands(t *testing.T) {
	tests := []struct {
		name   string
		closed bool
	}{
		{name: "close hides to tray", closed: false},
		{name: "close while quitting terminates", closed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newFake()
			d.closed = tt.closed
			client := startServer(t, d)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			require.NoError(t, client.MinimizeWindow(ctx))
			assert.Equal(t, bus.CmdMinimizeWindow, (<-d.cmds).Kind)

			closed, err := client.RequestClose(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.closed, closed)
			assert.Equal(t, bus.CmdCloseWindow, (<-d.cmds).Kind)
		})
	}
}

func TestErrorCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want codes.Code
	}{
		{name: "busy store", err: &launcher.CacheClearError{Path: "/9c", Reason: launcher.ReasonBusy}, want: codes.FailedPrecondition},
		{name: "missing game", err: &process.SpawnError{Name: "game", Path: "/x", Err: exec.ErrNotFound}, want: codes.NotFound},
		{name: "no url", err: launcher.ErrNoSnapshotURL, want: codes.InvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newFake()
			d.err = tt.err
			client := startServer(t, d)

			err := client.ClearCache(context.Background())
			assert.Equal(t, tt.want, status.Code(err))
		})
	}
}

func TestSubscribeStreamsEvents(t *testing.T) {
	d := newFake()
	client := startServer(t, d)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := client.Subscribe(ctx)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return d.bus.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	d.bus.Publish(bus.Event{Kind: bus.EventDownloadProgress, JobID: "job-1", Fraction: 0.5})
	d.bus.Publish(bus.Event{Kind: bus.EventNodeExited, Code: 1, HasCode: true})

	ev, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, bus.EventDownloadProgress, ev.Kind)
	assert.Equal(t, uint64(1), ev.Seq)
	assert.Equal(t, 0.5, ev.Fraction)
	assert.Equal(t, "job-1", ev.JobID)

	ev, err = stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, bus.EventNodeExited, ev.Kind)
	assert.True(t, ev.HasCode)
	assert.Equal(t, 1, ev.Code)
}

func TestAllowedOrigin(t *testing.T) {
	for origin, want := range map[string]bool{
		"":                      true,
		"null":                  true,
		"http://localhost:3000": true,
		"http://127.0.0.1:8080": true,
		"https://evil.example":  false,
	} {
		assert.Equal(t, want, allowedOrigin(origin), origin)
	}
}
