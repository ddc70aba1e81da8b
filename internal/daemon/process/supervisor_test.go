package process

import (
	"context"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nine-chronicles/launcher/internal/daemon/loop"
)

func newTestSupervisor(t *testing.T) (*Supervisor, *loop.Loop) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("process tests need a POSIX shell")
	}

	l := loop.New()
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)

	s := NewSupervisor(l)
	t.Cleanup(func() {
		_ = l.Do(context.Background(), func() { s.KillAll() })
		cancel()
		<-l.Done()
	})
	return s, l
}

func onLoop(t *testing.T, l *loop.Loop, fn func()) {
	t.Helper()
	require.NoError(t, l.Do(context.Background(), fn))
}

func spawn(t *testing.T, s *Supervisor, l *loop.Loop, opts SpawnOptions) *Handle {
	t.Helper()
	var (
		h   *Handle
		err error
	)
	onLoop(t, l, func() { h, err = s.Spawn(opts) })
	require.NoError(t, err)
	return h
}

func waitDone(t *testing.T, h *Handle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}
}

func TestSpawnMissingExecutable(t *testing.T) {
	s, l := newTestSupervisor(t)

	var err error
	onLoop(t, l, func() {
		_, err = s.Spawn(SpawnOptions{Name: "node", Path: "/nonexistent/headless-node"})
	})

	var spawnErr *SpawnError
	require.ErrorAs(t, err, &spawnErr)
	assert.Equal(t, "node", spawnErr.Name)

	onLoop(t, l, func() { assert.Empty(t, s.Handles()) })
}

func TestOnExitFiresOnce(t *testing.T) {
	s, l := newTestSupervisor(t)

	var (
		calls atomic.Int32
		got   Exit
	)
	h := spawn(t, s, l, SpawnOptions{Name: "game", Path: "sh", Args: []string{"-c", "echo hello; exit 3"}})
	onLoop(t, l, func() {
		s.OnExit(h, func(e Exit) {
			calls.Add(1)
			got = e
		})
	})

	waitDone(t, h)

	var late atomic.Int32
	onLoop(t, l, func() {
		s.OnExit(h, func(Exit) { late.Add(1) })
		assert.Equal(t, Exited, h.Info().State)
	})

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int32(1), late.Load())
	assert.True(t, got.HasCode)
	assert.Equal(t, 3, got.Code)
	assert.False(t, got.Killed)
}

func TestKillAllLeavesNothingRunning(t *testing.T) {
	tests := []struct {
		name string
		pty  bool
	}{
		{name: "pipes"},
		{name: "pty", pty: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, l := newTestSupervisor(t)

			var handles []*Handle
			for i := 0; i < 3; i++ {
				handles = append(handles, spawn(t, s, l, SpawnOptions{
					Name: "sleeper",
					Path: "sh",
					Args: []string{"-c", "sleep 30 & sleep 30"},
					PTY:  tt.pty,
				}))
			}

			var killed int
			onLoop(t, l, func() {
				killed = s.KillAll()
				assert.Empty(t, s.Running())
			})
			assert.Equal(t, 3, killed)

			for _, h := range handles {
				waitDone(t, h)
			}

			onLoop(t, l, func() {
				for _, info := range s.Handles() {
					assert.Equal(t, Killed, info.State)
					assert.True(t, info.Exit.Killed)
				}
				assert.Equal(t, 0, s.KillAll())
			})
		})
	}
}

func TestKillAllToleratesNaturalExit(t *testing.T) {
	s, l := newTestSupervisor(t)

	quick := spawn(t, s, l, SpawnOptions{Name: "quick", Path: "sh", Args: []string{"-c", "exit 0"}})
	slow := spawn(t, s, l, SpawnOptions{Name: "slow", Path: "sh", Args: []string{"-c", "sleep 30"}})

	waitDone(t, quick)

	onLoop(t, l, func() {
		assert.Equal(t, 1, s.KillAll())
		assert.Empty(t, s.Running())
	})
	waitDone(t, slow)

	onLoop(t, l, func() {
		assert.Len(t, s.Handles(), 2)
	})
}
