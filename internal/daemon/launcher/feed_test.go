package launcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nine-chronicles/launcher/internal/daemon/window"
)

func TestStatusFeedFollowsEvents(t *testing.T) {
	e := newEnv(t, nil, nil)

	updates := make(chan Status, 16)
	feed := e.o.StatusFeed(func(st Status) { updates <- st })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- feed.Run(ctx) }()

	next := func() Status {
		t.Helper()
		select {
		case st := <-updates:
			return st
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for status")
			return Status{}
		}
	}

	first := next()
	assert.Equal(t, window.Shown, first.Window.Visibility)

	require.NoError(t, e.o.Minimize(context.Background()))
	var st Status
	for st = next(); st.Window.Visibility != window.Hidden; st = next() {
	}
	assert.Equal(t, window.Hidden, st.Window.Visibility)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("feed did not stop")
	}
}
