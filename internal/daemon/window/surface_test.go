package window

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nine-chronicles/launcher/internal/daemon/bus"
)

func TestEventSurface(t *testing.T) {
	b := bus.New(16)
	sub := b.Subscribe()

	terminated := 0
	killed := 0
	surface := NewEventSurface(b, func() { terminated++ })
	l := New(surface, func() { killed++ })
	surface.Bind(l)

	l.Minimize()
	l.Open()

	ev := <-sub.C
	assert.Equal(t, bus.EventWindowState, ev.Kind)
	assert.False(t, ev.Visible)
	ev = <-sub.C
	assert.True(t, ev.Visible)

	l.Quit()
	require.Equal(t, 1, killed)
	assert.Equal(t, 1, terminated)
}
