package window

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeSurface struct {
	calls []string
	life  *Lifecycle
}

func (f *fakeSurface) Show()      { f.calls = append(f.calls, "show") }
func (f *fakeSurface) Hide()      { f.calls = append(f.calls, "hide") }
func (f *fakeSurface) Terminate() { f.calls = append(f.calls, "terminate") }

func (f *fakeSurface) Close() {
	f.calls = append(f.calls, "close")
	f.life.RequestClose()
}

func newLifecycle() (*Lifecycle, *fakeSurface) {
	s := &fakeSurface{}
	l := New(s, func() { s.calls = append(s.calls, "kill-all") })
	s.life = l
	return l, s
}

func TestCloseWithoutQuitHides(t *testing.T) {
	l, s := newLifecycle()

	assert.False(t, l.RequestClose())
	assert.Equal(t, State{Visibility: Hidden}, l.State())
	assert.Equal(t, []string{"hide"}, s.calls)

	assert.False(t, l.RequestClose())
	assert.Equal(t, []string{"hide"}, s.calls)
}

func TestQuitKillsBeforeTerminate(t *testing.T) {
	l, s := newLifecycle()

	l.Quit()

	assert.True(t, l.State().Quitting)
	assert.Equal(t, []string{"close", "kill-all", "terminate"}, s.calls)

	assert.True(t, l.RequestClose())
	l.Quit()
	l.Open()
	assert.Equal(t, []string{"close", "kill-all", "terminate"}, s.calls)
}

func TestTransitions(t *testing.T) {
	tests := []struct {
		name  string
		steps []func(*Lifecycle)
		want  Visibility
		calls []string
	}{
		{
			name:  "initially shown",
			want:  Shown,
			calls: nil,
		},
		{
			name:  "minimize",
			steps: []func(*Lifecycle){(*Lifecycle).Minimize},
			want:  Hidden,
			calls: []string{"hide"},
		},
		{
			name:  "minimize then open",
			steps: []func(*Lifecycle){(*Lifecycle).Minimize, (*Lifecycle).Open},
			want:  Shown,
			calls: []string{"hide", "show"},
		},
		{
			name:  "open while shown is a no-op",
			steps: []func(*Lifecycle){(*Lifecycle).Open},
			want:  Shown,
			calls: nil,
		},
		{
			name: "close then open",
			steps: []func(*Lifecycle){
				func(l *Lifecycle) { l.RequestClose() },
				(*Lifecycle).Open,
			},
			want:  Shown,
			calls: []string{"hide", "show"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, s := newLifecycle()
			for _, step := range tt.steps {
				step(l)
			}
			assert.Equal(t, tt.want, l.State().Visibility)
			assert.Equal(t, tt.calls, s.calls)
			assert.False(t, l.State().Quitting)
		})
	}
}
