package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/nine-chronicles/launcher/internal/daemon/bus"
)

func TestFormatEvent(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.Local)

	tests := []struct {
		name     string
		ev       bus.Event
		contains string
	}{
		{name: "download progress", ev: bus.Event{Kind: bus.EventDownloadProgress, Fraction: 0.5}, contains: "download   50%"},
		{name: "extract progress", ev: bus.Event{Kind: bus.EventExtractProgress, Fraction: 1}, contains: "extract   100%"},
		{name: "download complete", ev: bus.Event{Kind: bus.EventDownloadComplete, Path: "/tmp/a.zip"}, contains: "downloaded /tmp/a.zip"},
		{name: "failed", ev: bus.Event{Kind: bus.EventTransferFailed, Phase: "extracting", Error: "boom"}, contains: "transfer failed while extracting: boom"},
		{name: "node exit code", ev: bus.Event{Kind: bus.EventNodeExited, Code: 2, HasCode: true}, contains: "node exited (code 2)"},
		{name: "node killed", ev: bus.Event{Kind: bus.EventNodeExited}, contains: "node exited"},
		{name: "window hidden", ev: bus.Event{Kind: bus.EventWindowState}, contains: "window hidden"},
		{name: "unknown kind", ev: bus.Event{Kind: "something-new"}, contains: "something-new"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.ev.Time = ts
			line := formatEvent(tt.ev)
			assert.True(t, strings.HasPrefix(line, "03:04:05 "), line)
			assert.Contains(t, line, tt.contains)
		})
	}
}

func TestFormatProcessAndJob(t *testing.T) {
	assert.Equal(t, "game   pid 42      running",
		formatProcess(map[string]any{"name": "game", "pid": float64(42), "state": "running"}))
	assert.Equal(t, "node   pid 7       exited (code 1)",
		formatProcess(map[string]any{"name": "node", "pid": float64(7), "state": "exited", "exit_code": float64(1)}))

	assert.Equal(t, "downloading 25%",
		formatJob(map[string]any{"phase": "downloading", "progress": 0.25}))
	assert.Equal(t, "failed 0%: no space left",
		formatJob(map[string]any{"phase": "failed", "progress": float64(0), "error": "no space left"}))
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		in       string
		expected any
	}{
		{in: "true", expected: true},
		{in: "false", expected: false},
		{in: "23061", expected: 23061},
		{in: "https://example.com/s.zip", expected: "https://example.com/s.zip"},
		{in: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseValue(tt.in))
		})
	}
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "store busy", errorMessage(status.Error(codes.FailedPrecondition, "store busy")))
	assert.Equal(t, "plain", errorMessage(errors.New("plain")))
}

type sliceSource struct {
	events []bus.Event
	err    error
}

func (s *sliceSource) Recv() (bus.Event, error) {
	if len(s.events) == 0 {
		return bus.Event{}, s.err
	}
	ev := s.events[0]
	s.events = s.events[1:]
	return ev, nil
}

func TestFollowPlain(t *testing.T) {
	t.Run("stops at the job's terminal event", func(t *testing.T) {
		src := &sliceSource{events: []bus.Event{
			{Kind: bus.EventTransferFailed, JobID: "old", Phase: "downloading", Error: "superseded"},
			{Kind: bus.EventDownloadProgress, JobID: "new", Fraction: 1},
			{Kind: bus.EventExtractComplete, JobID: "new"},
			{Kind: bus.EventGameClosed},
		}}
		var out bytes.Buffer
		require.NoError(t, followPlain(context.Background(), src, "new", &out))
		assert.Equal(t, 3, strings.Count(out.String(), "\n"))
		assert.Len(t, src.events, 1)
	})

	t.Run("failure is returned", func(t *testing.T) {
		src := &sliceSource{events: []bus.Event{
			{Kind: bus.EventTransferFailed, JobID: "j", Phase: "extracting", Error: "unsafe path"},
		}}
		err := followPlain(context.Background(), src, "j", io.Discard)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsafe path")
	})

	t.Run("end of stream without job", func(t *testing.T) {
		src := &sliceSource{events: []bus.Event{{Kind: bus.EventGameClosed}}, err: io.EOF}
		require.NoError(t, followPlain(context.Background(), src, "", io.Discard))
	})

	t.Run("broken stream", func(t *testing.T) {
		src := &sliceSource{err: status.Error(codes.ResourceExhausted, "subscriber too slow")}
		err := followPlain(context.Background(), src, "", io.Discard)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "subscriber too slow")
	})
}
