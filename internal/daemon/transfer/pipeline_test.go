package transfer

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nine-chronicles/launcher/internal/daemon/bus"
	"github.com/nine-chronicles/launcher/internal/daemon/loop"
)

// memOpener serves data in fixed-size chunks. A non-nil gate blocks every
// read until it is closed or the request is cancelled.
type memOpener struct {
	data    []byte
	chunk   int
	size    int64
	openErr error
	gate    chan struct{}
}

func (o *memOpener) Open(ctx context.Context, source string) (io.ReadCloser, int64, error) {
	if o.openErr != nil {
		return nil, 0, o.openErr
	}
	size := o.size
	if size == 0 {
		size = int64(len(o.data))
	}
	return &chunkReader{ctx: ctx, data: o.data, chunk: o.chunk, gate: o.gate}, size, nil
}

type chunkReader struct {
	ctx   context.Context
	data  []byte
	chunk int
	gate  chan struct{}
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if r.gate != nil {
		select {
		case <-r.gate:
		case <-r.ctx.Done():
			return 0, r.ctx.Err()
		}
	}
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := min(r.chunk, len(p), len(r.data))
	copy(p, r.data[:n])
	r.data = r.data[n:]
	return n, nil
}

func (r *chunkReader) Close() error { return nil }

type harness struct {
	loop *loop.Loop
	bus  *bus.Bus
	sub  *bus.Subscription
	pipe *Pipeline
	dir  string
}

func newHarness(t *testing.T, opener Opener) *harness {
	t.Helper()

	l := loop.New()
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)

	b := bus.New(4096)
	h := &harness{
		loop: l,
		bus:  b,
		sub:  b.Subscribe(),
		dir:  t.TempDir(),
	}
	h.pipe = New(Options{Loop: l, Opener: opener, Publisher: b})

	t.Cleanup(func() {
		_ = l.Do(context.Background(), h.pipe.Cancel)
		cancel()
		<-l.Done()
	})
	return h
}

func (h *harness) start(t *testing.T, source string) Job {
	t.Helper()
	var job Job
	require.NoError(t, h.loop.Do(context.Background(), func() {
		job = h.pipe.Start(Request{
			Source:      source,
			DownloadDir: filepath.Join(h.dir, "downloads"),
			ExtractDir:  filepath.Join(h.dir, "store"),
		})
	}))
	return job
}

func (h *harness) current(t *testing.T) Job {
	t.Helper()
	var job Job
	require.NoError(t, h.loop.Do(context.Background(), func() { job, _ = h.pipe.Current() }))
	return job
}

// collect gathers events for jobID up to and including its terminal event.
func (h *harness) collect(t *testing.T, jobID string) []bus.Event {
	t.Helper()
	var events []bus.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-h.sub.C:
			require.True(t, ok, "subscription closed")
			if ev.JobID != jobID {
				continue
			}
			events = append(events, ev)
			if ev.Kind.Terminal() {
				return events
			}
		case <-timeout:
			t.Fatalf("no terminal event for job %s; got %d events", jobID, len(events))
		}
	}
}

func fractions(events []bus.Event, kind bus.EventKind) []float64 {
	var out []float64
	for _, ev := range events {
		if ev.Kind == kind {
			out = append(out, ev.Fraction)
		}
	}
	return out
}

func assertWellFormed(t *testing.T, events []bus.Event) {
	t.Helper()
	terminals := 0
	last := map[bus.EventKind]float64{}
	for _, ev := range events {
		if ev.Kind.Terminal() {
			terminals++
		}
		if ev.Kind == bus.EventDownloadProgress || ev.Kind == bus.EventExtractProgress {
			assert.GreaterOrEqual(t, ev.Fraction, last[ev.Kind])
			assert.LessOrEqual(t, ev.Fraction, 1.0)
			last[ev.Kind] = ev.Fraction
		}
	}
	assert.Equal(t, 1, terminals)
	assert.True(t, events[len(events)-1].Kind.Terminal())
}

func buildZip(t *testing.T, entries map[string]string, order []string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, name := range order {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(entries[name]))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func buildTar(t *testing.T, compress func(io.Writer) io.WriteCloser, entries map[string]string, order []string) []byte {
	t.Helper()
	var buf bytes.Buffer
	cw := compress(&buf)
	tw := tar.NewWriter(cw)
	for _, name := range order {
		body := entries[name]
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, cw.Close())
	return buf.Bytes()
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func TestDownloadProgressInChunks(t *testing.T) {
	data := bytes.Repeat([]byte{0xAB}, 100)
	h := newHarness(t, &memOpener{data: data, chunk: 10})

	job := h.start(t, "https://snapshots.test/state.zip")
	events := h.collect(t, job.ID)
	assertWellFormed(t, events)

	got := fractions(events, bus.EventDownloadProgress)
	require.Len(t, got, 10)
	for i, f := range got {
		assert.InDelta(t, float64(i+1)/10, f, 1e-9)
	}

	var kinds []bus.EventKind
	for _, ev := range events {
		if ev.Kind != bus.EventDownloadProgress {
			kinds = append(kinds, ev.Kind)
		}
	}
	// 100 bytes of filler is not a zip, so the job moves on to
	// extraction and fails there.
	assert.Equal(t, []bus.EventKind{bus.EventDownloadComplete, bus.EventTransferFailed}, kinds)
	assert.Equal(t, string(PhaseExtracting), events[len(events)-1].Phase)

	final := h.current(t)
	assert.Equal(t, PhaseFailed, final.Phase)
	var terr *TransferError
	require.ErrorAs(t, final.Err, &terr)
	assert.Equal(t, PhaseExtracting, terr.Phase)
}

func TestExtractZipProgress(t *testing.T) {
	order := []string{"block/0001", "block/0002", "state/index", "README"}
	entries := map[string]string{
		"block/0001":  "genesis",
		"block/0002":  "next",
		"state/index": "idx",
		"README":      "nine chronicles snapshot",
	}
	data := buildZip(t, entries, order)
	h := newHarness(t, &memOpener{data: data, chunk: 64})

	job := h.start(t, "https://snapshots.test/partition/snapshot.zip")
	events := h.collect(t, job.ID)
	assertWellFormed(t, events)

	got := fractions(events, bus.EventExtractProgress)
	require.Len(t, got, 4)
	for i, want := range []float64{0.25, 0.5, 0.75, 1.0} {
		assert.InDelta(t, want, got[i], 1e-9)
	}
	assert.Equal(t, bus.EventExtractComplete, events[len(events)-1].Kind)

	var archive string
	for _, ev := range events {
		if ev.Kind == bus.EventDownloadComplete {
			archive = ev.Path
		}
	}
	require.NotEmpty(t, archive)
	assert.Equal(t, job.ID+"-snapshot.zip", filepath.Base(archive))
	assert.NoFileExists(t, archive)

	for name, body := range entries {
		b, err := os.ReadFile(filepath.Join(h.dir, "store", filepath.FromSlash(name)))
		require.NoError(t, err)
		assert.Equal(t, body, string(b))
	}

	final := h.current(t)
	assert.Equal(t, PhaseComplete, final.Phase)
	assert.Equal(t, 1.0, final.Progress)
}

func TestExtractTarFormats(t *testing.T) {
	order := []string{"a.txt", "dir/b.txt"}
	entries := map[string]string{"a.txt": "alpha", "dir/b.txt": "bravo"}

	tests := []struct {
		name     string
		source   string
		compress func(io.Writer) io.WriteCloser
	}{
		{
			name:     "tar",
			source:   "https://snapshots.test/s.tar",
			compress: func(w io.Writer) io.WriteCloser { return nopWriteCloser{w} },
		},
		{
			name:     "tar.gz",
			source:   "https://snapshots.test/s.tar.gz",
			compress: func(w io.Writer) io.WriteCloser { return gzip.NewWriter(w) },
		},
		{
			name:   "tar.zst",
			source: "https://snapshots.test/s.tar.zst",
			compress: func(w io.Writer) io.WriteCloser {
				enc, err := zstd.NewWriter(w)
				if err != nil {
					panic(err)
				}
				return enc
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := buildTar(t, tt.compress, entries, order)
			h := newHarness(t, &memOpener{data: data, chunk: 512})

			job := h.start(t, tt.source)
			events := h.collect(t, job.ID)
			assertWellFormed(t, events)

			got := fractions(events, bus.EventExtractProgress)
			require.Len(t, got, 2)
			assert.InDelta(t, 0.5, got[0], 1e-9)
			assert.InDelta(t, 1.0, got[1], 1e-9)
			assert.Equal(t, bus.EventExtractComplete, events[len(events)-1].Kind)

			b, err := os.ReadFile(filepath.Join(h.dir, "store", "dir", "b.txt"))
			require.NoError(t, err)
			assert.Equal(t, "bravo", string(b))
		})
	}
}

func TestSupersessionDropsStaleEvents(t *testing.T) {
	gate := make(chan struct{})
	slow := &memOpener{data: buildZip(t, map[string]string{"old": "x"}, []string{"old"}), chunk: 8, gate: gate}
	h := newHarness(t, slow)

	first := h.start(t, "https://snapshots.test/old.zip")

	fast := &memOpener{data: buildZip(t, map[string]string{"new": "y"}, []string{"new"}), chunk: 8}
	require.NoError(t, h.loop.Do(context.Background(), func() { h.pipe.SetOpener(fast) }))
	second := h.start(t, "https://snapshots.test/new.zip")
	assert.Greater(t, second.Generation, first.Generation)

	events := h.collect(t, second.ID)
	assertWellFormed(t, events)
	close(gate)

	// Flush anything the first job's goroutine posted after cancellation.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, h.loop.Do(context.Background(), func() {}))

drain:
	for {
		select {
		case ev := <-h.sub.C:
			assert.NotEqual(t, first.ID, ev.JobID, "stale event %s", ev.Kind)
		default:
			break drain
		}
	}

	final := h.current(t)
	assert.Equal(t, second.ID, final.ID)
	assert.Equal(t, PhaseComplete, final.Phase)
	assert.NoFileExists(t, filepath.Join(h.dir, "store", "old"))
	assert.FileExists(t, filepath.Join(h.dir, "store", "new"))
}

func TestSupersessionDuringExtraction(t *testing.T) {
	order := []string{"a1", "a2", "a3", "a4"}
	old := buildZip(t, map[string]string{"a1": "1", "a2": "2", "a3": "3", "a4": "4"}, order)
	h := newHarness(t, &memOpener{data: old, chunk: 64})

	// The first extraction stalls after its first entry until gate closes.
	gate := make(chan struct{})
	var calls atomic.Int32
	h.pipe.extract = func(ctx context.Context, archive, dest string, progress func(float64)) error {
		if calls.Add(1) > 1 {
			return extract(ctx, archive, dest, progress)
		}
		return extract(ctx, archive, dest, func(f float64) {
			progress(f)
			<-gate
		})
	}

	// Both jobs share a source URL and so a base archive name.
	const source = "https://snapshots.test/snapshot.zip"
	first := h.start(t, source)

	var firstArchive string
	timeout := time.After(5 * time.Second)
wait:
	for {
		select {
		case ev := <-h.sub.C:
			if ev.JobID != first.ID {
				continue
			}
			switch ev.Kind {
			case bus.EventDownloadComplete:
				firstArchive = ev.Path
			case bus.EventExtractProgress:
				break wait
			}
		case <-timeout:
			t.Fatal("first job never started extracting")
		}
	}
	require.NotEmpty(t, firstArchive)
	assert.Equal(t, PhaseExtracting, h.current(t).Phase)

	fresh := buildZip(t, map[string]string{"new": "y"}, []string{"new"})
	require.NoError(t, h.loop.Do(context.Background(), func() { h.pipe.SetOpener(&memOpener{data: fresh, chunk: 64}) }))
	second := h.start(t, source)
	close(gate)

	var events []bus.Event
	timeout = time.After(5 * time.Second)
	for len(events) == 0 || !events[len(events)-1].Kind.Terminal() {
		select {
		case ev := <-h.sub.C:
			require.Equal(t, second.ID, ev.JobID, "stale event %s", ev.Kind)
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("no terminal event for job %s", second.ID)
		}
	}
	assertWellFormed(t, events)
	assert.Equal(t, bus.EventExtractComplete, events[len(events)-1].Kind)

	require.Eventually(t, func() bool {
		_, err := os.Stat(firstArchive)
		return errors.Is(err, os.ErrNotExist)
	}, 5*time.Second, 10*time.Millisecond)

	// Flush anything the first job's goroutine posted after cancellation.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, h.loop.Do(context.Background(), func() {}))

drain:
	for {
		select {
		case ev := <-h.sub.C:
			assert.NotEqual(t, first.ID, ev.JobID, "stale event %s", ev.Kind)
		default:
			break drain
		}
	}

	final := h.current(t)
	assert.Equal(t, second.ID, final.ID)
	assert.Equal(t, PhaseComplete, final.Phase)
	assert.NotEqual(t, firstArchive, final.ArchivePath)
	assert.FileExists(t, filepath.Join(h.dir, "store", "new"))
	assert.NoFileExists(t, filepath.Join(h.dir, "store", "a4"))

	left, err := os.ReadDir(filepath.Join(h.dir, "downloads"))
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestFormatFallsBackToContents(t *testing.T) {
	data := buildZip(t, map[string]string{"state/index": "idx"}, []string{"state/index"})
	h := newHarness(t, &memOpener{data: data, chunk: 64})

	job := h.start(t, "https://snapshots.test/download?id=42")
	events := h.collect(t, job.ID)
	assertWellFormed(t, events)

	assert.Equal(t, bus.EventExtractComplete, events[len(events)-1].Kind)
	b, err := os.ReadFile(filepath.Join(h.dir, "store", "state", "index"))
	require.NoError(t, err)
	assert.Equal(t, "idx", string(b))
}

func TestSniffFormat(t *testing.T) {
	entries := map[string]string{"a": "1"}
	order := []string{"a"}

	tests := []struct {
		name     string
		header   []byte
		expected archiveFormat
	}{
		{name: "zip", header: buildZip(t, entries, order), expected: formatZip},
		{name: "empty zip", header: buildZip(t, nil, nil), expected: formatZip},
		{
			name:     "tar",
			header:   buildTar(t, func(w io.Writer) io.WriteCloser { return nopWriteCloser{w} }, entries, order),
			expected: formatTar,
		},
		{
			name:     "gzip",
			header:   buildTar(t, func(w io.Writer) io.WriteCloser { return gzip.NewWriter(w) }, entries, order),
			expected: formatTarGzip,
		},
		{name: "zstd", header: []byte{0x28, 0xb5, 0x2f, 0xfd, 0x00}, expected: formatTarZstd},
		{name: "filler", header: bytes.Repeat([]byte{0xAB}, 600), expected: formatUnknown},
		{name: "empty", header: nil, expected: formatUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, sniffFormat(tt.header))
		})
	}
}

func TestDownloadFailure(t *testing.T) {
	h := newHarness(t, &memOpener{openErr: errors.New("connection refused")})

	job := h.start(t, "https://snapshots.test/snapshot.zip")
	events := h.collect(t, job.ID)
	assertWellFormed(t, events)

	require.Len(t, events, 1)
	assert.Equal(t, bus.EventTransferFailed, events[0].Kind)
	assert.Equal(t, string(PhaseDownloading), events[0].Phase)
	assert.Contains(t, events[0].Error, "connection refused")

	entries, err := os.ReadDir(filepath.Join(h.dir, "downloads"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestExtractRejectsEscapingEntries(t *testing.T) {
	data := buildZip(t, map[string]string{"../escape.txt": "nope"}, []string{"../escape.txt"})
	h := newHarness(t, &memOpener{data: data, chunk: 32})

	job := h.start(t, "https://snapshots.test/evil.zip")
	events := h.collect(t, job.ID)
	assertWellFormed(t, events)

	assert.Equal(t, bus.EventTransferFailed, events[len(events)-1].Kind)
	assert.NoFileExists(t, filepath.Join(h.dir, "escape.txt"))

	final := h.current(t)
	var terr *TransferError
	require.ErrorAs(t, final.Err, &terr)
	assert.Equal(t, PhaseExtracting, terr.Phase)
}

func TestSafeJoin(t *testing.T) {
	dest := t.TempDir()

	tests := []struct {
		name    string
		entry   string
		wantErr bool
	}{
		{name: "plain", entry: "block/0001"},
		{name: "dot segments inside", entry: "a/../b"},
		{name: "parent", entry: "../escape", wantErr: true},
		{name: "nested parent", entry: "a/../../escape", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := safeJoin(dest, tt.entry)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnsafePath)
				return
			}
			require.NoError(t, err)
			assert.True(t, filepath.IsAbs(got))
		})
	}
}

func TestUnknownLengthReportsCompletion(t *testing.T) {
	data := buildZip(t, map[string]string{"only": "1"}, []string{"only"})
	h := newHarness(t, &memOpener{data: data, chunk: 16, size: -1})

	job := h.start(t, "https://snapshots.test/snapshot.zip")
	events := h.collect(t, job.ID)
	assertWellFormed(t, events)

	got := fractions(events, bus.EventDownloadProgress)
	assert.Equal(t, []float64{1}, got)
}

func TestArchiveName(t *testing.T) {
	tests := []struct {
		source string
		want   string
	}{
		{source: "https://release.nine-chronicles.com/snapshot/state_latest.zip", want: "state_latest.zip"},
		{source: "https://example.test/a/b.tar.zst?sig=1", want: "b.tar.zst"},
		{source: "https://example.test/", want: DefaultArchiveName},
		{source: "::bad", want: DefaultArchiveName},
	}

	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			assert.Equal(t, tt.want, ArchiveName(tt.source))
		})
	}
}
