package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"golang.org/x/time/rate"
)

const copyBufferSize = 32 * 1024

// DefaultArchiveName is used when the source URL has no usable file name.
const DefaultArchiveName = "snapshot.zip"

// Opener opens a snapshot source for reading. size is -1 when unknown.
type Opener interface {
	Open(ctx context.Context, source string) (body io.ReadCloser, size int64, err error)
}

// HTTPSource downloads snapshots over HTTP(S).
type HTTPSource struct {
	Client    *http.Client
	UserAgent string

	// Limiter caps throughput in bytes per second. Nil means unlimited.
	Limiter *rate.Limiter
}

// NewHTTPSource returns an HTTP opener capped at rateLimitKBps
// kilobytes per second (0 disables the cap).
func NewHTTPSource(userAgent string, rateLimitKBps int) *HTTPSource {
	s := &HTTPSource{
		Client:    http.DefaultClient,
		UserAgent: userAgent,
	}
	if rateLimitKBps > 0 {
		s.Limiter = rate.NewLimiter(rate.Limit(rateLimitKBps*1024), copyBufferSize)
	}
	return s
}

// Open issues a GET for source.
func (s *HTTPSource) Open(ctx context.Context, source string) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("invalid snapshot URL: %w", err)
	}
	if s.UserAgent != "" {
		req.Header.Set("User-Agent", s.UserAgent)
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to download snapshot: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, 0, fmt.Errorf("snapshot download returned status %d", resp.StatusCode)
	}

	var body io.ReadCloser = resp.Body
	if s.Limiter != nil {
		body = &limitedReader{ctx: ctx, r: resp.Body, limiter: s.Limiter}
	}
	return body, resp.ContentLength, nil
}

type limitedReader struct {
	ctx     context.Context
	r       io.ReadCloser
	limiter *rate.Limiter
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if burst := l.limiter.Burst(); len(p) > burst {
		p = p[:burst]
	}
	n, err := l.r.Read(p)
	if n > 0 {
		if werr := l.limiter.WaitN(l.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}

func (l *limitedReader) Close() error {
	return l.r.Close()
}

// progressReader reports cumulative bytes after every read.
type progressReader struct {
	r      io.Reader
	done   int64
	report func(done int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.done += int64(n)
		p.report(p.done)
	}
	return n, err
}

// ArchiveName derives the local archive file name from a source URL.
func ArchiveName(source string) string {
	u, err := url.Parse(source)
	if err != nil {
		return DefaultArchiveName
	}
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		return DefaultArchiveName
	}
	return name
}

// download streams source into dir/name, reporting the completed
// fraction. The archive is written to a unique .part file and renamed
// once complete.
func download(ctx context.Context, opener Opener, source, dir, name string, progress func(float64)) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create download dir: %w", err)
	}

	body, size, err := opener.Open(ctx, source)
	if err != nil {
		return "", err
	}
	defer body.Close()

	dest := filepath.Join(dir, name)
	f, err := os.CreateTemp(dir, name+".*.part")
	if err != nil {
		return "", fmt.Errorf("failed to create partial archive: %w", err)
	}
	part := f.Name()

	src := &progressReader{r: body, report: func(done int64) {
		if size > 0 {
			progress(min(float64(done)/float64(size), 1))
		}
	}}

	buf := make([]byte, copyBufferSize)
	_, copyErr := io.CopyBuffer(struct{ io.Writer }{f}, src, buf)
	closeErr := f.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = os.Remove(part)
		return "", fmt.Errorf("failed to write archive: %w", err)
	}
	if err := ctx.Err(); err != nil {
		_ = os.Remove(part)
		return "", err
	}
	if size > 0 && src.done != size {
		_ = os.Remove(part)
		return "", fmt.Errorf("short download: got %d of %d bytes", src.done, size)
	}

	if err := os.Rename(part, dest); err != nil {
		_ = os.Remove(part)
		return "", fmt.Errorf("failed to finalize archive: %w", err)
	}
	if size <= 0 {
		progress(1)
	}
	return dest, nil
}
