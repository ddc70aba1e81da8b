package process

import (
	"bytes"
	"strings"
	"sync"

	"github.com/charmbracelet/x/ansi"
	"github.com/rs/zerolog"
)

const maxLineLen = 64 * 1024

// lineLogger is an io.Writer that logs each complete line written to it.
type lineLogger struct {
	mu     sync.Mutex
	logger zerolog.Logger
	buf    bytes.Buffer
}

func newLineLogger(logger zerolog.Logger, stream string) *lineLogger {
	return &lineLogger{logger: logger.With().Str("stream", stream).Logger()}
}

func (w *lineLogger) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		i := bytes.IndexByte(w.buf.Bytes(), '\n')
		if i < 0 {
			break
		}
		line := w.buf.Next(i + 1)
		w.emit(line[:i])
	}

	if w.buf.Len() > maxLineLen {
		w.emit(w.buf.Bytes())
		w.buf.Reset()
	}
	return len(p), nil
}

// Flush logs any trailing partial line.
func (w *lineLogger) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.buf.Len() > 0 {
		w.emit(w.buf.Bytes())
		w.buf.Reset()
	}
}

func (w *lineLogger) emit(raw []byte) {
	line := strings.TrimRight(ansi.Strip(string(raw)), "\r \t")
	if line == "" {
		return
	}
	w.logger.Info().Msg(line)
}
