package shell

import (
	"bytes"
	"sync"

	"github.com/hashicorp/go-hclog"
)

// lineWriter emits each complete line written to it as a debug log entry. Git progress
// output is terminated by carriage returns, so those also end a line.
type lineWriter struct {
	mu     sync.Mutex
	logger hclog.Logger
	buf    bytes.Buffer
}

func newLineWriter(logger hclog.Logger) *lineWriter {
	return &lineWriter{logger: logger}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, b := range p {
		if b == '\n' || b == '\r' {
			w.emit()
			continue
		}
		w.buf.WriteByte(b)
	}
	return len(p), nil
}

// Flush logs whatever partial line remains buffered.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.emit()
}

func (w *lineWriter) emit() {
	line := bytes.TrimSpace(w.buf.Bytes())
	w.buf.Reset()
	if len(line) == 0 {
		return
	}
	w.logger.Debug(string(line))
}
