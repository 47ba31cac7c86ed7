package log

import (
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// FileLogger appends events to a trace file. Handles share one FileLogger,
// so Log may be called concurrently.
type FileLogger struct {
	path string

	mu      sync.Mutex
	f       *os.File // nil once closed
	enc     *cbor.Encoder
	written int
}

var _ Logger = (*FileLogger)(nil)

// NewFileLogger opens path for appending, creating it if needed.
func NewFileLogger(path string) (*FileLogger, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileLogger{path: path, f: f, enc: NewEncoder(f)}, nil
}

func (l *FileLogger) Path() string { return l.path }

// Log appends e. Events that fail to encode and events logged after Close
// are lost.
func (l *FileLogger) Log(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f != nil && l.enc.Encode(e) == nil {
		l.written++
	}
}

// Written is the number of events appended so far.
func (l *FileLogger) Written() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.written
}

// Close flushes the file to disk and closes it. Calling it again is a
// no-op.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	f := l.f
	l.f = nil
	_ = f.Sync()
	return f.Close()
}
