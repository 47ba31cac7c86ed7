package log

// Logger receives trace events. Log may be called from several goroutines
// at once, since an abandoned blocking read reports its completion late.
type Logger interface {
	Log(e Event)
}

// NoopLogger drops every event.
type NoopLogger struct{}

func (NoopLogger) Log(Event) {}

// OrNoop returns l, or a NoopLogger if l is nil.
func OrNoop(l Logger) Logger {
	if l == nil {
		return NoopLogger{}
	}
	return l
}
