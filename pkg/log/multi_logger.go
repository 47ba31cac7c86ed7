package log

// MultiLogger copies every event to a set of loggers, typically the console
// adapter and a trace file.
type MultiLogger struct {
	loggers []Logger
}

var _ Logger = (*MultiLogger)(nil)

// NewMultiLogger ignores nil entries.
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	m := new(MultiLogger)
	for _, l := range loggers {
		if l != nil {
			m.loggers = append(m.loggers, l)
		}
	}
	return m
}

func (m *MultiLogger) Log(e Event) {
	for _, l := range m.loggers {
		l.Log(e)
	}
}

// Len is the number of non-nil loggers.
func (m *MultiLogger) Len() int { return len(m.loggers) }
