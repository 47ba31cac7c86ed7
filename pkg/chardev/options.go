package chardev

import (
	"io"
	"log/slog"
	"time"

	"github.com/kmodtest/kmodfcntl-go/pkg/log"
)

type handleConfig struct {
	opener  Opener
	logger  *slog.Logger
	trace   log.Logger
	metrics *Metrics
	now     func() time.Time
}

func defaultHandleConfig() *handleConfig {
	return &handleConfig{
		opener: OpenFile,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		trace:  log.NoopLogger{},
		now:    time.Now,
	}
}

// Option configures a Handle.
type Option interface {
	apply(*handleConfig)
}

type optFunc func(*handleConfig)

func (f optFunc) apply(cfg *handleConfig) { f(cfg) }

// WithOpener replaces the descriptor source. The default opens the real
// device node.
func WithOpener(o Opener) Option {
	return optFunc(func(cfg *handleConfig) {
		if o != nil {
			cfg.opener = o
		}
	})
}

// WithLogger sets the operational logger.
func WithLogger(l *slog.Logger) Option {
	return optFunc(func(cfg *handleConfig) {
		if l != nil {
			cfg.logger = l
		}
	})
}

// WithTrace sets the logger that receives a STARTED/FINISHED event pair
// for every operation.
func WithTrace(l log.Logger) Option {
	return optFunc(func(cfg *handleConfig) {
		cfg.trace = log.OrNoop(l)
	})
}

// WithMetrics makes the handle count into m instead of a private instance,
// so several handles can share one set of counters.
func WithMetrics(m *Metrics) Option {
	return optFunc(func(cfg *handleConfig) {
		cfg.metrics = m
	})
}

// WithClock overrides time.Now for trace timestamps and durations.
func WithClock(now func() time.Time) Option {
	return optFunc(func(cfg *handleConfig) {
		if now != nil {
			cfg.now = now
		}
	})
}
