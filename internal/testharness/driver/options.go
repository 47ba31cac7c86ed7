package driver

import (
	"io"
	"log/slog"
	"time"

	"github.com/kmodtest/kmodfcntl-go/pkg/log"
)

// Observer receives blocking read wait times in seconds.
// A prometheus.Histogram satisfies it.
type Observer interface {
	Observe(float64)
}

type config struct {
	out    io.Writer
	logger *slog.Logger
	trace  log.Logger
	wait   Observer
	now    func() time.Time
}

func defaultConfig() *config {
	return &config{
		out:    io.Discard,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		trace:  log.NoopLogger{},
		now:    time.Now,
	}
}

// Option configures a Driver.
type Option interface {
	apply(*config)
}

type optFunc func(*config)

func (f optFunc) apply(c *config) { f(c) }

// WithOutput sets where the "-->"/"<--" progress lines go.
func WithOutput(w io.Writer) Option {
	return optFunc(func(c *config) {
		if w != nil {
			c.out = w
		}
	})
}

// WithLogger sets the operational logger.
func WithLogger(l *slog.Logger) Option {
	return optFunc(func(c *config) {
		if l != nil {
			c.logger = l
		}
	})
}

// WithTrace sets the logger for SLEEP events and belief state changes.
func WithTrace(l log.Logger) Option {
	return optFunc(func(c *config) {
		c.trace = log.OrNoop(l)
	})
}

// WithWaitObserver records how long each blocking read was suspended.
func WithWaitObserver(o Observer) Option {
	return optFunc(func(c *config) {
		c.wait = o
	})
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return optFunc(func(c *config) {
		if now != nil {
			c.now = now
		}
	})
}
