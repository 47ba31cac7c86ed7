package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kmodtest/kmodfcntl-go/pkg/chardev"
)

var errNoAttempts = errors.New("retry: at least one attempt is required")

// RetryConfig bounds a retried operation. Delays start at BaseDelay and
// double after each failure up to MaxDelay (2s when zero).
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func (c RetryConfig) delay(failures int) time.Duration {
	limit := c.MaxDelay
	if limit <= 0 {
		limit = 2 * time.Second
	}
	d := c.BaseDelay
	for range failures - 1 {
		if d >= limit {
			break
		}
		d *= 2
	}
	return min(d, limit)
}

// retryWithBackoff runs fn until it succeeds, the attempts run out or ctx
// ends. Only infrastructure failures and unclassified errors are retried.
// When ctx ends during a backoff the error of the last attempt is kept.
func retryWithBackoff(ctx context.Context, cfg RetryConfig, fn func() error) error {
	if cfg.MaxAttempts < 1 {
		return errNoAttempts
	}
	for n := 1; ; n++ {
		err := fn()
		switch {
		case err == nil:
			return nil
		case n == cfg.MaxAttempts:
			return err
		}
		var ce *ClassifiedError
		if errors.As(err, &ce) && ce.Category != ErrCatInfrastructure {
			return err
		}
		if serr := contextSleep(ctx, cfg.delay(n)); serr != nil {
			return fmt.Errorf("%w (last attempt: %w)", serr, err)
		}
	}
}

// openWithRetry opens path, waiting for a device node that udev has not
// created yet.
func openWithRetry(ctx context.Context, attempts int, path string, opts ...chardev.Option) (*chardev.Handle, error) {
	var h *chardev.Handle
	err := retryWithBackoff(ctx, RetryConfig{
		MaxAttempts: attempts,
		BaseDelay:   50 * time.Millisecond,
		MaxDelay:    500 * time.Millisecond,
	}, func() (err error) {
		h, err = chardev.Open(path, opts...)
		return classify(err)
	})
	return h, err
}

// contextSleep returns ctx.Err() if ctx ends before d has passed.
func contextSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
