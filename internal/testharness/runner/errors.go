package runner

import (
	"context"
	"errors"

	"github.com/kmodtest/kmodfcntl-go/internal/testharness/driver"
	"github.com/kmodtest/kmodfcntl-go/pkg/chardev"
)

// ErrorCategory says who is to blame for a failed step. Only
// infrastructure failures are worth retrying.
type ErrorCategory int

const (
	// ErrCatInfrastructure: the harness could not do its job, e.g. the node
	// is missing, a deadline passed or the driver is wedged.
	ErrCatInfrastructure ErrorCategory = iota
	// ErrCatDevice: the device rejected or failed the operation.
	ErrCatDevice
	// ErrCatContract: the device did something its read contract rules out.
	ErrCatContract
)

var categoryNames = [...]string{"infrastructure", "device", "contract"}

func (c ErrorCategory) String() string {
	if c < 0 || int(c) >= len(categoryNames) {
		return "unknown"
	}
	return categoryNames[c]
}

// ClassifiedError tags Err with the category it was filed under.
type ClassifiedError struct {
	Category ErrorCategory
	Err      error
}

func (e *ClassifiedError) Error() string { return e.Category.String() + ": " + e.Err.Error() }
func (e *ClassifiedError) Unwrap() error { return e.Err }

func Infrastructure(err error) error { return &ClassifiedError{ErrCatInfrastructure, err} }
func Device(err error) error         { return &ClassifiedError{ErrCatDevice, err} }
func Contract(err error) error       { return &ClassifiedError{ErrCatContract, err} }

// Category returns the category err was filed under. An error nobody
// classified is treated as a contract violation.
func Category(err error) ErrorCategory {
	if ce := (*ClassifiedError)(nil); errors.As(err, &ce) {
		return ce.Category
	}
	return ErrCatContract
}

// classify files an error from the driver or the device handle. Errors
// already classified keep their category.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if ce := (*ClassifiedError)(nil); errors.As(err, &ce) {
		return err
	}
	switch {
	case errors.Is(err, driver.ErrContractViolation), errors.Is(err, driver.ErrNotReleased):
		return Contract(err)
	case errors.Is(err, driver.ErrWedged),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		errors.Is(err, chardev.ErrNotFound),
		errors.Is(err, chardev.ErrUnsupportedPlatform):
		return Infrastructure(err)
	}
	return Device(err)
}
