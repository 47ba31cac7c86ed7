package runner

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/kmodtest/kmodfcntl-go/internal/testharness/driver"
	"github.com/kmodtest/kmodfcntl-go/pkg/chardev"
)

func TestCategories(t *testing.T) {
	base := errors.New("ioctl failed")
	tests := []struct {
		err  error
		want ErrorCategory
		msg  string
	}{
		{Infrastructure(base), ErrCatInfrastructure, "infrastructure: ioctl failed"},
		{Device(base), ErrCatDevice, "device: ioctl failed"},
		{Contract(base), ErrCatContract, "contract: ioctl failed"},
		{fmt.Errorf("step 3: %w", Device(base)), ErrCatDevice, "step 3: device: ioctl failed"},
		{base, ErrCatContract, "ioctl failed"},
	}
	for _, tt := range tests {
		if got := Category(tt.err); got != tt.want {
			t.Errorf("Category(%v) = %v, want %v", tt.err, got, tt.want)
		}
		if tt.err.Error() != tt.msg {
			t.Errorf("Error() = %q, want %q", tt.err.Error(), tt.msg)
		}
		if !errors.Is(tt.err, base) {
			t.Errorf("%v does not wrap the cause", tt.err)
		}
	}
	if ErrorCategory(7).String() != "unknown" {
		t.Error("out of range category should print as unknown")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCategory
	}{
		{"contract violation", fmt.Errorf("read: %w", driver.ErrContractViolation), ErrCatContract},
		{"not released", fmt.Errorf("%w: %w", driver.ErrNotReleased, driver.ErrWedged), ErrCatContract},
		{"wedged", driver.ErrWedged, ErrCatInfrastructure},
		{"deadline", context.DeadlineExceeded, ErrCatInfrastructure},
		{"missing node", &chardev.OpenError{Kind: chardev.OpenNotFound, Err: chardev.ErrNotFound}, ErrCatInfrastructure},
		{"unsupported control", &chardev.ControlError{Kind: chardev.ControlUnsupported, Err: chardev.ErrUnsupported}, ErrCatDevice},
		{"closed read", &chardev.ReadError{Kind: chardev.ReadClosed, Err: chardev.ErrClosed}, ErrCatDevice},
		{"already classified", Infrastructure(errors.New("x")), ErrCatInfrastructure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Category(classify(tt.err)); got != tt.want {
				t.Errorf("Category(classify(%v)) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
	if classify(nil) != nil {
		t.Error("classify(nil) should be nil")
	}
}
