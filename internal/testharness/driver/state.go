package driver

import (
	"time"

	"github.com/kmodtest/kmodfcntl-go/pkg/chardev"
)

// Producing is the driver's belief about the device's producing state.
// The device offers no query, so the belief only changes when a control
// command is accepted.
type Producing uint8

const (
	// ProducingInit means no control command has been accepted yet; the
	// device may be producing or paused.
	ProducingInit Producing = iota
	ProducingPaused
	ProducingActive
)

// String returns the state name.
func (p Producing) String() string {
	switch p {
	case ProducingInit:
		return "init"
	case ProducingPaused:
		return "paused"
	case ProducingActive:
		return "active"
	default:
		return "unknown"
	}
}

// State is the believed device state combined with the handle's read mode.
type State struct {
	Producing Producing
	Mode      chardev.ReadMode
}

// String returns e.g. "active/blocking".
func (s State) String() string {
	return s.Producing.String() + "/" + s.Mode.String()
}

// Class is the expected outcome class of a read.
type Class uint8

const (
	ClassData Class = iota
	ClassWouldBlock
)

// String returns the class name used in scenarios.
func (c Class) String() string {
	if c == ClassWouldBlock {
		return "would_block"
	}
	return "data"
}

// ReadOutcome is the result of a read that did not fail.
type ReadOutcome struct {
	Class Class
	// Data holds the bytes for ClassData.
	Data []byte
	// Started and Finished bracket the call.
	Started  time.Time
	Finished time.Time
}

// Wait returns how long the read was suspended.
func (o ReadOutcome) Wait() time.Duration {
	return o.Finished.Sub(o.Started)
}

// HangResult is the result of ProbeHang.
type HangResult struct {
	// Hung reports that the read was still pending when the window closed.
	Hung bool
	// Released reports that the read completed after the release action.
	Released bool
	// Data is what the read eventually returned.
	Data []byte
	// Waited is the total time the read was pending.
	Waited time.Duration
	// AfterRelease is the time between the release and the read returning.
	AfterRelease time.Duration
}
