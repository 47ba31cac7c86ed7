package log

import "time"

// Event is one entry of the device trace. Every operation on a handle emits a
// STARTED event before the syscall and a FINISHED event after it returns, so
// an operation that never returns shows up as an unmatched STARTED.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// HandleID uniquely identifies the open handle (UUID).
	HandleID string `cbor:"2,keyasint"`

	// DevicePath is the path the handle was opened on.
	DevicePath string `cbor:"3,keyasint,omitempty"`

	// Operation performed on the handle.
	Operation Operation `cbor:"4,keyasint"`

	// Phase distinguishes the start of an operation from its completion.
	Phase Phase `cbor:"5,keyasint"`

	// Outcome of a FINISHED event.
	Outcome Outcome `cbor:"6,keyasint,omitempty"`

	// Seq is the per-handle sequence number of the operation. STARTED and
	// FINISHED events of the same operation share it.
	Seq uint64 `cbor:"7,keyasint,omitempty"`

	// Duration of the operation (FINISHED events only).
	Duration time.Duration `cbor:"8,keyasint,omitempty"`

	// Type-specific payload (at most one of these is set).
	Control *ControlEvent   `cbor:"10,keyasint,omitempty"`
	Mode    *ModeEvent      `cbor:"11,keyasint,omitempty"`
	Read    *ReadEvent      `cbor:"12,keyasint,omitempty"`
	State   *StateEvent     `cbor:"13,keyasint,omitempty"`
	Error   *ErrorEventData `cbor:"14,keyasint,omitempty"`
}

// Operation identifies what was done to the device.
type Operation uint8

const (
	// OperationOpen is opening the device node.
	OperationOpen Operation = 0
	// OperationControl is a producer control command.
	OperationControl Operation = 1
	// OperationSetMode is a read mode change.
	OperationSetMode Operation = 2
	// OperationRead is a read of one or more bytes.
	OperationRead Operation = 3
	// OperationClose is releasing the handle.
	OperationClose Operation = 4
	// OperationSleep is a driver pause between operations.
	OperationSleep Operation = 5
)

// String returns the operation name.
func (o Operation) String() string {
	switch o {
	case OperationOpen:
		return "OPEN"
	case OperationControl:
		return "CONTROL"
	case OperationSetMode:
		return "SET_MODE"
	case OperationRead:
		return "READ"
	case OperationClose:
		return "CLOSE"
	case OperationSleep:
		return "SLEEP"
	default:
		return "UNKNOWN"
	}
}

// Phase marks an event as the start or the end of an operation.
type Phase uint8

const (
	// PhaseStarted is emitted before the operation is issued.
	PhaseStarted Phase = 0
	// PhaseFinished is emitted after the operation returned.
	PhaseFinished Phase = 1
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseStarted:
		return "STARTED"
	case PhaseFinished:
		return "FINISHED"
	default:
		return "UNKNOWN"
	}
}

// Outcome classifies how an operation finished.
type Outcome uint8

const (
	// OutcomeNone is used for STARTED events.
	OutcomeNone Outcome = 0
	// OutcomeOK means the operation succeeded.
	OutcomeOK Outcome = 1
	// OutcomeWouldBlock means a non-blocking read found no data.
	OutcomeWouldBlock Outcome = 2
	// OutcomeError means the operation failed.
	OutcomeError Outcome = 3
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeNone:
		return "NONE"
	case OutcomeOK:
		return "OK"
	case OutcomeWouldBlock:
		return "WOULD_BLOCK"
	case OutcomeError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ControlEvent captures a producer control command.
type ControlEvent struct {
	// Request is the ioctl request number.
	Request uint32 `cbor:"1,keyasint"`

	// Arg is the value passed to the driver.
	Arg uint32 `cbor:"2,keyasint"`

	// Command is the symbolic command name ("resume", "pause").
	Command string `cbor:"3,keyasint,omitempty"`
}

// ModeEvent captures a read mode change.
type ModeEvent struct {
	// Blocking is the requested mode.
	Blocking bool `cbor:"1,keyasint"`

	// OldFlags are the file status flags before the change.
	OldFlags int `cbor:"2,keyasint"`

	// NewFlags are the file status flags after the change.
	NewFlags int `cbor:"3,keyasint"`

	// Changed is false when the mode already matched and nothing was written.
	Changed bool `cbor:"4,keyasint"`
}

// ReadEvent captures a read request and its result.
type ReadEvent struct {
	// Requested is the number of bytes asked for.
	Requested int `cbor:"1,keyasint"`

	// Blocking is the read mode at the time of the call.
	Blocking bool `cbor:"2,keyasint"`

	// Data holds the bytes returned (FINISHED events only).
	Data []byte `cbor:"3,keyasint,omitempty"`

	// Retained is the number of bytes kept back for a later call.
	Retained int `cbor:"4,keyasint,omitempty"`
}

// StateEvent captures a change of the driver's believed device state.
type StateEvent struct {
	// OldState before the change.
	OldState string `cbor:"1,keyasint"`

	// NewState after the change.
	NewState string `cbor:"2,keyasint"`

	// Reason for the change (optional).
	Reason string `cbor:"3,keyasint,omitempty"`
}

// ErrorEventData captures a failed operation.
type ErrorEventData struct {
	// Kind is the error class ("would_block", "closed", "unsupported", ...).
	Kind string `cbor:"1,keyasint"`

	// Message is the error text.
	Message string `cbor:"2,keyasint"`

	// Errno is the raw errno value, when the failure came from a syscall.
	Errno *int `cbor:"3,keyasint,omitempty"`
}
