package chardev

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Sentinel errors. Typed errors below match them with errors.Is according to
// their Kind.
var (
	ErrNotFound         = errors.New("chardev: device not found")
	ErrPermissionDenied = errors.New("chardev: permission denied")
	ErrWouldBlock       = errors.New("chardev: read would block")
	ErrClosed           = errors.New("chardev: handle closed")
	ErrInvalidHandle    = errors.New("chardev: invalid handle")
	ErrDeviceRejected   = errors.New("chardev: device rejected command")
	ErrUnsupported      = errors.New("chardev: command not supported by device")

	// ErrInvalidLength is wrapped by ReadError when asked for zero or a
	// negative number of bytes.
	ErrInvalidLength = errors.New("chardev: read length must be positive")
	// ErrUnsupportedPlatform is returned by the default opener on systems
	// without the Linux ioctl layout.
	ErrUnsupportedPlatform = errors.New("chardev: unsupported platform")
)

// OpenErrorKind classifies a failure to open the device.
type OpenErrorKind uint8

const (
	OpenOther OpenErrorKind = iota
	OpenNotFound
	OpenPermissionDenied
)

// String returns the kind name.
func (k OpenErrorKind) String() string {
	switch k {
	case OpenNotFound:
		return "not_found"
	case OpenPermissionDenied:
		return "permission_denied"
	default:
		return "other"
	}
}

// OpenError reports a failure to open the device node.
type OpenError struct {
	Path string
	Kind OpenErrorKind
	Err  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("chardev: open %s: %s: %v", e.Path, e.Kind, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// Is matches the sentinel for the error kind.
func (e *OpenError) Is(target error) bool {
	switch e.Kind {
	case OpenNotFound:
		return target == ErrNotFound
	case OpenPermissionDenied:
		return target == ErrPermissionDenied
	}
	return false
}

// ReadErrorKind classifies a failed read.
type ReadErrorKind uint8

const (
	ReadOther ReadErrorKind = iota
	ReadWouldBlock
	ReadClosed
)

// String returns the kind name.
func (k ReadErrorKind) String() string {
	switch k {
	case ReadWouldBlock:
		return "would_block"
	case ReadClosed:
		return "closed"
	default:
		return "other"
	}
}

// ReadError reports a read that did not return the requested bytes.
type ReadError struct {
	Kind ReadErrorKind
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("chardev: read: %s: %v", e.Kind, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// Is matches the sentinel for the error kind.
func (e *ReadError) Is(target error) bool {
	switch e.Kind {
	case ReadWouldBlock:
		return target == ErrWouldBlock
	case ReadClosed:
		return target == ErrClosed
	}
	return false
}

// ControlErrorKind classifies a failed control command.
type ControlErrorKind uint8

const (
	ControlDeviceRejected ControlErrorKind = iota
	ControlInvalidHandle
	ControlUnsupported
)

// String returns the kind name.
func (k ControlErrorKind) String() string {
	switch k {
	case ControlInvalidHandle:
		return "invalid_handle"
	case ControlUnsupported:
		return "unsupported"
	default:
		return "device_rejected"
	}
}

// ControlError reports a control command the device did not accept.
type ControlError struct {
	Kind ControlErrorKind
	Err  error
}

func (e *ControlError) Error() string {
	return fmt.Sprintf("chardev: control: %s: %v", e.Kind, e.Err)
}

func (e *ControlError) Unwrap() error { return e.Err }

// Is matches the sentinel for the error kind.
func (e *ControlError) Is(target error) bool {
	switch e.Kind {
	case ControlInvalidHandle:
		return target == ErrInvalidHandle
	case ControlUnsupported:
		return target == ErrUnsupported
	case ControlDeviceRejected:
		return target == ErrDeviceRejected
	}
	return false
}

// ModeErrorKind classifies a failed read mode change.
type ModeErrorKind uint8

const (
	ModeOther ModeErrorKind = iota
	ModeInvalidHandle
)

// String returns the kind name.
func (k ModeErrorKind) String() string {
	if k == ModeInvalidHandle {
		return "invalid_handle"
	}
	return "other"
}

// ModeError reports a read mode change that could not be applied.
type ModeError struct {
	Kind ModeErrorKind
	Err  error
}

func (e *ModeError) Error() string {
	return fmt.Sprintf("chardev: set mode: %s: %v", e.Kind, e.Err)
}

func (e *ModeError) Unwrap() error { return e.Err }

// Is matches the sentinel for the error kind.
func (e *ModeError) Is(target error) bool {
	return e.Kind == ModeInvalidHandle && target == ErrInvalidHandle
}

func classifyOpen(path string, err error) *OpenError {
	kind := OpenOther
	switch {
	case errors.Is(err, unix.ENOENT), errors.Is(err, unix.ENODEV), errors.Is(err, unix.ENXIO):
		kind = OpenNotFound
	case errors.Is(err, unix.EACCES), errors.Is(err, unix.EPERM):
		kind = OpenPermissionDenied
	}
	return &OpenError{Path: path, Kind: kind, Err: err}
}

func classifyRead(err error) *ReadError {
	switch {
	case errors.Is(err, unix.EAGAIN):
		return &ReadError{Kind: ReadWouldBlock, Err: err}
	case errors.Is(err, unix.EBADF):
		return &ReadError{Kind: ReadClosed, Err: err}
	}
	return &ReadError{Kind: ReadOther, Err: err}
}

func classifyControl(err error) *ControlError {
	switch {
	case errors.Is(err, unix.EBADF):
		return &ControlError{Kind: ControlInvalidHandle, Err: err}
	case errors.Is(err, unix.ENOTTY), errors.Is(err, unix.ENOSYS), errors.Is(err, unix.EOPNOTSUPP):
		return &ControlError{Kind: ControlUnsupported, Err: err}
	}
	return &ControlError{Kind: ControlDeviceRejected, Err: err}
}

func classifyMode(err error) *ModeError {
	if errors.Is(err, unix.EBADF) {
		return &ModeError{Kind: ModeInvalidHandle, Err: err}
	}
	return &ModeError{Kind: ModeOther, Err: err}
}

// Errno extracts the errno value carried by err, if any.
func Errno(err error) (int, bool) {
	var errno unix.Errno
	if errors.As(err, &errno) {
		return int(errno), true
	}
	return 0, false
}

// ErrorKind returns the kind name of a chardev error ("would_block",
// "closed", "unsupported", ...), or "other" for foreign errors.
func ErrorKind(err error) string {
	var (
		oerr *OpenError
		rerr *ReadError
		cerr *ControlError
		merr *ModeError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &rerr):
		return rerr.Kind.String()
	case errors.As(err, &cerr):
		return cerr.Kind.String()
	case errors.As(err, &merr):
		return merr.Kind.String()
	case errors.As(err, &oerr):
		return oerr.Kind.String()
	}
	return "other"
}
