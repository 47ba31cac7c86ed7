package chardev

import "github.com/kmodtest/kmodfcntl-go/pkg/ioctl"

// DefaultPath is where the kmod_fcntl misc device registers its node.
const DefaultPath = "/dev/kmod_fcntl"

// File is an open descriptor on the device. Errors are returned as errno
// values (unix.Errno) so the Handle can classify them.
type File interface {
	// Read issues one read(2). A device read returns at most one message.
	Read(p []byte) (int, error)

	// Ioctl issues ioctl(2) with the argument passed by value.
	Ioctl(req ioctl.Request, arg uint32) error

	// StatusFlags returns the file status flags (F_GETFL).
	StatusFlags() (int, error)

	// SetStatusFlags replaces the file status flags (F_SETFL).
	SetStatusFlags(flags int) error

	Close() error
}

// Opener opens the device node at path.
type Opener func(path string) (File, error)
