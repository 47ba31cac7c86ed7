package mock

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/kmodtest/kmodfcntl-go/pkg/ioctl"
)

// File is an open file on a simulated device.
type File struct {
	dev   *Device
	fd    uint64
	flags atomic.Int64

	closeOnce sync.Once
	closed    chan struct{}
}

func (f *File) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// Read returns one message byte. Without O_NONBLOCK it waits for the
// producer; a file closed while waiting fails with EBADF.
func (f *File) Read(p []byte) (int, error) {
	if f.isClosed() {
		return 0, unix.EBADF
	}
	if len(p) == 0 {
		return 0, unix.EINVAL
	}

	for {
		block := f.flags.Load()&unix.O_NONBLOCK == 0
		msg, ready := f.dev.take()
		if msg != 0 {
			p[0] = msg
			return 1, nil
		}
		if !block {
			return 0, unix.EAGAIN
		}
		select {
		case <-ready:
		case <-f.closed:
			return 0, unix.EBADF
		}
	}
}

// Ioctl handles the pause command. Other requests fail with ENOTTY.
func (f *File) Ioctl(req ioctl.Request, arg uint32) error {
	if f.isClosed() {
		return unix.EBADF
	}
	if f.dev.cfg.NoControl || req != ioctl.PauseProducing {
		return unix.ENOTTY
	}
	f.dev.setPaused(ioctl.CommandFromArg(arg) == ioctl.CommandPause)
	return nil
}

// StatusFlags returns the file status flags.
func (f *File) StatusFlags() (int, error) {
	if f.isClosed() {
		return 0, unix.EBADF
	}
	return int(f.flags.Load()), nil
}

// SetStatusFlags replaces the file status flags.
func (f *File) SetStatusFlags(flags int) error {
	if f.isClosed() {
		return unix.EBADF
	}
	f.flags.Store(int64(flags))
	return nil
}

// Close releases the file and wakes a reader blocked on it.
func (f *File) Close() error {
	closed := false
	f.closeOnce.Do(func() {
		close(f.closed)
		f.dev.files.Delete(f.fd)
		closed = true
	})
	if !closed {
		return unix.EBADF
	}
	return nil
}
