//go:build linux

package chardev

import (
	"errors"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/kmodtest/kmodfcntl-go/pkg/ioctl"
)

// unixFile is a raw descriptor driven through x/sys/unix. It bypasses
// os.File so reads are issued directly instead of through the runtime
// poller, which would otherwise turn EAGAIN into a park.
type unixFile struct {
	fd     int
	closed atomic.Bool
	read   func(fd int, p []byte) (int, error)
}

// OpenFile opens path read-only, the way the device expects to be used.
func OpenFile(path string) (File, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, err
	}
	return &unixFile{fd: fd, read: unix.Read}, nil
}

// Read retries reads interrupted by a signal. The closed flag is checked
// before every attempt: once Close has run the descriptor number may
// already belong to another file.
func (f *unixFile) Read(p []byte) (int, error) {
	for {
		if f.closed.Load() {
			return 0, unix.EBADF
		}
		n, err := f.read(f.fd, p)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if n < 0 {
			n = 0
		}
		return n, err
	}
}

func (f *unixFile) Ioctl(req ioctl.Request, arg uint32) error {
	if f.closed.Load() {
		return unix.EBADF
	}
	return unix.IoctlSetInt(f.fd, uint(req), int(int32(arg)))
}

func (f *unixFile) StatusFlags() (int, error) {
	if f.closed.Load() {
		return 0, unix.EBADF
	}
	return unix.FcntlInt(uintptr(f.fd), unix.F_GETFL, 0)
}

func (f *unixFile) SetStatusFlags(flags int) error {
	if f.closed.Load() {
		return unix.EBADF
	}
	_, err := unix.FcntlInt(uintptr(f.fd), unix.F_SETFL, flags)
	return err
}

func (f *unixFile) Close() error {
	if !f.closed.CompareAndSwap(false, true) {
		return nil
	}
	return unix.Close(f.fd)
}
