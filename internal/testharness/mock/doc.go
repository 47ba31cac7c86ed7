// Package mock provides an in-process simulation of the kmod_fcntl device.
//
// The simulated device mirrors the kernel module: a producer stores one
// message byte per interval into a single-slot mailbox, and only if the slot
// is empty; a blocking read waits for the slot to fill, a non-blocking read
// fails with EAGAIN on an empty slot, and a zero-length read fails with
// EINVAL. On top of that it implements the pause control command the
// harness exercises.
//
// Files returned by Device.Open satisfy chardev.File and report failures as
// unix.Errno values, so handle code runs unchanged against the simulation.
package mock
