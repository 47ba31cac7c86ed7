// Package chardev owns a descriptor on the kmod_fcntl character device and
// exposes the three things a client can do with it: read messages, send the
// producer control command and switch between blocking and non-blocking
// reads.
//
// A Handle never queries the device for its producing state; it only
// reports what the syscalls return, classified into the error kinds defined
// in errors.go. Tests and the simulator substitute the descriptor through
// WithOpener.
package chardev
