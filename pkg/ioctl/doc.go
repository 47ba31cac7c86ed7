// Package ioctl encodes the control commands understood by the kmod_fcntl
// character device.
//
// Request numbers follow the generic Linux layout used by the _IOC family of
// macros:
//
//	bits  0-7   command number
//	bits  8-15  command type (driver family tag)
//	bits 16-29  argument size in bytes
//	bits 30-31  direction (none, write, read)
//
// The device exposes a single command, PauseProducing, built as
// IOW('L', 0x25, sizeof(int)). Its argument is passed by value: zero resumes
// production, any other value pauses it.
package ioctl
