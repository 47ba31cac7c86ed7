package driver

import "errors"

var (
	// ErrContractViolation is returned when the device behaves in a way
	// its read contract rules out, such as a blocking read failing with
	// would-block. It is never retried.
	ErrContractViolation = errors.New("device contract violation")

	// ErrWedged is returned while a blocking read abandoned by an earlier
	// operation is still pending on the descriptor.
	ErrWedged = errors.New("driver wedged by a pending blocking read")

	// ErrNotBlocking is returned by ProbeHang when the handle is in
	// non-blocking mode.
	ErrNotBlocking = errors.New("hang probe requires blocking mode")

	// ErrNotReleased is returned by ProbeHang when the read stays pending
	// after the release action.
	ErrNotReleased = errors.New("blocking read was not released")
)
