package mock

import "errors"

// Mock package errors.
var (
	// ErrAlreadyStarted is returned when Start is called on a running device.
	ErrAlreadyStarted = errors.New("mock: device already started")

	// ErrNoInterval is returned when Start is called without a production
	// interval; such a device only produces through Produce.
	ErrNoInterval = errors.New("mock: no production interval configured")
)
