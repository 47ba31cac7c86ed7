package chardev

import "sync/atomic"

// Metrics contains atomic counters for device handles.
// Fields can back a prometheus CounterFunc directly.
type Metrics struct {
	// OpenCount is the number of successful opens.
	OpenCount atomic.Uint64
	// OpenErrCount is the number of failed opens.
	OpenErrCount atomic.Uint64

	// ReadCount is the number of completed ReadExact calls.
	ReadCount atomic.Uint64
	// ReadBytes is the number of bytes returned to callers.
	ReadBytes atomic.Uint64
	// WouldBlockCount is the number of reads that found no data.
	WouldBlockCount atomic.Uint64
	// ReadErrCount is the number of reads that failed for any other reason.
	ReadErrCount atomic.Uint64

	// ControlCount is the number of control commands accepted.
	ControlCount atomic.Uint64
	// ControlErrCount is the number of control commands refused.
	ControlErrCount atomic.Uint64

	// ModeSwitchCount is the number of read mode changes written to the device.
	ModeSwitchCount atomic.Uint64
	// ModeErrCount is the number of failed read mode changes.
	ModeErrCount atomic.Uint64

	// InflightReads is the number of reads currently inside read(2).
	InflightReads atomic.Int64
}

func (m *Metrics) incOpen()       { m.OpenCount.Add(1) }
func (m *Metrics) incOpenErr()    { m.OpenErrCount.Add(1) }
func (m *Metrics) incWouldBlock() { m.WouldBlockCount.Add(1) }
func (m *Metrics) incReadErr()    { m.ReadErrCount.Add(1) }
func (m *Metrics) incControl()    { m.ControlCount.Add(1) }
func (m *Metrics) incControlErr() { m.ControlErrCount.Add(1) }
func (m *Metrics) incModeSwitch() { m.ModeSwitchCount.Add(1) }
func (m *Metrics) incModeErr()    { m.ModeErrCount.Add(1) }

func (m *Metrics) addRead(n int) {
	m.ReadCount.Add(1)
	m.ReadBytes.Add(uint64(n))
}
