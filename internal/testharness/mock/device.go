package mock

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sys/unix"

	"github.com/kmodtest/kmodfcntl-go/pkg/chardev"
)

// DefaultInterval is the production period of the reference module.
const DefaultInterval = 2 * time.Second

// DefaultMessage is the byte the reference module produces.
const DefaultMessage byte = 'M'

// DeviceConfig configures a simulated device.
type DeviceConfig struct {
	// Path the device answers to. Empty accepts any path.
	Path string

	// Interval between production attempts. Zero disables the producer
	// goroutine; messages then only appear through Produce.
	Interval time.Duration

	// Message is the byte produced. Defaults to DefaultMessage.
	Message byte

	// StartPaused starts the producer in the paused state.
	StartPaused bool

	// NoControl makes the device reject the pause command with ENOTTY, like a
	// module built without an ioctl handler.
	NoControl bool

	// OpenFlags are extra status flags every new file starts with.
	OpenFlags int

	// Logger receives the device's own log lines. Nil discards them.
	Logger *slog.Logger
}

// Stats are the device's counters.
type Stats struct {
	Produced uint64
	Skipped  uint64
	Consumed uint64
	Controls uint64
}

// Device is a simulated kmod_fcntl device.
type Device struct {
	cfg    DeviceConfig
	logger *slog.Logger

	mu      sync.Mutex
	message byte
	paused  bool
	// ready is closed while a message is waiting and replaced once it is
	// consumed.
	ready   chan struct{}
	openErr error

	produced atomic.Uint64
	skipped  atomic.Uint64
	consumed atomic.Uint64
	controls atomic.Uint64

	files  *xsync.MapOf[uint64, *File]
	nextFD atomic.Uint64

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewDevice creates a simulated device. The producer does not run until
// Start is called.
func NewDevice(cfg DeviceConfig) *Device {
	if cfg.Message == 0 {
		cfg.Message = DefaultMessage
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Device{
		cfg:    cfg,
		logger: logger.With("component", "kmod_fcntl-sim"),
		paused: cfg.StartPaused,
		ready:  make(chan struct{}),
		files:  xsync.NewMapOf[uint64, *File](),
	}
}

// Interval returns the configured production interval.
func (d *Device) Interval() time.Duration { return d.cfg.Interval }

// Start runs the producer until ctx is done or Stop is called.
func (d *Device) Start(ctx context.Context) error {
	if d.cfg.Interval <= 0 {
		return ErrNoInterval
	}

	d.runMu.Lock()
	defer d.runMu.Unlock()
	if d.cancel != nil {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})
	go d.produceLoop(ctx, d.done)

	d.logger.Info("starting producing messages", "interval", d.cfg.Interval)
	return nil
}

// Stop halts the producer and waits for it to exit. Open files stay usable.
func (d *Device) Stop() {
	d.runMu.Lock()
	cancel, done := d.cancel, d.done
	d.cancel, d.done = nil, nil
	d.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (d *Device) produceLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Produce()
		}
	}
}

// Produce runs one production attempt. It reports whether a message was
// stored; it is not when production is paused or the previous message has
// not been read yet.
func (d *Device) Produce() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.paused {
		return false
	}
	if d.message != 0 {
		d.skipped.Add(1)
		d.logger.Debug("previous message not read, not producing")
		return false
	}
	d.message = d.cfg.Message
	close(d.ready)
	d.produced.Add(1)
	d.logger.Debug("produced message")
	return true
}

// take consumes the waiting message. It returns 0 when the slot is empty,
// along with the channel that is closed once it fills.
func (d *Device) take() (byte, <-chan struct{}) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.message == 0 {
		return 0, d.ready
	}
	msg := d.message
	d.message = 0
	d.ready = make(chan struct{})
	d.consumed.Add(1)
	return msg, nil
}

func (d *Device) setPaused(paused bool) {
	d.mu.Lock()
	d.paused = paused
	d.mu.Unlock()
	d.controls.Add(1)
	d.logger.Debug("producer control", "paused", paused)
}

// Paused reports whether production is paused.
func (d *Device) Paused() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.paused
}

// Pending reports whether a message is waiting to be read.
func (d *Device) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.message != 0
}

// Stats returns a snapshot of the device counters.
func (d *Device) Stats() Stats {
	return Stats{
		Produced: d.produced.Load(),
		Skipped:  d.skipped.Load(),
		Consumed: d.consumed.Load(),
		Controls: d.controls.Load(),
	}
}

// OpenFiles returns the number of files currently open on the device.
func (d *Device) OpenFiles() int { return d.files.Size() }

// FailOpen makes subsequent opens fail with errno (e.g. unix.EACCES).
// Pass 0 to restore normal behaviour.
func (d *Device) FailOpen(errno unix.Errno) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if errno == 0 {
		d.openErr = nil
		return
	}
	d.openErr = errno
}

// Open opens a file on the device. It satisfies chardev.Opener.
func (d *Device) Open(path string) (chardev.File, error) {
	if d.cfg.Path != "" && path != d.cfg.Path {
		return nil, unix.ENOENT
	}
	d.mu.Lock()
	openErr := d.openErr
	d.mu.Unlock()
	if openErr != nil {
		return nil, openErr
	}

	f := &File{
		dev:    d,
		fd:     d.nextFD.Add(1),
		closed: make(chan struct{}),
	}
	f.flags.Store(int64(unix.O_RDONLY | d.cfg.OpenFlags))
	d.files.Store(f.fd, f)
	return f, nil
}

// Opener returns d.Open as a chardev.Opener.
func (d *Device) Opener() chardev.Opener { return d.Open }
