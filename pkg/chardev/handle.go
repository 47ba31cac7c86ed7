package chardev

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/kmodtest/kmodfcntl-go/pkg/ioctl"
	"github.com/kmodtest/kmodfcntl-go/pkg/log"
)

// ReadMode is the blocking behaviour of reads on a handle.
type ReadMode uint32

const (
	// ModeBlocking suspends reads until data is available.
	ModeBlocking ReadMode = iota
	// ModeNonBlocking makes reads fail with ErrWouldBlock when no data is
	// available.
	ModeNonBlocking
)

// String returns the mode name.
func (m ReadMode) String() string {
	switch m {
	case ModeBlocking:
		return "blocking"
	case ModeNonBlocking:
		return "non_blocking"
	default:
		return "unknown"
	}
}

// Handle is an open descriptor on the device.
//
// Operations are meant to be issued sequentially by one owner. Close and
// the accessors may be called from another goroutine while a blocking read
// is in progress.
type Handle struct {
	id      string
	path    string
	file    File
	logger  *slog.Logger
	trace   log.Logger
	metrics *Metrics
	now     func() time.Time

	closed atomic.Bool
	mode   atomic.Uint32
	seq    atomic.Uint64

	readMu sync.Mutex
	// pending holds bytes taken from the descriptor but not yet returned.
	pending []byte
}

// Open opens the device at path (DefaultPath when empty).
func Open(path string, opts ...Option) (*Handle, error) {
	cfg := defaultHandleConfig()
	for _, o := range opts {
		o.apply(cfg)
	}
	if cfg.metrics == nil {
		cfg.metrics = &Metrics{}
	}
	if path == "" {
		path = DefaultPath
	}

	h := &Handle{
		id:      uuid.NewString(),
		path:    path,
		logger:  cfg.logger,
		trace:   cfg.trace,
		metrics: cfg.metrics,
		now:     cfg.now,
	}

	t := h.begin(log.OperationOpen, nil)
	f, err := cfg.opener(path)
	if err != nil {
		oerr := classifyOpen(path, err)
		h.metrics.incOpenErr()
		t.finish(log.OutcomeError, oerr, nil)
		h.logger.Warn("device open failed", "path", path, "kind", oerr.Kind.String(), "error", err)
		return nil, oerr
	}
	h.file = f

	// A descriptor opened without O_NONBLOCK is blocking; trust the flags if
	// the opener handed over something else.
	if flags, err := f.StatusFlags(); err == nil && flags&unix.O_NONBLOCK != 0 {
		h.mode.Store(uint32(ModeNonBlocking))
	}

	h.metrics.incOpen()
	t.finish(log.OutcomeOK, nil, nil)
	h.logger.Info("device opened", "path", path, "handle", h.id, "mode", h.Mode().String())
	return h, nil
}

// ID returns the handle's unique identifier.
func (h *Handle) ID() string { return h.id }

// Path returns the device path.
func (h *Handle) Path() string { return h.path }

// Mode returns the current read mode.
func (h *Handle) Mode() ReadMode { return ReadMode(h.mode.Load()) }

// Metrics returns the counters the handle updates.
func (h *Handle) Metrics() *Metrics { return h.metrics }

// Closed reports whether Close has been called.
func (h *Handle) Closed() bool { return h.closed.Load() }

// Retained returns the number of bytes read from the descriptor that will be
// handed out by the next ReadExact.
func (h *Handle) Retained() int {
	h.readMu.Lock()
	defer h.readMu.Unlock()
	return len(h.pending)
}

// ReadExact returns exactly n bytes.
//
// In blocking mode it waits until all n bytes have arrived. In non-blocking
// mode it fails with a ReadError of kind ReadWouldBlock as soon as the device
// has nothing more to give. Either way a call never returns fewer than n
// bytes; anything already taken from the descriptor is kept for the next
// call.
func (h *Handle) ReadExact(n int) ([]byte, error) {
	blocking := h.Mode() == ModeBlocking
	t := h.begin(log.OperationRead, func(e *log.Event) {
		e.Read = &log.ReadEvent{Requested: n, Blocking: blocking}
	})

	data, retained, err := h.readExact(n)

	outcome := log.OutcomeOK
	switch {
	case err == nil:
		h.metrics.addRead(len(data))
	case errors.Is(err, ErrWouldBlock):
		outcome = log.OutcomeWouldBlock
		h.metrics.incWouldBlock()
	default:
		outcome = log.OutcomeError
		h.metrics.incReadErr()
	}
	t.finish(outcome, err, func(e *log.Event) {
		e.Read = &log.ReadEvent{Requested: n, Blocking: blocking, Data: data, Retained: retained}
	})
	return data, err
}

func (h *Handle) readExact(n int) ([]byte, int, error) {
	if n <= 0 {
		return nil, 0, &ReadError{Kind: ReadOther, Err: ErrInvalidLength}
	}
	if h.closed.Load() {
		return nil, 0, &ReadError{Kind: ReadClosed, Err: ErrClosed}
	}

	h.readMu.Lock()
	defer h.readMu.Unlock()

	buf := make([]byte, 0, n)
	take := min(n, len(h.pending))
	buf = append(buf, h.pending[:take]...)
	h.pending = h.pending[take:]
	if len(h.pending) == 0 {
		h.pending = nil
	}

	chunk := make([]byte, n)
	for len(buf) < n {
		h.metrics.InflightReads.Add(1)
		m, err := h.file.Read(chunk[:n-len(buf)])
		h.metrics.InflightReads.Add(-1)

		if m > 0 {
			buf = append(buf, chunk[:m]...)
		}
		if err == nil && m == 0 {
			err = io.ErrUnexpectedEOF
		}
		if err != nil {
			if len(buf) > 0 {
				h.pending = buf
			}
			switch {
			case h.closed.Load():
				return nil, len(h.pending), &ReadError{Kind: ReadClosed, Err: err}
			case errors.Is(err, io.ErrUnexpectedEOF):
				return nil, len(h.pending), &ReadError{Kind: ReadOther, Err: err}
			}
			return nil, len(h.pending), classifyRead(err)
		}
	}
	return buf, len(h.pending), nil
}

// SendPauseControl issues the producer control command with a raw argument:
// zero resumes production, any other value pauses it. It returns as soon as
// the driver has accepted the value.
func (h *Handle) SendPauseControl(value uint32) error {
	cmd := ioctl.CommandFromArg(value)
	payload := func(e *log.Event) {
		e.Control = &log.ControlEvent{Request: uint32(ioctl.PauseProducing), Arg: value, Command: cmd.String()}
	}
	t := h.begin(log.OperationControl, payload)

	var err error
	if h.closed.Load() {
		err = &ControlError{Kind: ControlInvalidHandle, Err: ErrClosed}
	} else if ierr := h.file.Ioctl(ioctl.PauseProducing, value); ierr != nil {
		err = classifyControl(ierr)
	}

	if err != nil {
		h.metrics.incControlErr()
		t.finish(log.OutcomeError, err, payload)
		h.logger.Warn("control command failed", "handle", h.id, "command", cmd.String(), "error", err)
		return err
	}
	h.metrics.incControl()
	t.finish(log.OutcomeOK, nil, payload)
	h.logger.Debug("control command sent", "handle", h.id, "command", cmd.String(), "arg", value)
	return nil
}

// SetProducing sends cmd to the device.
func (h *Handle) SetProducing(cmd ioctl.Command) error {
	return h.SendPauseControl(cmd.Arg())
}

// SetBlocking switches the read mode. Only O_NONBLOCK is touched; the other
// status flags are read back and preserved. Requesting the current mode does
// not write to the device.
func (h *Handle) SetBlocking(enabled bool) error {
	t := h.begin(log.OperationSetMode, func(e *log.Event) {
		e.Mode = &log.ModeEvent{Blocking: enabled}
	})

	old, flags, err := h.setBlocking(enabled)
	changed := err == nil && old != flags
	fill := func(e *log.Event) {
		e.Mode = &log.ModeEvent{Blocking: enabled, OldFlags: old, NewFlags: flags, Changed: changed}
	}
	if err != nil {
		h.metrics.incModeErr()
		t.finish(log.OutcomeError, err, fill)
		return err
	}
	if changed {
		h.metrics.incModeSwitch()
	}
	t.finish(log.OutcomeOK, nil, fill)
	h.logger.Debug("read mode set", "handle", h.id, "mode", h.Mode().String(), "changed", changed)
	return nil
}

func (h *Handle) setBlocking(enabled bool) (int, int, error) {
	if h.closed.Load() {
		return 0, 0, &ModeError{Kind: ModeInvalidHandle, Err: ErrClosed}
	}
	old, err := h.file.StatusFlags()
	if err != nil {
		return 0, 0, classifyMode(err)
	}

	flags := old | unix.O_NONBLOCK
	mode := ModeNonBlocking
	if enabled {
		flags = old &^ unix.O_NONBLOCK
		mode = ModeBlocking
	}
	if flags != old {
		if err := h.file.SetStatusFlags(flags); err != nil {
			return old, old, classifyMode(err)
		}
	}
	h.mode.Store(uint32(mode))
	return old, flags, nil
}

// Close releases the descriptor. Calling Close again is a no-op.
func (h *Handle) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	t := h.begin(log.OperationClose, nil)
	err := h.file.Close()
	if err != nil {
		t.finish(log.OutcomeError, err, nil)
		return err
	}
	t.finish(log.OutcomeOK, nil, nil)
	h.logger.Info("device closed", "handle", h.id)
	return nil
}

// --- trace ---

type opTrace struct {
	h     *Handle
	op    log.Operation
	seq   uint64
	start time.Time
}

func (h *Handle) begin(op log.Operation, fill func(*log.Event)) *opTrace {
	t := &opTrace{h: h, op: op, seq: h.seq.Add(1), start: h.now()}
	e := log.Event{
		Timestamp:  t.start,
		HandleID:   h.id,
		DevicePath: h.path,
		Operation:  op,
		Phase:      log.PhaseStarted,
		Seq:        t.seq,
	}
	if fill != nil {
		fill(&e)
	}
	h.trace.Log(e)
	return t
}

func (t *opTrace) finish(outcome log.Outcome, err error, fill func(*log.Event)) {
	end := t.h.now()
	e := log.Event{
		Timestamp:  end,
		HandleID:   t.h.id,
		DevicePath: t.h.path,
		Operation:  t.op,
		Phase:      log.PhaseFinished,
		Outcome:    outcome,
		Seq:        t.seq,
		Duration:   end.Sub(t.start),
	}
	if fill != nil {
		fill(&e)
	}
	if err != nil {
		e.Error = &log.ErrorEventData{Kind: ErrorKind(err), Message: err.Error()}
		if n, ok := Errno(err); ok {
			e.Error.Errno = &n
		}
	}
	t.h.trace.Log(e)
}
