// Package driver runs control commands, mode switches and reads against a
// device handle one at a time, tracking what it believes the device state
// to be and classifying every read outcome as expected or fatal.
//
// Each operation is announced before it is issued and reported after it
// returns:
//
//	--> Blocking read started #0
//	<-- Blocking read finished #0, result data "M"
//
// so a read that never returns shows up as a "started" line without its
// "finished" line.
package driver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kmodtest/kmodfcntl-go/pkg/chardev"
	"github.com/kmodtest/kmodfcntl-go/pkg/ioctl"
	"github.com/kmodtest/kmodfcntl-go/pkg/log"
)

// Device is the part of *chardev.Handle the driver uses.
type Device interface {
	ID() string
	Mode() chardev.ReadMode
	ReadExact(n int) ([]byte, error)
	SendPauseControl(value uint32) error
	SetBlocking(enabled bool) error
	Close() error
}

// Driver issues operations against a Device.
//
// Operations are meant to be called sequentially. A blocking read that
// outlives its context is abandoned, not cancelled: the call stays inside
// the device, and until it returns every further device operation fails
// with ErrWedged. Close is always allowed.
type Driver struct {
	dev Device
	cfg *config

	mu     sync.Mutex
	state  State
	counts map[string]int

	outMu  sync.Mutex
	wedged atomic.Bool
	// late receives what abandoned reads eventually returned.
	late chan []byte
}

type readResult struct {
	data     []byte
	err      error
	finished time.Time
}

// New creates a driver for dev. The producing state starts as
// ProducingInit; the read mode is taken from dev.
func New(dev Device, opts ...Option) *Driver {
	cfg := defaultConfig()
	for _, o := range opts {
		o.apply(cfg)
	}
	return &Driver{
		dev:    dev,
		cfg:    cfg,
		state:  State{Producing: ProducingInit, Mode: dev.Mode()},
		counts: make(map[string]int),
		late:   make(chan []byte, 16),
	}
}

// State returns the believed device state.
func (d *Driver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Wedged reports whether an abandoned blocking read is still pending.
func (d *Driver) Wedged() bool { return d.wedged.Load() }

// Late returns the channel that receives the data of abandoned reads once
// they return.
func (d *Driver) Late() <-chan []byte { return d.late }

func (d *Driver) usable() error {
	if d.wedged.Load() {
		return ErrWedged
	}
	return nil
}

// --- control ---

// Resume sends the resume command.
func (d *Driver) Resume() error { return d.Control(ioctl.CommandResume.Arg()) }

// Pause sends the pause command.
func (d *Driver) Pause() error { return d.Control(ioctl.CommandPause.Arg()) }

// Control sends the producer control command with a raw argument and, once
// the device accepts it, updates the believed producing state.
func (d *Driver) Control(value uint32) error {
	if err := d.usable(); err != nil {
		return err
	}

	cmd := ioctl.CommandFromArg(value)
	label := "Resume"
	if cmd == ioctl.CommandPause {
		label = "Pause"
		if value != ioctl.CommandPause.Arg() {
			label = fmt.Sprintf("Pause(%d)", value)
		}
	}

	i := d.started(label)
	if err := d.dev.SendPauseControl(value); err != nil {
		d.finished(label, i, "error: "+err.Error())
		return fmt.Errorf("%s: %w", label, err)
	}
	d.finished(label, i, "ok")

	next := ProducingActive
	if cmd == ioctl.CommandPause {
		next = ProducingPaused
	}
	d.transition(log.OperationControl, cmd.String(), func(s *State) { s.Producing = next })
	return nil
}

// --- read mode ---

// SetBlocking switches the handle's read mode.
func (d *Driver) SetBlocking(enabled bool) error {
	if err := d.usable(); err != nil {
		return err
	}

	label := "Set non-blocking"
	if enabled {
		label = "Set blocking"
	}
	i := d.started(label)
	if err := d.dev.SetBlocking(enabled); err != nil {
		d.finished(label, i, "error: "+err.Error())
		return fmt.Errorf("%s: %w", label, err)
	}
	d.finished(label, i, "ok")

	mode := d.dev.Mode()
	d.transition(log.OperationSetMode, mode.String(), func(s *State) { s.Mode = mode })
	return nil
}

// --- reads ---

func readLabel(mode chardev.ReadMode) string {
	if mode == chardev.ModeNonBlocking {
		return "Non-blocking read"
	}
	return "Blocking read"
}

// Read reads exactly n bytes in the handle's current mode.
//
// Would-block in non-blocking mode is an expected outcome and is returned
// as ClassWouldBlock with a nil error. Would-block in blocking mode wraps
// ErrContractViolation. Other read errors are returned as they are.
//
// A blocking read still pending when ctx is done is abandoned and the
// driver becomes wedged.
func (d *Driver) Read(ctx context.Context, n int) (ReadOutcome, error) {
	if err := d.usable(); err != nil {
		return ReadOutcome{}, err
	}

	mode := d.dev.Mode()
	label := readLabel(mode)
	i := d.started(label)
	out := ReadOutcome{Started: d.cfg.now()}

	var r readResult
	if mode == chardev.ModeNonBlocking {
		data, err := d.dev.ReadExact(n)
		r = readResult{data: data, err: err, finished: d.cfg.now()}
	} else {
		ch := d.startRead(n)
		select {
		case r = <-ch:
		case <-ctx.Done():
			d.abandon(label, i, out.Started, ch)
			return out, fmt.Errorf("%w: %s #%d still pending: %w", ErrWedged, label, i, ctx.Err())
		}
		if d.cfg.wait != nil {
			d.cfg.wait.Observe(r.finished.Sub(out.Started).Seconds())
		}
	}
	out.Finished = r.finished
	return d.classify(label, i, mode, out, r)
}

func (d *Driver) startRead(n int) <-chan readResult {
	ch := make(chan readResult, 1)
	go func() {
		data, err := d.dev.ReadExact(n)
		ch <- readResult{data: data, err: err, finished: d.cfg.now()}
	}()
	return ch
}

func (d *Driver) classify(label string, i int, mode chardev.ReadMode, out ReadOutcome, r readResult) (ReadOutcome, error) {
	switch {
	case r.err == nil:
		out.Class = ClassData
		out.Data = r.data
		d.finished(label, i, fmt.Sprintf("data %q", r.data))
		return out, nil

	case errors.Is(r.err, chardev.ErrWouldBlock) && mode == chardev.ModeNonBlocking:
		out.Class = ClassWouldBlock
		d.finished(label, i, "would_block")
		return out, nil

	case errors.Is(r.err, chardev.ErrWouldBlock):
		d.finished(label, i, "contract violation: "+r.err.Error())
		d.cfg.logger.Error("blocking read returned would-block", "handle", d.dev.ID(), "read", i)
		return out, fmt.Errorf("%w: blocking read: %w", ErrContractViolation, r.err)

	default:
		d.finished(label, i, "error: "+r.err.Error())
		return out, r.err
	}
}

// abandon stops waiting for a blocking read. The driver stays wedged until
// the read returns on its own.
func (d *Driver) abandon(label string, i int, started time.Time, ch <-chan readResult) {
	d.wedged.Store(true)
	d.line("... %s #%d abandoned after %v, still pending", label, i, d.cfg.now().Sub(started).Round(time.Millisecond))
	d.cfg.logger.Warn("blocking read abandoned", "handle", d.dev.ID(), "read", i)

	go func() {
		r := <-ch
		result := "error: "
		if r.err == nil {
			result = fmt.Sprintf("data %q", r.data)
			select {
			case d.late <- r.data:
			default:
			}
		} else {
			result += r.err.Error()
		}
		d.line("<-- %s finished #%d, result %s (abandoned)", label, i, result)
		d.wedged.Store(false)
	}()
}

// ProbeHang issues a one-byte blocking read and checks that it is still
// pending after window. It then calls release, normally Resume, and waits
// for the read to return.
//
// A read that returns within the window yields Hung == false and no error.
// A read that stays pending after release, until ctx is done, is abandoned
// and the error wraps ErrNotReleased and ErrWedged.
func (d *Driver) ProbeHang(ctx context.Context, window time.Duration, release func() error) (HangResult, error) {
	if err := d.usable(); err != nil {
		return HangResult{}, err
	}
	if d.dev.Mode() != chardev.ModeBlocking {
		return HangResult{}, ErrNotBlocking
	}

	label := readLabel(chardev.ModeBlocking)
	i := d.started(label)
	start := d.cfg.now()
	ch := d.startRead(1)

	timer := time.NewTimer(window)
	defer timer.Stop()

	select {
	case r := <-ch:
		out, err := d.classify(label, i, chardev.ModeBlocking, ReadOutcome{Started: start, Finished: r.finished}, r)
		return HangResult{Data: out.Data, Waited: r.finished.Sub(start)}, err
	case <-ctx.Done():
		d.abandon(label, i, start, ch)
		return HangResult{}, fmt.Errorf("%w: %w", ErrWedged, ctx.Err())
	case <-timer.C:
	}

	res := HangResult{Hung: true}
	d.line("... %s #%d still pending after %v", label, i, window)

	releasedAt := d.cfg.now()
	if err := release(); err != nil {
		d.abandon(label, i, start, ch)
		return res, fmt.Errorf("release: %w", err)
	}

	select {
	case r := <-ch:
		res.Waited = r.finished.Sub(start)
		res.AfterRelease = r.finished.Sub(releasedAt)
		out, err := d.classify(label, i, chardev.ModeBlocking, ReadOutcome{Started: start, Finished: r.finished}, r)
		res.Data = out.Data
		res.Released = err == nil
		return res, err
	case <-ctx.Done():
		d.abandon(label, i, start, ch)
		return res, fmt.Errorf("%w: %w", ErrNotReleased, ErrWedged)
	}
}

// --- sleep & close ---

// Sleep waits for dur or until ctx is done. It touches no device state and
// is allowed while wedged.
func (d *Driver) Sleep(ctx context.Context, dur time.Duration) error {
	const label = "Sleep"
	i := d.started(label)

	start := d.cfg.now()
	d.cfg.trace.Log(log.Event{
		Timestamp: start,
		HandleID:  d.dev.ID(),
		Operation: log.OperationSleep,
		Phase:     log.PhaseStarted,
	})

	timer := time.NewTimer(dur)
	defer timer.Stop()

	var err error
	select {
	case <-timer.C:
	case <-ctx.Done():
		err = ctx.Err()
	}

	end := d.cfg.now()
	event := log.Event{
		Timestamp: end,
		HandleID:  d.dev.ID(),
		Operation: log.OperationSleep,
		Phase:     log.PhaseFinished,
		Outcome:   log.OutcomeOK,
		Duration:  end.Sub(start),
	}
	if err != nil {
		event.Outcome = log.OutcomeError
		event.Error = &log.ErrorEventData{Kind: "cancelled", Message: err.Error()}
		d.finished(label, i, "interrupted: "+err.Error())
	} else {
		d.finished(label, i, fmt.Sprintf("ok after %v", dur))
	}
	d.cfg.trace.Log(event)
	return err
}

// Close closes the device. It is allowed while wedged.
func (d *Driver) Close() error {
	i := d.started("Close")
	if err := d.dev.Close(); err != nil {
		d.finished("Close", i, "error: "+err.Error())
		return err
	}
	d.finished("Close", i, "ok")
	return nil
}

// --- reporting ---

func (d *Driver) transition(op log.Operation, reason string, apply func(*State)) {
	d.mu.Lock()
	old := d.state
	apply(&d.state)
	next := d.state
	d.mu.Unlock()

	if old == next {
		return
	}
	d.cfg.logger.Debug("believed state changed", "handle", d.dev.ID(), "from", old.String(), "to", next.String())
	d.cfg.trace.Log(log.Event{
		Timestamp: d.cfg.now(),
		HandleID:  d.dev.ID(),
		Operation: op,
		Phase:     log.PhaseFinished,
		Outcome:   log.OutcomeOK,
		State:     &log.StateEvent{OldState: old.String(), NewState: next.String(), Reason: reason},
	})
}

func (d *Driver) started(label string) int {
	d.mu.Lock()
	i := d.counts[label]
	d.counts[label]++
	d.mu.Unlock()

	d.line("--> %s started #%d", label, i)
	return i
}

func (d *Driver) finished(label string, i int, result string) {
	d.line("<-- %s finished #%d, result %s", label, i, result)
}

func (d *Driver) line(format string, args ...any) {
	d.outMu.Lock()
	defer d.outMu.Unlock()
	fmt.Fprintf(d.cfg.out, format+"\n", args...)
}
