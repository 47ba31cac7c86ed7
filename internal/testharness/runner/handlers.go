package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kmodtest/kmodfcntl-go/internal/testharness/driver"
	"github.com/kmodtest/kmodfcntl-go/internal/testharness/engine"
	"github.com/kmodtest/kmodfcntl-go/internal/testharness/loader"
	"github.com/kmodtest/kmodfcntl-go/pkg/chardev"
	"github.com/kmodtest/kmodfcntl-go/pkg/ioctl"
)

var errNoSession = errors.New("no device handle open; add an open step")

// action wraps a handler so that a step which succeeds clears the error
// output of an earlier step.
func action(h engine.ActionHandler) engine.ActionHandler {
	return func(ctx context.Context, step *loader.Step, state *engine.ExecutionState) (map[string]any, error) {
		out, err := h(ctx, step, state)
		if out == nil {
			out = make(map[string]any)
		}
		if _, ok := out[engine.KeyError]; !ok {
			out[engine.KeyError] = ""
		}
		return out, err
	}
}

func (r *Runner) current() (*session, error) {
	if r.sess == nil {
		return nil, Infrastructure(errNoSession)
	}
	return r.sess, nil
}

// fail records err in out. With allow_error set, an error the device
// returned for an operation becomes the step's result instead of failing
// it; contract violations always fail.
func (r *Runner) fail(step *loader.Step, out map[string]any, err error) (map[string]any, error) {
	cerr := classify(err)
	out[engine.KeyError] = err.Error()
	out[KeyErrorKind] = chardev.ErrorKind(err)
	out[KeyCategory] = Category(cerr).String()
	if errno, ok := chardev.Errno(err); ok {
		out[KeyErrno] = errno
	}

	if toBool(step.Params[ParamAllowError]) && isDeviceError(err) && Category(cerr) != ErrCatContract {
		r.logger.Debug("device error allowed", "action", step.Action, "kind", out[KeyErrorKind], "error", err)
		return out, nil
	}
	return out, cerr
}

func isDeviceError(err error) bool {
	var (
		oerr *chardev.OpenError
		rerr *chardev.ReadError
		cerr *chardev.ControlError
		merr *chardev.ModeError
	)
	return errors.As(err, &oerr) || errors.As(err, &rerr) || errors.As(err, &cerr) || errors.As(err, &merr)
}

func stateOutputs(out map[string]any, drv *driver.Driver) map[string]any {
	s := drv.State()
	out[KeyProducing] = s.Producing.String()
	out[KeyMode] = s.Mode.String()
	out[KeyState] = s.String()
	return out
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// span reads a duration given either in milliseconds or in production
// intervals. It returns 0 when neither parameter is set.
func (r *Runner) span(params map[string]any, msKey, intervalsKey string) time.Duration {
	if v, ok := engine.ToFloat64(params[msKey]); ok {
		return time.Duration(v * float64(time.Millisecond))
	}
	if n, ok := engine.ToFloat64(params[intervalsKey]); ok {
		return time.Duration(n * float64(r.interval))
	}
	return 0
}

// handleOpen opens the device node and makes it the test's handle. A
// handle left open by an earlier open step is closed first.
func (r *Runner) handleOpen(ctx context.Context, step *loader.Step, state *engine.ExecutionState) (map[string]any, error) {
	path, _ := step.Params[ParamPath].(string)
	if path == "" {
		path = r.config.Device
	}
	out := map[string]any{KeyOpened: false, KeyPath: path}

	h, err := openWithRetry(ctx, r.config.OpenAttempts, path, r.handleOptions()...)
	if err != nil {
		return r.fail(step, out, err)
	}

	if r.sess != nil {
		if cerr := r.sess.drv.Close(); cerr != nil {
			r.logger.Warn("closing previous handle failed", "handle", r.sess.handle.ID(), "error", cerr)
		}
	}
	r.sess = &session{handle: h, drv: driver.New(h, r.driverOptions()...)}

	out[KeyOpened] = true
	out[KeyHandleID] = h.ID()
	out[KeyClosed] = false
	return stateOutputs(out, r.sess.drv), nil
}

// handleClose closes the handle. The session stays so later steps can
// observe how the closed handle behaves.
func (r *Runner) handleClose(ctx context.Context, step *loader.Step, state *engine.ExecutionState) (map[string]any, error) {
	sess, err := r.current()
	if err != nil {
		return nil, err
	}
	out := map[string]any{KeyClosed: false}
	if err := sess.drv.Close(); err != nil {
		return r.fail(step, out, err)
	}
	out[KeyClosed] = true
	return out, nil
}

// handleControl sends the producer control command given as a command
// name or a raw argument value.
func (r *Runner) handleControl(ctx context.Context, step *loader.Step, state *engine.ExecutionState) (map[string]any, error) {
	sess, err := r.current()
	if err != nil {
		return nil, err
	}

	var value uint32
	switch {
	case step.Params[ParamCommand] != nil:
		name, _ := step.Params[ParamCommand].(string)
		cmd, err := ioctl.ParseCommand(name)
		if err != nil {
			return nil, Infrastructure(err)
		}
		value = cmd.Arg()
	case step.Params[ParamValue] != nil:
		v, ok := engine.ToFloat64(step.Params[ParamValue])
		if !ok || v < 0 || v > float64(^uint32(0)) {
			return nil, Infrastructure(fmt.Errorf("control value %v is not a 32-bit unsigned integer", step.Params[ParamValue]))
		}
		value = uint32(v)
	default:
		return nil, Infrastructure(fmt.Errorf("control needs %q or %q", ParamCommand, ParamValue))
	}

	out := map[string]any{ParamCommand: ioctl.CommandFromArg(value).String()}
	if err := sess.drv.Control(value); err != nil {
		return r.fail(step, stateOutputs(out, sess.drv), err)
	}
	r.paused = ioctl.CommandFromArg(value) == ioctl.CommandPause
	return stateOutputs(out, sess.drv), nil
}

// handleSetBlocking switches the handle between blocking and non-blocking
// reads.
func (r *Runner) handleSetBlocking(ctx context.Context, step *loader.Step, state *engine.ExecutionState) (map[string]any, error) {
	sess, err := r.current()
	if err != nil {
		return nil, err
	}
	v, ok := step.Params[ParamEnabled]
	if !ok {
		return nil, Infrastructure(fmt.Errorf("set_blocking needs %q", ParamEnabled))
	}

	out := map[string]any{}
	if err := sess.drv.SetBlocking(toBool(v)); err != nil {
		return r.fail(step, stateOutputs(out, sess.drv), err)
	}
	return stateOutputs(out, sess.drv), nil
}

// handleRead issues count reads of size bytes in the handle's current
// mode, sleeping spacing between them.
//
// gaps_ms holds the time between successive data reads, starting with the
// second: the first read may be served by a message that was already
// waiting, so the gap that follows it says nothing about the interval.
func (r *Runner) handleRead(ctx context.Context, step *loader.Step, state *engine.ExecutionState) (map[string]any, error) {
	sess, err := r.current()
	if err != nil {
		return nil, err
	}

	count := paramInt(step.Params, engine.ParamCount, 1)
	size := paramInt(step.Params, ParamSize, 1)
	if count < 1 {
		return nil, Infrastructure(fmt.Errorf("read %s must be at least 1, got %v", engine.ParamCount, step.Params[engine.ParamCount]))
	}
	if size < 0 {
		return nil, Infrastructure(fmt.Errorf("read %s must not be negative, got %v", ParamSize, step.Params[ParamSize]))
	}
	spacing := r.span(step.Params, ParamSpacingMS, engine.ParamSpacingIntervals)

	var (
		outcomes = make([]string, 0, count)
		data     strings.Builder
		dataN    int
		blockN   int
		gaps     = []float64{}
		finished []time.Time
	)
	start := time.Now()
	output := func() map[string]any {
		return stateOutputs(map[string]any{
			engine.KeyOutcomes:        outcomes,
			KeyData:                   data.String(),
			engine.KeyDataCount:       dataN,
			engine.KeyWouldBlockCount: blockN,
			engine.KeyGapsMS:          gaps,
			engine.KeyElapsedMS:       ms(time.Since(start)),
		}, sess.drv)
	}

	for i := range count {
		if i > 0 && spacing > 0 {
			if err := sess.drv.Sleep(ctx, spacing); err != nil {
				return output(), Infrastructure(err)
			}
		}

		res, err := sess.drv.Read(ctx, size)
		if err != nil {
			return r.fail(step, output(), err)
		}
		outcomes = append(outcomes, res.Class.String())
		if res.Class == driver.ClassWouldBlock {
			blockN++
			continue
		}
		dataN++
		data.Write(res.Data)
		finished = append(finished, res.Finished)
		if n := len(finished); n > 2 {
			gaps = append(gaps, ms(finished[n-1].Sub(finished[n-2])))
		}
	}
	return output(), nil
}

// handleWait sleeps for duration_ms or a number of production intervals.
func (r *Runner) handleWait(ctx context.Context, step *loader.Step, state *engine.ExecutionState) (map[string]any, error) {
	d := r.span(step.Params, engine.ParamDurationMS, engine.ParamIntervals)
	if d <= 0 {
		return nil, Infrastructure(fmt.Errorf("wait needs %q or %q", engine.ParamDurationMS, engine.ParamIntervals))
	}

	start := time.Now()
	var err error
	if r.sess != nil {
		err = r.sess.drv.Sleep(ctx, d)
	} else {
		err = contextSleep(ctx, d)
	}
	out := map[string]any{engine.KeyElapsedMS: ms(time.Since(start))}
	if err != nil {
		return out, Infrastructure(err)
	}
	return out, nil
}

// handleProbeHang checks that a blocking read stays pending while the
// producer is paused and returns once the release action resumes it.
func (r *Runner) handleProbeHang(ctx context.Context, step *loader.Step, state *engine.ExecutionState) (map[string]any, error) {
	sess, err := r.current()
	if err != nil {
		return nil, err
	}

	window := r.span(step.Params, engine.ParamWindowMS, engine.ParamWindowIntervals)
	if window <= 0 {
		return nil, Infrastructure(fmt.Errorf("probe_hang needs %q or %q", engine.ParamWindowMS, engine.ParamWindowIntervals))
	}
	release, _ := step.Params[ParamRelease].(string)
	if release == "" {
		release = ReleaseResume
	}
	if release != ReleaseResume {
		return nil, Infrastructure(fmt.Errorf("unknown release action %q", release))
	}

	res, err := sess.drv.ProbeHang(ctx, window, func() error {
		if err := sess.drv.Resume(); err != nil {
			return err
		}
		r.paused = false
		return nil
	})
	out := stateOutputs(map[string]any{
		KeyHung:             res.Hung,
		KeyReleased:         res.Released,
		KeyData:             string(res.Data),
		KeyWaitedMS:         ms(res.Waited),
		engine.KeyElapsedMS: ms(res.AfterRelease),
	}, sess.drv)
	if err != nil {
		return r.fail(step, out, err)
	}
	return out, nil
}

// handleStatus reports the believed device state.
func (r *Runner) handleStatus(ctx context.Context, step *loader.Step, state *engine.ExecutionState) (map[string]any, error) {
	sess, err := r.current()
	if err != nil {
		return nil, err
	}
	return stateOutputs(map[string]any{
		KeyHandleID: sess.handle.ID(),
		KeyWedged:   sess.drv.Wedged(),
		KeyClosed:   sess.handle.Closed(),
	}, sess.drv), nil
}

// paramInt extracts an integer parameter, handling the numeric types YAML
// v3 may produce. Returns defaultVal if the key is missing or not numeric.
func paramInt(params map[string]any, key string, defaultVal int) int {
	v, ok := engine.ToFloat64(params[key])
	if !ok {
		return defaultVal
	}
	return int(v)
}

// toBool converts a parameter value to bool.
func toBool(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case int:
		return val != 0
	case float64:
		return val != 0
	case string:
		return val != "" && val != "false" && val != "0"
	default:
		return false
	}
}
