package runner

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/kmodtest/kmodfcntl-go/internal/testharness/driver"
	"github.com/kmodtest/kmodfcntl-go/internal/testharness/engine"
	"github.com/kmodtest/kmodfcntl-go/internal/testharness/loader"
	"github.com/kmodtest/kmodfcntl-go/pkg/chardev"
)

// newSimRunner creates a runner on a simulator producing every 20ms. With
// start false the producer does not run and messages only appear through
// Produce.
func newSimRunner(t *testing.T, start bool) *Runner {
	t.Helper()
	config := DefaultConfig()
	config.Simulate = true
	config.SimInterval = 20 * time.Millisecond
	r, err := New(config)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if start {
		if err := r.sim.Start(t.Context()); err != nil {
			t.Fatalf("Start: %v", err)
		}
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func step(action string, params map[string]any) *loader.Step {
	if params == nil {
		params = map[string]any{}
	}
	return &loader.Step{Action: action, Params: params}
}

func open(t *testing.T, r *Runner) {
	t.Helper()
	out, err := r.handleOpen(t.Context(), step(ActionOpen, nil), engine.NewExecutionState(t.Context()))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if out[KeyOpened] != true {
		t.Fatalf("opened = %v", out[KeyOpened])
	}
}

func TestHandlersNeedOpenHandle(t *testing.T) {
	r := newSimRunner(t, false)
	state := engine.NewExecutionState(t.Context())

	_, err := r.handleRead(t.Context(), step(ActionRead, nil), state)
	if !errors.Is(err, errNoSession) {
		t.Fatalf("expected errNoSession, got %v", err)
	}
	if Category(err) != ErrCatInfrastructure {
		t.Errorf("category = %v, want infrastructure", Category(err))
	}
}

func TestOpenReportsInitialState(t *testing.T) {
	r := newSimRunner(t, false)
	out, err := r.handleOpen(t.Context(), step(ActionOpen, nil), engine.NewExecutionState(t.Context()))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if out[KeyState] != "init/blocking" {
		t.Errorf("state = %v, want init/blocking", out[KeyState])
	}
	if out[KeyPath] != chardev.DefaultPath {
		t.Errorf("path = %v", out[KeyPath])
	}
}

func TestOpenReplacesPreviousHandle(t *testing.T) {
	r := newSimRunner(t, false)
	open(t, r)
	first := r.sess.handle
	open(t, r)

	if !first.Closed() {
		t.Error("first handle should be closed by the second open")
	}
	if got := r.sim.OpenFiles(); got != 1 {
		t.Errorf("open files = %d, want 1", got)
	}
}

func TestAllowErrorOnClosedHandle(t *testing.T) {
	r := newSimRunner(t, false)
	state := engine.NewExecutionState(t.Context())
	open(t, r)
	if _, err := r.handleClose(t.Context(), step(ActionClose, nil), state); err != nil {
		t.Fatalf("close: %v", err)
	}

	out, err := r.handleRead(t.Context(), step(ActionRead, map[string]any{ParamAllowError: true}), state)
	if err != nil {
		t.Fatalf("allowed read error should not fail the step: %v", err)
	}
	if out[KeyErrorKind] != "closed" {
		t.Errorf("error_kind = %v, want closed", out[KeyErrorKind])
	}
	if out[KeyCategory] != "device" {
		t.Errorf("error_category = %v, want device", out[KeyCategory])
	}

	_, err = r.handleControl(t.Context(), step(ActionControl, map[string]any{ParamCommand: "pause"}), state)
	if err == nil {
		t.Fatal("control on a closed handle should fail without allow_error")
	}
	if !errors.Is(err, chardev.ErrInvalidHandle) {
		t.Errorf("expected ErrInvalidHandle, got %v", err)
	}
}

func TestFailNeverAllowsContractViolations(t *testing.T) {
	r := newSimRunner(t, false)
	violation := fmt.Errorf("%w: blocking read: %w", driver.ErrContractViolation,
		&chardev.ReadError{Kind: chardev.ReadWouldBlock, Err: unix.EAGAIN})

	out, err := r.fail(step(ActionRead, map[string]any{ParamAllowError: true}), map[string]any{}, violation)
	if err == nil {
		t.Fatal("contract violation must fail the step")
	}
	if Category(err) != ErrCatContract {
		t.Errorf("category = %v, want contract", Category(err))
	}
	if out[KeyErrorKind] != "would_block" {
		t.Errorf("error_kind = %v", out[KeyErrorKind])
	}
	if out[KeyErrno] != int(unix.EAGAIN) {
		t.Errorf("errno = %v", out[KeyErrno])
	}
}

func TestControlParams(t *testing.T) {
	r := newSimRunner(t, false)
	state := engine.NewExecutionState(t.Context())
	open(t, r)

	out, err := r.handleControl(t.Context(), step(ActionControl, map[string]any{ParamValue: 7}), state)
	if err != nil {
		t.Fatalf("control value 7: %v", err)
	}
	if out[KeyProducing] != "paused" || !r.paused || !r.sim.Paused() {
		t.Errorf("non-zero value should pause: producing=%v paused=%v", out[KeyProducing], r.paused)
	}

	if _, err := r.handleControl(t.Context(), step(ActionControl, map[string]any{ParamCommand: "resume"}), state); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if r.paused || r.sim.Paused() {
		t.Error("resume should clear the paused flag")
	}

	tests := []map[string]any{
		{ParamCommand: "reboot"},
		{ParamValue: -1},
		{ParamValue: "x"},
		{},
	}
	for _, params := range tests {
		if _, err := r.handleControl(t.Context(), step(ActionControl, params), state); err == nil {
			t.Errorf("params %v: expected an error", params)
		}
	}
}

func TestReadCountsOutcomes(t *testing.T) {
	r := newSimRunner(t, false)
	state := engine.NewExecutionState(t.Context())
	open(t, r)

	if _, err := r.handleSetBlocking(t.Context(), step(ActionSetBlocking, map[string]any{ParamEnabled: "false"}), state); err != nil {
		t.Fatalf("set_blocking: %v", err)
	}
	r.sim.Produce()

	out, err := r.handleRead(t.Context(), step(ActionRead, map[string]any{engine.ParamCount: 3}), state)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	outcomes, _ := out[engine.KeyOutcomes].([]string)
	if fmt.Sprint(outcomes) != "[data would_block would_block]" {
		t.Errorf("outcomes = %v", outcomes)
	}
	if out[KeyData] != "M" || out[engine.KeyDataCount] != 1 || out[engine.KeyWouldBlockCount] != 2 {
		t.Errorf("unexpected counts: %v", out)
	}
	if gaps, ok := out[engine.KeyGapsMS].([]float64); !ok || len(gaps) != 0 {
		t.Errorf("gaps = %#v, want empty []float64", out[engine.KeyGapsMS])
	}
	if out[KeyState] != "init/non_blocking" {
		t.Errorf("state = %v", out[KeyState])
	}
}

func TestReadRejectsBadParams(t *testing.T) {
	r := newSimRunner(t, false)
	state := engine.NewExecutionState(t.Context())
	open(t, r)

	tests := []map[string]any{
		{engine.ParamCount: -1},
		{engine.ParamCount: 0},
		{ParamSize: -4},
		{engine.ParamCount: -1, ParamAllowError: true},
	}
	for _, params := range tests {
		_, err := r.handleRead(t.Context(), step(ActionRead, params), state)
		if err == nil {
			t.Errorf("params %v: expected an error", params)
			continue
		}
		if Category(err) != ErrCatInfrastructure {
			t.Errorf("params %v: category = %v, want infrastructure", params, Category(err))
		}
	}
}

func TestReadGapsSkipFirstRead(t *testing.T) {
	r := newSimRunner(t, true)
	state := engine.NewExecutionState(t.Context())
	open(t, r)

	out, err := r.handleRead(t.Context(), step(ActionRead, map[string]any{engine.ParamCount: 4}), state)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	gaps, _ := out[engine.KeyGapsMS].([]float64)
	if len(gaps) != 2 {
		t.Fatalf("expected 2 gaps for 4 data reads, got %v", gaps)
	}
	for _, g := range gaps {
		if g < 15 {
			t.Errorf("gap %.1fms shorter than the 20ms interval", g)
		}
	}
}

func TestWaitIntervals(t *testing.T) {
	r := newSimRunner(t, false)
	state := engine.NewExecutionState(t.Context())

	out, err := r.handleWait(t.Context(), step(ActionWait, map[string]any{engine.ParamIntervals: 2}), state)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if ms, _ := out[engine.KeyElapsedMS].(float64); ms < 40 {
		t.Errorf("elapsed = %.1fms, want at least 40ms", ms)
	}

	if _, err := r.handleWait(t.Context(), step(ActionWait, nil), state); err == nil {
		t.Error("wait without a duration should fail")
	}
}

func TestProbeHangParams(t *testing.T) {
	r := newSimRunner(t, false)
	state := engine.NewExecutionState(t.Context())
	open(t, r)

	if _, err := r.handleProbeHang(t.Context(), step(ActionProbeHang, nil), state); err == nil {
		t.Error("probe_hang without a window should fail")
	}
	params := map[string]any{engine.ParamWindowMS: 10, ParamRelease: "close"}
	if _, err := r.handleProbeHang(t.Context(), step(ActionProbeHang, params), state); err == nil {
		t.Error("unknown release action should fail")
	}
}

func TestProbeHangReleasedByResume(t *testing.T) {
	r := newSimRunner(t, true)
	state := engine.NewExecutionState(t.Context())
	open(t, r)

	if _, err := r.handleControl(t.Context(), step(ActionControl, map[string]any{ParamCommand: "pause"}), state); err != nil {
		t.Fatalf("pause: %v", err)
	}
	// Drain a message produced before the pause took effect.
	if _, err := r.handleSetBlocking(t.Context(), step(ActionSetBlocking, map[string]any{ParamEnabled: false}), state); err != nil {
		t.Fatal(err)
	}
	if _, err := r.handleRead(t.Context(), step(ActionRead, nil), state); err != nil {
		t.Fatal(err)
	}
	if _, err := r.handleSetBlocking(t.Context(), step(ActionSetBlocking, map[string]any{ParamEnabled: true}), state); err != nil {
		t.Fatal(err)
	}

	out, err := r.handleProbeHang(t.Context(), step(ActionProbeHang, map[string]any{engine.ParamWindowIntervals: 3}), state)
	if err != nil {
		t.Fatalf("probe_hang: %v", err)
	}
	if out[KeyHung] != true || out[KeyReleased] != true || out[KeyData] != "M" {
		t.Errorf("unexpected result: %v", out)
	}
	if out[KeyProducing] != "active" || r.paused {
		t.Errorf("release should resume production: %v", out)
	}
}

func TestActionClearsStaleError(t *testing.T) {
	h := action(func(ctx context.Context, step *loader.Step, state *engine.ExecutionState) (map[string]any, error) {
		return nil, nil
	})
	out, err := h(t.Context(), step(ActionStatus, nil), engine.NewExecutionState(t.Context()))
	if err != nil {
		t.Fatal(err)
	}
	if v, ok := out[engine.KeyError]; !ok || v != "" {
		t.Errorf("error output = %v, %v", v, ok)
	}
}
