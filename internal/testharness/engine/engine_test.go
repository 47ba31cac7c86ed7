package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kmodtest/kmodfcntl-go/internal/testharness/engine"
	"github.com/kmodtest/kmodfcntl-go/internal/testharness/loader"
)

func noop(ctx context.Context, step *loader.Step, state *engine.ExecutionState) (map[string]any, error) {
	return nil, nil
}

func TestEngineBasic(t *testing.T) {
	e := engine.New()
	e.RegisterHandler("open", func(ctx context.Context, step *loader.Step, state *engine.ExecutionState) (map[string]any, error) {
		return map[string]any{"opened": true}, nil
	})

	tc := &loader.TestCase{
		ID:    "TC-001",
		Steps: []loader.Step{{Action: "open", Expect: map[string]any{"opened": true}}},
	}

	result := e.Run(context.Background(), tc)
	if !result.Passed {
		t.Errorf("test should pass, error: %v", result.Error)
	}
	if len(result.StepResults) != 1 {
		t.Errorf("expected 1 step result, got %d", len(result.StepResults))
	}
}

func TestEngineStepsShareState(t *testing.T) {
	e := engine.New()

	var order []string
	e.RegisterHandler("resume", func(ctx context.Context, step *loader.Step, state *engine.ExecutionState) (map[string]any, error) {
		order = append(order, "resume")
		return map[string]any{"producing": "active"}, nil
	})
	e.RegisterHandler("read", func(ctx context.Context, step *loader.Step, state *engine.ExecutionState) (map[string]any, error) {
		order = append(order, "read")
		if v, _ := state.Get("producing"); v != "active" {
			return nil, errors.New("read before resume")
		}
		return map[string]any{"data_count": 1}, nil
	})

	tc := &loader.TestCase{
		ID: "TC-STEPS",
		Steps: []loader.Step{
			{Action: "resume"},
			{Action: "read", Expect: map[string]any{"data_count": 1}},
		},
	}

	result := e.Run(context.Background(), tc)
	if !result.Passed {
		t.Fatalf("test should pass, error: %v", result.Error)
	}
	if len(order) != 2 || order[0] != "resume" || order[1] != "read" {
		t.Errorf("execution order: %v", order)
	}
}

func TestEngineInterpolatesParamsAndExpect(t *testing.T) {
	e := engine.New()

	var gotCount any
	e.RegisterHandler("read", func(ctx context.Context, step *loader.Step, state *engine.ExecutionState) (map[string]any, error) {
		gotCount = step.Params["count"]
		return map[string]any{"data_count": 5}, nil
	})

	e.Config().SetupTest = func(ctx context.Context, tc *loader.TestCase, state *engine.ExecutionState) error {
		state.Set("reads", 5)
		return nil
	}

	tc := &loader.TestCase{
		ID: "TC-INTERP",
		Steps: []loader.Step{{
			Action: "read",
			Params: map[string]any{"count": "{{ reads }}"},
			Expect: map[string]any{"data_count": "{{ reads }}"},
		}},
	}

	result := e.Run(context.Background(), tc)
	if !result.Passed {
		t.Fatalf("test should pass, error: %v", result.Error)
	}
	if gotCount != 5 {
		t.Errorf("handler saw count %#v, want 5", gotCount)
	}
	if tc.Steps[0].Params["count"] != "{{ reads }}" {
		t.Error("step params were modified in place")
	}
}

func TestEngineUnresolvedReference(t *testing.T) {
	e := engine.New()
	e.RegisterHandler("read", func(ctx context.Context, step *loader.Step, state *engine.ExecutionState) (map[string]any, error) {
		return map[string]any{"data_count": 5}, nil
	})

	tc := &loader.TestCase{
		ID:    "TC-UNRESOLVED",
		Steps: []loader.Step{{Action: "read", Expect: map[string]any{"data_count": "{{ missing }}"}}},
	}

	result := e.Run(context.Background(), tc)
	if result.Passed {
		t.Fatal("unresolved reference should fail")
	}
	er := result.StepResults[0].ExpectResults["data_count"]
	if er == nil || er.Message != "unresolved reference {{ missing }}" {
		t.Errorf("unexpected expect result: %+v", er)
	}
}

func TestEngineProfileRequirements(t *testing.T) {
	config := engine.DefaultConfig()
	config.Profile = &loader.Profile{Items: map[string]any{"control": true, "simulated": false}}
	e := engine.NewWithConfig(config)
	e.RegisterHandler("noop", noop)

	run := func(requires ...string) *engine.TestResult {
		return e.Run(context.Background(), &loader.TestCase{
			ID:       "TC-REQ",
			Requires: requires,
			Steps:    []loader.Step{{Action: "noop"}},
		})
	}

	if r := run("control"); r.Skipped || !r.Passed {
		t.Errorf("met requirement: skipped=%v passed=%v", r.Skipped, r.Passed)
	}
	if r := run("simulated"); !r.Skipped {
		t.Error("false requirement should skip")
	}
	if r := run("missing"); !r.Skipped {
		t.Error("missing requirement should skip")
	}
}

func TestEngineSkipFlag(t *testing.T) {
	e := engine.New()
	result := e.Run(context.Background(), &loader.TestCase{
		ID:    "TC-SKIP",
		Skip:  true,
		Steps: []loader.Step{{Action: "noop"}},
	})
	if !result.Skipped || result.SkipReason != "skipped by test definition" {
		t.Errorf("skipped=%v reason=%q", result.Skipped, result.SkipReason)
	}
}

func TestEngineTimeout(t *testing.T) {
	config := engine.DefaultConfig()
	config.StepTimeout = 50 * time.Millisecond
	e := engine.NewWithConfig(config)

	e.RegisterHandler("hang", func(ctx context.Context, step *loader.Step, state *engine.ExecutionState) (map[string]any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	result := e.Run(context.Background(), &loader.TestCase{ID: "TC-TIMEOUT", Steps: []loader.Step{{Action: "hang"}}})
	if result.Passed {
		t.Error("test should fail due to timeout")
	}
	if !errors.Is(result.Error, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", result.Error)
	}
}

func TestEngineStepTimeoutScalesWithIntervals(t *testing.T) {
	config := engine.DefaultConfig()
	config.StepTimeout = 10 * time.Millisecond
	config.StepBuffer = 10 * time.Millisecond
	config.Interval = 100 * time.Millisecond
	e := engine.NewWithConfig(config)

	var budget time.Duration
	e.RegisterHandler("wait", func(ctx context.Context, step *loader.Step, state *engine.ExecutionState) (map[string]any, error) {
		deadline, _ := ctx.Deadline()
		budget = time.Until(deadline)
		return nil, nil
	})

	tc := &loader.TestCase{
		ID:    "TC-SCALE",
		Steps: []loader.Step{{Action: "wait", Params: map[string]any{"intervals": 2}}},
	}
	if result := e.Run(context.Background(), tc); !result.Passed {
		t.Fatalf("test should pass: %v", result.Error)
	}
	// 2 intervals + buffer = 210ms.
	if budget < 150*time.Millisecond || budget > 210*time.Millisecond {
		t.Errorf("step budget %v, want about 210ms", budget)
	}
}

func TestEngineSetupAndTeardown(t *testing.T) {
	config := engine.DefaultConfig()
	var tornDown []string
	config.SetupTest = func(ctx context.Context, tc *loader.TestCase, state *engine.ExecutionState) error {
		if tc.ID == "TC-BADSETUP" {
			return errors.New("device missing")
		}
		return nil
	}
	config.TeardownTest = func(ctx context.Context, tc *loader.TestCase, state *engine.ExecutionState) {
		tornDown = append(tornDown, tc.ID)
	}
	e := engine.NewWithConfig(config)
	e.RegisterHandler("fail", func(ctx context.Context, step *loader.Step, state *engine.ExecutionState) (map[string]any, error) {
		return nil, errors.New("boom")
	})

	r := e.Run(context.Background(), &loader.TestCase{ID: "TC-BADSETUP", Steps: []loader.Step{{Action: "fail"}}})
	if r.Passed || len(r.StepResults) != 0 {
		t.Errorf("setup failure should fail without running steps: %+v", r)
	}

	r = e.Run(context.Background(), &loader.TestCase{ID: "TC-FAIL", Steps: []loader.Step{{Action: "fail"}}})
	if r.Passed {
		t.Error("failing step should fail the test")
	}

	if len(tornDown) != 1 || tornDown[0] != "TC-FAIL" {
		t.Errorf("teardown calls: %v", tornDown)
	}
}

func TestEngineOutputsKeptOnHandlerError(t *testing.T) {
	e := engine.New()
	e.RegisterHandler("read", func(ctx context.Context, step *loader.Step, state *engine.ExecutionState) (map[string]any, error) {
		return map[string]any{"outcomes": []string{"data"}}, errors.New("contract violation")
	})

	r := e.Run(context.Background(), &loader.TestCase{ID: "TC-PARTIAL", Steps: []loader.Step{{Action: "read"}}})
	if r.Passed {
		t.Fatal("handler error should fail the test")
	}
	if _, ok := r.StepResults[0].Output["outcomes"]; !ok {
		t.Error("partial outputs should be reported")
	}
}

func TestEngineExpectations(t *testing.T) {
	e := engine.New()
	engine.RegisterCheckers(e)
	e.RegisterHandler("reads", func(ctx context.Context, step *loader.Step, state *engine.ExecutionState) (map[string]any, error) {
		return map[string]any{
			"outcomes":          []string{"data", "would_block"},
			"data_count":        1,
			"would_block_count": 1,
		}, nil
	})

	pass := &loader.TestCase{
		ID: "TC-EXPECT-PASS",
		Steps: []loader.Step{{
			Action: "reads",
			Expect: map[string]any{
				"outcomes_match":        []any{"any", "would_block"},
				"data_count_max":        1,
				"would_block_count_min": 1,
			},
		}},
	}
	if r := e.Run(context.Background(), pass); !r.Passed {
		t.Errorf("expected pass: %v", r.Error)
	}

	fail := &loader.TestCase{
		ID: "TC-EXPECT-FAIL",
		Steps: []loader.Step{{
			Action: "reads",
			Expect: map[string]any{"outcomes_match": []any{"would_block", "would_block"}},
		}},
	}
	r := e.Run(context.Background(), fail)
	if r.Passed {
		t.Error("expected failure")
	}
	if er := r.StepResults[0].ExpectResults["outcomes_match"]; er == nil || er.Passed {
		t.Error("outcomes_match result should be recorded as failed")
	}
}

func TestDefaultChecker_Present(t *testing.T) {
	e := engine.New()
	e.RegisterHandler("open", func(ctx context.Context, step *loader.Step, state *engine.ExecutionState) (map[string]any, error) {
		return map[string]any{"handle_id": "0f1e"}, nil
	})

	r := e.Run(context.Background(), &loader.TestCase{
		ID:    "TC-PRESENT",
		Steps: []loader.Step{{Action: "open", Expect: map[string]any{"handle_id": "present"}}},
	})
	if !r.Passed {
		t.Errorf("present should pass: %v", r.Error)
	}

	r = e.Run(context.Background(), &loader.TestCase{
		ID:    "TC-ABSENT",
		Steps: []loader.Step{{Action: "open", Expect: map[string]any{"mode": "present"}}},
	})
	if r.Passed {
		t.Error("present should fail for a missing key")
	}
}

func TestEngineUnknownAction(t *testing.T) {
	e := engine.New()
	r := e.Run(context.Background(), &loader.TestCase{ID: "TC-UNKNOWN", Steps: []loader.Step{{Action: "reboot"}}})
	if r.Passed || r.Error == nil || r.Error.Error() != "unknown action: reboot" {
		t.Errorf("unexpected result: passed=%v err=%v", r.Passed, r.Error)
	}
}

func TestEngineSuite(t *testing.T) {
	config := engine.DefaultConfig()
	var completed []string
	config.OnTestComplete = func(r *engine.TestResult) { completed = append(completed, r.TestCase.ID) }
	e := engine.NewWithConfig(config)
	e.RegisterHandler("noop", noop)
	e.RegisterHandler("fail", func(ctx context.Context, step *loader.Step, state *engine.ExecutionState) (map[string]any, error) {
		return nil, errors.New("boom")
	})

	cases := []*loader.TestCase{
		{ID: "TC-1", Steps: []loader.Step{{Action: "noop"}}},
		{ID: "TC-2", Steps: []loader.Step{{Action: "fail"}}},
		{ID: "TC-3", Skip: true, Steps: []loader.Step{{Action: "noop"}}},
		{ID: "TC-4", Steps: []loader.Step{{Action: "noop"}}},
	}

	result := e.RunSuite(context.Background(), cases)
	if result.PassCount != 2 || result.FailCount != 1 || result.SkipCount != 1 {
		t.Errorf("counts: pass=%d fail=%d skip=%d", result.PassCount, result.FailCount, result.SkipCount)
	}
	if len(completed) != 4 {
		t.Errorf("OnTestComplete called %d times", len(completed))
	}

	config.StopOnFirstFailure = true
	result = e.RunSuite(context.Background(), cases)
	if len(result.Results) != 2 {
		t.Errorf("StopOnFirstFailure ran %d tests, want 2", len(result.Results))
	}
}
