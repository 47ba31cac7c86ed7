package engine

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/kmodtest/kmodfcntl-go/internal/testharness/loader"
)

// Engine runs test cases through the registered action handlers and
// expectation checkers. Keys without a checker of their own use the
// equality checker.
type Engine struct {
	config *EngineConfig

	mu       sync.RWMutex
	handlers map[string]ActionHandler
	checkers map[string]ExpectChecker
}

// New creates an engine with DefaultConfig.
func New() *Engine { return NewWithConfig(nil) }

// NewWithConfig creates an engine. A nil config means DefaultConfig.
func NewWithConfig(config *EngineConfig) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	return &Engine{
		config:   config,
		handlers: make(map[string]ActionHandler),
		checkers: map[string]ExpectChecker{CheckerNameDefault: defaultChecker},
	}
}

// Config returns the engine configuration.
func (e *Engine) Config() *EngineConfig { return e.config }

// RegisterHandler registers an action handler.
func (e *Engine) RegisterHandler(action string, handler ActionHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[action] = handler
}

// RegisterChecker registers an expectation checker.
func (e *Engine) RegisterChecker(key string, checker ExpectChecker) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.checkers[key] = checker
}

// HasHandler reports whether an action handler is registered.
func (e *Engine) HasHandler(action string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.handlers[action]
	return ok
}

// Run executes tc. A test is skipped when it says so or when the
// configured profile lacks something it requires; otherwise its steps run
// in order until one fails.
func (e *Engine) Run(ctx context.Context, tc *loader.TestCase) (res *TestResult) {
	res = &TestResult{TestCase: tc, StartTime: time.Now()}
	defer func() {
		res.EndTime = time.Now()
		res.Duration = res.EndTime.Sub(res.StartTime)
	}()

	switch {
	case tc.Skip:
		res.Skipped, res.SkipReason = true, cmp.Or(tc.SkipReason, "skipped by test definition")
		return res
	case e.config.Profile != nil && !loader.CheckRequirements(e.config.Profile, tc.Requires):
		res.Skipped, res.SkipReason = true, "device profile does not meet requirements"
		return res
	}

	ctx, cancel := context.WithTimeout(ctx, parseTimeout(tc.Timeout, e.config.DefaultTimeout))
	defer cancel()
	state := NewExecutionState(ctx)

	if setup := e.config.SetupTest; setup != nil {
		if err := setup(ctx, tc, state); err != nil {
			res.Error = fmt.Errorf("test setup failed: %w", err)
			return res
		}
	}
	if teardown := e.config.TeardownTest; teardown != nil {
		// Runs after the test deadline too, so it gets a context of its own.
		defer teardown(context.WithoutCancel(ctx), tc, state)
	}

	for i := range tc.Steps {
		sr := e.executeStep(ctx, &tc.Steps[i], i, state)
		res.StepResults = append(res.StepResults, sr)
		if !sr.Passed {
			res.Error = sr.Error
			break
		}
	}
	res.Passed = res.Error == nil
	return res
}

// parseTimeout returns def when s is empty or not a duration.
func parseTimeout(s string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(s); s != "" && err == nil {
		return d
	}
	return def
}

func (e *Engine) executeStep(ctx context.Context, step *loader.Step, index int, state *ExecutionState) *StepResult {
	start := time.Now()
	sr := &StepResult{
		Step:          step,
		StepIndex:     index,
		ExpectResults: make(map[string]*ExpectResult),
		Output:        make(map[string]any),
	}
	defer func() { sr.Duration = time.Since(start) }()

	e.mu.RLock()
	handler, ok := e.handlers[step.Action]
	e.mu.RUnlock()
	if !ok {
		sr.Error = fmt.Errorf("unknown action: %s", step.Action)
		return sr
	}

	resolved := *step
	resolved.Params = InterpolateParams(step.Params, state)

	// Steps that wait or read for a known time get at least that long plus
	// the configured slack.
	timeout := parseTimeout(step.Timeout, e.config.StepTimeout)
	if d := e.stepDuration(resolved.Params); d > 0 {
		timeout = max(timeout, d+e.config.StepBuffer)
	}
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	outputs, err := handler(stepCtx, &resolved, state)
	for k, v := range outputs {
		state.Set(k, v)
		sr.Output[k] = v
	}
	if err != nil {
		sr.Error = err
		return sr
	}
	state.Set(InternalStepOutput, maps.Clone(sr.Output))

	sr.Passed = true
	for key, expected := range InterpolateParams(step.Expect, state) {
		er := e.checker(key)(key, expected, state)
		sr.ExpectResults[key] = er
		if !er.Passed {
			sr.Passed = false
			sr.Error = fmt.Errorf("expectation failed: %s - %s", key, er.Message)
		}
	}
	return sr
}

func (e *Engine) checker(key string) ExpectChecker {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if c, ok := e.checkers[key]; ok {
		return c
	}
	return e.checkers[CheckerNameDefault]
}

// defaultChecker compares the output with the same key for equality. The
// expected value "present" only requires the output to exist.
func defaultChecker(key string, expected any, state *ExecutionState) *ExpectResult {
	actual, exists := state.Get(key)
	r := &ExpectResult{Key: key, Expected: expected, Actual: actual}

	expStr, isStr := expected.(string)
	switch {
	case !exists:
		r.Message = fmt.Sprintf("key %q not found in outputs", key)
	case isStr && expStr == "present":
		r.Passed = true
		r.Message = fmt.Sprintf("%s = %v", key, actual)
	case isStr && refPattern.MatchString(expStr):
		r.Message = fmt.Sprintf("unresolved reference %s", expStr)
	case fmt.Sprint(expected) == fmt.Sprint(actual):
		r.Passed = true
		r.Message = fmt.Sprintf("%s = %v", key, expected)
	default:
		r.Message = fmt.Sprintf("expected %v, got %v", expected, actual)
	}
	return r
}

// RunSuite runs cases in order. Without a configured SuiteTimeout the
// suite may take the sum of its test timeouts plus a minute.
func (e *Engine) RunSuite(ctx context.Context, cases []*loader.TestCase) *SuiteResult {
	suite := &SuiteResult{SuiteName: "kmod_fcntl"}
	start := time.Now()
	defer func() { suite.Duration = time.Since(start) }()

	limit := e.config.SuiteTimeout
	if limit == 0 {
		limit = time.Minute
		for _, tc := range cases {
			limit += parseTimeout(tc.Timeout, e.config.DefaultTimeout)
		}
	}
	if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > limit {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, limit)
		defer cancel()
	}

	for _, tc := range cases {
		if ctx.Err() != nil {
			break
		}
		tr := e.Run(ctx, tc)
		suite.Results = append(suite.Results, tr)
		switch {
		case tr.Skipped:
			suite.SkipCount++
		case tr.Passed:
			suite.PassCount++
		default:
			suite.FailCount++
		}
		if done := e.config.OnTestComplete; done != nil {
			done(tr)
		}
		if e.config.StopOnFirstFailure && !tr.Passed && !tr.Skipped {
			break
		}
	}
	return suite
}

// stepDuration estimates how long a step is meant to take from its
// parameters: explicit waits, hang windows and spaced or blocking reads.
func (e *Engine) stepDuration(params map[string]any) time.Duration {
	intervals := func(n float64) time.Duration {
		return time.Duration(n * float64(e.config.Interval))
	}

	var d time.Duration
	if ms, ok := ToFloat64(params[ParamDurationMS]); ok {
		d = max(d, time.Duration(ms*float64(time.Millisecond)))
	}
	if n, ok := ToFloat64(params[ParamIntervals]); ok {
		d = max(d, intervals(n))
	}
	// A hang probe waits out the window, then the released read needs up
	// to one more interval.
	if n, ok := ToFloat64(params[ParamWindowIntervals]); ok {
		d = max(d, intervals(n+1))
	}
	if ms, ok := ToFloat64(params[ParamWindowMS]); ok {
		d = max(d, time.Duration(ms*float64(time.Millisecond))+e.config.Interval)
	}
	if n, ok := ToFloat64(params[ParamCount]); ok {
		spacing, _ := ToFloat64(params[ParamSpacingIntervals])
		d = max(d, intervals(n*(1+spacing)))
	}
	return d
}
