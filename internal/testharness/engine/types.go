// Package engine executes YAML test cases step by step against registered
// action handlers and checks each step's expectations.
package engine

import (
	"context"
	"strings"
	"time"

	"github.com/kmodtest/kmodfcntl-go/internal/testharness/loader"
)

// TestResult is the outcome of one test case.
type TestResult struct {
	TestCase    *loader.TestCase
	Passed      bool
	Error       error
	StepResults []*StepResult

	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration

	// Skipped is set when the device profile lacks a required item;
	// SkipReason names it.
	Skipped    bool
	SkipReason string
}

// StepResult is the outcome of one step.
type StepResult struct {
	Step      *loader.Step
	StepIndex int
	Passed    bool
	Error     error
	Duration  time.Duration

	// ExpectResults is keyed by expectation key.
	ExpectResults map[string]*ExpectResult

	// Output is what the action handler returned, including the outputs of
	// a step that failed.
	Output map[string]any
}

// ExpectResult is the result of checking one expectation.
type ExpectResult struct {
	Key      string
	Expected any
	Actual   any
	Passed   bool
	Message  string
}

// SuiteResult is the outcome of a run.
type SuiteResult struct {
	SuiteName string
	Results   []*TestResult
	PassCount int
	FailCount int
	SkipCount int
	Duration  time.Duration
}

// ActionHandler runs one step action. The returned outputs are stored in
// the execution state even when err is non-nil.
type ActionHandler func(ctx context.Context, step *loader.Step, state *ExecutionState) (map[string]any, error)

// ExpectChecker checks one expectation against the state after a step.
type ExpectChecker func(key string, expected any, state *ExecutionState) *ExpectResult

// ExecutionState is shared by the steps of one test. Outputs persist from
// step to step, so an output a step does not set keeps its earlier value.
type ExecutionState struct {
	Outputs map[string]any
	Context context.Context
	// Custom holds handler state that is not a step output.
	Custom map[string]any
}

// NewExecutionState creates an empty execution state.
func NewExecutionState(ctx context.Context) *ExecutionState {
	return &ExecutionState{
		Outputs: make(map[string]any),
		Custom:  make(map[string]any),
		Context: ctx,
	}
}

// Get returns an output. A key of the form "{{ name }}" refers to the
// output name.
func (s *ExecutionState) Get(key string) (any, bool) {
	if ref, ok := strings.CutPrefix(key, "{{"); ok {
		if ref, ok = strings.CutSuffix(ref, "}}"); ok {
			key = strings.TrimSpace(ref)
		}
	}
	v, ok := s.Outputs[key]
	return v, ok
}

// Set stores an output.
func (s *ExecutionState) Set(key string, value any) {
	s.Outputs[key] = value
}

// EngineConfig configures the test engine.
type EngineConfig struct {
	// DefaultTimeout applies to test cases without a timeout of their own.
	DefaultTimeout time.Duration

	// StepTimeout is the minimum time a step may take.
	StepTimeout time.Duration

	// StepBuffer is added to the time a step is expected to take (waits,
	// spaced reads, hang windows) when that exceeds StepTimeout.
	StepBuffer time.Duration

	// Interval is the production interval. Step parameters given in
	// intervals are converted with it when sizing step timeouts.
	Interval time.Duration

	// SuiteTimeout bounds RunSuite. Zero derives it from the test timeouts.
	SuiteTimeout time.Duration

	StopOnFirstFailure bool

	// Profile describes the device under test. Tests whose requirements it
	// does not satisfy are skipped. Nil runs everything.
	Profile *loader.Profile

	// SetupTest runs before the first step of every test, with the test's
	// context and state. An error fails the test without running steps.
	SetupTest func(ctx context.Context, tc *loader.TestCase, state *ExecutionState) error

	// TeardownTest runs after every test that passed SetupTest, even when a
	// step failed.
	TeardownTest func(ctx context.Context, tc *loader.TestCase, state *ExecutionState)

	// OnTestComplete is called by RunSuite after each test.
	OnTestComplete func(result *TestResult)
}

// DefaultConfig returns the engine defaults for the 2s reference device.
func DefaultConfig() *EngineConfig {
	return &EngineConfig{
		DefaultTimeout: 2 * time.Minute,
		StepTimeout:    10 * time.Second,
		StepBuffer:     5 * time.Second,
		Interval:       2 * time.Second,
	}
}
