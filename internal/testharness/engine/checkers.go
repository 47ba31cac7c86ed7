package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/kmodtest/kmodfcntl-go/internal/testharness/assertions"
)

// ToFloat64 converts various numeric types to float64 for comparison.
func ToFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case time.Duration:
		return float64(n), true
	default:
		return 0, false
	}
}

func missing(key, stateKey string, expected any) *ExpectResult {
	return &ExpectResult{
		Key: key, Expected: expected, Actual: nil, Passed: false,
		Message: fmt.Sprintf("output key %q not found", stateKey),
	}
}

// timing returns the production interval and tolerance recorded in state.
func timing(state *ExecutionState) (interval, tolerance time.Duration, ok bool) {
	iv, _ := state.Get(KeyIntervalMS)
	ms, ok := ToFloat64(iv)
	if !ok || ms <= 0 {
		return 0, 0, false
	}
	tv, _ := state.Get(KeyToleranceMS)
	tol, _ := ToFloat64(tv)
	return msDuration(ms), msDuration(tol), true
}

func msDuration(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}

func toStrings(v any) ([]string, bool) {
	switch s := v.(type) {
	case []string:
		return s, true
	case []any:
		out := make([]string, len(s))
		for i, item := range s {
			out[i] = fmt.Sprintf("%v", item)
		}
		return out, true
	default:
		return nil, false
	}
}

// CheckerOutcomesMatch compares the "outcomes" output against a list of
// outcome classes. "any" accepts data or would_block.
// Used in YAML as: outcomes_match: [any, would_block, would_block]
func CheckerOutcomesMatch(key string, expected any, state *ExecutionState) *ExpectResult {
	actual, exists := state.Get(KeyOutcomes)
	if !exists {
		return missing(key, KeyOutcomes, expected)
	}
	pattern, ok1 := toStrings(expected)
	got, ok2 := toStrings(actual)
	if !ok1 || !ok2 {
		return &ExpectResult{
			Key: key, Expected: expected, Actual: actual, Passed: false,
			Message: fmt.Sprintf("cannot compare %T with %T", actual, expected),
		}
	}
	r := assertions.OutcomesMatch(pattern, got)
	return &ExpectResult{Key: key, Expected: expected, Actual: actual, Passed: r.Passed, Message: r.Message}
}

func countChecker(stateKey string, atMost bool) ExpectChecker {
	return func(key string, expected any, state *ExecutionState) *ExpectResult {
		actual, exists := state.Get(stateKey)
		if !exists {
			return missing(key, stateKey, expected)
		}
		n, ok1 := ToFloat64(actual)
		limit, ok2 := ToFloat64(expected)
		if !ok1 || !ok2 {
			return &ExpectResult{
				Key: key, Expected: expected, Actual: actual, Passed: false,
				Message: fmt.Sprintf("cannot compare non-numeric values: %T and %T", actual, expected),
			}
		}
		var r *assertions.Result
		if atMost {
			r = assertions.CountAtMost(stateKey, int(n), int(limit))
		} else {
			r = assertions.CountAtLeast(stateKey, int(n), int(limit))
		}
		return &ExpectResult{Key: key, Expected: expected, Actual: actual, Passed: r.Passed, Message: r.Message}
	}
}

// CheckerGapsAtLeastIntervals checks that every gap between successive
// successful reads is at least the given number of production intervals,
// less the tolerance.
// Used in YAML as: gaps_at_least_intervals: 1
func CheckerGapsAtLeastIntervals(key string, expected any, state *ExecutionState) *ExpectResult {
	actual, exists := state.Get(KeyGapsMS)
	if !exists {
		return missing(key, KeyGapsMS, expected)
	}
	n, ok := ToFloat64(expected)
	if !ok {
		return &ExpectResult{Key: key, Expected: expected, Actual: actual, Message: "expected a number of intervals"}
	}
	interval, tolerance, ok := timing(state)
	if !ok {
		return missing(key, KeyIntervalMS, expected)
	}

	var gaps []time.Duration
	switch g := actual.(type) {
	case []float64:
		for _, ms := range g {
			gaps = append(gaps, msDuration(ms))
		}
	case []any:
		for _, v := range g {
			ms, ok := ToFloat64(v)
			if !ok {
				return &ExpectResult{Key: key, Expected: expected, Actual: actual, Message: fmt.Sprintf("non-numeric gap %v", v)}
			}
			gaps = append(gaps, msDuration(ms))
		}
	default:
		return &ExpectResult{Key: key, Expected: expected, Actual: actual, Message: fmt.Sprintf("unexpected gaps type %T", actual)}
	}

	r := assertions.GapsAtLeast(gaps, time.Duration(n*float64(interval)), tolerance)
	return &ExpectResult{Key: key, Expected: expected, Actual: actual, Passed: r.Passed, Message: r.Message}
}

func elapsedChecker(atLeast bool) ExpectChecker {
	return func(key string, expected any, state *ExecutionState) *ExpectResult {
		actual, exists := state.Get(KeyElapsedMS)
		if !exists {
			return missing(key, KeyElapsedMS, expected)
		}
		ms, ok1 := ToFloat64(actual)
		n, ok2 := ToFloat64(expected)
		if !ok1 || !ok2 {
			return &ExpectResult{
				Key: key, Expected: expected, Actual: actual, Passed: false,
				Message: fmt.Sprintf("cannot compare non-numeric values: %T and %T", actual, expected),
			}
		}
		interval, tolerance, ok := timing(state)
		if !ok {
			return missing(key, KeyIntervalMS, expected)
		}
		bound := time.Duration(n * float64(interval))
		var r *assertions.TimingResult
		if atLeast {
			r = assertions.AtLeast(msDuration(ms), bound, tolerance)
		} else {
			r = assertions.Under(msDuration(ms), bound, tolerance)
		}
		return &ExpectResult{Key: key, Expected: expected, Actual: actual, Passed: r.Passed, Message: r.Message}
	}
}

// CheckerNoError verifies the "error" output field is absent, nil, or empty.
// Used in YAML as: no_error: true
func CheckerNoError(key string, expected any, state *ExecutionState) *ExpectResult {
	actual, exists := state.Get(KeyError)
	if !exists || actual == nil || actual == "" {
		return &ExpectResult{
			Key: key, Expected: expected, Actual: actual, Passed: true,
			Message: "no error present",
		}
	}
	return &ExpectResult{
		Key: key, Expected: expected, Actual: actual, Passed: false,
		Message: fmt.Sprintf("error present: %v", actual),
	}
}

// CheckerErrorMessageContains checks that the "error" output contains the
// expected substring (case-insensitive).
func CheckerErrorMessageContains(key string, expected any, state *ExecutionState) *ExpectResult {
	actual, exists := state.Get(KeyError)
	if !exists || actual == nil || actual == "" {
		return missing(key, KeyError, expected)
	}
	msg := strings.ToLower(fmt.Sprintf("%v", actual))
	want := strings.ToLower(fmt.Sprintf("%v", expected))
	passed := strings.Contains(msg, want)
	return &ExpectResult{
		Key: key, Expected: expected, Actual: actual, Passed: passed,
		Message: fmt.Sprintf("error %q contains %q = %v", actual, expected, passed),
	}
}

// RegisterCheckers registers the device checkers with the engine.
func RegisterCheckers(e *Engine) {
	e.RegisterChecker(CheckerNameNoError, CheckerNoError)
	e.RegisterChecker(CheckerNameErrorMessageContains, CheckerErrorMessageContains)
	e.RegisterChecker(CheckerNameOutcomesMatch, CheckerOutcomesMatch)
	e.RegisterChecker(CheckerNameDataCountMax, countChecker(KeyDataCount, true))
	e.RegisterChecker(CheckerNameDataCountMin, countChecker(KeyDataCount, false))
	e.RegisterChecker(CheckerNameWouldBlockCountMin, countChecker(KeyWouldBlockCount, false))
	e.RegisterChecker(CheckerNameGapsAtLeastIntervals, CheckerGapsAtLeastIntervals)
	e.RegisterChecker(CheckerNameElapsedAtLeastIntervals, elapsedChecker(true))
	e.RegisterChecker(CheckerNameElapsedUnderIntervals, elapsedChecker(false))
}
