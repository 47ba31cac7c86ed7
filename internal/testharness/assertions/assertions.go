// Package assertions provides the timing and outcome assertions behind the
// scenario checkers.
package assertions

import (
	"fmt"
	"strings"
	"time"
)

// Outcome classes of a single read as they appear in scenarios.
const (
	OutcomeData       = "data"
	OutcomeWouldBlock = "would_block"
	// OutcomeAny accepts either class.
	OutcomeAny = "any"
)

// Result is a checked condition. Expected and Actual are only set on
// failure.
type Result struct {
	Passed           bool
	Message          string
	Expected, Actual any
}

func Pass(message string) *Result { return &Result{Passed: true, Message: message} }

func Fail(message string, expected, actual any) *Result {
	return &Result{Message: message, Expected: expected, Actual: actual}
}

// TimingResult keeps the measured duration and the bound it was held to.
type TimingResult struct {
	*Result
	Duration  time.Duration
	Bound     time.Duration
	Tolerance time.Duration
}

// AtLeast asserts that actual is no shorter than bound minus tolerance.
// Scheduling only ever adds delay, so there is no upper limit.
func AtLeast(actual, bound, tolerance time.Duration) *TimingResult {
	tr := &TimingResult{Duration: actual, Bound: bound, Tolerance: tolerance}
	if actual >= bound-tolerance {
		tr.Result = Pass(fmt.Sprintf("duration %v >= %v - %v", actual, bound, tolerance))
	} else {
		tr.Result = Fail(
			fmt.Sprintf("duration %v is shorter than %v - %v", actual, bound, tolerance),
			fmt.Sprintf(">= %v", bound-tolerance),
			actual,
		)
	}
	return tr
}

// Under asserts that actual is shorter than bound plus tolerance.
func Under(actual, bound, tolerance time.Duration) *TimingResult {
	tr := &TimingResult{Duration: actual, Bound: bound, Tolerance: tolerance}
	if actual < bound+tolerance {
		tr.Result = Pass(fmt.Sprintf("duration %v < %v + %v", actual, bound, tolerance))
	} else {
		tr.Result = Fail(
			fmt.Sprintf("duration %v exceeds %v + %v", actual, bound, tolerance),
			fmt.Sprintf("< %v", bound+tolerance),
			actual,
		)
	}
	return tr
}

// GapsAtLeast asserts that every gap is at least bound minus tolerance.
func GapsAtLeast(gaps []time.Duration, bound, tolerance time.Duration) *Result {
	for i, g := range gaps {
		if r := AtLeast(g, bound, tolerance); !r.Passed {
			r.Message = fmt.Sprintf("gap %d: %s", i, r.Message)
			r.Actual = gaps
			return r.Result
		}
	}
	return Pass(fmt.Sprintf("%d gaps >= %v - %v", len(gaps), bound, tolerance))
}

// OutcomesMatch asserts that actual has one entry per pattern entry and that
// each entry equals its pattern, OutcomeAny matching either class.
func OutcomesMatch(pattern, actual []string) *Result {
	if len(pattern) != len(actual) {
		return Fail(fmt.Sprintf("expected %d outcomes, got %d", len(pattern), len(actual)), pattern, actual)
	}
	for i, want := range pattern {
		got := actual[i]
		if want == OutcomeAny && (got == OutcomeData || got == OutcomeWouldBlock) {
			continue
		}
		if want != got {
			return Fail(fmt.Sprintf("outcome %d: expected %s, got %s", i, want, got), pattern, actual)
		}
	}
	return Pass("outcomes [" + strings.Join(actual, " ") + "]")
}

// CountAtMost asserts n <= limit.
func CountAtMost(what string, n, limit int) *Result {
	if n <= limit {
		return Pass(fmt.Sprintf("%s %d <= %d", what, n, limit))
	}
	return Fail(fmt.Sprintf("%s %d exceeds %d", what, n, limit), limit, n)
}

// CountAtLeast asserts n >= limit.
func CountAtLeast(what string, n, limit int) *Result {
	if n >= limit {
		return Pass(fmt.Sprintf("%s %d >= %d", what, n, limit))
	}
	return Fail(fmt.Sprintf("%s %d below %d", what, n, limit), limit, n)
}
