package reporter

import (
	"cmp"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/kmodtest/kmodfcntl-go/internal/testharness/engine"
)

// slowest is how many tests the summary ranks by duration.
const slowest = 5

// TextReporter prints a line per test as it finishes. Failed steps are
// always listed; verbose mode lists every step with its expectations.
type TextReporter struct {
	w       io.Writer
	verbose bool
}

func NewTextReporter(w io.Writer, verbose bool) *TextReporter {
	return &TextReporter{w: w, verbose: verbose}
}

func (r *TextReporter) ReportTest(tr *engine.TestResult) {
	const indent = "       "
	fmt.Fprintf(r.w, "[%s] %s - %s (%s)\n",
		strings.ToUpper(status(tr)[:4]), tr.TestCase.ID, tr.TestCase.Name, ms(tr.Duration))
	if tr.Skipped && tr.SkipReason != "" {
		fmt.Fprintln(r.w, indent+"Skip reason:", tr.SkipReason)
	}
	if !tr.Passed && tr.Error != nil {
		fmt.Fprintln(r.w, indent+"Error:", tr.Error)
	}
	for _, sr := range tr.StepResults {
		if sr.Passed && !r.verbose {
			continue
		}
		r.step(sr)
	}
}

func (r *TextReporter) step(sr *engine.StepResult) {
	const indent = "           "
	label := sr.Step.Action
	if sr.Step.Description != "" {
		label += ": " + sr.Step.Description
	}
	fmt.Fprintf(r.w, "    [%s] Step %d %s (%s)\n",
		strings.ToUpper(passFail(sr.Passed)[:4]), sr.StepIndex+1, label, ms(sr.Duration))
	if !sr.Passed && sr.Error != nil {
		fmt.Fprintln(r.w, indent+"Error:", sr.Error)
	}
	for _, key := range sortedKeys(sr.ExpectResults) {
		er := sr.ExpectResults[key]
		mark := "OK"
		if !er.Passed {
			mark = "FAILED"
		}
		fmt.Fprintf(r.w, "%s[%s] %s: %s\n", indent, mark, key, er.Message)
	}
}

// ReportSummary prints the totals and, once at least three tests ran, the
// slowest of them.
func (r *TextReporter) ReportSummary(s *engine.SuiteResult) {
	fmt.Fprintf(r.w, "\n--- Summary: %s ---\n", s.SuiteName)
	for _, row := range []struct {
		label string
		n     int
	}{
		{"Total:  ", len(s.Results)},
		{"Passed: ", s.PassCount},
		{"Failed: ", s.FailCount},
		{"Skipped:", s.SkipCount},
	} {
		fmt.Fprintln(r.w, row.label, row.n)
	}
	if s.PassCount+s.FailCount > 0 {
		fmt.Fprintf(r.w, "Pass Rate: %.1f%%\n", passRate(s))
	}
	fmt.Fprintln(r.w, "Duration:", ms(s.Duration))

	ran := slices.DeleteFunc(slices.Clone(s.Results), func(tr *engine.TestResult) bool { return tr.Skipped })
	if len(ran) < 3 {
		return
	}
	slices.SortStableFunc(ran, func(a, b *engine.TestResult) int { return cmp.Compare(b.Duration, a.Duration) })
	fmt.Fprintln(r.w, "\n--- Slowest Tests ---")
	for _, tr := range ran[:min(slowest, len(ran))] {
		fmt.Fprintf(r.w, "  %-22s %s\n", tr.TestCase.ID, ms(tr.Duration))
	}
}
