// Package reporter formats scenario results as text, JSON or JUnit XML.
package reporter

import (
	"io"
	"slices"
	"time"

	"github.com/kmodtest/kmodfcntl-go/internal/testharness/engine"
)

// Reporter receives results as tests finish and the suite totals at the
// end. Document formats write everything from ReportSummary.
type Reporter interface {
	ReportTest(result *engine.TestResult)
	ReportSummary(result *engine.SuiteResult)
}

// New picks the reporter for format: "json", "junit", or text for anything
// else.
func New(format string, w io.Writer, verbose bool) Reporter {
	switch format {
	case "json":
		return NewJSONReporter(w, true)
	case "junit":
		return NewJUnitReporter(w)
	}
	return NewTextReporter(w, verbose)
}

func status(tr *engine.TestResult) string {
	if tr.Skipped {
		return "skipped"
	}
	return passFail(tr.Passed)
}

func passFail(ok bool) string {
	if ok {
		return "passed"
	}
	return "failed"
}

// passRate leaves skipped tests out.
func passRate(s *engine.SuiteResult) float64 {
	if ran := s.PassCount + s.FailCount; ran > 0 {
		return 100 * float64(s.PassCount) / float64(ran)
	}
	return 0
}

func ms(d time.Duration) time.Duration { return d.Round(time.Millisecond) }

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
