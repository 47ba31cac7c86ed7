package reporter

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/kmodtest/kmodfcntl-go/internal/testharness/engine"
)

// JSONReporter writes the suite as a single JSON document.
type JSONReporter struct {
	w      io.Writer
	indent bool
}

func NewJSONReporter(w io.Writer, indent bool) *JSONReporter {
	return &JSONReporter{w: w, indent: indent}
}

// SuiteReport is the JSON document. Durations are Go duration strings
// rounded to the millisecond.
type SuiteReport struct {
	SuiteName string       `json:"suite_name"`
	Duration  string       `json:"duration"`
	Total     int          `json:"total"`
	Passed    int          `json:"passed"`
	Failed    int          `json:"failed"`
	Skipped   int          `json:"skipped"`
	PassRate  float64      `json:"pass_rate"`
	Tests     []TestReport `json:"tests"`
}

type TestReport struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	Status     string       `json:"status"` // passed, failed or skipped
	Duration   string       `json:"duration"`
	Error      string       `json:"error,omitempty"`
	SkipReason string       `json:"skip_reason,omitempty"`
	Steps      []StepReport `json:"steps,omitempty"`
}

// StepReport carries the step's outputs so a failed expectation can be
// compared with everything the device returned.
type StepReport struct {
	Index    int                     `json:"index"`
	Action   string                  `json:"action"`
	Status   string                  `json:"status"`
	Duration string                  `json:"duration"`
	Error    string                  `json:"error,omitempty"`
	Expects  map[string]ExpectReport `json:"expects,omitempty"`
	Outputs  map[string]any          `json:"outputs,omitempty"`
}

type ExpectReport struct {
	Passed   bool   `json:"passed"`
	Expected any    `json:"expected"`
	Actual   any    `json:"actual"`
	Message  string `json:"message"`
}

func (r *JSONReporter) ReportTest(*engine.TestResult) {}

func (r *JSONReporter) ReportSummary(s *engine.SuiteResult) {
	doc := SuiteReport{
		SuiteName: s.SuiteName,
		Duration:  ms(s.Duration).String(),
		Total:     len(s.Results),
		Passed:    s.PassCount,
		Failed:    s.FailCount,
		Skipped:   s.SkipCount,
		PassRate:  passRate(s),
		Tests:     make([]TestReport, len(s.Results)),
	}
	for i, tr := range s.Results {
		doc.Tests[i] = testReport(tr)
	}

	enc := json.NewEncoder(r.w)
	if r.indent {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(doc); err != nil {
		fmt.Fprintf(r.w, "{\"error\": %q}\n", "failed to marshal: "+err.Error())
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func testReport(tr *engine.TestResult) TestReport {
	t := TestReport{
		ID:         tr.TestCase.ID,
		Name:       tr.TestCase.Name,
		Status:     status(tr),
		Duration:   ms(tr.Duration).String(),
		Error:      errString(tr.Error),
		SkipReason: tr.SkipReason,
	}
	for _, sr := range tr.StepResults {
		step := StepReport{
			Index:    sr.StepIndex,
			Action:   sr.Step.Action,
			Status:   passFail(sr.Passed),
			Duration: ms(sr.Duration).String(),
			Error:    errString(sr.Error),
			Outputs:  sr.Output,
		}
		for key, er := range sr.ExpectResults {
			if step.Expects == nil {
				step.Expects = make(map[string]ExpectReport, len(sr.ExpectResults))
			}
			step.Expects[key] = ExpectReport{er.Passed, er.Expected, er.Actual, er.Message}
		}
		t.Steps = append(t.Steps, step)
	}
	return t
}
