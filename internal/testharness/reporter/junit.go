package reporter

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/kmodtest/kmodfcntl-go/internal/testharness/engine"
)

// JUnitReporter writes a JUnit testsuite for CI systems. Each scenario is
// a testcase whose classname is its ID.
type JUnitReporter struct {
	w io.Writer
}

func NewJUnitReporter(w io.Writer) *JUnitReporter { return &JUnitReporter{w: w} }

type junitSuite struct {
	XMLName  xml.Name    `xml:"testsuite"`
	Name     string      `xml:"name,attr"`
	Tests    int         `xml:"tests,attr"`
	Failures int         `xml:"failures,attr"`
	Skipped  int         `xml:"skipped,attr"`
	Time     string      `xml:"time,attr"`
	Cases    []junitCase `xml:"testcase"`
}

type junitCase struct {
	Name      string `xml:"name,attr"`
	Classname string `xml:"classname,attr"`
	Time      string `xml:"time,attr"`
	Skipped   *junitSkipped `xml:"skipped"`
	Failure   *junitFailure `xml:"failure"`
}

type junitSkipped struct {
	Message string `xml:"message,attr"`
}

// junitFailure lists each failed step in its body.
type junitFailure struct {
	Message string `xml:"message,attr"`
	Detail  string `xml:",cdata"`
}

func seconds(d time.Duration) string { return fmt.Sprintf("%.3f", d.Seconds()) }

func (r *JUnitReporter) ReportTest(*engine.TestResult) {}

func (r *JUnitReporter) ReportSummary(s *engine.SuiteResult) {
	suite := junitSuite{
		Name:     s.SuiteName,
		Tests:    len(s.Results),
		Failures: s.FailCount,
		Skipped:  s.SkipCount,
		Time:     seconds(s.Duration),
	}
	for _, tr := range s.Results {
		suite.Cases = append(suite.Cases, junitTestCase(tr))
	}

	io.WriteString(r.w, xml.Header)
	enc := xml.NewEncoder(r.w)
	enc.Indent("", "  ")
	if err := enc.Encode(suite); err != nil {
		fmt.Fprintf(r.w, "<!-- encode failed: %v -->\n", err)
		return
	}
	io.WriteString(r.w, "\n")
}

func junitTestCase(tr *engine.TestResult) junitCase {
	c := junitCase{Name: tr.TestCase.Name, Classname: tr.TestCase.ID, Time: seconds(tr.Duration)}
	switch {
	case tr.Skipped:
		c.Skipped = &junitSkipped{Message: tr.SkipReason}
	case !tr.Passed && tr.Error != nil:
		var b strings.Builder
		for _, sr := range tr.StepResults {
			if !sr.Passed {
				fmt.Fprintf(&b, "Step %d (%s): %v\n", sr.StepIndex+1, sr.Step.Action, sr.Error)
			}
		}
		c.Failure = &junitFailure{Message: tr.Error.Error(), Detail: b.String()}
	}
	return c
}
