// Package loader provides YAML test case loading for the kmod_fcntl test
// harness.
package loader

import "strconv"

// TestCase is one scenario from a YAML test file. Steps run in order
// against a single device session and the first failing step ends the test.
type TestCase struct {
	ID          string `yaml:"id"` // e.g. "TC-FCNTL-A"
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Requires names profile items that must be true, e.g. "control" for
	// scenarios that pause the producer.
	Requires []string `yaml:"requires,omitempty"`
	Tags     []string `yaml:"tags,omitempty"`
	Timeout  string   `yaml:"timeout,omitempty"`

	Skip       bool   `yaml:"skip,omitempty"`
	SkipReason string `yaml:"skip_reason,omitempty"`

	Steps []Step `yaml:"steps"`
}

// Step is one device operation. Params and Expect values may refer to
// earlier outputs as "{{ name }}".
type Step struct {
	Action      string         `yaml:"action"` // open, read, control, ...
	Description string         `yaml:"description,omitempty"`
	Params      map[string]any `yaml:"params,omitempty"`
	Expect      map[string]any `yaml:"expect,omitempty"`
	Timeout     string         `yaml:"timeout,omitempty"`
}

// ProfileDevice identifies the device under test.
type ProfileDevice struct {
	Name    string `yaml:"name"`
	Path    string `yaml:"path"`
	Version string `yaml:"version"`
}

// Profile describes what the device under test supports, so tests that
// need a missing capability are filtered out instead of failing.
type Profile struct {
	Name   string        `yaml:"-"` // file name without extension
	Device ProfileDevice `yaml:"device"`

	// Items holds capabilities, either flags (control: true) or numbers
	// (interval_ms: 2000).
	Items map[string]any `yaml:"items"`
}

// ValidationLevel grades a profile problem. Errors stop the run, warnings
// are only printed.
type ValidationLevel string

const (
	ValidationLevelError   ValidationLevel = "error"
	ValidationLevelWarning ValidationLevel = "warning"
)

// ValidationError reports a problem with one profile field.
type ValidationError struct {
	Field   string
	Message string
	Level   ValidationLevel
}

func (e *ValidationError) Error() string { return e.Field + ": " + e.Message }

// LoadError locates a test file problem. Line is 0 when unknown.
type LoadError struct {
	File    string
	Line    int
	Message string
	Cause   error
}

func (e *LoadError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	switch {
	case e.Line > 0:
		return e.File + ":" + strconv.Itoa(e.Line) + ": " + msg
	case e.File != "":
		return e.File + ": " + msg
	}
	return msg
}

func (e *LoadError) Unwrap() error { return e.Cause }
