package commands

import (
	"fmt"
	"io"
	"time"

	"github.com/kmodtest/kmodfcntl-go/pkg/log"
)

// FilterOptions are the kmod-log filter flags. Times are RFC 3339.
type FilterOptions struct {
	Output string

	HandleID   string
	TimeStart  string
	TimeEnd    string
	Operation  string
	Phase      string
	Outcome    string
	ErrorsOnly bool
}

// BuildFilter parses the options into a log.Filter.
func (o FilterOptions) BuildFilter() (f log.Filter, err error) {
	f = log.Filter{HandleID: o.HandleID, ErrorsOnly: o.ErrorsOnly}
	if f.TimeStart, err = parseTime("time-start", o.TimeStart); err != nil {
		return f, err
	}
	if f.TimeEnd, err = parseTime("time-end", o.TimeEnd); err != nil {
		return f, err
	}
	if f.Operation, err = optional(o.Operation, ParseOperationFlag); err != nil {
		return f, err
	}
	if f.Phase, err = optional(o.Phase, ParsePhaseFlag); err != nil {
		return f, err
	}
	f.Outcome, err = optional(o.Outcome, ParseOutcomeFlag)
	return f, err
}

func optional[T any](s string, parse func(string) (T, error)) (*T, error) {
	if s == "" {
		return nil, nil
	}
	v, err := parse(s)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func parseTime(flag, s string) (*time.Time, error) {
	return optional(s, func(s string) (time.Time, error) {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return t, fmt.Errorf("invalid %s format: %w", flag, err)
		}
		return t, nil
	})
}

// RunFilter copies the matching events of the trace at path into a new
// trace file.
func RunFilter(path string, opts FilterOptions, w io.Writer) error {
	filter, err := opts.BuildFilter()
	if err != nil {
		return err
	}
	out, err := log.NewFileLogger(opts.Output)
	if err != nil {
		return fmt.Errorf("failed to create output logger: %w", err)
	}
	if err := eachEvent(path, filter, out.Log); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close output: %w", err)
	}
	fmt.Fprintf(w, "Filtered %d events to %s\n", out.Written(), opts.Output)
	return nil
}
