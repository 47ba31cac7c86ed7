// Package commands implements the kmod-log CLI commands.
package commands

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/kmodtest/kmodfcntl-go/pkg/log"
)

// ViewOptions specifies which events the view command prints.
type ViewOptions struct {
	Filter log.Filter

	// Pending prints only operations that started but never finished.
	Pending bool
}

// formatEvent writes a human-readable representation of the event to w.
func formatEvent(w io.Writer, event log.Event) {
	// Header line: timestamp [handle:id] #seq OPERATION PHASE
	ts := event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z")
	fmt.Fprintf(w, "%s [handle:%s] #%d %s %s", ts, shortenID(event.HandleID), event.Seq,
		event.Operation, event.Phase)
	if event.Phase == log.PhaseFinished {
		fmt.Fprintf(w, " %s in %s", event.Outcome, formatDuration(event.Duration))
	}
	fmt.Fprintln(w)

	if event.DevicePath != "" {
		fmt.Fprintf(w, "  Path: %s\n", event.DevicePath)
	}
	switch {
	case event.Control != nil:
		formatControlDetails(w, event.Control)
	case event.Mode != nil:
		formatModeDetails(w, event.Mode)
	case event.Read != nil:
		formatReadDetails(w, event.Read)
	case event.State != nil:
		formatStateDetails(w, event.State)
	}
	if event.Error != nil {
		formatErrorDetails(w, event.Error)
	}

	fmt.Fprintln(w) // Blank line between events
}

// shortenID returns the first 8 characters of a handle ID.
func shortenID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

func formatControlDetails(w io.Writer, c *log.ControlEvent) {
	fmt.Fprintf(w, "  Request: 0x%08X  Arg: %d", c.Request, c.Arg)
	if c.Command != "" {
		fmt.Fprintf(w, " (%s)", c.Command)
	}
	fmt.Fprintln(w)
}

func formatModeDetails(w io.Writer, m *log.ModeEvent) {
	mode := "non_blocking"
	if m.Blocking {
		mode = "blocking"
	}
	fmt.Fprintf(w, "  Mode: %s  Flags: 0x%x -> 0x%x", mode, m.OldFlags, m.NewFlags)
	if !m.Changed {
		fmt.Fprint(w, " (unchanged)")
	}
	fmt.Fprintln(w)
}

func formatReadDetails(w io.Writer, r *log.ReadEvent) {
	mode := "non_blocking"
	if r.Blocking {
		mode = "blocking"
	}
	fmt.Fprintf(w, "  Requested: %d  Mode: %s\n", r.Requested, mode)
	if len(r.Data) > 0 {
		fmt.Fprintf(w, "  Data: %s %q\n", hex.EncodeToString(r.Data), r.Data)
	}
	if r.Retained > 0 {
		fmt.Fprintf(w, "  Retained: %d bytes\n", r.Retained)
	}
}

func formatStateDetails(w io.Writer, s *log.StateEvent) {
	if s.OldState != "" {
		fmt.Fprintf(w, "  %s -> %s\n", s.OldState, s.NewState)
	} else {
		fmt.Fprintf(w, "  -> %s\n", s.NewState)
	}
	if s.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", s.Reason)
	}
}

func formatErrorDetails(w io.Writer, err *log.ErrorEventData) {
	fmt.Fprintf(w, "  Error: %s: %s\n", err.Kind, err.Message)
	if err.Errno != nil {
		fmt.Fprintf(w, "  Errno: %d\n", *err.Errno)
	}
}

// formatDuration formats a duration for display.
func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%.3fus", float64(d.Nanoseconds())/1000)
	}
	if d < time.Second {
		return fmt.Sprintf("%.3fms", float64(d.Microseconds())/1000)
	}
	return fmt.Sprintf("%.3fs", d.Seconds())
}

// ParseOperationFlag parses an operation name (case-insensitive).
func ParseOperationFlag(s string) (log.Operation, error) {
	switch strings.ToLower(s) {
	case "open":
		return log.OperationOpen, nil
	case "control":
		return log.OperationControl, nil
	case "set_mode", "mode":
		return log.OperationSetMode, nil
	case "read":
		return log.OperationRead, nil
	case "close":
		return log.OperationClose, nil
	case "sleep":
		return log.OperationSleep, nil
	default:
		return 0, fmt.Errorf("invalid operation: %s (must be open, control, set_mode, read, close, or sleep)", s)
	}
}

// ParsePhaseFlag parses a phase name (case-insensitive).
func ParsePhaseFlag(s string) (log.Phase, error) {
	switch strings.ToLower(s) {
	case "started":
		return log.PhaseStarted, nil
	case "finished":
		return log.PhaseFinished, nil
	default:
		return 0, fmt.Errorf("invalid phase: %s (must be started or finished)", s)
	}
}

// ParseOutcomeFlag parses an outcome name (case-insensitive).
func ParseOutcomeFlag(s string) (log.Outcome, error) {
	switch strings.ToLower(s) {
	case "ok":
		return log.OutcomeOK, nil
	case "would_block":
		return log.OutcomeWouldBlock, nil
	case "error":
		return log.OutcomeError, nil
	default:
		return 0, fmt.Errorf("invalid outcome: %s (must be ok, would_block, or error)", s)
	}
}

// eachEvent calls fn for every event of the trace at path that filter
// matches.
func eachEvent(path string, filter log.Filter, fn func(log.Event)) error {
	r, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer r.Close()
	for e, err := range r.All() {
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		fn(e)
	}
	return nil
}

func readAll(path string, filter log.Filter) (events []log.Event, err error) {
	err = eachEvent(path, filter, func(e log.Event) { events = append(events, e) })
	return events, err
}

// RunView prints the matching events of a trace. With Pending set it
// prints only operations that started and never finished.
func RunView(path string, opts ViewOptions, w io.Writer) error {
	if !opts.Pending {
		return eachEvent(path, opts.Filter, func(e log.Event) { formatEvent(w, e) })
	}
	// Pairing needs both phases, so only the handle narrows the read.
	events, err := readAll(path, log.Filter{HandleID: opts.Filter.HandleID})
	if err != nil {
		return err
	}
	for _, e := range log.Unmatched(events) {
		if opts.Filter.Matches(e) {
			formatEvent(w, e)
		}
	}
	return nil
}
