package commands

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/kmodtest/kmodfcntl-go/pkg/log"
)

// Stats holds aggregate statistics about a trace file.
type Stats struct {
	TotalEvents         int
	EventsByOperation   map[log.Operation]int
	OutcomesByOperation map[log.Operation]map[log.Outcome]int
	Handles             map[string]*HandleStats
	BytesRead           int
	LongestRead         time.Duration
	Errors              int
	Pending             int
	TimeRange           struct {
		Start time.Time
		End   time.Time
	}
}

// HandleStats holds statistics for a single handle.
type HandleStats struct {
	FirstSeen time.Time
	LastSeen  time.Time
	Events    int
	Path      string
}

// RunStats analyzes the trace file and prints statistics.
func RunStats(path string, w io.Writer) error {
	events, err := readAll(path, log.Filter{})
	if err != nil {
		return err
	}
	printStats(w, collectStats(events))
	return nil
}

func collectStats(events []log.Event) *Stats {
	stats := &Stats{
		EventsByOperation:   make(map[log.Operation]int),
		OutcomesByOperation: make(map[log.Operation]map[log.Outcome]int),
		Handles:             make(map[string]*HandleStats),
	}

	for _, event := range events {
		stats.TotalEvents++
		stats.EventsByOperation[event.Operation]++

		// Track time range
		if stats.TimeRange.Start.IsZero() || event.Timestamp.Before(stats.TimeRange.Start) {
			stats.TimeRange.Start = event.Timestamp
		}
		if event.Timestamp.After(stats.TimeRange.End) {
			stats.TimeRange.End = event.Timestamp
		}

		// Track handle stats
		h, ok := stats.Handles[event.HandleID]
		if !ok {
			h = &HandleStats{
				FirstSeen: event.Timestamp,
				LastSeen:  event.Timestamp,
			}
			stats.Handles[event.HandleID] = h
		}
		h.Events++
		if event.Timestamp.After(h.LastSeen) {
			h.LastSeen = event.Timestamp
		}
		if event.DevicePath != "" && h.Path == "" {
			h.Path = event.DevicePath
		}

		if event.Phase == log.PhaseFinished {
			outcomes := stats.OutcomesByOperation[event.Operation]
			if outcomes == nil {
				outcomes = make(map[log.Outcome]int)
				stats.OutcomesByOperation[event.Operation] = outcomes
			}
			outcomes[event.Outcome]++

			if event.Operation == log.OperationRead {
				if event.Read != nil {
					stats.BytesRead += len(event.Read.Data)
				}
				stats.LongestRead = max(stats.LongestRead, event.Duration)
			}
		}

		// Count errors
		if event.Error != nil {
			stats.Errors++
		}
	}

	stats.Pending = len(log.Unmatched(events))
	return stats
}

var operations = []log.Operation{
	log.OperationOpen, log.OperationControl, log.OperationSetMode,
	log.OperationRead, log.OperationClose, log.OperationSleep,
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w, "=== kmod_fcntl Trace Statistics ===")
	fmt.Fprintln(w)

	// Time range
	if stats.TotalEvents > 0 {
		fmt.Fprintf(w, "Time Range: %s to %s\n",
			stats.TimeRange.Start.Format(time.RFC3339),
			stats.TimeRange.End.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n", stats.TimeRange.End.Sub(stats.TimeRange.Start).Round(time.Millisecond))
		fmt.Fprintln(w)
	}

	// Total events
	fmt.Fprintf(w, "Total Events: %d\n", stats.TotalEvents)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Operation:")
	for _, op := range operations {
		count := stats.EventsByOperation[op]
		if count == 0 {
			continue
		}
		fmt.Fprintf(w, "  %-12s %d", op.String()+":", count)
		outcomes := stats.OutcomesByOperation[op]
		for _, oc := range []log.Outcome{log.OutcomeOK, log.OutcomeWouldBlock, log.OutcomeError} {
			if n := outcomes[oc]; n > 0 {
				fmt.Fprintf(w, "  %s=%d", oc, n)
			}
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w)

	if stats.EventsByOperation[log.OperationRead] > 0 {
		fmt.Fprintf(w, "Bytes Read:   %d\n", stats.BytesRead)
		fmt.Fprintf(w, "Longest Read: %s\n", formatDuration(stats.LongestRead))
		fmt.Fprintln(w)
	}

	// Handles
	fmt.Fprintf(w, "Handles: %d\n", len(stats.Handles))
	if len(stats.Handles) > 0 {
		// Sort by first seen time
		type handleInfo struct {
			id    string
			stats *HandleStats
		}
		handles := make([]handleInfo, 0, len(stats.Handles))
		for id, hs := range stats.Handles {
			handles = append(handles, handleInfo{id, hs})
		}
		sort.Slice(handles, func(i, j int) bool {
			return handles[i].stats.FirstSeen.Before(handles[j].stats.FirstSeen)
		})

		fmt.Fprintln(w)
		for _, h := range handles {
			duration := h.stats.LastSeen.Sub(h.stats.FirstSeen).Round(time.Millisecond)
			fmt.Fprintf(w, "  [%s] %d events, duration %s\n", shortenID(h.id), h.stats.Events, duration)
			if h.stats.Path != "" {
				fmt.Fprintf(w, "           Path: %s\n", h.stats.Path)
			}
		}
	}

	if stats.Errors > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Errors: %d\n", stats.Errors)
	}
	if stats.Pending > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Pending: %d operation(s) started without finishing\n", stats.Pending)
	}
}
