package log

import (
	"errors"
	"io"
	"iter"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Filter selects trace events. Zero fields match everything; the time
// range includes TimeStart and excludes TimeEnd.
type Filter struct {
	HandleID  string
	Operation *Operation
	Phase     *Phase
	Outcome   *Outcome
	TimeStart *time.Time
	TimeEnd   *time.Time

	// ErrorsOnly drops events without error data.
	ErrorsOnly bool
}

// Matches reports whether e passes every set criterion.
func (f *Filter) Matches(e Event) bool {
	return (f.HandleID == "" || e.HandleID == f.HandleID) &&
		(f.Operation == nil || e.Operation == *f.Operation) &&
		(f.Phase == nil || e.Phase == *f.Phase) &&
		(f.Outcome == nil || e.Outcome == *f.Outcome) &&
		(f.TimeStart == nil || !e.Timestamp.Before(*f.TimeStart)) &&
		(f.TimeEnd == nil || e.Timestamp.Before(*f.TimeEnd)) &&
		(!f.ErrorsOnly || e.Error != nil)
}

// Reader streams events from a trace file without loading it whole.
type Reader struct {
	f      *os.File
	dec    *cbor.Decoder
	filter Filter
}

// NewReader opens path for reading every event.
func NewReader(path string) (*Reader, error) { return NewFilteredReader(path, Filter{}) }

// NewFilteredReader opens path for reading the events filter matches.
func NewFilteredReader(path string, filter Filter) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &Reader{f: f, dec: NewDecoder(f), filter: filter}, nil
}

// Next returns the next matching event, or io.EOF after the last one.
func (r *Reader) Next() (Event, error) {
	for {
		var e Event
		if err := r.dec.Decode(&e); err != nil {
			if errors.Is(err, io.EOF) {
				err = io.EOF
			}
			return Event{}, err
		}
		if r.filter.Matches(e) {
			return e, nil
		}
	}
}

// All ranges over the remaining matching events. A decode error is yielded
// once and ends the sequence; the end of the file is not an error.
func (r *Reader) All() iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		for {
			e, err := r.Next()
			if err == io.EOF {
				return
			}
			if !yield(e, err) || err != nil {
				return
			}
		}
	}
}

func (r *Reader) Close() error { return r.f.Close() }

// Unmatched returns the STARTED events that have no FINISHED counterpart in
// the given stream, keyed by handle and sequence number. A non-empty result
// means an operation was still in flight when the trace ended.
func Unmatched(events []Event) []Event {
	type key struct {
		handle string
		seq    uint64
	}
	open := make(map[key]int)
	var order []key
	var started []Event
	for _, e := range events {
		k := key{e.HandleID, e.Seq}
		switch e.Phase {
		case PhaseStarted:
			open[k] = len(started)
			order = append(order, k)
			started = append(started, e)
		case PhaseFinished:
			delete(open, k)
		}
	}

	var out []Event
	for _, k := range order {
		if i, ok := open[k]; ok {
			out = append(out, started[i])
			delete(open, k)
		}
	}
	return out
}
