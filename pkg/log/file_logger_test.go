package log

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func readTrace(t *testing.T, path string) []Event {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read trace: %v", err)
	}
	dec := NewDecoder(bytes.NewReader(data))
	var events []Event
	for {
		var e Event
		if dec.Decode(&e) != nil {
			return events
		}
		events = append(events, e)
	}
}

func newTraceFile(t *testing.T) (*FileLogger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trace.cbor")
	l, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l, path
}

func TestFileLoggerRecordsRead(t *testing.T) {
	l, path := newTraceFile(t)
	if l.Path() != path {
		t.Errorf("Path() = %q, want %q", l.Path(), path)
	}

	l.Log(Event{
		Timestamp: time.Now(),
		HandleID:  "h-123",
		Operation: OperationRead,
		Phase:     PhaseFinished,
		Outcome:   OutcomeOK,
		Read:      &ReadEvent{Requested: 1, Blocking: true, Data: []byte("M")},
	})
	if l.Written() != 1 {
		t.Errorf("Written() = %d, want 1", l.Written())
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	events := readTrace(t, path)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if e := events[0]; e.HandleID != "h-123" || e.Read == nil || string(e.Read.Data) != "M" {
		t.Errorf("decoded %+v", e)
	}
}

func TestFileLoggerAppendsAcrossRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.cbor")
	for _, id := range []string{"h-1", "h-2"} {
		l, err := NewFileLogger(path)
		if err != nil {
			t.Fatalf("NewFileLogger: %v", err)
		}
		l.Log(Event{Timestamp: time.Now(), HandleID: id, Operation: OperationOpen})
		l.Close()
	}

	events := readTrace(t, path)
	if len(events) != 2 || events[0].HandleID != "h-1" || events[1].HandleID != "h-2" {
		t.Errorf("events = %+v", events)
	}
}

func TestFileLoggerConcurrentHandles(t *testing.T) {
	l, path := newTraceFile(t)

	const handles, reads = 8, 50
	var wg sync.WaitGroup
	for h := range handles {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for seq := range reads {
				l.Log(Event{
					Timestamp: time.Now(),
					HandleID:  fmt.Sprintf("h-%d", h),
					Operation: OperationRead,
					Seq:       uint64(seq + 1),
				})
			}
		}()
	}
	wg.Wait()
	l.Close()

	if got := len(readTrace(t, path)); got != handles*reads {
		t.Errorf("decoded %d events, want %d", got, handles*reads)
	}
}

func TestFileLoggerIgnoresEventsAfterClose(t *testing.T) {
	l, _ := newTraceFile(t)
	l.Log(Event{Timestamp: time.Now(), HandleID: "h-1"})

	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	l.Log(Event{Timestamp: time.Now(), HandleID: "h-2"})
	if l.Written() != 1 {
		t.Errorf("Written() = %d, want 1", l.Written())
	}
}

func TestNewFileLoggerMissingDir(t *testing.T) {
	if _, err := NewFileLogger(filepath.Join(t.TempDir(), "no", "such", "trace.cbor")); err == nil {
		t.Fatal("expected an error for a missing directory")
	}
}
