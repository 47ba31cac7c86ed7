package commands

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kmodtest/kmodfcntl-go/pkg/log"
)

const (
	handleA = "0a1b2c3d-0000-4000-8000-000000000001"
	handleB = "9f8e7d6c-0000-4000-8000-000000000002"
)

var base = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func createTestLogFile(t *testing.T, events []log.Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trace.cbor")
	logger, err := log.NewFileLogger(path)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	for _, e := range events {
		logger.Log(e)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("failed to close logger: %v", err)
	}
	return path
}

// sampleTrace has an open, a data read, a would-block read, a blocking read
// that never finished and a failed control on a second handle.
func sampleTrace() []log.Event {
	errno := 9
	at := func(ms int) time.Time { return base.Add(time.Duration(ms) * time.Millisecond) }
	return []log.Event{
		{Timestamp: at(0), HandleID: handleA, DevicePath: "/dev/kmod_fcntl", Operation: log.OperationOpen, Phase: log.PhaseStarted, Seq: 1},
		{Timestamp: at(1), HandleID: handleA, DevicePath: "/dev/kmod_fcntl", Operation: log.OperationOpen, Phase: log.PhaseFinished, Outcome: log.OutcomeOK, Seq: 1, Duration: time.Millisecond},
		{Timestamp: at(2), HandleID: handleA, Operation: log.OperationRead, Phase: log.PhaseStarted, Seq: 2, Read: &log.ReadEvent{Requested: 1, Blocking: true}},
		{Timestamp: at(2002), HandleID: handleA, Operation: log.OperationRead, Phase: log.PhaseFinished, Outcome: log.OutcomeOK, Seq: 2, Duration: 2 * time.Second,
			Read: &log.ReadEvent{Requested: 1, Blocking: true, Data: []byte("M")}},
		{Timestamp: at(2003), HandleID: handleA, Operation: log.OperationRead, Phase: log.PhaseStarted, Seq: 3, Read: &log.ReadEvent{Requested: 1}},
		{Timestamp: at(2004), HandleID: handleA, Operation: log.OperationRead, Phase: log.PhaseFinished, Outcome: log.OutcomeWouldBlock, Seq: 3, Duration: 20 * time.Microsecond,
			Read: &log.ReadEvent{Requested: 1}},
		{Timestamp: at(2005), HandleID: handleA, Operation: log.OperationRead, Phase: log.PhaseStarted, Seq: 4, Read: &log.ReadEvent{Requested: 1, Blocking: true}},
		{Timestamp: at(3000), HandleID: handleB, Operation: log.OperationControl, Phase: log.PhaseStarted, Seq: 1, Control: &log.ControlEvent{Request: 0x40044B01, Arg: 1, Command: "pause"}},
		{Timestamp: at(3001), HandleID: handleB, Operation: log.OperationControl, Phase: log.PhaseFinished, Outcome: log.OutcomeError, Seq: 1,
			Control: &log.ControlEvent{Request: 0x40044B01, Arg: 1, Command: "pause"},
			Error:   &log.ErrorEventData{Kind: "invalid_handle", Message: "bad file descriptor", Errno: &errno}},
	}
}

func readEvents(t *testing.T, path string) []log.Event {
	t.Helper()
	reader, err := log.NewReader(path)
	if err != nil {
		t.Fatalf("failed to open output: %v", err)
	}
	defer reader.Close()

	var events []log.Event
	for {
		event, err := reader.Next()
		if err == io.EOF {
			return events
		}
		if err != nil {
			t.Fatalf("failed to read event: %v", err)
		}
		events = append(events, event)
	}
}

func TestFormatReadEvent(t *testing.T) {
	var buf bytes.Buffer
	formatEvent(&buf, sampleTrace()[3])
	output := buf.String()

	for _, want := range []string{
		"2026-03-02T09:00:02.002000Z",
		"[handle:0a1b2c3d]",
		"#2 READ FINISHED OK in 2.000s",
		"Requested: 1  Mode: blocking",
		`Data: 4d "M"`,
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output:\n%s", want, output)
		}
	}
}

func TestFormatErrorEvent(t *testing.T) {
	var buf bytes.Buffer
	formatEvent(&buf, sampleTrace()[8])
	output := buf.String()

	if !strings.Contains(output, "Request: 0x40044B01  Arg: 1 (pause)") {
		t.Errorf("expected control details:\n%s", output)
	}
	if !strings.Contains(output, "Error: invalid_handle: bad file descriptor") {
		t.Errorf("expected error details:\n%s", output)
	}
	if !strings.Contains(output, "Errno: 9") {
		t.Errorf("expected errno:\n%s", output)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{20 * time.Microsecond, "20.000us"},
		{1500 * time.Microsecond, "1.500ms"},
		{2 * time.Second, "2.000s"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestParseFlags(t *testing.T) {
	if op, err := ParseOperationFlag("Mode"); err != nil || op != log.OperationSetMode {
		t.Errorf("ParseOperationFlag(Mode) = %v, %v", op, err)
	}
	if _, err := ParseOperationFlag("write"); err == nil {
		t.Error("expected error for unknown operation")
	}
	if p, err := ParsePhaseFlag("STARTED"); err != nil || p != log.PhaseStarted {
		t.Errorf("ParsePhaseFlag(STARTED) = %v, %v", p, err)
	}
	if _, err := ParsePhaseFlag("done"); err == nil {
		t.Error("expected error for unknown phase")
	}
	if oc, err := ParseOutcomeFlag("would_block"); err != nil || oc != log.OutcomeWouldBlock {
		t.Errorf("ParseOutcomeFlag(would_block) = %v, %v", oc, err)
	}
	if _, err := ParseOutcomeFlag("none"); err == nil {
		t.Error("expected error for outcome none")
	}
}

func TestViewFilterByOperation(t *testing.T) {
	path := createTestLogFile(t, sampleTrace())
	op := log.OperationControl

	var buf bytes.Buffer
	if err := RunView(path, ViewOptions{Filter: log.Filter{Operation: &op}}, &buf); err != nil {
		t.Fatalf("RunView failed: %v", err)
	}
	output := buf.String()
	if strings.Count(output, "CONTROL") != 2 {
		t.Errorf("expected two control events:\n%s", output)
	}
	if strings.Contains(output, "READ") {
		t.Errorf("read events should be filtered out:\n%s", output)
	}
}

func TestViewPending(t *testing.T) {
	path := createTestLogFile(t, sampleTrace())

	var buf bytes.Buffer
	if err := RunView(path, ViewOptions{Pending: true}, &buf); err != nil {
		t.Fatalf("RunView failed: %v", err)
	}
	output := buf.String()
	if strings.Count(output, "[handle:") != 1 {
		t.Fatalf("expected exactly one pending event:\n%s", output)
	}
	if !strings.Contains(output, "#4 READ STARTED") {
		t.Errorf("expected the unfinished read:\n%s", output)
	}
}

func TestViewMissingFile(t *testing.T) {
	err := RunView(filepath.Join(t.TempDir(), "missing.cbor"), ViewOptions{}, io.Discard)
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestStats(t *testing.T) {
	path := createTestLogFile(t, sampleTrace())

	var buf bytes.Buffer
	if err := RunStats(path, &buf); err != nil {
		t.Fatalf("RunStats failed: %v", err)
	}
	output := buf.String()

	for _, want := range []string{
		"Total Events: 9",
		"READ:",
		"OK=1  WOULD_BLOCK=1",
		"ERROR=1",
		"Bytes Read:   1",
		"Longest Read: 2.000s",
		"Handles: 2",
		"Path: /dev/kmod_fcntl",
		"Errors: 1",
		"Pending: 1 operation(s)",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output:\n%s", want, output)
		}
	}
	if strings.Index(output, "[0a1b2c3d]") > strings.Index(output, "[9f8e7d6c]") {
		t.Error("handles should be listed by first seen time")
	}
}

func TestStatsEmptyFile(t *testing.T) {
	path := createTestLogFile(t, nil)

	var buf bytes.Buffer
	if err := RunStats(path, &buf); err != nil {
		t.Fatalf("RunStats failed: %v", err)
	}
	if !strings.Contains(buf.String(), "Total Events: 0") {
		t.Errorf("unexpected output:\n%s", buf.String())
	}
}

func TestExportJSONL(t *testing.T) {
	path := createTestLogFile(t, sampleTrace())
	out := filepath.Join(t.TempDir(), "trace.jsonl")

	if err := RunExport(path, "jsonl", out); err != nil {
		t.Fatalf("RunExport failed: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 9 {
		t.Fatalf("expected 9 lines, got %d", len(lines))
	}
	var event log.Event
	if err := json.Unmarshal([]byte(lines[3]), &event); err != nil {
		t.Fatalf("invalid JSON line: %v", err)
	}
	if event.HandleID != handleA || event.Read == nil || string(event.Read.Data) != "M" {
		t.Errorf("unexpected event: %+v", event)
	}
}

func TestExportCSV(t *testing.T) {
	path := createTestLogFile(t, sampleTrace())
	out := filepath.Join(t.TempDir(), "trace.csv")

	if err := RunExport(path, "csv", out); err != nil {
		t.Fatalf("RunExport failed: %v", err)
	}
	f, err := os.Open(out)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("invalid CSV: %v", err)
	}
	if len(rows) != 10 {
		t.Fatalf("expected header and 9 rows, got %d", len(rows))
	}
	if rows[0][1] != "handle_id" || rows[0][8] != "detail" {
		t.Errorf("unexpected header: %v", rows[0])
	}

	read := rows[4]
	if read[4] != "READ" || read[5] != "FINISHED" || read[6] != "OK" || read[7] != "2000.000" || read[8] != "data=4d" {
		t.Errorf("unexpected read row: %v", read)
	}
	if started := rows[1]; started[6] != "" || started[7] != "" {
		t.Errorf("started rows carry no outcome: %v", started)
	}
	if failed := rows[9]; failed[8] != "invalid_handle: bad file descriptor" {
		t.Errorf("unexpected error detail: %v", failed)
	}
}

func TestExportUnknownFormat(t *testing.T) {
	path := createTestLogFile(t, sampleTrace())
	if err := RunExport(path, "xml", ""); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestFilterByHandle(t *testing.T) {
	path := createTestLogFile(t, sampleTrace())
	out := filepath.Join(t.TempDir(), "filtered.cbor")

	var buf bytes.Buffer
	if err := RunFilter(path, FilterOptions{Output: out, HandleID: handleB}, &buf); err != nil {
		t.Fatalf("RunFilter failed: %v", err)
	}
	events := readEvents(t, out)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	for _, e := range events {
		if e.HandleID != handleB {
			t.Errorf("unexpected handle %s", e.HandleID)
		}
	}
	if !strings.Contains(buf.String(), "Filtered 2 events") {
		t.Errorf("unexpected summary: %s", buf.String())
	}
}

func TestFilterByTimeRangeAndOutcome(t *testing.T) {
	path := createTestLogFile(t, sampleTrace())
	out := filepath.Join(t.TempDir(), "filtered.cbor")

	opts := FilterOptions{
		Output:    out,
		TimeStart: base.Add(time.Second).Format(time.RFC3339),
		TimeEnd:   base.Add(3 * time.Second).Format(time.RFC3339),
		Outcome:   "would_block",
	}
	if err := RunFilter(path, opts, io.Discard); err != nil {
		t.Fatalf("RunFilter failed: %v", err)
	}
	events := readEvents(t, out)
	if len(events) != 1 || events[0].Seq != 3 {
		t.Fatalf("expected the would-block read, got %+v", events)
	}
}

func TestFilterErrorsOnly(t *testing.T) {
	path := createTestLogFile(t, sampleTrace())
	out := filepath.Join(t.TempDir(), "filtered.cbor")

	if err := RunFilter(path, FilterOptions{Output: out, ErrorsOnly: true}, io.Discard); err != nil {
		t.Fatalf("RunFilter failed: %v", err)
	}
	events := readEvents(t, out)
	if len(events) != 1 || events[0].Error == nil {
		t.Fatalf("expected the failed control, got %+v", events)
	}
}

func TestFilterInvalidOptions(t *testing.T) {
	path := createTestLogFile(t, sampleTrace())
	out := filepath.Join(t.TempDir(), "filtered.cbor")

	for _, opts := range []FilterOptions{
		{Output: out, TimeStart: "yesterday"},
		{Output: out, Operation: "write"},
		{Output: out, Phase: "done"},
	} {
		if err := RunFilter(path, opts, io.Discard); err == nil {
			t.Errorf("expected error for %+v", opts)
		}
	}
}
