package commands

import (
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/kmodtest/kmodfcntl-go/pkg/log"
)

var csvHeader = []string{
	"timestamp", "handle_id", "device_path", "seq",
	"operation", "phase", "outcome", "duration_ms", "detail",
}

// RunExport converts the trace at path to JSON lines or CSV. An empty
// output writes to stdout.
func RunExport(path, format, output string) error {
	var export func(*log.Reader, io.Writer) error
	switch format {
	case "jsonl":
		export = exportJSONL
	case "csv":
		export = exportCSV
	default:
		return fmt.Errorf("unknown format: %s (supported: jsonl, csv)", format)
	}

	r, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer r.Close()

	if output == "" {
		return export(r, os.Stdout)
	}
	f, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	if err := export(r, f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func exportJSONL(r *log.Reader, w io.Writer) error {
	enc := json.NewEncoder(w)
	for e, err := range r.All() {
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	return nil
}

// exportCSV writes one row per event. Outcome and duration are only known
// once an operation finished, so STARTED rows leave them empty.
func exportCSV(r *log.Reader, w io.Writer) error {
	cw := csv.NewWriter(w)
	_ = cw.Write(csvHeader)
	for e, err := range r.All() {
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		var outcome, durMS string
		if e.Phase == log.PhaseFinished {
			outcome = e.Outcome.String()
			durMS = strconv.FormatFloat(float64(e.Duration.Microseconds())/1000, 'f', 3, 64)
		}
		_ = cw.Write([]string{
			e.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z"),
			e.HandleID,
			e.DevicePath,
			strconv.FormatUint(e.Seq, 10),
			e.Operation.String(),
			e.Phase.String(),
			outcome,
			durMS,
			eventDetail(e),
		})
	}
	cw.Flush()
	return cw.Error()
}

// eventDetail condenses the event payload into one column.
func eventDetail(e log.Event) string {
	switch {
	case e.Error != nil:
		return e.Error.Kind + ": " + e.Error.Message
	case e.Control != nil && e.Control.Command != "":
		return e.Control.Command
	case e.Control != nil:
		return "arg=" + strconv.FormatUint(uint64(e.Control.Arg), 10)
	case e.Mode != nil && e.Mode.Blocking:
		return "blocking"
	case e.Mode != nil:
		return "non_blocking"
	case e.Read != nil && len(e.Read.Data) > 0:
		return "data=" + hex.EncodeToString(e.Read.Data)
	case e.Read != nil:
		return "requested=" + strconv.Itoa(e.Read.Requested)
	case e.State != nil:
		return e.State.NewState
	}
	return ""
}
