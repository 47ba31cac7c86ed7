// Command kmod-log views and analyzes device trace files.
//
// Trace files are written by kmod-test and kmod-ctl with the -protocol-log
// flag. Every operation on a handle appears as a STARTED and a FINISHED
// event, so a read that never returned is easy to spot.
//
// Usage:
//
//	kmod-log <command> [flags] <file.cbor>
//
// Commands:
//
//	view     View trace file in human-readable format
//	export   Export trace file to JSON or CSV format
//	filter   Filter trace file and write to new file
//	stats    Show statistics about the trace file
//
// Examples:
//
//	# View all events
//	kmod-log view run.cbor
//
//	# View only reads that would have blocked
//	kmod-log view -operation read -outcome would_block run.cbor
//
//	# Show operations that never finished
//	kmod-log view -pending run.cbor
//
//	# Export to CSV
//	kmod-log export -format csv -o run.csv run.cbor
//
//	# Keep only one handle's events
//	kmod-log filter -handle 0a1b2c3d-... -o handle.cbor run.cbor
//
//	# Show statistics
//	kmod-log stats run.cbor
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/kmodtest/kmodfcntl-go/cmd/kmod-log/commands"
)

// subcommand binds its flags on fs and returns the action to run on the
// trace file.
type subcommand struct {
	name, summary string
	bind          func(fs *flag.FlagSet) func(path string) error
}

var subcommands = []subcommand{
	{"view", "View trace file in human-readable format", bindView},
	{"export", "Export trace file to JSON or CSV format", bindExport},
	{"filter", "Filter trace file and write to new file", bindFilter},
	{"stats", "Show statistics about the trace file", bindStats},
}

func usage() string {
	var b strings.Builder
	b.WriteString("kmod-log - kmod_fcntl Trace Analyzer\n\nUsage:\n  kmod-log <command> [flags] <file.cbor>\n\nCommands:\n")
	for _, c := range subcommands {
		fmt.Fprintf(&b, "  %-8s %s\n", c.name, c.summary)
	}
	b.WriteString("\nUse \"kmod-log <command> -help\" for more information about a command.\n")
	return b.String()
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage())
		os.Exit(1)
	}
	name := os.Args[1]
	if name == "help" || name == "-h" || name == "-help" || name == "--help" {
		fmt.Print(usage())
		return
	}
	for _, c := range subcommands {
		if c.name == name {
			if err := c.run(os.Args[2:]); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		}
	}
	fmt.Fprintf(os.Stderr, "Unknown command: %s\n%s", name, usage())
	os.Exit(1)
}

var errUsage = errors.New("usage")

func (c subcommand) run(args []string) error {
	fs := flag.NewFlagSet(c.name, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "kmod-log %s - %s\n\nUsage:\n  kmod-log %s [flags] <file.cbor>\n\nFlags:\n", c.name, c.summary, c.name)
		fs.PrintDefaults()
	}
	action := c.bind(fs)
	_ = fs.Parse(args)
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: trace file path required")
		fs.Usage()
		os.Exit(1)
	}
	err := action(fs.Arg(0))
	if errors.Is(err, errUsage) {
		fs.Usage()
		os.Exit(1)
	}
	return err
}

// bindFilterFlags registers the selection flags shared by view and filter.
func bindFilterFlags(fs *flag.FlagSet, o *commands.FilterOptions) {
	fs.StringVar(&o.HandleID, "handle", "", "Filter by handle ID")
	fs.StringVar(&o.Operation, "operation", "", "Filter by operation (open, control, set_mode, read, close, sleep)")
	fs.StringVar(&o.Phase, "phase", "", "Filter by phase (started, finished)")
	fs.StringVar(&o.Outcome, "outcome", "", "Filter by outcome (ok, would_block, error)")
	fs.BoolVar(&o.ErrorsOnly, "errors", false, "Only events carrying an error")
}

func bindView(fs *flag.FlagSet) func(string) error {
	var o commands.FilterOptions
	bindFilterFlags(fs, &o)
	pending := fs.Bool("pending", false, "Show only operations that started but never finished")
	return func(path string) error {
		filter, err := o.BuildFilter()
		if err != nil {
			return err
		}
		return commands.RunView(path, commands.ViewOptions{Filter: filter, Pending: *pending}, os.Stdout)
	}
}

func bindExport(fs *flag.FlagSet) func(string) error {
	format := fs.String("format", "jsonl", "Output format (jsonl, csv)")
	output := fs.String("o", "", "Output file (default: stdout)")
	return func(path string) error {
		return commands.RunExport(path, *format, *output)
	}
}

func bindFilter(fs *flag.FlagSet) func(string) error {
	var o commands.FilterOptions
	fs.StringVar(&o.Output, "o", "", "Output file (required)")
	fs.StringVar(&o.TimeStart, "time-start", "", "Keep events at or after this time (RFC3339)")
	fs.StringVar(&o.TimeEnd, "time-end", "", "Keep events before this time (RFC3339)")
	bindFilterFlags(fs, &o)
	return func(path string) error {
		if o.Output == "" {
			fmt.Fprintln(os.Stderr, "Error: output file (-o) required")
			return errUsage
		}
		return commands.RunFilter(path, o, os.Stdout)
	}
}

func bindStats(fs *flag.FlagSet) func(string) error {
	return func(path string) error { return commands.RunStats(path, os.Stdout) }
}
