// Command kmod-test runs the kmod_fcntl conformance scenarios.
//
// The scenarios open the device node, pause and resume the producer with
// the pause ioctl, switch the descriptor between blocking and non-blocking
// reads and check what each read returns and when.
//
// Usage:
//
//	kmod-test [flags] [test-pattern]
//
// Flags:
//
//	-device string          Device node under test (default "/dev/kmod_fcntl")
//	-module string          Loaded module whose version is checked (default "kmodfcntl")
//	-simulate               Run against an in-process simulator of the device
//	-sim-interval duration  Simulator production interval (default 2s)
//	-sim-paused             Start the simulator with production paused
//	-sim-no-control         Simulate a module without the pause ioctl
//	-interval duration      Device production interval (default from profile, else 2s)
//	-tolerance duration     Slack of the timing checks (default a tenth of the interval)
//	-profile string         Device profile (YAML) describing what the device supports
//	-tests string           Load scenarios from a directory instead of the built-in set
//	-tags string            Only run tests with one of these comma-separated tags
//	-exclude-tags string    Skip tests with any of these comma-separated tags
//	-timeout duration       Per-test timeout (default 2m)
//	-stop-on-failure        Stop after the first failed test
//	-no-restore             Leave production paused if a scenario paused it
//	-verbose                List every step in the report
//	-progress               Print every device operation to stderr as it starts and finishes
//	-json                   Output results as JSON
//	-junit                  Output results as JUnit XML
//	-protocol-log string    File path for the device trace (CBOR format)
//	-metrics-file string    Write Prometheus metrics to this file after the run
//	-log-level string       debug, info, warn or error (default "info")
//	-log-format string      console, json or text (default "console")
//
// Examples:
//
//	# Run all scenarios against the loaded module
//	kmod-test
//
//	# Run the scenarios against the simulator with a 50ms interval
//	kmod-test -simulate -sim-interval 50ms
//
//	# Run only the two core scenarios, listing every step
//	kmod-test -verbose "TC-FCNTL-[AB]"
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kmodtest/kmodfcntl-go/internal/logging"
	"github.com/kmodtest/kmodfcntl-go/internal/metrics"
	"github.com/kmodtest/kmodfcntl-go/internal/testharness/runner"
	"github.com/kmodtest/kmodfcntl-go/pkg/chardev"
	"github.com/kmodtest/kmodfcntl-go/pkg/log"
	"github.com/kmodtest/kmodfcntl-go/pkg/version"
)

var (
	device        = flag.String("device", chardev.DefaultPath, "Device node under test")
	module        = flag.String("module", runner.DefaultModule, "Loaded module whose version is checked")
	simulate      = flag.Bool("simulate", false, "Run against an in-process simulator of the device")
	simInterval   = flag.Duration("sim-interval", 2*time.Second, "Simulator production interval")
	simPaused     = flag.Bool("sim-paused", false, "Start the simulator with production paused")
	simNoControl  = flag.Bool("sim-no-control", false, "Simulate a module without the pause ioctl")
	interval      = flag.Duration("interval", 0, "Device production interval (default from profile, else 2s)")
	tolerance     = flag.Duration("tolerance", 0, "Slack of the timing checks (default a tenth of the interval)")
	profile       = flag.String("profile", "", "Device profile (YAML) describing what the device supports")
	tests         = flag.String("tests", "", "Load scenarios from a directory instead of the built-in set")
	tags          = flag.String("tags", "", "Only run tests with one of these comma-separated tags")
	excludeTags   = flag.String("exclude-tags", "", "Skip tests with any of these comma-separated tags")
	timeout       = flag.Duration("timeout", 2*time.Minute, "Per-test timeout")
	stopOnFailure = flag.Bool("stop-on-failure", false, "Stop after the first failed test")
	noRestore     = flag.Bool("no-restore", false, "Leave production paused if a scenario paused it")
	verbose       = flag.Bool("verbose", false, "List every step in the report")
	progress      = flag.Bool("progress", false, "Print every device operation to stderr as it starts and finishes")
	jsonOut       = flag.Bool("json", false, "Output results as JSON")
	junitOut      = flag.Bool("junit", false, "Output results as JUnit XML")
	protocolLog   = flag.String("protocol-log", "", "File path for the device trace (CBOR format)")
	metricsFile   = flag.String("metrics-file", "", "Write Prometheus metrics to this file after the run")
	logLevel      = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	logFormat     = flag.String("log-format", logging.FormatConsole, "Log format: console, json, text")
	showVersion   = flag.Bool("version", false, "Print the version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println("kmod-test", version.String())
		return
	}

	// Get optional test pattern
	pattern := ""
	if flag.NArg() > 0 {
		pattern = flag.Arg(0)
	}

	if *jsonOut && *junitOut {
		fmt.Fprintln(os.Stderr, "Error: -json and -junit are mutually exclusive")
		flag.Usage()
		os.Exit(1)
	}

	// Determine output format
	outputFormat := "text"
	if *jsonOut {
		outputFormat = "json"
	} else if *junitOut {
		outputFormat = "junit"
	}

	logger, err := logging.New(os.Stderr, *logFormat, *logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if outputFormat == "text" {
		printBanner()
	}

	// Set up protocol logging if requested
	var protocolLogger *log.FileLogger
	if *protocolLog != "" {
		protocolLogger, err = log.NewFileLogger(*protocolLog)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to create protocol logger: %v\n", err)
			os.Exit(1)
		}
		logger.Info("device trace enabled", "path", *protocolLog)
	}

	var collector *metrics.Collector
	if *metricsFile != "" {
		collector = metrics.New()
	}

	var progressOut io.Writer = io.Discard
	if *progress {
		progressOut = os.Stderr
	}

	config := runner.DefaultConfig()
	config.Device = *device
	config.Module = *module
	config.Simulate = *simulate
	config.SimInterval = *simInterval
	config.SimPaused = *simPaused
	config.SimNoControl = *simNoControl
	config.Interval = *interval
	config.Tolerance = *tolerance
	config.ProfileFile = *profile
	config.ScenarioDir = *tests
	config.Pattern = pattern
	config.Tags = *tags
	config.ExcludeTags = *excludeTags
	config.Timeout = *timeout
	config.StopOnFirstFailure = *stopOnFailure
	config.RestoreProducing = !*noRestore
	config.Verbose = *verbose
	config.Output = os.Stdout
	config.OutputFormat = outputFormat
	config.Progress = progressOut
	config.Logger = logger
	config.Metrics = collector
	// Only set logger when non-nil to avoid typed-nil interface issue.
	if protocolLogger != nil {
		config.ProtocolLogger = protocolLogger
	}

	r, err := runner.New(config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	result, err := r.Run(ctx)
	stop()

	r.Close()
	if protocolLogger != nil {
		if cerr := protocolLogger.Close(); cerr != nil {
			logger.Warn("closing device trace failed", "error", cerr)
		}
	}
	if collector != nil {
		if werr := collector.WriteTextfile(*metricsFile); werr != nil {
			logger.Error("writing metrics failed", "path", *metricsFile, "error", werr)
		}
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Exit with appropriate code
	if result.FailCount > 0 {
		os.Exit(1)
	}
}

func printBanner() {
	fmt.Print(`
 _                   _     __             _   _
| | ___ __ ___   ___| |   / _| ___ _ __ | |_| |
| |/ / '_ ` + "`" + ` _ \ / _ \ |  | |_ / __| '_ \| __| |
|   <| | | | | | (_) | |  |  _| (__| | | | |_| |
|_|\_\_| |_| |_|\___/|_|  |_|  \___|_| |_|\__|_|

kmod_fcntl Conformance Test Runner
`)
}
