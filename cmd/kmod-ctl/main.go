// Command kmod-ctl drives the kmod_fcntl device by hand.
//
// It opens the device node and reads commands from an interactive prompt:
// pause and resume the producer, switch between blocking and non-blocking
// reads and read from the device while watching each operation start and
// finish.
//
// Usage:
//
//	kmod-ctl [flags]
//
// Flags:
//
//	-device string          Device node to open (default "/dev/kmod_fcntl")
//	-simulate               Use an in-process simulator of the device
//	-sim-interval duration  Simulator production interval (default 2s)
//	-sim-paused             Start the simulator with production paused
//	-read-timeout duration  Give up on a blocking read after this long (default 10s)
//	-protocol-log string    File path for the device trace (CBOR format)
//	-log-level string       debug, info, warn or error (default "warn")
//	-log-format string      console, json or text (default "console")
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chzyer/readline"

	"github.com/kmodtest/kmodfcntl-go/cmd/kmod-ctl/console"
	"github.com/kmodtest/kmodfcntl-go/internal/logging"
	"github.com/kmodtest/kmodfcntl-go/internal/testharness/driver"
	"github.com/kmodtest/kmodfcntl-go/internal/testharness/mock"
	"github.com/kmodtest/kmodfcntl-go/pkg/chardev"
	"github.com/kmodtest/kmodfcntl-go/pkg/log"
	"github.com/kmodtest/kmodfcntl-go/pkg/version"
)

var (
	device      = flag.String("device", chardev.DefaultPath, "Device node to open")
	simulate    = flag.Bool("simulate", false, "Use an in-process simulator of the device")
	simInterval = flag.Duration("sim-interval", mock.DefaultInterval, "Simulator production interval")
	simPaused   = flag.Bool("sim-paused", false, "Start the simulator with production paused")
	readTimeout = flag.Duration("read-timeout", console.DefaultReadTimeout, "Give up on a blocking read after this long")
	protocolLog = flag.String("protocol-log", "", "File path for the device trace (CBOR format)")
	logLevel    = flag.String("log-level", "warn", "Log level: debug, info, warn, error")
	logFormat   = flag.String("log-format", logging.FormatConsole, "Log format: console, json, text")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println("kmod-ctl", version.String())
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "kmod> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    console.Completer(),
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()

	logger, err := logging.New(rl.Stderr(), *logFormat, *logLevel)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var trace log.Logger = log.NoopLogger{}
	if *protocolLog != "" {
		fl, err := log.NewFileLogger(*protocolLog)
		if err != nil {
			return fmt.Errorf("failed to create protocol log: %w", err)
		}
		defer fl.Close()
		trace = fl
		logger.Info("device trace enabled", "path", *protocolLog)
	}

	opts := []chardev.Option{
		chardev.WithLogger(logger),
		chardev.WithTrace(trace),
	}
	if *simulate {
		sim := mock.NewDevice(mock.DeviceConfig{
			Path:        *device,
			Interval:    *simInterval,
			StartPaused: *simPaused,
			Logger:      logger,
		})
		if err := sim.Start(ctx); err != nil {
			return err
		}
		defer sim.Stop()
		opts = append(opts, chardev.WithOpener(sim.Opener()))
	}

	h, err := chardev.Open(*device, opts...)
	if err != nil {
		return err
	}

	drv := driver.New(h,
		driver.WithOutput(rl.Stdout()),
		driver.WithLogger(logger),
		driver.WithTrace(trace),
	)
	defer func() {
		if err := drv.Close(); err != nil {
			logger.Warn("close failed", "error", err)
		}
	}()

	target := *device
	if *simulate {
		target = fmt.Sprintf("simulator %s, interval %s", *device, simInterval.Round(time.Millisecond))
	}
	fmt.Fprintf(rl.Stdout(), "kmod-ctl %s: opened %s (handle %s)\n", version.String(), target, h.ID())

	console.New(drv, rl.Stdout(), *readTimeout).Run(ctx, rl)
	return nil
}
