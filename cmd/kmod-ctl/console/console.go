// Package console provides the interactive command line of kmod-ctl.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/kmodtest/kmodfcntl-go/internal/testharness/driver"
	"github.com/kmodtest/kmodfcntl-go/pkg/ioctl"
)

// DefaultReadTimeout bounds a blocking read started from the console.
const DefaultReadTimeout = 10 * time.Second

// Console executes operator commands against a driver.
type Console struct {
	drv         *driver.Driver
	out         io.Writer
	readTimeout time.Duration
}

// New creates a console writing its replies to out.
func New(drv *driver.Driver, out io.Writer, readTimeout time.Duration) *Console {
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}
	return &Console{drv: drv, out: out, readTimeout: readTimeout}
}

// Completer returns tab completion for the console commands.
func Completer() readline.AutoCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem("resume"),
		readline.PcItem("pause"),
		readline.PcItem("control"),
		readline.PcItem("block"),
		readline.PcItem("nonblock"),
		readline.PcItem("read"),
		readline.PcItem("wait"),
		readline.PcItem("status"),
		readline.PcItem("help"),
		readline.PcItem("quit"),
	)
}

// Run reads commands from rl until quit, EOF or ctx is done.
func (c *Console) Run(ctx context.Context, rl *readline.Instance) {
	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := rl.Readline()
		if err != nil {
			// EOF or interrupt
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			fmt.Fprintln(c.out, "Exiting...")
			return
		}

		if c.Exec(ctx, line) {
			return
		}
	}
}

// Exec runs one command line. It returns true when the console should exit.
func (c *Console) Exec(ctx context.Context, line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}
	cmd, args := strings.ToLower(parts[0]), parts[1:]

	var err error
	switch cmd {
	case "help", "?":
		c.printHelp()
	case "resume":
		err = c.drv.Resume()
	case "pause":
		err = c.drv.Pause()
	case "control", "ioctl":
		err = c.cmdControl(args)
	case "block", "blocking":
		err = c.drv.SetBlocking(true)
	case "nonblock", "non-blocking":
		err = c.drv.SetBlocking(false)
	case "read", "r":
		err = c.cmdRead(ctx, args)
	case "wait", "sleep":
		err = c.cmdWait(ctx, args)
	case "status", "s":
		c.cmdStatus()
	case "quit", "exit", "q":
		return true
	default:
		fmt.Fprintf(c.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
		return false
	}

	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
	}
	return false
}

func (c *Console) printHelp() {
	fmt.Fprint(c.out, `
Commands:
  resume            Resume message production
  pause             Pause message production
  control <value>   Send a raw control value (0 resumes, anything else pauses)
  block             Switch to blocking reads
  nonblock          Switch to non-blocking reads
  read [n] [count]  Read n bytes, count times (default 1 and 1)
  wait <duration>   Sleep, e.g. "wait 2s"
  status            Show the believed device state
  help              Show this help
  quit              Close the device and exit
`)
}

func (c *Console) cmdControl(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: control <value>")
	}
	if cmd, err := ioctl.ParseCommand(args[0]); err == nil {
		return c.drv.Control(cmd.Arg())
	}
	v, err := strconv.ParseUint(args[0], 0, 32)
	if err != nil {
		return fmt.Errorf("invalid control value %q", args[0])
	}
	return c.drv.Control(uint32(v))
}

func (c *Console) cmdRead(ctx context.Context, args []string) error {
	n, count := 1, 1
	var err error
	if len(args) > 0 {
		if n, err = strconv.Atoi(args[0]); err != nil {
			return fmt.Errorf("invalid byte count %q", args[0])
		}
	}
	if len(args) > 1 {
		if count, err = strconv.Atoi(args[1]); err != nil || count < 1 {
			return fmt.Errorf("invalid read count %q", args[1])
		}
	}

	for range count {
		rctx, cancel := context.WithTimeout(ctx, c.readTimeout)
		res, err := c.drv.Read(rctx, n)
		cancel()
		if err != nil {
			return err
		}
		if res.Class == driver.ClassWouldBlock {
			fmt.Fprintln(c.out, "no data (would block)")
			continue
		}
		fmt.Fprintf(c.out, "data %q after %s\n", res.Data, res.Wait().Round(time.Millisecond))
	}
	return nil
}

func (c *Console) cmdWait(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: wait <duration>")
	}
	d, err := time.ParseDuration(args[0])
	if err != nil {
		return fmt.Errorf("invalid duration %q", args[0])
	}
	return c.drv.Sleep(ctx, d)
}

func (c *Console) cmdStatus() {
	fmt.Fprintf(c.out, "State:  %s\n", c.drv.State())
	if c.drv.Wedged() {
		fmt.Fprintln(c.out, "Wedged: a blocking read is still pending in the device")
	}
	for {
		select {
		case data := <-c.drv.Late():
			fmt.Fprintf(c.out, "Late:   abandoned read returned %q\n", data)
		default:
			return
		}
	}
}
