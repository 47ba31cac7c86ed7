package ioctl

import (
	"fmt"
	"strings"
)

const (
	// Family is the driver family tag of the kmod_fcntl commands.
	Family byte = 'L'
	// PauseProducingNr is the command number within Family.
	PauseProducingNr byte = 0x25
	// ArgSize is sizeof(int) on every Linux ABI the device targets.
	ArgSize uint16 = 4
)

// PauseProducing is the request that pauses or resumes the producer.
var PauseProducing = IOW(Family, PauseProducingNr, ArgSize)

// Command is a producer control command.
type Command uint8

const (
	// CommandResume lets the producer emit messages again.
	CommandResume Command = iota
	// CommandPause stops the producer from emitting messages.
	CommandPause
)

// String returns the command name.
func (c Command) String() string {
	switch c {
	case CommandResume:
		return "resume"
	case CommandPause:
		return "pause"
	default:
		return fmt.Sprintf("command(%d)", uint8(c))
	}
}

// Arg returns the value passed to the driver.
func (c Command) Arg() uint32 {
	if c == CommandResume {
		return 0
	}
	return 1
}

// Request returns the request number that carries the command.
func (c Command) Request() Request { return PauseProducing }

// CommandFromArg maps a raw argument to a command. Zero resumes; anything
// else pauses, matching how the driver interprets the value.
func CommandFromArg(v uint32) Command {
	if v == 0 {
		return CommandResume
	}
	return CommandPause
}

// ParseCommand parses "resume" or "pause" (case-insensitive).
func ParseCommand(s string) (Command, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "resume":
		return CommandResume, nil
	case "pause":
		return CommandPause, nil
	default:
		return 0, fmt.Errorf("ioctl: unknown command %q", s)
	}
}
