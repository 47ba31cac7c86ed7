// Package logging builds the operational slog loggers of the commands.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/phsym/console-slog"
)

// Formats accepted by New.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
	FormatText    = "text"
)

// ParseLevel parses debug, info, warn or error.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}

// New returns a logger writing to w. The console format is colored and
// meant for a terminal; json is for collectors; text is slog's logfmt.
func New(w io.Writer, format, level string) (*slog.Logger, error) {
	lv, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	var handler slog.Handler
	switch format {
	case FormatConsole, "":
		handler = console.NewHandler(w, &console.HandlerOptions{Level: lv})
	case FormatJSON:
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level: lv,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == slog.TimeKey && len(groups) == 0 {
					a.Key = "ts"
				}
				return a
			},
		})
	case FormatText:
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: lv})
	default:
		return nil, fmt.Errorf("invalid log format %q (want console, json or text)", format)
	}
	return slog.New(handler), nil
}
