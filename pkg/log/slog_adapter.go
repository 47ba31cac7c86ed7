package log

import (
	"context"
	"log/slog"
)

// SlogAdapter writes trace events to an slog.Logger.
// Useful for watching device traffic on the console while a run is live.
type SlogAdapter struct {
	logger *slog.Logger
	level  slog.Level
}

// NewSlogAdapter creates a SlogAdapter that writes to the given logger at
// Debug level.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger, level: slog.LevelDebug}
}

// WithLevel returns a copy of the adapter that logs at the given level.
func (a *SlogAdapter) WithLevel(level slog.Level) *SlogAdapter {
	return &SlogAdapter{logger: a.logger, level: level}
}

// Log writes the event to the slog logger.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("handle", event.HandleID),
		slog.String("op", event.Operation.String()),
		slog.String("phase", event.Phase.String()),
	}
	if event.Seq != 0 {
		attrs = append(attrs, slog.Uint64("seq", event.Seq))
	}
	if event.Phase == PhaseFinished {
		attrs = append(attrs,
			slog.String("outcome", event.Outcome.String()),
			slog.Duration("took", event.Duration),
		)
	}

	switch {
	case event.Control != nil:
		attrs = append(attrs,
			slog.String("command", event.Control.Command),
			slog.Uint64("arg", uint64(event.Control.Arg)),
		)
	case event.Mode != nil:
		attrs = append(attrs,
			slog.Bool("blocking", event.Mode.Blocking),
			slog.Bool("changed", event.Mode.Changed),
		)
	case event.Read != nil:
		attrs = append(attrs,
			slog.Int("requested", event.Read.Requested),
			slog.Bool("blocking", event.Read.Blocking),
		)
		if len(event.Read.Data) > 0 {
			attrs = append(attrs, slog.String("data", string(event.Read.Data)))
		}
	case event.State != nil:
		attrs = append(attrs,
			slog.String("old_state", event.State.OldState),
			slog.String("new_state", event.State.NewState),
		)
		if event.State.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.State.Reason))
		}
	}
	if event.Error != nil {
		attrs = append(attrs,
			slog.String("error_kind", event.Error.Kind),
			slog.String("error", event.Error.Message),
		)
		if event.Error.Errno != nil {
			attrs = append(attrs, slog.Int("errno", *event.Error.Errno))
		}
	}

	a.logger.LogAttrs(context.Background(), a.level, "device", attrs...)
}

// Compile-time interface satisfaction check.
var _ Logger = (*SlogAdapter)(nil)
