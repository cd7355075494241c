package main

import (
	"io"
	"log/slog"
)

// newLogger writes text logs to w. Consent progress is logged at Info, so the
// default level is Warn to keep interactive output readable.
func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
