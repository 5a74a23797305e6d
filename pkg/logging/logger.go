// Package logging provides structured logging for pkgrep commands.
//
// This package uses Go's standard library log/slog. Records go to stderr so
// command output on stdout stays machine-consumable; logging never
// influences control flow.
package logging

import (
	"log/slog"
	"os"
)

// Setup installs the default logger. Verbose lowers the minimum level to
// debug; the default is warn so normal runs only surface problems.
func Setup(verbose bool) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	slog.SetDefault(slog.New(handler))
}
