// Package logger builds the structured logger shared by the datalens
// binaries.
package logger

import (
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
)

// timeLayout renders log timestamps as UTC instants with millisecond
// precision, matching the temporal rendering used across the service.
const timeLayout = "2006-01-02T15:04:05.000Z"

// New returns the service logger: a tinted slog handler on stdout. verbose
// enables debug-level output.
func New(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:       level,
		ReplaceAttr: replaceAttr,
	}))
}

// replaceAttr rewrites timestamps to UTC and drops attributes whose string
// value is empty.
func replaceAttr(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey {
		a.Value = slog.StringValue(a.Value.Time().UTC().Format(timeLayout))
	}
	if s, ok := a.Value.Any().(string); ok && s == "" {
		return slog.Attr{}
	}
	return a
}
