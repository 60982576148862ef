/*
package logging sets up the structured logger shared by the sim and
the CLI. Output goes to stderr so snapshot data on stdout stays clean.
*/
package logging

import (
	"io"
	"log/slog"
	"os"
)

// New returns a text logger at the given level ("debug", "info",
// "warn", "error"); unknown levels fall back to info.
func New(level string) *slog.Logger {
	return NewWriter(os.Stderr, level)
}

// NewWriter is New with an explicit sink, for tests.
func NewWriter(w io.Writer, level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l}))
}
