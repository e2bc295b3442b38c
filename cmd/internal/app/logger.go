package app

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger is the app-wide logger type (slog).
type Logger = *slog.Logger

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates the process logger. Logs go to stderr so command output
// on stdout stays pipeable. format is "json" or "console"; console output is
// colored only when stderr is a terminal.
func NewLogger(level, format string) *slog.Logger {
	lvl := parseLogLevel(level)

	var h slog.Handler
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "console", "pretty", "":
		h = newConsoleHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}, stderrIsTerminal())
	default:
		h = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl, AddSource: true})
	}

	log := slog.New(h)
	slog.SetDefault(log)
	return log
}

// NewTestLogger writes json logs to w (tests).
func NewTestLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func stderrIsTerminal() bool {
	fi, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
