// Package logging builds the process slog logger from configuration.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"upnpctl/internal/config"
)

// New returns a logger writing to cfg.Output (stderr unless "stdout") in
// cfg.Format (text unless "json"), tagged with the service and version.
func New(cfg config.LoggingConfig, version string) *slog.Logger {
	return NewWriter(cfg, version, Output(cfg.Output, os.Stdout, os.Stderr))
}

func NewWriter(cfg config.LoggingConfig, version string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", "upnpctl"),
		slog.String("version", version),
	})
	return slog.New(handler)
}

// EnableDebug replaces the default logger with a debug-level text logger on w.
func EnableDebug(w io.Writer) {
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})))
}

// parseLevel defaults to info for anything unrecognised.
func parseLevel(level string) slog.Level {
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

// Output picks stdout for "stdout" and stderr for anything else.
func Output(name string, stdout, stderr io.Writer) io.Writer {
	if strings.EqualFold(name, "stdout") {
		return stdout
	}
	return stderr
}
