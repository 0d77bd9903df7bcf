// Package logging builds the slog logger shared by the binaries.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

type Options struct {
	Level   string // "debug"|"info"|"warn"|"error"
	Format  string // "json"|"text"
	Service string
	Output  io.Writer
}

// FromEnv reads LOG_LEVEL and LOG_FORMAT, defaulting to info/text.
func FromEnv(service string) Options {
	return Options{
		Level:   getenv("LOG_LEVEL", "info"),
		Format:  getenv("LOG_FORMAT", "text"),
		Service: service,
	}
}

func New(opts Options) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(opts.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	var h slog.Handler
	if strings.ToLower(opts.Format) == "json" {
		h = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
	} else {
		h = slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
	}

	l := slog.New(h)
	if opts.Service != "" {
		l = l.With("service", opts.Service)
	}
	return l
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
