// Package rlog builds the structured logger every rmcp component logs
// through, adapted from the teacher's cmd/server/main.go#setupLogger into a
// reusable constructor instead of a main-only helper.
package rlog

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/mcp-tx/rmcp-go/internal/config"
)

// New builds a *slog.Logger from opts.Output (a comma-separated list of
// "stdout", "stderr", or file paths) and opts.Format ("json" or "text").
// File outputs are rotated via lumberjack when opts.Rotate is set. The
// returned cleanup func closes any rotated file writers and must be
// deferred by the caller.
func New(opts config.LogOptions) (*slog.Logger, func()) {
	var writers []io.Writer
	var closers []io.Closer

	for _, output := range strings.Split(opts.Output, ",") {
		output = strings.TrimSpace(output)
		if output == "" {
			continue
		}

		var w io.Writer
		switch output {
		case "stderr":
			w = os.Stderr
		case "stdout":
			w = os.Stdout
		default:
			if opts.Rotate {
				l := &lumberjack.Logger{
					Filename:   output,
					MaxSize:    defaultInt(opts.MaxSizeMB, 100),
					MaxBackups: opts.MaxBackups,
					MaxAge:     defaultInt(opts.MaxAgeDays, 28),
				}
				w = l
				closers = append(closers, l)
			} else {
				f, err := os.OpenFile(output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
				if err != nil {
					slog.Error("rlog: open log file failed", "path", output, "error", err)
					continue
				}
				w = f
				closers = append(closers, f)
			}
		}
		writers = append(writers, w)
	}

	if len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}

	multiWriter := io.MultiWriter(writers...)
	handlerOpts := &slog.HandlerOptions{Level: levelFor(opts.Level)}

	var handler slog.Handler
	if opts.Format == "json" {
		handler = slog.NewJSONHandler(multiWriter, handlerOpts)
	} else {
		handler = slog.NewTextHandler(multiWriter, handlerOpts)
	}

	cleanup := func() {
		for _, c := range closers {
			c.Close()
		}
	}

	return slog.New(handler), cleanup
}

func levelFor(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func defaultInt(v, fallback int) int {
	if v == 0 {
		return fallback
	}
	return v
}
