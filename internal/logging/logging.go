// Package logging builds the process slog.Logger: console output on stderr plus an
// optional size-rotated log file.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures New.
type Options struct {
	Level      string // debug | info | warn | error
	FileLevel  string // defaults to Level
	File       string // empty disables file output
	MaxSizeMB  int
	MaxBackups int
	JSON       bool
	Console    io.Writer // defaults to os.Stderr
}

// New returns a logger and a closer for the log file (a no-op when File is empty).
func New(opts Options) (*slog.Logger, io.Closer, error) {
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	consoleLevel := ParseLevel(opts.Level)
	fileLevel := consoleLevel
	if opts.FileLevel != "" {
		fileLevel = ParseLevel(opts.FileLevel)
	}

	build := func(w io.Writer, level slog.Level) slog.Handler {
		ho := &slog.HandlerOptions{Level: level}
		if opts.JSON {
			return slog.NewJSONHandler(w, ho)
		}
		return slog.NewTextHandler(w, ho)
	}

	if opts.File == "" {
		return slog.New(build(console, consoleLevel)), nopCloser{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
		return nil, nil, err
	}
	maxSize := opts.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 10
	}
	maxBackups := opts.MaxBackups
	if maxBackups < 0 {
		maxBackups = 3
	}
	lj := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
	}

	var handler slog.Handler
	if fileLevel != consoleLevel {
		handler = &fanout{handlers: []slog.Handler{build(console, consoleLevel), build(lj, fileLevel)}}
	} else {
		handler = build(io.MultiWriter(console, lj), consoleLevel)
	}
	return slog.New(handler), lj, nil
}

// ParseLevel converts a level name to slog.Level; unknown names mean info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// fanout sends records to every handler enabled at the record's level.
type fanout struct {
	handlers []slog.Handler
}

func (h *fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, hh := range h.handlers {
		if hh.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *fanout) Handle(ctx context.Context, r slog.Record) error {
	for _, hh := range h.handlers {
		if !hh.Enabled(ctx, r.Level) {
			continue
		}
		if err := hh.Handle(ctx, r.Clone()); err != nil {
			return err
		}
	}
	return nil
}

func (h *fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make([]slog.Handler, len(h.handlers))
	for i, hh := range h.handlers {
		out[i] = hh.WithAttrs(attrs)
	}
	return &fanout{handlers: out}
}

func (h *fanout) WithGroup(name string) slog.Handler {
	out := make([]slog.Handler, len(h.handlers))
	for i, hh := range h.handlers {
		out[i] = hh.WithGroup(name)
	}
	return &fanout{handlers: out}
}
