// Package logging builds the process logger: stderr plus an optional log
// file, in text or JSON.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/term"
)

type Options struct {
	Level string
	// Format is text, json, or auto.
	Format string
	// Dest is the log file; ignored when NoFile is set.
	Dest   string
	NoFile bool
	// Stderr defaults to os.Stderr.
	Stderr io.Writer
}

// New returns the logger and a closer for the log file. The closer is never
// nil.
func New(opts Options) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	writers := []io.Writer{stderr}
	var closer io.Closer = nopCloser{}
	if !opts.NoFile && opts.Dest != "" {
		if err := os.MkdirAll(filepath.Dir(opts.Dest), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(opts.Dest, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		writers = append(writers, f)
		closer = f
	}
	w := io.MultiWriter(writers...)

	hopts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	switch resolveFormat(opts.Format, stderr) {
	case "json":
		h = slog.NewJSONHandler(w, hopts)
	default:
		h = slog.NewTextHandler(w, hopts)
	}
	return slog.New(h), closer, nil
}

// ParseLevel accepts debug, info, warn (or warning), and error. Empty means
// info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("invalid log level %q", s)
}

// DefaultDest is the log file used when none is configured: the system log
// directory for root, the user's Library/Logs otherwise.
func DefaultDest(euid int, home string) string {
	if euid == 0 || home == "" {
		return "/var/log/psm/psm.log"
	}
	return filepath.Join(home, "Library", "Logs", "psm", "psm.log")
}

func resolveFormat(format string, stderr io.Writer) string {
	if format != "auto" && format != "" {
		return format
	}
	if f, ok := stderr.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return "text"
	}
	return "json"
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
