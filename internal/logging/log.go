// Package logging is the structured logger shared by the machine layer, the
// board emulator and the command line tool.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Component identifies a subsystem for log filtering.
type Component string

const (
	ComponentMachine  Component = "machine"
	ComponentWatchdog Component = "watchdog"
	ComponentSim      Component = "sim"
	ComponentRTC      Component = "rtc"
	ComponentCLI      Component = "cli"
	ComponentMonitor  Component = "monitor"
)

// Format selects the handler used by SetFormat.
type Format int

const (
	FormatText Format = iota
	FormatJSON
)

var (
	logger *slog.Logger
	level  = new(slog.LevelVar)
	mu     sync.RWMutex
)

func init() {
	level.Set(slog.LevelWarn)
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// SetLevel sets the minimum level for all loggers created by this package.
func SetLevel(l slog.Level) {
	level.Set(l)
}

// Level returns the current minimum level.
func Level() slog.Level {
	return level.Level()
}

// ParseLevel converts "debug", "info", "warn" or "error" to a level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("logging: unknown level %q", s)
	}
	return l, nil
}

// ParseFormat converts "text" or "json" to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	}
	return 0, fmt.Errorf("logging: unknown format %q", s)
}

// SetOutput replaces the default logger with one writing to w in the given
// format.
func SetOutput(w io.Writer, f Format) {
	mu.Lock()
	defer mu.Unlock()
	logger = New(w, f)
}

// SetLogger replaces the default logger.
func SetLogger(l *slog.Logger) {
	mu.Lock()
	defer mu.Unlock()
	logger = l
}

// New creates a logger writing to w that follows the package level.
func New(w io.Writer, f Format) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if f == FormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// For returns the default logger tagged with a component.
func For(c Component) *slog.Logger {
	mu.RLock()
	l := logger
	mu.RUnlock()
	return l.With("component", string(c))
}

func Debug(c Component, msg string, args ...any) { For(c).Debug(msg, args...) }
func Info(c Component, msg string, args ...any)  { For(c).Info(msg, args...) }
func Warn(c Component, msg string, args ...any)  { For(c).Warn(msg, args...) }
func Error(c Component, msg string, args ...any) { For(c).Error(msg, args...) }
