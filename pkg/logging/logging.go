package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// ServiceName is stamped on every record emitted by New unless Config.Service overrides it.
const ServiceName = "peek"

// Level aliases slog.Level so callers never import log/slog just for a threshold.
type Level = slog.Level

const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// Format selects the slog handler.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Config describes how the process-wide logger is built.
type Config struct {
	Level  Level
	Format Format
	// Output defaults to os.Stderr.
	Output io.Writer
	// Service replaces ServiceName in the "service" attribute.
	Service string
	// AddSource annotates records with file:line.
	AddSource bool
}

// DefaultConfig is info-level text on stderr.
func DefaultConfig() Config {
	return Config{Level: LevelInfo, Format: FormatText, Output: os.Stderr}
}

// New builds a logger from cfg with the service attribute attached.
func New(cfg Config) *slog.Logger {
	service := cfg.Service
	if service == "" {
		service = ServiceName
	}
	return slog.New(newHandler(cfg)).With("service", service)
}

func newHandler(cfg Config) slog.Handler {
	w := cfg.Output
	if w == nil {
		w = os.Stderr
	}
	ho := &slog.HandlerOptions{Level: cfg.Level, AddSource: cfg.AddSource}
	if cfg.Format == FormatJSON {
		return slog.NewJSONHandler(w, ho)
	}
	return slog.NewTextHandler(w, ho)
}

// Nop discards everything.
func Nop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Component scopes logger to one peek subsystem (capture, store, replay, ...).
// A nil logger yields Nop().
func Component(logger *slog.Logger, name string) *slog.Logger {
	return OrNop(logger).With("component", name)
}

// OrNop returns logger, or Nop() when logger is nil.
func OrNop(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return Nop()
}

// ParseLevel maps debug, info, warn(ing) and error, ignoring case and
// surrounding space. Anything else is LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	}
	return LevelInfo
}

// ParseFormat returns FormatJSON for "json" in any case and FormatText otherwise.
func ParseFormat(s string) Format {
	if strings.EqualFold(strings.TrimSpace(s), string(FormatJSON)) {
		return FormatJSON
	}
	return FormatText
}
