// Package logger builds the agent's own *slog.Logger.
//
// Diagnostics about capture and delivery never go through the console
// handle table, so this logger is separate from anything the agent
// intercepts.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default logging configuration constants
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// Output formats.
const (
	FormatText  = "text"
	FormatColor = "color"
	FormatJSON  = "json"
)

// FileConfig describes a rotated log file. Rotation parameters follow
// lumberjack semantics.
type FileConfig struct {
	Path       string `toml:"path" mapstructure:"path"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`   // megabytes before rotation (default 10)
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`   // number of backups to keep (default 3)
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"` // days to keep (default 7)
	Compress   bool   `toml:"compress" mapstructure:"compress"`         // gzip rotated files
}

// Config describes the agent logger.
type Config struct {
	Level  string     `toml:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string     `toml:"format" mapstructure:"format"` // text, color, json
	File   FileConfig `toml:"file" mapstructure:"file"`
}

// Writer returns a lumberjack writer for the file, or nil when Path is empty.
func (c FileConfig) Writer() io.WriteCloser {
	if c.Path == "" {
		return nil
	}
	return &lj.Logger{
		Filename:   c.Path,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
}

// ParseLevel maps a level name to a slog.Level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}

// New builds a logger from cfg. Records go to the configured file, or to
// fallback when no file is set (os.Stderr if fallback is nil). The returned
// closer releases the file and is never nil.
func New(cfg Config, fallback io.Writer) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}
	var (
		w      io.Writer = fallback
		closer io.Closer = nopCloser{}
	)
	if w == nil {
		w = os.Stderr
	}
	if fw := cfg.File.Writer(); fw != nil {
		w, closer = fw, fw
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "", FormatText:
		h = slog.NewTextHandler(w, opts)
	case FormatColor:
		h = NewColorTextHandler(w, opts, true)
	case FormatJSON:
		h = slog.NewJSONHandler(w, opts)
	default:
		_ = closer.Close()
		return nil, nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	return slog.New(h).With("component", "logship"), closer, nil
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger { return slog.New(slog.DiscardHandler) }

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
