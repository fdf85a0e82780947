// Package logging wraps log/slog with credential redaction and a compact
// console format for interactive runs.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"
)

// Logger wraps slog.Logger with evaluation-scoped helpers.
type Logger struct {
	*slog.Logger
	sanitizer *Sanitizer
}

// Config configures the logger.
type Config struct {
	Level     string
	Format    string // auto, text, json
	Output    io.Writer
	AddSource bool
	// Secrets are literal values redacted from every record.
	Secrets []string
}

// DefaultConfig returns the default logger configuration. Logs go to
// stderr so command output on stdout stays machine readable.
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: "auto",
		Output: os.Stderr,
	}
}

// New builds a logger from cfg. Format "auto" picks the pretty console
// handler on a terminal and JSON otherwise. Every record passes through the
// sanitizer first.
func New(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	sanitizer := NewSanitizer()
	sanitizer.AddSecret(cfg.Secrets...)
	return &Logger{
		Logger:    slog.New(NewSanitizingHandler(baseHandler(cfg), sanitizer)),
		sanitizer: sanitizer,
	}
}

func baseHandler(cfg Config) slog.Handler {
	level := ParseLevel(cfg.Level)
	opts := &slog.HandlerOptions{Level: level, AddSource: cfg.AddSource}
	switch strings.ToLower(cfg.Format) {
	case "json":
		return slog.NewJSONHandler(cfg.Output, opts)
	case "text":
		return slog.NewTextHandler(cfg.Output, opts)
	}
	if isTerminal(cfg.Output) {
		return NewPrettyHandler(cfg.Output, level)
	}
	return slog.NewJSONHandler(cfg.Output, opts)
}

// NewNop discards everything. Used as the default by packages that accept
// an optional logger.
func NewNop() *Logger {
	return &Logger{
		Logger:    slog.New(slog.DiscardHandler),
		sanitizer: NewSanitizer(),
	}
}

// ParseLevel maps a level name to slog.Level. Unknown names mean info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

// ValidLevel reports whether s names a level ParseLevel understands.
func ValidLevel(s string) bool {
	switch strings.ToLower(s) {
	case "debug", "info", "warn", "warning", "error":
		return true
	}
	return false
}

func isTerminal(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		return term.IsTerminal(int(f.Fd()))
	}
	return false
}

func (l *Logger) derive(args ...any) *Logger {
	return &Logger{
		Logger:    l.Logger.With(args...),
		sanitizer: l.sanitizer,
	}
}

// WithEvaluation returns a logger tagged with an evaluation id.
func (l *Logger) WithEvaluation(evaluationID string) *Logger {
	return l.derive("evaluation_id", evaluationID)
}

// WithAgent returns a logger tagged with a judge name.
func (l *Logger) WithAgent(agent string) *Logger {
	return l.derive("agent", agent)
}

// WithRound returns a logger tagged with a round number.
func (l *Logger) WithRound(round int) *Logger {
	return l.derive("round", round)
}

// WithTopic returns a logger tagged with a log topic.
func (l *Logger) WithTopic(topicID string) *Logger {
	return l.derive("topic_id", topicID)
}

// With returns a logger with custom fields.
func (l *Logger) With(args ...any) *Logger {
	return l.derive(args...)
}

// Sanitizer returns the sanitizer used by this logger.
func (l *Logger) Sanitizer() *Sanitizer {
	return l.sanitizer
}

// Sanitize redacts credentials from input.
func (l *Logger) Sanitize(input string) string {
	return l.sanitizer.Sanitize(input)
}
