package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// SanitizingHandler redacts secrets from the message, string attributes and
// error values before passing a record on. Judge failures usually arrive as
// errors wrapping stderr, so those are redacted too.
type SanitizingHandler struct {
	next      slog.Handler
	sanitizer *Sanitizer
}

// NewSanitizingHandler wraps next.
func NewSanitizingHandler(next slog.Handler, sanitizer *Sanitizer) *SanitizingHandler {
	return &SanitizingHandler{next: next, sanitizer: sanitizer}
}

func (h *SanitizingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *SanitizingHandler) Handle(ctx context.Context, r slog.Record) error {
	out := slog.NewRecord(r.Time, r.Level, h.sanitizer.Sanitize(r.Message), r.PC)
	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(h.redact(a))
		return true
	})
	return h.next.Handle(ctx, out)
}

func (h *SanitizingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &SanitizingHandler{next: h.next.WithAttrs(h.redactAll(attrs)), sanitizer: h.sanitizer}
}

func (h *SanitizingHandler) WithGroup(name string) slog.Handler {
	return &SanitizingHandler{next: h.next.WithGroup(name), sanitizer: h.sanitizer}
}

func (h *SanitizingHandler) redactAll(attrs []slog.Attr) []slog.Attr {
	out := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		out[i] = h.redact(a)
	}
	return out
}

func (h *SanitizingHandler) redact(a slog.Attr) slog.Attr {
	switch a.Value.Kind() {
	case slog.KindString:
		a.Value = slog.StringValue(h.sanitizer.Sanitize(a.Value.String()))
	case slog.KindGroup:
		a.Value = slog.GroupValue(h.redactAll(a.Value.Group())...)
	case slog.KindAny:
		if err, ok := a.Value.Any().(error); ok {
			a.Value = slog.StringValue(h.sanitizer.Sanitize(err.Error()))
		}
	}
	return a
}

var (
	levelStyles = map[slog.Level]lipgloss.Style{
		slog.LevelDebug: lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		slog.LevelInfo:  lipgloss.NewStyle().Foreground(lipgloss.Color("12")),
		slog.LevelWarn:  lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		slog.LevelError: lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
	}
	scopeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("13"))
	keyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// scopeKeys are the attributes the Logger helpers attach. The console
// handler folds them into a bracketed prefix instead of key=value pairs.
var scopeKeys = []string{"evaluation_id", "round", "agent"}

// PrettyHandler writes one compact colored line per record for terminals:
//
//	15:04:05 INF [eval-1 r2 strict] score received score=7.5
type PrettyHandler struct {
	mu     *sync.Mutex
	w      io.Writer
	level  slog.Level
	scope  map[string]string
	attrs  []slog.Attr
	groups []string
}

// NewPrettyHandler writes records at or above level to w.
func NewPrettyHandler(w io.Writer, level slog.Level) *PrettyHandler {
	return &PrettyHandler{mu: &sync.Mutex{}, w: w, level: level}
}

func (h *PrettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *PrettyHandler) Handle(_ context.Context, r slog.Record) error {
	scope, rest := h.split(func(yield func(slog.Attr) bool) { r.Attrs(yield) })

	var b strings.Builder
	b.WriteString(dimStyle.Render(r.Time.Format("15:04:05")))
	b.WriteByte(' ')
	b.WriteString(levelLabel(r.Level))
	if prefix := scopePrefix(scope); prefix != "" {
		b.WriteByte(' ')
		b.WriteString(scopeStyle.Render(prefix))
	}
	b.WriteByte(' ')
	b.WriteString(r.Message)
	for _, a := range h.attrs {
		h.writeAttr(&b, a)
	}
	for _, a := range rest {
		h.writeAttr(&b, a)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := fmt.Fprintln(h.w, b.String())
	return err
}

func (h *PrettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	var rest []slog.Attr
	next.scope, rest = h.split(func(yield func(slog.Attr) bool) {
		for _, a := range attrs {
			if !yield(a) {
				return
			}
		}
	})
	next.attrs = append(append([]slog.Attr{}, h.attrs...), rest...)
	return &next
}

// split separates scope attributes from the rest. The handler's own scope
// is copied before any change so derived handlers never share a map.
func (h *PrettyHandler) split(each func(func(slog.Attr) bool)) (map[string]string, []slog.Attr) {
	scope := h.scope
	copied := false
	var rest []slog.Attr
	each(func(a slog.Attr) bool {
		if len(h.groups) > 0 || !isScopeKey(a.Key) {
			rest = append(rest, a)
			return true
		}
		if !copied {
			scope = cloneScope(h.scope)
			copied = true
		}
		scope[a.Key] = a.Value.String()
		return true
	})
	return scope, rest
}

func (h *PrettyHandler) WithGroup(name string) slog.Handler {
	next := *h
	next.groups = append(append([]string{}, h.groups...), name)
	return &next
}

func isScopeKey(key string) bool {
	for _, k := range scopeKeys {
		if k == key {
			return true
		}
	}
	return false
}

func cloneScope(in map[string]string) map[string]string {
	out := make(map[string]string, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}

func scopePrefix(scope map[string]string) string {
	var parts []string
	for _, k := range scopeKeys {
		v, ok := scope[k]
		if !ok {
			continue
		}
		if k == "round" {
			v = "r" + v
		}
		parts = append(parts, v)
	}
	if len(parts) == 0 {
		return ""
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func levelLabel(level slog.Level) string {
	var text string
	switch {
	case level >= slog.LevelError:
		level, text = slog.LevelError, "ERR"
	case level >= slog.LevelWarn:
		level, text = slog.LevelWarn, "WRN"
	case level >= slog.LevelInfo:
		level, text = slog.LevelInfo, "INF"
	default:
		level, text = slog.LevelDebug, "DBG"
	}
	return levelStyles[level].Render(text)
}

func (h *PrettyHandler) writeAttr(b *strings.Builder, a slog.Attr) {
	if a.Value.Kind() == slog.KindGroup {
		for _, inner := range a.Value.Group() {
			h.writeAttr(b, inner)
		}
		return
	}
	key := a.Key
	if len(h.groups) > 0 {
		key = strings.Join(h.groups, ".") + "." + key
	}
	fmt.Fprintf(b, " %s=%v", keyStyle.Render(key), a.Value.Any())
}
