package intercept

import (
	"context"
	"log/slog"

	"github.com/loykin/logship/internal/event"
)

// SlogHandler returns a slog.Handler that captures every record it sees.
// Records are mapped to kinds by level and carry [message] or
// [message, attributes] as payload. When the interceptor was created
// with output enabled and next is non-nil, records are passed on to next.
//
// Do not hand this handler to the agent's own logger: it would capture
// the agent's diagnostics about its own deliveries.
func (i *Interceptor) SlogHandler(next slog.Handler) slog.Handler {
	return &slogHandler{i: i, next: next}
}

type slogHandler struct {
	i      *Interceptor
	next   slog.Handler
	attrs  []slog.Attr
	groups []string
}

func (h *slogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if h.next == nil {
		return true
	}
	// capture everything the wrapped handler would print, and never less
	// than info so capture does not depend on the console's verbosity
	return level >= slog.LevelInfo || h.next.Enabled(ctx, level)
}

func (h *slogHandler) Handle(ctx context.Context, r slog.Record) error {
	attrs := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		attrs[a.Key] = a.Value.Resolve().Any()
	}
	prefix := groupPrefix(h.groups)
	r.Attrs(func(a slog.Attr) bool {
		attrs[prefix+a.Key] = a.Value.Resolve().Any()
		return true
	})
	args := []any{r.Message}
	if len(attrs) > 0 {
		args = append(args, attrs)
	}
	h.i.handler.Handle(event.NewAt(levelKind(r.Level), r.Time, args...))

	if h.i.output && h.next != nil && h.next.Enabled(ctx, r.Level) {
		return h.next.Handle(ctx, r)
	}
	return nil
}

func (h *slogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	prefix := groupPrefix(h.groups)
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	for _, a := range attrs {
		merged = append(merged, slog.Attr{Key: prefix + a.Key, Value: a.Value})
	}
	var next slog.Handler
	if h.next != nil {
		next = h.next.WithAttrs(attrs)
	}
	return &slogHandler{i: h.i, next: next, attrs: merged, groups: h.groups}
}

func (h *slogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	groups := append(append([]string(nil), h.groups...), name)
	var next slog.Handler
	if h.next != nil {
		next = h.next.WithGroup(name)
	}
	return &slogHandler{i: h.i, next: next, attrs: h.attrs, groups: groups}
}

func groupPrefix(groups []string) string {
	p := ""
	for _, g := range groups {
		p += g + "."
	}
	return p
}

func levelKind(l slog.Level) event.Kind {
	switch {
	case l < slog.LevelInfo:
		return event.KindDebug
	case l < slog.LevelWarn:
		return event.KindInfo
	case l < slog.LevelError:
		return event.KindWarn
	default:
		return event.KindError
	}
}
