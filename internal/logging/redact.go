package logging

import (
	"context"
	"log/slog"
	"regexp"
)

// Redactor masks credentials in log output.
type Redactor struct {
	patterns []*regexp.Regexp
	redacted string
}

// NewRedactor creates a redactor for chat-platform, bearer and API tokens.
func NewRedactor() *Redactor {
	patterns := []string{
		// Slack bot/user/app tokens
		`xox[abeoprs]-[0-9a-zA-Z-]{10,}`,
		`xapp-[0-9a-zA-Z-]{10,}`,
		// OpenAI style keys
		`sk-[A-Za-z0-9_-]{20,}`,
		// Generic Bearer tokens
		`(?i)bearer\s+[a-zA-Z0-9._-]{20,}`,
		// Basic auth embedded in URLs
		`://[^/\s:@]+:[^/\s@]+@`,
	}
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		compiled = append(compiled, regexp.MustCompile(p))
	}
	return &Redactor{patterns: compiled, redacted: "[REDACTED]"}
}

// Redact masks every credential found in input.
func (r *Redactor) Redact(input string) string {
	out := input
	for _, p := range r.patterns {
		out = p.ReplaceAllString(out, r.redacted)
	}
	return out
}

// RedactingHandler wraps another handler and redacts string attributes.
type RedactingHandler struct {
	handler  slog.Handler
	redactor *Redactor
}

// NewRedactingHandler creates a new redacting handler.
func NewRedactingHandler(handler slog.Handler, redactor *Redactor) *RedactingHandler {
	return &RedactingHandler{handler: handler, redactor: redactor}
}

func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *RedactingHandler) Handle(ctx context.Context, r slog.Record) error {
	out := slog.NewRecord(r.Time, r.Level, h.redactor.Redact(r.Message), r.PC)
	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(h.redactAttr(a))
		return true
	})
	return h.handler.Handle(ctx, out)
}

func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		redacted[i] = h.redactAttr(a)
	}
	return &RedactingHandler{handler: h.handler.WithAttrs(redacted), redactor: h.redactor}
}

func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{handler: h.handler.WithGroup(name), redactor: h.redactor}
}

func (h *RedactingHandler) redactAttr(a slog.Attr) slog.Attr {
	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return slog.String(a.Key, h.redactor.Redact(v.String()))
	case slog.KindGroup:
		group := v.Group()
		out := make([]any, len(group))
		for i, g := range group {
			out[i] = h.redactAttr(g)
		}
		return slog.Group(a.Key, out...)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return slog.String(a.Key, h.redactor.Redact(err.Error()))
		}
	}
	return a
}
