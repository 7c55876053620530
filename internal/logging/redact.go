package logging

import (
	"context"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
)

// sensitiveKeyPatterns lists substrings that mark an attribute key as holding
// a secret. Values under these keys are fully redacted.
var sensitiveKeyPatterns = []string{
	"password",
	"passphrase",
	"secret",
	"private_key",
	"authorization",
}

// privateKeyPattern matches a bare 32-byte hex key without 0x. Ids and
// hashes are always logged with the prefix and are left alone.
var privateKeyPattern = regexp.MustCompile(`(?:^|[^0-9a-fA-Fx])([0-9a-fA-F]{64})(?:$|[^0-9a-fA-F])`)

// secretQueryParams are webhook URL query parameters masked in logs.
var secretQueryParams = []string{"token", "key", "signature", "access_token"}

// RedactingHandler wraps an slog.Handler and redacts sensitive values before
// they reach the inner handler.
type RedactingHandler struct {
	inner slog.Handler
}

// NewRedactingHandler creates a RedactingHandler that wraps inner.
func NewRedactingHandler(inner slog.Handler) *RedactingHandler {
	return &RedactingHandler{inner: inner}
}

// Enabled reports whether the inner handler handles records at the given level.
func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle redacts attribute values and forwards the record.
func (h *RedactingHandler) Handle(ctx context.Context, r slog.Record) error {
	out := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(redactAttr(a))
		return true
	})
	return h.inner.Handle(ctx, out)
}

// WithAttrs returns a new handler with the given attributes redacted.
func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		redacted[i] = redactAttr(a)
	}
	return &RedactingHandler{inner: h.inner.WithAttrs(redacted)}
}

// WithGroup returns a new handler with the given group name.
func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{inner: h.inner.WithGroup(name)}
}

func redactAttr(a slog.Attr) slog.Attr {
	key := strings.ToLower(a.Key)
	for _, pattern := range sensitiveKeyPatterns {
		if strings.Contains(key, pattern) {
			return slog.String(a.Key, "[REDACTED]")
		}
	}
	if a.Value.Kind() == slog.KindGroup {
		group := a.Value.Group()
		redacted := make([]any, len(group))
		for i, g := range group {
			redacted[i] = redactAttr(g)
		}
		return slog.Group(a.Key, redacted...)
	}
	if a.Value.Kind() != slog.KindString {
		return a
	}
	val := a.Value.String()
	if strings.Contains(key, "url") || strings.HasPrefix(val, "http://") || strings.HasPrefix(val, "https://") {
		val = RedactURL(val)
	}
	val = redactString(val)
	if val != a.Value.String() {
		return slog.String(a.Key, val)
	}
	return a
}

func redactString(val string) string {
	return privateKeyPattern.ReplaceAllStringFunc(val, func(match string) string {
		i := strings.IndexAny(match, "0123456789abcdefABCDEF")
		return match[:i] + match[i:i+4] + "...[REDACTED]" + match[i+64:]
	})
}

// RedactURL masks userinfo and secret query parameters of a webhook URL.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	if u.User != nil {
		u.User = url.User("[REDACTED]")
	}
	q := u.Query()
	changed := false
	for _, p := range secretQueryParams {
		if q.Has(p) {
			q.Set(p, "[REDACTED]")
			changed = true
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// EnableRedaction wraps the current global logger with a RedactingHandler.
func EnableRedaction() {
	mu.Lock()
	defer mu.Unlock()

	handler := defaultLogger.Handler()
	if _, ok := handler.(*RedactingHandler); ok {
		return
	}
	defaultLogger = slog.New(NewRedactingHandler(handler))
}
