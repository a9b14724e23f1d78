package log

import (
	"context"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
)

// sensitiveKeys contains attribute keys whose values are always masked.
var sensitiveKeys = map[string]bool{
	// HTTP headers
	"authorization":       true,
	"cookie":              true,
	"set-cookie":          true,
	"x-airbnb-api-key":    true,
	"proxy-authorization": true,

	// Remote API
	"key":               true,
	"api_key":           true,
	"apikey":            true,
	"api-key":           true,
	"client_session_id": true,

	// Storage
	"password": true,
	"passwd":   true,
	"dsn":      true,

	// Generic secrets
	"secret":      true,
	"token":       true,
	"credential":  true,
	"credentials": true,
}

// sensitiveKeywords mark a key as sensitive when contained in it.
// The bare word "key" is not listed: it would match "tree_key" or "keys".
var sensitiveKeywords = []string{
	"password", "passwd", "secret", "token", "api_key", "apikey", "credential",
}

// sensitiveQueryParams are masked inside URL values.
var sensitiveQueryParams = []string{"key", "api_key", "client_session_id"}

// sensitivePatterns contains regex patterns that indicate sensitive values.
var sensitivePatterns = []*regexp.Regexp{
	// Bearer tokens
	regexp.MustCompile(`(?i)^bearer\s+.+`),

	// Basic auth
	regexp.MustCompile(`(?i)^basic\s+[A-Za-z0-9+/=]+$`),

	// Long alphanumeric strings such as API keys
	regexp.MustCompile(`^[a-zA-Z0-9]{32,}$`),
}

// urlPattern finds URLs embedded in a string value.
var urlPattern = regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9+.-]*://[^\s"']+`)

// MaskValue is the string used to replace sensitive values.
const MaskValue = "***REDACTED***"

// maskURLPart replaces credentials and query values inside URLs.
// It needs no escaping so masked URLs stay readable.
const maskURLPart = "REDACTED"

// SecureHandler wraps an slog.Handler to sanitize sensitive information.
// Values of sensitive keys are replaced by MaskValue; URLs have their
// credentials and sensitive query parameters masked so that proxy
// addresses and request URLs stay readable in logs.
type SecureHandler struct {
	handler slog.Handler
}

// NewSecureHandler creates a new SecureHandler wrapping the given handler.
// If handler is nil, slog.Default().Handler() is used.
func NewSecureHandler(handler slog.Handler) *SecureHandler {
	if handler == nil {
		handler = slog.Default().Handler()
	}
	return &SecureHandler{handler: handler}
}

// Enabled reports whether the underlying handler handles records at level.
func (h *SecureHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

// Handle sanitizes the record's attributes and passes it to the underlying handler.
func (h *SecureHandler) Handle(ctx context.Context, r slog.Record) error {
	sanitized := slog.NewRecord(r.Time, r.Level, SanitizeString(r.Message), r.PC)
	r.Attrs(func(a slog.Attr) bool {
		sanitized.AddAttrs(sanitizeAttr(a))
		return true
	})
	return h.handler.Handle(ctx, sanitized)
}

// WithAttrs returns a new handler with the given attributes sanitized and added.
func (h *SecureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	sanitizedAttrs := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		sanitizedAttrs[i] = sanitizeAttr(a)
	}
	return &SecureHandler{handler: h.handler.WithAttrs(sanitizedAttrs)}
}

// WithGroup returns a new handler with the given group name.
func (h *SecureHandler) WithGroup(name string) slog.Handler {
	return &SecureHandler{handler: h.handler.WithGroup(name)}
}

// sanitizeAttr sanitizes a single attribute, recursively handling groups.
func sanitizeAttr(a slog.Attr) slog.Attr {
	a.Value = a.Value.Resolve()

	if a.Value.Kind() == slog.KindGroup {
		attrs := a.Value.Group()
		sanitizedAttrs := make([]slog.Attr, len(attrs))
		for i, groupAttr := range attrs {
			sanitizedAttrs[i] = sanitizeAttr(groupAttr)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(sanitizedAttrs...)}
	}

	keyLower := strings.ToLower(a.Key)
	if sensitiveKeys[keyLower] || containsSensitiveKeyword(keyLower) {
		return slog.String(a.Key, MaskValue)
	}

	switch a.Value.Kind() {
	case slog.KindString:
		return slog.String(a.Key, SanitizeString(a.Value.String()))
	case slog.KindAny:
		// errors and URLs carry request URLs in their text
		switch v := a.Value.Any().(type) {
		case error:
			return slog.String(a.Key, SanitizeString(v.Error()))
		case *url.URL:
			return slog.String(a.Key, SanitizeString(v.String()))
		}
	}

	return a
}

// SanitizeString masks a whole value matching a secret pattern, and masks
// credentials and sensitive query parameters of any URL inside it.
func SanitizeString(s string) string {
	if isSensitiveValue(s) {
		return MaskValue
	}
	if !strings.Contains(s, "://") {
		return s
	}
	return urlPattern.ReplaceAllStringFunc(s, sanitizeURL)
}

// sanitizeURL masks user info and sensitive query parameters of raw.
// Unparseable input is returned unchanged.
func sanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	changed := false
	if u.User != nil {
		u.User = url.User(maskURLPart)
		changed = true
	}

	if u.RawQuery != "" {
		q := u.Query()
		for _, p := range sensitiveQueryParams {
			if q.Has(p) {
				q.Set(p, maskURLPart)
				changed = true
			}
		}
		if changed {
			u.RawQuery = q.Encode()
		}
	}

	if !changed {
		return raw
	}
	return u.String()
}

// containsSensitiveKeyword checks if the key contains a sensitive keyword.
func containsSensitiveKeyword(key string) bool {
	for _, keyword := range sensitiveKeywords {
		if strings.Contains(key, keyword) {
			return true
		}
	}
	return false
}

// isSensitiveValue checks if a value matches sensitive patterns.
func isSensitiveValue(value string) bool {
	for _, pattern := range sensitivePatterns {
		if pattern.MatchString(value) {
			return true
		}
	}
	return false
}
