package obs

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

var (
	bearerPattern = regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9\-._~+/]+=*`)
	jwtPattern    = regexp.MustCompile(`eyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]*`)
	emailPattern  = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	secretPattern = regexp.MustCompile(`(?i)(password|secret|token|idempotency[_-]?key)\s*[=:]\s*\S+`)
)

// Redact masks credentials, session tokens and email addresses in s so the
// result is safe to write to server logs.
func Redact(s string) string {
	if s == "" {
		return s
	}
	s = bearerPattern.ReplaceAllString(s, "Bearer [redacted]")
	s = jwtPattern.ReplaceAllString(s, "[redacted-jwt]")
	s = secretPattern.ReplaceAllStringFunc(s, func(m string) string {
		idx := strings.IndexAny(m, "=:")
		return m[:idx+1] + "[redacted]"
	})
	s = emailPattern.ReplaceAllStringFunc(s, func(m string) string {
		return "email:" + Fingerprint(strings.ToLower(m))
	})
	return s
}

// Fingerprint returns a short stable digest of v for correlating log lines
// without recording the value itself.
func Fingerprint(v string) string {
	sum := sha256.Sum256([]byte(v))
	return hex.EncodeToString(sum[:6])
}
