package memory

import "regexp"

var (
	botTokenRegex = regexp.MustCompile(`[MN][A-Za-z\d_-]{20,}\.[A-Za-z\d_-]{6,}\.[A-Za-z\d_-]{20,}`)
	secretKVRegex = regexp.MustCompile(`(?i)(api[_-]?key|secret|token|password)\s*[:=]\s*\S+`)
)

// Redact masks token-shaped strings and secret-like key=value pairs before
// message content is persisted. This is best-effort pattern matching, not
// secret detection; anything that slips through is stored verbatim.
func Redact(text string) string {
	t := botTokenRegex.ReplaceAllString(text, "[REDACTED_TOKEN]")
	t = secretKVRegex.ReplaceAllString(t, "$1=[REDACTED]")
	return t
}
