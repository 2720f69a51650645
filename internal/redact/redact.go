package redact

import (
	"net/url"
	"regexp"
	"strings"
)

var sensitivePatterns = []*regexp.Regexp{
	// Card numbers: 13-19 digits, optionally grouped by spaces or dashes
	regexp.MustCompile(`\b(?:\d[ -]?){12,18}\d\b`),

	// Card security codes
	regexp.MustCompile(`(?i)\b(cvv2?|cvc2?|csc|security[ _-]?code)['"]?\s*[=:]\s*['"]?\d{3,4}['"]?`),

	// Expiry dates next to a card label
	regexp.MustCompile(`(?i)\b(exp(iry|iration)?([ _-]?date)?)['"]?\s*[=:]\s*['"]?\d{2}\s*/\s*\d{2,4}['"]?`),

	// Email addresses
	regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`),

	// Bearer tokens
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/=-]{20,}`),

	// Basic auth in URLs
	regexp.MustCompile(`https?://[^:/\s]+:[^@/\s]+@`),

	// Stripe and similar payment provider keys
	regexp.MustCompile(`(sk|rk|pk)_(live|test)_[0-9a-zA-Z]{24,}`),

	// Generic secrets
	regexp.MustCompile(`(?i)(api_key|apikey|api-key|secret_key|access_token|auth_token|password|passwd)\s*[=:]\s*['"]?[^\s'"&]{8,}['"]?`),
}

const redactedPlaceholder = "[REDACTED]"

// sensitiveParams are query parameters whose values never reach a log.
var sensitiveParams = []string{
	"token", "session", "sid", "auth", "key", "sig", "signature",
	"code", "password", "email", "card", "cvv", "cvc", "pan", "secret",
}

func Redact(input string) string {
	result := input
	for _, pattern := range sensitivePatterns {
		result = pattern.ReplaceAllString(result, redactedPlaceholder)
	}
	return result
}

// RedactURL drops credentials and the values of sensitive query
// parameters. Input that does not parse as a URL goes through Redact.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return Redact(raw)
	}
	u.User = nil
	if u.RawQuery != "" {
		q := u.Query()
		for name := range q {
			if isSensitiveParam(name) {
				q.Set(name, redactedPlaceholder)
			}
		}
		u.RawQuery = q.Encode()
	}
	u.Fragment = ""
	return Redact(u.String())
}

func isSensitiveParam(name string) bool {
	n := strings.ToLower(name)
	for _, s := range sensitiveParams {
		if strings.Contains(n, s) {
			return true
		}
	}
	return false
}
