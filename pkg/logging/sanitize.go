package logging

import (
	"net/url"
	"regexp"
	"strings"
)

// Redacted replaces credential material in log output.
const Redacted = "[redacted]"

// maxQueryLogLength caps logged query strings. Region filters arrive as
// JSON in the query string and can get long.
const maxQueryLogLength = 200

var credentialPattern = regexp.MustCompile(`(?i)(password|token_secret|secret)=[^;&\s]+`)

// RedactURL strips the password from a connection URL so it can be logged.
// Inputs that do not parse as URLs get pattern-based redaction instead.
func RedactURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return credentialPattern.ReplaceAllString(raw, "${1}="+Redacted)
	}
	if _, hasPassword := u.User.Password(); hasPassword {
		u.User = url.UserPassword(u.User.Username(), Redacted)
		// String escapes the brackets in the placeholder; undo just that.
		return strings.Replace(u.String(), "%5Bredacted%5D", Redacted, 1)
	}
	return u.String()
}

// TruncateQuery shortens a raw query string for request logs.
func TruncateQuery(query string) string {
	if len(query) <= maxQueryLogLength {
		return query
	}
	return query[:maxQueryLogLength] + "..."
}
