// Package redact removes credentials, hosts, paths and similar detail from
// strings before they are logged, stored as a task's error message or
// published in a progress event.
package redact

import "regexp"

// Placeholders substituted for redacted text.
const (
	Placeholder           = "[REDACTED]"
	CredentialPlaceholder = "[REDACTED_CREDENTIAL]"
	KeyPlaceholder        = "[REDACTED_KEY]"
	TokenPlaceholder      = "[REDACTED_TOKEN]"
	HostPlaceholder       = "[REDACTED_HOST]"
	PathPlaceholder       = "[REDACTED_PATH]"
	EmailPlaceholder      = "[REDACTED_EMAIL]"
	SQLPlaceholder        = "[REDACTED_SQL]"
	StackPlaceholder      = "[STACK_TRACE_REDACTED]"
)

type rule struct {
	re          *regexp.Regexp
	replacement string
}

// rules run in order; earlier rules remove text that later ones would
// misread, e.g. the userinfo of a URL looks like an email address.
var rules = []rule{
	{
		re:          regexp.MustCompile(`(?s)(?:panic:|goroutine \d+ \[).*`),
		replacement: StackPlaceholder,
	},
	{
		re:          regexp.MustCompile(`(?i)\b(postgres(?:ql)?|rediss?|mysql|mongodb|amqp)://[^@\s/]+@`),
		replacement: "${1}://" + CredentialPlaceholder + "@",
	},
	{
		re:          regexp.MustCompile(`AIza[0-9A-Za-z_\-]{35}`),
		replacement: KeyPlaceholder,
	},
	{
		re:          regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._~+/\-]+=*`),
		replacement: "Bearer " + TokenPlaceholder,
	},
	{
		re:          regexp.MustCompile(`(?i)\b(api[_-]?key|key|token|secret|password|passwd|pwd)(\s*[=:]\s*)[^&\s'",]+`),
		replacement: "${1}${2}" + Placeholder,
	},
	{
		re:          regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
		replacement: EmailPlaceholder,
	},
	{
		re:          regexp.MustCompile(`\b(?:(?:[A-Za-z0-9-]+\.)+[A-Za-z]{2,}|\d{1,3}(?:\.\d{1,3}){3}|localhost):\d{1,5}\b`),
		replacement: HostPlaceholder,
	},
	{
		re:          regexp.MustCompile(`[A-Za-z]:\\(?:[^\\\n]+\\)+[^\\\s]+`),
		replacement: PathPlaceholder,
	},
	{
		re:          regexp.MustCompile(`(^|\s)(?:/[\w.-]+){2,}`),
		replacement: "${1}" + PathPlaceholder,
	},
	{
		re:          regexp.MustCompile(`\b(?:SELECT|INSERT|UPDATE|DELETE)\b[^\n]*?\b(?:FROM|INTO|SET)\b[^\n]*`),
		replacement: SQLPlaceholder,
	},
}

// String returns s with sensitive fragments replaced by placeholders.
func String(s string) string {
	if s == "" {
		return s
	}
	for _, r := range rules {
		s = r.re.ReplaceAllString(s, r.replacement)
	}
	return s
}

// Error redacts err.Error(). A nil error yields "".
func Error(err error) string {
	if err == nil {
		return ""
	}
	return String(err.Error())
}
