// Package redact scrubs secrets from strings before they are logged.
//
// Task failures routinely carry upstream error text: backend responses that
// echo API keys, database errors quoting SQL with parameter values, and
// panics with file paths. Everything that reaches a log line or an error
// field passes through String or Error first.
package redact

import "regexp"

// Placeholders substituted for redacted fragments.
const (
	Credential = "[REDACTED_CREDENTIAL]"
	Key        = "[REDACTED_KEY]"
	JWT        = "[REDACTED_JWT]"
	Email      = "[REDACTED_EMAIL]"
	Path       = "[REDACTED_PATH]"
	SQL        = "[REDACTED_SQL]"
	StackTrace = "[STACK_TRACE_REDACTED]"
)

type rule struct {
	pattern     *regexp.Regexp
	replacement string
}

// rules run in order. Earlier rules consume text that later, broader rules
// would otherwise mangle: URL userinfo goes before emails, JWTs before
// bearer tokens.
var rules = []rule{
	// Stack traces swallow the rest of the message.
	{regexp.MustCompile(`(?s)(?:panic: |goroutine \d+ \[).*`), StackTrace},
	// user:password@ in DSNs and URLs.
	{regexp.MustCompile(`\b[A-Za-z][A-Za-z0-9+.-]*://[^\s/@]+@`), Credential},
	{regexp.MustCompile(`eyJ[A-Za-z0-9_-]+\.eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+`), JWT},
	// OpenAI and Anthropic (sk-, sk-ant-) and Google (AIza) keys.
	{regexp.MustCompile(`\b(?:sk-[A-Za-z0-9_-]{16,}|AIza[0-9A-Za-z_-]{30,})`), Key},
	{regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`), Key},
	{regexp.MustCompile(`(?i)\b(password|passwd|pwd|secret|api[_-]?key|x-api-key|token)(\s*[=:]\s*)[^\s,;&'"]+`), "$1$2" + Credential},
	{regexp.MustCompile(`(?i)\b(bearer)\s+[A-Za-z0-9._~+/-]+=*`), "$1 " + Credential},
	{regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`), Email},
	// Statement text carries literal values; keep only the verb.
	{regexp.MustCompile(`(?i)\b(SELECT|INSERT|UPDATE|DELETE)\s(?:[^;]*?\bFROM\b|\s*INTO\b|\s*[\w."]+\s+SET\b)[^;]*`), "$1 " + SQL},
	{regexp.MustCompile(`(?:/[\w.-]+){2,}`), Path},
	{regexp.MustCompile(`\b[A-Za-z]:\\[^\s\\]+(?:\\[^\s\\]+)+`), Path},
}

// String returns s with every sensitive fragment replaced by a placeholder.
func String(s string) string {
	if s == "" {
		return s
	}
	for _, r := range rules {
		s = r.pattern.ReplaceAllString(s, r.replacement)
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
