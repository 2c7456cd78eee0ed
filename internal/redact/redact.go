// Package redact scrubs credentials and bulky payloads from log output.
package redact

import (
	"fmt"
	"log"
	"net/url"
	"path"
	"regexp"
	"strings"
)

var (
	bearerRe      = regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9._\-+/=]+)`)
	apiKeyListRe  = regexp.MustCompile(`(?i)(api[_-]?keys?\s*[:=]\s*\[)([^\]]+)(\])`)
	apiKeyValueRe = regexp.MustCompile(`(?i)(api[_-]?keys?\s*[:=]\s*)([A-Za-z0-9._\-+/=]+)`)
	headerKeyRe   = regexp.MustCompile(`(?i)(x-api-key|x-vlaguard-key)(\s*[:=]\s*)([A-Za-z0-9._\-+/=]+)`)
	passwordRe    = regexp.MustCompile(`(?i)(password\s*[:=]\s*)(\S+)`)
	tokenishKeyRe = regexp.MustCompile(`(?i)\b(secret|token)\s*[:=]\s*([A-Za-z0-9._\-+/=]{6,})`)
	urlRe         = regexp.MustCompile(`(?i)(?:https?|redis|rediss)://[^\s"'<>]+`)
	// Long base64 runs are camera frames; they are noise in logs.
	base64BlobRe = regexp.MustCompile(`[A-Za-z0-9+/]{256,}={0,2}`)
)

// String redacts known secret patterns from free-form strings.
func String(s string) string {
	if s == "" {
		return s
	}

	out := s
	out = base64BlobRe.ReplaceAllStringFunc(out, func(m string) string {
		return fmt.Sprintf("[BLOB %d bytes]", len(m))
	})
	out = bearerRe.ReplaceAllString(out, "${1}[REDACTED]")
	out = apiKeyListRe.ReplaceAllString(out, "${1}REDACTED${3}")
	out = apiKeyValueRe.ReplaceAllString(out, "${1}[REDACTED]")
	out = headerKeyRe.ReplaceAllString(out, "${1}${2}[REDACTED]")
	out = passwordRe.ReplaceAllString(out, "${1}[REDACTED]")
	out = tokenishKeyRe.ReplaceAllStringFunc(out, func(s string) string {
		if strings.Contains(s, "[REDACTED]") {
			return s
		}
		m := tokenishKeyRe.FindStringSubmatch(s)
		if len(m) < 3 {
			return s
		}
		return m[1] + "=[REDACTED]"
	})
	out = urlRe.ReplaceAllStringFunc(out, redactURL)
	for strings.Contains(out, "[REDACTED][REDACTED]") {
		out = strings.ReplaceAll(out, "[REDACTED][REDACTED]", "[REDACTED]")
	}
	return out
}

// Any formats the value with %+v and redacts secrets.
func Any(v any) string {
	return String(fmt.Sprintf("%+v", v))
}

// Sprintf formats like fmt.Sprintf and redacts the result.
func Sprintf(format string, args ...any) string {
	return String(fmt.Sprintf(format, args...))
}

// Logf prints a redacted log line.
func Logf(format string, args ...any) {
	log.Print(Sprintf(format, args...))
}

// Fatalf prints a redacted fatal log line.
func Fatalf(format string, args ...any) {
	log.Fatal(Sprintf(format, args...))
}

// redactURL keeps scheme, host and the last path element. Credentials, query
// strings and intermediate path segments are dropped.
func redactURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "[REDACTED_URL]"
	}
	host := u.Host
	if u.User != nil {
		host = "[REDACTED]@" + host
	}
	if u.Path == "" || u.Path == "/" {
		return fmt.Sprintf("%s://%s", u.Scheme, host)
	}
	if strings.HasSuffix(u.Path, "/") {
		return fmt.Sprintf("%s://%s/[REDACTED_PATH]", u.Scheme, host)
	}
	base := path.Base(u.Path)
	return fmt.Sprintf("%s://%s/%s", u.Scheme, host, base)
}
