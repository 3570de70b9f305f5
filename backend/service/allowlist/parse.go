package allowlist

import (
	"regexp"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

var (
	lineBreaks = regexp.MustCompile(`\r\n?`)

	// 一行一个域名：字母数字下划线、连字符、点和通配符，或 [::1] 形式的 IPv6
	domainLine = regexp.MustCompile(`^(?:[\w\-.*]+|\[[\w:]+\])$`)

	updateDateMarker = regexp.MustCompile(`; Update Date: ([^\r\n]+)`)
)

// NormalizeLineEndings converts CRLF and lone CR to LF.
func NormalizeLineEndings(text string) string {
	return lineBreaks.ReplaceAllString(text, "\n")
}

// ExtractDomains returns every line of text that is a bare domain token, in order.
// Blank, comment and metadata lines never match the token grammar.
func ExtractDomains(text string) []string {
	lines := strings.Split(NormalizeLineEndings(text), "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if domainLine.MatchString(line) {
			out = append(out, line)
		}
	}
	return out
}

// ParseUpdateDate reads the first "; Update Date: <date>" marker in text.
// Dates without a zone are read in local time. ok is false when there is no
// marker, the date cannot be parsed, or it falls before 1970.
func ParseUpdateDate(text string) (t time.Time, ok bool) {
	m := updateDateMarker.FindStringSubmatch(text)
	if len(m) < 2 {
		return time.Time{}, false
	}
	raw := strings.TrimSpace(m[1])
	if raw == "" {
		return time.Time{}, false
	}
	parsed, err := dateparse.ParseLocal(raw)
	if err != nil || parsed.Year() < 1970 {
		return time.Time{}, false
	}
	return parsed, true
}
