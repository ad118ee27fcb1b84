// Package sanitize cleans user-supplied run labels before they are stored.
// Labels are echoed back to MCP clients by dce_runs, so anything that could
// read as markup or instructions is removed.
package sanitize

import (
	"regexp"
	"strings"
)

// MaxNameLength is the maximum allowed length for run names.
const MaxNameLength = 80

var (
	// reXMLTag matches XML/HTML tags including those with attributes and self-closing tags.
	reXMLTag = regexp.MustCompile(`<[/?!]?[a-zA-Z][a-zA-Z0-9]*(?:\s+[^>]*)?/?>|<\?[^?]*\?>`)

	reRepeatedSeparators = regexp.MustCompile(`-{2,}|_{2,}|\.{2,}| {2,}`)
)

// RunName returns input reduced to a single-line label of letters, digits,
// spaces and [-_./]. Tags are removed before filtering so their markup does
// not leak into the label. Repeated separators collapse to one and the result is truncated to MaxNameLength bytes.
func RunName(input string) string {
	if input == "" {
		return ""
	}

	s := reXMLTag.ReplaceAllString(input, "")

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.' || r == '/' || r == ' ':
			b.WriteRune(r)
		case r == '\t' || r == '\n' || r == '\r':
			b.WriteRune(' ')
		}
	}
	s = reRepeatedSeparators.ReplaceAllStringFunc(b.String(), func(m string) string { return m[:1] })
	s = strings.TrimSpace(s)

	if len(s) > MaxNameLength {
		s = strings.TrimSpace(s[:MaxNameLength])
	}
	return s
}
