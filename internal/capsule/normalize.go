package capsule

import (
	"regexp"
	"strings"
)

// whitespaceRegex matches one or more whitespace characters
var whitespaceRegex = regexp.MustCompile(`\s+`)

// NormalizeID normalizes a capsule id:
// 1. Trim leading/trailing whitespace
// 2. Collapse internal whitespace to single spaces
// Case is preserved; ids are caller-visible identifiers.
func NormalizeID(s string) string {
	s = strings.TrimSpace(s)
	s = whitespaceRegex.ReplaceAllString(s, " ")
	return s
}

// NormalizeSlotKey normalizes a slot/role key: trimmed, internal
// whitespace collapsed. Role names keep their case so conventional
// upper-case roles ("WHAT", "WHERE") survive round trips.
func NormalizeSlotKey(s string) string {
	return NormalizeID(s)
}

// Unquote strips one layer of matching single or double quotes from a
// value, if present. Annotation authors quote values freely; stored slot
// values are always unquoted.
func Unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
