// Package annotation recognizes the three textual annotation styles
// (inline comment blocks, docstring YAML blocks, decorator calls) and
// extracts them into capsule.Annotation records. Malformed annotation
// content never fails a parse; it is reported through Warnings and the
// rest of the file is still processed.
package annotation

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/capsid-dev/capsid/internal/capsule"
)

// Warning records a non-fatal problem found while parsing annotations.
type Warning struct {
	FilePath string `json:"file_path"`
	Line     int    `json:"line,omitempty"`
	Reason   string `json:"reason"`
}

func (w Warning) String() string {
	if w.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", w.FilePath, w.Line, w.Reason)
	}
	return fmt.Sprintf("%s: %s", w.FilePath, w.Reason)
}

// Parser extracts annotations from file content. The three grammars are
// tried independently; a file may contain any mix.
type Parser struct {
	prefixes []string // recognized line-comment prefixes for the inline grammar
}

// NewParser creates a Parser with the given comment prefixes.
// An empty list falls back to "#" and "//".
func NewParser(prefixes []string) *Parser {
	if len(prefixes) == 0 {
		prefixes = []string{"#", "//"}
	}
	return &Parser{prefixes: prefixes}
}

// Parse extracts zero or more annotations from file content.
// It never fails for malformed annotation content; callers handle
// undecodable input before calling Parse (see Decode).
func (p *Parser) Parse(content, path string) ([]capsule.Annotation, []Warning) {
	lines := strings.Split(content, "\n")

	var annotations []capsule.Annotation
	var warnings []Warning

	inline, w := p.parseInline(lines, path)
	annotations = append(annotations, inline...)
	warnings = append(warnings, w...)

	doc, w := parseDocstrings(lines, path)
	annotations = append(annotations, doc...)
	warnings = append(warnings, w...)

	dec, w := parseDecorators(lines, path)
	annotations = append(annotations, dec...)
	warnings = append(warnings, w...)

	// Stable per-file ordering regardless of which grammar matched
	sort.SliceStable(annotations, func(i, j int) bool {
		return annotations[i].Location.LineStart < annotations[j].Location.LineStart
	})

	return annotations, warnings
}

// parseWeight parses a weight value, accepting quoted or bare numerals.
// Returns false for anything that does not parse as a float.
func parseWeight(raw string) (float64, bool) {
	v, err := strconv.ParseFloat(capsule.Unquote(raw), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// coerceScalar converts a raw textual meta value to bool, int, float,
// or string. Quoted values are always strings.
func coerceScalar(raw string) any {
	trimmed := strings.TrimSpace(raw)
	if unquoted := capsule.Unquote(trimmed); unquoted != trimmed {
		return unquoted
	}
	switch trimmed {
	case "true", "True":
		return true
	case "false", "False":
		return false
	}
	if i, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return f
	}
	return trimmed
}
