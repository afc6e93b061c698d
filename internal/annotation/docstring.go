package annotation

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/capsid-dev/capsid/internal/capsule"
)

// blockDelimiter opens and closes the structured sub-block inside a
// docstring. The body between delimiters is a YAML document with the
// top-level keys capsule, slots, weights, meta.
const blockDelimiter = "---"

// docstringBody is the YAML shape of a docstring annotation block.
// Values decode loosely so that type mismatches degrade to warnings
// instead of rejecting the whole block.
type docstringBody struct {
	Capsule string         `yaml:"capsule"`
	Slots   map[string]any `yaml:"slots"`
	Weights map[string]any `yaml:"weights"`
	Meta    map[string]any `yaml:"meta"`
}

// parseDocstrings extracts annotations from delimited YAML blocks inside
// triple-quoted string literals. Unbalanced delimiters or YAML errors
// abort only the affected block.
func parseDocstrings(lines []string, path string) ([]capsule.Annotation, []Warning) {
	var annotations []capsule.Annotation
	var warnings []Warning

	i := 0
	for i < len(lines) {
		quote, rest := docstringOpen(lines[i])
		if quote == "" {
			i++
			continue
		}
		start := i

		// Single-line docstrings cannot hold a multi-line YAML block
		if strings.Contains(rest, quote) {
			i++
			continue
		}

		// Collect docstring body lines up to the closing quote
		var body []string
		end := -1
		for j := i + 1; j < len(lines); j++ {
			if idx := strings.Index(lines[j], quote); idx >= 0 {
				body = append(body, lines[j][:idx])
				end = j
				break
			}
			body = append(body, lines[j])
		}
		if end < 0 {
			// Unterminated string literal; nothing more to extract
			break
		}

		if ann, w, found := extractBlock(body, path, start+1, end+1); found {
			annotations = append(annotations, ann)
			warnings = append(warnings, w...)
		} else {
			warnings = append(warnings, w...)
		}

		i = end + 1
	}

	return annotations, warnings
}

// docstringOpen reports the triple-quote token opening a docstring on
// this line, and the remainder of the line after it.
func docstringOpen(line string) (quote, rest string) {
	trimmed := strings.TrimSpace(line)
	for _, q := range [...]string{`"""`, `'''`} {
		if strings.HasPrefix(trimmed, q) {
			return q, trimmed[len(q):]
		}
	}
	return "", ""
}

// extractBlock locates the ---/--- sub-block in a docstring body and
// parses it as YAML. startLine/endLine are the 1-based lines of the
// enclosing docstring.
func extractBlock(body []string, path string, startLine, endLine int) (capsule.Annotation, []Warning, bool) {
	var warnings []Warning

	open := -1
	for k, line := range body {
		if strings.TrimSpace(line) == blockDelimiter {
			open = k
			break
		}
	}
	if open < 0 {
		return capsule.Annotation{}, nil, false
	}

	closing := -1
	for k := open + 1; k < len(body); k++ {
		if strings.TrimSpace(body[k]) == blockDelimiter {
			closing = k
			break
		}
	}
	if closing < 0 {
		warnings = append(warnings, Warning{
			FilePath: path,
			Line:     startLine + open + 1,
			Reason:   "unbalanced annotation block delimiter in docstring",
		})
		return capsule.Annotation{}, warnings, false
	}

	yamlBody := strings.Join(dedent(body[open+1:closing]), "\n")
	var doc docstringBody
	if err := yaml.Unmarshal([]byte(yamlBody), &doc); err != nil {
		warnings = append(warnings, Warning{
			FilePath: path,
			Line:     startLine + open + 1,
			Reason:   fmt.Sprintf("malformed annotation block: %v", err),
		})
		return capsule.Annotation{}, warnings, false
	}

	ann := capsule.Annotation{
		CapsuleID: capsule.NormalizeID(doc.Capsule),
		Type:      capsule.TypeDocstring,
		Location: capsule.SourceLocation{
			FilePath:  path,
			LineStart: startLine,
			LineEnd:   endLine,
		},
		Slots:   map[string]string{},
		Weights: map[string]float64{},
		Meta:    map[string]any{},
	}
	if ann.CapsuleID == "" {
		warnings = append(warnings, Warning{
			FilePath: path,
			Line:     startLine + open + 1,
			Reason:   "docstring annotation has empty capsule id",
		})
	}

	for k, v := range doc.Slots {
		ann.Slots[capsule.NormalizeSlotKey(k)] = stringifyScalar(v)
	}
	for k, v := range doc.Weights {
		key := capsule.NormalizeSlotKey(k)
		if f, ok := numericValue(v); ok {
			ann.Weights[key] = f
		} else {
			warnings = append(warnings, Warning{
				FilePath: path,
				Line:     startLine + open + 1,
				Reason:   "weight for " + key + " is not a number; dropped",
			})
		}
	}
	for k, v := range doc.Meta {
		ann.Meta[capsule.NormalizeSlotKey(k)] = v
	}

	return ann, warnings, true
}

// dedent strips the common leading whitespace of non-blank lines so an
// indented docstring body parses as a top-level YAML document.
func dedent(lines []string) []string {
	margin := -1
	for _, line := range lines {
		trimmed := strings.TrimLeft(line, " \t")
		if trimmed == "" {
			continue
		}
		indent := len(line) - len(trimmed)
		if margin < 0 || indent < margin {
			margin = indent
		}
	}
	if margin <= 0 {
		return lines
	}

	out := make([]string, len(lines))
	for i, line := range lines {
		if len(line) >= margin {
			out[i] = line[margin:]
		} else {
			out[i] = strings.TrimLeft(line, " \t")
		}
	}
	return out
}

// stringifyScalar renders a YAML scalar as a slot value.
func stringifyScalar(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

// numericValue coerces a YAML scalar to float64, accepting numeric
// strings the way the inline grammar does.
func numericValue(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case float64:
		return t, true
	case string:
		return parseWeight(t)
	default:
		return 0, false
	}
}
