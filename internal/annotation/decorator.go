package annotation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/capsid-dev/capsid/internal/capsule"
)

// decoratorOpen matches `@capsule(` or `@pkg.capsule(` at the start of a
// line, capturing the dotted name.
var decoratorOpen = regexp.MustCompile(`^\s*@([A-Za-z_][A-Za-z0-9_.]*)\s*\(`)

// parseDecorators extracts annotations from decorator-style calls with
// keyword arguments capsule=, slots=, weights=, meta=. Argument values
// are recovered as literals only; computed expressions are skipped with
// a warning and are never evaluated.
func parseDecorators(lines []string, path string) ([]capsule.Annotation, []Warning) {
	var annotations []capsule.Annotation
	var warnings []Warning

	i := 0
	for i < len(lines) {
		m := decoratorOpen.FindStringSubmatch(lines[i])
		if m == nil || !isCapsuleDecorator(m[1]) {
			i++
			continue
		}

		argText, endIdx, ok := collectCall(lines, i)
		if !ok {
			warnings = append(warnings, Warning{
				FilePath: path,
				Line:     i + 1,
				Reason:   "unbalanced parentheses in decorator; block skipped",
			})
			i++
			continue
		}

		ann, w := buildDecoratorAnnotation(argText, path, i+1, endIdx+1)

		// Attach to the following definition line, skipping further
		// decorators and blank lines.
		for j := endIdx + 1; j < len(lines); j++ {
			trimmed := strings.TrimSpace(lines[j])
			if trimmed == "" || strings.HasPrefix(trimmed, "@") {
				continue
			}
			ann.Location.LineEnd = j + 1
			break
		}

		annotations = append(annotations, ann)
		warnings = append(warnings, w...)
		i = endIdx + 1
	}

	return annotations, warnings
}

// isCapsuleDecorator reports whether a dotted decorator name targets the
// capsule annotation (`capsule` or any `*.capsule`).
func isCapsuleDecorator(name string) bool {
	return name == "capsule" || strings.HasSuffix(name, ".capsule")
}

// collectCall gathers the argument text of a call starting on lines[start],
// tracking paren/bracket/brace depth outside string literals. Returns the
// text between the outermost parens and the index of the closing line.
func collectCall(lines []string, start int) (string, int, bool) {
	var sb strings.Builder
	depth := 0
	started := false
	var quote byte

	for idx := start; idx < len(lines); idx++ {
		line := lines[idx]
		for k := 0; k < len(line); k++ {
			c := line[k]

			if quote != 0 {
				sb.WriteByte(c)
				if c == '\\' && k+1 < len(line) {
					k++
					sb.WriteByte(line[k])
					continue
				}
				if c == quote {
					quote = 0
				}
				continue
			}

			switch c {
			case '\'', '"':
				quote = c
				if started {
					sb.WriteByte(c)
				}
			case '(':
				if !started {
					started = true
					depth = 1
					continue
				}
				depth++
				sb.WriteByte(c)
			case '[', '{':
				if started {
					depth++
					sb.WriteByte(c)
				}
			case ')', ']', '}':
				if !started {
					continue
				}
				depth--
				if depth == 0 && c == ')' {
					return sb.String(), idx, true
				}
				sb.WriteByte(c)
			default:
				if started {
					sb.WriteByte(c)
				}
			}
		}
		if started {
			sb.WriteByte('\n')
		}
	}

	return "", start, false
}

// buildDecoratorAnnotation parses the keyword arguments of a capsule
// decorator into an Annotation.
func buildDecoratorAnnotation(argText, path string, lineStart, lineEnd int) (capsule.Annotation, []Warning) {
	var warnings []Warning

	ann := capsule.Annotation{
		Type: capsule.TypeDecorator,
		Location: capsule.SourceLocation{
			FilePath:  path,
			LineStart: lineStart,
			LineEnd:   lineEnd,
		},
		Slots:   map[string]string{},
		Weights: map[string]float64{},
		Meta:    map[string]any{},
	}

	args, argWarnings := splitArgs(argText)
	for _, w := range argWarnings {
		warnings = append(warnings, Warning{FilePath: path, Line: lineStart, Reason: w})
	}

	for _, a := range args {
		value, err := parseLiteral(a.value)
		if err != nil {
			warnings = append(warnings, Warning{
				FilePath: path,
				Line:     lineStart,
				Reason:   fmt.Sprintf("non-literal %s argument skipped: %v", a.name, err),
			})
			continue
		}

		switch a.name {
		case "capsule":
			ann.CapsuleID = capsule.NormalizeID(stringifyScalar(value))
		case "slots":
			dict, ok := value.(map[string]any)
			if !ok {
				warnings = append(warnings, Warning{FilePath: path, Line: lineStart, Reason: "slots argument is not a mapping; skipped"})
				continue
			}
			for k, v := range dict {
				ann.Slots[capsule.NormalizeSlotKey(k)] = stringifyScalar(v)
			}
		case "weights":
			dict, ok := value.(map[string]any)
			if !ok {
				warnings = append(warnings, Warning{FilePath: path, Line: lineStart, Reason: "weights argument is not a mapping; skipped"})
				continue
			}
			for k, v := range dict {
				key := capsule.NormalizeSlotKey(k)
				if f, ok := numericValue(v); ok {
					ann.Weights[key] = f
				} else {
					warnings = append(warnings, Warning{
						FilePath: path,
						Line:     lineStart,
						Reason:   "weight for " + key + " is not a number; dropped",
					})
				}
			}
		case "meta":
			dict, ok := value.(map[string]any)
			if !ok {
				warnings = append(warnings, Warning{FilePath: path, Line: lineStart, Reason: "meta argument is not a mapping; skipped"})
				continue
			}
			for k, v := range dict {
				ann.Meta[capsule.NormalizeSlotKey(k)] = v
			}
		default:
			// Unknown keyword arguments are tolerated silently; the
			// grammar may grow fields this version does not know.
		}
	}

	if ann.CapsuleID == "" {
		warnings = append(warnings, Warning{
			FilePath: path,
			Line:     lineStart,
			Reason:   "decorator annotation has empty capsule id",
		})
	}

	return ann, warnings
}
