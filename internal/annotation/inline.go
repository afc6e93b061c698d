package annotation

import (
	"strings"

	"github.com/capsid-dev/capsid/internal/capsule"
)

// parseInline extracts comment-block annotations. A block is a run of
// comment lines whose first line declares `capsule: <id>`, followed by
// zero or more `role:` / `weight:` / `meta:` lines of the form
// `key = value` or `key: value`. The block attaches to the statement
// line immediately following the comments.
func (p *Parser) parseInline(lines []string, path string) ([]capsule.Annotation, []Warning) {
	var annotations []capsule.Annotation
	var warnings []Warning

	i := 0
	for i < len(lines) {
		body, ok := p.stripComment(lines[i])
		if !ok {
			i++
			continue
		}

		id, ok := cutTag(body, "capsule")
		if !ok {
			i++
			continue
		}

		ann := capsule.Annotation{
			CapsuleID: capsule.NormalizeID(capsule.Unquote(id)),
			Type:      capsule.TypeInline,
			Location: capsule.SourceLocation{
				FilePath:  path,
				LineStart: i + 1,
				LineEnd:   i + 1,
			},
			Slots:   map[string]string{},
			Weights: map[string]float64{},
			Meta:    map[string]any{},
		}
		if ann.CapsuleID == "" {
			warnings = append(warnings, Warning{
				FilePath: path,
				Line:     i + 1,
				Reason:   "inline annotation has empty capsule id",
			})
		}

		// Consume the field lines of the block
		j := i + 1
		for j < len(lines) {
			fieldBody, isComment := p.stripComment(lines[j])
			if !isComment {
				break
			}
			tag, payload, isField := splitField(fieldBody)
			if !isField {
				// A plain comment ends the block; the comment line
				// itself is not part of the annotation.
				break
			}

			key, raw, ok := splitKeyValue(payload)
			if !ok {
				warnings = append(warnings, Warning{
					FilePath: path,
					Line:     j + 1,
					Reason:   "malformed " + tag + " line (expected key = value or key: value)",
				})
				j++
				continue
			}

			switch tag {
			case "role":
				ann.Slots[key] = capsule.Unquote(raw)
			case "weight":
				if v, ok := parseWeight(raw); ok {
					ann.Weights[key] = v
				} else {
					warnings = append(warnings, Warning{
						FilePath: path,
						Line:     j + 1,
						Reason:   "weight for " + key + " is not a number; dropped",
					})
				}
			case "meta":
				ann.Meta[key] = coerceScalar(raw)
			}
			j++
		}
		ann.Location.LineEnd = j // last comment line of the block (1-based)

		// Attach to the immediately following statement line, if any.
		// A blank or comment break means no attachment.
		if j < len(lines) && strings.TrimSpace(lines[j]) != "" {
			if _, isComment := p.stripComment(lines[j]); !isComment {
				ann.Location.LineEnd = j + 1
			}
		}

		annotations = append(annotations, ann)
		i = j
	}

	return annotations, warnings
}

// stripComment returns the comment body with the prefix and one
// following space removed, and whether the line is a comment.
func (p *Parser) stripComment(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	for _, prefix := range p.prefixes {
		if strings.HasPrefix(trimmed, prefix) {
			body := strings.TrimPrefix(trimmed, prefix)
			return strings.TrimSpace(body), true
		}
	}
	return "", false
}

// splitField recognizes `role: ...`, `weight: ...`, `meta: ...` comment bodies.
func splitField(body string) (tag, payload string, ok bool) {
	for _, t := range [...]string{"role", "weight", "meta"} {
		if p, found := cutTag(body, t); found {
			return t, p, true
		}
	}
	return "", "", false
}

// cutTag strips a leading `<tag>:` marker from a comment body.
func cutTag(body, tag string) (string, bool) {
	if !strings.HasPrefix(body, tag) {
		return "", false
	}
	rest := body[len(tag):]
	rest = strings.TrimLeft(rest, " \t")
	if !strings.HasPrefix(rest, ":") {
		return "", false
	}
	return strings.TrimSpace(rest[1:]), true
}

// splitKeyValue splits `key = value` or `key: value`, preferring the
// `=` form so values may themselves contain colons.
func splitKeyValue(payload string) (key, value string, ok bool) {
	sep := strings.Index(payload, "=")
	if sep < 0 {
		sep = strings.Index(payload, ":")
	}
	if sep < 0 {
		return "", "", false
	}
	key = capsule.NormalizeSlotKey(payload[:sep])
	value = strings.TrimSpace(payload[sep+1:])
	if key == "" {
		return "", "", false
	}
	return key, value, true
}
