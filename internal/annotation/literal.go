package annotation

import (
	"fmt"
	"strconv"
	"strings"
)

// The decorator grammar is host-language syntax, so argument values are
// recovered by a small literal reader instead of evaluation: strings,
// numbers, booleans, None, dicts, and lists. Anything else (names,
// calls, arithmetic) is a non-literal and is reported, not executed.

type kwarg struct {
	name  string
	value string
}

// splitArgs splits a call's argument text into keyword arguments at
// top-level commas. Positional arguments are reported and skipped.
func splitArgs(argText string) ([]kwarg, []string) {
	var args []kwarg
	var warnings []string

	for _, part := range splitTopLevel(argText, ',') {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		eq := topLevelIndex(part, '=')
		if eq < 0 {
			warnings = append(warnings, "positional decorator argument skipped")
			continue
		}
		name := strings.TrimSpace(part[:eq])
		value := strings.TrimSpace(part[eq+1:])
		if !isIdentifier(name) {
			warnings = append(warnings, fmt.Sprintf("malformed keyword argument %q skipped", name))
			continue
		}
		args = append(args, kwarg{name: name, value: value})
	}

	return args, warnings
}

// parseLiteral parses a Python-style literal expression.
func parseLiteral(expr string) (any, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("empty expression")
	}

	switch expr {
	case "True":
		return true, nil
	case "False":
		return false, nil
	case "None":
		return nil, nil
	}

	if expr[0] == '\'' || expr[0] == '"' {
		return parseStringLiteral(expr)
	}

	if expr[0] == '{' {
		return parseDictLiteral(expr)
	}

	if expr[0] == '[' {
		return parseListLiteral(expr)
	}

	if i, err := strconv.ParseInt(expr, 10, 64); err == nil {
		return i, nil
	}
	if f, err := strconv.ParseFloat(expr, 64); err == nil {
		return f, nil
	}

	return nil, fmt.Errorf("not a literal: %s", truncateExpr(expr))
}

func parseStringLiteral(expr string) (string, error) {
	if len(expr) < 2 {
		return "", fmt.Errorf("unterminated string")
	}
	quote := expr[0]
	if expr[len(expr)-1] != quote {
		return "", fmt.Errorf("unterminated string")
	}
	body := expr[1 : len(expr)-1]

	var sb strings.Builder
	for k := 0; k < len(body); k++ {
		c := body[k]
		if c == '\\' && k+1 < len(body) {
			k++
			switch body[k] {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case '\\':
				sb.WriteByte('\\')
			case '\'':
				sb.WriteByte('\'')
			case '"':
				sb.WriteByte('"')
			default:
				sb.WriteByte('\\')
				sb.WriteByte(body[k])
			}
			continue
		}
		if c == quote {
			return "", fmt.Errorf("unexpected quote inside string")
		}
		sb.WriteByte(c)
	}
	return sb.String(), nil
}

func parseDictLiteral(expr string) (map[string]any, error) {
	if !strings.HasSuffix(expr, "}") {
		return nil, fmt.Errorf("unterminated dict")
	}
	body := expr[1 : len(expr)-1]

	out := map[string]any{}
	for _, entry := range splitTopLevel(body, ',') {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		sep := topLevelIndex(entry, ':')
		if sep < 0 {
			return nil, fmt.Errorf("dict entry missing key separator")
		}
		key, err := parseLiteral(entry[:sep])
		if err != nil {
			return nil, fmt.Errorf("dict key: %w", err)
		}
		keyStr, ok := key.(string)
		if !ok {
			keyStr = fmt.Sprint(key)
		}
		value, err := parseLiteral(entry[sep+1:])
		if err != nil {
			return nil, fmt.Errorf("dict value for %s: %w", keyStr, err)
		}
		out[keyStr] = value
	}
	return out, nil
}

func parseListLiteral(expr string) ([]any, error) {
	if !strings.HasSuffix(expr, "]") {
		return nil, fmt.Errorf("unterminated list")
	}
	body := expr[1 : len(expr)-1]

	var out []any
	for _, entry := range splitTopLevel(body, ',') {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		value, err := parseLiteral(entry)
		if err != nil {
			return nil, err
		}
		out = append(out, value)
	}
	return out, nil
}

// splitTopLevel splits on a separator byte at bracket depth zero,
// outside string literals.
func splitTopLevel(s string, sep byte) []string {
	var parts []string
	depth := 0
	var quote byte
	last := 0

	for k := 0; k < len(s); k++ {
		c := s[k]
		if quote != 0 {
			if c == '\\' {
				k++
			} else if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case sep:
			if depth == 0 {
				parts = append(parts, s[last:k])
				last = k + 1
			}
		}
	}
	parts = append(parts, s[last:])
	return parts
}

// topLevelIndex returns the index of the first sep byte at bracket depth
// zero outside strings, or -1.
func topLevelIndex(s string, sep byte) int {
	depth := 0
	var quote byte
	for k := 0; k < len(s); k++ {
		c := s[k]
		if quote != 0 {
			if c == '\\' {
				k++
			} else if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case sep:
			if depth == 0 {
				return k
			}
		}
	}
	return -1
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_',
			r >= 'a' && r <= 'z',
			r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func truncateExpr(s string) string {
	if len(s) > 40 {
		return s[:40] + "..."
	}
	return s
}
