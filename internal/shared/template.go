package shared

import (
	"fmt"
	"sort"
	"strings"
)

// Bind substitutes every {name} placeholder in tmpl with params[name].
//
// Doubled braces ({{ and }}) are emitted as literal braces. All missing parameters are reported together as an
// [ErrMissingParam] so a template can be validated before anything runs.
func Bind(tmpl string, params map[string]string) (string, error) {
	var b strings.Builder
	var missing []string

	walkTemplate(tmpl, func(literal string) {
		b.WriteString(literal)
	}, func(name string) {
		v, ok := params[name]
		if !ok {
			missing = append(missing, name)
			return
		}
		b.WriteString(v)
	})

	if len(missing) > 0 {
		return "", fmt.Errorf("%w: %s", ErrMissingParam, strings.Join(dedupe(missing), ", "))
	}
	return b.String(), nil
}

// Placeholders returns the sorted, de-duplicated parameter names referenced by tmpl.
func Placeholders(tmpl string) []string {
	var names []string
	walkTemplate(tmpl, func(string) {}, func(name string) {
		names = append(names, name)
	})
	return dedupe(names)
}

// CleanCommand folds a multi-line command or query into a single line.
func CleanCommand(s string) string {
	lines := strings.Split(s, "\n")
	parts := make([]string, 0, len(lines))
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			parts = append(parts, line)
		}
	}
	return strings.Join(parts, " ")
}

func walkTemplate(tmpl string, literal func(string), placeholder func(string)) {
	for i := 0; i < len(tmpl); {
		c := tmpl[i]
		switch {
		case c == '{' && i+1 < len(tmpl) && tmpl[i+1] == '{':
			literal("{")
			i += 2
		case c == '}' && i+1 < len(tmpl) && tmpl[i+1] == '}':
			literal("}")
			i += 2
		case c == '{':
			end := strings.IndexByte(tmpl[i+1:], '}')
			if end < 0 || !isIdentifier(tmpl[i+1:i+1+end]) {
				literal("{")
				i++
				continue
			}
			placeholder(tmpl[i+1 : i+1+end])
			i += end + 2
		default:
			j := i + 1
			for j < len(tmpl) && tmpl[j] != '{' && tmpl[j] != '}' {
				j++
			}
			literal(tmpl[i:j])
			i = j
		}
	}
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
