// Package template provides placeholder substitution for transcript filenames.
package template

import (
	"strings"
)

// Substitute replaces $NAME and ${NAME} placeholders in text with values
// from vars.
//
// Placeholders without a value are left in the output unchanged, as is any
// '$' that does not start a valid placeholder. "$$" yields a single '$'.
// Names follow identifier rules: a letter or '_' followed by letters,
// digits or '_'.
func Substitute(text string, vars map[string]string) string {
	var b strings.Builder
	b.Grow(len(text))

	for i := 0; i < len(text); {
		c := text[i]
		if c != '$' || i+1 >= len(text) {
			b.WriteByte(c)
			i++
			continue
		}

		next := text[i+1]
		switch {
		case next == '$':
			b.WriteByte('$')
			i += 2

		case next == '{':
			end := strings.IndexByte(text[i+2:], '}')
			if end < 0 {
				b.WriteByte(c)
				i++
				continue
			}
			name := text[i+2 : i+2+end]
			if v, ok := vars[name]; ok && isIdentifier(name) {
				b.WriteString(v)
			} else {
				b.WriteString(text[i : i+3+end])
			}
			i += 3 + end

		case isIdentStart(next):
			j := i + 2
			for j < len(text) && isIdentPart(text[j]) {
				j++
			}
			name := text[i+1 : j]
			if v, ok := vars[name]; ok {
				b.WriteString(v)
			} else {
				b.WriteString(text[i:j])
			}
			i = j

		default:
			b.WriteByte(c)
			i++
		}
	}

	return b.String()
}

func isIdentifier(s string) bool {
	if s == "" || !isIdentStart(s[0]) {
		return false
	}
	for i := 1; i < len(s); i++ {
		if !isIdentPart(s[i]) {
			return false
		}
	}
	return true
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}
