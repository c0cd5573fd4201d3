// Package jsonx contains best-effort recovery helpers for JSON produced
// by language models, which frequently arrives wrapped in markdown code
// fences or truncated mid-structure.
package jsonx

import (
	"encoding/json"
	"strings"
	"unicode"
)

// StripCodeFence removes a surrounding markdown code fence, with or
// without a language tag on the opening line. Unfenced input is
// returned trimmed.
func StripCodeFence(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	t = t[3:]
	if i := strings.IndexByte(t, '\n'); i >= 0 {
		head := strings.TrimSpace(t[:i])
		if head == "" || isFenceTag(head) {
			t = t[i+1:]
		}
	}
	t = strings.TrimSpace(t)
	t = strings.TrimSuffix(t, "```")
	return strings.TrimSpace(t)
}

func isFenceTag(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// Repair trims text to its outermost JSON value and closes unterminated
// strings and brackets. The result is not guaranteed valid; callers
// must still unmarshal and handle failure.
func Repair(s string) string {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return s
	}
	s = s[start:]

	var stack []byte
	inStr := false
	esc := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inStr {
			switch {
			case esc:
				esc = false
			case c == '\\':
				esc = true
			case c == '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 && stack[len(stack)-1] == c {
				stack = stack[:len(stack)-1]
			}
		}
	}
	if len(stack) == 0 && !inStr {
		return s
	}

	var b strings.Builder
	if inStr {
		b.WriteString(s)
		if esc {
			b.WriteByte('\\')
		}
		b.WriteByte('"')
	} else {
		// A trailing comma would invalidate the closing bracket.
		trimmed := strings.TrimRight(s, " \t\r\n")
		b.WriteString(strings.TrimSuffix(trimmed, ","))
	}
	for i := len(stack) - 1; i >= 0; i-- {
		b.WriteByte(stack[i])
	}
	return b.String()
}

// Decode strips fences, repairs, and unmarshals s into a generic value.
func Decode(s string) (any, error) {
	clean := Repair(StripCodeFence(s))
	var v any
	if err := json.Unmarshal([]byte(clean), &v); err != nil {
		return nil, err
	}
	return v, nil
}

// ToList coerces a decoded JSON value into a list of objects. A single
// object becomes a one-element list; anything else yields nil.
func ToList(v any) []map[string]any {
	switch t := v.(type) {
	case []any:
		var out []map[string]any
		for _, e := range t {
			if m, ok := e.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	case map[string]any:
		return []map[string]any{t}
	}
	return nil
}
