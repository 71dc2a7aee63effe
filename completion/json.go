package completion

import (
	"encoding/json"
	"strings"
)

// Decode parses model output into the shape the caller declares. Models
// frequently wrap JSON in markdown fences or prose; Decode strips fences and
// falls back to the first balanced JSON object or array found in the text.
// The boolean result reports whether a JSON value was decoded.
func Decode[T any](text string) (T, bool) {
	var out T
	candidate := strings.TrimSpace(stripFences(text))
	if candidate == "" {
		return out, false
	}
	if err := json.Unmarshal([]byte(candidate), &out); err == nil {
		return out, true
	}
	if embedded := extractJSON(candidate); embedded != "" {
		if err := json.Unmarshal([]byte(embedded), &out); err == nil {
			return out, true
		}
	}
	var zero T
	return zero, false
}

// stripFences removes a surrounding markdown code fence, with or without a
// language tag.
func stripFences(text string) string {
	t := strings.TrimSpace(text)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	t = strings.TrimPrefix(t, "```")
	if idx := strings.Index(t, "\n"); idx >= 0 {
		t = t[idx+1:]
	}
	if idx := strings.LastIndex(t, "```"); idx >= 0 {
		t = t[:idx]
	}
	return strings.TrimSpace(t)
}

// extractJSON returns the first balanced {...} or [...] region of text, or
// "" when none exists. Brace tracking ignores braces inside JSON strings.
func extractJSON(text string) string {
	start := -1
	var open, closing byte
	for i := 0; i < len(text); i++ {
		if text[i] == '{' || text[i] == '[' {
			start = i
			open = text[i]
			closing = '}'
			if open == '[' {
				closing = ']'
			}
			break
		}
	}
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case closing:
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}
