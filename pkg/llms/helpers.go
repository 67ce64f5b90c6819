package llms

import (
	"fmt"
	"strings"
)

// ExtractJSONObject returns the first balanced JSON object found in text.
// Models often wrap JSON in markdown fences or prose, so graders and
// refiners parse through this instead of unmarshalling the raw output.
func ExtractJSONObject(text string) (string, error) {
	return extractBalanced(text, '{', '}')
}

// ExtractJSONArray returns the first balanced JSON array found in text.
func ExtractJSONArray(text string) (string, error) {
	return extractBalanced(text, '[', ']')
}

func extractBalanced(text string, open, close byte) (string, error) {
	text = stripFences(text)

	start := strings.IndexByte(text, open)
	if start < 0 {
		return "", fmt.Errorf("no '%c' found in text", open)
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case !inString && c == open:
			depth++
		case !inString && c == close:
			depth--
			if depth == 0 {
				return text[start : i+1], nil
			}
		}
	}

	return "", fmt.Errorf("unbalanced JSON starting at offset %d", start)
}

func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		text = text[idx+1:]
	}
	if idx := strings.LastIndex(text, "```"); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}
