package oracle

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractObject reduces a completion to exactly one JSON object. Markdown
// code fences and text around the first balanced {...} are discarded.
func ExtractObject(text string) (json.RawMessage, error) {
	s := stripFences(strings.TrimSpace(text))
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return nil, fmt.Errorf("%w: no JSON object in reply", ErrMalformedOutput)
	}
	end := matchBrace(s, start)
	if end < 0 {
		return nil, fmt.Errorf("%w: unterminated JSON object", ErrMalformedOutput)
	}
	obj := s[start : end+1]
	if !json.Valid([]byte(obj)) {
		return nil, fmt.Errorf("%w: invalid JSON object", ErrMalformedOutput)
	}
	return json.RawMessage(obj), nil
}

func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// matchBrace returns the index of the brace closing the one at start,
// skipping braces inside string literals, or -1.
func matchBrace(s string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
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
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
