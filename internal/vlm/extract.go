package vlm

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrBadJSON is returned when no JSON value can be recovered from a model
// response, even after truncation repair.
var ErrBadJSON = errors.New("provider_bad_json")

// ExtractJSON recovers a JSON object or array from model output that may be
// wrapped in prose, markdown fences, or cut off mid-stream. Steps, in order:
// strip fences, direct parse, balanced-delimiter slice, truncation repair.
func ExtractJSON(raw string) (json.RawMessage, error) {
	s := stripFences(raw)

	if v, ok := tryParse(s); ok {
		return v, nil
	}

	sliced := sliceBalanced(s)
	if sliced != "" {
		if v, ok := tryParse(sliced); ok {
			return v, nil
		}
		if repaired := repairTruncated(sliced); repaired != "" {
			if v, ok := tryParse(repaired); ok {
				return v, nil
			}
		}
	}
	return nil, ErrBadJSON
}

// ExtractInto unmarshals the recovered JSON into out.
func ExtractInto(raw string, out any) error {
	v, err := ExtractJSON(raw)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(v, out); err != nil {
		return ErrBadJSON
	}
	return nil
}

func tryParse(s string) (json.RawMessage, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	switch v.(type) {
	case map[string]any, []any:
		return json.RawMessage(s), true
	}
	return nil, false
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "```json"); i >= 0 {
		s = s[i+len("```json"):]
	} else if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// sliceBalanced cuts from the first { or [ to its matching closer, tracking
// strings and escapes. When the input ends before the match, the unterminated
// prefix is returned for the repair pass.
func sliceBalanced(s string) string {
	start := strings.IndexAny(s, "{[")
	if start == -1 {
		return ""
	}
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
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return s[start:]
}

// repairTruncated appends the closers implied by the open-delimiter stack. A
// trailing comma or colon is dropped first; an unterminated string gets its
// closing quote.
func repairTruncated(s string) string {
	var stack []byte
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
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
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
	if len(stack) == 0 && !inString {
		return ""
	}
	if inString {
		s += `"`
	}
	s = strings.TrimRight(s, " \t\r\n")
	s = strings.TrimRight(s, ",:")
	for i := len(stack) - 1; i >= 0; i-- {
		s += string(stack[i])
	}
	return s
}
