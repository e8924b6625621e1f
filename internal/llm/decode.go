package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// ParseError means the model's text held no usable JSON object.
type ParseError struct {
	Reason  string
	Snippet string
}

func (e *ParseError) Error() string {
	if e.Snippet == "" {
		return "llm: parse response: " + e.Reason
	}
	return fmt.Sprintf("llm: parse response: %s (near %q)", e.Reason, e.Snippet)
}

var fenceRE = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*\\n?(.*?)```")

// StripFences returns the contents of the first fenced block, or text
// unchanged when there is none.
func StripFences(text string) string {
	if m := fenceRE.FindStringSubmatch(text); len(m) == 2 {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(text)
}

// DecodeJSON finds the first balanced {...} object in text that parses and
// has every required top-level key, and unmarshals it into v. Fenced blocks
// are searched before the surrounding text.
func DecodeJSON(text string, v any, required ...string) error {
	var candidates []string
	for _, m := range fenceRE.FindAllStringSubmatch(text, -1) {
		candidates = append(candidates, m[1])
	}
	candidates = append(candidates, text)

	sawObject := false
	var lastErr error
	for _, cand := range candidates {
		for start := 0; start < len(cand); start++ {
			if cand[start] != '{' {
				continue
			}
			end := balancedEnd(cand, start)
			if end < 0 {
				continue
			}
			block := cand[start : end+1]
			var keys map[string]json.RawMessage
			if err := json.Unmarshal([]byte(block), &keys); err != nil {
				continue
			}
			sawObject = true
			if missing := missingKey(keys, required); missing != "" {
				lastErr = fmt.Errorf("missing key %q", missing)
				continue
			}
			if err := json.Unmarshal([]byte(block), v); err != nil {
				lastErr = err
				continue
			}
			return nil
		}
	}

	reason := "no JSON object found"
	if sawObject && lastErr != nil {
		reason = lastErr.Error()
	}
	return &ParseError{Reason: reason, Snippet: snippet(text)}
}

// balancedEnd returns the index of the brace closing the one at start,
// ignoring braces inside JSON strings, or -1.
func balancedEnd(s string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
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

func missingKey(keys map[string]json.RawMessage, required []string) string {
	for _, k := range required {
		if _, ok := keys[k]; !ok {
			return k
		}
	}
	return ""
}

func snippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 80 {
		return s[:80] + "..."
	}
	return s
}
