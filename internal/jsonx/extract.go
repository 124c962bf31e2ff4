// Package jsonx normalizes JSON produced by language models. Model
// output often wraps JSON in markdown fences or surrounds it with
// prose; these helpers recover the object itself.
package jsonx

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Extract returns the JSON object embedded in s. Markdown fences are
// stripped first; if the remainder is not valid JSON on its own, the
// span from the first '{' to the last '}' is tried.
//
// Only objects are recovered, and brace scanning is textual, so an
// unbalanced brace inside a string literal can defeat it. That is
// acceptable here: a payload Extract cannot recover is rejected and
// the model asked again.
func Extract(s string) (string, error) {
	s = stripFences(s)

	if json.Valid([]byte(s)) {
		return s, nil
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start != -1 && end > start {
		candidate := s[start : end+1]
		if json.Valid([]byte(candidate)) {
			return candidate, nil
		}
	}

	preview := s
	if len(preview) > 100 {
		preview = preview[:100] + "..."
	}
	return "", fmt.Errorf("no JSON object found in %q", preview)
}

// Unmarshal extracts the JSON object in s and decodes it into v.
func Unmarshal(s string, v any) error {
	extracted, err := Extract(s)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(extracted), v); err != nil {
		return fmt.Errorf("unmarshal extracted JSON: %w", err)
	}
	return nil
}

// stripFences removes a leading ```json or ``` fence and its closing
// fence.
func stripFences(s string) string {
	trimmed := strings.TrimSpace(s)

	if strings.HasPrefix(trimmed, "```json") {
		trimmed = strings.TrimSpace(strings.TrimPrefix(trimmed, "```json"))
	} else if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimSpace(strings.TrimPrefix(trimmed, "```"))
	}
	if strings.HasSuffix(trimmed, "```") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, "```"))
	}
	return trimmed
}
