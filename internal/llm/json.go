package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyResponse is returned when the model produced no text.
var ErrEmptyResponse = errors.New("empty LLM response")

// DecodeJSON decodes an LLM reply into v, tolerating markdown code fences and
// prose around a single JSON object.
func DecodeJSON(text string, v any) error {
	text = stripFences(strings.TrimSpace(text))
	if text == "" {
		return ErrEmptyResponse
	}
	if err := json.Unmarshal([]byte(text), v); err == nil {
		return nil
	}
	start := strings.IndexAny(text, "{[")
	end := strings.LastIndexAny(text, "}]")
	if start < 0 || end <= start {
		return fmt.Errorf("LLM response is not JSON: %.80q", text)
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), v); err != nil {
		return fmt.Errorf("parse LLM JSON: %w", err)
	}
	return nil
}

func stripFences(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	endIdx := len(lines)
	for i := len(lines) - 1; i > 0; i-- {
		if strings.TrimSpace(lines[i]) == "```" {
			endIdx = i
			break
		}
	}
	if endIdx <= 1 {
		return ""
	}
	return strings.TrimSpace(strings.Join(lines[1:endIdx], "\n"))
}
