package botengine

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractCodeBlock returns the content of the first fenced code block in
// text, dropping an optional language tag. Without fences the trimmed text
// comes back unchanged.
func ExtractCodeBlock(text string) string {
	start := strings.Index(text, "```")
	if start == -1 {
		return strings.TrimSpace(text)
	}
	rest := text[start+3:]
	end := strings.Index(rest, "```")
	if end == -1 {
		return strings.TrimSpace(text)
	}
	block := rest[:end]
	if i := strings.Index(block, "\n"); i != -1 {
		firstLine := strings.TrimSpace(block[:i])
		if firstLine != "" && !strings.ContainsAny(firstLine, "{[\"") {
			block = block[i+1:]
		}
	}
	return strings.TrimSpace(block)
}

// ParseStructured decodes a JSON object out of model text, falling back to a
// fenced code block, and checks the schema's required properties when given.
func ParseStructured(text string, schema map[string]any) (map[string]any, error) {
	candidates := []string{strings.TrimSpace(text), ExtractCodeBlock(text)}

	var out map[string]any
	var lastErr error
	for _, candidate := range candidates {
		if candidate == "" {
			continue
		}
		var parsed map[string]any
		if err := json.Unmarshal([]byte(candidate), &parsed); err != nil {
			lastErr = err
			continue
		}
		out = parsed
		break
	}
	if out == nil {
		return nil, fmt.Errorf("no JSON object in response: %w", lastErr)
	}

	if schema != nil {
		if required, ok := schema["required"].([]any); ok {
			for _, field := range required {
				name, _ := field.(string)
				if name == "" {
					continue
				}
				if _, present := out[name]; !present {
					return nil, fmt.Errorf("structured output missing required field %q", name)
				}
			}
		}
	}
	return out, nil
}
