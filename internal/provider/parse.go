package provider

import (
	"encoding/json"
	"strings"
)

// ParseJSON decodes generated text into v, tolerating a markdown code fence.
func ParseJSON(text string, v any) error {
	return json.Unmarshal([]byte(stripCodeFence(text)), v)
}

// ParseStringList extracts a list of strings from generated text. It accepts
// a JSON array (optionally fenced) and falls back to line or bullet parsing.
// Results are trimmed, de-duplicated, and capped at max (0 = no cap).
func ParseStringList(text string, max int) []string {
	text = stripCodeFence(text)

	var items []string
	if err := json.Unmarshal([]byte(text), &items); err != nil {
		for _, line := range strings.Split(text, "\n") {
			line = strings.TrimSpace(line)
			line = strings.TrimLeft(line, "-*•0123456789.) ")
			line = strings.Trim(line, `"`)
			if line != "" {
				items = append(items, line)
			}
		}
	}

	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		it = strings.TrimSpace(it)
		if it == "" || seen[strings.ToLower(it)] {
			continue
		}
		seen[strings.ToLower(it)] = true
		out = append(out, it)
		if max > 0 && len(out) == max {
			break
		}
	}
	return out
}
