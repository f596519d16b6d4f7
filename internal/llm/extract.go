package llm

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// ExtractJSONObject pulls the first JSON object out of model text, which
// may wrap it in prose or a markdown fence. Returns ok=false when no valid
// object can be found.
func ExtractJSONObject(text string) (map[string]any, bool) {
	candidate := text

	// Prefer fenced blocks when present.
	if idx := strings.Index(candidate, "```"); idx >= 0 {
		rest := candidate[idx+3:]
		rest = strings.TrimPrefix(rest, "json")
		if end := strings.Index(rest, "```"); end >= 0 {
			candidate = rest[:end]
		} else {
			candidate = rest
		}
	}

	start := strings.IndexByte(candidate, '{')
	if start < 0 {
		return nil, false
	}
	candidate = candidate[start:]

	if !gjson.Valid(candidate) {
		// Trim trailing prose after the closing brace.
		if end := strings.LastIndexByte(candidate, '}'); end >= 0 {
			candidate = candidate[:end+1]
		}
		if !gjson.Valid(candidate) {
			return nil, false
		}
	}

	var out map[string]any
	if err := json.Unmarshal([]byte(candidate), &out); err != nil {
		return nil, false
	}
	return out, true
}
