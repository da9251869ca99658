package generate

import (
	"encoding/json"
	"strings"
)

// extractJSON pulls the JSON payload out of a model reply: a fenced
// ```json block when present, else the span from the first '{' to the
// last '}'. The second return is false when no candidate exists at all.
func extractJSON(content string) (string, bool) {
	if i := strings.Index(content, "```json"); i >= 0 {
		rest := content[i+len("```json"):]
		if j := strings.Index(rest, "```"); j >= 0 {
			rest = rest[:j]
		}
		return strings.TrimSpace(rest), true
	}
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return content[start : end+1], true
}

// decodeReply extracts and unmarshals the reply's JSON into v. A false
// return means parse failure, reported as a value rather than an error
// so callers can persist the raw text for human editing.
func decodeReply(content string, v any) bool {
	raw, ok := extractJSON(content)
	if !ok {
		return false
	}
	return json.Unmarshal([]byte(raw), v) == nil
}

// unclosedBraces reports whether content opens more objects than it
// closes, ignoring braces inside string literals. Together with
// finish_reason=length it marks a truncated outline reply.
func unclosedBraces(content string) bool {
	depth := 0
	inString := false
	escaped := false
	for _, r := range content {
		if inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			}
			continue
		}
		switch r {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
		}
	}
	return depth > 0
}
