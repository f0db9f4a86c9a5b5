package schema

import "strings"

// canonicalEventTypes is the fixed enumeration event_types must
// contain after bootstrap, per spec.md §3.
var canonicalEventTypes = []string{
	"tool_call", "tool_error", "session_start", "session_end", "error", "custom",
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
