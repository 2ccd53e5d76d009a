package framework

import (
	"encoding/json"
	"strings"
)

// ParseNativeCalls turns provider tool calls into Calls, preserving order.
// It never drops an entry: payloads that do not decode into an object are kept
// verbatim under the "raw" key. Missing or repeated provider IDs are replaced
// with fresh ones so every call in the result is addressable.
func ParseNativeCalls(entries []NativeToolCall) []Call {
	calls := make([]Call, 0, len(entries))
	seen := make(map[string]bool, len(entries))
	for _, entry := range entries {
		id := entry.ID
		if id == "" || seen[id] {
			id = NewCallID()
		}
		seen[id] = true
		calls = append(calls, Call{
			ID:         id,
			Name:       entry.Name,
			Arguments:  decodeArgumentsPayload(entry.ArgumentsPayload),
			Source:     SourceNative,
			RawSnippet: Snippet(entry.ArgumentsPayload),
		})
	}
	return calls
}

func decodeArgumentsPayload(payload string) map[string]interface{} {
	if strings.TrimSpace(payload) == "" {
		return map[string]interface{}{}
	}
	var args map[string]interface{}
	if err := json.Unmarshal([]byte(payload), &args); err != nil || args == nil {
		return map[string]interface{}{"raw": payload}
	}
	return args
}
