package framework

import (
	"encoding/json"
	"sync"
	"time"
)

// Interaction captures a single entry of a conversation. Storing a timestamp
// and arbitrary metadata lets callers persist or render transcripts without
// re-running the original tools or model calls.
type Interaction struct {
	ID        int                    `json:"id"`
	Role      string                 `json:"role"`
	Content   string                 `json:"content"`
	Name      string                 `json:"name,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// History is an append-only, role-tagged message log for one conversation.
// Prompt builders read windows of it; nothing rewrites older entries.
type History struct {
	mu      sync.RWMutex
	entries []Interaction
	nextID  int
}

// NewHistory seeds a history with previously persisted interactions.
func NewHistory(seed ...Interaction) *History {
	h := &History{entries: make([]Interaction, 0, len(seed))}
	for _, in := range seed {
		h.add(in)
	}
	return h
}

// Append adds an entry and returns it with its assigned id.
func (h *History) Append(role, content string, metadata map[string]interface{}) Interaction {
	return h.add(Interaction{Role: role, Content: content, Metadata: metadata})
}

// AppendToolResult records a tool observation tagged with the tool name.
func (h *History) AppendToolResult(result ExecutionResult) Interaction {
	return h.add(Interaction{
		Role:    RoleTool,
		Name:    result.ToolName,
		Content: result.Message(),
		Metadata: map[string]interface{}{
			"call_id": result.CallID,
			"success": result.Success,
		},
	})
}

// AppendAssistantCall records an assistant turn that issued a structured
// call. The call is kept in metadata as plain strings so it survives
// persistence and can be replayed ahead of its result.
func (h *History) AppendAssistantCall(text string, call Call) Interaction {
	payload := "{}"
	if len(call.Arguments) > 0 {
		if encoded, err := json.Marshal(call.Arguments); err == nil {
			payload = string(encoded)
		}
	}
	return h.add(Interaction{
		Role:    RoleAssistant,
		Content: text,
		Metadata: map[string]interface{}{
			"tool_call_id":        call.ID,
			"tool_call_name":      call.Name,
			"tool_call_arguments": payload,
		},
	})
}

func (h *History) add(in Interaction) Interaction {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	in.ID = h.nextID
	if in.Timestamp.IsZero() {
		in.Timestamp = time.Now().UTC()
	}
	h.entries = append(h.entries, in)
	return in
}

// Len returns the number of entries.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

// All returns a copy of every entry.
func (h *History) All() []Interaction {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]Interaction(nil), h.entries...)
}

// Recent returns a copy of the last n entries; n <= 0 returns everything.
func (h *History) Recent(n int) []Interaction {
	h.mu.RLock()
	defer h.mu.RUnlock()
	start := 0
	if n > 0 && len(h.entries) > n {
		start = len(h.entries) - n
	}
	return append([]Interaction(nil), h.entries[start:]...)
}

// Messages converts the last n entries into chat messages.
func (h *History) Messages(n int) []Message {
	recent := h.Recent(n)
	out := make([]Message, 0, len(recent))
	for _, in := range recent {
		msg := Message{Role: in.Role, Content: in.Content, Name: in.Name}
		switch in.Role {
		case RoleAssistant:
			if name := metaString(in.Metadata, "tool_call_name"); name != "" {
				msg.ToolCalls = []NativeToolCall{{
					ID:               metaString(in.Metadata, "tool_call_id"),
					Name:             name,
					ArgumentsPayload: metaString(in.Metadata, "tool_call_arguments"),
				}}
			}
		case RoleTool:
			msg.ToolCallID = metaString(in.Metadata, "call_id")
		}
		out = append(out, msg)
	}
	return out
}

func metaString(meta map[string]interface{}, key string) string {
	s, _ := meta[key].(string)
	return s
}
