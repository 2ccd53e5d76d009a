package framework

import "context"

// Conversation roles understood by the language model adapters.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// LLMOptions configures model calls.
type LLMOptions struct {
	Model       string
	Temperature float64
	MaxTokens   int
	Stop        []string
	TopP        float64
	Stream      bool
}

// NativeToolCall is a provider-side structured function call. The arguments
// stay encoded until ParseNativeCalls resolves them.
type NativeToolCall struct {
	ID               string `json:"id,omitempty"`
	Name             string `json:"name"`
	ArgumentsPayload string `json:"arguments"`
}

// LLMResponse is the result of a language model invocation.
type LLMResponse struct {
	Text         string           `json:"text,omitempty"`
	FinishReason string           `json:"finish_reason,omitempty"`
	Usage        map[string]int   `json:"usage,omitempty"`
	ToolCalls    []NativeToolCall `json:"tool_calls,omitempty"`
}

// Message is used for chat-like interactions. Assistant messages carry the
// structured calls they issued; tool messages name the call they answer.
type Message struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	Name       string           `json:"name,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	ToolCalls  []NativeToolCall `json:"tool_calls,omitempty"`
}

// LanguageModel provides the required LLM capabilities. GenerateStream must
// close the returned channel once the model finishes or ctx is cancelled.
type LanguageModel interface {
	Generate(ctx context.Context, prompt string, options *LLMOptions) (*LLMResponse, error)
	GenerateStream(ctx context.Context, prompt string, options *LLMOptions) (<-chan string, error)
	Chat(ctx context.Context, messages []Message, options *LLMOptions) (*LLMResponse, error)
	ChatWithTools(ctx context.Context, messages []Message, tools []Tool, options *LLMOptions) (*LLMResponse, error)
}
