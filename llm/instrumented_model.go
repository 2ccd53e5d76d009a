package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lexcodex/toolrelay/framework"
)

// InstrumentedModel wraps a LanguageModel and emits telemetry for prompts
// and responses.
type InstrumentedModel struct {
	Inner     framework.LanguageModel
	Telemetry framework.Telemetry
	// Debug adds full prompt text to prompt events.
	Debug bool
}

func NewInstrumentedModel(inner framework.LanguageModel, telemetry framework.Telemetry, debug bool) *InstrumentedModel {
	return &InstrumentedModel{Inner: inner, Telemetry: telemetry, Debug: debug}
}

func (m *InstrumentedModel) Generate(ctx context.Context, prompt string, options *framework.LLMOptions) (*framework.LLMResponse, error) {
	m.emitPrompt(ctx, "generate", promptMeta(prompt, options), map[string]interface{}{"prompt": clip(prompt, 8192)})
	start := time.Now()
	resp, err := m.Inner.Generate(ctx, prompt, options)
	m.emitResponse(ctx, "generate", resp, err, time.Since(start))
	return resp, err
}

// GenerateStream reports the start of a stream. The response event carries
// the fragment count and total size once the stream closes.
func (m *InstrumentedModel) GenerateStream(ctx context.Context, prompt string, options *framework.LLMOptions) (<-chan string, error) {
	m.emitPrompt(ctx, "generate_stream", promptMeta(prompt, options), map[string]interface{}{"prompt": clip(prompt, 8192)})
	start := time.Now()
	in, err := m.Inner.GenerateStream(ctx, prompt, options)
	if err != nil || m.Telemetry == nil {
		if err != nil {
			m.emitResponse(ctx, "generate_stream", nil, err, time.Since(start))
		}
		return in, err
	}
	out := make(chan string)
	go func() {
		defer close(out)
		var b strings.Builder
		fragments := 0
		defer func() {
			m.emitResponse(ctx, "generate_stream", &framework.LLMResponse{
				Text:         b.String(),
				FinishReason: "stream",
				Usage:        map[string]int{"fragments": fragments},
			}, nil, time.Since(start))
		}()
		for frag := range in {
			fragments++
			b.WriteString(frag)
			select {
			case out <- frag:
			case <-ctx.Done():
				for range in {
				}
				return
			}
		}
	}()
	return out, nil
}

func (m *InstrumentedModel) Chat(ctx context.Context, messages []framework.Message, options *framework.LLMOptions) (*framework.LLMResponse, error) {
	base, debug := chatMeta(messages, nil, options)
	m.emitPrompt(ctx, "chat", base, debug)
	start := time.Now()
	resp, err := m.Inner.Chat(ctx, messages, options)
	m.emitResponse(ctx, "chat", resp, err, time.Since(start))
	return resp, err
}

func (m *InstrumentedModel) ChatWithTools(ctx context.Context, messages []framework.Message, tools []framework.Tool, options *framework.LLMOptions) (*framework.LLMResponse, error) {
	base, debug := chatMeta(messages, tools, options)
	m.emitPrompt(ctx, "chat_with_tools", base, debug)
	start := time.Now()
	resp, err := m.Inner.ChatWithTools(ctx, messages, tools, options)
	m.emitResponse(ctx, "chat_with_tools", resp, err, time.Since(start))
	return resp, err
}

func promptMeta(prompt string, options *framework.LLMOptions) map[string]interface{} {
	return map[string]interface{}{
		"model":          modelFromOptions(options),
		"prompt_chars":   len(prompt),
		"prompt_preview": clip(prompt, 1024),
	}
}

func chatMeta(messages []framework.Message, tools []framework.Tool, options *framework.LLMOptions) (base, debug map[string]interface{}) {
	roles := make([]string, 0, len(messages))
	full := make([]map[string]interface{}, 0, len(messages))
	for _, msg := range messages {
		roles = append(roles, msg.Role)
		full = append(full, map[string]interface{}{
			"role":    msg.Role,
			"name":    msg.Name,
			"content": clip(msg.Content, 8192),
		})
	}
	toolNames := make([]string, 0, len(tools))
	for _, t := range tools {
		toolNames = append(toolNames, t.Name())
	}
	base = map[string]interface{}{
		"model":         modelFromOptions(options),
		"message_count": len(messages),
		"roles":         roles,
		"tool_names":    toolNames,
	}
	return base, map[string]interface{}{"messages": full}
}

func (m *InstrumentedModel) emitPrompt(ctx context.Context, kind string, base, debugFields map[string]interface{}) {
	if m == nil || m.Telemetry == nil {
		return
	}
	metadata := map[string]interface{}{"kind": kind}
	for k, v := range base {
		metadata[k] = v
	}
	if m.Debug {
		for k, v := range debugFields {
			metadata[k] = v
		}
	}
	m.Telemetry.Emit(framework.Event{
		Type:           framework.EventLLMPrompt,
		ConversationID: framework.ConversationIDFrom(ctx),
		Timestamp:      time.Now().UTC(),
		Message:        fmt.Sprintf("llm %s prompt", kind),
		Metadata:       metadata,
	})
}

func (m *InstrumentedModel) emitResponse(ctx context.Context, kind string, resp *framework.LLMResponse, err error, elapsed time.Duration) {
	if m == nil || m.Telemetry == nil {
		return
	}
	metadata := map[string]interface{}{
		"kind":       kind,
		"latency_ms": elapsed.Milliseconds(),
	}
	if resp != nil {
		metadata["finish_reason"] = resp.FinishReason
		metadata["text_preview"] = clip(resp.Text, 1024)
		metadata["usage"] = resp.Usage
		if len(resp.ToolCalls) > 0 {
			names := make([]string, 0, len(resp.ToolCalls))
			for _, call := range resp.ToolCalls {
				names = append(names, call.Name)
			}
			metadata["tool_calls"] = names
		}
	}
	if err != nil {
		metadata["error"] = err.Error()
	}
	m.Telemetry.Emit(framework.Event{
		Type:           framework.EventLLMResponse,
		ConversationID: framework.ConversationIDFrom(ctx),
		Timestamp:      time.Now().UTC(),
		Message:        fmt.Sprintf("llm %s response", kind),
		Metadata:       metadata,
	})
}

func modelFromOptions(options *framework.LLMOptions) string {
	if options != nil {
		return options.Model
	}
	return ""
}

func clip(s string, max int) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
