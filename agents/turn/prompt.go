package turn

import (
	"fmt"
	"strings"

	"github.com/lexcodex/toolrelay/framework"
)

// DefaultSystemPrompt is used when Config.SystemPrompt is empty.
const DefaultSystemPrompt = `You are a careful assistant with access to local tools.
Use a tool when the request needs file access or code execution, otherwise answer directly.
After a tool result arrives, either call the next tool or give the user a final answer.`

const correctionPrompt = `Your previous reply looked like a tool call but it could not be parsed.
Reply again with exactly one tool call as a fenced JSON block:
` + "```json\n{\"tool\": \"tool_name\", \"params\": {\"name\": \"value\"}}\n```" + `
Use double quotes, no trailing commas, and put nothing else in the block.`

func duplicateWarning(call framework.Call) string {
	return fmt.Sprintf("You already called %s with these exact arguments and the result is above. "+
		"Do not repeat it. Use that result, call a different tool, or answer the user.", call.Name)
}

// buildPrompt renders a single-string prompt for text-mode generation.
func buildPrompt(system string, tools []framework.Tool, messages []framework.Message) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(system))
	if len(tools) > 0 {
		b.WriteString("\n\n")
		b.WriteString(framework.RenderToolsToPrompt(tools))
	}
	b.WriteString("\n\nConversation:\n")
	for _, msg := range messages {
		b.WriteString(speaker(msg))
		b.WriteString(": ")
		b.WriteString(msg.Content)
		for _, call := range msg.ToolCalls {
			if msg.Content != "" {
				b.WriteString(" ")
			}
			fmt.Fprintf(&b, "[called %s %s]", call.Name, call.ArgumentsPayload)
		}
		b.WriteString("\n")
	}
	b.WriteString("\nAssistant:")
	return b.String()
}

func speaker(msg framework.Message) string {
	switch msg.Role {
	case framework.RoleUser:
		return "User"
	case framework.RoleAssistant:
		return "Assistant"
	case framework.RoleTool:
		if msg.Name != "" {
			return fmt.Sprintf("Tool (%s)", msg.Name)
		}
		return "Tool"
	default:
		return "System"
	}
}

// chatMessages prefixes the windowed history with the system prompt for
// native tool calling.
func chatMessages(system string, messages []framework.Message) []framework.Message {
	out := make([]framework.Message, 0, len(messages)+1)
	out = append(out, framework.Message{Role: framework.RoleSystem, Content: strings.TrimSpace(system)})
	return append(out, messages...)
}
