package framework

import (
	"fmt"
	"strings"
)

// RenderToolsToPrompt converts tool definitions into a schema-like string.
// This is used when the LLM does not support native tool calling API.
func RenderToolsToPrompt(tools []Tool) string {
	if len(tools) == 0 {
		return "No tools available."
	}
	var b strings.Builder
	b.WriteString("You have access to the following tools. To call a tool, reply with a fenced JSON object holding 'tool' (name) and 'params' (map). Call one tool per reply.\n\n")

	for _, tool := range tools {
		b.WriteString(fmt.Sprintf("## %s\n", tool.Name()))
		b.WriteString(fmt.Sprintf("%s\n", tool.Description()))
		b.WriteString("Arguments:\n")
		params := tool.Parameters()
		if len(params) == 0 {
			b.WriteString("  (No arguments)\n")
		} else {
			for _, param := range params {
				req := "optional"
				if param.Required {
					req = "required"
				}
				b.WriteString(fmt.Sprintf("  - %s (%s, %s): %s\n", param.Name, param.Type, req, param.Description))
			}
		}
		b.WriteString("\n")
	}
	b.WriteString("Example Call:\n")
	b.WriteString("```json\n{\"tool\": \"tool_name\", \"params\": {\"arg1\": \"value\"}}\n```\n")
	return b.String()
}

const summaryDataLimit = 500

// FormatResultsSummary renders executed results for a human reader.
func FormatResultsSummary(batch *CallBatch) string {
	if batch == nil || len(batch.Results) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Tool results\n\n")
	for _, r := range batch.Results {
		status := "✅"
		if !r.Success {
			status = "❌"
		}
		fmt.Fprintf(&b, "### %s %s\n", status, r.ToolName)
		if r.Success {
			if r.Data != nil {
				data := r.Message()
				if len(data) > summaryDataLimit {
					data = data[:summaryDataLimit] + "..."
				}
				fmt.Fprintf(&b, "```\n%s\n```\n", data)
			}
		} else {
			fmt.Fprintf(&b, "Error: %s\n", r.Error)
		}
		if r.Latency > 0 {
			fmt.Fprintf(&b, "*Time: %.1fms*\n", float64(r.Latency.Microseconds())/1000)
		}
		b.WriteString("\n")
	}
	return b.String()
}
