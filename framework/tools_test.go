package framework

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToolRegistryRejectsDuplicates(t *testing.T) {
	reg := NewToolRegistry()
	require.NoError(t, reg.Register(echoTool{name: "b"}))
	require.NoError(t, reg.Register(echoTool{name: "a"}))
	assert.Error(t, reg.Register(echoTool{name: "a"}))
	assert.Equal(t, []string{"a", "b"}, reg.Names())

	_, ok := reg.Get("missing")
	assert.False(t, ok)
}

func TestToolRegistryValidatesArguments(t *testing.T) {
	reg := NewToolRegistry()
	require.NoError(t, reg.Register(echoTool{
		name: "read_file",
		params: []ToolParameter{
			{Name: "path", Type: "string", Required: true},
		},
	}))

	assert.NoError(t, reg.Validate("read_file", map[string]interface{}{"path": "main.go"}))
	assert.Error(t, reg.Validate("read_file", map[string]interface{}{}))
	assert.Error(t, reg.Validate("read_file", map[string]interface{}{"path": 12.0}))
	assert.ErrorIs(t, reg.Validate("nope", nil), ErrToolNotFound)
}

func TestToolRegistryWithoutParametersAcceptsAnything(t *testing.T) {
	reg := NewToolRegistry()
	require.NoError(t, reg.Register(echoTool{name: "list_directory"}))
	assert.NoError(t, reg.Validate("list_directory", map[string]interface{}{"raw": "x"}))
}

func TestHistoryWindowDoesNotMutate(t *testing.T) {
	h := NewHistory()
	for _, c := range []string{"one", "two", "three"} {
		h.Append(RoleUser, c, nil)
	}
	recent := h.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "two", recent[0].Content)
	recent[0].Content = "changed"
	assert.Equal(t, "two", h.All()[1].Content)
	assert.Len(t, h.Recent(0), 3)

	in := h.AppendToolResult(ExecutionResult{CallID: "c", ToolName: "read_file", Success: true, Data: "ok"})
	assert.Equal(t, 4, in.ID)
	msgs := h.Messages(1)
	require.Len(t, msgs, 1)
	assert.Equal(t, Message{Role: RoleTool, Content: "ok", Name: "read_file", ToolCallID: "c"}, msgs[0])
}

func TestHistoryReplaysAssistantCalls(t *testing.T) {
	h := NewHistory()
	h.Append(RoleUser, "say hi", nil)
	call := Call{ID: "c1", Name: "echo", Arguments: map[string]interface{}{"value": "hi"}, Source: SourceNative}
	h.AppendAssistantCall("", call)
	h.AppendToolResult(Succeeded(call, "hi"))

	// Persisted transcripts come back through JSON; the link must survive.
	encoded, err := json.Marshal(h.All())
	require.NoError(t, err)
	var stored []Interaction
	require.NoError(t, json.Unmarshal(encoded, &stored))

	for _, history := range []*History{h, NewHistory(stored...)} {
		msgs := history.Messages(0)
		require.Len(t, msgs, 3)
		assert.Empty(t, msgs[0].ToolCalls)
		require.Len(t, msgs[1].ToolCalls, 1)
		assert.Equal(t, RoleAssistant, msgs[1].Role)
		assert.Equal(t, "c1", msgs[1].ToolCalls[0].ID)
		assert.Equal(t, "echo", msgs[1].ToolCalls[0].Name)
		assert.JSONEq(t, `{"value":"hi"}`, msgs[1].ToolCalls[0].ArgumentsPayload)
		assert.Equal(t, "c1", msgs[2].ToolCallID)
		assert.Equal(t, "echo", msgs[2].Name)
	}
}
