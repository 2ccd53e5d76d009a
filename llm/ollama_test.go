package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexcodex/toolrelay/framework"
)

type roundTripFunc func(*http.Request) *http.Response

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req), nil
}

func respond(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

type stubTool struct {
	name string
}

func (t stubTool) Name() string        { return t.name }
func (t stubTool) Description() string { return "stub tool" }
func (t stubTool) Parameters() []framework.ToolParameter {
	return []framework.ToolParameter{{Name: "value", Type: "string", Required: true}}
}
func (t stubTool) Execute(ctx context.Context, args map[string]interface{}) (*framework.ToolResult, error) {
	return &framework.ToolResult{Success: true, Data: map[string]interface{}{"echo": args["value"]}}, nil
}

func TestClientGenerate(t *testing.T) {
	client := NewClient("http://fake/", "test")
	client.client = &http.Client{
		Transport: roundTripFunc(func(req *http.Request) *http.Response {
			assert.Equal(t, "/api/generate", req.URL.Path)
			var payload map[string]interface{}
			assert.NoError(t, json.NewDecoder(req.Body).Decode(&payload))
			assert.Equal(t, "hello", payload["prompt"])
			assert.Equal(t, "test", payload["model"])
			assert.Equal(t, false, payload["stream"])
			assert.Equal(t, map[string]interface{}{"temperature": 0.2}, payload["options"])
			return respond(200, `{"response":"response","done":true,"eval_count":7}`)
		}),
	}

	resp, err := client.Generate(context.Background(), "hello", &framework.LLMOptions{Temperature: 0.2})
	require.NoError(t, err)
	assert.Equal(t, "response", resp.Text)
	assert.Equal(t, 7, resp.Usage["completion_tokens"])
}

func TestClientGenerateReportsHTTPErrors(t *testing.T) {
	client := NewClient("http://fake", "test")
	client.client = &http.Client{
		Transport: roundTripFunc(func(req *http.Request) *http.Response {
			return respond(404, `{"error":"model 'test' not found"}`)
		}),
	}
	_, err := client.Generate(context.Background(), "hello", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestClientGenerateStreamDecodesFragments(t *testing.T) {
	client := NewClient("http://fake", "test")
	client.client = &http.Client{
		Transport: roundTripFunc(func(req *http.Request) *http.Response {
			var payload map[string]interface{}
			assert.NoError(t, json.NewDecoder(req.Body).Decode(&payload))
			assert.Equal(t, true, payload["stream"])
			return respond(200, strings.Join([]string{
				`{"response":"Hel","done":false}`,
				``,
				`{"response":"lo","done":false}`,
				`{"response":"","done":true,"done_reason":"stop"}`,
				`{"response":"ignored","done":false}`,
			}, "\n"))
		}),
	}

	ch, err := client.GenerateStream(context.Background(), "hi", nil)
	require.NoError(t, err)
	var parts []string
	for frag := range ch {
		parts = append(parts, frag)
	}
	assert.Equal(t, []string{"Hel", "lo"}, parts)
}

func TestClientChat(t *testing.T) {
	client := NewClient("http://fake", "chat-model")
	client.client = &http.Client{
		Transport: roundTripFunc(func(req *http.Request) *http.Response {
			assert.Equal(t, "/api/chat", req.URL.Path)
			return respond(200, `{"message":{"role":"assistant","content":"ok"},"done":true}`)
		}),
	}

	resp, err := client.Chat(context.Background(), []framework.Message{{Role: "user", Content: "ping"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.Empty(t, resp.ToolCalls)
}

func TestClientChatWithToolsParsesToolCalls(t *testing.T) {
	client := NewClient("http://fake", "model")
	client.client = &http.Client{
		Transport: roundTripFunc(func(req *http.Request) *http.Response {
			var payload struct {
				Tools []toolDef `json:"tools"`
			}
			assert.NoError(t, json.NewDecoder(req.Body).Decode(&payload))
			if assert.Len(t, payload.Tools, 1) {
				assert.Equal(t, "echo", payload.Tools[0].Function.Name)
				assert.Equal(t, []string{"value"}, payload.Tools[0].Function.Parameters.Required)
			}
			return respond(200, `{
				"message": {
					"role":"assistant",
					"content":"",
					"tool_calls": [
						{"id":"call-1","function":{"name":"echo","arguments":{"value":"hi"}}},
						{"function":{"name":"echo","arguments":"{\"value\":\"there\"}"}}
					]
				},
				"done_reason":"stop"
			}`)
		}),
	}

	resp, err := client.ChatWithTools(context.Background(), []framework.Message{{Role: "user", Content: "say hi"}},
		[]framework.Tool{stubTool{name: "echo"}}, &framework.LLMOptions{})
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 2)
	assert.Equal(t, "call-1", resp.ToolCalls[0].ID)
	assert.JSONEq(t, `{"value":"hi"}`, resp.ToolCalls[0].ArgumentsPayload)
	assert.JSONEq(t, `{"value":"there"}`, resp.ToolCalls[1].ArgumentsPayload)

	calls := framework.ParseNativeCalls(resp.ToolCalls)
	assert.Equal(t, map[string]interface{}{"value": "hi"}, calls[0].Arguments)
	assert.NotEmpty(t, calls[1].ID)
}

func TestClientChatReplaysToolCallLinks(t *testing.T) {
	client := NewClient("http://fake", "model")
	client.client = &http.Client{
		Transport: roundTripFunc(func(req *http.Request) *http.Response {
			var payload struct {
				Messages []map[string]interface{} `json:"messages"`
			}
			assert.NoError(t, json.NewDecoder(req.Body).Decode(&payload))
			if assert.Len(t, payload.Messages, 3) {
				calls, _ := payload.Messages[1]["tool_calls"].([]interface{})
				if assert.Len(t, calls, 1) {
					assert.Equal(t, map[string]interface{}{
						"id":       "c1",
						"function": map[string]interface{}{"name": "echo", "arguments": map[string]interface{}{"value": "hi"}},
					}, calls[0])
				}
				assert.Equal(t, "echo", payload.Messages[2]["tool_name"])
				assert.Equal(t, "c1", payload.Messages[2]["tool_call_id"])
				assert.NotContains(t, payload.Messages[0], "tool_name")
			}
			return respond(200, `{"message":{"role":"assistant","content":"done"},"done":true}`)
		}),
	}

	_, err := client.ChatWithTools(context.Background(), []framework.Message{
		{Role: "user", Content: "say hi"},
		{Role: "assistant", ToolCalls: []framework.NativeToolCall{{ID: "c1", Name: "echo", ArgumentsPayload: `{"value":"hi"}`}}},
		{Role: "tool", Content: `{"echo": "hi"}`, Name: "echo", ToolCallID: "c1"},
	}, []framework.Tool{stubTool{name: "echo"}}, nil)
	require.NoError(t, err)
}

func TestArgumentsObjectKeepsNonObjectPayloadsAsStrings(t *testing.T) {
	assert.JSONEq(t, `{}`, string(argumentsObject("")))
	assert.JSONEq(t, `{"a":1}`, string(argumentsObject(`{"a":1}`)))
	assert.JSONEq(t, `"{broken"`, string(argumentsObject("{broken")))
}

func TestInstrumentedModelEmitsEvents(t *testing.T) {
	client := NewClient("http://fake", "m")
	client.client = &http.Client{
		Transport: roundTripFunc(func(req *http.Request) *http.Response {
			if strings.Contains(req.URL.Path, "generate") {
				return respond(200, "{\"response\":\"a\"}\n{\"response\":\"b\",\"done\":true}\n")
			}
			return respond(200, `{"message":{"role":"assistant","content":"ok"}}`)
		}),
	}
	sink := &framework.RecordingTelemetry{}
	model := NewInstrumentedModel(client, sink, true)
	ctx := framework.WithConversationID(context.Background(), "conv-9")

	_, err := model.Chat(ctx, []framework.Message{{Role: "user", Content: "x"}}, nil)
	require.NoError(t, err)
	ch, err := model.GenerateStream(ctx, "p", nil)
	require.NoError(t, err)
	var text string
	for frag := range ch {
		text += frag
	}
	assert.Equal(t, "ab", text)

	events := sink.Events()
	require.Len(t, events, 4)
	assert.Equal(t, framework.EventLLMPrompt, events[0].Type)
	assert.Equal(t, framework.EventLLMResponse, events[1].Type)
	assert.Equal(t, "conv-9", events[1].ConversationID)
	assert.NotNil(t, events[0].Metadata["messages"])
	assert.Equal(t, "ab", events[3].Metadata["text_preview"])
}
