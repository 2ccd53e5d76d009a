package turn

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexcodex/toolrelay/framework"
	"github.com/lexcodex/toolrelay/llm"
)

type chatRecorder struct {
	mu       sync.Mutex
	requests [][]map[string]interface{}
}

func (c *chatRecorder) record(messages []map[string]interface{}) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, messages)
	return len(c.requests)
}

func (c *chatRecorder) request(n int) []map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests[n]
}

func TestRunNativeCallIsLinkedInFollowUpRequest(t *testing.T) {
	rec := &chatRecorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Messages []map[string]interface{} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if rec.record(payload.Messages) == 1 {
			w.Write([]byte(`{"message":{"role":"assistant","content":"","tool_calls":[{"id":"c1","function":{"name":"echo","arguments":{"value":"hi"}}}]},"done":true}`))
			return
		}
		w.Write([]byte(`{"message":{"role":"assistant","content":"I said hi."},"done":true}`))
	}))
	t.Cleanup(func() {
		srv.Close()
		if tr, ok := http.DefaultTransport.(*http.Transport); ok {
			tr.CloseIdleConnections()
		}
	})

	echo := funcTool{
		name:   "echo",
		params: []framework.ToolParameter{{Name: "value", Type: "string", Required: true}},
		run: func(args map[string]interface{}) (*framework.ToolResult, error) {
			return &framework.ToolResult{Success: true, Data: map[string]interface{}{"echo": args["value"]}}, nil
		},
	}
	engine := newEngine(t, llm.NewClient(srv.URL, "test"), Config{UseNativeTools: true}, echo)
	history := framework.NewHistory()
	res := engine.Run(context.Background(), history, "say hi", nil)
	require.NoError(t, res.Err)
	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, "I said hi.", res.Final)

	followUp := rec.request(1)
	require.Len(t, followUp, 4)
	assert.Equal(t, "system", followUp[0]["role"])
	assert.Equal(t, "user", followUp[1]["role"])

	assistant := followUp[2]
	assert.Equal(t, "assistant", assistant["role"])
	calls, _ := assistant["tool_calls"].([]interface{})
	require.Len(t, calls, 1)
	call := calls[0].(map[string]interface{})
	assert.Equal(t, "c1", call["id"])
	assert.Equal(t, map[string]interface{}{"name": "echo", "arguments": map[string]interface{}{"value": "hi"}}, call["function"])

	tool := followUp[3]
	assert.Equal(t, "tool", tool["role"])
	assert.Equal(t, "echo", tool["tool_name"])
	assert.Equal(t, "c1", tool["tool_call_id"])
	assert.Contains(t, tool["content"], `"echo": "hi"`)

	var roles []string
	for _, in := range history.All() {
		roles = append(roles, in.Role)
	}
	assert.Equal(t, []string{"user", "assistant", "tool", "assistant"}, roles)
}
