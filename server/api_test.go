package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexcodex/toolrelay/agents/turn"
	"github.com/lexcodex/toolrelay/framework"
	"github.com/lexcodex/toolrelay/framework/toolexec"
	"github.com/lexcodex/toolrelay/persistence"
)

type scriptedModel struct {
	mu      sync.Mutex
	replies []string
	n       int
}

func (m *scriptedModel) next() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	reply := m.replies[len(m.replies)-1]
	if m.n < len(m.replies) {
		reply = m.replies[m.n]
	}
	m.n++
	return reply
}

func (m *scriptedModel) Generate(ctx context.Context, prompt string, _ *framework.LLMOptions) (*framework.LLMResponse, error) {
	return &framework.LLMResponse{Text: m.next()}, nil
}
func (m *scriptedModel) GenerateStream(ctx context.Context, prompt string, _ *framework.LLMOptions) (<-chan string, error) {
	ch := make(chan string, 1)
	ch <- m.next()
	close(ch)
	return ch, nil
}
func (m *scriptedModel) Chat(ctx context.Context, _ []framework.Message, opts *framework.LLMOptions) (*framework.LLMResponse, error) {
	return m.Generate(ctx, "", opts)
}
func (m *scriptedModel) ChatWithTools(ctx context.Context, _ []framework.Message, _ []framework.Tool, opts *framework.LLMOptions) (*framework.LLMResponse, error) {
	return m.Generate(ctx, "", opts)
}

type greetTool struct{}

func (greetTool) Name() string        { return "greet" }
func (greetTool) Description() string { return "Greets someone" }
func (greetTool) Parameters() []framework.ToolParameter {
	return []framework.ToolParameter{{Name: "who", Type: "string", Required: true}}
}
func (greetTool) Execute(ctx context.Context, args map[string]interface{}) (*framework.ToolResult, error) {
	return &framework.ToolResult{Success: true, Data: map[string]interface{}{"greeting": "hello " + args["who"].(string)}}, nil
}

func newTestServer(t *testing.T, replies ...string) (*APIServer, persistence.MessageStore) {
	t.Helper()
	registry := framework.NewToolRegistry()
	require.NoError(t, registry.Register(greetTool{}))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := turn.New(&scriptedModel{replies: replies}, toolexec.New(registry, toolexec.Options{Logger: logger}), turn.Config{Stream: true, Logger: logger})
	store := persistence.NewMemoryMessageStore()
	return &APIServer{Engine: engine, Registry: registry, Store: store, Logger: logger}, store
}

func readSSE(t *testing.T, body string) ([]turn.Event, bool) {
	t.Helper()
	var events []turn.Event
	done := false
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			done = true
			continue
		}
		var ev turn.Event
		require.NoError(t, json.Unmarshal([]byte(payload), &ev))
		events = append(events, ev)
	}
	return events, done
}

func TestChatStreamsEventsAndPersists(t *testing.T) {
	api, store := newTestServer(t,
		"```json\n{\"tool\": \"greet\", \"params\": {\"who\": \"ada\"}}\n```",
		"I greeted ada.",
	)
	body, _ := json.Marshal(ChatRequest{SessionID: "s1", Message: "say hi to ada"})
	req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	events, done := readSSE(t, rec.Body.String())
	assert.True(t, done)
	require.NotEmpty(t, events)
	assert.Equal(t, turn.EventDone, events[len(events)-1].Type)

	var system []string
	for _, ev := range events {
		if ev.Type == turn.EventSystem {
			system = append(system, ev.Content)
		}
	}
	require.Len(t, system, 1)
	assert.Contains(t, system[0], "hello ada")

	history, err := store.History(context.Background(), "s1")
	require.NoError(t, err)
	var roles []string
	for _, in := range history {
		roles = append(roles, in.Role)
	}
	assert.Equal(t, []string{"user", "assistant", "tool", "assistant"}, roles)
}

func TestChatContinuesExistingSession(t *testing.T) {
	api, store := newTestServer(t, "first answer", "second answer")
	for _, msg := range []string{"one", "two"} {
		body, _ := json.Marshal(ChatRequest{SessionID: "s2", Message: msg})
		rec := httptest.NewRecorder()
		api.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewReader(body)))
		require.Equal(t, http.StatusOK, rec.Code)
	}
	history, err := store.History(context.Background(), "s2")
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, "second answer", history[3].Content)
}

func TestChatRejectsBadRequests(t *testing.T) {
	api, _ := newTestServer(t, "x")
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":""}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{not json`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatRejectsConcurrentRunOnSameSession(t *testing.T) {
	api, _ := newTestServer(t, "x")
	lock := api.sessionLock("busy")
	lock.Lock()
	defer lock.Unlock()

	body, _ := json.Marshal(ChatRequest{SessionID: "busy", Message: "hi"})
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewReader(body)))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSessionAndToolEndpoints(t *testing.T) {
	api, store := newTestServer(t, "x")
	h := api.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sessions", nil))
	assert.Equal(t, http.StatusCreated, rec.Code)
	var created SessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Len(t, created.SessionID, 36)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/tools", nil))
	var tools []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tools))
	require.Len(t, tools, 1)
	assert.Equal(t, "greet", tools[0]["name"])

	require.NoError(t, store.Append(context.Background(), "abc", framework.Interaction{Role: "user", Content: "hi"}))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))
	assert.JSONEq(t, `["abc"]`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/abc/messages", nil))
	var msgs []framework.Interaction
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msgs))
	require.Len(t, msgs, 1)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/sessions/abc", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	ids, err := store.Sessions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}
