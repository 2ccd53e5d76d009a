package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/lexcodex/toolrelay/framework"
)

const (
	DefaultEndpoint = "http://localhost:11434"
	DefaultModel    = "qwen2.5-coder"
)

// Client implements framework.LanguageModel against the Ollama HTTP API.
type Client struct {
	Endpoint string
	Model    string
	Debug    bool
	Logger   *slog.Logger
	client   *http.Client
}

type toolFunction struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Parameters  *jsonschema.Schema `json:"parameters,omitempty"`
}

type toolDef struct {
	Type     string       `json:"type"`
	Function toolFunction `json:"function"`
}

// Ollama returns arguments as an object; some compatible servers send an
// encoded string instead. Both forms land in Arguments.
type ollamaToolCall struct {
	ID       string             `json:"id,omitempty"`
	Function ollamaFunctionCall `json:"function"`
}

type ollamaFunctionCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type ollamaMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []ollamaToolCall `json:"tool_calls,omitempty"`
	ToolName   string           `json:"tool_name,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type ollamaResponse struct {
	Response        string         `json:"response"`
	Message         *ollamaMessage `json:"message"`
	Done            bool           `json:"done"`
	DoneReason      string         `json:"done_reason"`
	Error           string         `json:"error"`
	EvalCount       int            `json:"eval_count"`
	PromptEvalCount int            `json:"prompt_eval_count"`
}

// NewClient builds a client with a generous timeout for local models.
func NewClient(endpoint, model string) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Client{
		Endpoint: strings.TrimRight(endpoint, "/"),
		Model:    model,
		client:   &http.Client{Timeout: 3 * time.Minute},
	}
}

// Generate sends a single prompt to /api/generate.
func (c *Client) Generate(ctx context.Context, prompt string, options *framework.LLMOptions) (*framework.LLMResponse, error) {
	payload := c.payload(options, false)
	payload["prompt"] = prompt
	return c.doRequest(ctx, "/api/generate", payload)
}

// GenerateStream streams response fragments from /api/generate. Errors after
// the stream starts end the stream early and are logged.
func (c *Client) GenerateStream(ctx context.Context, prompt string, options *framework.LLMOptions) (<-chan string, error) {
	payload := c.payload(options, true)
	payload["prompt"] = prompt
	resp, err := c.post(ctx, "/api/generate", payload)
	if err != nil {
		return nil, err
	}
	ch := make(chan string)
	go func() {
		defer resp.Body.Close()
		defer close(ch)
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var chunk ollamaResponse
			if err := json.Unmarshal(line, &chunk); err != nil {
				c.log().Warn("undecodable stream chunk", "error", err, "chunk", truncate(string(line), 256))
				continue
			}
			if chunk.Error != "" {
				c.log().Error("ollama stream failed", "error", chunk.Error)
				return
			}
			if chunk.Response != "" {
				select {
				case ch <- chunk.Response:
				case <-ctx.Done():
					return
				}
			}
			if chunk.Done {
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			c.log().Error("ollama stream interrupted", "error", err)
		}
	}()
	return ch, nil
}

// Chat sends a conversation to /api/chat.
func (c *Client) Chat(ctx context.Context, messages []framework.Message, options *framework.LLMOptions) (*framework.LLMResponse, error) {
	payload := c.payload(options, false)
	payload["messages"] = convertMessages(messages)
	return c.doRequest(ctx, "/api/chat", payload)
}

// ChatWithTools advertises tools and returns any structured calls.
func (c *Client) ChatWithTools(ctx context.Context, messages []framework.Message, tools []framework.Tool, options *framework.LLMOptions) (*framework.LLMResponse, error) {
	payload := c.payload(options, false)
	payload["messages"] = convertMessages(messages)
	if len(tools) > 0 {
		payload["tools"] = convertTools(tools)
	}
	return c.doRequest(ctx, "/api/chat", payload)
}

// SetDebugLogging enables or disables request and response logging.
func (c *Client) SetDebugLogging(enabled bool) {
	c.Debug = enabled
}

// Ping checks that the server answers /api/tags.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Endpoint+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("ollama error: %s", resp.Status)
	}
	return nil
}

func (c *Client) httpClient() *http.Client {
	if c.client == nil {
		c.client = &http.Client{Timeout: 60 * time.Second}
	}
	return c.client
}

func (c *Client) log() *slog.Logger {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("component", "ollama")
}

func (c *Client) model(options *framework.LLMOptions) string {
	if options != nil && options.Model != "" {
		return options.Model
	}
	if c.Model != "" {
		return c.Model
	}
	return DefaultModel
}

// payload builds the common request body. Sampling settings go under
// "options" as Ollama expects.
func (c *Client) payload(options *framework.LLMOptions, stream bool) map[string]interface{} {
	payload := map[string]interface{}{
		"model":  c.model(options),
		"stream": stream,
	}
	if options == nil {
		return payload
	}
	sampling := map[string]interface{}{}
	if options.Temperature != 0 {
		sampling["temperature"] = options.Temperature
	}
	if options.MaxTokens != 0 {
		sampling["num_predict"] = options.MaxTokens
	}
	if len(options.Stop) > 0 {
		sampling["stop"] = options.Stop
	}
	if options.TopP != 0 {
		sampling["top_p"] = options.TopP
	}
	if len(sampling) > 0 {
		payload["options"] = sampling
	}
	return payload
}

func (c *Client) post(ctx context.Context, path string, payload interface{}) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	if c.Debug {
		c.log().Debug("request", "path", path, "payload", truncate(string(body), 2048))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if detail := strings.TrimSpace(string(msg)); detail != "" {
			return nil, fmt.Errorf("ollama error: %s: %s", resp.Status, detail)
		}
		return nil, fmt.Errorf("ollama error: %s", resp.Status)
	}
	return resp, nil
}

func (c *Client) doRequest(ctx context.Context, path string, payload interface{}) (*framework.LLMResponse, error) {
	resp, err := c.post(ctx, path, payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if c.Debug {
		c.log().Debug("response", "path", path, "payload", truncate(string(body), 2048))
	}
	return decodeLLMResponse(body)
}

// convertMessages keeps the link between an assistant's structured calls and
// the tool messages that answer them.
func convertMessages(messages []framework.Message) []ollamaMessage {
	out := make([]ollamaMessage, 0, len(messages))
	for _, msg := range messages {
		converted := ollamaMessage{Role: msg.Role, Content: msg.Content}
		for _, call := range msg.ToolCalls {
			converted.ToolCalls = append(converted.ToolCalls, ollamaToolCall{
				ID:       call.ID,
				Function: ollamaFunctionCall{Name: call.Name, Arguments: argumentsObject(call.ArgumentsPayload)},
			})
		}
		if msg.Role == framework.RoleTool {
			converted.ToolName = msg.Name
			converted.ToolCallID = msg.ToolCallID
		}
		out = append(out, converted)
	}
	return out
}

// argumentsObject turns an encoded payload back into the JSON object Ollama
// expects. Payloads that are not objects are sent as a string.
func argumentsObject(payload string) json.RawMessage {
	trimmed := strings.TrimSpace(payload)
	if trimmed == "" {
		return json.RawMessage("{}")
	}
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(trimmed), &obj); err == nil && obj != nil {
		return json.RawMessage(trimmed)
	}
	encoded, _ := json.Marshal(payload)
	return encoded
}

func convertTools(tools []framework.Tool) []toolDef {
	defs := make([]toolDef, 0, len(tools))
	for _, tool := range tools {
		defs = append(defs, toolDef{
			Type: "function",
			Function: toolFunction{
				Name:        tool.Name(),
				Description: tool.Description(),
				Parameters:  framework.ParameterSchema(tool.Parameters()),
			},
		})
	}
	return defs
}

func decodeLLMResponse(body []byte) (*framework.LLMResponse, error) {
	var raw ollamaResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode ollama response: %w", err)
	}
	if raw.Error != "" {
		return nil, fmt.Errorf("ollama error: %s", raw.Error)
	}
	resp := &framework.LLMResponse{
		Text:         raw.Response,
		FinishReason: raw.DoneReason,
		Usage:        usage(raw),
	}
	if raw.Message != nil {
		if resp.Text == "" {
			resp.Text = raw.Message.Content
		}
		resp.ToolCalls = nativeCalls(raw.Message.ToolCalls)
	}
	return resp, nil
}

// nativeCalls keeps arguments encoded; framework.ParseNativeCalls decodes
// them.
func nativeCalls(calls []ollamaToolCall) []framework.NativeToolCall {
	out := make([]framework.NativeToolCall, 0, len(calls))
	for _, call := range calls {
		out = append(out, framework.NativeToolCall{
			ID:               call.ID,
			Name:             call.Function.Name,
			ArgumentsPayload: argumentsPayload(call.Function.Arguments),
		})
	}
	return out
}

func argumentsPayload(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	var encoded string
	if err := json.Unmarshal(trimmed, &encoded); err == nil {
		return encoded
	}
	return string(trimmed)
}

func usage(raw ollamaResponse) map[string]int {
	out := make(map[string]int)
	if raw.EvalCount > 0 {
		out["completion_tokens"] = raw.EvalCount
	}
	if raw.PromptEvalCount > 0 {
		out["prompt_tokens"] = raw.PromptEvalCount
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
