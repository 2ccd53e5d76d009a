package toolexec

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/lexcodex/toolrelay/framework"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type funcTool struct {
	name   string
	params []framework.ToolParameter
	run    func(ctx context.Context, args map[string]interface{}) (*framework.ToolResult, error)
}

func (t funcTool) Name() string                          { return t.name }
func (t funcTool) Description() string                   { return "test tool " + t.name }
func (t funcTool) Parameters() []framework.ToolParameter { return t.params }
func (t funcTool) Execute(ctx context.Context, args map[string]interface{}) (*framework.ToolResult, error) {
	return t.run(ctx, args)
}

func newRegistry(t *testing.T, tools ...framework.Tool) *framework.ToolRegistry {
	t.Helper()
	reg := framework.NewToolRegistry()
	for _, tool := range tools {
		require.NoError(t, reg.Register(tool))
	}
	return reg
}

func echo(name string) funcTool {
	return funcTool{name: name, run: func(ctx context.Context, args map[string]interface{}) (*framework.ToolResult, error) {
		return &framework.ToolResult{Success: true, Data: args}, nil
	}}
}

func TestExecuteUnknownTool(t *testing.T) {
	exec := New(newRegistry(t), Options{})
	res := exec.Execute(context.Background(), framework.NewCall("nope", nil, framework.SourceManual))
	assert.False(t, res.Success)
	assert.Equal(t, "Tool not found: nope", res.Error)
}

func TestExecuteCapturesFailures(t *testing.T) {
	reg := newRegistry(t,
		funcTool{name: "errs", run: func(context.Context, map[string]interface{}) (*framework.ToolResult, error) {
			return nil, errors.New("disk full")
		}},
		funcTool{name: "reports", run: func(context.Context, map[string]interface{}) (*framework.ToolResult, error) {
			return &framework.ToolResult{Success: false, Error: "bad path"}, nil
		}},
		funcTool{name: "panics", run: func(context.Context, map[string]interface{}) (*framework.ToolResult, error) {
			panic("kaboom")
		}},
	)
	exec := New(reg, Options{})
	ctx := context.Background()

	res := exec.Execute(ctx, framework.NewCall("errs", nil, framework.SourceManual))
	assert.False(t, res.Success)
	assert.Equal(t, "disk full", res.Error)

	res = exec.Execute(ctx, framework.NewCall("reports", nil, framework.SourceManual))
	assert.False(t, res.Success)
	assert.Equal(t, "bad path", res.Error)

	var panicked framework.ExecutionResult
	assert.NotPanics(t, func() {
		panicked = exec.Execute(ctx, framework.NewCall("panics", nil, framework.SourceManual))
	})
	assert.False(t, panicked.Success)
	assert.Contains(t, panicked.Error, "kaboom")
}

func TestExecuteValidatesArguments(t *testing.T) {
	var called atomic.Bool
	tool := funcTool{
		name:   "read_file",
		params: []framework.ToolParameter{{Name: "path", Type: "string", Required: true}},
		run: func(context.Context, map[string]interface{}) (*framework.ToolResult, error) {
			called.Store(true)
			return &framework.ToolResult{Success: true}, nil
		},
	}
	exec := New(newRegistry(t, tool), Options{})
	res := exec.Execute(context.Background(), framework.NewCall("read_file", map[string]interface{}{"raw": "{oops"}, framework.SourceNative))
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "invalid arguments for read_file")
	assert.False(t, called.Load())

	res = exec.Execute(context.Background(), framework.NewCall("read_file", map[string]interface{}{"path": "a"}, framework.SourceNative))
	assert.True(t, res.Success)
	assert.Equal(t, "Success", res.Message())
}

func TestExecuteTimesOut(t *testing.T) {
	slow := funcTool{name: "slow", run: func(ctx context.Context, _ map[string]interface{}) (*framework.ToolResult, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return &framework.ToolResult{Success: true}, nil
		}
	}}
	exec := New(newRegistry(t, slow), Options{CallTimeout: 20 * time.Millisecond})
	res := exec.Execute(context.Background(), framework.NewCall("slow", nil, framework.SourceManual))
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
	assert.Greater(t, res.Latency, time.Duration(0))
}

func TestExecuteBatchParallelPreservesOrder(t *testing.T) {
	delayed := funcTool{name: "delayed", run: func(ctx context.Context, args map[string]interface{}) (*framework.ToolResult, error) {
		ms, _ := args["delay"].(float64)
		time.Sleep(time.Duration(ms) * time.Millisecond)
		return &framework.ToolResult{Success: true, Data: args}, nil
	}}
	exec := New(newRegistry(t, delayed), Options{Parallel: true, MaxWorkers: 4})

	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 5; round++ {
		calls := make([]framework.Call, 12)
		for i := range calls {
			calls[i] = framework.NewCall("delayed", map[string]interface{}{
				"delay": float64(rng.Intn(15)),
				"index": float64(i),
			}, framework.SourceManual)
		}
		batch := exec.ExecuteBatch(context.Background(), calls)
		require.True(t, batch.Executed)
		require.Len(t, batch.Results, len(calls))
		for i, res := range batch.Results {
			assert.Equal(t, calls[i].ID, res.CallID, "round %d index %d", round, i)
		}
	}
}

func TestExecuteBatchParallelOrderIgnoresCallIDs(t *testing.T) {
	delayed := funcTool{name: "delayed", run: func(ctx context.Context, args map[string]interface{}) (*framework.ToolResult, error) {
		ms, _ := args["delay"].(float64)
		time.Sleep(time.Duration(ms) * time.Millisecond)
		return &framework.ToolResult{Success: true, Data: args["index"]}, nil
	}}
	exec := New(newRegistry(t, delayed), Options{Parallel: true, MaxWorkers: 4})

	ids := []string{"c1", "c1", "", ""}
	delays := []float64{60, 1, 40, 1}
	calls := make([]framework.Call, len(ids))
	for i := range calls {
		calls[i] = framework.Call{
			ID:        ids[i],
			Name:      "delayed",
			Arguments: map[string]interface{}{"delay": delays[i], "index": float64(i)},
			Source:    framework.SourceNative,
		}
	}
	batch := exec.ExecuteBatch(context.Background(), calls)
	require.True(t, batch.Executed)
	require.Len(t, batch.Results, len(calls))
	for i, res := range batch.Results {
		assert.Equal(t, float64(i), res.Data, "position %d", i)
		assert.Equal(t, ids[i], res.CallID)
	}
}

func TestExecuteBatchSequential(t *testing.T) {
	var order []string
	rec := funcTool{name: "rec", run: func(ctx context.Context, args map[string]interface{}) (*framework.ToolResult, error) {
		order = append(order, fmt.Sprint(args["n"]))
		return &framework.ToolResult{Success: true}, nil
	}}
	exec := New(newRegistry(t, rec), Options{})
	calls := []framework.Call{
		framework.NewCall("rec", map[string]interface{}{"n": "1"}, framework.SourceManual),
		framework.NewCall("missing", nil, framework.SourceManual),
		framework.NewCall("rec", map[string]interface{}{"n": "2"}, framework.SourceManual),
	}
	batch := exec.ExecuteBatch(context.Background(), calls)
	assert.Equal(t, []string{"1", "2"}, order)
	assert.True(t, batch.Executed)
	assert.True(t, batch.HasErrors())
	assert.False(t, batch.Results[1].Success)

	empty := exec.ExecuteBatch(context.Background(), nil)
	assert.True(t, empty.Executed)
	assert.Zero(t, empty.Len())
}

func TestExecuteWithFallbackPrefersNative(t *testing.T) {
	exec := New(newRegistry(t, echo("read_file"), echo("write_file")), Options{})
	text := "```json\n{\"tool\": \"write_file\", \"params\": {\"path\": \"a\", \"content\": \"b\"}}\n```"

	native := framework.ParseNativeCalls([]framework.NativeToolCall{{ID: "c1", Name: "read_file", ArgumentsPayload: `{"path":"x"}`}})
	batch := exec.ExecuteWithFallback(context.Background(), native, text)
	require.Len(t, batch.Results, 1)
	assert.Equal(t, "read_file", batch.Results[0].ToolName)
	assert.Equal(t, "c1", batch.Results[0].CallID)

	batch = exec.ExecuteWithFallback(context.Background(), nil, text)
	require.Len(t, batch.Results, 1)
	assert.Equal(t, "write_file", batch.Results[0].ToolName)
	assert.Equal(t, framework.SourceTextParsed, batch.Calls[0].Source)

	batch = exec.ExecuteWithFallback(context.Background(), nil, "just words")
	assert.Zero(t, batch.Len())
	assert.True(t, batch.Executed)
}

func TestExecuteEmitsTelemetry(t *testing.T) {
	sink := &framework.RecordingTelemetry{}
	exec := New(newRegistry(t, echo("read_file")), Options{Telemetry: sink})
	ctx := framework.WithConversationID(context.Background(), "conv-1")
	exec.Execute(ctx, framework.NewCall("read_file", nil, framework.SourceManual))

	events := sink.Events()
	require.Len(t, events, 2)
	assert.Equal(t, framework.EventToolCall, events[0].Type)
	assert.Equal(t, framework.EventToolResult, events[1].Type)
	assert.Equal(t, "conv-1", events[1].ConversationID)
	assert.Equal(t, true, events[1].Metadata["success"])
}
