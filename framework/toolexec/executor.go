// Package toolexec runs calls against a tool registry. Failures of any kind
// come back as data on framework.ExecutionResult; nothing a tool does escapes
// the executor as a Go error or panic.
package toolexec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/lexcodex/toolrelay/framework"
	"github.com/lexcodex/toolrelay/framework/extract"
)

const (
	DefaultMaxWorkers  = 4
	DefaultCallTimeout = 60 * time.Second
)

// Options configures an Executor.
type Options struct {
	// Parallel runs batches on a fixed pool of MaxWorkers goroutines.
	Parallel    bool
	MaxWorkers  int
	CallTimeout time.Duration
	Telemetry   framework.Telemetry
	Logger      *slog.Logger
	Extractor   *extract.Extractor
}

// Executor resolves calls against a read-only registry.
type Executor struct {
	registry *framework.ToolRegistry
	opts     Options
	logger   *slog.Logger
}

// New builds an executor, filling unset options with defaults.
func New(registry *framework.ToolRegistry, opts Options) *Executor {
	if registry == nil {
		registry = framework.NewToolRegistry()
	}
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = DefaultMaxWorkers
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	if opts.Extractor == nil {
		opts.Extractor = extract.New(extract.WithLogger(opts.Logger))
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		registry: registry,
		opts:     opts,
		logger:   logger.With("component", "toolexec"),
	}
}

// Registry exposes the registry the executor resolves against.
func (e *Executor) Registry() *framework.ToolRegistry { return e.registry }

// Execute runs one call. Unknown tools, invalid arguments, tool errors,
// panics and timeouts all produce a failed result.
func (e *Executor) Execute(ctx context.Context, call framework.Call) framework.ExecutionResult {
	start := time.Now()
	e.emit(ctx, framework.EventToolCall, call.Name, map[string]interface{}{
		"call_id": call.ID,
		"source":  string(call.Source),
	})
	result := e.execute(ctx, call)
	result.Latency = time.Since(start)
	e.emit(ctx, framework.EventToolResult, call.Name, map[string]interface{}{
		"call_id":    call.ID,
		"success":    result.Success,
		"error":      result.Error,
		"latency_ms": result.Latency.Milliseconds(),
	})
	if !result.Success {
		e.logger.Debug("tool call failed", "tool", call.Name, "call_id", call.ID, "error", result.Error)
	}
	return result
}

func (e *Executor) execute(ctx context.Context, call framework.Call) framework.ExecutionResult {
	tool, ok := e.registry.Get(call.Name)
	if !ok {
		return framework.Failed(call, fmt.Sprintf("Tool not found: %s", call.Name))
	}
	if err := e.registry.Validate(call.Name, call.Arguments); err != nil {
		return framework.Failed(call, fmt.Sprintf("invalid arguments for %s: %v", call.Name, err))
	}

	callCtx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	defer cancel()

	type outcome struct {
		res *framework.ToolResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("tool panicked", "tool", call.Name, "panic", r, "stack", string(debug.Stack()))
				done <- outcome{err: fmt.Errorf("tool %s panicked: %v", call.Name, r)}
			}
		}()
		res, err := tool.Execute(callCtx, call.Arguments)
		done <- outcome{res: res, err: err}
	}()

	select {
	case out := <-done:
		return toExecutionResult(call, out.res, out.err)
	case <-callCtx.Done():
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return framework.Failed(call, fmt.Sprintf("tool %s timed out after %s", call.Name, e.opts.CallTimeout))
		}
		return framework.Failed(call, fmt.Sprintf("tool %s cancelled: %v", call.Name, callCtx.Err()))
	}
}

func toExecutionResult(call framework.Call, res *framework.ToolResult, err error) framework.ExecutionResult {
	if err != nil {
		return framework.Failed(call, err.Error())
	}
	if res == nil {
		return framework.Succeeded(call, nil)
	}
	if !res.Success {
		return framework.Failed(call, res.Error)
	}
	var data interface{}
	if res.Data != nil {
		data = res.Data
	}
	return framework.Succeeded(call, data)
}

// ExecuteBatch runs calls and returns them with results in call order.
func (e *Executor) ExecuteBatch(ctx context.Context, calls []framework.Call) *framework.CallBatch {
	batch := framework.NewCallBatch(calls)
	if len(calls) == 0 {
		batch.Executed = true
		return batch
	}
	if !e.opts.Parallel || len(calls) == 1 {
		for _, call := range calls {
			batch.AddResult(e.Execute(ctx, call))
		}
		return batch
	}
	batch.Results = e.runPool(ctx, calls)
	batch.Executed = true
	return batch
}

// runPool executes calls on a fixed pool of workers. Each worker writes into
// the slot of its call index, so results are in call order whatever the
// completion order or call IDs.
func (e *Executor) runPool(ctx context.Context, calls []framework.Call) []framework.ExecutionResult {
	workers := e.opts.MaxWorkers
	if workers > len(calls) {
		workers = len(calls)
	}
	jobs := make(chan int)
	results := make([]framework.ExecutionResult, len(calls))
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				results[idx] = e.Execute(ctx, calls[idx])
			}
		}()
	}
	for idx := range calls {
		jobs <- idx
	}
	close(jobs)
	wg.Wait()
	return results
}

// ExecuteWithFallback executes native calls when there are any; otherwise it
// extracts calls from rawText and executes those.
func (e *Executor) ExecuteWithFallback(ctx context.Context, native []framework.Call, rawText string) *framework.CallBatch {
	if len(native) > 0 {
		return e.ExecuteBatch(ctx, native)
	}
	return e.ExecuteText(ctx, rawText)
}

// ExecuteText extracts calls from text and executes them.
func (e *Executor) ExecuteText(ctx context.Context, text string) *framework.CallBatch {
	calls := e.opts.Extractor.Extract(text)
	if len(calls) > 0 {
		e.logger.Info("executing calls recovered from text", "count", len(calls))
	}
	return e.ExecuteBatch(ctx, calls)
}

// Extractor exposes the text extractor used by ExecuteText.
func (e *Executor) Extractor() *extract.Extractor { return e.opts.Extractor }

func (e *Executor) emit(ctx context.Context, typ framework.EventType, msg string, meta map[string]interface{}) {
	if e.opts.Telemetry == nil {
		return
	}
	e.opts.Telemetry.Emit(framework.Event{
		Type:           typ,
		ConversationID: framework.ConversationIDFrom(ctx),
		Message:        msg,
		Timestamp:      time.Now().UTC(),
		Metadata:       meta,
	})
}
