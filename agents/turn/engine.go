// Package turn drives a conversation through model generation, call recovery
// and tool execution until the model answers, or a budget runs out.
package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lexcodex/toolrelay/framework"
	"github.com/lexcodex/toolrelay/framework/extract"
	"github.com/lexcodex/toolrelay/framework/toolexec"
)

const (
	DefaultMaxTurns           = 15
	DefaultMaxSelfCorrections = 3
	DefaultHistoryWindow      = 20
	DefaultTemperature        = 0.1
)

// Config controls one engine. Zero values fall back to the defaults above.
type Config struct {
	Model              string
	Temperature        float64
	MaxTurns           int
	MaxSelfCorrections int
	HistoryWindow      int
	SystemPrompt       string
	// UseNativeTools sends the tool list through ChatWithTools instead of
	// rendering it into a text prompt.
	UseNativeTools bool
	// Stream forwards text-mode fragments as token events while generating.
	Stream    bool
	Logger    *slog.Logger
	Telemetry framework.Telemetry
	Debug     bool
}

// Result summarises a finished run.
type Result struct {
	State    State
	Turns    int
	Executed []framework.ExecutionResult
	// Final is the last assistant text of the run.
	Final string
	Err   error
}

// Engine holds no per-conversation state and may serve any number of
// conversations concurrently.
type Engine struct {
	model    framework.LanguageModel
	executor *toolexec.Executor
	config   Config
	logger   *slog.Logger
}

// New builds an engine around a model and an executor.
func New(model framework.LanguageModel, executor *toolexec.Executor, cfg Config) *Engine {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	if cfg.MaxSelfCorrections <= 0 {
		cfg.MaxSelfCorrections = DefaultMaxSelfCorrections
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = DefaultHistoryWindow
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if executor == nil {
		executor = toolexec.New(nil, toolexec.Options{Logger: cfg.Logger})
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		model:    model,
		executor: executor,
		config:   cfg,
		logger:   logger.With("component", "turn"),
	}
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.config }

// Stream runs the loop in the background. The channel is closed after the
// done event.
func (e *Engine) Stream(ctx context.Context, history *framework.History, input string) <-chan Event {
	ch := make(chan Event)
	go func() {
		defer close(ch)
		e.Run(ctx, history, input, ChannelSink(ctx, ch))
	}()
	return ch
}

// Run appends input to history and loops until the model produces an answer
// without a tool call, or the run aborts. Events go to sink in order and the
// last one is always EventDone.
func (e *Engine) Run(ctx context.Context, history *framework.History, input string, sink EventSink) *Result {
	if sink == nil {
		sink = func(Event) {}
	}
	r := &run{ctx: ctx, engine: e, history: history, sink: sink, result: &Result{}}
	r.machine = newMachine(r.stateChanged)
	if strings.TrimSpace(input) != "" {
		history.Append(framework.RoleUser, input, nil)
	}
	r.loop(ctx)
	r.result.State = r.machine.State()
	return r.result
}

type run struct {
	ctx         context.Context
	engine      *Engine
	history     *framework.History
	sink        EventSink
	machine     *machine
	result      *Result
	corrections int
	lastSig     string
}

func (r *run) loop(ctx context.Context) {
	e := r.engine
	for {
		if err := ctx.Err(); err != nil {
			r.abort(fmt.Errorf("run cancelled: %w", err))
			return
		}
		if r.result.Turns >= e.config.MaxTurns {
			r.abort(fmt.Errorf("%w after %d turns", ErrBudgetExhausted, r.result.Turns))
			return
		}
		r.result.Turns++
		turn := r.result.Turns
		r.telemetry(ctx, framework.EventTurnStart, fmt.Sprintf("turn %d", turn), nil)
		r.emit(Event{Type: EventStatus, Content: "Thinking...", State: StateGenerating})

		text, native, err := r.generate(ctx)
		if err != nil {
			r.abort(fmt.Errorf("generation failed: %w", err))
			return
		}
		if !r.step(StateParsingOutput) {
			return
		}
		if strings.TrimSpace(text) != "" {
			r.result.Final = text
		}

		calls := native
		if len(calls) == 0 {
			calls = e.executor.Extractor().Extract(text)
		}
		if len(calls) == 0 {
			r.recordAssistant(text)
			if extract.HasMalformedCallEvidence(text) {
				if !r.selfCorrect() {
					return
				}
				continue
			}
			if r.step(StateDone) {
				r.emit(Event{Type: EventDone, Content: r.result.Final, State: StateDone})
			}
			return
		}
		r.corrections = 0

		call := calls[0]
		if len(calls) > 1 {
			e.debugf("turn %d: acting on %s, ignoring %d further calls", turn, call.Name, len(calls)-1)
		}
		sig := Signature(call)
		if sig == r.lastSig {
			r.recordAssistant(text)
			warning := duplicateWarning(call)
			r.history.Append(framework.RoleSystem, warning, map[string]interface{}{"duplicate_of": call.Name})
			r.emit(Event{Type: EventSystem, Content: warning, Metadata: map[string]interface{}{"tool": call.Name}})
			if !r.step(StateGenerating) {
				return
			}
			continue
		}

		if call.Source == framework.SourceNative {
			r.history.AppendAssistantCall(text, call)
		} else {
			r.recordAssistant(text)
		}
		if !r.step(StateExecutingTool) {
			return
		}
		r.emit(Event{Type: EventStatus, Content: fmt.Sprintf("Running %s...", call.Name), State: StateExecutingTool})
		res := e.executor.Execute(ctx, call)
		r.lastSig = sig
		r.result.Executed = append(r.result.Executed, res)
		r.history.AppendToolResult(res)
		r.emit(Event{
			Type:    EventSystem,
			Content: fmt.Sprintf("%s: %s", call.Name, res.Message()),
			Metadata: map[string]interface{}{
				"tool":       call.Name,
				"call_id":    res.CallID,
				"success":    res.Success,
				"latency_ms": res.Latency.Milliseconds(),
			},
		})
		if !r.step(StateAwaitingNextTurn) || !r.step(StateGenerating) {
			return
		}
	}
}

// recordAssistant appends non-blank assistant text to history.
func (r *run) recordAssistant(text string) {
	if strings.TrimSpace(text) != "" {
		r.history.Append(framework.RoleAssistant, text, nil)
	}
}

// selfCorrect asks the model to retry a malformed call. It reports false when
// the correction budget is spent and the run aborted.
func (r *run) selfCorrect() bool {
	max := r.engine.config.MaxSelfCorrections
	if r.corrections >= max {
		r.abort(fmt.Errorf("%w (%d)", ErrTooManyCorrections, max))
		return false
	}
	r.corrections++
	if !r.step(StateSelfCorrecting) {
		return false
	}
	r.history.Append(framework.RoleSystem, correctionPrompt, map[string]interface{}{"self_correction": r.corrections})
	r.emit(Event{
		Type:    EventStatus,
		Content: fmt.Sprintf("Malformed tool call, asking the model to retry (%d/%d)", r.corrections, max),
		State:   StateSelfCorrecting,
	})
	return r.step(StateGenerating)
}

// generate produces one model reply. Token events go out as fragments
// arrive; parsing only starts once the reply is complete.
func (r *run) generate(ctx context.Context) (string, []framework.Call, error) {
	e := r.engine
	if e.model == nil {
		return "", nil, errors.New("no language model configured")
	}
	opts := &framework.LLMOptions{Model: e.config.Model, Temperature: e.config.Temperature}
	messages := r.history.Messages(e.config.HistoryWindow)
	tools := e.executor.Registry().All()

	if e.config.UseNativeTools {
		resp, err := e.model.ChatWithTools(ctx, chatMessages(e.config.SystemPrompt, messages), tools, opts)
		if err != nil {
			return "", nil, err
		}
		if resp.Text != "" {
			r.emit(Event{Type: EventToken, Content: resp.Text})
		}
		return resp.Text, framework.ParseNativeCalls(resp.ToolCalls), nil
	}

	prompt := buildPrompt(e.config.SystemPrompt, tools, messages)
	r.telemetry(ctx, framework.EventLLMPrompt, "prompt", map[string]interface{}{"chars": len(prompt)})
	if !e.config.Stream {
		resp, err := e.model.Generate(ctx, prompt, opts)
		if err != nil {
			return "", nil, err
		}
		if resp.Text != "" {
			r.emit(Event{Type: EventToken, Content: resp.Text})
		}
		return resp.Text, nil, nil
	}

	opts.Stream = true
	fragments, err := e.model.GenerateStream(ctx, prompt, opts)
	if err != nil {
		return "", nil, err
	}
	var b strings.Builder
	for {
		select {
		case <-ctx.Done():
			return "", nil, ctx.Err()
		case frag, ok := <-fragments:
			if !ok {
				return b.String(), nil, nil
			}
			b.WriteString(frag)
			r.emit(Event{Type: EventToken, Content: frag})
		}
	}
}

func (r *run) step(next State) bool {
	if err := r.machine.transition(next); err != nil {
		r.engine.logger.Error("illegal transition", "error", err)
		r.abort(err)
		return false
	}
	return true
}

// abort moves to Aborted and reports the reason ahead of the done event.
func (r *run) abort(reason error) {
	if r.machine.State() != StateAborted {
		if err := r.machine.transition(StateAborted); err != nil {
			r.engine.logger.Error("cannot abort", "error", err)
		}
	}
	r.result.Err = reason
	r.engine.logger.Warn("run aborted", "turns", r.result.Turns, "reason", reason)
	r.emit(Event{Type: EventError, Content: reason.Error(), State: StateAborted})
	r.emit(Event{Type: EventDone, Content: r.result.Final, State: StateAborted})
}

func (r *run) stateChanged(from, to State) {
	r.engine.debugf("state %s -> %s", from, to)
	r.telemetry(r.ctx, framework.EventStateChange, string(to), map[string]interface{}{"from": string(from)})
}

func (r *run) emit(ev Event) {
	if ev.Turn == 0 {
		ev.Turn = r.result.Turns
	}
	r.sink(ev)
}

func (r *run) telemetry(ctx context.Context, typ framework.EventType, msg string, meta map[string]interface{}) {
	t := r.engine.config.Telemetry
	if t == nil {
		return
	}
	t.Emit(framework.Event{
		Type:           typ,
		ConversationID: framework.ConversationIDFrom(ctx),
		Message:        msg,
		Timestamp:      time.Now().UTC(),
		Metadata:       meta,
	})
}

func (e *Engine) debugf(format string, args ...interface{}) {
	if e.config.Debug {
		e.logger.Debug(fmt.Sprintf(format, args...))
	}
}
