package cliutils

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/lexcodex/toolrelay/agents/turn"
	"github.com/lexcodex/toolrelay/cmd/internal/config"
	"github.com/lexcodex/toolrelay/framework"
	"github.com/lexcodex/toolrelay/framework/extract"
	"github.com/lexcodex/toolrelay/framework/toolexec"
	"github.com/lexcodex/toolrelay/internal/logging"
	"github.com/lexcodex/toolrelay/llm"
	"github.com/lexcodex/toolrelay/persistence"
	"github.com/lexcodex/toolrelay/server"
	"github.com/lexcodex/toolrelay/tools"
)

// Runtime wires the CLI, the TUI and the API server to one engine. It owns
// the registry, the model client, the message store and the log sinks.
type Runtime struct {
	Config    config.Config
	Tools     *framework.ToolRegistry
	Workspace *tools.Workspace
	Model     framework.LanguageModel
	Executor  *toolexec.Executor
	Engine    *turn.Engine
	Store     persistence.MessageStore
	Logger    *slog.Logger
	Telemetry framework.Telemetry

	closers []io.Closer

	serverMu     sync.Mutex
	serverCancel context.CancelFunc
}

// Options let callers swap collaborators, mostly for tests.
type Options struct {
	LogOutput io.Writer
	Model     framework.LanguageModel
	Runner    tools.CommandRunner
}

// New builds a runtime from a normalized copy of cfg.
func New(ctx context.Context, cfg config.Config, opts Options) (*Runtime, error) {
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	out := opts.LogOutput
	if out == nil {
		out = os.Stderr
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, out)
	rt := &Runtime{Config: cfg, Logger: logger}

	telemetry, err := rt.buildTelemetry()
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Telemetry = telemetry

	registry, ws, err := BuildToolRegistry(cfg, opts.Runner)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Tools, rt.Workspace = registry, ws

	model := opts.Model
	if model == nil {
		model = BuildModel(cfg, logger)
	}
	rt.Model = llm.NewInstrumentedModel(model, telemetry, cfg.Debug)

	rt.Executor = toolexec.New(registry, toolexec.Options{
		Parallel:    cfg.Parallel,
		MaxWorkers:  cfg.MaxWorkers,
		CallTimeout: cfg.CallTimeout,
		Telemetry:   telemetry,
		Logger:      logger,
		Extractor:   extract.New(extract.WithLogger(logger)),
	})
	rt.Engine = turn.New(rt.Model, rt.Executor, turn.Config{
		Model:              cfg.Model,
		Temperature:        cfg.Temperature,
		MaxTurns:           cfg.MaxTurns,
		MaxSelfCorrections: cfg.MaxSelfCorrections,
		HistoryWindow:      cfg.HistoryWindow,
		UseNativeTools:     cfg.NativeTools,
		Stream:             cfg.Stream,
		Logger:             logger,
		Telemetry:          telemetry,
		Debug:              cfg.Debug,
	})

	store, err := persistence.Open(cfg.Store, cfg.StorePath)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("open %s store: %w", cfg.Store, err)
	}
	rt.Store = store
	rt.closers = append(rt.closers, store)
	logger.Debug("runtime ready", "component", "cli", "model", cfg.Model, "tools", registry.Names(), "store", cfg.Store)
	return rt, nil
}

func (r *Runtime) buildTelemetry() (framework.Telemetry, error) {
	sinks := []framework.Telemetry{framework.LoggerTelemetry{Logger: r.Logger.With("component", "telemetry")}}
	if r.Config.TelemetryPath != "" {
		file, err := framework.NewJSONFileTelemetry(r.Config.TelemetryPath)
		if err != nil {
			return nil, fmt.Errorf("open telemetry log: %w", err)
		}
		r.closers = append(r.closers, file)
		sinks = append(sinks, file)
	}
	return framework.MultiplexTelemetry{Sinks: sinks}, nil
}

// BuildToolRegistry registers the built-in tools rooted at the workspace.
func BuildToolRegistry(cfg config.Config, runner tools.CommandRunner) (*framework.ToolRegistry, *tools.Workspace, error) {
	registry := framework.NewToolRegistry()
	ws, err := tools.Register(registry, cfg.Workspace, tools.Options{
		Interpreter: cfg.Interpreter,
		CodeTimeout: cfg.CodeTimeout,
		Runner:      runner,
	})
	if err != nil {
		return nil, nil, err
	}
	return registry, ws, nil
}

// BuildModel returns the Ollama client for cfg.
func BuildModel(cfg config.Config, logger *slog.Logger) *llm.Client {
	client := llm.NewClient(cfg.Endpoint, cfg.Model)
	client.Logger = logger
	client.SetDebugLogging(cfg.Debug)
	return client
}

// API returns an HTTP server bound to the runtime's engine and store.
func (r *Runtime) API() *server.APIServer {
	return &server.APIServer{Engine: r.Engine, Registry: r.Tools, Store: r.Store, Logger: r.Logger}
}

// StartServer launches the HTTP API in the background. The returned stop
// function shuts it down.
func (r *Runtime) StartServer(ctx context.Context, addr string) (func(context.Context) error, error) {
	r.serverMu.Lock()
	defer r.serverMu.Unlock()
	if r.serverCancel != nil {
		return nil, errors.New("server already running")
	}
	if addr == "" {
		addr = r.Config.Addr
	}
	api := r.API()
	serverCtx, cancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() {
		errCh <- api.ServeContext(serverCtx, addr)
	}()
	r.serverCancel = cancel
	stop := func(shutdownCtx context.Context) error {
		r.serverMu.Lock()
		if r.serverCancel == nil {
			r.serverMu.Unlock()
			return nil
		}
		r.serverCancel()
		r.serverCancel = nil
		r.serverMu.Unlock()
		select {
		case err := <-errCh:
			if err == nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		case <-shutdownCtx.Done():
			return shutdownCtx.Err()
		}
	}
	return stop, nil
}

// ServerRunning reports whether the HTTP server is active.
func (r *Runtime) ServerRunning() bool {
	r.serverMu.Lock()
	defer r.serverMu.Unlock()
	return r.serverCancel != nil
}

// Close releases the store and telemetry files.
func (r *Runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}
