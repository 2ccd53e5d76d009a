package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lexcodex/toolrelay/agents/turn"
	"github.com/lexcodex/toolrelay/framework/toolexec"
	"github.com/lexcodex/toolrelay/llm"
	"github.com/lexcodex/toolrelay/tools"
)

// FileName is the config file looked up in the workspace when --config is
// not given.
const FileName = "toolrelay.yaml"

const (
	EnvModel    = "TOOLRELAY_MODEL"
	EnvEndpoint = "OLLAMA_ENDPOINT"
)

// Config captures every knob shared by the CLI, the TUI and the API server.
type Config struct {
	Model              string        `yaml:"model"`
	Endpoint           string        `yaml:"endpoint"`
	Workspace          string        `yaml:"workspace"`
	Temperature        float64       `yaml:"temperature"`
	MaxTurns           int           `yaml:"max_turns"`
	MaxSelfCorrections int           `yaml:"max_self_corrections"`
	HistoryWindow      int           `yaml:"history_window"`
	NativeTools        bool          `yaml:"native_tools"`
	Stream             bool          `yaml:"stream"`
	Parallel           bool          `yaml:"parallel"`
	MaxWorkers         int           `yaml:"max_workers"`
	CallTimeout        time.Duration `yaml:"call_timeout"`
	Store              string        `yaml:"store"`
	StorePath          string        `yaml:"store_path"`
	LogLevel           string        `yaml:"log_level"`
	LogFormat          string        `yaml:"log_format"`
	Interpreter        []string      `yaml:"interpreter"`
	CodeTimeout        time.Duration `yaml:"code_timeout"`
	Addr               string        `yaml:"addr"`
	TelemetryPath      string        `yaml:"telemetry_path"`
	Debug              bool          `yaml:"debug"`
}

// Default infers defaults from the current working directory. Errors from
// os.Getwd are ignored so callers can override manually.
func Default() Config {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	return Config{
		Model:              llm.DefaultModel,
		Endpoint:           llm.DefaultEndpoint,
		Workspace:          cwd,
		Temperature:        turn.DefaultTemperature,
		MaxTurns:           turn.DefaultMaxTurns,
		MaxSelfCorrections: turn.DefaultMaxSelfCorrections,
		HistoryWindow:      turn.DefaultHistoryWindow,
		Stream:             true,
		MaxWorkers:         toolexec.DefaultMaxWorkers,
		CallTimeout:        toolexec.DefaultCallTimeout,
		Store:              "file",
		LogLevel:           "info",
		LogFormat:          "text",
		Interpreter:        []string{"python3"},
		CodeTimeout:        tools.DefaultCodeTimeout,
		Addr:               ":8080",
	}
}

// DefaultPath returns the config file location for a workspace.
func DefaultPath(workspace string) string {
	return filepath.Join(workspace, FileName)
}

// Load overlays the YAML file at path (when present) and the environment on
// top of base. A missing file is not an error.
func Load(path string, base Config) (Config, error) {
	cfg := base
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	cfg.ApplyEnv(os.LookupEnv)
	return cfg, nil
}

// ApplyEnv applies TOOLRELAY_MODEL and OLLAMA_ENDPOINT overrides.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvModel); ok && strings.TrimSpace(v) != "" {
		c.Model = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvEndpoint); ok && strings.TrimSpace(v) != "" {
		c.Endpoint = strings.TrimSpace(v)
	}
}

// Normalize makes paths absolute, fills missing defaults and rejects values
// no component can work with.
func (c *Config) Normalize() error {
	if c.Workspace == "" {
		return fmt.Errorf("workspace path required")
	}
	abs, err := filepath.Abs(c.Workspace)
	if err != nil {
		return fmt.Errorf("resolve workspace: %w", err)
	}
	c.Workspace = abs
	def := Default()
	if c.Model == "" {
		c.Model = def.Model
	}
	if c.Endpoint == "" {
		c.Endpoint = def.Endpoint
	}
	if c.Temperature < 0 {
		return fmt.Errorf("temperature must be >= 0, got %v", c.Temperature)
	}
	if c.MaxTurns <= 0 {
		c.MaxTurns = def.MaxTurns
	}
	if c.MaxSelfCorrections <= 0 {
		c.MaxSelfCorrections = def.MaxSelfCorrections
	}
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = def.HistoryWindow
	}
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = def.MaxWorkers
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = def.CallTimeout
	}
	if c.CodeTimeout <= 0 {
		c.CodeTimeout = def.CodeTimeout
	}
	if len(c.Interpreter) == 0 {
		c.Interpreter = def.Interpreter
	}
	if c.Addr == "" {
		c.Addr = def.Addr
	}
	c.Store = strings.ToLower(strings.TrimSpace(c.Store))
	switch c.Store {
	case "":
		c.Store = "file"
		fallthrough
	case "file":
		if c.StorePath == "" {
			c.StorePath = filepath.Join(".toolrelay", "sessions")
		}
	case "sqlite":
		if c.StorePath == "" {
			c.StorePath = filepath.Join(".toolrelay", "messages.db")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown store %q (want file, sqlite or memory)", c.Store)
	}
	if c.StorePath != "" && !filepath.IsAbs(c.StorePath) {
		c.StorePath = filepath.Join(c.Workspace, c.StorePath)
	}
	if c.TelemetryPath != "" && !filepath.IsAbs(c.TelemetryPath) {
		c.TelemetryPath = filepath.Join(c.Workspace, c.TelemetryPath)
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text":
		c.LogFormat = "text"
	case "json":
		c.LogFormat = "json"
	default:
		return fmt.Errorf("unknown log format %q (want text or json)", c.LogFormat)
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	return nil
}
