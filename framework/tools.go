package framework

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
)

// ErrToolNotFound is returned when a registry lookup misses.
var ErrToolNotFound = errors.New("tool not found")

// Tool defines a capability the model may invoke. The metadata doubles as a
// schema that LLMs can reason about when deciding which tool to call.
type Tool interface {
	Name() string
	Description() string
	Parameters() []ToolParameter
	Execute(ctx context.Context, args map[string]interface{}) (*ToolResult, error)
}

// ToolParameter describes an argument the tool accepts.
type ToolParameter struct {
	Name        string
	Type        string
	Description string
	Required    bool
	Default     interface{}
}

// ToolResult is returned by every tool execution.
type ToolResult struct {
	Success  bool
	Data     map[string]interface{}
	Error    string
	Metadata map[string]interface{}
}

type registeredTool struct {
	tool   Tool
	schema *jsonschema.Resolved
}

// ToolRegistry maintains tools and their compiled argument schemas. It is
// populated at startup and shared read-only by every conversation.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]registeredTool
}

// NewToolRegistry builds a registry instance.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools: make(map[string]registeredTool),
	}
}

// Register adds a tool to the registry.
func (r *ToolRegistry) Register(tool Tool) error {
	if tool == nil || tool.Name() == "" {
		return errors.New("tool must have a name")
	}
	schema, err := compileParameters(tool.Parameters())
	if err != nil {
		return fmt.Errorf("tool %s: %w", tool.Name(), err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name()]; exists {
		return fmt.Errorf("tool %s already registered", tool.Name())
	}
	r.tools[tool.Name()] = registeredTool{tool: tool, schema: schema}
	return nil
}

// Get fetches a tool by name.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.tools[name]
	return entry.tool, ok
}

// Validate checks args against the tool's parameter schema.
func (r *ToolRegistry) Validate(name string, args map[string]interface{}) error {
	r.mu.RLock()
	entry, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	if entry.schema == nil {
		return nil
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	return entry.schema.Validate(args)
}

// All returns all registered tools sorted by name.
func (r *ToolRegistry) All() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		res = append(res, t.tool)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name() < res[j].Name() })
	return res
}

// Names lists registered tool names in sorted order.
func (r *ToolRegistry) Names() []string {
	tools := r.All()
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name()
	}
	return names
}

// ParameterSchema converts tool parameters into a JSON Schema object.
func ParameterSchema(params []ToolParameter) *jsonschema.Schema {
	schema := &jsonschema.Schema{
		Type:       "object",
		Properties: make(map[string]*jsonschema.Schema, len(params)),
	}
	for _, p := range params {
		prop := &jsonschema.Schema{Description: p.Description}
		if p.Type != "" {
			prop.Type = p.Type
		}
		schema.Properties[p.Name] = prop
		if p.Required {
			schema.Required = append(schema.Required, p.Name)
		}
	}
	return schema
}

func compileParameters(params []ToolParameter) (*jsonschema.Resolved, error) {
	if len(params) == 0 {
		return nil, nil
	}
	resolved, err := ParameterSchema(params).Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("compile parameter schema: %w", err)
	}
	return resolved, nil
}
