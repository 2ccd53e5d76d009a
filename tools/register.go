package tools

import (
	"time"

	"github.com/lexcodex/toolrelay/framework"
)

// Options tunes the built-in tool set.
type Options struct {
	Interpreter []string
	CodeTimeout time.Duration
	Backup      bool
	Runner      CommandRunner
}

// Builtin returns the default tools bound to ws.
func Builtin(ws *Workspace, opts Options) []framework.Tool {
	return []framework.Tool{
		&ReadFileTool{Workspace: ws},
		&WriteFileTool{Workspace: ws, Backup: opts.Backup},
		&ListDirectoryTool{Workspace: ws},
		&SearchFilesTool{Workspace: ws},
		&RunCodeTool{Workspace: ws, Interpreter: opts.Interpreter, Timeout: opts.CodeTimeout, Runner: opts.Runner},
	}
}

// Register adds the built-in tools for root to registry.
func Register(registry *framework.ToolRegistry, root string, opts Options) (*Workspace, error) {
	ws, err := NewWorkspace(root)
	if err != nil {
		return nil, err
	}
	for _, tool := range Builtin(ws, opts) {
		if err := registry.Register(tool); err != nil {
			return nil, err
		}
	}
	return ws, nil
}
