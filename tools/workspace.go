package tools

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideWorkspace is returned for paths that resolve outside the root.
var ErrOutsideWorkspace = errors.New("path escapes workspace")

// Workspace confines tool file access to a root directory.
type Workspace struct {
	Root string
}

// NewWorkspace resolves root to an absolute path, creating it if needed.
func NewWorkspace(root string) (*Workspace, error) {
	if strings.TrimSpace(root) == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	return &Workspace{Root: filepath.Clean(abs)}, nil
}

// Resolve maps a model-supplied path onto the workspace. Relative paths are
// joined to the root; absolute paths must already be inside it.
func (w *Workspace) Resolve(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" || path == "." {
		return w.Root, nil
	}
	var full string
	if filepath.IsAbs(path) {
		full = filepath.Clean(path)
	} else {
		full = filepath.Join(w.Root, path)
	}
	rel, err := filepath.Rel(w.Root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideWorkspace, path)
	}
	return full, nil
}

// Relative renders full relative to the root for display.
func (w *Workspace) Relative(full string) string {
	rel, err := filepath.Rel(w.Root, full)
	if err != nil {
		return full
	}
	return filepath.ToSlash(rel)
}
