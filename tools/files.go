package tools

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/lexcodex/toolrelay/framework"
)

var errBinaryFile = errors.New("binary file detected")

// ReadFileTool reads text files, optionally a line range.
type ReadFileTool struct {
	Workspace *Workspace
}

func (t *ReadFileTool) Name() string { return "read_file" }
func (t *ReadFileTool) Description() string {
	return "Reads a UTF-8 text file. Optional start_line and end_line (1-indexed, inclusive) select a range."
}
func (t *ReadFileTool) Parameters() []framework.ToolParameter {
	return []framework.ToolParameter{
		{Name: "path", Type: "string", Description: "File path relative to the workspace", Required: true},
		{Name: "start_line", Type: "integer", Description: "First line to return"},
		{Name: "end_line", Type: "integer", Description: "Last line to return"},
	}
}
func (t *ReadFileTool) Execute(ctx context.Context, args map[string]interface{}) (*framework.ToolResult, error) {
	rel := stringArg(args, "path")
	path, err := t.Workspace.Resolve(rel)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("file not found: %s", rel)
	}
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("not a file: %s", rel)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !isText(data) {
		return nil, errBinaryFile
	}
	lines := strings.SplitAfter(string(data), "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	total := len(lines)
	start, end := intArg(args, "start_line", 1), intArg(args, "end_line", total)
	if start < 1 {
		start = 1
	}
	if end > total {
		end = total
	}
	content := ""
	if start <= end {
		content = strings.Join(lines[start-1:end], "")
	}
	return &framework.ToolResult{
		Success: true,
		Data: map[string]interface{}{
			"path":        t.Workspace.Relative(path),
			"content":     content,
			"total_lines": total,
			"size":        info.Size(),
		},
	}, nil
}

// WriteFileTool writes or appends text, creating parent directories.
type WriteFileTool struct {
	Workspace *Workspace
	Backup    bool
	lock      FileLock
}

func (t *WriteFileTool) Name() string { return "write_file" }
func (t *WriteFileTool) Description() string {
	return "Writes content to a file, creating directories as needed. mode is write (default) or append."
}
func (t *WriteFileTool) Parameters() []framework.ToolParameter {
	return []framework.ToolParameter{
		{Name: "path", Type: "string", Description: "File path relative to the workspace"},
		{Name: "file_path", Type: "string", Description: "Alias for path"},
		{Name: "content", Type: "string", Description: "Text to write", Required: true},
		{Name: "mode", Type: "string", Description: "write or append", Default: "write"},
	}
}
func (t *WriteFileTool) Execute(ctx context.Context, args map[string]interface{}) (*framework.ToolResult, error) {
	rel := stringArg(args, "path")
	if rel == "" {
		rel = stringArg(args, "file_path")
	}
	if rel == "" {
		return nil, errors.New("missing required parameter: path or file_path")
	}
	path, err := t.Workspace.Resolve(rel)
	if err != nil {
		return nil, err
	}
	content := decodeLiteralEscapes(stringArg(args, "content"))
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if strings.EqualFold(stringArg(args, "mode"), "append") {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	err = t.lock.Run(func() error {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if t.Backup {
			if _, err := os.Stat(path); err == nil {
				if err := copyFile(path, path+".bak"); err != nil {
					return err
				}
			}
		}
		f, err := os.OpenFile(path, flags, 0o644)
		if err != nil {
			return err
		}
		if _, err := f.WriteString(content); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	})
	if err != nil {
		return nil, err
	}
	return &framework.ToolResult{
		Success: true,
		Data: map[string]interface{}{
			"path":          t.Workspace.Relative(path),
			"bytes_written": len(content),
		},
	}, nil
}

// ListDirectoryTool lists a directory, directories first.
type ListDirectoryTool struct {
	Workspace *Workspace
}

func (t *ListDirectoryTool) Name() string { return "list_directory" }
func (t *ListDirectoryTool) Description() string {
	return "Lists files and directories. Set recursive to walk subdirectories and include_hidden to show dotfiles."
}
func (t *ListDirectoryTool) Parameters() []framework.ToolParameter {
	return []framework.ToolParameter{
		{Name: "path", Type: "string", Description: "Directory relative to the workspace", Default: "."},
		{Name: "recursive", Type: "boolean", Description: "Walk subdirectories"},
		{Name: "include_hidden", Type: "boolean", Description: "Include dotfiles"},
	}
}
func (t *ListDirectoryTool) Execute(ctx context.Context, args map[string]interface{}) (*framework.ToolResult, error) {
	rel := stringArg(args, "path")
	dir, err := t.Workspace.Resolve(rel)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("directory not found: %s", rel)
	}
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", rel)
	}
	recursive, hidden := boolArg(args, "recursive"), boolArg(args, "include_hidden")

	type entry struct {
		Name string `json:"name"`
		Path string `json:"path"`
		Type string `json:"type"`
		Size int64  `json:"size,omitempty"`
	}
	var entries []entry
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if path == dir {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !hidden && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		rel, _ := filepath.Rel(dir, path)
		e := entry{Name: d.Name(), Path: filepath.ToSlash(rel), Type: "file"}
		if d.IsDir() {
			e.Type = "directory"
		} else if fi, err := d.Info(); err == nil {
			e.Size = fi.Size()
		}
		entries = append(entries, e)
		if d.IsDir() && !recursive {
			return fs.SkipDir
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if (entries[i].Type == "directory") != (entries[j].Type == "directory") {
			return entries[i].Type == "directory"
		}
		return strings.ToLower(entries[i].Path) < strings.ToLower(entries[j].Path)
	})
	items := make([]interface{}, 0, len(entries))
	for _, e := range entries {
		items = append(items, map[string]interface{}{"name": e.Name, "path": e.Path, "type": e.Type, "size": e.Size})
	}
	return &framework.ToolResult{
		Success: true,
		Data: map[string]interface{}{
			"path":  t.Workspace.Relative(dir),
			"items": items,
			"count": len(items),
		},
	}, nil
}

// SearchFilesTool greps workspace files for a substring.
type SearchFilesTool struct {
	Workspace  *Workspace
	MaxMatches int
}

func (t *SearchFilesTool) Name() string        { return "search_files" }
func (t *SearchFilesTool) Description() string { return "Searches text files in the workspace for a substring." }
func (t *SearchFilesTool) Parameters() []framework.ToolParameter {
	return []framework.ToolParameter{
		{Name: "pattern", Type: "string", Description: "Text to look for", Required: true},
		{Name: "path", Type: "string", Description: "Directory to search", Default: "."},
	}
}
func (t *SearchFilesTool) Execute(ctx context.Context, args map[string]interface{}) (*framework.ToolResult, error) {
	dir, err := t.Workspace.Resolve(stringArg(args, "path"))
	if err != nil {
		return nil, err
	}
	pattern := stringArg(args, "pattern")
	if pattern == "" {
		return nil, errors.New("pattern must not be empty")
	}
	limit := t.MaxMatches
	if limit <= 0 {
		limit = 200
	}
	var matches []interface{}
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return fs.SkipDir
			}
			return nil
		}
		if len(matches) >= limit {
			return fs.SkipAll
		}
		file, err := os.Open(path)
		if err != nil {
			return nil
		}
		defer file.Close()
		scanner := bufio.NewScanner(file)
		line := 0
		for scanner.Scan() {
			line++
			text := scanner.Text()
			if strings.IndexByte(text, 0) >= 0 {
				return nil
			}
			if strings.Contains(text, pattern) {
				matches = append(matches, map[string]interface{}{
					"file":    t.Workspace.Relative(path),
					"line":    line,
					"content": strings.TrimSpace(text),
				})
				if len(matches) >= limit {
					return fs.SkipAll
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &framework.ToolResult{Success: true, Data: map[string]interface{}{"matches": matches, "count": len(matches)}}, nil
}

// decodeLiteralEscapes turns a double-escaped payload (literal \n and no real
// newline) back into text. Content with real newlines is left alone.
func decodeLiteralEscapes(s string) string {
	if strings.Contains(s, "\n") || !strings.Contains(s, `\n`) {
		return s
	}
	return strings.NewReplacer(`\n`, "\n", `\t`, "\t", `\r`, "\r", `\"`, `"`, `\'`, "'").Replace(s)
}

func stringArg(args map[string]interface{}, key string) string {
	v, ok := args[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func intArg(args map[string]interface{}, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return def
}

func boolArg(args map[string]interface{}, key string) bool {
	switch v := args[key].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true")
	}
	return false
}

func isText(data []byte) bool {
	for _, b := range data {
		if b == 0 {
			return false
		}
	}
	return true
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = out.ReadFrom(in)
	return err
}

// FileLock serialises writes issued by parallel batches.
type FileLock struct {
	mu sync.Mutex
}

func (l *FileLock) Run(fn func() error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fn()
}
