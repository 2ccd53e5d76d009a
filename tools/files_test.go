package tools

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexcodex/toolrelay/framework"
	"github.com/lexcodex/toolrelay/framework/toolexec"
)

func newWorkspace(t *testing.T) *Workspace {
	t.Helper()
	ws, err := NewWorkspace(t.TempDir())
	require.NoError(t, err)
	return ws
}

func TestWorkspaceResolveConfinesPaths(t *testing.T) {
	ws := newWorkspace(t)

	p, err := ws.Resolve("src/main.py")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(ws.Root, "src", "main.py"), p)

	p, err = ws.Resolve(filepath.Join(ws.Root, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(ws.Root, "a.txt"), p)

	_, err = ws.Resolve("../escape.txt")
	assert.ErrorIs(t, err, ErrOutsideWorkspace)
	_, err = ws.Resolve("/etc/passwd")
	assert.ErrorIs(t, err, ErrOutsideWorkspace)

	p, err = ws.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, ws.Root, p)
}

func TestReadWriteListFileTools(t *testing.T) {
	ws := newWorkspace(t)
	ctx := context.Background()

	write := &WriteFileTool{Workspace: ws, Backup: true}
	res, err := write.Execute(ctx, map[string]interface{}{
		"path":    "notes/hello.txt",
		"content": "line one\nline two\nline three\n",
	})
	require.NoError(t, err)
	assert.Equal(t, "notes/hello.txt", res.Data["path"])

	_, err = write.Execute(ctx, map[string]interface{}{"file_path": "notes/hello.txt", "content": "line four\n", "mode": "append"})
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(ws.Root, "notes", "hello.txt.bak"))
	assert.NoError(t, err)

	read := &ReadFileTool{Workspace: ws}
	res, err = read.Execute(ctx, map[string]interface{}{"path": "notes/hello.txt"})
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two\nline three\nline four\n", res.Data["content"])
	assert.Equal(t, 4, res.Data["total_lines"])

	res, err = read.Execute(ctx, map[string]interface{}{"path": "notes/hello.txt", "start_line": 2.0, "end_line": 3.0})
	require.NoError(t, err)
	assert.Equal(t, "line two\nline three\n", res.Data["content"])

	_, err = read.Execute(ctx, map[string]interface{}{"path": "missing.txt"})
	assert.ErrorContains(t, err, "file not found")

	list := &ListDirectoryTool{Workspace: ws}
	require.NoError(t, os.WriteFile(filepath.Join(ws.Root, ".hidden"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(ws.Root, "top.txt"), []byte("x"), 0o644))
	res, err = list.Execute(ctx, map[string]interface{}{"path": "."})
	require.NoError(t, err)
	items := res.Data["items"].([]interface{})
	require.Len(t, items, 2)
	assert.Equal(t, "directory", items[0].(map[string]interface{})["type"])
	assert.Equal(t, "top.txt", items[1].(map[string]interface{})["path"])

	res, err = list.Execute(ctx, map[string]interface{}{"path": ".", "recursive": true, "include_hidden": true})
	require.NoError(t, err)
	assert.Equal(t, 5, res.Data["count"])
}

func TestWriteFileDecodesDoubleEscapedContent(t *testing.T) {
	ws := newWorkspace(t)
	write := &WriteFileTool{Workspace: ws}
	_, err := write.Execute(context.Background(), map[string]interface{}{"path": "a.py", "content": `print("a")\nprint("b")`})
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(ws.Root, "a.py"))
	require.NoError(t, err)
	assert.Equal(t, "print(\"a\")\nprint(\"b\")", string(data))

	_, err = write.Execute(context.Background(), map[string]interface{}{"path": "b.py", "content": "s = \"\\n\"\nprint(s)"})
	require.NoError(t, err)
	data, err = os.ReadFile(filepath.Join(ws.Root, "b.py"))
	require.NoError(t, err)
	assert.Equal(t, "s = \"\\n\"\nprint(s)", string(data))
}

func TestWriteFileRejectsEscape(t *testing.T) {
	ws := newWorkspace(t)
	write := &WriteFileTool{Workspace: ws}
	_, err := write.Execute(context.Background(), map[string]interface{}{"path": "../../x", "content": "boom"})
	assert.ErrorIs(t, err, ErrOutsideWorkspace)
	_, err = write.Execute(context.Background(), map[string]interface{}{"content": "boom"})
	assert.ErrorContains(t, err, "path or file_path")
}

func TestSearchFilesTool(t *testing.T) {
	ws := newWorkspace(t)
	require.NoError(t, os.WriteFile(filepath.Join(ws.Root, "code.go"), []byte("package main\n// TODO: fix bug\n"), 0o644))

	tool := &SearchFilesTool{Workspace: ws}
	res, err := tool.Execute(context.Background(), map[string]interface{}{"pattern": "TODO"})
	require.NoError(t, err)
	matches := res.Data["matches"].([]interface{})
	require.Len(t, matches, 1)
	assert.Equal(t, 2, matches[0].(map[string]interface{})["line"])
}

type fakeRunner struct {
	req    CommandRequest
	script string
	stdout string
	err    error
}

func (f *fakeRunner) Run(ctx context.Context, req CommandRequest) (string, string, error) {
	f.req = req
	if data, err := os.ReadFile(req.Args[len(req.Args)-1]); err == nil {
		f.script = string(data)
	}
	return f.stdout, "", f.err
}

func TestRunCodeToolUsesInterpreter(t *testing.T) {
	ws := newWorkspace(t)
	runner := &fakeRunner{stdout: "4\n"}
	tool := &RunCodeTool{Workspace: ws, Interpreter: []string{"python3", "-u"}, Runner: runner}

	res, err := tool.Execute(context.Background(), map[string]interface{}{"code": "print(2 + 2)", "timeout": 5.0})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "4\n", res.Data["output"])
	assert.Equal(t, []string{"python3", "-u"}, runner.req.Args[:2])
	assert.Equal(t, "print(2 + 2)", runner.script)
	assert.Equal(t, ws.Root, runner.req.Workdir)
	assert.Equal(t, "5s", runner.req.Timeout.String())

	res, err = tool.Execute(context.Background(), map[string]interface{}{"code": "python3 scripts/job.py --fast"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, []string{"python3", "-u", filepath.Join(ws.Root, "scripts", "job.py"), "--fast"}, runner.req.Args)

	runner.err = errors.New("exec: not found")
	res, err = tool.Execute(context.Background(), map[string]interface{}{"code": "print(1)"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "not found")
}

func TestRunCodeToolReportsExitCode(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	ws := newWorkspace(t)
	tool := &RunCodeTool{Workspace: ws, Interpreter: []string{"sh"}}

	res, err := tool.Execute(context.Background(), map[string]interface{}{"code": "echo out; echo err >&2; exit 3"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 3, res.Data["exit_code"])
	assert.Equal(t, "out\n", res.Data["output"])
	assert.True(t, strings.Contains(res.Data["error"].(string), "err"))
	assert.Equal(t, "code failed with exit code 3", res.Error)
}

func TestRegisterWiresBuiltinsIntoExecutor(t *testing.T) {
	registry := framework.NewToolRegistry()
	ws, err := Register(registry, t.TempDir(), Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"list_directory", "read_file", "run_code", "search_files", "write_file"}, registry.Names())

	exec := toolexec.New(registry, toolexec.Options{})
	text := "```json\n{\"tool\": \"write_file\", \"params\": {\"path\": \"out/a.txt\", \"content\": \"hello\"}}\n```"
	batch := exec.ExecuteText(context.Background(), text)
	require.Len(t, batch.Results, 1)
	require.True(t, batch.Results[0].Success, batch.Results[0].Error)

	data, err := os.ReadFile(filepath.Join(ws.Root, "out", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	res := exec.Execute(context.Background(), framework.NewCall("read_file", map[string]interface{}{"path": 12.0}, framework.SourceManual))
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "invalid arguments")
}
