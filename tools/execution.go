package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/lexcodex/toolrelay/framework"
)

// DefaultCodeTimeout bounds a run_code invocation when the call sets none.
const DefaultCodeTimeout = 30 * time.Second

// CommandRequest describes one process execution.
type CommandRequest struct {
	Workdir string
	Args    []string
	Env     []string
	Input   string
	Timeout time.Duration
}

// CommandRunner executes processes for tools.
type CommandRunner interface {
	Run(ctx context.Context, req CommandRequest) (stdout, stderr string, err error)
}

// LocalCommandRunner runs processes directly on the host.
type LocalCommandRunner struct{}

func (LocalCommandRunner) Run(ctx context.Context, req CommandRequest) (string, string, error) {
	if len(req.Args) == 0 {
		return "", "", errors.New("command arguments required")
	}
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, req.Args[0], req.Args[1:]...)
	cmd.Dir = req.Workdir
	if len(req.Env) > 0 {
		cmd.Env = append(os.Environ(), req.Env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if req.Input != "" {
		cmd.Stdin = strings.NewReader(req.Input)
	}
	err := cmd.Run()
	if ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("timed out after %s", req.Timeout)
	}
	return stdout.String(), stderr.String(), err
}

// RunCodeTool executes a code snippet with the configured interpreter inside
// the workspace.
type RunCodeTool struct {
	Workspace   *Workspace
	Interpreter []string
	Timeout     time.Duration
	Runner      CommandRunner
}

var scriptInvocation = regexp.MustCompile(`^python3?\s+(\S+\.py)(?:\s+(.*))?$`)

func (t *RunCodeTool) Name() string { return "run_code" }
func (t *RunCodeTool) Description() string {
	return "Runs a Python snippet in the workspace and returns stdout, stderr and the exit code."
}
func (t *RunCodeTool) Parameters() []framework.ToolParameter {
	return []framework.ToolParameter{
		{Name: "code", Type: "string", Description: "Source code to run", Required: true},
		{Name: "timeout", Type: "integer", Description: "Timeout in seconds", Default: 30},
	}
}
func (t *RunCodeTool) Execute(ctx context.Context, args map[string]interface{}) (*framework.ToolResult, error) {
	code := strings.TrimSpace(stringArg(args, "code"))
	if code == "" {
		return nil, errors.New("code must not be empty")
	}
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = DefaultCodeTimeout
	}
	if secs := intArg(args, "timeout", 0); secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}
	interpreter := t.Interpreter
	if len(interpreter) == 0 {
		interpreter = []string{"python3"}
	}

	cmdline := append([]string{}, interpreter...)
	// Models sometimes send a shell invocation instead of code.
	if m := scriptInvocation.FindStringSubmatch(code); m != nil {
		script, err := t.Workspace.Resolve(m[1])
		if err != nil {
			return nil, err
		}
		cmdline = append(cmdline, script)
		cmdline = append(cmdline, strings.Fields(m[2])...)
	} else {
		script, cleanup, err := t.writeScript(code)
		if err != nil {
			return nil, err
		}
		defer cleanup()
		cmdline = append(cmdline, script)
	}

	runner := t.Runner
	if runner == nil {
		runner = LocalCommandRunner{}
	}
	stdout, stderr, err := runner.Run(ctx, CommandRequest{Workdir: t.Workspace.Root, Args: cmdline, Timeout: timeout})
	data := map[string]interface{}{
		"output":    stdout,
		"exit_code": exitCode(err),
	}
	if stderr != "" {
		data["error"] = stderr
	}
	if err != nil {
		msg := fmt.Sprintf("code failed with exit code %d", exitCode(err))
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			msg = fmt.Sprintf("code execution failed: %v", err)
		}
		return &framework.ToolResult{Success: false, Data: data, Error: msg}, nil
	}
	return &framework.ToolResult{Success: true, Data: data}, nil
}

func (t *RunCodeTool) writeScript(code string) (string, func(), error) {
	f, err := os.CreateTemp("", "toolrelay-*.py")
	if err != nil {
		return "", nil, err
	}
	if _, err := f.WriteString(code); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", nil, err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", nil, err
	}
	return f.Name(), func() { os.Remove(f.Name()) }, nil
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
