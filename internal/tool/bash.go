package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"syscall"
	"time"

	"mvdan.cc/sh/v3/syntax"
)

const (
	DefaultBashTimeout = 120 * time.Second
	MaxBashTimeout     = 10 * time.Minute
	MaxOutputLength    = 30000
)

const bashDescription = `Executes a shell command.

Usage:
- Command is required
- Optional timeout in milliseconds (max 600000)
- Output is captured from stdout and stderr
- A command ending in "&" (or background: true) is spawned into the
  background-process table and tracked by the process tool
- Commands run with a process group for proper cleanup`

// BashTool implements shell command execution.
type BashTool struct {
	shell string
}

// BashInput represents the input for the bash tool.
type BashInput struct {
	Command    string `json:"command"`
	Timeout    int    `json:"timeout,omitempty"` // milliseconds
	Background bool   `json:"background,omitempty"`
}

// NewBashTool creates a new bash tool.
func NewBashTool() *BashTool {
	return &BashTool{shell: shellPath()}
}

func shellPath() string {
	if s := os.Getenv("SHELL"); s != "" {
		// Exclude shells with incompatible -c semantics.
		if !strings.HasSuffix(s, "/fish") && !strings.HasSuffix(s, "/nu") {
			return s
		}
	}
	if runtime.GOOS == "darwin" {
		return "/bin/zsh"
	}
	if bash, err := exec.LookPath("bash"); err == nil {
		return bash
	}
	return "/bin/sh"
}

func (t *BashTool) ID() string          { return "bash" }
func (t *BashTool) Description() string { return bashDescription }

func (t *BashTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params BashInput
	if err := decodeInput(input, &params); err != nil {
		return nil, err
	}
	if strings.TrimSpace(params.Command) == "" {
		return nil, fmt.Errorf("command is required")
	}

	background, err := analyzeCommand(params.Command)
	if err != nil {
		return nil, fmt.Errorf("invalid shell syntax: %w", err)
	}
	background = background || params.Background

	workDir := ""
	if toolCtx != nil {
		workDir = toolCtx.WorkDir
	}

	if background {
		if toolCtx == nil || toolCtx.Processes == nil {
			return nil, fmt.Errorf("no process table available for background command")
		}
		command := strings.TrimSuffix(strings.TrimSpace(params.Command), "&")
		proc, err := toolCtx.Processes.Spawn(command, workDir)
		if err != nil {
			return nil, err
		}
		return &Result{
			Title:  fmt.Sprintf("Started %s", proc.ID),
			Output: fmt.Sprintf("Started background process %s (pid %d). Poll it with the process tool.", proc.ID, proc.PID),
			Metadata: map[string]any{
				"process": proc.ID,
				"pid":     proc.PID,
			},
		}, nil
	}

	timeout := DefaultBashTimeout
	if params.Timeout > 0 {
		timeout = time.Duration(params.Timeout) * time.Millisecond
		if timeout > MaxBashTimeout {
			timeout = MaxBashTimeout
		}
	}

	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, t.shell, "-c", params.Command)
	cmd.Dir = workDir
	cmd.Env = os.Environ()
	if runtime.GOOS != "windows" {
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	}

	output, err := cmd.CombinedOutput()
	timedOut := cmdCtx.Err() == context.DeadlineExceeded

	result := string(output)
	if len(result) > MaxOutputLength {
		result = result[:MaxOutputLength] + "\n\n(Output truncated)"
	}
	if timedOut {
		result += fmt.Sprintf("\n\n(Command timed out after %v)", timeout)
	}

	exitCode := 0
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	if err != nil && !timedOut {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			result += fmt.Sprintf("\n\nError: %v", err)
		}
	}

	return &Result{
		Title:  "Run command",
		Output: result,
		Metadata: map[string]any{
			"exit":     exitCode,
			"timedOut": timedOut,
		},
	}, nil
}

// analyzeCommand validates shell syntax and reports whether the command is
// a single statement ending in "&".
func analyzeCommand(command string) (background bool, err error) {
	parser := syntax.NewParser()
	file, err := parser.Parse(strings.NewReader(command), "")
	if err != nil {
		return false, err
	}
	if len(file.Stmts) == 1 && file.Stmts[0].Background {
		return true, nil
	}
	return false, nil
}
