package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"
)

const maxProcessOutput = 64 * 1024

// ProcessTable tracks background processes spawned by tool calls. Entries
// live until explicitly killed or the session is torn down; the table is
// the single writer for all of them.
type ProcessTable struct {
	mu     sync.Mutex
	procs  map[string]*Process
	nextID int
}

// Process is one tracked background process.
type Process struct {
	ID      string
	Command string
	PID     int
	Started time.Time

	mu       sync.Mutex
	cmd      *exec.Cmd
	output   bytes.Buffer
	done     bool
	exitCode int
	waitErr  error
}

// NewProcessTable creates an empty table.
func NewProcessTable() *ProcessTable {
	return &ProcessTable{procs: make(map[string]*Process)}
}

// Spawn starts command in dir and tracks it. Output is captured into a
// bounded buffer readable via Poll.
func (t *ProcessTable) Spawn(command, dir string) (*Process, error) {
	cmd := exec.Command(shellPath(), "-c", command)
	cmd.Dir = dir
	cmd.Env = os.Environ()
	if runtime.GOOS != "windows" {
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	}

	p := &Process{Command: command, Started: time.Now(), cmd: cmd}
	cmd.Stdout = boundedWriter{p}
	cmd.Stderr = boundedWriter{p}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn: %w", err)
	}
	p.PID = cmd.Process.Pid

	t.mu.Lock()
	t.nextID++
	p.ID = fmt.Sprintf("proc_%03d", t.nextID)
	t.procs[p.ID] = p
	t.mu.Unlock()

	go func() {
		err := cmd.Wait()
		p.mu.Lock()
		p.done = true
		p.waitErr = err
		if cmd.ProcessState != nil {
			p.exitCode = cmd.ProcessState.ExitCode()
		}
		p.mu.Unlock()
	}()

	return p, nil
}

// Get returns the tracked process by id.
func (t *ProcessTable) Get(id string) (*Process, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.procs[id]
	return p, ok
}

// List returns all tracked processes in id order.
func (t *ProcessTable) List() []*Process {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Process, 0, len(t.procs))
	for _, p := range t.procs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Kill terminates a process and removes it from the table.
func (t *ProcessTable) Kill(id string) error {
	t.mu.Lock()
	p, ok := t.procs[id]
	if ok {
		delete(t.procs, id)
	}
	t.mu.Unlock()

	if !ok {
		return fmt.Errorf("no such process: %s", id)
	}
	p.kill()
	return nil
}

// ReleaseAll kills every tracked process. Called at session teardown.
func (t *ProcessTable) ReleaseAll() {
	t.mu.Lock()
	procs := make([]*Process, 0, len(t.procs))
	for _, p := range t.procs {
		procs = append(procs, p)
	}
	t.procs = make(map[string]*Process)
	t.mu.Unlock()

	for _, p := range procs {
		p.kill()
	}
}

// Snapshot returns the process status plus captured output so far.
func (p *Process) Snapshot() (running bool, exitCode int, output string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.done, p.exitCode, p.output.String()
}

func (p *Process) kill() {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done || p.cmd.Process == nil {
		return
	}
	pid := p.cmd.Process.Pid
	if runtime.GOOS == "windows" {
		exec.Command("taskkill", "/pid", fmt.Sprint(pid), "/f", "/t").Run()
		return
	}
	syscall.Kill(-pid, syscall.SIGTERM)
	time.Sleep(200 * time.Millisecond)
	p.mu.Lock()
	done = p.done
	p.mu.Unlock()
	if !done {
		syscall.Kill(-pid, syscall.SIGKILL)
	}
}

// boundedWriter appends to the process output buffer, dropping writes once
// the cap is reached.
type boundedWriter struct{ p *Process }

func (w boundedWriter) Write(b []byte) (int, error) {
	w.p.mu.Lock()
	defer w.p.mu.Unlock()
	if room := maxProcessOutput - w.p.output.Len(); room > 0 {
		if len(b) > room {
			w.p.output.Write(b[:room])
		} else {
			w.p.output.Write(b)
		}
	}
	return len(b), nil
}

const processDescription = `Manages background processes started by the bash tool.

Usage:
- action "list" shows tracked processes
- action "poll" returns status and captured output for a process id
- action "kill" terminates a process and releases it`

// ProcessTool exposes the background-process table to the model.
type ProcessTool struct{}

// ProcessInput represents the input for the process tool.
type ProcessInput struct {
	Action string `json:"action"`
	ID     string `json:"id,omitempty"`
}

// NewProcessTool creates a new process tool.
func NewProcessTool() *ProcessTool { return &ProcessTool{} }

func (t *ProcessTool) ID() string          { return "process" }
func (t *ProcessTool) Description() string { return processDescription }

func (t *ProcessTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params ProcessInput
	if err := decodeInput(input, &params); err != nil {
		return nil, err
	}
	if toolCtx == nil || toolCtx.Processes == nil {
		return nil, fmt.Errorf("no process table available")
	}
	table := toolCtx.Processes

	switch params.Action {
	case "list":
		procs := table.List()
		if len(procs) == 0 {
			return &Result{Title: "No background processes", Output: "No background processes running"}, nil
		}
		var sb strings.Builder
		for _, p := range procs {
			running, exit, _ := p.Snapshot()
			state := fmt.Sprintf("exited (%d)", exit)
			if running {
				state = "running"
			}
			fmt.Fprintf(&sb, "%s  pid=%d  %s  %s\n", p.ID, p.PID, state, p.Command)
		}
		return &Result{Title: fmt.Sprintf("%d background processes", len(procs)), Output: sb.String()}, nil

	case "poll":
		p, ok := table.Get(params.ID)
		if !ok {
			return nil, fmt.Errorf("no such process: %s", params.ID)
		}
		running, exit, output := p.Snapshot()
		status := fmt.Sprintf("exited with code %d", exit)
		if running {
			status = "still running"
		}
		return &Result{
			Title:  fmt.Sprintf("%s %s", p.ID, status),
			Output: fmt.Sprintf("[%s] %s\n\n%s", p.ID, status, output),
			Metadata: map[string]any{
				"running": running,
				"exit":    exit,
			},
		}, nil

	case "kill":
		if err := table.Kill(params.ID); err != nil {
			return nil, err
		}
		return &Result{Title: fmt.Sprintf("Killed %s", params.ID), Output: fmt.Sprintf("Process %s terminated", params.ID)}, nil

	default:
		return nil, fmt.Errorf("unknown action: %q (want list, poll, or kill)", params.Action)
	}
}
