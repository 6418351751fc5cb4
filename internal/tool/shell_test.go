package tool

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBashCapturesOutput(t *testing.T) {
	tctx := newTestContext(t)

	res, err := runTool(t, NewBashTool(), tctx, map[string]any{"command": "echo hello world"})
	require.NoError(t, err)
	assert.Contains(t, res.Output, "hello world")
	assert.Equal(t, 0, res.Metadata["exit"])
}

func TestBashNonZeroExit(t *testing.T) {
	tctx := newTestContext(t)

	res, err := runTool(t, NewBashTool(), tctx, map[string]any{"command": "exit 3"})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Metadata["exit"])
}

func TestBashRunsInWorkDir(t *testing.T) {
	tctx := newTestContext(t)

	res, err := runTool(t, NewBashTool(), tctx, map[string]any{"command": "pwd"})
	require.NoError(t, err)
	assert.Contains(t, res.Output, tctx.WorkDir)
}

func TestBashInvalidSyntax(t *testing.T) {
	tctx := newTestContext(t)

	_, err := runTool(t, NewBashTool(), tctx, map[string]any{"command": "echo 'unterminated"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid shell syntax")
}

func TestBashTimeout(t *testing.T) {
	tctx := newTestContext(t)

	start := time.Now()
	res, err := runTool(t, NewBashTool(), tctx, map[string]any{"command": "sleep 5", "timeout": 200})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 3*time.Second)
	assert.Equal(t, true, res.Metadata["timedOut"])
	assert.Contains(t, res.Output, "timed out")
}

func TestBashBackgroundGoesToProcessTable(t *testing.T) {
	tctx := newTestContext(t)

	res, err := runTool(t, NewBashTool(), tctx, map[string]any{"command": "sleep 10 &"})
	require.NoError(t, err)
	assert.Contains(t, res.Output, "background process")

	id, ok := res.Metadata["process"].(string)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(id, "proc_"))

	p, ok := tctx.Processes.Get(id)
	require.True(t, ok)
	running, _, _ := p.Snapshot()
	assert.True(t, running)

	require.NoError(t, tctx.Processes.Kill(id))
	_, ok = tctx.Processes.Get(id)
	assert.False(t, ok)
}

func TestProcessPollReturnsOutput(t *testing.T) {
	tctx := newTestContext(t)

	res, err := runTool(t, NewBashTool(), tctx, map[string]any{
		"command":    "echo background says hi",
		"background": true,
	})
	require.NoError(t, err)
	id := res.Metadata["process"].(string)

	// Give the short-lived process a moment to write and exit.
	deadline := time.Now().Add(3 * time.Second)
	var output string
	for time.Now().Before(deadline) {
		p, ok := tctx.Processes.Get(id)
		require.True(t, ok)
		running, _, out := p.Snapshot()
		if !running {
			output = out
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	assert.Contains(t, output, "background says hi")

	poll, err := runTool(t, NewProcessTool(), tctx, map[string]any{"action": "poll", "id": id})
	require.NoError(t, err)
	assert.Contains(t, poll.Output, "background says hi")
	assert.Equal(t, false, poll.Metadata["running"])
}

func TestProcessListAndKill(t *testing.T) {
	tctx := newTestContext(t)

	p, err := tctx.Processes.Spawn("sleep 30", tctx.WorkDir)
	require.NoError(t, err)

	list, err := runTool(t, NewProcessTool(), tctx, map[string]any{"action": "list"})
	require.NoError(t, err)
	assert.Contains(t, list.Output, p.ID)
	assert.Contains(t, list.Output, "running")

	_, err = runTool(t, NewProcessTool(), tctx, map[string]any{"action": "kill", "id": p.ID})
	require.NoError(t, err)

	empty, err := runTool(t, NewProcessTool(), tctx, map[string]any{"action": "list"})
	require.NoError(t, err)
	assert.Contains(t, empty.Output, "No background processes")
}

func TestProcessUnknownAction(t *testing.T) {
	tctx := newTestContext(t)

	_, err := runTool(t, NewProcessTool(), tctx, map[string]any{"action": "dance"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown action")
}

func TestReleaseAllKillsEverything(t *testing.T) {
	tctx := newTestContext(t)

	_, err := tctx.Processes.Spawn("sleep 30", tctx.WorkDir)
	require.NoError(t, err)
	_, err = tctx.Processes.Spawn("sleep 30", tctx.WorkDir)
	require.NoError(t, err)
	require.Len(t, tctx.Processes.List(), 2)

	tctx.Processes.ReleaseAll()
	assert.Empty(t, tctx.Processes.List())
}

func TestBoundedProcessOutput(t *testing.T) {
	tctx := newTestContext(t)

	// Emits well over the 64KB cap.
	p, err := tctx.Processes.Spawn("yes 0123456789abcdef | head -c 200000", tctx.WorkDir)
	require.NoError(t, err)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		running, _, _ := p.Snapshot()
		if !running {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	_, _, out := p.Snapshot()
	assert.LessOrEqual(t, len(out), maxProcessOutput)
	assert.NotEmpty(t, out)
}
