package tool

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openloop-ai/openloop/pkg/types"
)

func newTestContext(t *testing.T) *Context {
	t.Helper()
	return NewContext("test-session", t.TempDir(), nil)
}

func TestDispatchUnknownTool(t *testing.T) {
	d := NewDispatcher(newTestContext(t))

	_, err := d.Dispatch(context.Background(), types.ToolCall{Name: "teleport", Args: map[string]any{}})
	var unknown *UnknownToolError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "teleport", unknown.Name)
}

func TestDispatchClaimsByPriorityOrder(t *testing.T) {
	first := NewBaseTool("dup", "first", func(context.Context, json.RawMessage, *Context) (*Result, error) {
		return &Result{Output: "from first"}, nil
	})
	second := NewBaseTool("dup", "second", func(context.Context, json.RawMessage, *Context) (*Result, error) {
		return &Result{Output: "from second"}, nil
	})
	d := NewDispatcher(newTestContext(t),
		NewCategory("a", first),
		NewCategory("b", second),
	)

	res, err := d.Dispatch(context.Background(), types.ToolCall{Name: "dup", Args: map[string]any{}})
	require.NoError(t, err)
	assert.Equal(t, "from first", res.Output)
}

func TestDispatchExecutionFailureComesBackInResult(t *testing.T) {
	failing := NewBaseTool("boom", "always fails", func(context.Context, json.RawMessage, *Context) (*Result, error) {
		return nil, errors.New("disk on fire")
	})
	d := NewDispatcher(newTestContext(t), NewCategory("x", failing))

	res, err := d.Dispatch(context.Background(), types.ToolCall{Name: "boom", Args: map[string]any{}})
	require.NoError(t, err)
	assert.True(t, res.IsError())
	assert.Contains(t, res.Error, "disk on fire")
}

func TestDispatchNameIsCaseInsensitive(t *testing.T) {
	d := NewDispatcher(newTestContext(t))

	res, err := d.Dispatch(context.Background(), types.ToolCall{Name: "TodoRead", Args: map[string]any{}})
	require.NoError(t, err)
	assert.False(t, res.IsError())
}

func TestDefaultCategoriesCoverBuiltins(t *testing.T) {
	d := NewDispatcher(newTestContext(t))
	for _, name := range []string{
		"read", "write", "edit", "list", "glob", "grep",
		"bash", "process", "webfetch", "browser", "research",
		"todoread", "todowrite", "finish",
	} {
		_, _, ok := d.Lookup(name)
		assert.True(t, ok, "tool %s not claimed by any category", name)
	}
}

func TestDispatcherMovesAttachmentsToContext(t *testing.T) {
	withAttachment := NewBaseTool("snap", "returns an attachment", func(context.Context, json.RawMessage, *Context) (*Result, error) {
		return &Result{
			Output:      "ok",
			Attachments: []Attachment{{Filename: "shot.png", MediaType: "image/png", URL: "data:;base64,"}},
		}, nil
	})
	tctx := newTestContext(t)
	d := NewDispatcher(tctx, NewCategory("x", withAttachment))

	_, err := d.Dispatch(context.Background(), types.ToolCall{Name: "snap", Args: map[string]any{}})
	require.NoError(t, err)

	atts := tctx.TakeAttachments()
	require.Len(t, atts, 1)
	assert.Equal(t, "shot.png", atts[0].Filename)
	assert.Empty(t, tctx.TakeAttachments())
}
