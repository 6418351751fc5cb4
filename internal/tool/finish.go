package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

const finishDescription = `Delivers the final output of an autonomous run.

Usage:
- Call only when every checklist item is completed
- The text argument becomes the run's final output`

// FinishTool is the designated final-output tool. The turn controller's
// completion gate decides whether a call to it may execute; the tool
// itself just surfaces the text.
type FinishTool struct{}

// FinishInput represents the input for the finish tool.
type FinishInput struct {
	Text string `json:"text"`
}

// NewFinishTool creates a new finish tool.
func NewFinishTool() *FinishTool { return &FinishTool{} }

func (t *FinishTool) ID() string          { return "finish" }
func (t *FinishTool) Description() string { return finishDescription }

func (t *FinishTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params FinishInput
	if err := decodeInput(input, &params); err != nil {
		return nil, err
	}
	if strings.TrimSpace(params.Text) == "" {
		return nil, fmt.Errorf("text is required")
	}
	return &Result{
		Title:  "Final output",
		Output: params.Text,
	}, nil
}
