package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

const researchDescription = `Tracks research questions spawned during a session.

Usage:
- action "start" with topic registers a pending research question
- action "resolve" with id marks it answered
- action "list" shows unresolved questions`

// ResearchTool exposes the pending-research tracker to the model.
type ResearchTool struct{}

// ResearchInput represents the input for the research tool.
type ResearchInput struct {
	Action string `json:"action"`
	Topic  string `json:"topic,omitempty"`
	ID     string `json:"id,omitempty"`
}

// NewResearchTool creates a new research tool.
func NewResearchTool() *ResearchTool { return &ResearchTool{} }

func (t *ResearchTool) ID() string          { return "research" }
func (t *ResearchTool) Description() string { return researchDescription }

func (t *ResearchTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params ResearchInput
	if err := decodeInput(input, &params); err != nil {
		return nil, err
	}
	if toolCtx == nil || toolCtx.Research == nil {
		return nil, fmt.Errorf("no research tracker available")
	}
	tracker := toolCtx.Research

	switch params.Action {
	case "start":
		if strings.TrimSpace(params.Topic) == "" {
			return nil, fmt.Errorf("start requires topic")
		}
		id := tracker.Add(params.Topic)
		return &Result{
			Title:  fmt.Sprintf("Research %s started", id),
			Output: fmt.Sprintf("Tracking research question %s: %s", id, params.Topic),
		}, nil

	case "resolve":
		if !tracker.Resolve(params.ID) {
			return nil, fmt.Errorf("no such research question: %s", params.ID)
		}
		return &Result{
			Title:  fmt.Sprintf("Research %s resolved", params.ID),
			Output: fmt.Sprintf("Research question %s marked answered", params.ID),
		}, nil

	case "list":
		pending := tracker.Pending()
		if len(pending) == 0 {
			return &Result{Title: "No open research", Output: "No pending research questions"}, nil
		}
		var sb strings.Builder
		for id, topic := range pending {
			fmt.Fprintf(&sb, "%s: %s\n", id, topic)
		}
		return &Result{Title: fmt.Sprintf("%d open research questions", len(pending)), Output: sb.String()}, nil

	default:
		return nil, fmt.Errorf("unknown action: %q (want start, resolve, or list)", params.Action)
	}
}
