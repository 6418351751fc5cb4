package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/openloop-ai/openloop/pkg/types"
)

const todoreadDescription = `Use this tool to read the session checklist`

const todowriteDescription = `Use this tool to create and manage the session checklist.

Usage:
- Pass the complete item list on every call; it replaces the stored one
- Each item has content and a status: pending, in_progress, or completed
- In autonomous mode the final-output tool stays locked while items are incomplete`

// ChecklistPath returns the workspace checklist artifact location.
func ChecklistPath(workDir string) string {
	return filepath.Join(workDir, ".openloop", "todo.yaml")
}

// ReadChecklist loads the checklist artifact. A missing file is an empty
// checklist, not an error.
func ReadChecklist(path string) (types.Checklist, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return types.Checklist{}, nil
		}
		return types.Checklist{}, err
	}
	var list types.Checklist
	if err := yaml.Unmarshal(data, &list); err != nil {
		return types.Checklist{}, fmt.Errorf("parse checklist: %w", err)
	}
	return list, nil
}

func writeChecklist(path string, list types.Checklist) error {
	data, err := yaml.Marshal(list)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// TodoReadTool reads the session checklist.
type TodoReadTool struct{}

// NewTodoReadTool creates a new todoread tool.
func NewTodoReadTool() *TodoReadTool { return &TodoReadTool{} }

func (t *TodoReadTool) ID() string          { return "todoread" }
func (t *TodoReadTool) Description() string { return todoreadDescription }

func (t *TodoReadTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	if toolCtx == nil {
		return nil, fmt.Errorf("no execution context")
	}
	list, err := ReadChecklist(ChecklistPath(toolCtx.WorkDir))
	if err != nil {
		return nil, err
	}

	if len(list.Items) == 0 {
		return &Result{Title: "0 todos", Output: "Checklist is empty"}, nil
	}

	var sb strings.Builder
	for _, item := range list.Items {
		mark := " "
		switch item.Status {
		case types.TodoInProgress:
			mark = ">"
		case types.TodoCompleted:
			mark = "x"
		}
		fmt.Fprintf(&sb, "[%s] %s %s\n", mark, item.ID, item.Content)
	}
	return &Result{
		Title:  fmt.Sprintf("%d todos (%d open)", len(list.Items), len(list.Incomplete())),
		Output: sb.String(),
		Metadata: map[string]any{
			"items": list.Items,
		},
	}, nil
}

// TodoWriteTool replaces the session checklist.
type TodoWriteTool struct{}

// TodoWriteInput represents the input for the todowrite tool.
type TodoWriteInput struct {
	Todos []types.TodoItem `json:"todos"`
}

// NewTodoWriteTool creates a new todowrite tool.
func NewTodoWriteTool() *TodoWriteTool { return &TodoWriteTool{} }

func (t *TodoWriteTool) ID() string          { return "todowrite" }
func (t *TodoWriteTool) Description() string { return todowriteDescription }

func (t *TodoWriteTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params TodoWriteInput
	if err := decodeInput(input, &params); err != nil {
		return nil, err
	}
	if toolCtx == nil {
		return nil, fmt.Errorf("no execution context")
	}

	for i := range params.Todos {
		if params.Todos[i].ID == "" {
			params.Todos[i].ID = fmt.Sprintf("todo_%03d", i+1)
		}
		switch params.Todos[i].Status {
		case types.TodoPending, types.TodoInProgress, types.TodoCompleted:
		case "":
			params.Todos[i].Status = types.TodoPending
		default:
			return nil, fmt.Errorf("invalid status %q for item %s", params.Todos[i].Status, params.Todos[i].ID)
		}
	}

	list := types.Checklist{Items: params.Todos}
	if err := writeChecklist(ChecklistPath(toolCtx.WorkDir), list); err != nil {
		return nil, fmt.Errorf("write checklist: %w", err)
	}

	return &Result{
		Title:  fmt.Sprintf("%d todos (%d open)", len(list.Items), len(list.Incomplete())),
		Output: fmt.Sprintf("Checklist updated: %d items, %d incomplete", len(list.Items), len(list.Incomplete())),
		Metadata: map[string]any{
			"items": list.Items,
		},
	}, nil
}
