package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/openloop-ai/openloop/internal/event"
)

const writeDescription = `Writes content to a file on the local filesystem.

Usage:
- Relative paths are resolved against the working directory
- This tool will overwrite existing files
- Parent directories will be created if they don't exist
- ALWAYS prefer editing existing files over creating new ones`

// WriteTool implements file writing.
type WriteTool struct{}

// WriteInput represents the input for the write tool.
type WriteInput struct {
	FilePath string `json:"path"`
	Content  string `json:"content"`
}

// NewWriteTool creates a new write tool.
func NewWriteTool() *WriteTool { return &WriteTool{} }

func (t *WriteTool) ID() string          { return "write" }
func (t *WriteTool) Description() string { return writeDescription }

func (t *WriteTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params WriteInput
	if err := decodeInput(input, &params); err != nil {
		return nil, err
	}
	if params.FilePath == "" {
		return nil, fmt.Errorf("path is required")
	}

	path := resolvePath(params.FilePath, toolCtx)

	// Keep a diff against the previous content for the metadata stream.
	before := ""
	if old, err := os.ReadFile(path); err == nil {
		before = string(old)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(params.Content), 0644); err != nil {
		return nil, fmt.Errorf("failed to write file: %w", err)
	}

	baseDir := ""
	if toolCtx != nil {
		baseDir = toolCtx.WorkDir
	}
	diff, additions, deletions := fileDiff(path, before, params.Content, baseDir)

	if toolCtx != nil && toolCtx.SessionID != "" {
		event.Publish(event.Event{
			Type: event.FileEdited,
			Data: event.FileEditedData{SessionID: toolCtx.SessionID, File: path},
		})
	}

	return &Result{
		Title: fmt.Sprintf("Wrote %s", filepath.Base(path)),
		Output: fmt.Sprintf("Successfully wrote %d bytes to %s",
			len(params.Content), path),
		Metadata: map[string]any{
			"file":      path,
			"bytes":     len(params.Content),
			"diff":      diff,
			"additions": additions,
			"deletions": deletions,
		},
	}, nil
}
