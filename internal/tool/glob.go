package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

const globDescription = `Fast file pattern matching tool.

Usage:
- Supports glob patterns like "**/*.go" or "src/**/*.ts"
- Returns matching file paths sorted by modification time, newest first
- Searches from the working directory unless path is given`

const maxGlobResults = 100

// GlobTool implements file pattern matching.
type GlobTool struct{}

// GlobInput represents the input for the glob tool.
type GlobInput struct {
	Pattern string `json:"pattern"`
	Path    string `json:"path,omitempty"`
}

// NewGlobTool creates a new glob tool.
func NewGlobTool() *GlobTool { return &GlobTool{} }

func (t *GlobTool) ID() string          { return "glob" }
func (t *GlobTool) Description() string { return globDescription }

func (t *GlobTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params GlobInput
	if err := decodeInput(input, &params); err != nil {
		return nil, err
	}
	if params.Pattern == "" {
		return nil, fmt.Errorf("pattern is required")
	}

	root := ""
	if toolCtx != nil {
		root = toolCtx.WorkDir
	}
	if params.Path != "" {
		root = resolvePath(params.Path, toolCtx)
	}
	if root == "" {
		root = "."
	}

	matches, err := doublestar.Glob(os.DirFS(root), params.Pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}

	// Skip common dependency and VCS directories.
	filtered := matches[:0]
	for _, m := range matches {
		if isIgnoredPath(m) {
			continue
		}
		filtered = append(filtered, m)
	}
	matches = filtered

	sortByModTime(root, matches)

	truncated := false
	if len(matches) > maxGlobResults {
		matches = matches[:maxGlobResults]
		truncated = true
	}

	var sb strings.Builder
	for _, m := range matches {
		sb.WriteString(filepath.Join(root, m))
		sb.WriteString("\n")
	}
	if len(matches) == 0 {
		sb.WriteString("No files found")
	}
	if truncated {
		sb.WriteString(fmt.Sprintf("\n(Showing first %d matches)", maxGlobResults))
	}

	return &Result{
		Title:  fmt.Sprintf("Found %d files", len(matches)),
		Output: sb.String(),
		Metadata: map[string]any{
			"pattern":   params.Pattern,
			"count":     len(matches),
			"truncated": truncated,
		},
	}, nil
}

func isIgnoredPath(path string) bool {
	for _, part := range strings.Split(path, "/") {
		switch part {
		case ".git", "node_modules", "vendor", "__pycache__", ".venv", "dist", "target":
			return true
		}
	}
	return false
}

func sortByModTime(root string, paths []string) {
	mtimes := make(map[string]int64, len(paths))
	for _, p := range paths {
		if info, err := fs.Stat(os.DirFS(root), p); err == nil {
			mtimes[p] = info.ModTime().UnixNano()
		}
	}
	sort.SliceStable(paths, func(i, j int) bool {
		return mtimes[paths[i]] > mtimes[paths[j]]
	})
}
