package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/openloop-ai/openloop/internal/event"
)

const editDescription = `Performs exact string replacements in files.

Usage:
- Relative paths are resolved against the working directory
- The old string must exist in the file (exact match required)
- The new string will replace the old string
- Use replace_all to replace all occurrences
- The edit will FAIL if the old string is not unique (unless using replace_all)`

// EditTool implements file editing.
type EditTool struct{}

// EditInput represents the input for the edit tool.
type EditInput struct {
	FilePath   string `json:"path"`
	OldString  string `json:"old"`
	NewString  string `json:"new"`
	ReplaceAll bool   `json:"replace_all,omitempty"`
}

// NewEditTool creates a new edit tool.
func NewEditTool() *EditTool { return &EditTool{} }

func (t *EditTool) ID() string          { return "edit" }
func (t *EditTool) Description() string { return editDescription }

func (t *EditTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params EditInput
	if err := decodeInput(input, &params); err != nil {
		return nil, err
	}
	if params.OldString == params.NewString {
		return nil, fmt.Errorf("old and new must be different")
	}

	path := resolvePath(params.FilePath, toolCtx)

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	text := string(content)

	var newText string
	var count int

	if params.ReplaceAll {
		count = strings.Count(text, params.OldString)
		if count == 0 {
			return t.fuzzyReplace(text, path, params, toolCtx)
		}
		newText = strings.ReplaceAll(text, params.OldString, params.NewString)
	} else {
		count = strings.Count(text, params.OldString)
		if count == 0 {
			return t.fuzzyReplace(text, path, params, toolCtx)
		}
		if count > 1 {
			return nil, fmt.Errorf("old string appears %d times in file. Use replace_all or provide more context", count)
		}
		newText = strings.Replace(text, params.OldString, params.NewString, 1)
		count = 1
	}

	return t.commit(path, text, newText, count, "", toolCtx)
}

func (t *EditTool) commit(path, before, after string, count int, variant string, toolCtx *Context) (*Result, error) {
	if err := os.WriteFile(path, []byte(after), 0644); err != nil {
		return nil, fmt.Errorf("failed to write file: %w", err)
	}

	baseDir := ""
	if toolCtx != nil {
		baseDir = toolCtx.WorkDir
	}
	diff, additions, deletions := fileDiff(path, before, after, baseDir)

	if toolCtx != nil && toolCtx.SessionID != "" {
		event.Publish(event.Event{
			Type: event.FileEdited,
			Data: event.FileEditedData{SessionID: toolCtx.SessionID, File: path},
		})
	}

	title := fmt.Sprintf("Edited %s", filepath.Base(path))
	if variant != "" {
		title += " (" + variant + ")"
	}
	return &Result{
		Title:  title,
		Output: fmt.Sprintf("Replaced %d occurrence(s)", count),
		Metadata: map[string]any{
			"file":         path,
			"replacements": count,
			"diff":         diff,
			"additions":    additions,
			"deletions":    deletions,
		},
	}, nil
}

// fuzzyReplace attempts to find similar text when exact match fails.
func (t *EditTool) fuzzyReplace(text, path string, params EditInput, toolCtx *Context) (*Result, error) {
	// Line-ending normalization first.
	normalizedOld := normalizeLineEndings(params.OldString)
	normalizedText := normalizeLineEndings(text)

	if strings.Contains(normalizedText, normalizedOld) {
		newText := strings.Replace(normalizedText, normalizedOld, params.NewString, 1)
		return t.commit(path, text, newText, 1, "normalized", toolCtx)
	}

	match, sim := findBestMatch(text, params.OldString)
	if match != "" && sim >= 0.7 {
		newText := strings.Replace(text, match, params.NewString, 1)
		return t.commit(path, text, newText, 1, fmt.Sprintf("fuzzy, %.0f%% similarity", sim*100), toolCtx)
	}

	return nil, fmt.Errorf("old string not found in file. The content may have changed or the string doesn't exist")
}

func normalizeLineEndings(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}

// findBestMatch finds the substring most similar to target.
func findBestMatch(text, target string) (string, float64) {
	lines := strings.Split(text, "\n")
	targetLines := strings.Split(target, "\n")

	if len(targetLines) == 1 {
		bestMatch := ""
		bestSimilarity := 0.0
		for _, line := range lines {
			if sim := similarity(line, target); sim > bestSimilarity {
				bestSimilarity = sim
				bestMatch = line
			}
		}
		return bestMatch, bestSimilarity
	}

	targetLen := len(targetLines)
	bestMatch := ""
	bestSimilarity := 0.0
	for i := 0; i <= len(lines)-targetLen; i++ {
		block := strings.Join(lines[i:i+targetLen], "\n")
		if sim := similarity(block, target); sim > bestSimilarity {
			bestSimilarity = sim
			bestMatch = block
		}
	}
	return bestMatch, bestSimilarity
}

// similarity is normalized Levenshtein similarity.
func similarity(a, b string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	// Length-ratio approximation for extreme inputs.
	if len(a) > 10000 || len(b) > 10000 {
		maxLen := max(len(a), len(b))
		minLen := min(len(a), len(b))
		return float64(minLen) / float64(maxLen)
	}

	dist := levenshtein.ComputeDistance(a, b)
	maxLen := max(len(a), len(b))
	return 1.0 - float64(dist)/float64(maxLen)
}
