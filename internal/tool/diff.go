package tool

import (
	"path/filepath"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// fileDiff renders a patch for one file mutation plus added and removed
// line counts. Header paths are workspace-relative when workDir is known
// so tool output stays stable across machines.
func fileDiff(path, before, after, workDir string) (patch string, added, removed int) {
	if before == after {
		return "", 0, 0
	}

	dmp := diffmatchpatch.New()
	c1, c2, lines := dmp.DiffLinesToChars(before, after)
	segments := dmp.DiffCharsToLines(dmp.DiffMain(c1, c2, false), lines)

	for _, seg := range segments {
		switch seg.Type {
		case diffmatchpatch.DiffInsert:
			added += lineSpan(seg.Text)
		case diffmatchpatch.DiffDelete:
			removed += lineSpan(seg.Text)
		}
	}

	text := dmp.PatchToText(dmp.PatchMake(before, segments))
	if text == "" {
		return "", added, removed
	}

	header := ""
	if path != "" {
		name := path
		if workDir != "" {
			if rel, err := filepath.Rel(workDir, path); err == nil {
				name = rel
			}
		}
		header = "--- " + name + "\n+++ " + name + "\n"
	}
	return header + text, added, removed
}

// lineSpan counts the lines a diff segment touches. A trailing
// unterminated line counts as a full line.
func lineSpan(text string) int {
	if text == "" {
		return 0
	}
	n := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		n++
	}
	return n
}
