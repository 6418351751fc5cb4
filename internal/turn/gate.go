package turn

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/openloop-ai/openloop/internal/logging"
	"github.com/openloop-ai/openloop/internal/tool"
	"github.com/openloop-ai/openloop/pkg/types"
)

// completionGate rejects the designated final-output call in autonomous
// mode while the checklist artifact still has incomplete items. Outside
// autonomous mode, or with no final-output tool named, it never blocks.
//
// The checklist is cached between reads; an fsnotify watch on the artifact
// directory invalidates the cache when the file changes. Without a working
// watcher the gate falls back to reading the file on every check.
type completionGate struct {
	enabled  bool
	toolName string
	path     string

	mu      sync.Mutex
	valid   bool
	cached  types.Checklist
	watcher *fsnotify.Watcher
}

func newCompletionGate(cfg types.RuntimeConfig, workDir string) *completionGate {
	g := &completionGate{
		enabled:  cfg.Autonomous && cfg.FinalOutputTool != "",
		toolName: cfg.FinalOutputTool,
		path:     tool.ChecklistPath(workDir),
	}
	if !g.enabled {
		return g
	}

	log := logging.For("turn")
	dir := filepath.Dir(g.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		log.Warn().Err(err).Str("dir", dir).Msg("checklist dir unavailable, gate reads uncached")
		return g
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn().Err(err).Msg("fsnotify unavailable, gate reads uncached")
		return g
	}
	if err := watcher.Add(dir); err != nil {
		log.Warn().Err(err).Str("dir", dir).Msg("checklist watch failed, gate reads uncached")
		watcher.Close()
		return g
	}
	g.watcher = watcher
	go g.watch()
	return g
}

func (g *completionGate) watch() {
	for {
		select {
		case _, ok := <-g.watcher.Events:
			if !ok {
				return
			}
			g.invalidate()
		case _, ok := <-g.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// Blocks reports whether call must be rejected, and how many checklist
// items are still open.
func (g *completionGate) Blocks(call types.ToolCall) (bool, int) {
	if !g.enabled || !strings.EqualFold(call.Name, g.toolName) {
		return false, 0
	}
	open := len(g.checklist().Incomplete())
	return open > 0, open
}

func (g *completionGate) checklist() types.Checklist {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.watcher != nil && g.valid {
		return g.cached
	}
	list, err := tool.ReadChecklist(g.path)
	if err != nil {
		log := logging.For("turn")
		log.Warn().Err(err).Str("path", g.path).Msg("checklist unreadable")
		return types.Checklist{}
	}
	g.cached = list
	g.valid = true
	return list
}

func (g *completionGate) invalidate() {
	g.mu.Lock()
	g.valid = false
	g.mu.Unlock()
}

func (g *completionGate) Close() {
	if g.watcher != nil {
		g.watcher.Close()
	}
}
