package history

import (
	"context"
	"path/filepath"
	"time"

	"github.com/openloop-ai/openloop/internal/event"
	"github.com/openloop-ai/openloop/internal/storage"
	"github.com/openloop-ai/openloop/pkg/types"
)

const sessionLogPrefix = "session-log"

// Save writes the session-log snapshot for external inspection tooling and
// returns the path written. Only committed messages are persisted; an open
// draft belongs to an unfinished turn.
func (w *Window) Save(ctx context.Context) (string, error) {
	if w.store == nil {
		return "", nil
	}

	w.mu.RLock()
	committed := len(w.messages)
	if w.open {
		committed--
	}
	entries := make([]types.LogEntry, 0, committed)
	for i := 0; i < committed; i++ {
		entries = append(entries, w.messages[i].ToLogEntry())
	}
	w.mu.RUnlock()

	log := types.SessionLog{
		SessionID: w.sessionID,
		Updated:   time.Now().UnixMilli(),
		ContextWindow: types.ContextWindow{
			ConversationHistory: entries,
		},
	}

	key := []string{sessionLogPrefix, w.sessionID}
	if err := w.store.Put(ctx, key, log); err != nil {
		return "", err
	}
	path := filepath.Join(w.store.BasePath(), sessionLogPrefix, w.sessionID+".json")

	event.Publish(event.Event{Type: event.SessionPersisted, Data: event.SessionPersistedData{
		SessionID: w.sessionID,
		Path:      path,
	}})
	return path, nil
}

// Load rebuilds a window from a persisted session log. Roles are parsed
// case-insensitively; logs written by other tooling stay readable.
func Load(ctx context.Context, store *storage.Storage, cfg Config) (*Window, error) {
	var log types.SessionLog
	if err := store.Get(ctx, []string{sessionLogPrefix, cfg.SessionID}, &log); err != nil {
		return nil, err
	}

	cfg.Store = store
	w := New(cfg)
	for _, entry := range log.ContextWindow.ConversationHistory {
		w.Append(types.Message{
			Role:       types.ParseRole(entry.Role),
			Content:    entry.Content,
			ToolCallID: entry.ToolCallID,
			ToolName:   entry.ToolName,
			IsSummary:  entry.Summary,
		})
	}
	return w, nil
}
