// Package history owns the ordered conversation history of one session:
// the context window, its token accounting, compaction, and the persisted
// session log.
package history

import (
	"context"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"

	"github.com/openloop-ai/openloop/internal/storage"
	"github.com/openloop-ai/openloop/pkg/types"
)

// Summarizer condenses a history span into one summary string. Compaction
// treats it as an out-of-band capability; summarization failures abort the
// pass without touching history.
type Summarizer interface {
	Summarize(ctx context.Context, span []types.Message) (string, error)
}

// Config describes a window at creation time.
type Config struct {
	SessionID  string
	ModelLimit int

	// KeepRecent is the number of trailing messages never compacted away.
	KeepRecent int

	Summarizer Summarizer

	// Store enables session-log persistence and dehydration when set.
	Store     *storage.Storage
	Dehydrate bool
}

// Window is the single ordered history for a session. It is mutated only
// by the session's own turn controller; concurrent readers get snapshots.
// Invariants: at most one open assistant draft exists and it is always the
// last message; no two consecutive committed assistant messages.
type Window struct {
	mu         sync.RWMutex
	sessionID  string
	modelLimit int
	keepRecent int
	summarizer Summarizer
	store      *storage.Storage
	dehydrate  bool

	messages []types.Message

	// Open assistant draft bookkeeping. openBase is the draft's content
	// length when it was (re)opened, so a cancelled turn can roll back to
	// exactly the committed prefix.
	open     bool
	openNew  bool
	openBase int

	compactions int
}

// New creates an empty window.
func New(cfg Config) *Window {
	if cfg.ModelLimit <= 0 {
		cfg.ModelLimit = types.DefaultModelLimit
	}
	if cfg.KeepRecent <= 0 {
		cfg.KeepRecent = types.DefaultKeepRecentTurns
	}
	return &Window{
		sessionID:  cfg.SessionID,
		modelLimit: cfg.ModelLimit,
		keepRecent: cfg.KeepRecent,
		summarizer: cfg.Summarizer,
		store:      cfg.Store,
		dehydrate:  cfg.Dehydrate,
	}
}

// SessionID returns the owning session's identifier.
func (w *Window) SessionID() string { return w.sessionID }

// ModelLimit returns the hard context limit in tokens.
func (w *Window) ModelLimit() int { return w.modelLimit }

// Compactions returns how many compactions have completed.
func (w *Window) Compactions() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.compactions
}

// Len returns the number of messages, including an open draft.
func (w *Window) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.messages)
}

// Messages returns a snapshot of the history.
func (w *Window) Messages() []types.Message {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]types.Message, len(w.messages))
	copy(out, w.messages)
	return out
}

// Append commits a message. An assistant message appended while the last
// message is also assistant-role merges into it instead of creating a
// consecutive entry.
func (w *Window) Append(msg types.Message) types.Message {
	w.mu.Lock()
	defer w.mu.Unlock()

	if msg.Role.Is(types.RoleAssistant) && w.lastIsAssistant() {
		last := &w.messages[len(w.messages)-1]
		last.Content += msg.Content
		if msg.ToolCallID != "" {
			last.ToolCallID = msg.ToolCallID
			last.ToolName = msg.ToolName
		}
		touch(last)
		w.open = false
		return *last
	}

	w.commitOpenLocked()

	if msg.ID == "" {
		msg.ID = newID()
	}
	msg.SessionID = w.sessionID
	if msg.Time.Created == 0 {
		msg.Time.Created = time.Now().UnixMilli()
	}
	w.messages = append(w.messages, msg)
	return msg
}

// AppendDelta streams text into the open assistant draft, opening one if
// needed. If the last committed message is assistant-role it is reopened,
// which keeps the no-consecutive-assistant invariant structural.
func (w *Window) AppendDelta(text string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.open {
		w.messages[len(w.messages)-1].Content += text
		return
	}
	if w.lastIsAssistant() {
		last := &w.messages[len(w.messages)-1]
		w.open = true
		w.openNew = false
		w.openBase = len(last.Content)
		last.Content += text
		return
	}
	w.messages = append(w.messages, types.Message{
		ID:        newID(),
		SessionID: w.sessionID,
		Role:      types.RoleAssistant,
		Content:   text,
		Time:      types.MessageTime{Created: time.Now().UnixMilli()},
	})
	w.open = true
	w.openNew = true
	w.openBase = 0
}

// CommitAssistant closes the open draft and returns the committed message.
// A draft holding only whitespace is dropped instead of committed.
func (w *Window) CommitAssistant() (types.Message, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.open {
		return types.Message{}, false
	}
	w.open = false
	last := &w.messages[len(w.messages)-1]
	if w.openNew && isBlank(last.Content) {
		w.messages = w.messages[:len(w.messages)-1]
		return types.Message{}, false
	}
	touch(last)
	return *last, true
}

// DiscardAssistant rolls the open draft back to its committed prefix. A
// draft opened fresh this turn is removed entirely, so a cancelled turn
// never leaves a half-written assistant message behind.
func (w *Window) DiscardAssistant() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.open {
		return false
	}
	w.open = false
	if w.openNew {
		w.messages = w.messages[:len(w.messages)-1]
		return true
	}
	last := &w.messages[len(w.messages)-1]
	last.Content = last.Content[:w.openBase]
	return true
}

// TokenEstimate returns a cheap heuristic token count for the whole
// window, used only to decide compaction.
func (w *Window) TokenEstimate() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.estimateLocked()
}

func (w *Window) estimateLocked() int {
	total := 0
	for i := range w.messages {
		total += estimateMessage(&w.messages[i])
	}
	return total
}

// estimateMessage approximates tokens as one per four characters plus a
// fixed per-message framing overhead.
func estimateMessage(m *types.Message) int {
	return utf8.RuneCountInString(m.Content)/4 + 4
}

func (w *Window) lastIsAssistant() bool {
	return len(w.messages) > 0 && w.messages[len(w.messages)-1].Role.Is(types.RoleAssistant)
}

func (w *Window) commitOpenLocked() {
	if !w.open {
		return
	}
	w.open = false
	last := &w.messages[len(w.messages)-1]
	if w.openNew && isBlank(last.Content) {
		w.messages = w.messages[:len(w.messages)-1]
		return
	}
	touch(last)
}

func isBlank(s string) bool {
	for _, r := range s {
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
			return false
		}
	}
	return true
}

func touch(m *types.Message) {
	now := time.Now().UnixMilli()
	m.Time.Updated = &now
}

func newID() string {
	return "msg_" + ulid.Make().String()
}
