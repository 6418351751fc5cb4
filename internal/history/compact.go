package history

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/openloop-ai/openloop/internal/event"
	"github.com/openloop-ai/openloop/internal/logging"
	"github.com/openloop-ai/openloop/pkg/types"
)

// ErrWindowExhausted means the hard context limit is exceeded and no span
// can be compacted away. The turn cannot proceed.
var ErrWindowExhausted = errors.New("context window exhausted and nothing left to compact")

// CompactionOutcome reports what a compaction pass did.
type CompactionOutcome struct {
	Compacted        bool
	Sequence         int
	MessagesReplaced int
	TokensReclaimed  int
	DehydratedTo     string
}

// MaybeCompact replaces the oldest compactable span with one synthetic
// assistant summary when the token estimate crosses threshold. The system
// prompt, the most recent KeepRecent messages, and any unresolved tool
// call are never compacted. When disabled is set the pass is skipped.
//
// Summarization failure leaves history untouched and is reported to the
// caller; it is not fatal. The span replacement itself is atomic under the
// window lock, so no reader observes a torn history.
func (w *Window) MaybeCompact(ctx context.Context, threshold float64, disabled bool) (CompactionOutcome, error) {
	if disabled {
		return CompactionOutcome{}, nil
	}
	if threshold <= 0 {
		threshold = types.DefaultCompactThreshold
	}

	w.mu.RLock()
	before := w.estimateLocked()
	start, end := w.compactableSpanLocked()
	span := make([]types.Message, end-start)
	copy(span, w.messages[start:end])
	w.mu.RUnlock()

	if float64(before)/float64(w.modelLimit) < threshold {
		return CompactionOutcome{}, nil
	}
	if len(span) < 2 {
		if before >= w.modelLimit {
			return CompactionOutcome{}, ErrWindowExhausted
		}
		return CompactionOutcome{}, nil
	}
	if w.summarizer == nil {
		return CompactionOutcome{}, fmt.Errorf("compaction: no summarizer configured")
	}

	// The owning turn controller is the only writer, so the span indexes
	// stay valid across the summarization await.
	summary, err := w.summarizer.Summarize(ctx, span)
	if err != nil {
		return CompactionOutcome{}, fmt.Errorf("compaction: %w", err)
	}

	seq := w.Compactions() + 1
	dehydratedTo := ""
	if w.dehydrate && w.store != nil {
		dehydratedTo, err = w.dehydrateSpan(ctx, seq, span)
		if err != nil {
			// Dropping a span that could not be persisted first would lose
			// history, so the pass aborts.
			return CompactionOutcome{}, fmt.Errorf("compaction: dehydrate: %w", err)
		}
	}

	summaryMsg := types.Message{
		ID:        newID(),
		SessionID: w.sessionID,
		Role:      types.RoleAssistant,
		Content:   summary,
		IsSummary: true,
		Time:      types.MessageTime{Created: time.Now().UnixMilli()},
	}

	w.mu.Lock()
	kept := make([]types.Message, 0, start+1+len(w.messages)-end)
	kept = append(kept, w.messages[:start]...)
	kept = append(kept, summaryMsg)
	kept = append(kept, w.messages[end:]...)
	w.messages = kept
	w.compactions = seq
	after := w.estimateLocked()
	w.mu.Unlock()

	outcome := CompactionOutcome{
		Compacted:        true,
		Sequence:         seq,
		MessagesReplaced: len(span),
		TokensReclaimed:  before - after,
		DehydratedTo:     dehydratedTo,
	}

	log := logging.For("history")
	log.Info().
		Str("session", w.sessionID).
		Int("sequence", seq).
		Int("replaced", outcome.MessagesReplaced).
		Int("reclaimed", outcome.TokensReclaimed).
		Msg("compacted context window")

	event.Publish(event.Event{Type: event.ContextCompacted, Data: event.ContextCompactedData{
		SessionID:        w.sessionID,
		Sequence:         seq,
		MessagesReplaced: outcome.MessagesReplaced,
		TokensReclaimed:  outcome.TokensReclaimed,
		DehydratedTo:     dehydratedTo,
	}})

	return outcome, nil
}

// compactableSpanLocked returns the half-open range of messages eligible
// for replacement: everything after the leading system prompt, stopping
// short of the last KeepRecent messages. The end retreats while the first
// kept message is a tool result (its producing assistant must stay with
// it) or an assistant (the summary is assistant-role, and two consecutive
// assistants are never committed).
func (w *Window) compactableSpanLocked() (int, int) {
	start := 0
	for start < len(w.messages) && w.messages[start].Role.Is(types.RoleSystem) {
		start++
	}
	end := len(w.messages) - w.keepRecent
	// A trailing assistant may hold a tool call whose result never
	// arrived, e.g. a session log cut off mid-call. It stays resident
	// whatever KeepRecent says, so a pending call is never dropped.
	if n := len(w.messages); n > 0 && w.messages[n-1].Role.Is(types.RoleAssistant) && end >= n-1 {
		end = n - 1
	}
	for end > start {
		next := w.messages[end]
		if next.Role.Is(types.RoleTool) || next.Role.Is(types.RoleAssistant) {
			end--
			continue
		}
		break
	}
	if end < start {
		end = start
	}
	return start, end
}

func (w *Window) dehydrateSpan(ctx context.Context, seq int, span []types.Message) (string, error) {
	key := dehydrationKey(w.sessionID, seq)
	if err := w.store.Put(ctx, key, span); err != nil {
		return "", err
	}
	return filepath.Join(w.store.BasePath(), filepath.Join(key...)) + ".json", nil
}

// LoadDehydrated reads back a span persisted by an earlier compaction.
func (w *Window) LoadDehydrated(ctx context.Context, seq int) ([]types.Message, error) {
	if w.store == nil {
		return nil, fmt.Errorf("dehydration: no store configured")
	}
	var span []types.Message
	if err := w.store.Get(ctx, dehydrationKey(w.sessionID, seq), &span); err != nil {
		return nil, err
	}
	return span, nil
}

func dehydrationKey(sessionID string, seq int) []string {
	return []string{"dehydrated", sessionID, fmt.Sprintf("%06d", seq)}
}
