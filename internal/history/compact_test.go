package history

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openloop-ai/openloop/internal/storage"
	"github.com/openloop-ai/openloop/pkg/types"
)

type funcSummarizer func(ctx context.Context, span []types.Message) (string, error)

func (f funcSummarizer) Summarize(ctx context.Context, span []types.Message) (string, error) {
	return f(ctx, span)
}

func staticSummary(s string) Summarizer {
	return funcSummarizer(func(context.Context, []types.Message) (string, error) { return s, nil })
}

func newTestStore(t *testing.T) *storage.Storage {
	t.Helper()
	return storage.New(t.TempDir())
}

// fillWindow seeds a system prompt plus n alternating user/assistant
// messages of ~40 characters each.
func fillWindow(w *Window, n int) {
	w.Append(types.Message{Role: types.RoleSystem, Content: "system prompt"})
	for i := 0; i < n; i++ {
		role := types.RoleUser
		if i%2 == 1 {
			role = types.RoleAssistant
		}
		w.Append(types.Message{Role: role, Content: strings.Repeat("x", 40)})
	}
}

func TestMaybeCompactReplacesOldestSpan(t *testing.T) {
	w := New(Config{
		SessionID:  "s1",
		ModelLimit: 100,
		KeepRecent: 4,
		Summarizer: staticSummary("condensed summary"),
	})
	fillWindow(w, 10)

	beforeMsgs := w.Messages()
	beforeEst := w.TokenEstimate()

	out, err := w.MaybeCompact(context.Background(), 0.5, false)
	require.NoError(t, err)
	require.True(t, out.Compacted)
	assert.Equal(t, 1, out.Sequence)
	assert.Equal(t, 6, out.MessagesReplaced)
	assert.Positive(t, out.TokensReclaimed)

	msgs := w.Messages()
	require.Len(t, msgs, 6)

	// System prompt and the most recent K messages survive byte-identical.
	assert.Equal(t, beforeMsgs[0], msgs[0])
	assert.Equal(t, beforeMsgs[len(beforeMsgs)-4:], msgs[len(msgs)-4:])

	summary := msgs[1]
	assert.True(t, summary.IsSummary)
	assert.Equal(t, types.RoleAssistant, summary.Role)
	assert.Equal(t, "condensed summary", summary.Content)

	assert.Less(t, w.TokenEstimate(), beforeEst)
	assertNoConsecutiveAssistants(t, msgs)
	assert.Equal(t, 1, w.Compactions())
}

func TestMaybeCompactBelowThresholdIsNoOp(t *testing.T) {
	w := New(Config{
		SessionID:  "s1",
		ModelLimit: 1000000,
		KeepRecent: 4,
		Summarizer: staticSummary("unused"),
	})
	fillWindow(w, 10)

	before := w.Messages()
	out, err := w.MaybeCompact(context.Background(), 0.75, false)
	require.NoError(t, err)
	assert.False(t, out.Compacted)
	assert.Equal(t, before, w.Messages())
}

func TestMaybeCompactDisabledIsNoOp(t *testing.T) {
	w := New(Config{SessionID: "s1", ModelLimit: 10, KeepRecent: 4, Summarizer: staticSummary("unused")})
	fillWindow(w, 10)

	out, err := w.MaybeCompact(context.Background(), 0.5, true)
	require.NoError(t, err)
	assert.False(t, out.Compacted)
}

func TestMaybeCompactSummarizerFailureLeavesHistoryUntouched(t *testing.T) {
	boom := errors.New("summarizer offline")
	w := New(Config{
		SessionID:  "s1",
		ModelLimit: 100,
		KeepRecent: 4,
		Summarizer: funcSummarizer(func(context.Context, []types.Message) (string, error) { return "", boom }),
	})
	fillWindow(w, 10)
	before := w.Messages()

	out, err := w.MaybeCompact(context.Background(), 0.5, false)
	assert.ErrorIs(t, err, boom)
	assert.False(t, out.Compacted)
	assert.Equal(t, before, w.Messages())
	assert.Equal(t, 0, w.Compactions())
}

func TestMaybeCompactKeepsToolResultWithItsAssistant(t *testing.T) {
	w := New(Config{
		SessionID:  "s1",
		ModelLimit: 50,
		KeepRecent: 1,
		Summarizer: staticSummary("sum"),
	})
	w.Append(types.Message{Role: types.RoleSystem, Content: "system prompt"})
	w.Append(types.Message{Role: types.RoleUser, Content: strings.Repeat("a", 40)})
	w.Append(types.Message{Role: types.RoleAssistant, Content: strings.Repeat("b", 40)})
	w.Append(types.Message{Role: types.RoleTool, Content: strings.Repeat("c", 40), ToolName: "shell"})
	w.Append(types.Message{Role: types.RoleUser, Content: strings.Repeat("d", 40)})
	w.Append(types.Message{Role: types.RoleAssistant, Content: strings.Repeat("e", 40)})
	w.Append(types.Message{Role: types.RoleTool, Content: strings.Repeat("f", 40), ToolName: "shell"})

	out, err := w.MaybeCompact(context.Background(), 0.5, false)
	require.NoError(t, err)
	require.True(t, out.Compacted)

	msgs := w.Messages()
	// The trailing assistant+tool pair survives intact even though only one
	// message was nominally protected.
	require.Len(t, msgs, 5)
	assert.Equal(t, types.RoleUser, msgs[2].Role)
	assert.Equal(t, strings.Repeat("e", 40), msgs[3].Content)
	assert.Equal(t, strings.Repeat("f", 40), msgs[4].Content)
	assertNoConsecutiveAssistants(t, msgs)
}

func TestMaybeCompactKeepsPendingCallFromReloadedLog(t *testing.T) {
	store := newTestStore(t)

	// A session log cut off mid-call: the last entry is an assistant
	// message carrying a tool call whose result never arrived.
	callLine := `{"tool": "shell", "args": {"cmd": "ls"}}` + "\n"
	seed := New(Config{SessionID: "s-resume", Store: store})
	seed.Append(types.Message{Role: types.RoleSystem, Content: "system prompt"})
	seed.Append(types.Message{Role: types.RoleUser, Content: strings.Repeat("a", 40)})
	seed.Append(types.Message{Role: types.RoleAssistant, Content: strings.Repeat("b", 40)})
	seed.Append(types.Message{Role: types.RoleUser, Content: strings.Repeat("c", 40)})
	seed.Append(types.Message{Role: types.RoleAssistant, Content: callLine})
	_, err := seed.Save(context.Background())
	require.NoError(t, err)

	w, err := Load(context.Background(), store, Config{
		SessionID:  "s-resume",
		ModelLimit: 50,
		KeepRecent: 1,
		Summarizer: staticSummary("sum"),
	})
	require.NoError(t, err)

	out, err := w.MaybeCompact(context.Background(), 0.5, false)
	require.NoError(t, err)
	require.True(t, out.Compacted)

	msgs := w.Messages()
	last := msgs[len(msgs)-1]
	assert.Equal(t, types.RoleAssistant, last.Role)
	assert.Equal(t, callLine, last.Content)
	assertNoConsecutiveAssistants(t, msgs)
}

func TestMaybeCompactDehydratesSpan(t *testing.T) {
	store := newTestStore(t)
	w := New(Config{
		SessionID:  "s1",
		ModelLimit: 100,
		KeepRecent: 4,
		Summarizer: staticSummary("sum"),
		Store:      store,
		Dehydrate:  true,
	})
	fillWindow(w, 10)
	original := w.Messages()

	out, err := w.MaybeCompact(context.Background(), 0.5, false)
	require.NoError(t, err)
	require.True(t, out.Compacted)
	require.NotEmpty(t, out.DehydratedTo)
	assert.FileExists(t, out.DehydratedTo)

	span, err := w.LoadDehydrated(context.Background(), out.Sequence)
	require.NoError(t, err)
	require.Len(t, span, out.MessagesReplaced)
	assert.Equal(t, original[1].Content, span[0].Content)
}

func TestMaybeCompactExhaustedWindowIsFatal(t *testing.T) {
	w := New(Config{
		SessionID:  "s1",
		ModelLimit: 10,
		KeepRecent: 10,
		Summarizer: staticSummary("unused"),
	})
	w.Append(types.Message{Role: types.RoleSystem, Content: strings.Repeat("s", 100)})
	w.Append(types.Message{Role: types.RoleUser, Content: strings.Repeat("u", 100)})

	_, err := w.MaybeCompact(context.Background(), 0.5, false)
	assert.ErrorIs(t, err, ErrWindowExhausted)
}
