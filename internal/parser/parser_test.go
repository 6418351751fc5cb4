package parser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openloop-ai/openloop/pkg/types"
)

// collect feeds the chunks then flushes, returning all events.
func collect(t *testing.T, chunks ...string) []Event {
	t.Helper()
	p := New()
	var events []Event
	for _, c := range chunks {
		events = append(events, p.Feed([]byte(c))...)
	}
	return append(events, p.Flush()...)
}

func displayed(events []Event) string {
	var b strings.Builder
	for _, e := range events {
		if d, ok := e.(DisplayText); ok {
			b.WriteString(d.Text)
		}
	}
	return b.String()
}

func calls(events []Event) []types.ToolCall {
	var out []types.ToolCall
	for _, e := range events {
		if c, ok := e.(Call); ok {
			out = append(out, c.Tool)
		}
	}
	return out
}

func TestProseUnchangedRegardlessOfSplit(t *testing.T) {
	text := "Thinking about the problem.\nHere is {\"not\": \"a call\"} inline.\nDone, final line without newline"
	for split := 0; split <= len(text); split++ {
		events := collect(t, text[:split], text[split:])
		assert.Empty(t, calls(events), "split at %d", split)
		assert.Equal(t, text, displayed(events), "split at %d", split)
	}
}

func TestToolCallSplitAtArbitraryOffsets(t *testing.T) {
	text := "before\n{\"tool\": \"shell\", \"args\": {\"cmd\": \"ls\"}}\nafter\n"
	for split := 0; split <= len(text); split++ {
		events := collect(t, text[:split], text[split:])
		got := calls(events)
		require.Len(t, got, 1, "split at %d", split)
		assert.Equal(t, "shell", got[0].Name)
		assert.Equal(t, map[string]any{"cmd": "ls"}, got[0].Args)
		assert.Equal(t, "before\nafter\n", displayed(events), "split at %d", split)
	}
}

func TestSplitMidToolName(t *testing.T) {
	events := collect(t, "{\"tool\": \"sh", "ell\", \"args\": {\"cmd\":\"ls\"}}\n")
	got := calls(events)
	require.Len(t, got, 1)
	assert.Equal(t, "shell", got[0].Name)
	assert.Equal(t, map[string]any{"cmd": "ls"}, got[0].Args)
	assert.Empty(t, displayed(events))
}

func TestMidLineJSONIsProse(t *testing.T) {
	text := "run {\"tool\": \"shell\", \"args\": {}} if you want\n"
	events := collect(t, text)
	assert.Empty(t, calls(events))
	assert.Equal(t, text, displayed(events))
}

func TestDuplicateSuppressed(t *testing.T) {
	line := "{\"tool\": \"shell\", \"args\": {\"cmd\": \"ls\"}}\n"
	events := collect(t, line+line)
	assert.Len(t, calls(events), 1)
}

func TestDuplicateWithInterveningTextExecutesTwice(t *testing.T) {
	line := "{\"tool\": \"shell\", \"args\": {\"cmd\": \"ls\"}}\n"
	events := collect(t, line+"checking the output again\n"+line)
	assert.Len(t, calls(events), 2)
}

func TestDuplicateSuppressedAcrossTrivialText(t *testing.T) {
	line := "{\"tool\": \"shell\", \"args\": {\"cmd\": \"ls\"}}\n"
	events := collect(t, line+"\n  \n⏱ 43.0s | 💭 3.6s\n"+line)
	assert.Len(t, calls(events), 1)
}

func TestDifferentArgsAreNotDuplicates(t *testing.T) {
	events := collect(t,
		"{\"tool\": \"shell\", \"args\": {\"cmd\": \"ls\"}}\n",
		"{\"tool\": \"shell\", \"args\": {\"cmd\": \"pwd\"}}\n")
	assert.Len(t, calls(events), 2)
}

func TestDuplicateKeyOrderInsensitive(t *testing.T) {
	events := collect(t,
		"{\"tool\": \"edit\", \"args\": {\"path\": \"a.go\", \"old\": \"x\"}}\n",
		"{\"args\": {\"old\": \"x\", \"path\": \"a.go\"}, \"tool\": \"edit\"}\n")
	assert.Len(t, calls(events), 1)
}

func TestResetClearsDuplicateMemory(t *testing.T) {
	line := []byte("{\"tool\": \"shell\", \"args\": {}}\n")
	p := New()
	first := p.Feed(line)
	p.Reset()
	second := p.Feed(line)
	assert.Len(t, calls(first), 1)
	assert.Len(t, calls(second), 1)
}

func TestUTF8SplitMidRune(t *testing.T) {
	text := "héllo ⏱ wörld\n"
	raw := []byte(text)
	for split := 0; split <= len(raw); split++ {
		events := collect(t, string(raw[:split:split]), string(raw[split:]))
		assert.Equal(t, text, displayed(events), "split at %d", split)
	}
}

func TestFlushEmitsBufferedRemainder(t *testing.T) {
	p := New()
	events := p.Feed([]byte("no newline here"))
	events = append(events, p.Flush()...)
	assert.Equal(t, "no newline here", displayed(events))
}

func TestTruncatedCallSurfacesAsDisplayText(t *testing.T) {
	fragment := "{\"tool\": \"shell\", \"args\": {\"cmd\": \"ls"
	events := collect(t, "done with prose\n"+fragment)
	assert.Empty(t, calls(events))
	assert.Equal(t, "done with prose\n"+fragment, displayed(events))
	assert.True(t, LooksTruncatedCall("done with prose\n"+fragment))
	assert.False(t, LooksTruncatedCall("done with prose\n"))
}

func TestCompleteCallAtStreamEndWithoutNewlineIsDisplayText(t *testing.T) {
	events := collect(t, "{\"tool\": \"shell\", \"args\": {}}")
	assert.Empty(t, calls(events))
	assert.Equal(t, "{\"tool\": \"shell\", \"args\": {}}", displayed(events))
}

func TestMalformedJSONIsDisplayText(t *testing.T) {
	for _, line := range []string{
		"{\"tool\": \"shell\", \"args\": }\n",
		"{\"tool\": \"shell\"}\n",
		"{\"tool\": \"shell\", \"args\": {}, \"extra\": 1}\n",
		"{\"tool\": 42, \"args\": {}}\n",
		"{\"tool\": \"\", \"args\": {}}\n",
		"{\"tool\": \"shell\", \"args\": [1, 2]}\n",
		"{\"tool\": \"shell\", \"args\": null}\n",
	} {
		events := collect(t, line)
		assert.Empty(t, calls(events), "line: %s", line)
		assert.Equal(t, line, displayed(events), "line: %s", line)
	}
}

func TestSurroundingWhitespaceStillDetects(t *testing.T) {
	events := collect(t, "  {\"tool\": \"shell\", \"args\": {}}  \r\n")
	require.Len(t, calls(events), 1)
	assert.Equal(t, "shell", calls(events)[0].Name)
}

// Fence state is deliberately not tracked: a directive alone on a line
// inside a code block is still detected.
func TestCallInsideCodeFenceIsDetected(t *testing.T) {
	events := collect(t, "```\n{\"tool\": \"shell\", \"args\": {}}\n```\n")
	assert.Len(t, calls(events), 1)
	assert.Equal(t, "```\n```\n", displayed(events))
}

func TestNestedArgsObject(t *testing.T) {
	events := collect(t, "{\"tool\": \"write\", \"args\": {\"path\": \"a.txt\", \"meta\": {\"mode\": 0}}}\n")
	got := calls(events)
	require.Len(t, got, 1)
	assert.Equal(t, map[string]any{"path": "a.txt", "meta": map[string]any{"mode": float64(0)}}, got[0].Args)
}

func TestProseStreamsBeforeLineTerminator(t *testing.T) {
	p := New()
	events := p.Feed([]byte("partial prose without newline"))
	assert.Equal(t, "partial prose without newline", displayed(events))
}

func TestIsTimingFooter(t *testing.T) {
	assert.True(t, IsTimingFooter("⏱ 43.0s | 💭 3.6s"))
	assert.True(t, IsTimingFooter("⏱ 43.0s"))
	assert.True(t, IsTimingFooter("  ⏱ 120ms  "))
	assert.False(t, IsTimingFooter("Done!"))
	assert.False(t, IsTimingFooter("Done! ⏱ 43.0s"))
}

func TestDecoderBuffersPartialRune(t *testing.T) {
	var d Decoder
	raw := []byte("⏱")
	assert.Empty(t, d.Write(raw[:1]))
	assert.Empty(t, d.Write(raw[1:2]))
	assert.Equal(t, "⏱", d.Write(raw[2:]))
	assert.Empty(t, d.Flush())
}

func TestDecoderFlushSurfacesDanglingPartial(t *testing.T) {
	var d Decoder
	raw := []byte("é")
	assert.Empty(t, d.Write(raw[:1]))
	assert.Equal(t, string(raw[:1]), d.Flush())
}
