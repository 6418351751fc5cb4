// Package parser turns a stream of model-output chunks into an ordered
// sequence of display text and tool-call events.
//
// A tool call is recognized only when an entire line, bounded by newlines
// or the stream edges, parses as a JSON object of the exact shape
// {"tool": <string>, "args": <object>}. JSON embedded mid-line in prose is
// never a call. The parser does not track fenced code blocks, so a
// directive alone on a line inside a fence is still detected; see the
// package tests for the documented cases.
package parser

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/openloop-ai/openloop/pkg/types"
)

// Event is one ordered parser output.
type Event interface {
	event()
}

// DisplayText is prose forwarded to the output sink unchanged.
type DisplayText struct {
	Text string
}

// Call is a recognized whole-line tool directive.
type Call struct {
	Tool types.ToolCall
}

func (DisplayText) event() {}
func (Call) event()        {}

// Parser consumes chunks in strict arrival order, buffering partial lines
// and partial runes between calls. State persists across Feed calls within
// a turn; Reset clears it for the next turn.
type Parser struct {
	dec  Decoder
	line strings.Builder

	// passthrough is set once the current line is known not to be a
	// directive, so the rest of it streams out without buffering.
	passthrough bool

	// Duplicate-suppression memory.
	lastCall *types.ToolCall
	textSeen bool
	trivBuf  strings.Builder
}

// New creates an empty parser.
func New() *Parser {
	return &Parser{}
}

// Feed consumes one chunk and returns the events it completes.
func (p *Parser) Feed(chunk []byte) []Event {
	return p.consume(p.dec.Write(chunk))
}

// Flush ends the stream. Buffered content that never reached a line
// terminator is emitted as display text, never dropped.
func (p *Parser) Flush() []Event {
	var events []Event
	if tail := p.dec.Flush(); tail != "" {
		events = p.consume(tail)
	}
	if p.line.Len() > 0 {
		events = p.emitText(events, p.line.String())
		p.line.Reset()
	}
	p.passthrough = false
	return events
}

// Reset clears all state, including duplicate-suppression memory.
func (p *Parser) Reset() {
	p.dec.Reset()
	p.line.Reset()
	p.trivBuf.Reset()
	p.passthrough = false
	p.lastCall = nil
	p.textSeen = false
}

func (p *Parser) consume(text string) []Event {
	var events []Event
	for len(text) > 0 {
		nl := strings.IndexByte(text, '\n')

		if p.passthrough {
			if nl < 0 {
				return p.emitText(events, text)
			}
			events = p.emitText(events, text[:nl+1])
			p.passthrough = false
			text = text[nl+1:]
			continue
		}

		if nl < 0 {
			p.line.WriteString(text)
			// A line that can no longer be a directive streams out
			// immediately instead of waiting for its terminator.
			if !plausibleCallPrefix(p.line.String()) {
				events = p.emitText(events, p.line.String())
				p.line.Reset()
				p.passthrough = true
			}
			return events
		}

		p.line.WriteString(text[:nl])
		line := p.line.String()
		p.line.Reset()
		text = text[nl+1:]
		events = p.finishLine(events, line)
	}
	return events
}

func (p *Parser) finishLine(events []Event, line string) []Event {
	call, ok := parseCallLine(line)
	if !ok {
		return p.emitText(events, line+"\n")
	}
	if p.lastCall != nil && !p.textSeen && call.Equal(*p.lastCall) {
		// Identical to the previous call with nothing but trivial text
		// in between: a model echo, not a request to run it again.
		return events
	}
	p.lastCall = &call
	p.textSeen = false
	p.trivBuf.Reset()
	return append(events, Call{Tool: call})
}

func (p *Parser) emitText(events []Event, s string) []Event {
	p.noteDisplay(s)
	return append(events, DisplayText{Text: s})
}

// noteDisplay tracks whether non-trivial display text has intervened since
// the last call. Whitespace-only lines and timing footers do not count.
func (p *Parser) noteDisplay(s string) {
	if p.textSeen {
		return
	}
	for {
		nl := strings.IndexByte(s, '\n')
		if nl < 0 {
			p.trivBuf.WriteString(s)
			return
		}
		p.trivBuf.WriteString(s[:nl])
		line := p.trivBuf.String()
		p.trivBuf.Reset()
		if !trivialLine(line) {
			p.textSeen = true
			return
		}
		s = s[nl+1:]
	}
}

func trivialLine(line string) bool {
	return strings.TrimSpace(line) == "" || IsTimingFooter(line)
}

var timingFooterRe = regexp.MustCompile(`^\s*⏱\s*[0-9]+(\.[0-9]+)?m?s(\s*\|\s*💭\s*[0-9]+(\.[0-9]+)?m?s)?\s*$`)

// IsTimingFooter reports whether line is a decorative elapsed-time footer
// such as "⏱ 43.0s | 💭 3.6s".
func IsTimingFooter(line string) bool {
	return timingFooterRe.MatchString(line)
}

// plausibleCallPrefix reports whether a partial line could still grow into
// a tool directive. Anything not opening with "{" cannot.
func plausibleCallPrefix(s string) bool {
	t := strings.TrimLeft(s, " \t\r")
	return t == "" || t[0] == '{'
}

// parseCallLine parses a complete line as a tool directive. The object
// must have exactly the keys "tool" (non-empty string) and "args" (object);
// anything else is display text.
func parseCallLine(line string) (types.ToolCall, bool) {
	trimmed := strings.TrimSpace(line)
	if len(trimmed) < 2 || trimmed[0] != '{' || trimmed[len(trimmed)-1] != '}' {
		return types.ToolCall{}, false
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
		return types.ToolCall{}, false
	}
	if len(raw) != 2 {
		return types.ToolCall{}, false
	}
	toolRaw, ok := raw["tool"]
	if !ok {
		return types.ToolCall{}, false
	}
	argsRaw, ok := raw["args"]
	if !ok {
		return types.ToolCall{}, false
	}

	var name string
	if err := json.Unmarshal(toolRaw, &name); err != nil || name == "" {
		return types.ToolCall{}, false
	}
	if t := strings.TrimSpace(string(argsRaw)); len(t) == 0 || t[0] != '{' {
		return types.ToolCall{}, false
	}
	var args map[string]any
	if err := json.Unmarshal(argsRaw, &args); err != nil {
		return types.ToolCall{}, false
	}
	return types.ToolCall{Name: name, Args: args}, true
}

var truncatedCallRe = regexp.MustCompile(`^\s*\{\s*"tool"\s*:`)

// LooksTruncatedCall reports whether the final line of text is an
// unterminated fragment that opens like a tool directive, which usually
// means the stream was cut off mid-call.
func LooksTruncatedCall(text string) bool {
	if idx := strings.LastIndexByte(text, '\n'); idx >= 0 {
		text = text[idx+1:]
	}
	if !truncatedCallRe.MatchString(text) {
		return false
	}
	_, ok := parseCallLine(text)
	return !ok
}
