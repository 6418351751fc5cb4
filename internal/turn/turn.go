// Package turn drives one request/response/tool-execution cycle against a
// provider: it streams the response through the parser, routes recognized
// calls to the dispatcher, keeps the context window consistent, and decides
// whether the conversation is done, should auto-continue, or has failed.
package turn

import (
	"errors"
	"strings"

	"github.com/openloop-ai/openloop/internal/parser"
)

// State is one node of the turn state machine.
type State string

const (
	StateSending       State = "sending"
	StateStreaming     State = "streaming"
	StateToolExecuting State = "tool_executing"
	StateFinishing     State = "finishing"
	StateDone          State = "done"
	StateAutoContinue  State = "auto_continue"
	StateFatal         State = "fatal"
)

// ErrAutoContinueExceeded terminates a conversation whose model keeps
// returning empty responses past the configured ceiling.
var ErrAutoContinueExceeded = errors.New("auto-continue attempt ceiling exceeded")

// ErrTurnBudgetExceeded terminates a turn that requested more tool
// executions than the per-turn budget allows.
var ErrTurnBudgetExceeded = errors.New("per-turn tool budget exceeded")

// ErrTruncatedCall is surfaced after the single retry for a response ending
// in a tool-call fragment the parser could not complete.
var ErrTruncatedCall = errors.New("response ended in a truncated tool call")

// Outcome summarizes a finished Run.
type Outcome struct {
	State         State
	Response      string
	Turns         int
	ToolCalls     int
	AutoContinues int
}

// IsEmptyResponse reports whether a full response carries no content worth
// keeping: every line is whitespace or a decorative timing footer.
func IsEmptyResponse(text string) bool {
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) != "" && !parser.IsTimingFooter(line) {
			return false
		}
	}
	return true
}
