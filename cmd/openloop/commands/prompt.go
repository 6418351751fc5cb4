package commands

import (
	"fmt"
	"strings"

	"github.com/openloop-ai/openloop/internal/tool"
	"github.com/openloop-ai/openloop/pkg/types"
)

// buildSystemPrompt assembles the system prompt: tool protocol, tool
// catalog, and working conventions. The protocol section is load-bearing;
// the runtime only recognizes calls in exactly this shape.
func buildSystemPrompt(dispatcher *tool.Dispatcher, cfg *types.Config) string {
	var b strings.Builder

	b.WriteString(`You are an autonomous software agent working in a real workspace.

## Tool protocol

To call a tool, emit a single line containing only a JSON object with
exactly two keys:

{"tool": "<name>", "args": {<arguments>}}

Rules:
- The JSON object must occupy the whole line, nothing before or after it.
- Never split a tool call across lines.
- Tool results come back as messages; read them before deciding the next step.
- Plain text outside tool-call lines is shown to the user as your reply.

## Available tools

`)

	for _, t := range dispatcher.Tools() {
		fmt.Fprintf(&b, "- %s: %s\n", t.ID(), firstLine(t.Description()))
	}

	b.WriteString(`
## Conventions

- Work from the workspace root; relative paths resolve against it.
- Read files before editing them.
- Keep replies short; the work happens through tools.
`)

	if cfg.Runtime.Autonomous {
		finalTool := cfg.Runtime.FinalOutputTool
		if finalTool == "" {
			finalTool = "finish"
		}
		fmt.Fprintf(&b, `
## Autonomous mode

- Start by writing a checklist with todowrite, then work through it.
- Mark items completed as you finish them.
- Call %s only when every checklist item is completed; calls made with
  open items are rejected.
`, finalTool)
	}

	return b.String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return strings.TrimSpace(s)
}
