package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/openloop-ai/openloop/pkg/types"
)

const summarySystemPrompt = `You are a conversation summarizer. Create a concise summary of the conversation that preserves key context for continuing the discussion.

Focus on:
1. What was accomplished
2. Current work in progress
3. Files involved
4. Next steps
5. Any key user requests or constraints

Be concise but detailed enough that work can continue seamlessly.`

// Summarizer produces a synthetic summary of a history span using a
// provider. The context window consumes this during compaction as an
// out-of-band capability.
type Summarizer struct {
	Provider  Provider
	MaxTokens int
}

// NewSummarizer creates a summarizer over the given provider.
func NewSummarizer(p Provider) *Summarizer {
	return &Summarizer{Provider: p, MaxTokens: 2000}
}

// Summarize condenses the span into one summary string.
func (s *Summarizer) Summarize(ctx context.Context, span []types.Message) (string, error) {
	if s.Provider == nil {
		return "", fmt.Errorf("summarizer: no provider configured")
	}

	var prompt strings.Builder
	prompt.WriteString("Please summarize the following conversation, focusing on key decisions, outcomes, and context needed to continue the work.\n\n---\n\n")
	for _, msg := range span {
		prompt.WriteString(strings.ToUpper(string(msg.Role)))
		prompt.WriteString(":\n")
		content := msg.Content
		if len(content) > 4000 {
			content = content[:4000] + "..."
		}
		prompt.WriteString(content)
		prompt.WriteString("\n\n")
	}

	req := &Request{
		Messages: []types.Message{
			{Role: types.RoleSystem, Content: summarySystemPrompt},
			{Role: types.RoleUser, Content: prompt.String()},
		},
		MaxTokens: s.MaxTokens,
	}

	stream, err := s.Provider.Stream(ctx, req)
	if err != nil {
		return "", fmt.Errorf("summarizer: %w", err)
	}

	summary, _, err := Drain(stream)
	if err != nil {
		return "", fmt.Errorf("summarizer: %w", err)
	}
	if strings.TrimSpace(summary) == "" {
		return "", fmt.Errorf("summarizer: empty summary")
	}
	return summary, nil
}
