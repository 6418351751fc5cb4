// Package provider defines the vendor-agnostic streaming contract the turn
// engine consumes. Concrete wire protocols (HTTP/SSE framing, on-device
// inference) live behind this interface in adapter packages.
package provider

import (
	"context"
	"io"

	"github.com/openloop-ai/openloop/pkg/types"
)

// Chunk is one ordered event from a provider stream. Content may split
// multi-byte characters at arbitrary byte offsets; the decoder downstream
// reassembles them.
type Chunk struct {
	Content  string            `json:"content"`
	Finished bool              `json:"finished"`
	Usage    *types.TokenUsage `json:"usage,omitempty"`
}

// Stream yields chunks in arrival order. Recv returns io.EOF after the
// final chunk.
type Stream interface {
	Recv() (*Chunk, error)
	Close()
}

// Request is a completion request built from the context window.
type Request struct {
	Messages  []types.Message `json:"messages"`
	MaxTokens int             `json:"maxTokens,omitempty"`
}

// Provider creates completion streams.
type Provider interface {
	// ID returns the provider identifier.
	ID() string

	// Stream opens a streaming completion for the request.
	Stream(ctx context.Context, req *Request) (Stream, error)
}

// Drain reads a stream to completion and returns the concatenated content.
// Used by callers that do not need incremental delivery, e.g. the
// summarizer.
func Drain(stream Stream) (string, *types.TokenUsage, error) {
	defer stream.Close()

	var content string
	var usage *types.TokenUsage
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			return content, usage, nil
		}
		if err != nil {
			return content, usage, err
		}
		content += chunk.Content
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
	}
}
