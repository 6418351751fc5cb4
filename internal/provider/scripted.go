package provider

import (
	"context"
	"io"
	"sync"

	"github.com/openloop-ai/openloop/pkg/types"
)

// ScriptedProvider replays canned responses in order, one response per
// Stream call. Each response is delivered split into the configured chunk
// sizes, which makes it useful both as a test double and as the offline
// backend for dry runs.
type ScriptedProvider struct {
	mu        sync.Mutex
	responses []ScriptedResponse
	next      int

	// Requests records every request seen, for assertions.
	Requests []*Request
}

// ScriptedResponse is one canned completion.
type ScriptedResponse struct {
	// Chunks are delivered verbatim, in order. Byte-level splits are
	// allowed: a chunk may end mid-rune or mid-line.
	Chunks []string

	// Usage is attached to the final chunk when set.
	Usage *types.TokenUsage

	// Err, when set, is returned instead of the first chunk.
	Err error
}

// NewScripted creates a provider that replays the given responses.
func NewScripted(responses ...ScriptedResponse) *ScriptedProvider {
	return &ScriptedProvider{responses: responses}
}

// Text is a convenience constructor for a single-chunk response.
func Text(content string) ScriptedResponse {
	return ScriptedResponse{Chunks: []string{content}}
}

func (p *ScriptedProvider) ID() string { return "scripted" }

// Stream returns the next canned response. Once the script is exhausted it
// yields empty finished streams.
func (p *ScriptedProvider) Stream(ctx context.Context, req *Request) (Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Requests = append(p.Requests, req)

	if p.next >= len(p.responses) {
		return &scriptedStream{}, nil
	}
	resp := p.responses[p.next]
	p.next++

	if resp.Err != nil {
		return nil, resp.Err
	}
	return &scriptedStream{resp: resp}, nil
}

type scriptedStream struct {
	resp ScriptedResponse
	pos  int
	done bool
}

func (s *scriptedStream) Recv() (*Chunk, error) {
	if s.pos < len(s.resp.Chunks) {
		chunk := &Chunk{Content: s.resp.Chunks[s.pos]}
		s.pos++
		if s.pos == len(s.resp.Chunks) {
			chunk.Finished = true
			chunk.Usage = s.resp.Usage
		}
		return chunk, nil
	}
	if !s.done {
		s.done = true
		if len(s.resp.Chunks) == 0 {
			return &Chunk{Finished: true, Usage: s.resp.Usage}, nil
		}
	}
	return nil, io.EOF
}

func (s *scriptedStream) Close() {}
