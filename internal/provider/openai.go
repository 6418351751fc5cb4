package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/openloop-ai/openloop/pkg/types"
)

const (
	defaultBaseURL   = "https://api.openai.com/v1"
	defaultModel     = "gpt-4o"
	defaultMaxTokens = 8192
	requestTimeout   = 90 * time.Second

	// maxErrorBody bounds how much of an error response is read back into
	// the error message.
	maxErrorBody = 4096
)

// OpenAIConfig configures an OpenAI-compatible chat-completions endpoint.
// Any server speaking the same wire protocol works: OpenAI, OpenRouter,
// Ollama, vLLM, or a local mock.
type OpenAIConfig struct {
	ID        string
	BaseURL   string
	APIKey    string
	APIKeyEnv string
	Model     string
	MaxTokens int
	Headers   map[string]string

	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client
}

// OpenAIProvider streams completions from an OpenAI-compatible endpoint.
type OpenAIProvider struct {
	id         string
	baseURL    string
	apiKey     string
	model      string
	maxTokens  int
	headers    map[string]string
	httpClient *http.Client
}

// NewOpenAI creates a provider for an OpenAI-compatible endpoint. The API
// key resolves from config, then the named env var, then OPENAI_API_KEY.
func NewOpenAI(cfg OpenAIConfig) (*OpenAIProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.APIKeyEnv != "" {
		apiKey = strings.TrimSpace(os.Getenv(cfg.APIKeyEnv))
	}
	if apiKey == "" {
		apiKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	}
	if apiKey == "" {
		return nil, fmt.Errorf("no API key: set model.apiKey, %s, or OPENAI_API_KEY",
			envOrDefault(cfg.APIKeyEnv, "OPENLOOP_API_KEY"))
	}

	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = defaultBaseURL
	}
	// Accept base URLs pasted with the full completions path.
	base = strings.TrimSuffix(base, "/chat/completions")

	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	id := cfg.ID
	if id == "" {
		id = "openai"
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: requestTimeout}
	}

	return &OpenAIProvider{
		id:         id,
		baseURL:    base,
		apiKey:     apiKey,
		model:      model,
		maxTokens:  maxTokens,
		headers:    cfg.Headers,
		httpClient: client,
	}, nil
}

func envOrDefault(name, fallback string) string {
	if name != "" {
		return name
	}
	return fallback
}

// ID returns the provider identifier.
func (p *OpenAIProvider) ID() string { return p.id }

// Model returns the model identifier sent with each request.
func (p *OpenAIProvider) Model() string { return p.model }

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model         string        `json:"model"`
	Messages      []wireMessage `json:"messages"`
	MaxTokens     int           `json:"max_tokens,omitempty"`
	Stream        bool          `json:"stream"`
	StreamOptions *struct {
		IncludeUsage bool `json:"include_usage"`
	} `json:"stream_options,omitempty"`
}

// Stream opens a streaming completion. HTTP status codes are mapped onto
// the connection-error taxonomy: 429 and 5xx are retryable, other non-2xx
// are fatal.
func (p *OpenAIProvider) Stream(ctx context.Context, req *Request) (Stream, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}

	body := completionRequest{
		Model:     p.model,
		Messages:  toWireMessages(req.Messages),
		MaxTokens: maxTokens,
		Stream:    true,
		StreamOptions: &struct {
			IncludeUsage bool `json:"include_usage"`
		}{IncludeUsage: true},
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, Fatal(fmt.Errorf("encode request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/chat/completions", bytes.NewReader(raw))
	if err != nil {
		return nil, Fatal(err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	for k, v := range p.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, Classify(err)
	}
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		err := fmt.Errorf("%s: status %d: %s", p.id, resp.StatusCode, strings.TrimSpace(string(detail)))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, Retryable(err)
		}
		return nil, Fatal(err)
	}

	return &sseStream{body: resp.Body, scanner: newSSEScanner(resp.Body)}, nil
}

func toWireMessages(messages []types.Message) []wireMessage {
	out := make([]wireMessage, 0, len(messages))
	for _, m := range messages {
		role := string(m.Role)
		// The wire protocol has no tool role without native tool calls;
		// results travel as user-visible text the model reads back.
		if m.Role.Is(types.RoleTool) {
			role = "user"
		}
		content := m.Content
		if m.Role.Is(types.RoleTool) && m.ToolName != "" {
			content = fmt.Sprintf("[tool %s result]\n%s", m.ToolName, m.Content)
		}
		if strings.TrimSpace(content) == "" {
			continue
		}
		out = append(out, wireMessage{Role: role, Content: content})
	}
	return out
}

func newSSEScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return scanner
}

// sseStream decodes "data: {json}" server-sent-event frames into chunks.
type sseStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	done    bool
}

type sseChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (s *sseStream) Recv() (*Chunk, error) {
	if s.done {
		return nil, io.EOF
	}
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			s.done = true
			return nil, io.EOF
		}

		var frame sseChunk
		if err := json.Unmarshal([]byte(data), &frame); err != nil {
			// A torn frame mid-stream means the connection broke.
			return nil, Retryable(fmt.Errorf("malformed stream frame: %w", err))
		}

		chunk := &Chunk{}
		if len(frame.Choices) > 0 {
			chunk.Content = frame.Choices[0].Delta.Content
			chunk.Finished = frame.Choices[0].FinishReason != nil
		}
		if frame.Usage != nil {
			chunk.Usage = &types.TokenUsage{
				Prompt:     frame.Usage.PromptTokens,
				Completion: frame.Usage.CompletionTokens,
				Total:      frame.Usage.TotalTokens,
			}
		}
		return chunk, nil
	}

	if err := s.scanner.Err(); err != nil {
		return nil, Classify(err)
	}
	// Stream ended without [DONE]: the server closed early but everything
	// received is still valid.
	s.done = true
	return nil, io.EOF
}

func (s *sseStream) Close() {
	s.body.Close()
}
