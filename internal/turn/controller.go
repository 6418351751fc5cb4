package turn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/openloop-ai/openloop/internal/event"
	"github.com/openloop-ai/openloop/internal/history"
	"github.com/openloop-ai/openloop/internal/logging"
	"github.com/openloop-ai/openloop/internal/parser"
	"github.com/openloop-ai/openloop/internal/provider"
	"github.com/openloop-ai/openloop/internal/tool"
	"github.com/openloop-ai/openloop/pkg/types"
)

// Options configures a Controller.
type Options struct {
	Provider   provider.Provider
	Window     *history.Window
	Dispatcher *tool.Dispatcher
	Runtime    types.RuntimeConfig

	// Sink receives display text as it streams. Optional.
	Sink func(text string)
}

// Controller advances one session's conversation. A session's window is
// mutated only by its own controller; two turns of the same session never
// run concurrently.
type Controller struct {
	provider   provider.Provider
	window     *history.Window
	dispatcher *tool.Dispatcher
	cfg        types.RuntimeConfig
	sink       func(string)
	gate       *completionGate
	log        zerolog.Logger

	turn int

	// newBackoff builds the retry policy for connection errors. Replaced
	// in tests to avoid real sleeps.
	newBackoff func() backoff.BackOff
}

// NewController creates a controller over a window, provider, and
// dispatcher. Runtime knobs are normalized: zero values get defaults and
// the auto-continue ceiling is clamped to its valid range.
func NewController(opts Options) *Controller {
	opts.Runtime.Normalize()
	return &Controller{
		provider:   opts.Provider,
		window:     opts.Window,
		dispatcher: opts.Dispatcher,
		cfg:        opts.Runtime,
		sink:       opts.Sink,
		gate:       newCompletionGate(opts.Runtime, opts.Dispatcher.Context().WorkDir),
		log:        logging.For("turn"),
		newBackoff: defaultBackoff,
	}
}

const (
	// MaxRetries is the maximum number of retries for retryable
	// connection errors within one turn.
	MaxRetries = 3
	// RetryInitialInterval is the initial interval for exponential backoff.
	RetryInitialInterval = time.Second
	// RetryMaxInterval is the maximum interval for exponential backoff.
	RetryMaxInterval = 30 * time.Second
	// RetryMaxElapsedTime is the maximum total time for retries.
	RetryMaxElapsedTime = 2 * time.Minute
)

func defaultBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = RetryInitialInterval
	b.MaxInterval = RetryMaxInterval
	b.MaxElapsedTime = RetryMaxElapsedTime
	b.RandomizationFactor = 0.5
	b.Multiplier = 2.0
	b.Reset()
	return backoff.WithMaxRetries(b, MaxRetries)
}

// Close releases controller resources. The dispatcher context is owned by
// the caller and released at session teardown, not here.
func (c *Controller) Close() {
	c.gate.Close()
}

// Run appends the user input and executes turns until the model produces a
// real response, auto-continuing through empty ones up to the configured
// ceiling.
func (c *Controller) Run(ctx context.Context, input string) (Outcome, error) {
	if strings.TrimSpace(input) != "" {
		c.window.Append(types.Message{Role: types.RoleUser, Content: input})
	}

	autoContinues := 0
	totalCalls := 0
	for {
		out, err := c.runTurn(ctx)
		totalCalls += out.ToolCalls
		out.ToolCalls = totalCalls

		if err != nil {
			c.publishFinished("fatal", err)
			out.State = StateFatal
			out.AutoContinues = autoContinues
			return out, err
		}
		if out.State == StateAutoContinue {
			c.publishFinished("auto_continue", nil)
			autoContinues++
			if autoContinues > c.cfg.AutoContinueLimit {
				out.State = StateFatal
				out.AutoContinues = autoContinues
				c.publishFinished("fatal", ErrAutoContinueExceeded)
				return out, ErrAutoContinueExceeded
			}
			c.log.Debug().Int("attempt", autoContinues).Msg("empty response, auto-continuing")
			continue
		}

		c.publishFinished("done", nil)
		out.AutoContinues = autoContinues
		return out, nil
	}
}

// runTurn executes one Sending → ... → {Done | AutoContinue} pass. The
// returned error means the turn is fatal.
func (c *Controller) runTurn(ctx context.Context) (Outcome, error) {
	c.turn++
	out := Outcome{Turns: c.turn}

	event.Publish(event.Event{Type: event.TurnStarted, Data: event.TurnStartedData{
		SessionID: c.window.SessionID(),
		Turn:      c.turn,
	}})

	// Compaction runs before the request is built so the outgoing window
	// fits the model limit. Failures other than exhaustion are non-fatal.
	if _, err := c.window.MaybeCompact(ctx, c.cfg.CompactThreshold, c.cfg.DisableCompaction); err != nil {
		if errors.Is(err, history.ErrWindowExhausted) {
			return out, err
		}
		c.log.Warn().Err(err).Msg("compaction failed, continuing with full history")
	}

	p := parser.New()
	bo := c.newBackoff()
	st := &turnState{parser: p}

	for {
		raw, err := c.streamOnce(ctx, st)
		out.ToolCalls = st.calls
		if err != nil {
			c.window.DiscardAssistant()
			if provider.IsRetryable(err) {
				if !c.waitRetry(ctx, bo, err) {
					return out, err
				}
				p.Reset()
				continue
			}
			return out, err
		}

		if st.ranTools {
			// The model reacts to tool results in a fresh request. Prose
			// trailing the last tool call was already shown on the sink, so
			// commit it now; an empty follow-up response may only discard
			// its own segment, never text from this one.
			c.window.CommitAssistant()
			st.ranTools = false
			continue
		}

		if IsEmptyResponse(raw) {
			c.window.DiscardAssistant()
			if st.anyTools {
				// Tools already did the work this turn; nothing more to say
				// is completion, not an empty turn.
				break
			}
			out.State = StateAutoContinue
			return out, nil
		}

		if parser.LooksTruncatedCall(raw) {
			c.window.DiscardAssistant()
			if st.truncRetried {
				return out, ErrTruncatedCall
			}
			st.truncRetried = true
			p.Reset()
			c.log.Warn().Msg("response ended mid tool call, retrying once")
			continue
		}

		c.window.CommitAssistant()
		break
	}

	if _, err := c.window.Save(ctx); err != nil {
		return out, fmt.Errorf("persist session log: %w", err)
	}
	out.State = StateDone
	out.Response = c.lastAssistantContent()
	return out, nil
}

// turnState carries streaming progress across re-sends within one turn.
type turnState struct {
	parser       *parser.Parser
	calls        int
	ranTools     bool
	anyTools     bool
	truncRetried bool
}

// streamOnce opens one provider stream and consumes it to completion,
// executing tool calls as they are detected. It returns the raw display
// text of this response.
func (c *Controller) streamOnce(ctx context.Context, st *turnState) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", provider.Fatal(err)
	}
	req := &provider.Request{Messages: c.window.Messages()}
	stream, err := c.openStream(ctx, req)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var raw strings.Builder
	for {
		chunk, rerr := stream.Recv()
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return raw.String(), provider.Classify(rerr)
		}
		if err := c.handleEvents(ctx, st, &raw, st.parser.Feed([]byte(chunk.Content))); err != nil {
			return raw.String(), err
		}
	}
	if err := c.handleEvents(ctx, st, &raw, st.parser.Flush()); err != nil {
		return raw.String(), err
	}
	return raw.String(), nil
}

// openStream opens the provider stream, retrying retryable connection
// errors with exponential backoff. Fatal classifications abort immediately.
func (c *Controller) openStream(ctx context.Context, req *provider.Request) (provider.Stream, error) {
	return backoff.RetryWithData(func() (provider.Stream, error) {
		stream, err := c.provider.Stream(ctx, req)
		if err == nil {
			return stream, nil
		}
		cerr := provider.Classify(err)
		if provider.IsRetryable(cerr) {
			c.log.Warn().Err(cerr).Msg("stream open failed, retrying")
			return nil, cerr
		}
		return nil, backoff.Permanent(cerr)
	}, backoff.WithContext(c.newBackoff(), ctx))
}

// waitRetry sleeps for the next backoff interval after a retryable
// mid-stream failure. False means the retry budget is exhausted.
func (c *Controller) waitRetry(ctx context.Context, bo backoff.BackOff, cause error) bool {
	d := bo.NextBackOff()
	if d == backoff.Stop {
		return false
	}
	c.log.Warn().Err(cause).Dur("wait", d).Msg("stream failed mid-response, retrying")
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Controller) handleEvents(ctx context.Context, st *turnState, raw *strings.Builder, events []parser.Event) error {
	for _, ev := range events {
		switch e := ev.(type) {
		case parser.DisplayText:
			raw.WriteString(e.Text)
			c.window.AppendDelta(e.Text)
			if c.sink != nil {
				c.sink(e.Text)
			}
			event.Publish(event.Event{Type: event.DisplayDelta, Data: event.DisplayDeltaData{
				SessionID: c.window.SessionID(),
				Text:      e.Text,
			}})

		case parser.Call:
			if err := c.executeCall(ctx, st, e.Tool); err != nil {
				return err
			}
		}
	}
	return nil
}

// executeCall runs one detected tool call in detection order. Execution
// failures and unknown tools are recorded as tool-role messages and the
// turn continues; only a blown budget is fatal.
func (c *Controller) executeCall(ctx context.Context, st *turnState, call types.ToolCall) error {
	st.calls++
	if st.calls > c.cfg.ToolBudget {
		return ErrTurnBudgetExceeded
	}

	call.Turn = c.turn
	if committed, ok := c.window.CommitAssistant(); ok {
		call.MessageID = committed.ID
	}

	event.Publish(event.Event{Type: event.ToolDetected, Data: event.ToolDetectedData{
		SessionID: c.window.SessionID(),
		Call:      call,
	}})

	if blocked, open := c.gate.Blocks(call); blocked {
		c.log.Info().Str("tool", call.Name).Int("open", open).Msg("final output rejected, checklist incomplete")
		c.appendToolMessage(types.ToolResult{
			Name:  call.Name,
			Error: fmt.Sprintf("final output rejected: %d checklist item(s) still incomplete; finish them first", open),
		}, call)
		st.ranTools = true
		st.anyTools = true
		return nil
	}

	result, err := c.dispatcher.Dispatch(ctx, call)
	if err != nil {
		var unknown *tool.UnknownToolError
		if !errors.As(err, &unknown) {
			return err
		}
		result = types.ToolResult{Name: call.Name, Error: err.Error()}
	}

	// The tool may have rewritten the checklist artifact; the fsnotify
	// watch also catches this, but not necessarily before the next call.
	c.gate.invalidate()

	c.appendToolMessage(result, call)
	st.ranTools = true
	st.anyTools = true
	return nil
}

func (c *Controller) appendToolMessage(result types.ToolResult, call types.ToolCall) {
	content := result.Output
	if result.IsError() {
		content = "Error: " + result.Error
	}
	c.window.Append(types.Message{
		Role:       types.RoleTool,
		Content:    content,
		ToolName:   result.Name,
		ToolCallID: call.MessageID,
	})
}

func (c *Controller) lastAssistantContent() string {
	msgs := c.window.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role.Is(types.RoleAssistant) {
			return msgs[i].Content
		}
	}
	return ""
}

func (c *Controller) publishFinished(outcome string, err error) {
	data := event.TurnFinishedData{
		SessionID: c.window.SessionID(),
		Turn:      c.turn,
		Outcome:   outcome,
	}
	if err != nil {
		data.Error = err.Error()
	}
	event.Publish(event.Event{Type: event.TurnFinished, Data: data})
}
