package tool

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/openloop-ai/openloop/internal/event"
	"github.com/openloop-ai/openloop/internal/logging"
	"github.com/openloop-ai/openloop/pkg/types"
)

// UnknownToolError reports a call no category claimed. The turn records it
// and continues.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool: %s", e.Name)
}

// Category is one group of tools sharing a concern. The dispatcher tries
// categories in fixed priority order; the first whose predicate claims the
// call handles it.
type Category struct {
	name  string
	order []string
	tools map[string]Tool
}

// NewCategory creates a category over the given tools.
func NewCategory(name string, tools ...Tool) *Category {
	c := &Category{name: name, tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		key := strings.ToLower(t.ID())
		c.order = append(c.order, key)
		c.tools[key] = t
	}
	return c
}

// Name returns the category name.
func (c *Category) Name() string { return c.name }

// Claims reports whether this category handles the named tool.
func (c *Category) Claims(name string) bool {
	_, ok := c.tools[strings.ToLower(name)]
	return ok
}

// Tools returns the category's tools in registration order.
func (c *Category) Tools() []Tool {
	out := make([]Tool, 0, len(c.order))
	for _, key := range c.order {
		out = append(out, c.tools[key])
	}
	return out
}

// Dispatcher routes one recognized tool call to exactly one category
// executor. Calls within a turn run strictly sequentially in detection
// order; the dispatcher guarantees ordering and single-flight execution,
// side effects belong to the tools.
type Dispatcher struct {
	mu         sync.Mutex
	categories []*Category
	tctx       *Context
}

// NewDispatcher creates a dispatcher over an explicit category order.
func NewDispatcher(tctx *Context, categories ...*Category) *Dispatcher {
	if len(categories) == 0 {
		categories = DefaultCategories()
	}
	return &Dispatcher{categories: categories, tctx: tctx}
}

// DefaultCategories is the built-in priority order: workspace file
// operations first, then shell, web, and the checklist.
func DefaultCategories() []*Category {
	return []*Category{
		NewCategory("workspace",
			NewReadTool(),
			NewWriteTool(),
			NewEditTool(),
			NewListTool(),
			NewGlobTool(),
			NewGrepTool(),
		),
		NewCategory("shell",
			NewBashTool(),
			NewProcessTool(),
		),
		NewCategory("web",
			NewWebFetchTool(),
			NewBrowserTool(),
			NewResearchTool(),
		),
		NewCategory("todo",
			NewTodoReadTool(),
			NewTodoWriteTool(),
		),
		NewCategory("control",
			NewFinishTool(),
		),
	}
}

// Context returns the shared execution context.
func (d *Dispatcher) Context() *Context { return d.tctx }

// Tools returns every tool in category priority order.
func (d *Dispatcher) Tools() []Tool {
	var out []Tool
	for _, c := range d.categories {
		out = append(out, c.Tools()...)
	}
	return out
}

// Lookup finds the tool and owning category that would claim name.
func (d *Dispatcher) Lookup(name string) (Tool, *Category, bool) {
	for _, c := range d.categories {
		if c.Claims(name) {
			return c.tools[strings.ToLower(name)], c, true
		}
	}
	return nil, nil, false
}

// Dispatch executes one call. Tool execution failures come back inside the
// result so the turn can record them and continue; only an unclaimed name
// returns an error.
func (d *Dispatcher) Dispatch(ctx context.Context, call types.ToolCall) (types.ToolResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	tool, category, ok := d.Lookup(call.Name)
	if !ok {
		return types.ToolResult{}, &UnknownToolError{Name: call.Name}
	}

	log := logging.For("tool")
	log.Debug().
		Str("tool", call.Name).
		Str("category", category.Name()).
		Str("session", d.tctx.SessionID).
		Msg("dispatching tool call")

	start := time.Now()
	res, err := tool.Execute(ctx, call.ArgsJSON(), d.tctx)
	duration := time.Since(start)

	result := types.ToolResult{CallID: call.MessageID, Name: call.Name}
	if err != nil {
		result.Error = err.Error()
		log.Warn().Str("tool", call.Name).Err(err).Msg("tool execution failed")
	} else if res != nil {
		result.Output = res.Output
		for _, att := range res.Attachments {
			d.tctx.AddAttachment(att)
		}
	}

	event.Publish(event.Event{Type: event.ToolExecuted, Data: event.ToolExecutedData{
		SessionID:  d.tctx.SessionID,
		Result:     result,
		DurationMS: duration.Milliseconds(),
	}})

	return result, nil
}
