package tool

import (
	"context"
	"fmt"
	"sync"

	"github.com/openloop-ai/openloop/internal/storage"
)

// Context is the shared execution context passed into every tool call. It
// owns the long-lived resources that outlive individual calls and turns:
// the background-process table, the browser session, pending attachments,
// and the pending-research tracker. These are released only by explicit
// tool request or session teardown, never implicitly by the dispatcher.
type Context struct {
	SessionID string
	MessageID string
	CallID    string
	WorkDir   string

	Store *storage.Storage

	Processes *ProcessTable

	// NewBrowser lazily creates the backend session on first use.
	NewBrowser BrowserFactory

	browserMu sync.Mutex
	browser   BrowserSession

	attachMu    sync.Mutex
	attachments []Attachment

	Research *ResearchTracker
}

// NewContext creates an execution context for one session.
func NewContext(sessionID, workDir string, store *storage.Storage) *Context {
	return &Context{
		SessionID: sessionID,
		WorkDir:   workDir,
		Store:     store,
		Processes: NewProcessTable(),
		Research:  NewResearchTracker(),
	}
}

// AddAttachment queues an attachment produced by a tool for the next
// outgoing message.
func (c *Context) AddAttachment(a Attachment) {
	c.attachMu.Lock()
	defer c.attachMu.Unlock()
	c.attachments = append(c.attachments, a)
}

// TakeAttachments drains the pending attachment queue.
func (c *Context) TakeAttachments() []Attachment {
	c.attachMu.Lock()
	defer c.attachMu.Unlock()
	out := c.attachments
	c.attachments = nil
	return out
}

// Close releases all long-lived resources at session teardown.
func (c *Context) Close(ctx context.Context) error {
	var firstErr error
	if c.Processes != nil {
		c.Processes.ReleaseAll()
	}
	c.browserMu.Lock()
	if c.browser != nil {
		if err := c.browser.Close(ctx); err != nil {
			firstErr = err
		}
		c.browser = nil
	}
	c.browserMu.Unlock()
	return firstErr
}

// ResearchTracker records research requests spawned during a session that
// have not produced results yet.
type ResearchTracker struct {
	mu      sync.Mutex
	pending map[string]string // id -> topic
	nextID  int
}

// NewResearchTracker creates an empty tracker.
func NewResearchTracker() *ResearchTracker {
	return &ResearchTracker{pending: make(map[string]string)}
}

// Add registers a pending research topic and returns its identifier.
func (r *ResearchTracker) Add(topic string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := fmt.Sprintf("rsc_%04d", r.nextID)
	r.pending[id] = topic
	return id
}

// Resolve removes a completed research request.
func (r *ResearchTracker) Resolve(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[id]
	delete(r.pending, id)
	return ok
}

// Pending returns a copy of the unresolved topics keyed by id.
func (r *ResearchTracker) Pending() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.pending))
	for k, v := range r.pending {
		out[k] = v
	}
	return out
}
