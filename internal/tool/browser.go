package tool

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// BrowserSession is the browser-automation capability. Each driver backend
// implements it; callers depend only on the interface.
type BrowserSession interface {
	Navigate(ctx context.Context, url string) error
	CurrentURL(ctx context.Context) (string, error)
	FindElement(ctx context.Context, selector string) (string, error)
	ExecuteScript(ctx context.Context, script string) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
	Close(ctx context.Context) error
}

// BrowserFactory creates a backend session on first use.
type BrowserFactory func(ctx context.Context) (BrowserSession, error)

// Browser returns the live session, creating one if needed. The session is
// held behind the context's exclusive guard and survives across calls and
// turns until explicitly closed.
func (c *Context) Browser(ctx context.Context) (BrowserSession, error) {
	c.browserMu.Lock()
	defer c.browserMu.Unlock()
	if c.browser != nil {
		return c.browser, nil
	}
	if c.NewBrowser == nil {
		return nil, fmt.Errorf("no browser backend configured")
	}
	session, err := c.NewBrowser(ctx)
	if err != nil {
		return nil, fmt.Errorf("open browser: %w", err)
	}
	c.browser = session
	return session, nil
}

// CloseBrowser tears down the live session, if any.
func (c *Context) CloseBrowser(ctx context.Context) error {
	c.browserMu.Lock()
	defer c.browserMu.Unlock()
	if c.browser == nil {
		return nil
	}
	err := c.browser.Close(ctx)
	c.browser = nil
	return err
}

const browserDescription = `Drives the session's browser.

Usage:
- action "navigate" with url opens a page
- action "url" returns the current page URL
- action "find" with selector returns the matched element's text
- action "script" with script evaluates JavaScript and returns the result
- action "screenshot" captures the page as an attachment
- action "close" releases the browser session`

// BrowserTool exposes the browser session to the model.
type BrowserTool struct{}

// BrowserInput represents the input for the browser tool.
type BrowserInput struct {
	Action   string `json:"action"`
	URL      string `json:"url,omitempty"`
	Selector string `json:"selector,omitempty"`
	Script   string `json:"script,omitempty"`
}

// NewBrowserTool creates a new browser tool.
func NewBrowserTool() *BrowserTool { return &BrowserTool{} }

func (t *BrowserTool) ID() string          { return "browser" }
func (t *BrowserTool) Description() string { return browserDescription }

func (t *BrowserTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params BrowserInput
	if err := decodeInput(input, &params); err != nil {
		return nil, err
	}
	if toolCtx == nil {
		return nil, fmt.Errorf("no execution context")
	}

	if params.Action == "close" {
		if err := toolCtx.CloseBrowser(ctx); err != nil {
			return nil, err
		}
		return &Result{Title: "Browser closed", Output: "Browser session released"}, nil
	}

	session, err := toolCtx.Browser(ctx)
	if err != nil {
		return nil, err
	}

	switch params.Action {
	case "navigate":
		if params.URL == "" {
			return nil, fmt.Errorf("navigate requires url")
		}
		if err := session.Navigate(ctx, params.URL); err != nil {
			return nil, err
		}
		return &Result{Title: "Navigated", Output: fmt.Sprintf("Navigated to %s", params.URL)}, nil

	case "url":
		url, err := session.CurrentURL(ctx)
		if err != nil {
			return nil, err
		}
		return &Result{Title: "Current URL", Output: url}, nil

	case "find":
		if params.Selector == "" {
			return nil, fmt.Errorf("find requires selector")
		}
		text, err := session.FindElement(ctx, params.Selector)
		if err != nil {
			return nil, err
		}
		return &Result{Title: fmt.Sprintf("Found %s", params.Selector), Output: text}, nil

	case "script":
		if params.Script == "" {
			return nil, fmt.Errorf("script requires script")
		}
		out, err := session.ExecuteScript(ctx, params.Script)
		if err != nil {
			return nil, err
		}
		return &Result{Title: "Script result", Output: out}, nil

	case "screenshot":
		img, err := session.Screenshot(ctx)
		if err != nil {
			return nil, err
		}
		att := Attachment{
			Filename:  "screenshot.png",
			MediaType: "image/png",
			URL:       "data:image/png;base64," + base64.StdEncoding.EncodeToString(img),
		}
		return &Result{
			Title:       "Screenshot captured",
			Output:      fmt.Sprintf("Captured screenshot (%d bytes)", len(img)),
			Attachments: []Attachment{att},
		}, nil

	default:
		return nil, fmt.Errorf("unknown action: %q", params.Action)
	}
}
