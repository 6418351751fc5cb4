package tool

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePage = `<html><head><title>t</title><script>var x = 1;</script></head>
<body><h1>Welcome</h1><p>Plain paragraph.</p></body></html>`

func fetchServer(t *testing.T, contentType, body string, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestWebFetchMarkdown(t *testing.T) {
	srv := fetchServer(t, "text/html", samplePage, http.StatusOK)
	tctx := newTestContext(t)

	res, err := runTool(t, NewWebFetchTool(), tctx, map[string]any{"url": srv.URL})
	require.NoError(t, err)
	assert.Contains(t, res.Output, "# Welcome")
	assert.Contains(t, res.Output, "Plain paragraph.")
	assert.NotContains(t, res.Output, "var x")
}

func TestWebFetchText(t *testing.T) {
	srv := fetchServer(t, "text/html", samplePage, http.StatusOK)
	tctx := newTestContext(t)

	res, err := runTool(t, NewWebFetchTool(), tctx, map[string]any{"url": srv.URL, "format": "text"})
	require.NoError(t, err)
	assert.Contains(t, res.Output, "Welcome")
	assert.Contains(t, res.Output, "Plain paragraph.")
	assert.NotContains(t, res.Output, "<h1>")
	assert.NotContains(t, res.Output, "var x")
}

func TestWebFetchHTMLPassthrough(t *testing.T) {
	srv := fetchServer(t, "text/html", samplePage, http.StatusOK)
	tctx := newTestContext(t)

	res, err := runTool(t, NewWebFetchTool(), tctx, map[string]any{"url": srv.URL, "format": "html"})
	require.NoError(t, err)
	assert.Contains(t, res.Output, "<h1>Welcome</h1>")
}

func TestWebFetchNonHTMLLeftAlone(t *testing.T) {
	srv := fetchServer(t, "application/json", `{"ok":true}`, http.StatusOK)
	tctx := newTestContext(t)

	res, err := runTool(t, NewWebFetchTool(), tctx, map[string]any{"url": srv.URL})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, res.Output)
}

func TestWebFetchRejectsBadScheme(t *testing.T) {
	tctx := newTestContext(t)

	_, err := runTool(t, NewWebFetchTool(), tctx, map[string]any{"url": "ftp://example.com/file"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http:// or https://")
}

func TestWebFetchRejectsBadFormat(t *testing.T) {
	tctx := newTestContext(t)

	_, err := runTool(t, NewWebFetchTool(), tctx, map[string]any{"url": "https://example.com", "format": "xml"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "format must be")
}

func TestWebFetchErrorStatus(t *testing.T) {
	srv := fetchServer(t, "text/plain", "gone", http.StatusNotFound)
	tctx := newTestContext(t)

	_, err := runTool(t, NewWebFetchTool(), tctx, map[string]any{"url": srv.URL})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}
