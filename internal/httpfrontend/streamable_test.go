package httpfrontend

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const initializeBody = `{"jsonrpc":"2.0","id":"init-1","method":"initialize","params":{"protocolVersion":"2025-06-18","capabilities":{},"clientInfo":{"name":"test-client","version":"0"}}}`

func TestStreamable_UnknownName404(t *testing.T) {
	f := newTestFrontend(t, nil)
	srv := httptest.NewServer(f.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/servers/nope/mcp", "application/json", strings.NewReader(initializeBody))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStreamable_FirstPostMustInitialize(t *testing.T) {
	f := newTestFrontend(t, nil)
	srv := httptest.NewServer(f.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/servers/echo/mcp", "application/json",
		strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStreamable_StatefulSession(t *testing.T) {
	f := newTestFrontend(t, nil)
	srv := httptest.NewServer(f.Handler())
	defer srv.Close()

	url := srv.URL + "/servers/echo/mcp"

	post := func(body, sessID string) *http.Response {
		t.Helper()
		req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		if sessID != "" {
			req.Header.Set(sessionIDHeader, sessID)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		return resp
	}

	resp := post(initializeBody, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	sessID := resp.Header.Get(sessionIDHeader)
	require.NotEmpty(t, sessID, "initialize response must carry a session id")
	body := readBody(t, resp)
	assert.Contains(t, body, `"mcp-proxy"`)
	assert.Contains(t, body, `"init-1"`)

	resp = post(`{"jsonrpc":"2.0","method":"notifications/initialized","params":{}}`, sessID)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()

	resp = post(`{"jsonrpc":"2.0","id":1,"method":"ping"}`, sessID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":1,"result":{}}`, readBody(t, resp))

	// DELETE tears the session down; subsequent POSTs no longer find it.
	req, err := http.NewRequest(http.MethodDelete, url, nil)
	require.NoError(t, err)
	req.Header.Set(sessionIDHeader, sessID)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = post(`{"jsonrpc":"2.0","id":2,"method":"ping"}`, sessID)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestStreamable_UnknownSession404(t *testing.T) {
	f := newTestFrontend(t, nil)
	srv := httptest.NewServer(f.Handler())
	defer srv.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/servers/echo/mcp",
		strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	require.NoError(t, err)
	req.Header.Set(sessionIDHeader, "no-such-session")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStreamable_StatelessPing(t *testing.T) {
	f := newTestFrontend(t, func(o *Options) { o.Stateless = true })
	srv := httptest.NewServer(f.Handler())
	defer srv.Close()

	// A bare request: the front-end performs the implicit handshake,
	// relays the exchange, and tears the whole bridge down.
	resp, err := http.Post(srv.URL+"/servers/echo/mcp", "application/json",
		strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":1,"result":{}}`, readBody(t, resp))
	assert.Empty(t, resp.Header.Get(sessionIDHeader), "stateless mode retains no session id")
}

func TestStreamable_StatelessInitialize(t *testing.T) {
	f := newTestFrontend(t, func(o *Options) { o.Stateless = true })
	srv := httptest.NewServer(f.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/servers/echo/mcp", "application/json", strings.NewReader(initializeBody))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := readBody(t, resp)
	assert.Contains(t, body, `"init-1"`)
	assert.Contains(t, body, `"mcp-proxy"`)
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}
