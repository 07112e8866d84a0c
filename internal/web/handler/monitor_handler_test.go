package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sseEvent struct {
	name string
	data string
}

// openStream connects to the expiry stream and returns a channel of parsed events.
func openStream(t *testing.T, server *httptest.Server, cookie *http.Cookie) <-chan sseEvent {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/grants/expiry/events", nil)
	require.NoError(t, err)
	req.AddCookie(cookie)

	resp, err := server.Client().Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	out := make(chan sseEvent, 8)
	go func() {
		defer resp.Body.Close()
		defer close(out)

		scanner := bufio.NewScanner(resp.Body)
		var current sseEvent
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				current.name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				current.data = strings.TrimPrefix(line, "data: ")
			case line == "" && current.name != "":
				out <- current
				current = sseEvent{}
			}
		}
	}()
	return out
}

func nextEvent(t *testing.T, events <-chan sseEvent) sseEvent {
	t.Helper()
	select {
	case e, ok := <-events:
		require.True(t, ok, "stream closed")
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return sseEvent{}
	}
}

func TestExpiryStreamPromptsAndReauthorizes(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(env.handler)
	t.Cleanup(server.Close)

	cookie := env.signIn(t, "user-1")
	env.saveGrant(t, "user-1", 5*time.Minute, driveFileScope)

	events := openStream(t, server, cookie)

	state := nextEvent(t, events)
	assert.Equal(t, "state", state.name)
	assert.JSONEq(t, `{"state":"prompt_shown"}`, state.data)

	prompt := nextEvent(t, events)
	assert.Equal(t, "prompt", prompt.name)
	assert.Contains(t, prompt.data, `"capability":"sheets.write"`)

	rr := env.do(http.MethodPost, "/api/grants/expiry/reauthorize", `{"returnTo":"/forms/7"}`, cookie)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp ReauthorizeResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.True(t, strings.HasPrefix(resp.RedirectURL, "https://accounts.example.com/o/oauth2/auth?"))
	assert.Contains(t, resp.RedirectURL, "prompt=consent")

	// Reauthorizing is terminal for this monitor
	rr = env.do(http.MethodPost, "/api/grants/expiry/dismiss", "", cookie)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestExpiryStreamDismiss(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(env.handler)
	t.Cleanup(server.Close)

	cookie := env.signIn(t, "user-1")
	env.saveGrant(t, "user-1", time.Minute, driveFileScope)

	events := openStream(t, server, cookie)
	nextEvent(t, events)
	nextEvent(t, events)

	rr := env.do(http.MethodPost, "/api/grants/expiry/dismiss", "", cookie)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = env.do(http.MethodPost, "/api/grants/expiry/dismiss", "", cookie)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestExpiryStreamWatchingDoesNotPrompt(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(env.handler)
	t.Cleanup(server.Close)

	cookie := env.signIn(t, "user-1")
	env.saveGrant(t, "user-1", time.Hour, driveFileScope)

	events := openStream(t, server, cookie)
	state := nextEvent(t, events)
	assert.JSONEq(t, `{"state":"watching"}`, state.data)

	rr := env.do(http.MethodPost, "/api/grants/expiry/reauthorize", "", cookie)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestExpiryStreamWithoutGrantIsIdle(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(env.handler)
	t.Cleanup(server.Close)

	cookie := env.signIn(t, "user-1")
	events := openStream(t, server, cookie)
	state := nextEvent(t, events)
	assert.JSONEq(t, `{"state":"idle"}`, state.data)
}

func TestExpiryEndpointsWithoutMonitor(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.signIn(t, "user-1")

	assert.Equal(t, http.StatusNotFound, env.do(http.MethodPost, "/api/grants/expiry/dismiss", "", cookie).Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodPost, "/api/grants/expiry/reauthorize", "", cookie).Code)
	assert.Equal(t, http.StatusUnauthorized, env.do(http.MethodPost, "/api/grants/expiry/dismiss", "", nil).Code)
}

func TestExpiryStreamEndsOnShutdown(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(env.handler)
	t.Cleanup(server.Close)

	cookie := env.signIn(t, "user-1")
	env.saveGrant(t, "user-1", time.Hour, driveFileScope)

	events := openStream(t, server, cookie)
	assert.Equal(t, "state", nextEvent(t, events).name)

	env.registry.CloseAll()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, server.Config.Shutdown(ctx), "open streams must not hold up shutdown")

	select {
	case _, ok := <-events:
		assert.False(t, ok, "stream should be closed")
	case <-time.After(time.Second):
		t.Fatal("stream still open after shutdown")
	}

	// No new monitors once the registry is closed
	rr := env.do(http.MethodGet, "/api/grants/expiry/events", "", cookie)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
