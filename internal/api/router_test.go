package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steemit/redsky/internal/app"
	"github.com/steemit/redsky/internal/blobcache"
	"github.com/steemit/redsky/internal/cache"
	"github.com/steemit/redsky/internal/models"
	"github.com/steemit/redsky/internal/protocol"
	"github.com/steemit/redsky/internal/ui"
)

// syncLoop runs interactions inline under a mutex
type syncLoop struct {
	mu      sync.Mutex
	app     *app.App
	stopped bool
}

func (l *syncLoop) Do(_ context.Context, fn func(*app.App) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return ui.ErrStopped
	}
	return fn(l.app)
}

func (l *syncLoop) LastFrame() app.Frame {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.app.Render()
}

func (l *syncLoop) Frames() uint64 { return 7 }

type healthFunc func(ctx context.Context) error

func (f healthFunc) Health(ctx context.Context) error { return f(ctx) }

type harness struct {
	engine   *gin.Engine
	loop     *syncLoop
	commands chan protocol.Command
	events   chan protocol.Event
}

func newHarness(t *testing.T, queue int, blobs HealthChecker) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	h := &harness{
		commands: make(chan protocol.Command, queue),
		events:   make(chan protocol.Event, 16),
	}
	h.loop = &syncLoop{app: app.New(h.commands, h.events, cache.NewStore(0))}
	h.engine = gin.New()
	NewRouter(h.loop, blobs).SetupRoutes(h.engine)
	return h
}

func (h *harness) call(t *testing.T, method string, params interface{}) JSONRPCResponse {
	t.Helper()
	body := map[string]interface{}{"jsonrpc": "2.0", "id": 1, "method": method}
	if params != nil {
		body["params"] = params
	}
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	return h.post(t, raw)
}

func (h *harness) post(t *testing.T, raw []byte) JSONRPCResponse {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.engine.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp JSONRPCResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func (h *harness) deliver(ev protocol.Event) {
	h.loop.mu.Lock()
	defer h.loop.mu.Unlock()
	h.loop.app.Apply(ev)
}

func errorCode(t *testing.T, resp JSONRPCResponse) int {
	t.Helper()
	require.NotNil(t, resp.Error, "expected an error response")
	return resp.Error.Code
}

func TestLoginFlow(t *testing.T) {
	h := newHarness(t, 16, nil)

	resp := h.call(t, "client.login", map[string]string{"login": "alice", "password": "pw"})
	require.Nil(t, resp.Error)
	assert.Equal(t, map[string]interface{}{"ok": true}, resp.Result)
	assert.Equal(t, protocol.Login{Login: "alice", Password: "pw"}, <-h.commands)

	resp = h.call(t, "client.login", map[string]string{"login": "alice", "password": "pw"})
	assert.Equal(t, ErrInvalidState, errorCode(t, resp))

	h.deliver(protocol.LoginSucceeded{Handle: "alice.bsky.social"})

	resp = h.call(t, "client.state", nil)
	require.Nil(t, resp.Error)
	state := resp.Result.(map[string]interface{})
	assert.Equal(t, "own_profile", state["view"])
	assert.Equal(t, true, state["logged_in"])
	assert.Equal(t, "alice.bsky.social", state["login_name"])

	resp = h.call(t, "client.select_view", map[string]string{"view": "timeline"})
	require.Nil(t, resp.Error)
	resp = h.call(t, "client.select_view", map[string]string{"view": "logged_out"})
	assert.Equal(t, ErrInvalidParams, errorCode(t, resp))
	resp = h.call(t, "client.select_view", map[string]string{"view": "nowhere"})
	assert.Equal(t, ErrInvalidParams, errorCode(t, resp))
}

func TestParamValidation(t *testing.T) {
	h := newHarness(t, 16, nil)

	tests := []struct {
		name   string
		method string
		params interface{}
	}{
		{"login without password", "client.login", map[string]string{"login": "alice"}},
		{"login without params", "client.login", nil},
		{"post without text", "client.post", map[string]string{}},
		{"profile without handle", "client.open_profile", map[string]string{"handle": ""}},
		{"thread without uri", "client.open_thread", map[string]string{"cid": "c1"}},
		{"likers without uri", "client.close_likers", map[string]string{}},
		{"image without uri", "client.open_image", map[string]string{}},
		{"positional params", "client.open_profile", []string{"alice"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := h.call(t, tt.method, tt.params)
			assert.Equal(t, ErrInvalidParams, errorCode(t, resp))
		})
	}
	assert.Empty(t, h.commands, "invalid params never reach the actor")
}

func TestEnvelopeErrors(t *testing.T) {
	h := newHarness(t, 16, nil)

	resp := h.post(t, []byte(`{not json`))
	assert.Equal(t, ErrParseError, errorCode(t, resp))

	resp = h.post(t, []byte(`{"jsonrpc":"1.0","id":1,"method":"client.state"}`))
	assert.Equal(t, ErrInvalidRequest, errorCode(t, resp))

	resp = h.call(t, "client.unknown", nil)
	assert.Equal(t, ErrMethodNotFound, errorCode(t, resp))
}

func TestDetailViews(t *testing.T) {
	h := newHarness(t, 16, nil)
	ref := models.ContentRef{URI: "at://did:plc:a/app.bsky.feed.post/1", CID: "c1"}

	resp := h.call(t, "client.open_thread", ref)
	require.Nil(t, resp.Error)
	assert.Equal(t, protocol.GetPostThread{Ref: ref}, <-h.commands)

	resp = h.call(t, "client.open_likers", ref)
	require.Nil(t, resp.Error)
	assert.Equal(t, protocol.GetPostLikers{Ref: ref}, <-h.commands)

	resp = h.call(t, "client.open_profile", map[string]string{"handle": "bob"})
	require.Nil(t, resp.Error)
	assert.Equal(t, protocol.GetUserProfile{Handle: "bob"}, <-h.commands)
	assert.Equal(t, protocol.GetUserPosts{Handle: "bob"}, <-h.commands)

	resp = h.call(t, "client.open_image", map[string]string{"uri": "https://cdn/img"})
	require.Nil(t, resp.Error)
	assert.Equal(t, protocol.LoadImage{URI: "https://cdn/img"}, <-h.commands)

	resp = h.call(t, "client.cache_stats", nil)
	require.Nil(t, resp.Error)
	raw, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var stats cache.Stats
	require.NoError(t, json.Unmarshal(raw, &stats))
	assert.Equal(t, 1, stats.OpenThreads)
	assert.Equal(t, 1, stats.OpenLikers)
	assert.Equal(t, 1, stats.OpenProfiles)
	assert.Equal(t, 1, stats.OpenImages)
	assert.Equal(t, 1, stats.Threads.States["pending"])

	for _, m := range []string{"client.close_thread", "client.close_likers"} {
		resp = h.call(t, m, ref)
		require.Nil(t, resp.Error, m)
	}
	resp = h.call(t, "client.close_profile", map[string]string{"handle": "bob"})
	require.Nil(t, resp.Error)
	resp = h.call(t, "client.close_image", map[string]string{"uri": "https://cdn/img"})
	require.Nil(t, resp.Error)

	resp = h.call(t, "client.cache_stats", nil)
	require.Nil(t, resp.Error)
	raw, err = json.Marshal(resp.Result)
	require.NoError(t, err)
	stats = cache.Stats{}
	require.NoError(t, json.Unmarshal(raw, &stats))
	assert.Zero(t, stats.OpenThreads+stats.OpenLikers+stats.OpenProfiles+stats.OpenImages)
	assert.Zero(t, stats.Threads.Entries+stats.Likers.Entries+stats.Profiles.Entries+stats.Images.Entries)
}

func TestBusyAndStopped(t *testing.T) {
	h := newHarness(t, 1, nil)

	resp := h.call(t, "client.open_profile", map[string]string{"handle": "bob"})
	assert.Equal(t, ErrBusy, errorCode(t, resp), "profile fits, posts do not")

	h.loop.stopped = true
	resp = h.call(t, "client.refresh_timeline", nil)
	assert.Equal(t, ErrUnavailable, errorCode(t, resp))
}

func TestNotLoggedIn(t *testing.T) {
	h := newHarness(t, 16, nil)

	for _, m := range []string{"client.refresh_timeline", "client.post"} {
		resp := h.call(t, m, map[string]string{"text": "hi"})
		assert.Equal(t, ErrInvalidState, errorCode(t, resp), m)
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name  string
		blobs HealthChecker
		want  string
	}{
		{"no cache", nil, "disabled"},
		{"disabled cache", (*blobcache.Cache)(nil), "disabled"},
		{"healthy", healthFunc(func(context.Context) error { return nil }), "ok"},
		{"down", healthFunc(func(context.Context) error { return errors.New("connection refused") }), "unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 16, tt.blobs)
			for _, path := range []string{"/health", "/.well-known/healthcheck.json"} {
				w := httptest.NewRecorder()
				h.engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
				require.Equal(t, http.StatusOK, w.Code)

				var body map[string]interface{}
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
				assert.Equal(t, "OK", body["status"])
				assert.Equal(t, tt.want, body["blob_cache"])
				assert.EqualValues(t, 7, body["frames"])
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t, 16, nil)
	w := httptest.NewRecorder()
	h.engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestCodeFor(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{NewError(ErrInvalidParams, "bad"), ErrInvalidParams},
		{app.ErrEmptyInput, ErrInvalidParams},
		{app.ErrInvalidView, ErrInvalidParams},
		{app.ErrNotLoggedIn, ErrInvalidState},
		{app.ErrAlreadyLoggedIn, ErrInvalidState},
		{app.ErrLoginInProgress, ErrInvalidState},
		{app.ErrCommandQueueFull, ErrBusy},
		{ui.ErrStopped, ErrUnavailable},
		{context.DeadlineExceeded, ErrUnavailable},
		{errors.New("boom"), ErrServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			code, _ := codeFor(tt.err)
			assert.Equal(t, tt.code, code)
		})
	}
}
