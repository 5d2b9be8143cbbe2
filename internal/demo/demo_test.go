package demo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	ws "github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmockd/peek/pkg/wsinst"
)

func call(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	h.ServeHTTP(rec, req)
	return rec
}

func TestRoutes(t *testing.T) {
	t.Parallel()

	h := New(nil, nil, nil).Router()

	resp := call(h, http.MethodGet, "/api/hello?name=ann", "")
	assert.JSONEq(t, `{"message":"hello ann"}`, resp.Body.String())

	resp = call(h, http.MethodPost, "/api/echo", `{"a":1}`)
	assert.JSONEq(t, `{"a":1}`, resp.Body.String())
	assert.Equal(t, "application/json", resp.Header().Get("Content-Type"))

	resp = call(h, http.MethodGet, "/api/items/42", "")
	assert.JSONEq(t, `{"id":"42","name":"item 42","price":9.99}`, resp.Body.String())

	resp = call(h, http.MethodGet, "/api/fail", "")
	assert.Equal(t, http.StatusInternalServerError, resp.Code)
}

func TestCacheRoutes(t *testing.T) {
	t.Parallel()

	h := New(nil, nil, nil).Router()

	assert.Equal(t, http.StatusNotFound, call(h, http.MethodGet, "/api/cache/k", "").Code)
	assert.Equal(t, http.StatusCreated, call(h, http.MethodPut, "/api/cache/k", "v1").Code)

	resp := call(h, http.MethodGet, "/api/cache/k", "")
	assert.JSONEq(t, `{"key":"k","value":"v1"}`, resp.Body.String())

	resp = call(h, http.MethodDelete, "/api/cache/k", "")
	assert.JSONEq(t, `{"deleted":1}`, resp.Body.String())
}

func TestNotify(t *testing.T) {
	t.Parallel()

	rec := wsinst.NewRecorder(10)
	app := New(nil, rec, nil)
	app.SetEmitter(rec.InstrumentEmitter(app.Events(), rec.Connect("", "", "bus")))
	h := app.Router()

	resp := call(h, http.MethodPost, "/api/notify", `{"event":"order","data":{"id":1}}`)
	assert.Equal(t, http.StatusAccepted, resp.Code)
	assert.JSONEq(t, `{"event":"order"}`, resp.Body.String())

	msgs := rec.Messages(0)
	require.Len(t, msgs, 1)
	assert.Equal(t, "order", msgs[0].Event)
	assert.Equal(t, wsinst.KindEmit, msgs[0].Kind)

	resp = call(h, http.MethodPost, "/api/notify", "")
	assert.JSONEq(t, `{"event":"notify"}`, resp.Body.String())
}

func TestNotify_SetEmitterWhileServing(t *testing.T) {
	t.Parallel()

	rec := wsinst.NewRecorder(100)
	app := New(nil, rec, nil)
	h := app.Router()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			app.SetEmitter(rec.InstrumentEmitter(app.Events(), "bus"))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			resp := call(h, http.MethodPost, "/api/notify", `{"event":"tick"}`)
			assert.Equal(t, http.StatusAccepted, resp.Code)
		}
	}()
	wg.Wait()
}

func TestWebSocketEcho(t *testing.T) {
	t.Parallel()

	rec := wsinst.NewRecorder(10)
	srv := httptest.NewServer(New(nil, rec, nil).Router())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, _, err := ws.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer c.CloseNow() //nolint:errcheck

	_, welcome, err := c.Read(ctx)
	require.NoError(t, err)
	assert.Contains(t, string(welcome), `"type":"welcome"`)

	require.NoError(t, c.Write(ctx, ws.MessageText, []byte("hi")))
	_, echoed, err := c.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(echoed))

	require.Eventually(t, func() bool { return rec.Len() == 3 }, time.Second, 10*time.Millisecond)
}
