package capture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmockd/peek/pkg/redact"
)

func newTestInterceptor(t *testing.T, bufferSize int, opts Options, options ...InterceptorOption) *Interceptor {
	t.Helper()
	return NewInterceptor(NewStore(StoreOptions{BufferSize: bufferSize}), opts, options...)
}

func serve(h http.Handler, method, target string, body io.Reader) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, body))
	return rec
}

func TestMiddleware_GetWithQuery(t *testing.T) {
	t.Parallel()

	ic := newTestInterceptor(t, 10, Options{})
	mux := http.NewServeMux()
	mux.HandleFunc("GET /hello", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "x"})
	})

	resp := serve(ic.Middleware(mux), http.MethodGet, "/hello?a=1", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"message":"x"}`, resp.Body.String(), "response is passed through unchanged")

	records := ic.Store().List(0)
	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, http.MethodGet, rec.Method)
	assert.Equal(t, "/hello?a=1", rec.URL)
	assert.Equal(t, "GET /hello", rec.Route)
	assert.Equal(t, map[string]string{"a": "1"}, rec.Query)
	assert.Equal(t, http.StatusOK, rec.Response.StatusCode)
	assert.Equal(t, map[string]any{"message": "x"}, rec.Response.Body)
	assert.GreaterOrEqual(t, rec.DurationMs, int64(0))
	assert.NotEmpty(t, rec.RequestID)
	assert.Zero(t, ic.Store().PendingCount())
}

func TestMiddleware_PasswordRedacted(t *testing.T) {
	t.Parallel()

	ic := newTestInterceptor(t, 10, Options{})
	var seen map[string]string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&seen)
		w.WriteHeader(http.StatusCreated)
	})

	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"user":"ada","password":"secret"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", "req-42")
	ic.Middleware(handler).ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "secret", seen["password"], "handler still receives the original body")

	rec := ic.Store().List(1)[0]
	body, ok := rec.Body.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, redact.Marker, body["password"])
	assert.Equal(t, "ada", body["user"])
	assert.Equal(t, "req-42", rec.RequestID)
	assert.Equal(t, http.StatusCreated, rec.StatusCode())
}

func TestMiddleware_BodyTruncation(t *testing.T) {
	t.Parallel()

	ic := newTestInterceptor(t, 10, Options{MaxBodyBytes: 10})
	payload := `{"data":"` + strings.Repeat("d", 39) + `"}`
	require.Len(t, payload, 50)

	var received string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		received = string(b)
	})
	req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	ic.Middleware(handler).ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, payload, received)

	rec := ic.Store().List(1)[0]
	assert.True(t, rec.Truncated)
	body, ok := rec.Body.(string)
	require.True(t, ok)
	visible := strings.TrimSuffix(body, "...[truncated 40 bytes]")
	assert.NotEqual(t, body, visible)
	assert.LessOrEqual(t, len(visible), 10)
	assert.Equal(t, payload[:10], visible)
}

func TestMiddleware_BufferKeepsMostRecent(t *testing.T) {
	t.Parallel()

	ic := newTestInterceptor(t, 5, Options{})
	mux := http.NewServeMux()
	mux.HandleFunc("GET /items/{n}", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, r.PathValue("n"))
	})
	h := ic.Middleware(mux)

	for i := 0; i < 10; i++ {
		serve(h, http.MethodGet, fmt.Sprintf("/items/%d", i), nil)
	}

	records := ic.Store().List(0)
	require.Len(t, records, 5)
	for i, rec := range records {
		n := 9 - i
		assert.Equal(t, "GET /items/{n}", rec.Route)
		assert.Equal(t, map[string]string{"n": fmt.Sprint(n)}, rec.Params)
		assert.Equal(t, fmt.Sprintf("/items/%d", n), rec.URL)
	}
}

func TestMiddleware_SelfExclusion(t *testing.T) {
	t.Parallel()

	ic := newTestInterceptor(t, 10, Options{BasePath: "/__peek", IgnorePaths: []string{"/healthz", "/static/**"}})
	h := ic.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok := RecordIDFrom(r.Context())
		assert.False(t, ok)
		w.WriteHeader(http.StatusOK)
	}))

	for _, path := range []string{"/__peek", "/__peek/requests", "/__peek/events?x=1", "/healthz", "/static/css/site.css"} {
		serve(h, http.MethodGet, path, nil)
	}
	serve(h, http.MethodPost, "/__peek/replay", strings.NewReader(`{}`))

	assert.Zero(t, ic.Store().Len())
	assert.Zero(t, ic.Store().PendingCount())
}

func TestInterceptor_HooksNoOpWhenExcluded(t *testing.T) {
	t.Parallel()

	ic := newTestInterceptor(t, 10, Options{})
	r := httptest.NewRequest(http.MethodGet, "/__peek/status", nil)
	r2 := ic.OnStart(r)
	assert.Same(t, r, r2)

	ic.OnPreDispatch(r2)
	out := ic.OnPreSend(r2, ResponsePayload{Data: []byte("x")})
	assert.Equal(t, []byte("x"), out)
	ic.OnComplete(r2, http.StatusOK)
	assert.Zero(t, ic.Store().Len())
}

func TestInterceptor_ManualHooks(t *testing.T) {
	t.Parallel()

	ic := newTestInterceptor(t, 10, Options{})
	r := httptest.NewRequest(http.MethodPut, "/manual", strings.NewReader("name=ada"))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	r = ic.OnStart(r)
	recordID, ok := RecordIDFrom(r.Context())
	require.True(t, ok)

	ic.OnPreDispatch(r)
	restored, _ := io.ReadAll(r.Body)
	assert.Equal(t, "name=ada", string(restored))

	payload := ResponsePayload{Data: []byte(`"ok"`), Size: 4, Header: http.Header{}}
	assert.Equal(t, payload.Data, ic.OnPreSend(r, payload))

	ic.OnComplete(r, http.StatusAccepted)
	ic.OnComplete(r, http.StatusInternalServerError)

	rec, ok := ic.Store().Lookup(recordID)
	require.True(t, ok)
	assert.Equal(t, http.StatusAccepted, rec.Response.StatusCode)
	assert.Equal(t, "ok", rec.Response.Body)
	assert.Equal(t, map[string]any{"name": "ada"}, rec.Body)
	assert.Equal(t, 1, ic.Store().Len())
}

func TestMiddleware_ChiRoute(t *testing.T) {
	t.Parallel()

	ic := newTestInterceptor(t, 10, Options{})
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Get("/users/{userID}/tokens/{token}", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
	})

	serve(ic.Middleware(r), http.MethodGet, "/api/users/7/tokens/abc", nil)

	rec := ic.Store().List(1)[0]
	assert.Equal(t, "/api/users/{userID}/tokens/{token}", rec.Route)
	assert.Equal(t, map[string]string{"userID": "7", "token": redact.Marker}, rec.Params)
	assert.Equal(t, http.StatusNoContent, rec.StatusCode())
}

func TestMiddleware_PanicRecordedAndRepanicked(t *testing.T) {
	t.Parallel()

	ic := newTestInterceptor(t, 10, Options{})
	h := ic.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("kaboom")
	}))

	assert.PanicsWithValue(t, "kaboom", func() {
		serve(h, http.MethodGet, "/explode", nil)
	})

	rec := ic.Store().List(1)[0]
	assert.Equal(t, http.StatusInternalServerError, rec.StatusCode())
	assert.Zero(t, ic.Store().PendingCount())
}

func TestMiddleware_StreamingResponseKeepsFlusher(t *testing.T) {
	t.Parallel()

	ic := newTestInterceptor(t, 10, Options{})
	h := ic.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, ok := w.(http.Flusher)
		require.True(t, ok)
		_, _ = io.WriteString(w, "chunk1 ")
		f.Flush()
		_, _ = io.WriteString(w, "chunk2")
	}))

	resp := serve(h, http.MethodGet, "/stream", nil)
	assert.True(t, resp.Flushed)
	assert.Equal(t, "chunk1 chunk2", resp.Body.String())

	rec := ic.Store().List(1)[0]
	assert.Equal(t, "chunk1 chunk2", rec.Response.Body)
	assert.Equal(t, 13, rec.Response.Size)
	require.NotNil(t, rec.Timings)
	assert.NotNil(t, rec.Timings.HandlerMs)
}

func TestMiddleware_ResponseRecorderOverflow(t *testing.T) {
	t.Parallel()

	ic := newTestInterceptor(t, 10, Options{MaxBodyBytes: 16})
	big := strings.Repeat("x", readCeiling(16)+100)
	h := ic.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, big)
	}))

	resp := serve(h, http.MethodGet, "/big", nil)
	assert.Len(t, resp.Body.String(), len(big))

	rec := ic.Store().List(1)[0]
	assert.True(t, rec.Truncated)
	assert.Equal(t, len(big), rec.Response.Size)
	assert.Equal(t, strings.Repeat("x", 16)+truncateSuffix(len(big)-16), rec.Response.Body)
}

func TestMiddleware_Hijack(t *testing.T) {
	t.Parallel()

	ic := newTestInterceptor(t, 10, Options{})
	srv := httptest.NewServer(ic.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, brw, err := w.(http.Hijacker).Hijack()
		require.NoError(t, err)
		_, _ = brw.WriteString("HTTP/1.1 200 OK\r\nContent-Length: 2\r\nConnection: close\r\n\r\nhi")
		_ = brw.Flush()
		_ = conn.Close()
	})))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/raw")
	require.NoError(t, err)
	_ = resp.Body.Close()

	require.Eventually(t, func() bool { return ic.Store().Len() == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, http.StatusSwitchingProtocols, ic.Store().List(1)[0].StatusCode())
}

type fakePersister struct {
	mu      sync.Mutex
	records []*Record
	err     error
}

func (p *fakePersister) Persist(_ context.Context, rec *Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records = append(p.records, rec)
	return p.err
}

func (p *fakePersister) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.records)
}

func TestInterceptor_PersistsInBackground(t *testing.T) {
	t.Parallel()

	p := &fakePersister{err: errors.New("database down")}
	ic := newTestInterceptor(t, 10, Options{}, WithPersister(p))
	h := ic.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	resp := serve(h, http.MethodGet, "/p", nil)
	assert.Equal(t, http.StatusOK, resp.Code, "persistence errors never reach the client")

	ic.Flush()
	assert.Equal(t, 1, p.count())

	ic.SetPersister(nil)
	serve(h, http.MethodGet, "/p2", nil)
	ic.Flush()
	assert.Equal(t, 1, p.count())
}

func TestInterceptor_Broadcasts(t *testing.T) {
	t.Parallel()

	ic := newTestInterceptor(t, 10, Options{})
	ch, unsubscribe := ic.Store().Subscribe()
	defer unsubscribe()

	serve(ic.Middleware(http.NotFoundHandler()), http.MethodGet, "/missing", nil)

	select {
	case frame := <-ch:
		var rec Record
		require.NoError(t, json.Unmarshal(frame, &rec))
		assert.Equal(t, "/missing", rec.URL)
		assert.Equal(t, http.StatusNotFound, rec.Response.StatusCode)
	case <-time.After(time.Second):
		t.Fatal("no broadcast received")
	}
}

func TestInterceptor_ConcurrentRequestsStayCorrelated(t *testing.T) {
	t.Parallel()

	ic := newTestInterceptor(t, 500, Options{})
	h := ic.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(b)
	}))

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/echo/%d", i), strings.NewReader(fmt.Sprintf(`{"n":%d}`, i)))
			req.Header.Set("Content-Type", "application/json")
			h.ServeHTTP(httptest.NewRecorder(), req)
		}(i)
	}
	wg.Wait()

	records := ic.Store().List(0)
	require.Len(t, records, 100)
	for _, rec := range records {
		var n int
		_, err := fmt.Sscanf(rec.URL, "/echo/%d", &n)
		require.NoError(t, err)
		want := map[string]any{"n": json.Number(fmt.Sprint(n))}
		assert.Equal(t, want, rec.Body)
		assert.Equal(t, want, rec.Response.Body)
	}
}

func TestPatternWildcards(t *testing.T) {
	t.Parallel()

	tests := []struct {
		pattern string
		want    []string
	}{
		{"/plain", nil},
		{"GET /items/{id}", []string{"id"}},
		{"example.com/a/{x}/b/{rest...}", []string{"x", "rest"}},
		{"/exact/{$}", nil},
		{"/broken/{open", nil},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, patternWildcards(tt.pattern), tt.pattern)
	}
}
