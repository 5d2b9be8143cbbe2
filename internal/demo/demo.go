// Package demo is the sample application `peek serve` mounts the inspector
// on.
package demo

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	ws "github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/getmockd/peek/pkg/cacheinst"
	"github.com/getmockd/peek/pkg/httputil"
	"github.com/getmockd/peek/pkg/logging"
	"github.com/getmockd/peek/pkg/wsinst"
)

// cacheTTL applies to values stored through PUT /api/cache/{key}.
const cacheTTL = 10 * time.Minute

// App is the demo application.
type App struct {
	cache  cacheinst.CacheClient
	ws     *wsinst.Recorder
	events *wsinst.Bus
	logger *slog.Logger

	mu      sync.RWMutex
	emitter wsinst.EventEmitter
}

// New creates the demo application. cache and rec may be nil.
func New(cache cacheinst.CacheClient, rec *wsinst.Recorder, logger *slog.Logger) *App {
	if cache == nil {
		cache = cacheinst.NewMemoryCache()
	}
	if rec == nil {
		rec = wsinst.NewRecorder(0)
	}
	a := &App{cache: cache, ws: rec, logger: logging.Component(logger, "demo")}
	a.events = wsinst.NewBus(func(event string, args ...any) error {
		a.logger.Info("event emitted", "event", event, "args", len(args))
		return nil
	})
	a.emitter = a.events
	return a
}

// Events returns the application's event bus.
func (a *App) Events() *wsinst.Bus { return a.events }

// SetEmitter replaces the emitter used by POST /api/notify. It is safe to
// call while the app is serving.
func (a *App) SetEmitter(e wsinst.EventEmitter) {
	a.mu.Lock()
	a.emitter = e
	a.mu.Unlock()
}

func (a *App) currentEmitter() wsinst.EventEmitter {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.emitter
}

// Router returns the application's routes.
func (a *App) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/hello", a.hello)
		r.Post("/echo", a.echo)
		r.Get("/items/{id}", a.item)
		r.Get("/cache/{key}", a.cacheGet)
		r.Put("/cache/{key}", a.cachePut)
		r.Delete("/cache/{key}", a.cacheDel)
		r.Post("/notify", a.notify)
		r.Get("/fail", a.fail)
	})
	r.Handle("/ws", a.ws.Handler(nil, a.echoSocket))
	return r
}

func (a *App) hello(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		name = "world"
	}
	httputil.WriteOK(w, map[string]string{"message": "hello " + name})
}

func (a *App) echo(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, httputil.MaxJSONBody))
	if err != nil {
		httputil.WriteBadRequest(w, "read_failed", err.Error())
		return
	}
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	_, _ = w.Write(data)
}

func (a *App) item(w http.ResponseWriter, r *http.Request) {
	httputil.WriteOK(w, map[string]any{
		"id":    chi.URLParam(r, "id"),
		"name":  "item " + chi.URLParam(r, "id"),
		"price": 9.99,
	})
}

func (a *App) cacheGet(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	value, ok, err := a.cache.Get(r.Context(), key)
	if err != nil {
		httputil.WriteServiceUnavailable(w, "cache_error", err.Error())
		return
	}
	if !ok {
		httputil.WriteNotFound(w, "not_found", "key not found")
		return
	}
	httputil.WriteOK(w, map[string]string{"key": key, "value": value})
}

func (a *App) cachePut(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	data, err := io.ReadAll(io.LimitReader(r.Body, httputil.MaxJSONBody))
	if err != nil {
		httputil.WriteBadRequest(w, "read_failed", err.Error())
		return
	}
	if err := a.cache.Set(r.Context(), key, string(data), cacheTTL); err != nil {
		httputil.WriteServiceUnavailable(w, "cache_error", err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]string{"key": key})
}

func (a *App) cacheDel(w http.ResponseWriter, r *http.Request) {
	n, err := a.cache.Del(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		httputil.WriteServiceUnavailable(w, "cache_error", err.Error())
		return
	}
	httputil.WriteOK(w, map[string]int{"deleted": n})
}

func (a *App) notify(w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	if err := httputil.ReadJSON(r, &payload); err != nil && !errors.Is(err, httputil.ErrEmptyBody) {
		httputil.WriteBadRequest(w, "invalid_json", err.Error())
		return
	}
	event, _ := payload["event"].(string)
	if event == "" {
		event = "notify"
	}
	if err := a.currentEmitter().Emit(event, payload["data"]); err != nil {
		httputil.WriteInternalError(w, "emit_failed", err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"event": event})
}

func (a *App) fail(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteInternalError(w, "demo_failure", "this route always fails")
}

// echoSocket echoes every message back until the peer disconnects.
func (a *App) echoSocket(ctx context.Context, c *wsinst.Conn) {
	if err := c.WriteJSON(ctx, map[string]string{"type": "welcome", "connection": c.ID()}); err != nil {
		return
	}
	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			if ws.CloseStatus(err) != ws.StatusNormalClosure && !errors.Is(err, context.Canceled) {
				a.logger.Debug("websocket read ended", "connection", c.ID(), "error", err)
			}
			return
		}
		if err := c.Write(ctx, typ, data); err != nil {
			return
		}
	}
}
