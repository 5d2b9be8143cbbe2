package inspector

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/getmockd/peek/pkg/cacheinst"
	"github.com/getmockd/peek/pkg/capture"
	"github.com/getmockd/peek/pkg/config"
	"github.com/getmockd/peek/pkg/logging"
	"github.com/getmockd/peek/pkg/metrics"
	"github.com/getmockd/peek/pkg/persist"
	"github.com/getmockd/peek/pkg/replay"
	"github.com/getmockd/peek/pkg/wsinst"
)

// TokenHeader carries the inspector token.
const TokenHeader = "X-Peek-Token"

// DefaultHeartbeat is the interval between event stream keepalive
// comments.
const DefaultHeartbeat = 15 * time.Second

// purgeInterval is how often Run removes expired persisted records.
const purgeInterval = 10 * time.Minute

// Inspector owns the capture pipeline and serves the inspector routes.
type Inspector struct {
	opts config.Options

	store       *capture.Store
	interceptor *capture.Interceptor
	replay      *replay.Engine
	ws          *wsinst.Recorder
	metrics     *metrics.Metrics
	logger      *slog.Logger

	mu          sync.RWMutex
	persistence persist.Backend
	cache       any

	resolver  capture.RouteResolver
	heartbeat time.Duration
	started   time.Time
	mux       *http.ServeMux
}

// Option customizes an Inspector.
type Option func(*Inspector)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(in *Inspector) { in.logger = logging.OrNop(l) }
}

// WithPersistence stores finished records in b.
func WithPersistence(b persist.Backend) Option {
	return func(in *Inspector) { in.persistence = b }
}

// WithCacheClient registers the application's cache client. go-redis
// clients get the capture hook installed; other clients are only reported
// by the redis status route. Use InstrumentCache to wrap a CacheClient.
func WithCacheClient(c any) Option {
	return func(in *Inspector) { in.cache = c }
}

// WithRouteResolver overrides how matched routes are read after dispatch.
func WithRouteResolver(r capture.RouteResolver) Option {
	return func(in *Inspector) { in.resolver = r }
}

// WithMetrics uses m instead of a private registry with runtime
// collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(in *Inspector) { in.metrics = m }
}

// WithHeartbeat sets the event stream keepalive interval.
func WithHeartbeat(d time.Duration) Option {
	return func(in *Inspector) { in.heartbeat = d }
}

// New creates an Inspector. opts is copied and validated.
func New(opts *config.Options, options ...Option) (*Inspector, error) {
	if opts == nil {
		opts = config.Default()
	}
	in := &Inspector{
		opts:      *opts,
		logger:    logging.Nop(),
		heartbeat: DefaultHeartbeat,
	}
	if err := in.opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}
	for _, o := range options {
		o(in)
	}
	if in.metrics == nil {
		in.metrics = metrics.New(true)
	}
	if in.heartbeat <= 0 {
		in.heartbeat = DefaultHeartbeat
	}

	storeOpts := in.opts.StoreOptions()
	storeOpts.Metrics = in.metrics
	storeOpts.Logger = in.logger
	in.store = capture.NewStore(storeOpts)

	icOpts := []capture.InterceptorOption{
		capture.WithLogger(in.logger),
		capture.WithMetrics(in.metrics),
	}
	if in.resolver != nil {
		icOpts = append(icOpts, capture.WithRouteResolver(in.resolver))
	}
	in.interceptor = capture.NewInterceptor(in.store, in.opts.CaptureOptions(), icOpts...)

	in.replay = replay.New(in.store, in.opts.BasePath,
		replay.WithLogger(in.logger),
		replay.WithMetrics(in.metrics),
	)
	in.ws = wsinst.NewRecorder(in.opts.BufferSize,
		wsinst.WithLogger(in.logger),
		wsinst.WithMetrics(in.metrics),
	)

	if in.persistence != nil {
		in.SetPersistence(in.persistence)
	}
	if in.cache != nil {
		in.SetCacheClient(in.cache)
	}

	in.started = time.Now()
	in.mux = http.NewServeMux()
	in.registerRoutes(in.mux)
	return in, nil
}

// Store returns the correlation store.
func (in *Inspector) Store() *capture.Store { return in.store }

// Interceptor returns the lifecycle interceptor.
func (in *Inspector) Interceptor() *capture.Interceptor { return in.interceptor }

// Recorder returns the WebSocket recorder.
func (in *Inspector) Recorder() *wsinst.Recorder { return in.ws }

// Replay returns the replay engine.
func (in *Inspector) Replay() *replay.Engine { return in.replay }

// Metrics returns the metrics collector.
func (in *Inspector) Metrics() *metrics.Metrics { return in.metrics }

// Options returns the validated options.
func (in *Inspector) Options() config.Options { return in.opts }

// SetPersistence replaces the persistence backend. A nil backend
// disables persistence.
func (in *Inspector) SetPersistence(b persist.Backend) {
	in.mu.Lock()
	in.persistence = b
	in.mu.Unlock()

	if b == nil {
		in.interceptor.SetPersister(nil)
		in.replay.SetSource(nil)
		return
	}
	in.interceptor.SetPersister(b)
	in.replay.SetSource(b)
}

// SetCacheClient registers the application's cache client, installing
// the capture hook on go-redis clients.
func (in *Inspector) SetCacheClient(c any) {
	if rc, ok := c.(redis.UniversalClient); ok {
		if !cacheinst.InstallRedis(rc, in.store,
			cacheinst.WithLogger(in.logger), cacheinst.WithMetrics(in.metrics)) {
			in.logger.Debug("redis capture hook already installed")
		}
	}
	in.mu.Lock()
	in.cache = c
	in.mu.Unlock()
}

// InstrumentCache wraps c so its operations are attributed to in-flight
// requests, and registers it for the redis status route.
func (in *Inspector) InstrumentCache(c cacheinst.CacheClient) cacheinst.CacheClient {
	wrapped := cacheinst.Wrap(c, in.store,
		cacheinst.WithLogger(in.logger), cacheinst.WithMetrics(in.metrics))
	in.mu.Lock()
	in.cache = wrapped
	in.mu.Unlock()
	return wrapped
}

func (in *Inspector) backend() persist.Backend {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.persistence
}

func (in *Inspector) cacheClient() any {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.cache
}

// Handler returns the inspector routes alone.
func (in *Inspector) Handler() http.Handler { return in.mux }

// Wrap returns app with capture enabled and the inspector routes mounted
// under the base path. Replays are dispatched to the returned handler.
func (in *Inspector) Wrap(app http.Handler) http.Handler {
	captured := in.interceptor.Middleware(app)
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if in.owns(r.URL.Path) {
			in.mux.ServeHTTP(w, r)
			return
		}
		captured.ServeHTTP(w, r)
	})
	in.replay.SetHandler(h)
	return h
}

func (in *Inspector) owns(path string) bool {
	base := in.opts.BasePath
	return path == base || strings.HasPrefix(path, base+"/")
}

// Run purges expired persisted records until ctx ends.
func (in *Inspector) Run(ctx context.Context) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			in.purge(ctx)
		}
	}
}

type purger interface {
	Purge(ctx context.Context) (int, error)
}

func (in *Inspector) purge(ctx context.Context) {
	p, ok := in.backend().(purger)
	if !ok {
		return
	}
	n, err := p.Purge(ctx)
	if err != nil {
		in.logger.Debug("purge failed", "error", err)
		return
	}
	if n > 0 {
		in.logger.Debug("purged expired records", "count", n)
	}
}

// Close waits for pending persistence writes.
func (in *Inspector) Close() {
	in.interceptor.Flush()
}
