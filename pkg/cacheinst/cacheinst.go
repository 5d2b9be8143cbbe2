// Package cacheinst attributes cache operations to in-flight capture records.
//
// Attribution uses the most recently started pending record, not the
// request that actually issued the call. Under concurrent requests an
// operation can land on the wrong record. Callers that need exact
// attribution must thread the record id themselves.
package cacheinst

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/getmockd/peek/pkg/capture"
	"github.com/getmockd/peek/pkg/logging"
	"github.com/getmockd/peek/pkg/metrics"
)

// CacheClient is the key-value capability peek knows how to instrument.
type CacheClient interface {
	// Get returns the value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Del removes keys and returns how many existed.
	Del(ctx context.Context, keys ...string) (int, error)
}

// Decorated marks a client that is already instrumented.
type Decorated interface {
	PeekInstrumented() bool
}

// Attacher finds the record an operation belongs to. *capture.Store
// implements it.
type Attacher interface {
	AttachToLatest(fn func(*capture.Record)) (string, bool)
}

// Option customizes instrumentation.
type Option func(*observer)

// WithMetrics counts operations in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *observer) { o.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *observer) { o.logger = logging.Component(l, "cacheinst") }
}

// observer turns a finished operation into a CacheOp on the latest record.
type observer struct {
	store   Attacher
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

func newObserver(store Attacher, opts []Option) *observer {
	o := &observer{store: store, logger: logging.Nop(), now: time.Now}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// observe attaches an operation. hit is only set for lookups.
func (o *observer) observe(op, key string, start time.Time, hit *bool, err error) {
	entry := capture.CacheOp{
		Op:         op,
		Key:        key,
		Hit:        hit,
		DurationMs: o.now().Sub(start).Milliseconds(),
	}
	result := "ok"
	switch {
	case err != nil:
		entry.Error = err.Error()
		result = "error"
	case hit != nil && *hit:
		result = "hit"
	case hit != nil:
		result = "miss"
	}
	o.metrics.ObserveCacheOp(op, result)

	if o.store == nil {
		return
	}
	id, ok := o.store.AttachToLatest(func(r *capture.Record) {
		r.Cache = append(r.Cache, entry)
	})
	if ok {
		o.logger.Debug("cache op attached", "op", op, "key", key, "record", id)
	}
}

// instrumented decorates a CacheClient.
type instrumented struct {
	next CacheClient
	obs  *observer
}

// Wrap returns client decorated so each call is attached to the most
// recently started pending record in store. Wrapping an already decorated
// client returns it unchanged.
func Wrap(client CacheClient, store Attacher, opts ...Option) CacheClient {
	if client == nil {
		return nil
	}
	if Detect(client) {
		return client
	}
	return &instrumented{next: client, obs: newObserver(store, opts)}
}

func (c *instrumented) PeekInstrumented() bool { return true }

// Unwrap returns the decorated client.
func (c *instrumented) Unwrap() CacheClient { return c.next }

func (c *instrumented) Get(ctx context.Context, key string) (string, bool, error) {
	start := c.obs.now()
	v, found, err := c.next.Get(ctx, key)
	hit := found && err == nil
	c.obs.observe("get", key, start, &hit, err)
	return v, found, err
}

func (c *instrumented) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	start := c.obs.now()
	err := c.next.Set(ctx, key, value, ttl)
	c.obs.observe("set", key, start, nil, err)
	return err
}

func (c *instrumented) Del(ctx context.Context, keys ...string) (int, error) {
	start := c.obs.now()
	n, err := c.next.Del(ctx, keys...)
	c.obs.observe("del", strings.Join(keys, " "), start, nil, err)
	return n, err
}

// Detect reports whether v is an instrumented client: a Decorated value
// reporting true, or a go-redis client with the peek hook installed.
func Detect(v any) bool {
	if v == nil {
		return false
	}
	if d, ok := v.(Decorated); ok {
		return d.PeekInstrumented()
	}
	return redisHooked(v)
}
