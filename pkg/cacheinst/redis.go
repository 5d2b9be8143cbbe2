package cacheinst

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// trackedCommands are the redis commands attributed to records. Lookups
// report a hit flag.
var trackedCommands = map[string]bool{
	"get":  true,
	"mget": false,
	"hget": true,
	"set":  false,
	"hset": false,
	"del":  false,
}

// RedisHook is a go-redis hook that attributes tracked commands to the most
// recently started pending record.
type RedisHook struct {
	obs *observer
}

var _ redis.Hook = (*RedisHook)(nil)

// NewRedisHook creates a hook writing into store.
func NewRedisHook(store Attacher, opts ...Option) *RedisHook {
	return &RedisHook{obs: newObserver(store, opts)}
}

// PeekInstrumented marks the hook as instrumentation.
func (h *RedisHook) PeekInstrumented() bool { return true }

// DialHook passes dials through.
func (h *RedisHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

// ProcessHook times single commands.
func (h *RedisHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if _, ok := trackedCommands[cmd.Name()]; !ok {
			return next(ctx, cmd)
		}
		start := h.obs.now()
		err := next(ctx, cmd)
		h.observeCmd(cmd, start, err)
		return err
	}
}

// ProcessPipelineHook attributes each tracked command of a pipeline. Every
// command is given the duration of the whole pipeline.
func (h *RedisHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		start := h.obs.now()
		err := next(ctx, cmds)
		for _, cmd := range cmds {
			if _, ok := trackedCommands[cmd.Name()]; ok {
				h.observeCmd(cmd, start, cmd.Err())
			}
		}
		return err
	}
}

func (h *RedisHook) observeCmd(cmd redis.Cmder, start time.Time, err error) {
	name := cmd.Name()
	var hit *bool
	if trackedCommands[name] {
		v := err == nil
		hit = &v
	}
	if errors.Is(err, redis.Nil) {
		err = nil
	}
	h.obs.observe(name, commandKey(name, cmd.Args()), start, hit, err)
}

// commandKey renders the key part of a command's arguments.
func commandKey(name string, args []any) string {
	if len(args) < 2 {
		return ""
	}
	switch name {
	case "del", "mget":
		keys := make([]string, 0, len(args)-1)
		for _, a := range args[1:] {
			keys = append(keys, fmt.Sprint(a))
		}
		return strings.Join(keys, " ")
	case "hget", "hset":
		if len(args) >= 3 {
			return fmt.Sprintf("%v %v", args[1], args[2])
		}
	}
	return fmt.Sprint(args[1])
}

// hooked tracks clients already carrying a RedisHook, keyed by pointer.
var hooked sync.Map

// InstallRedis adds a RedisHook to client once. It reports false when the
// client was already instrumented.
func InstallRedis(client redis.UniversalClient, store Attacher, opts ...Option) bool {
	if client == nil {
		return false
	}
	hook := NewRedisHook(store, opts...)
	if _, loaded := hooked.LoadOrStore(client, hook); loaded {
		return false
	}
	client.AddHook(hook)
	return true
}

func redisHooked(v any) bool {
	c, ok := v.(redis.UniversalClient)
	if !ok {
		return false
	}
	_, hookedAlready := hooked.Load(c)
	return hookedAlready
}

// RedisCache adapts a go-redis client to CacheClient.
type RedisCache struct {
	client redis.Cmdable
}

// NewRedisCache wraps client.
func NewRedisCache(client redis.Cmdable) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Del(ctx context.Context, keys ...string) (int, error) {
	n, err := c.client.Del(ctx, keys...).Result()
	return int(n), err
}

// Ping checks the connection.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// NewRedisClient parses a redis:// URL and returns a client after a ping
// with a five second timeout.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
