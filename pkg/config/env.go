package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment variables read by ApplyEnv.
const (
	EnvAddr                 = "PEEK_ADDR"
	EnvBasePath             = "PEEK_BASE_PATH"
	EnvBufferSize           = "PEEK_BUFFER_SIZE"
	EnvMaxBodyBytes         = "PEEK_MAX_BODY_BYTES"
	EnvResponsePreviewItems = "PEEK_RESPONSE_PREVIEW_ITEMS"
	EnvToken                = "PEEK_TOKEN"
	EnvIgnorePaths          = "PEEK_IGNORE_PATHS"
	EnvPersistTTL           = "PEEK_PERSIST_TTL"
	EnvWSSetupDelay         = "PEEK_WS_SETUP_DELAY"
	EnvRedis                = "PEEK_REDIS_URL"
	EnvPostgres             = "PEEK_POSTGRES_DSN"
	EnvLogLevel             = "PEEK_LOG_LEVEL"
	EnvLogFormat            = "PEEK_LOG_FORMAT"
)

// ApplyEnv overrides o with any PEEK_* variables that are set. Values
// that do not parse are ignored and reported in the returned slice.
func (o *Options) ApplyEnv() []string {
	var invalid []string

	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		v, ok := os.LookupEnv(key)
		if !ok || v == "" {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			invalid = append(invalid, key)
			return
		}
		*dst = n
	}
	setDuration := func(key string, dst *time.Duration) {
		v, ok := os.LookupEnv(key)
		if !ok || v == "" {
			return
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			invalid = append(invalid, key)
			return
		}
		*dst = d
	}

	setString(EnvAddr, &o.Addr)
	setString(EnvBasePath, &o.BasePath)
	setInt(EnvBufferSize, &o.BufferSize)
	setInt(EnvMaxBodyBytes, &o.MaxBodyBytes)
	setInt(EnvResponsePreviewItems, &o.ResponsePreviewItems)
	setString(EnvToken, &o.Token)
	setDuration(EnvPersistTTL, &o.PersistTTL)
	setDuration(EnvWSSetupDelay, &o.WSSetupDelay)
	setString(EnvRedis, &o.Redis)
	setString(EnvPostgres, &o.Postgres)
	setString(EnvLogLevel, &o.Log.Level)
	setString(EnvLogFormat, &o.Log.Format)

	if v := os.Getenv(EnvIgnorePaths); v != "" {
		o.IgnorePaths = o.IgnorePaths[:0:0]
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				o.IgnorePaths = append(o.IgnorePaths, p)
			}
		}
	}
	return invalid
}
