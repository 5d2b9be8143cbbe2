package config

import (
	"time"

	"github.com/getmockd/peek/pkg/capture"
	"github.com/getmockd/peek/pkg/persist"
)

// Defaults.
const (
	DefaultAddr         = ":8080"
	DefaultWSSetupDelay = 250 * time.Millisecond
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "text"
)

// Options configures the inspector and the demo host.
type Options struct {
	// Addr is the listen address of `peek serve`.
	Addr string `yaml:"addr"`

	// BasePath is the prefix of every inspector route. Requests under it
	// are never captured.
	BasePath string `yaml:"basePath"`

	// BufferSize bounds the in-memory ring of finished records.
	BufferSize int `yaml:"bufferSize"`

	// MaxBodyBytes caps captured request and response bodies. Negative
	// disables the cap.
	MaxBodyBytes int `yaml:"maxBodyBytes"`

	// ResponsePreviewItems caps the number of array elements kept from a
	// JSON response.
	ResponsePreviewItems int `yaml:"responsePreviewItems"`

	// Token, when set, is required on non-dashboard inspector routes.
	Token string `yaml:"token"`

	// IgnorePaths are glob patterns of paths that are not captured.
	IgnorePaths []string `yaml:"ignorePaths"`

	PersistTTL   time.Duration `yaml:"persistTTL"`
	WSSetupDelay time.Duration `yaml:"wsSetupDelay"`

	// Redis is a redis:// URL for the demo cache. Empty uses an in-memory
	// cache.
	Redis string `yaml:"redis"`

	// Postgres is a DSN for record persistence. Empty keeps records in
	// memory.
	Postgres string `yaml:"postgres"`

	Log LogOptions `yaml:"log"`
}

// LogOptions configures logging.
type LogOptions struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns Options with every field at its default.
func Default() *Options {
	return &Options{
		Addr:                 DefaultAddr,
		BasePath:             capture.DefaultBasePath,
		BufferSize:           capture.DefaultBufferSize,
		MaxBodyBytes:         capture.DefaultMaxBodyBytes,
		ResponsePreviewItems: capture.DefaultPreviewItems,
		PersistTTL:           persist.DefaultTTL,
		WSSetupDelay:         DefaultWSSetupDelay,
		Log: LogOptions{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}

// CaptureOptions converts o for the interceptor.
func (o *Options) CaptureOptions() capture.Options {
	return capture.Options{
		BasePath:     o.BasePath,
		MaxBodyBytes: o.MaxBodyBytes,
		IgnorePaths:  o.IgnorePaths,
	}
}

// StoreOptions converts o for the correlation store.
func (o *Options) StoreOptions() capture.StoreOptions {
	return capture.StoreOptions{
		BufferSize:   o.BufferSize,
		PreviewItems: o.ResponsePreviewItems,
	}
}
