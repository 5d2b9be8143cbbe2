package config

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/getmockd/peek/pkg/logging"
)

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

var validLogFormats = map[string]bool{
	"text": true,
	"json": true,
}

// ValidationError reports an invalid option.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on %s: %s", e.Field, e.Message)
}

// Validate normalizes o and reports the first invalid field. Zero sizes
// are replaced with defaults.
func (o *Options) Validate() error {
	def := Default()

	base := strings.TrimSpace(o.BasePath)
	if base == "" {
		base = def.BasePath
	}
	if !strings.HasPrefix(base, "/") {
		base = "/" + base
	}
	base = strings.TrimRight(base, "/")
	if base == "" {
		return &ValidationError{Field: "basePath", Message: "must not be the root path"}
	}
	if strings.ContainsAny(base, "{}?#* ") {
		return &ValidationError{Field: "basePath", Message: fmt.Sprintf("invalid characters in %q", base)}
	}
	o.BasePath = base

	if o.Addr == "" {
		o.Addr = def.Addr
	}
	if o.BufferSize == 0 {
		o.BufferSize = def.BufferSize
	}
	if o.BufferSize < 0 {
		return &ValidationError{Field: "bufferSize", Message: "must be positive"}
	}
	if o.MaxBodyBytes == 0 {
		o.MaxBodyBytes = def.MaxBodyBytes
	}
	if o.ResponsePreviewItems == 0 {
		o.ResponsePreviewItems = def.ResponsePreviewItems
	}
	if o.ResponsePreviewItems < 0 {
		return &ValidationError{Field: "responsePreviewItems", Message: "must be positive"}
	}
	if o.PersistTTL < 0 {
		return &ValidationError{Field: "persistTTL", Message: "must not be negative"}
	}
	if o.PersistTTL == 0 {
		o.PersistTTL = def.PersistTTL
	}
	if o.WSSetupDelay < 0 {
		return &ValidationError{Field: "wsSetupDelay", Message: "must not be negative"}
	}

	for i, p := range o.IgnorePaths {
		if !doublestar.ValidatePattern(p) {
			return &ValidationError{Field: fmt.Sprintf("ignorePaths[%d]", i), Message: fmt.Sprintf("invalid glob %q", p)}
		}
	}

	if o.Log.Level == "" {
		o.Log.Level = def.Log.Level
	}
	if !validLogLevels[strings.ToLower(o.Log.Level)] {
		return &ValidationError{Field: "log.level", Message: fmt.Sprintf("unknown level %q", o.Log.Level)}
	}
	if o.Log.Format == "" {
		o.Log.Format = def.Log.Format
	}
	if !validLogFormats[strings.ToLower(o.Log.Format)] {
		return &ValidationError{Field: "log.format", Message: fmt.Sprintf("unknown format %q", o.Log.Format)}
	}
	return nil
}

// LoggingConfig returns the logging configuration for o.
func (o *Options) LoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.ParseLevel(o.Log.Level)
	cfg.Format = logging.ParseFormat(o.Log.Format)
	return cfg
}
