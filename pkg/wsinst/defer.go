package wsinst

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/getmockd/peek/pkg/logging"
)

// Defer runs install once lookup reports the transport after delay. The
// returned channel receives true if install ran and false if setup was
// skipped because the transport was unavailable, lookup or install panicked,
// or ctx ended first.
func Defer[T any](ctx context.Context, delay time.Duration, lookup func() (T, bool), install func(T), logger *slog.Logger) <-chan bool {
	logger = logging.OrNop(logger)
	done := make(chan bool, 1)

	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			logger.Debug("deferred websocket setup cancelled", "error", ctx.Err())
			done <- false
			return
		case <-timer.C:
		}

		var (
			t  T
			ok bool
		)
		if err := guard(func() { t, ok = lookup() }); err != nil {
			logger.Debug("websocket transport lookup failed, instrumentation skipped", "error", err)
			done <- false
			return
		}
		if !ok {
			logger.Debug("websocket transport not available, instrumentation skipped")
			done <- false
			return
		}
		if err := guard(func() { install(t) }); err != nil {
			logger.Debug("websocket instrumentation failed, skipped", "error", err)
			done <- false
			return
		}
		done <- true
	}()

	return done
}

// guard runs fn and converts a panic into an error.
func guard(fn func()) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	fn()
	return nil
}
