// Package logging configures the structured logger used by peek.
//
// It wraps log/slog so every peek component logs the same way. The
// inspector, the capture interceptor and the instrumentation adapters all
// accept a *slog.Logger; when none is supplied they fall back to Nop().
//
//	logger := logging.New(logging.Config{
//	    Level:  logging.ParseLevel("debug"),
//	    Format: logging.FormatJSON,
//	})
//	logger = logging.Component(logger, "capture")
//	logger.Debug("record finalised", "id", rec.ID, "status", rec.Response.StatusCode)
//
// Log output is diagnostic only. Capture failures are logged and swallowed,
// they never change the response a client receives.
package logging
