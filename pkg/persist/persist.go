// Package persist stores finished capture records beyond the in-memory ring
// buffer.
//
// Backends are best-effort collaborators: the capture path calls Persist in
// the background and discards its error, and read endpoints treat a backend
// that is not Ready as empty.
package persist

import (
	"context"
	"errors"
	"time"

	"github.com/getmockd/peek/pkg/capture"
)

// DefaultTTL is how long persisted records are kept.
const DefaultTTL = 7 * 24 * time.Hour

// Sentinel errors.
var (
	ErrNotFound = errors.New("persist: record not found")
	ErrNotReady = errors.New("persist: backend not ready")
)

// Backend is a durable record store.
type Backend interface {
	capture.Persister

	// Query returns records matching f, newest first.
	Query(ctx context.Context, f Filter) ([]*capture.Record, error)
	// Get returns a single record or ErrNotFound.
	Get(ctx context.Context, id string) (*capture.Record, error)
	// DeleteAll removes every record and returns how many were removed.
	DeleteAll(ctx context.Context) (int, error)
	// Ready reports whether the backend can serve requests.
	Ready() bool
}

// DateOf returns the derived date field (UTC, YYYY-MM-DD) of a record.
func DateOf(rec *capture.Record) string {
	return rec.Time().UTC().Format(time.DateOnly)
}
