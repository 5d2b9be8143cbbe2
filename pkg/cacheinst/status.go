package cacheinst

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Connection states reported by Status.
const (
	StateConnected = "connected"
	StateError     = "error"
	StateUnknown   = "unknown"
	StateAbsent    = "absent"
)

// StatusReport is the cache client summary served by the inspector.
type StatusReport struct {
	Detected bool   `json:"detected"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Status reports whether client is instrumented and reachable. client may
// be nil, a CacheClient, or a go-redis client.
func Status(ctx context.Context, client any) StatusReport {
	if client == nil {
		return StatusReport{Status: StateAbsent}
	}
	report := StatusReport{Detected: Detect(client), Status: StateUnknown}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var err error
	switch c := client.(type) {
	case redis.UniversalClient:
		err = c.Ping(ctx).Err()
	case pinger:
		err = c.Ping(ctx)
	case interface{ Unwrap() CacheClient }:
		if p, ok := c.Unwrap().(pinger); ok {
			err = p.Ping(ctx)
		} else {
			return report
		}
	default:
		return report
	}

	if err != nil {
		report.Status = StateError
		report.Error = err.Error()
		return report
	}
	report.Status = StateConnected
	return report
}
