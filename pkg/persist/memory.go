package persist

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/getmockd/peek/pkg/capture"
)

type memoryEntry struct {
	rec     *capture.Record
	expires time.Time
}

// Memory is an in-process Backend with TTL expiry. It is useful in tests
// and for single-process deployments that want a history longer than the
// ring buffer.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemory creates a Memory backend. ttl <= 0 uses DefaultTTL.
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

var _ Backend = (*Memory)(nil)

// Persist stores rec, replacing an earlier copy with the same id.
func (m *Memory) Persist(_ context.Context, rec *capture.Record) error {
	if rec == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[rec.ID] = memoryEntry{rec: rec.Clone(), expires: m.now().Add(m.ttl)}
	return nil
}

// Query returns matching unexpired records, newest first.
func (m *Memory) Query(_ context.Context, f Filter) ([]*capture.Record, error) {
	f = f.Normalize()
	now := m.now()

	m.mu.RLock()
	matched := make([]*capture.Record, 0, len(m.entries))
	for _, e := range m.entries {
		if now.After(e.expires) || !f.Match(e.rec) {
			continue
		}
		matched = append(matched, e.rec)
	}
	m.mu.RUnlock()

	// Record ids are ULIDs, so id order is creation order.
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })
	if len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	for i, rec := range matched {
		matched[i] = rec.Clone()
	}
	return matched, nil
}

// Get returns one unexpired record.
func (m *Memory) Get(_ context.Context, id string) (*capture.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	if !ok || m.now().After(e.expires) {
		return nil, ErrNotFound
	}
	return e.rec.Clone(), nil
}

// DeleteAll removes every record.
func (m *Memory) DeleteAll(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.entries)
	m.entries = make(map[string]memoryEntry)
	return n, nil
}

// Purge drops expired records and returns how many were removed.
func (m *Memory) Purge(_ context.Context) (int, error) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, e := range m.entries {
		if now.After(e.expires) {
			delete(m.entries, id)
			n++
		}
	}
	return n, nil
}

// Ready always reports true.
func (m *Memory) Ready() bool { return true }
