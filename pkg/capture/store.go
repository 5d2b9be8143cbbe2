package capture

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/getmockd/peek/internal/id"
	"github.com/getmockd/peek/pkg/logging"
	"github.com/getmockd/peek/pkg/metrics"
	"github.com/getmockd/peek/pkg/redact"
)

// Defaults for StoreOptions.
const (
	DefaultBufferSize   = 200
	DefaultPreviewItems = 50
)

// Phase is a lifecycle timestamp recorded with Stamp.
type Phase int

// Lifecycle phases between Begin and Finish.
const (
	PhasePreDispatch Phase = iota + 1
	PhasePreSend
)

// StoreOptions configures a Store.
type StoreOptions struct {
	// BufferSize caps the ring buffer of finished records.
	BufferSize int
	// PreviewItems caps how many elements of a JSON array response are kept.
	PreviewItems int
	// SubscriberBuffer is the channel capacity of each live subscriber.
	SubscriberBuffer int

	Now     func() time.Time
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

type pendingEntry struct {
	rec *Record
	seq uint64

	start       time.Time
	preDispatch time.Time
	preSend     time.Time
}

// Store correlates in-flight records by id and keeps the finished ones.
type Store struct {
	mu      sync.Mutex
	pending map[string]*pendingEntry
	seq     uint64

	buffer *Ring[*Record]
	hub    *Hub

	previewItems int
	now          func() time.Time
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

// NewStore creates a Store.
func NewStore(opts StoreOptions) *Store {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.PreviewItems <= 0 {
		opts.PreviewItems = DefaultPreviewItems
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Store{
		pending:      make(map[string]*pendingEntry),
		buffer:       NewRing[*Record](opts.BufferSize),
		hub:          NewHub(opts.SubscriberBuffer),
		previewItems: opts.PreviewItems,
		now:          opts.Now,
		metrics:      opts.Metrics,
		logger:       logging.Component(opts.Logger, "capture"),
	}
	s.hub.OnChange = s.metrics.SetSubscribers
	return s
}

// Now returns the store clock.
func (s *Store) Now() time.Time {
	return s.now()
}

// Begin allocates a pending record for a request and returns its id.
// Headers, query and path parameters are masked immediately.
func (s *Store) Begin(requestID string, meta RequestMeta) string {
	start := s.now()
	rec := &Record{
		ID:        id.Record(),
		RequestID: requestID,
		Timestamp: start.UnixMilli(),
		Method:    meta.Method,
		URL:       meta.URL,
		Route:     meta.Route,
		Query:     redact.MaskValues(meta.Query),
		Params:    redact.MaskStrings(meta.Params),
		Headers:   redact.MaskHeaders(meta.Header),
	}

	s.mu.Lock()
	s.seq++
	s.pending[rec.ID] = &pendingEntry{rec: rec, seq: s.seq, start: start}
	n := len(s.pending)
	s.mu.Unlock()

	s.metrics.SetPending(n)
	return rec.ID
}

// CaptureBody stores the masked request body. Bodies whose JSON form is
// longer than maxBytes are cut and the record is flagged as truncated.
// maxBytes <= 0 disables the cap.
func (s *Store) CaptureBody(recordID string, body RequestBody, maxBytes int) {
	if !s.Pending(recordID) {
		return
	}

	var (
		value     any
		truncated bool
	)
	err := safely(func() error {
		if body.Overflow {
			value, truncated = overflowText(body.Data, maxBytes), true
			return nil
		}
		var err error
		value, truncated, err = capValue(decodeRequestBody(body.Data, body.ContentType), maxBytes)
		return err
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[recordID]
	if !ok {
		return
	}
	if err != nil {
		s.failLocked(p.rec, fmt.Errorf("capture request body: %w", err))
		return
	}
	p.rec.Body = value
	if truncated {
		p.rec.Truncated = true
	}
}

// CaptureResponse stores the response headers and body preview.
func (s *Store) CaptureResponse(recordID string, payload ResponsePayload, maxBytes int) {
	if !s.Pending(recordID) {
		return
	}

	var (
		resp      Response
		truncated bool
	)
	err := safely(func() error {
		resp.ContentType = payload.Header.Get("Content-Type")
		resp.Headers = redact.MaskHeaders(payload.Header)
		resp.Size = payload.Size
		if resp.Size < len(payload.Data) {
			resp.Size = len(payload.Data)
		}
		var err error
		resp.Body, truncated, err = decodeResponseBody(payload, resp.ContentType, maxBytes, s.previewItems)
		return err
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[recordID]
	if !ok {
		return
	}
	if err != nil {
		s.failLocked(p.rec, fmt.Errorf("capture response body: %w", err))
		return
	}
	if p.rec.Response != nil {
		resp.StatusCode = p.rec.Response.StatusCode
	}
	p.rec.Response = &resp
	if truncated {
		p.rec.Truncated = true
	}
}

// Stamp records when a phase was observed. The first stamp for a phase wins.
func (s *Store) Stamp(recordID string, phase Phase, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pending[recordID]
	if !ok {
		return
	}
	switch phase {
	case PhasePreDispatch:
		if p.preDispatch.IsZero() {
			p.preDispatch = at
		}
	case PhasePreSend:
		if p.preSend.IsZero() {
			p.preSend = at
		}
	}
}

// SetRoute records the matched route pattern and masked path parameters.
func (s *Store) SetRoute(recordID, route string, params map[string]string) {
	if route == "" && len(params) == 0 {
		return
	}
	masked := redact.MaskStrings(params)

	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[recordID]
	if !ok {
		return
	}
	if route != "" {
		p.rec.Route = route
	}
	if len(masked) > 0 {
		p.rec.Params = masked
	}
}

// Fail records a capture failure on a pending record.
func (s *Store) Fail(recordID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.pending[recordID]; ok {
		s.failLocked(p.rec, err)
	}
}

func (s *Store) failLocked(rec *Record, err error) {
	if rec.Error == "" {
		rec.Error = err.Error()
	} else {
		rec.Error += "; " + err.Error()
	}
	s.metrics.ObserveCaptureError()
	s.logger.Debug("capture step failed", "id", rec.ID, "error", err)
}

// Finish computes durations, moves the record into the ring buffer and
// returns a copy. Unknown or already finished ids report false.
func (s *Store) Finish(recordID string, statusCode int) (*Record, bool) {
	complete := s.now()

	s.mu.Lock()
	p, ok := s.pending[recordID]
	if !ok {
		s.mu.Unlock()
		return nil, false
	}
	delete(s.pending, recordID)

	rec := p.rec
	rec.DurationMs = max(complete.Sub(p.start).Milliseconds(), 0)
	rec.Timings = timingsFor(p, complete)
	if rec.Response == nil {
		rec.Response = &Response{}
	}
	rec.Response.StatusCode = statusCode

	_, evicted := s.buffer.Push(rec)
	out := rec.Clone()
	n := len(s.pending)
	s.mu.Unlock()

	s.metrics.SetPending(n)
	if evicted {
		s.metrics.ObserveEviction()
	}
	s.metrics.ObserveCapture(out.Method, statusCode, complete.Sub(p.start))
	return out, true
}

func timingsFor(p *pendingEntry, complete time.Time) *Timings {
	t := &Timings{
		PreDispatchMs: phaseMs(p.start, p.preDispatch),
		HandlerMs:     phaseMs(p.preDispatch, p.preSend),
		SendMs:        phaseMs(p.preSend, complete),
	}
	if t.PreDispatchMs == nil && t.HandlerMs == nil && t.SendMs == nil {
		return nil
	}
	return t
}

func phaseMs(from, to time.Time) *int64 {
	if from.IsZero() || to.IsZero() || to.Before(from) {
		return nil
	}
	ms := to.Sub(from).Milliseconds()
	return &ms
}

// Pending reports whether recordID is in flight.
func (s *Store) Pending(recordID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[recordID]
	return ok
}

// Lookup finds a record in the buffer, then among pending records.
// The result is a copy. Both are checked under the store lock, so a
// concurrent Finish cannot hide the record.
func (s *Store) Lookup(recordID string) (*Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.buffer.Find(func(r *Record) bool { return r.ID == recordID }); ok {
		return rec.Clone(), true
	}
	if p, ok := s.pending[recordID]; ok {
		return p.rec.Clone(), true
	}
	return nil, false
}

// MostRecentPending returns the id of the most recently started record
// still in flight.
func (s *Store) MostRecentPending() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.latestLocked()
	if p == nil {
		return "", false
	}
	return p.rec.ID, true
}

func (s *Store) latestLocked() *pendingEntry {
	var latest *pendingEntry
	for _, p := range s.pending {
		if latest == nil || p.seq > latest.seq {
			latest = p
		}
	}
	return latest
}

// Attach runs fn against a pending record under the store lock.
func (s *Store) Attach(recordID string, fn func(*Record)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[recordID]
	if !ok {
		return false
	}
	fn(p.rec)
	return true
}

// AttachToLatest runs fn against the most recently started pending record.
// Under concurrent requests this may pick a record other than the caller's.
// It returns the chosen record id.
func (s *Store) AttachToLatest(fn func(*Record)) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.latestLocked()
	if p == nil {
		return "", false
	}
	fn(p.rec)
	return p.rec.ID, true
}

// Broadcast serializes rec and publishes it to every subscriber.
func (s *Store) Broadcast(rec *Record) {
	if rec == nil {
		return
	}
	frame, err := json.Marshal(rec)
	if err != nil {
		s.logger.Debug("broadcast serialization failed", "id", rec.ID, "error", err)
		return
	}
	if dropped := s.hub.Publish(frame); dropped > 0 {
		s.logger.Debug("slow subscribers missed a record", "id", rec.ID, "dropped", dropped)
	}
}

// Subscribe registers a live subscriber receiving serialized records.
func (s *Store) Subscribe() (<-chan []byte, func()) {
	return s.hub.Subscribe()
}

// SubscriberCount returns the number of live subscribers.
func (s *Store) SubscriberCount() int {
	return s.hub.Count()
}

// List returns up to limit finished records, newest first. The records are
// shared with the buffer and must not be modified.
func (s *Store) List(limit int) []*Record {
	return s.buffer.Newest(limit)
}

// Clear empties the ring buffer. Pending records are kept.
func (s *Store) Clear() int {
	return s.buffer.Clear()
}

// Len returns the number of buffered records.
func (s *Store) Len() int {
	return s.buffer.Len()
}

// Capacity returns the ring buffer size.
func (s *Store) Capacity() int {
	return s.buffer.Cap()
}

// PendingCount returns the number of in-flight records.
func (s *Store) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// overflowText renders a body that exceeded the read ceiling.
func overflowText(data []byte, maxBytes int) string {
	text := string(data)
	if maxBytes > 0 && len(text) > maxBytes {
		return text[:maxBytes] + truncateSuffix(len(text)-maxBytes)
	}
	return text + truncateSuffix(0)
}

// safely runs fn, turning a panic into an error.
func safely(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn()
}
