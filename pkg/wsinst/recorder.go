package wsinst

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/getmockd/peek/internal/id"
	"github.com/getmockd/peek/pkg/capture"
	"github.com/getmockd/peek/pkg/logging"
	"github.com/getmockd/peek/pkg/metrics"
)

// Recorder stores and broadcasts WebSocket messages.
type Recorder struct {
	buffer   *capture.Ring[Message]
	hub      *capture.Hub
	registry *Registry

	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// Option customizes a Recorder.
type Option func(*Recorder)

// WithMetrics counts messages in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Recorder) { r.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) { r.logger = logging.Component(l, "wsinst") }
}

// NewRecorder creates a Recorder buffering up to size messages.
func NewRecorder(size int, opts ...Option) *Recorder {
	if size <= 0 {
		size = capture.DefaultBufferSize
	}
	r := &Recorder{
		buffer:   capture.NewRing[Message](size),
		hub:      capture.NewHub(0),
		registry: NewRegistry(),
		logger:   logging.Nop(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Connect registers a new connection and returns its id. requestID is the
// capture record id of the upgrade request, if any.
func (r *Recorder) Connect(requestID, remoteAddr, path string) string {
	connID := id.Prefixed("ws")
	r.registry.Add(Connection{
		ID:          connID,
		ConnectedAt: r.now().UnixMilli(),
		RequestID:   requestID,
		RemoteAddr:  remoteAddr,
		Path:        path,
	})
	r.logger.Debug("connection opened", "connection", connID, "record", requestID)
	return connID
}

// Disconnect removes a connection from the registry.
func (r *Recorder) Disconnect(connID string) {
	if r.registry.Remove(connID) {
		r.logger.Debug("connection closed", "connection", connID)
	}
}

// Record stores a raw message and broadcasts it.
func (r *Recorder) Record(connID string, dir Direction, kind Kind, data []byte) Message {
	return r.push(Message{
		ConnectionID: connID,
		Direction:    dir,
		Kind:         kind,
		Payload:      decodePayload(kind, data),
		Size:         len(data),
	})
}

// RecordEvent stores a named event whose arguments are already decoded.
func (r *Recorder) RecordEvent(connID string, dir Direction, kind Kind, event string, args []any) Message {
	var payload any = args
	if len(args) == 1 {
		payload = args[0]
	}
	size := 0
	if raw, err := json.Marshal(payload); err == nil {
		size = len(raw)
	}
	return r.push(Message{
		ConnectionID: connID,
		Direction:    dir,
		Kind:         kind,
		Event:        event,
		Payload:      payload,
		Size:         size,
	})
}

func (r *Recorder) push(msg Message) Message {
	msg.ID = id.Prefixed("msg")
	msg.Timestamp = r.now().UnixMilli()
	if c, ok := r.registry.Get(msg.ConnectionID); ok {
		msg.RequestID = c.RequestID
	}

	r.buffer.Push(msg)
	r.metrics.ObserveWSMessage(string(msg.Direction), string(msg.Kind))

	frame, err := json.Marshal(msg)
	if err != nil {
		r.logger.Debug("message serialization failed", "id", msg.ID, "error", err)
		return msg
	}
	r.hub.Publish(frame)
	return msg
}

// Messages returns up to limit messages, newest first.
func (r *Recorder) Messages(limit int) []Message {
	return r.buffer.Newest(limit)
}

// Connections returns the open connections.
func (r *Recorder) Connections() []Connection {
	return r.registry.List()
}

// Registry returns the connection registry.
func (r *Recorder) Registry() *Registry {
	return r.registry
}

// Subscribe registers a live subscriber receiving serialized messages.
func (r *Recorder) Subscribe() (<-chan []byte, func()) {
	return r.hub.Subscribe()
}

// Clear empties the message buffer.
func (r *Recorder) Clear() int {
	return r.buffer.Clear()
}

// Len returns the number of buffered messages.
func (r *Recorder) Len() int {
	return r.buffer.Len()
}
