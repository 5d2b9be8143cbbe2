package wsinst

import "sync"

// EventEmitter is a named-event transport such as a socket.io style
// server connection.
type EventEmitter interface {
	Emit(event string, args ...any) error
	OnAny(fn func(event string, args ...any))
}

// instrumented marks an emitter already wrapped by InstrumentEmitter.
type instrumented interface {
	peekInstrumented() bool
}

type recordingEmitter struct {
	EventEmitter
	rec    *Recorder
	connID string
}

func (e *recordingEmitter) peekInstrumented() bool { return true }

// Emit sends the event and records it as an outgoing emit.
func (e *recordingEmitter) Emit(event string, args ...any) error {
	if err := e.EventEmitter.Emit(event, args...); err != nil {
		return err
	}
	e.rec.RecordEvent(e.connID, Outgoing, KindEmit, event, args)
	return nil
}

// InstrumentEmitter records outgoing emits and incoming events on e under
// connID. An emitter that is already instrumented is returned unchanged.
func (r *Recorder) InstrumentEmitter(e EventEmitter, connID string) EventEmitter {
	if m, ok := e.(instrumented); ok && m.peekInstrumented() {
		return e
	}
	e.OnAny(func(event string, args ...any) {
		r.RecordEvent(connID, Incoming, KindEvent, event, args)
	})
	return &recordingEmitter{EventEmitter: e, rec: r, connID: connID}
}

// Bus is an in-process EventEmitter. Emitted events go to the sink;
// Dispatch delivers incoming events to listeners.
type Bus struct {
	mu        sync.RWMutex
	sink      func(event string, args ...any) error
	catchAll  []func(event string, args ...any)
	listeners map[string][]func(args ...any)
}

// NewBus creates a Bus whose emits are passed to sink. A nil sink drops
// them.
func NewBus(sink func(event string, args ...any) error) *Bus {
	return &Bus{sink: sink, listeners: make(map[string][]func(args ...any))}
}

// Emit passes an outgoing event to the sink.
func (b *Bus) Emit(event string, args ...any) error {
	if b.sink == nil {
		return nil
	}
	return b.sink(event, args...)
}

// OnAny registers a listener for every incoming event.
func (b *Bus) OnAny(fn func(event string, args ...any)) {
	b.mu.Lock()
	b.catchAll = append(b.catchAll, fn)
	b.mu.Unlock()
}

// On registers a listener for one incoming event.
func (b *Bus) On(event string, fn func(args ...any)) {
	b.mu.Lock()
	b.listeners[event] = append(b.listeners[event], fn)
	b.mu.Unlock()
}

// Dispatch delivers an incoming event. Catch-all listeners run first.
func (b *Bus) Dispatch(event string, args ...any) {
	b.mu.RLock()
	all := append([]func(string, ...any){}, b.catchAll...)
	named := append([]func(...any){}, b.listeners[event]...)
	b.mu.RUnlock()

	for _, fn := range all {
		fn(event, args...)
	}
	for _, fn := range named {
		fn(args...)
	}
}
