package capture

import "sync"

// DefaultSubscriberBuffer is the per-subscriber channel capacity.
const DefaultSubscriberBuffer = 64

// Hub fans serialized frames out to live subscribers. Publishing never
// blocks: a subscriber whose channel is full misses the frame.
type Hub struct {
	mu     sync.RWMutex
	subs   map[chan []byte]struct{}
	buffer int

	// OnChange, when set, receives the subscriber count after every
	// subscribe or unsubscribe.
	OnChange func(n int)
}

// NewHub creates a hub whose subscriber channels hold buffer frames.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &Hub{
		subs:   make(map[chan []byte]struct{}),
		buffer: buffer,
	}
}

// Subscribe registers a subscriber. The returned function unsubscribes and
// closes the channel; calling it more than once is safe.
func (h *Hub) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, h.buffer)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()
	h.changed(n)

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			n := len(h.subs)
			close(ch)
			h.mu.Unlock()
			h.changed(n)
		})
	}
}

// Publish delivers frame to every subscriber with room in its channel and
// returns how many subscribers missed it.
func (h *Hub) Publish(frame []byte) (dropped int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subs {
		select {
		case ch <- frame:
		default:
			dropped++
		}
	}
	return dropped
}

// Count returns the number of live subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) changed(n int) {
	if h.OnChange != nil {
		h.OnChange(n)
	}
}
