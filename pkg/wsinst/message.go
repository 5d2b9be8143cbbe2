package wsinst

import (
	"fmt"
	"unicode/utf8"

	"github.com/getmockd/peek/pkg/relaxedjson"
)

// Direction of a message relative to the server.
type Direction string

// Directions.
const (
	Incoming Direction = "incoming"
	Outgoing Direction = "outgoing"
)

// Kind classifies a message.
type Kind string

// Message kinds.
const (
	KindText   Kind = "text"
	KindBinary Kind = "binary"
	KindEmit   Kind = "emit"
	KindEvent  Kind = "event"
)

// Message is one observed WebSocket message. It is never modified after
// it is recorded.
type Message struct {
	ID           string    `json:"id"`
	Timestamp    int64     `json:"timestamp"`
	Direction    Direction `json:"direction"`
	ConnectionID string    `json:"connectionId"`
	Kind         Kind      `json:"kind"`
	Event        string    `json:"event,omitempty"`
	Payload      any       `json:"payload"`
	Size         int       `json:"size"`
	RequestID    string    `json:"requestId,omitempty"`
}

// decodePayload renders raw message bytes for display.
func decodePayload(kind Kind, data []byte) any {
	if kind == KindBinary || !utf8.Valid(data) {
		return fmt.Sprintf("<binary %d bytes>", len(data))
	}
	if v, ok := relaxedjson.ParseBytes(data); ok {
		return v
	}
	return string(data)
}
