package wsinst

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	ws "github.com/coder/websocket"

	"github.com/getmockd/peek/pkg/capture"
)

// Conn is a coder/websocket connection whose Read and Write calls are
// recorded. Streaming through Reader/Writer bypasses recording.
type Conn struct {
	*ws.Conn

	id   string
	rec  *Recorder
	once sync.Once
}

// Accept upgrades the request and returns an instrumented connection.
func (r *Recorder) Accept(w http.ResponseWriter, req *http.Request, opts *ws.AcceptOptions) (*Conn, error) {
	c, err := ws.Accept(w, req, opts)
	if err != nil {
		return nil, err
	}
	recordID, _ := capture.RecordIDFrom(req.Context())
	return &Conn{
		Conn: c,
		id:   r.Connect(recordID, req.RemoteAddr, req.URL.Path),
		rec:  r,
	}, nil
}

// Handler returns an http.Handler that upgrades each request and calls
// serve. The connection is closed when serve returns.
func (r *Recorder) Handler(opts *ws.AcceptOptions, serve func(ctx context.Context, c *Conn)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		c, err := r.Accept(w, req, opts)
		if err != nil {
			r.logger.Debug("websocket accept failed", "path", req.URL.Path, "error", err)
			return
		}
		defer c.CloseNow() //nolint:errcheck
		serve(req.Context(), c)
		_ = c.Close(ws.StatusNormalClosure, "")
	})
}

// ID returns the connection id.
func (c *Conn) ID() string { return c.id }

// Read reads and records one message. A read error unregisters the
// connection.
func (c *Conn) Read(ctx context.Context) (ws.MessageType, []byte, error) {
	typ, data, err := c.Conn.Read(ctx)
	if err != nil {
		c.release()
		return typ, data, err
	}
	c.rec.Record(c.id, Incoming, coderKind(typ), data)
	return typ, data, nil
}

// Write writes and records one message.
func (c *Conn) Write(ctx context.Context, typ ws.MessageType, data []byte) error {
	if err := c.Conn.Write(ctx, typ, data); err != nil {
		return err
	}
	c.rec.Record(c.id, Outgoing, coderKind(typ), data)
	return nil
}

// WriteJSON encodes v as a text message.
func (c *Conn) WriteJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Write(ctx, ws.MessageText, data)
}

// Close closes the connection with a status code.
func (c *Conn) Close(code ws.StatusCode, reason string) error {
	c.release()
	return c.Conn.Close(code, reason)
}

// CloseNow closes the connection without a close handshake.
func (c *Conn) CloseNow() error {
	c.release()
	return c.Conn.CloseNow()
}

func (c *Conn) release() {
	c.once.Do(func() { c.rec.Disconnect(c.id) })
}

func coderKind(typ ws.MessageType) Kind {
	if typ == ws.MessageBinary {
		return KindBinary
	}
	return KindText
}
