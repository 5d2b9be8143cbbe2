package wsinst

import (
	"encoding/json"
	"net/http"
	"sync"

	gws "github.com/gorilla/websocket"

	"github.com/getmockd/peek/pkg/capture"
)

// GorillaConn is a gorilla/websocket connection whose ReadMessage and
// WriteMessage calls are recorded.
type GorillaConn struct {
	*gws.Conn

	id   string
	rec  *Recorder
	once sync.Once
}

// Upgrade upgrades the request with u and instruments the connection.
func (r *Recorder) Upgrade(u *gws.Upgrader, w http.ResponseWriter, req *http.Request, header http.Header) (*GorillaConn, error) {
	c, err := u.Upgrade(w, req, header)
	if err != nil {
		return nil, err
	}
	return r.WrapGorilla(c, req), nil
}

// WrapGorilla instruments an already upgraded connection. req is the
// upgrade request and may be nil.
func (r *Recorder) WrapGorilla(c *gws.Conn, req *http.Request) *GorillaConn {
	var recordID, remote, path string
	if req != nil {
		recordID, _ = capture.RecordIDFrom(req.Context())
		remote, path = req.RemoteAddr, req.URL.Path
	}
	return &GorillaConn{Conn: c, id: r.Connect(recordID, remote, path), rec: r}
}

// ID returns the connection id.
func (c *GorillaConn) ID() string { return c.id }

// ReadMessage reads and records one data message. A read error
// unregisters the connection.
func (c *GorillaConn) ReadMessage() (int, []byte, error) {
	typ, data, err := c.Conn.ReadMessage()
	if err != nil {
		c.release()
		return typ, data, err
	}
	c.rec.Record(c.id, Incoming, gorillaKind(typ), data)
	return typ, data, nil
}

// WriteMessage writes and records one message. Control frames are not
// recorded.
func (c *GorillaConn) WriteMessage(typ int, data []byte) error {
	if err := c.Conn.WriteMessage(typ, data); err != nil {
		return err
	}
	if typ == gws.TextMessage || typ == gws.BinaryMessage {
		c.rec.Record(c.id, Outgoing, gorillaKind(typ), data)
	}
	return nil
}

// WriteJSON encodes v as a text message.
func (c *GorillaConn) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.WriteMessage(gws.TextMessage, data)
}

// ReadJSON reads a message and decodes it into v.
func (c *GorillaConn) ReadJSON(v any) error {
	_, data, err := c.ReadMessage()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// Close closes the connection.
func (c *GorillaConn) Close() error {
	c.release()
	return c.Conn.Close()
}

func (c *GorillaConn) release() {
	c.once.Do(func() { c.rec.Disconnect(c.id) })
}

func gorillaKind(typ int) Kind {
	if typ == gws.BinaryMessage {
		return KindBinary
	}
	return KindText
}
