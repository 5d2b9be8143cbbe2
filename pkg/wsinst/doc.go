// Package wsinst records WebSocket traffic next to the captured HTTP
// requests.
//
// A Recorder keeps its own bounded buffer of Messages, a live subscriber hub
// and a registry of open connections. Connections are instrumented through
// one of three adapters:
//
//   - Recorder.Accept / Recorder.Handler for github.com/coder/websocket
//   - Recorder.WrapGorilla / Recorder.Upgrade for github.com/gorilla/websocket
//   - Recorder.InstrumentEmitter for event-style transports (Emit / OnAny)
//
// When a connection is upgraded from a captured request, its messages carry
// that request's capture record id.
package wsinst
