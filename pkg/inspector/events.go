package inspector

import (
	"net/http"
	"time"

	"github.com/getmockd/peek/pkg/httputil"
)

// handleEvents handles GET /events: one data frame per finished record,
// plus a keepalive comment every heartbeat.
func (in *Inspector) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := httputil.StartEventStream(w)
	if !ok {
		httputil.WriteInternalError(w, "streaming_unsupported", "response writer cannot stream")
		return
	}

	frames, unsubscribe := in.store.Subscribe()
	defer unsubscribe()

	if err := httputil.WriteComment(w, "connected"); err != nil {
		return
	}
	flusher.Flush()

	ticker := time.NewTicker(in.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			if err := httputil.WriteEvent(w, frame); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if err := httputil.WriteComment(w, "ping"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
