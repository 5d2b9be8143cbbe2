package inspector

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/getmockd/peek/pkg/cacheinst"
	"github.com/getmockd/peek/pkg/capture"
	"github.com/getmockd/peek/pkg/httputil"
	"github.com/getmockd/peek/pkg/persist"
	"github.com/getmockd/peek/pkg/replay"
	"github.com/getmockd/peek/pkg/wsinst"
)

// listLimit is how many buffered records GET /requests returns.
const listLimit = 100

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	Buffered    int               `json:"buffered"`
	Capacity    int               `json:"capacity"`
	Pending     int               `json:"pending"`
	Subscribers int               `json:"subscribers"`
	Persistence PersistenceStatus `json:"persistence"`
	WebSockets  WebSocketStatus   `json:"websockets"`
	Uptime      int64             `json:"uptimeSeconds"`
}

// PersistenceStatus describes the persistence backend.
type PersistenceStatus struct {
	Configured bool `json:"configured"`
	Ready      bool `json:"ready"`
}

// WebSocketStatus summarizes the WebSocket recorder.
type WebSocketStatus struct {
	Messages    int `json:"messages"`
	Connections int `json:"connections"`
}

// StoreQueryResponse is returned by GET /store/requests.
type StoreQueryResponse struct {
	Records      []*capture.Record `json:"records"`
	Ready        bool              `json:"ready"`
	NextBeforeID string            `json:"nextBeforeId,omitempty"`
}

// handleListRequests handles GET /requests.
func (in *Inspector) handleListRequests(w http.ResponseWriter, r *http.Request) {
	records := in.store.List(listLimit)
	if records == nil {
		records = []*capture.Record{}
	}
	httputil.WriteOK(w, records)
}

// handleGetRequest handles GET /requests/{id}.
func (in *Inspector) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	rec, ok := in.lookup(r)
	if !ok {
		httputil.WriteNotFound(w, "not_found", "record not found")
		return
	}
	httputil.WriteOK(w, rec)
}

// lookup finds a record in the buffer, the pending set, then persistence.
func (in *Inspector) lookup(r *http.Request) (*capture.Record, bool) {
	recordID := r.PathValue("id")
	if rec, ok := in.store.Lookup(recordID); ok {
		return rec, true
	}
	b := in.backend()
	if b == nil || !b.Ready() {
		return nil, false
	}
	rec, err := b.Get(r.Context(), recordID)
	if err != nil {
		if !errors.Is(err, persist.ErrNotFound) {
			in.logger.Debug("persistence lookup failed", "id", recordID, "error", err)
		}
		return nil, false
	}
	return rec, true
}

// handleStatus handles GET /status.
func (in *Inspector) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := StatusResponse{
		Buffered:    in.store.Len(),
		Capacity:    in.store.Capacity(),
		Pending:     in.store.PendingCount(),
		Subscribers: in.store.SubscriberCount(),
		WebSockets: WebSocketStatus{
			Messages:    in.ws.Len(),
			Connections: in.ws.Registry().Len(),
		},
		Uptime: int64(time.Since(in.started).Seconds()),
	}
	if b := in.backend(); b != nil {
		resp.Persistence = PersistenceStatus{Configured: true, Ready: b.Ready()}
	}
	httputil.WriteOK(w, resp)
}

// handleClear handles POST /clear. Persisted records are kept.
func (in *Inspector) handleClear(w http.ResponseWriter, _ *http.Request) {
	n := in.store.Clear()
	in.logger.Debug("buffer cleared", "count", n)
	httputil.WriteOK(w, map[string]int{"cleared": n})
}

// handleReplay handles POST /replay.
func (in *Inspector) handleReplay(w http.ResponseWriter, r *http.Request) {
	var req replay.Request
	if err := httputil.ReadJSON(r, &req); err != nil && !errors.Is(err, httputil.ErrEmptyBody) {
		httputil.WriteBadRequest(w, "invalid_json", err.Error())
		return
	}

	res, err := in.replay.Replay(r.Context(), req)
	if err != nil {
		httputil.WriteError(w, replay.StatusFor(err), replayCode(err), err.Error())
		return
	}
	httputil.WriteOK(w, res)
}

func replayCode(err error) string {
	switch {
	case errors.Is(err, replay.ErrNotFound):
		return "not_found"
	case errors.Is(err, replay.ErrLoop):
		return "replay_loop"
	case errors.Is(err, replay.ErrBadURL):
		return "invalid_url"
	case errors.Is(err, replay.ErrNoTarget):
		return "no_target"
	default:
		return "replay_failed"
	}
}

// handleListMessages handles GET /websockets.
func (in *Inspector) handleListMessages(w http.ResponseWriter, r *http.Request) {
	msgs := in.ws.Messages(queryLimit(r, 0))
	if msgs == nil {
		msgs = []wsinst.Message{}
	}
	httputil.WriteOK(w, msgs)
}

// handleListConnections handles GET /websockets/connections.
func (in *Inspector) handleListConnections(w http.ResponseWriter, _ *http.Request) {
	conns := in.ws.Connections()
	if conns == nil {
		conns = []wsinst.Connection{}
	}
	httputil.WriteOK(w, conns)
}

// handleRedisStatus handles GET /redis/status.
func (in *Inspector) handleRedisStatus(w http.ResponseWriter, r *http.Request) {
	httputil.WriteOK(w, cacheinst.Status(r.Context(), in.cacheClient()))
}

// handleStoreQuery handles GET /store/requests.
func (in *Inspector) handleStoreQuery(w http.ResponseWriter, r *http.Request) {
	f, err := persist.ParseFilter(r.URL.Query())
	if err != nil {
		httputil.WriteBadRequest(w, "invalid_filter", err.Error())
		return
	}

	resp := StoreQueryResponse{Records: []*capture.Record{}}
	b := in.backend()
	if b == nil || !b.Ready() {
		httputil.WriteOK(w, resp)
		return
	}

	f = f.Normalize()
	records, err := b.Query(r.Context(), f)
	if err != nil {
		in.logger.Debug("persistence query failed", "error", err)
		httputil.WriteOK(w, resp)
		return
	}
	resp.Ready = true
	if records != nil {
		resp.Records = records
	}
	if len(records) == f.Limit {
		resp.NextBeforeID = records[len(records)-1].ID
	}
	httputil.WriteOK(w, resp)
}

// handleStoreExport handles GET /store/export as newline-delimited JSON.
func (in *Inspector) handleStoreExport(w http.ResponseWriter, r *http.Request) {
	f, err := persist.ParseFilter(r.URL.Query())
	if err != nil {
		httputil.WriteBadRequest(w, "invalid_filter", err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Content-Disposition", `attachment; filename="peek-export.ndjson"`)
	b := in.backend()
	if b == nil || !b.Ready() {
		w.WriteHeader(http.StatusOK)
		return
	}
	n, err := persist.Export(r.Context(), b, w, f)
	if err != nil {
		in.logger.Debug("export stopped", "written", n, "error", err)
	}
}

// handleStoreClear handles POST /store/clear.
func (in *Inspector) handleStoreClear(w http.ResponseWriter, r *http.Request) {
	b := in.backend()
	if b == nil || !b.Ready() {
		httputil.WriteOK(w, map[string]int{"deleted": 0})
		return
	}
	n, err := b.DeleteAll(r.Context())
	if err != nil {
		in.logger.Debug("persistence clear failed", "error", err)
	}
	httputil.WriteOK(w, map[string]int{"deleted": n})
}

func queryLimit(r *http.Request, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return def
	}
	return n
}
