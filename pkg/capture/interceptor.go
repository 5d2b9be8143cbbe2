package capture

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/getmockd/peek/internal/id"
	"github.com/getmockd/peek/pkg/logging"
	"github.com/getmockd/peek/pkg/metrics"
)

// RequestIDHeader is read for the framework-level request id.
const RequestIDHeader = "X-Request-Id"

// Defaults for Options.
const (
	DefaultBasePath       = "/__peek"
	DefaultMaxBodyBytes   = 64 << 10
	DefaultPersistTimeout = 5 * time.Second
	minReadCeiling        = 1 << 20
)

// Persister receives finished records. Calls run in the background and their
// errors are only logged.
type Persister interface {
	Persist(ctx context.Context, rec *Record) error
}

// Options configures an Interceptor.
type Options struct {
	// BasePath is the inspector's own route prefix. Requests under it are
	// never captured.
	BasePath string
	// MaxBodyBytes caps stored request and response bodies.
	MaxBodyBytes int
	// IgnorePaths are doublestar patterns of paths that are not captured.
	IgnorePaths []string
	// PersistTimeout bounds each background Persist call.
	PersistTimeout time.Duration
}

// Interceptor implements the four capture lifecycle hooks.
type Interceptor struct {
	store    *Store
	opts     Options
	resolver RouteResolver
	metrics  *metrics.Metrics
	logger   *slog.Logger

	persistMu sync.RWMutex
	persister Persister
	inflight  sync.WaitGroup
}

// InterceptorOption customizes an Interceptor.
type InterceptorOption func(*Interceptor)

// WithPersister hands finished records to p.
func WithPersister(p Persister) InterceptorOption {
	return func(ic *Interceptor) { ic.persister = p }
}

// WithRouteResolver replaces DefaultRouteResolver.
func WithRouteResolver(r RouteResolver) InterceptorOption {
	return func(ic *Interceptor) { ic.resolver = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) InterceptorOption {
	return func(ic *Interceptor) { ic.logger = logging.Component(l, "interceptor") }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) InterceptorOption {
	return func(ic *Interceptor) { ic.metrics = m }
}

// NewInterceptor creates an Interceptor writing into store.
func NewInterceptor(store *Store, opts Options, options ...InterceptorOption) *Interceptor {
	if opts.BasePath == "" {
		opts.BasePath = DefaultBasePath
	}
	if opts.MaxBodyBytes == 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = DefaultPersistTimeout
	}
	ic := &Interceptor{
		store:    store,
		opts:     opts,
		resolver: DefaultRouteResolver,
		logger:   logging.Nop(),
	}
	for _, o := range options {
		o(ic)
	}
	return ic
}

// Store returns the underlying store.
func (ic *Interceptor) Store() *Store {
	return ic.store
}

// SetPersister swaps the persistence collaborator. nil disables persistence.
func (ic *Interceptor) SetPersister(p Persister) {
	ic.persistMu.Lock()
	ic.persister = p
	ic.persistMu.Unlock()
}

// Excluded reports whether path belongs to the inspector itself or matches
// one of the ignore patterns.
func (ic *Interceptor) Excluded(path string) bool {
	if strings.HasPrefix(path, ic.opts.BasePath) {
		return true
	}
	for _, pattern := range ic.opts.IgnorePaths {
		if ok, err := doublestar.Match(pattern, path); err == nil && ok {
			return true
		}
	}
	return false
}

// OnStart begins a record for r and returns r carrying the capture state.
func (ic *Interceptor) OnStart(r *http.Request) *http.Request {
	if ic.Excluded(r.URL.Path) || stateFrom(r.Context()) != nil {
		return r
	}
	requestID := r.Header.Get(RequestIDHeader)
	if requestID == "" {
		requestID = id.Request()
	}
	recordID := ic.store.Begin(requestID, RequestMeta{
		Method: r.Method,
		URL:    r.URL.RequestURI(),
		Header: r.Header,
		Query:  r.URL.Query(),
	})
	return r.WithContext(withState(r.Context(), &reqState{recordID: recordID, requestID: requestID}))
}

// OnPreDispatch captures the request body and restores it for the handler.
func (ic *Interceptor) OnPreDispatch(r *http.Request) {
	st := ic.active(r)
	if st == nil {
		return
	}
	defer ic.store.Stamp(st.recordID, PhasePreDispatch, ic.store.Now())

	if r.Body == nil || r.Body == http.NoBody {
		return
	}
	ceiling := readCeiling(ic.opts.MaxBodyBytes)
	data, err := io.ReadAll(io.LimitReader(r.Body, int64(ceiling)+1))
	// The handler sees the bytes read so far followed by the unread rest.
	r.Body = &restoredBody{Reader: io.MultiReader(bytes.NewReader(data), r.Body), Closer: r.Body}
	if err != nil {
		ic.store.Fail(st.recordID, fmt.Errorf("read request body: %w", err))
		return
	}

	body := RequestBody{Data: data, ContentType: r.Header.Get("Content-Type")}
	if len(data) > ceiling {
		body.Data, body.Overflow = data[:ceiling], true
	}
	ic.store.CaptureBody(st.recordID, body, ic.opts.MaxBodyBytes)
}

// MarkSending stamps the start of the send phase without capturing.
func (ic *Interceptor) MarkSending(r *http.Request) {
	if st := ic.active(r); st != nil {
		ic.store.Stamp(st.recordID, PhasePreSend, ic.store.Now())
	}
}

// OnPreSend captures the outgoing payload and returns its data unchanged.
func (ic *Interceptor) OnPreSend(r *http.Request, payload ResponsePayload) []byte {
	st := ic.active(r)
	if st == nil {
		return payload.Data
	}
	ic.store.Stamp(st.recordID, PhasePreSend, ic.store.Now())
	ic.store.CaptureResponse(st.recordID, payload, ic.opts.MaxBodyBytes)
	return payload.Data
}

// OnComplete finishes the record, broadcasts it and persists it in the
// background. It is a no-op when the record already finished.
func (ic *Interceptor) OnComplete(r *http.Request, statusCode int) {
	st := ic.active(r)
	if st == nil {
		return
	}
	st.done = true

	rec, ok := ic.store.Finish(st.recordID, statusCode)
	if !ok {
		return
	}
	ic.store.Broadcast(rec)
	ic.persist(rec)
	ic.logger.Debug("request captured",
		"id", rec.ID, "method", rec.Method, "url", rec.URL,
		"status", statusCode, "durationMs", rec.DurationMs)
}

// Resolve records the matched route and path parameters after dispatch.
func (ic *Interceptor) Resolve(r *http.Request) {
	st := ic.active(r)
	if st == nil || ic.resolver == nil {
		return
	}
	route, params := ic.resolver.Resolve(r)
	ic.store.SetRoute(st.recordID, route, params)
}

func (ic *Interceptor) active(r *http.Request) *reqState {
	st := stateFrom(r.Context())
	if st == nil || st.done {
		return nil
	}
	return st
}

func (ic *Interceptor) persist(rec *Record) {
	ic.persistMu.RLock()
	p := ic.persister
	ic.persistMu.RUnlock()
	if p == nil {
		return
	}

	ic.inflight.Add(1)
	go func() {
		defer ic.inflight.Done()
		defer func() {
			if v := recover(); v != nil {
				ic.metrics.ObservePersistFailure()
				ic.logger.Debug("persist panicked", "id", rec.ID, "panic", v)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), ic.opts.PersistTimeout)
		defer cancel()
		if err := p.Persist(ctx, rec); err != nil {
			ic.metrics.ObservePersistFailure()
			ic.logger.Debug("persist failed", "id", rec.ID, "error", err)
		}
	}()
}

// Flush waits for background persistence calls to return.
func (ic *Interceptor) Flush() {
	ic.inflight.Wait()
}

// readCeiling is the most body bytes buffered for capture.
func readCeiling(maxBytes int) int {
	if maxBytes <= 0 {
		return minReadCeiling
	}
	return max(4*maxBytes, minReadCeiling)
}

type restoredBody struct {
	io.Reader
	io.Closer
}
