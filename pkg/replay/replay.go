// Package replay re-dispatches captured requests through the live handler.
package replay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/getmockd/peek/pkg/capture"
	"github.com/getmockd/peek/pkg/logging"
	"github.com/getmockd/peek/pkg/metrics"
	"github.com/getmockd/peek/pkg/redact"
	"github.com/getmockd/peek/pkg/relaxedjson"
)

// HeaderName marks replayed requests.
const HeaderName = "x-peek-replay"

// PreviewLength is the number of characters of a textual response kept in
// a Result.
const PreviewLength = 2048

// Sentinel errors.
var (
	ErrNotFound = errors.New("replay: record not found")
	ErrLoop     = errors.New("replay: refusing to replay an inspector route")
	ErrDispatch = errors.New("replay: dispatch failed")
	ErrNoTarget = errors.New("replay: no handler installed")
	ErrBadURL   = errors.New("replay: invalid url")
)

// stripped headers would corrupt a fresh dispatch.
var stripped = map[string]bool{
	"host":              true,
	"connection":        true,
	"content-length":    true,
	"transfer-encoding": true,
}

// Source finds records outside the in-memory store.
type Source interface {
	Get(ctx context.Context, id string) (*capture.Record, error)
}

// Request describes a replay. Empty fields fall back to the source record.
type Request struct {
	ID      string            `json:"id,omitempty"`
	Method  string            `json:"method,omitempty"`
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    any               `json:"body,omitempty"`
}

// Result is the outcome of a replay.
type Result struct {
	OK         bool              `json:"ok"`
	StatusCode int               `json:"statusCode"`
	Headers    map[string]string `json:"headers"`
	Body       any               `json:"body"`
}

// Engine replays requests.
type Engine struct {
	store    *capture.Store
	basePath string

	mu      sync.RWMutex
	handler http.Handler
	source  Source

	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Option customizes an Engine.
type Option func(*Engine)

// WithSource adds a fallback record source.
func WithSource(s Source) Option {
	return func(e *Engine) { e.source = s }
}

// WithMetrics counts replays in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = logging.Component(l, "replay") }
}

// New creates an Engine reading records from store. Requests under
// basePath are refused.
func New(store *capture.Store, basePath string, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		basePath: strings.TrimRight(basePath, "/"),
		logger:   logging.Nop(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// SetHandler installs the handler replays are dispatched to.
func (e *Engine) SetHandler(h http.Handler) {
	e.mu.Lock()
	e.handler = h
	e.mu.Unlock()
}

// SetSource replaces the fallback record source.
func (e *Engine) SetSource(s Source) {
	e.mu.Lock()
	e.source = s
	e.mu.Unlock()
}

// Replay builds the request from req and its source record, dispatches it
// in-process and returns the response.
func (e *Engine) Replay(ctx context.Context, req Request) (*Result, error) {
	res, err := e.replay(ctx, req)
	e.metrics.ObserveReplay(outcome(err))
	if err != nil {
		e.logger.Debug("replay failed", "id", req.ID, "error", err)
	}
	return res, err
}

func (e *Engine) replay(ctx context.Context, req Request) (*Result, error) {
	var src *capture.Record
	if req.ID != "" {
		rec, err := e.lookup(ctx, req.ID)
		if err != nil {
			return nil, err
		}
		src = rec
	}

	method := firstNonEmpty(req.Method, sourceField(src, func(r *capture.Record) string { return r.Method }), http.MethodGet)
	target := firstNonEmpty(req.URL, sourceField(src, func(r *capture.Record) string { return r.URL }), "/")
	local, err := localTarget(target)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrBadURL, target, err)
	}
	if e.underBase(local.Path) {
		return nil, fmt.Errorf("%w: %s", ErrLoop, target)
	}
	target = local.RequestURI()

	headers := mergeHeaders(src, req.Headers)
	body := req.Body
	if body == nil && src != nil {
		body = src.Body
	}
	payload, err := encodeBody(body, headers)
	if err != nil {
		return nil, fmt.Errorf("%w: encode body: %v", ErrDispatch, err)
	}

	e.mu.RLock()
	h := e.handler
	e.mu.RUnlock()
	if h == nil {
		return nil, ErrNoTarget
	}

	httpReq, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), target, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDispatch, err)
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}
	httpReq.RequestURI = target
	httpReq.RemoteAddr = "127.0.0.1:0"
	httpReq.ContentLength = int64(len(payload))

	rec, err := dispatch(h, httpReq)
	if err != nil {
		return nil, err
	}
	return toResult(rec), nil
}

func (e *Engine) lookup(ctx context.Context, recordID string) (*capture.Record, error) {
	if e.store != nil {
		if rec, ok := e.store.Lookup(recordID); ok {
			return rec, nil
		}
	}
	e.mu.RLock()
	src := e.source
	e.mu.RUnlock()
	if src != nil {
		rec, err := src.Get(ctx, recordID)
		if err == nil && rec != nil {
			return rec, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, recordID)
}

// localTarget reduces target to an origin-form URL. Replays never leave the
// process, so scheme and host of an absolute URL are dropped.
func localTarget(target string) (*url.URL, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, err
	}
	local := &url.URL{Path: u.Path, RawPath: u.RawPath, RawQuery: u.RawQuery}
	if !strings.HasPrefix(local.Path, "/") {
		local.Path = "/" + local.Path
		local.RawPath = ""
	}
	return local, nil
}

// underBase matches the decoded path the way the inspector routes it, and
// its dot-segment free form.
func (e *Engine) underBase(p string) bool {
	if e.basePath == "" {
		return false
	}
	for _, candidate := range []string{p, path.Clean(p)} {
		if candidate == e.basePath || strings.HasPrefix(candidate, e.basePath+"/") {
			return true
		}
	}
	return false
}

func dispatch(h http.Handler, r *http.Request) (rec *httptest.ResponseRecorder, err error) {
	rec = httptest.NewRecorder()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrDispatch, p)
		}
	}()
	h.ServeHTTP(rec, r)
	return rec, nil
}

// mergeHeaders overlays explicit on the source headers. Names are lower
// cased; masked source values are dropped.
func mergeHeaders(src *capture.Record, explicit map[string]string) map[string]string {
	out := make(map[string]string)
	if src != nil {
		for k, v := range src.Headers {
			if v == redact.Marker {
				continue
			}
			out[strings.ToLower(k)] = v
		}
	}
	for k, v := range explicit {
		out[strings.ToLower(k)] = v
	}
	for k := range stripped {
		delete(out, k)
	}
	out[HeaderName] = "1"
	return out
}

// encodeBody renders the body to send. Strings that decode as JSON are
// sent as JSON; other values are JSON encoded.
func encodeBody(body any, headers map[string]string) ([]byte, error) {
	switch v := body.(type) {
	case nil:
		return nil, nil
	case string:
		decoded, ok := relaxedjson.Parse(v)
		if !ok {
			return []byte(v), nil
		}
		if s, isString := decoded.(string); isString {
			return []byte(s), nil
		}
		body = decoded
	case []byte:
		return v, nil
	}
	if form, ok := body.(map[string]any); ok && isForm(headers["content-type"]) {
		return []byte(encodeForm(form)), nil
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	if _, ok := headers["content-type"]; !ok {
		headers["content-type"] = "application/json"
	}
	return data, nil
}

func isForm(contentType string) bool {
	mt, _, _ := mime.ParseMediaType(contentType)
	return mt == "application/x-www-form-urlencoded"
}

func encodeForm(form map[string]any) string {
	values := url.Values{}
	for k, v := range form {
		switch x := v.(type) {
		case []any:
			for _, item := range x {
				values.Add(k, fmt.Sprint(item))
			}
		default:
			values.Set(k, fmt.Sprint(x))
		}
	}
	return values.Encode()
}

func toResult(rec *httptest.ResponseRecorder) *Result {
	resp := rec.Result()
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)

	headers := make(map[string]string, len(resp.Header))
	for k, vs := range resp.Header {
		headers[strings.ToLower(k)] = strings.Join(vs, ", ")
	}
	return &Result{
		OK:         resp.StatusCode < http.StatusBadRequest,
		StatusCode: resp.StatusCode,
		Headers:    headers,
		Body:       previewBody(data),
	}
}

func previewBody(data []byte) any {
	if len(data) == 0 {
		return ""
	}
	if !utf8.Valid(data) {
		return fmt.Sprintf("<binary %d bytes>", len(data))
	}
	text := string(data)
	if utf8.RuneCountInString(text) > PreviewLength {
		runes := []rune(text)
		return string(runes[:PreviewLength])
	}
	if v, ok := relaxedjson.Parse(text); ok {
		return v
	}
	return text
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrLoop):
		return "loop"
	default:
		return "error"
	}
}

func sourceField(r *capture.Record, fn func(*capture.Record) string) string {
	if r == nil {
		return ""
	}
	return fn(r)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// StatusFor maps a replay error to an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrLoop), errors.Is(err, ErrBadURL):
		return http.StatusBadRequest
	case errors.Is(err, ErrNoTarget):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
