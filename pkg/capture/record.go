package capture

import (
	"maps"
	"net/http"
	"net/url"
	"time"
)

// Record is one captured request/response lifecycle.
type Record struct {
	ID        string `json:"id"`
	RequestID string `json:"requestId"`
	Timestamp int64  `json:"timestamp"`

	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Route   string            `json:"route,omitempty"`
	Query   map[string]string `json:"query"`
	Params  map[string]string `json:"params"`
	Headers map[string]string `json:"headers"`
	Body    any               `json:"body,omitempty"`

	Response *Response `json:"response,omitempty"`

	DurationMs int64    `json:"durationMs"`
	Timings    *Timings `json:"timings,omitempty"`

	Cache []CacheOp `json:"cache,omitempty"`

	Truncated bool   `json:"truncated"`
	Error     string `json:"error,omitempty"`
}

// Response is the response facet of a Record.
type Response struct {
	StatusCode  int               `json:"statusCode"`
	Headers     map[string]string `json:"headers,omitempty"`
	Body        any               `json:"body,omitempty"`
	ContentType string            `json:"contentType,omitempty"`
	Size        int               `json:"size"`
}

// Timings holds sub-phase durations in milliseconds. A phase is nil when
// either bounding timestamp was not observed or they were out of order.
type Timings struct {
	PreDispatchMs *int64 `json:"preDispatchMs,omitempty"`
	HandlerMs     *int64 `json:"handlerMs,omitempty"`
	SendMs        *int64 `json:"sendMs,omitempty"`
}

// CacheOp is one cache operation attributed to a record.
type CacheOp struct {
	Op         string `json:"op"`
	Key        string `json:"key"`
	Hit        *bool  `json:"hit,omitempty"`
	DurationMs int64  `json:"durationMs"`
	Error      string `json:"error,omitempty"`
}

// Time returns the record timestamp.
func (r *Record) Time() time.Time {
	return time.UnixMilli(r.Timestamp)
}

// StatusCode returns the response status, or 0 while unknown.
func (r *Record) StatusCode() int {
	if r.Response == nil {
		return 0
	}
	return r.Response.StatusCode
}

// Clone returns a copy that shares no mutable state with r. Maps are not
// copied because the store replaces them wholesale rather than editing them.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Query = maps.Clone(r.Query)
	cp.Params = maps.Clone(r.Params)
	cp.Headers = maps.Clone(r.Headers)
	cp.Body = cloneValue(r.Body)
	if r.Response != nil {
		resp := *r.Response
		resp.Headers = maps.Clone(r.Response.Headers)
		resp.Body = cloneValue(r.Response.Body)
		cp.Response = &resp
	}
	if r.Timings != nil {
		t := *r.Timings
		cp.Timings = &t
	}
	if r.Cache != nil {
		cp.Cache = append([]CacheOp(nil), r.Cache...)
	}
	return &cp
}

// cloneValue copies the maps and slices of a decoded JSON value. Scalars
// are shared.
func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = cloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// RequestMeta is the request data available at the start of a lifecycle.
type RequestMeta struct {
	Method string
	URL    string
	Header http.Header
	Query  url.Values
	Route  string
	Params map[string]string
}
