package persist

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ohler55/ojg/jp"

	"github.com/getmockd/peek/internal/id"
	"github.com/getmockd/peek/pkg/capture"
)

// Limits applied by Filter.Normalize.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// Filter selects persisted records.
type Filter struct {
	// Method matches the HTTP method case-insensitively.
	Method string
	// StatusClass selects a band: 2 for 2xx through 5 for 5xx. 0 matches all.
	StatusClass int
	// Q is a case-insensitive substring matched against url, route and body.
	Q string
	// From and To bound the record timestamp (inclusive). Zero means open.
	From time.Time
	To   time.Time
	// BeforeID returns only records older than this record id (cursor).
	BeforeID string
	// Path is a JSONPath expression evaluated against the captured request
	// body. A record matches when the path selects at least one value.
	Path  jp.Expr
	Limit int
}

// Normalize applies default and maximum limits.
func (f Filter) Normalize() Filter {
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	f.Method = strings.ToUpper(strings.TrimSpace(f.Method))
	return f
}

// ParseFilter reads a Filter from query parameters: method, status (2xx..5xx),
// q, from, to (RFC 3339 or YYYY-MM-DD), beforeId, path (JSONPath) and limit.
func ParseFilter(v url.Values) (Filter, error) {
	f := Filter{
		Method:   v.Get("method"),
		Q:        v.Get("q"),
		BeforeID: v.Get("beforeId"),
	}

	if s := v.Get("status"); s != "" {
		class, err := parseStatusClass(s)
		if err != nil {
			return Filter{}, err
		}
		f.StatusClass = class
	}
	if s := v.Get("from"); s != "" {
		t, err := parseTime(s, false)
		if err != nil {
			return Filter{}, fmt.Errorf("invalid from: %w", err)
		}
		f.From = t
	}
	if s := v.Get("to"); s != "" {
		t, err := parseTime(s, true)
		if err != nil {
			return Filter{}, fmt.Errorf("invalid to: %w", err)
		}
		f.To = t
	}
	if f.BeforeID != "" && !id.IsULID(f.BeforeID) {
		return Filter{}, fmt.Errorf("invalid beforeId %q", f.BeforeID)
	}
	if s := v.Get("path"); s != "" {
		x, err := jp.ParseString(s)
		if err != nil {
			return Filter{}, fmt.Errorf("invalid path %q: %w", s, err)
		}
		f.Path = x
	}
	if s := v.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return Filter{}, fmt.Errorf("invalid limit %q", s)
		}
		f.Limit = n
	}
	return f.Normalize(), nil
}

func parseStatusClass(s string) (int, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) == 3 && strings.HasSuffix(s, "xx") && s[0] >= '2' && s[0] <= '5' {
		return int(s[0] - '0'), nil
	}
	return 0, fmt.Errorf("invalid status class %q, want 2xx, 3xx, 4xx or 5xx", s)
}

// parseTime accepts RFC 3339 or a bare date. A bare date used as an upper
// bound covers the whole day.
func parseTime(s string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Millisecond)
	}
	return t, nil
}

// Match reports whether rec satisfies f.
func (f Filter) Match(rec *capture.Record) bool {
	if f.Method != "" && !strings.EqualFold(rec.Method, f.Method) {
		return false
	}
	if f.StatusClass != 0 && rec.StatusCode()/100 != f.StatusClass {
		return false
	}
	ts := rec.Time()
	if !f.From.IsZero() && ts.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && ts.After(f.To) {
		return false
	}
	if f.BeforeID != "" && rec.ID >= f.BeforeID {
		return false
	}
	if f.Q != "" && !matchesText(rec, f.Q) {
		return false
	}
	if len(f.Path) > 0 && !matchesPath(rec, f.Path) {
		return false
	}
	return true
}

func matchesPath(rec *capture.Record, x jp.Expr) bool {
	if rec.Body == nil {
		return false
	}
	return len(x.Get(rec.Body)) > 0
}

func matchesText(rec *capture.Record, q string) bool {
	q = strings.ToLower(q)
	if strings.Contains(strings.ToLower(rec.URL), q) || strings.Contains(strings.ToLower(rec.Route), q) {
		return true
	}
	if rec.Body == nil {
		return false
	}
	body, err := json.Marshal(rec.Body)
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(string(body)), q)
}
