// Package redact masks sensitive header values and body fields before they
// are stored in a capture record.
//
// All functions are pure: they return new values and never modify their input.
package redact

import (
	"strings"
)

// Marker replaces every masked value.
const Marker = "[REDACTED]"

var sensitiveHeaders = map[string]struct{}{
	"authorization":       {},
	"proxy-authorization": {},
	"cookie":              {},
	"set-cookie":          {},
	"x-api-key":           {},
	"x-auth-token":        {},
	"x-access-token":      {},
	"x-csrf-token":        {},
	"x-peek-token":        {},
}

var sensitiveFields = map[string]struct{}{
	"password": {},
	"token":    {},
	"jwt":      {},
	"secret":   {},
}

// IsSensitiveHeader reports whether name is on the header deny list.
// Matching is case-insensitive.
func IsSensitiveHeader(name string) bool {
	_, ok := sensitiveHeaders[strings.ToLower(name)]
	return ok
}

// IsSensitiveField reports whether key is on the field deny list.
// Matching is case-insensitive and exact.
func IsSensitiveField(key string) bool {
	_, ok := sensitiveFields[strings.ToLower(key)]
	return ok
}

// MaskHeaders flattens h into name -> value, joining repeated values with ", ".
// Values of deny-listed headers become Marker. Names without values are
// omitted. Accepts http.Header directly.
func MaskHeaders(h map[string][]string) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		if len(values) == 0 {
			continue
		}
		key := strings.ToLower(name)
		if IsSensitiveHeader(key) {
			out[key] = Marker
			continue
		}
		out[key] = strings.Join(values, ", ")
	}
	return out
}

// MaskValues flattens query or path parameters the same way MaskHeaders
// does, masking keys on the field deny list. Key case is preserved.
func MaskValues(v map[string][]string) map[string]string {
	out := make(map[string]string, len(v))
	for key, values := range v {
		if len(values) == 0 {
			continue
		}
		if IsSensitiveField(key) {
			out[key] = Marker
			continue
		}
		out[key] = strings.Join(values, ", ")
	}
	return out
}

// MaskStrings masks a flat string map such as resolved path parameters.
func MaskStrings(v map[string]string) map[string]string {
	out := make(map[string]string, len(v))
	for key, value := range v {
		if IsSensitiveField(key) {
			out[key] = Marker
			continue
		}
		out[key] = value
	}
	return out
}

// MaskObject returns a deep copy of v with the value of every deny-listed
// key replaced by Marker, at any depth. Maps and slices are copied, scalars
// pass through. v is expected to be JSON-shaped (the output of
// encoding/json decoding into any).
func MaskObject(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			if IsSensitiveField(k) {
				out[k] = Marker
				continue
			}
			out[k] = MaskObject(child)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, child := range t {
			out[i] = MaskObject(child)
		}
		return out
	case map[string]string:
		return MaskStrings(t)
	case map[string][]string:
		out := make(map[string]any, len(t))
		for k, vals := range t {
			if IsSensitiveField(k) {
				out[k] = Marker
				continue
			}
			cp := make([]any, len(vals))
			for i, s := range vals {
				cp[i] = s
			}
			out[k] = cp
		}
		return out
	default:
		return v
	}
}
