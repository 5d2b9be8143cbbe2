// Package relaxedjson decodes JSON payloads that may carry a byte-order mark,
// an anti-hijacking prefix, or a JSON document double-encoded as a string.
package relaxedjson

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
)

// Prefixes stripped from the start of a payload, in match order.
var hijackPrefixes = []string{
	")]}',",
	")]}'",
	"while(1);",
	"for(;;);",
}

const bom = "\ufeff"

// Parse decodes text. It reports false for blank or malformed input.
// Numbers decode as json.Number.
func Parse(text string) (any, bool) {
	text = strings.TrimPrefix(text, bom)
	// Prefixes count only at the very start; whitespace after them is left
	// to the decoder.
	for _, p := range hijackPrefixes {
		if strings.HasPrefix(text, p) {
			text = text[len(p):]
			break
		}
	}
	if strings.TrimSpace(text) == "" {
		return nil, false
	}

	v, err := decode(text)
	if err != nil {
		return nil, false
	}

	if s, ok := v.(string); ok && looksLikeContainer(s) {
		if inner, err := decode(s); err == nil {
			return inner, true
		}
	}
	return v, true
}

// ParseBytes is Parse for a byte slice.
func ParseBytes(b []byte) (any, bool) {
	if len(bytes.TrimSpace(b)) == 0 {
		return nil, false
	}
	return Parse(string(b))
}

// Valid reports whether Parse would succeed.
func Valid(text string) bool {
	_, ok := Parse(text)
	return ok
}

func looksLikeContainer(s string) bool {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return false
	}
	first, last := s[0], s[len(s)-1]
	return (first == '{' && last == '}') || (first == '[' && last == ']')
}

var errTrailingData = errors.New("trailing data after JSON value")

func decode(text string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errTrailingData
	}
	return v, nil
}
