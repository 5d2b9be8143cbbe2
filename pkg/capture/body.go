package capture

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/getmockd/peek/pkg/redact"
	"github.com/getmockd/peek/pkg/relaxedjson"
)

// RequestBody is the request payload handed to CaptureBody.
type RequestBody struct {
	Data        []byte
	ContentType string
	// Overflow means Data stopped at the read ceiling and the real body is
	// longer.
	Overflow bool
}

// ResponsePayload is the response handed to CaptureResponse.
type ResponsePayload struct {
	Data   []byte
	Size   int // total bytes written, may exceed len(Data)
	Header http.Header
	// Overflow means Data holds only the first bytes of the response.
	Overflow bool
}

// truncateSuffix is appended to truncated text.
func truncateSuffix(n int) string {
	if n <= 0 {
		return "...[truncated]"
	}
	return fmt.Sprintf("...[truncated %d bytes]", n)
}

// truncateText cuts s to max bytes. It reports whether it cut anything.
func truncateText(s string, max int) (string, bool) {
	if max <= 0 || len(s) <= max {
		return s, false
	}
	return s[:max] + truncateSuffix(len(s)-max), true
}

// capValue keeps v when its JSON form fits in max bytes, otherwise returns
// the cut JSON text.
func capValue(v any, max int) (any, bool, error) {
	serialized, err := json.Marshal(v)
	if err != nil {
		return nil, false, fmt.Errorf("serialize body: %w", err)
	}
	if max <= 0 || len(serialized) <= max {
		return v, false, nil
	}
	return string(serialized[:max]) + truncateSuffix(len(serialized)-max), true, nil
}

func mediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	}
	return mt
}

func isJSONType(mt string) bool {
	return mt == "application/json" || strings.HasSuffix(mt, "+json") || mt == "text/json"
}

func binaryMarker(n int) string {
	return fmt.Sprintf("<binary %d bytes>", n)
}

// decodeRequestBody turns raw bytes into the masked value stored on a
// record. An empty body yields nil.
func decodeRequestBody(data []byte, contentType string) any {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	mt := mediaType(contentType)

	switch {
	case isJSONType(mt) || mt == "":
		if v, ok := relaxedjson.ParseBytes(data); ok {
			return redact.MaskObject(v)
		}
	case mt == "application/x-www-form-urlencoded":
		if values, err := url.ParseQuery(string(data)); err == nil {
			return redact.MaskObject(formValue(values))
		}
	case strings.HasPrefix(mt, "multipart/"):
		return fmt.Sprintf("<multipart %d bytes>", len(data))
	}

	if !utf8.Valid(data) {
		return binaryMarker(len(data))
	}
	return string(data)
}

// formValue flattens single-valued form fields into strings.
func formValue(values url.Values) map[string]any {
	out := make(map[string]any, len(values))
	for k, vs := range values {
		if len(vs) == 1 {
			out[k] = vs[0]
			continue
		}
		list := make([]any, len(vs))
		for i, v := range vs {
			list[i] = v
		}
		out[k] = list
	}
	return out
}

// decodeResponseBody applies the response preview policy. It returns the
// stored body and whether anything was cut.
func decodeResponseBody(p ResponsePayload, contentType string, maxBytes, previewItems int) (any, bool, error) {
	if p.Overflow {
		text := string(p.Data)
		if maxBytes > 0 && len(text) > maxBytes {
			text = text[:maxBytes]
		}
		return text + truncateSuffix(p.Size-len(text)), true, nil
	}
	if len(p.Data) == 0 {
		return nil, false, nil
	}

	if v, ok := relaxedjson.ParseBytes(p.Data); ok {
		truncated := false
		if arr, isArr := v.([]any); isArr && previewItems > 0 && len(arr) > previewItems {
			v = arr[:previewItems]
			truncated = true
		}
		capped, cut, err := capValue(v, maxBytes)
		if err != nil {
			return nil, false, err
		}
		return capped, truncated || cut, nil
	}

	if !utf8.Valid(p.Data) && !strings.HasPrefix(mediaType(contentType), "text/") {
		return binaryMarker(len(p.Data)), false, nil
	}
	text, cut := truncateText(string(p.Data), maxBytes)
	return text, cut, nil
}
