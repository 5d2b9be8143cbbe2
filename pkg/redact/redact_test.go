package redact

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskHeaders(t *testing.T) {
	t.Parallel()

	h := http.Header{}
	h.Set("Authorization", "Bearer abc")
	h.Set("Cookie", "sid=1")
	h.Set("X-Peek-Token", "s3cret")
	h.Add("Accept", "text/html")
	h.Add("Accept", "application/json")
	h["X-Empty"] = nil

	got := MaskHeaders(h)

	assert.Equal(t, Marker, got["authorization"])
	assert.Equal(t, Marker, got["cookie"])
	assert.Equal(t, Marker, got["x-peek-token"])
	assert.Equal(t, "text/html, application/json", got["accept"])
	assert.NotContains(t, got, "x-empty")
	assert.Equal(t, "Bearer abc", h.Get("Authorization"), "input must not be modified")
}

func TestMaskHeaders_CaseInsensitive(t *testing.T) {
	t.Parallel()

	got := MaskHeaders(map[string][]string{"X-API-KEY": {"k"}, "set-Cookie": {"a=b"}})
	assert.Equal(t, map[string]string{"x-api-key": Marker, "set-cookie": Marker}, got)
}

func TestMaskValues(t *testing.T) {
	t.Parallel()

	got := MaskValues(map[string][]string{
		"a":     {"1"},
		"tags":  {"x", "y"},
		"Token": {"t"},
		"none":  {},
	})
	assert.Equal(t, map[string]string{"a": "1", "tags": "x, y", "Token": Marker}, got)
}

func TestMaskObject_Nested(t *testing.T) {
	t.Parallel()

	var in any
	require.NoError(t, json.Unmarshal([]byte(`{
		"user": {"name": "ada", "Password": "hunter2", "profile": {"jwt": {"deep": true}}},
		"items": [{"secret": 1}, {"ok": "yes"}, "plain", null],
		"count": 3
	}`), &in))

	var want any
	require.NoError(t, json.Unmarshal([]byte(`{
		"user": {"name": "ada", "Password": "[REDACTED]", "profile": {"jwt": "[REDACTED]"}},
		"items": [{"secret": "[REDACTED]"}, {"ok": "yes"}, "plain", null],
		"count": 3
	}`), &want))

	assert.Equal(t, want, MaskObject(in))
}

func TestMaskObject_DoesNotMutate(t *testing.T) {
	t.Parallel()

	in := map[string]any{
		"token":  "abc",
		"nested": map[string]any{"password": "pw"},
		"list":   []any{map[string]any{"secret": "s"}},
	}

	_ = MaskObject(in)

	assert.Equal(t, "abc", in["token"])
	assert.Equal(t, "pw", in["nested"].(map[string]any)["password"])
	assert.Equal(t, "s", in["list"].([]any)[0].(map[string]any)["secret"])
}

func TestMaskObject_Scalars(t *testing.T) {
	t.Parallel()

	tests := []any{nil, "text", json.Number("12"), true, 1.5}
	for _, v := range tests {
		assert.Equal(t, v, MaskObject(v))
	}
}

func TestMaskObject_StringMaps(t *testing.T) {
	t.Parallel()

	assert.Equal(t,
		map[string]string{"id": "7", "secret": Marker},
		MaskObject(map[string]string{"id": "7", "secret": "x"}))

	assert.Equal(t,
		map[string]any{"q": []any{"a"}, "password": Marker},
		MaskObject(map[string][]string{"q": {"a"}, "password": {"p"}}))
}

// For any object with a deny-listed key, masking replaces exactly that value
// and leaves the rest deep-equal.
func TestMaskObject_Totality(t *testing.T) {
	t.Parallel()

	for field := range sensitiveFields {
		for depth := 0; depth < 4; depth++ {
			in := map[string]any{field: "value", "keep": "k"}
			want := map[string]any{field: Marker, "keep": "k"}
			for i := 0; i < depth; i++ {
				in = map[string]any{"wrap": []any{in}, "n": i}
				want = map[string]any{"wrap": []any{want}, "n": i}
			}
			assert.Equal(t, want, MaskObject(in), "field=%s depth=%d", field, depth)
		}
	}
}
