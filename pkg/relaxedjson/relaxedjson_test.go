package relaxedjson

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeStd(t *testing.T, s string) any {
	t.Helper()
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	require.NoError(t, dec.Decode(&v))
	return v
}

func TestParse_RoundTripWithPrefixes(t *testing.T) {
	t.Parallel()

	values := []any{
		map[string]any{"message": "x", "n": 1, "nested": []any{true, nil, "s"}},
		[]any{1, 2, 3},
		"plain string",
		42,
		12345678901234567,
		false,
		nil,
	}
	prefixes := []string{"", ")]}',", ")]}'", ")]}'\n", "while(1);", "for(;;);", "for(;;); ", "\ufeff"}

	for _, v := range values {
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		want := decodeStd(t, string(raw))

		for _, p := range prefixes {
			got, ok := Parse(p + string(raw))
			require.True(t, ok, "prefix %q value %s", p, raw)
			assert.Equal(t, want, got, "prefix %q value %s", p, raw)
		}
	}
}

func TestParse_FailsClosed(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "   ", "\n\t", "{", "{\"a\":}", "nope", "{} {}", ")]}'", "while(1);"} {
		_, ok := Parse(in)
		assert.False(t, ok, "input %q", in)
	}
}

func TestParse_PrefixOnlyAtStart(t *testing.T) {
	t.Parallel()

	_, ok := Parse(`{"a":1}while(1);`)
	assert.False(t, ok)

	for _, in := range []string{"  while(1);{}", "\n)]}',{}", "\ufeff for(;;);[]"} {
		_, ok = Parse(in)
		assert.False(t, ok, "%q", in)
	}

	v, ok := Parse("  \n{\"a\":1}")
	require.True(t, ok, "leading whitespace before plain JSON is fine")
	assert.Equal(t, map[string]any{"a": json.Number("1")}, v)
}

func TestParse_DoubleEncoded(t *testing.T) {
	t.Parallel()

	inner := `{"a":1,"b":[1,2]}`
	outer, err := json.Marshal(inner)
	require.NoError(t, err)

	got, ok := Parse(string(outer))
	require.True(t, ok)
	assert.Equal(t, map[string]any{"a": json.Number("1"), "b": []any{json.Number("1"), json.Number("2")}}, got)
}

func TestParse_DoubleEncodedInvalidInnerFallsBack(t *testing.T) {
	t.Parallel()

	got, ok := Parse(`"{not json}"`)
	require.True(t, ok)
	assert.Equal(t, "{not json}", got)
}

func TestParse_StringThatIsNotContainer(t *testing.T) {
	t.Parallel()

	got, ok := Parse(`"[1, 2"`)
	require.True(t, ok)
	assert.Equal(t, "[1, 2", got)
}

func TestParseBytes(t *testing.T) {
	t.Parallel()

	got, ok := ParseBytes([]byte(`[1]`))
	require.True(t, ok)
	assert.Equal(t, []any{json.Number("1")}, got)

	_, ok = ParseBytes(nil)
	assert.False(t, ok)
	assert.True(t, Valid(`{}`))
	assert.False(t, Valid(`{`))
}
