package id

import (
	"regexp"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord_Format(t *testing.T) {
	t.Parallel()

	for i := 0; i < 50; i++ {
		v := Record()
		assert.Len(t, v, ULIDLength)
		assert.True(t, IsULID(v), "Record() = %q is not a valid ULID", v)
	}
}

func TestRecord_MonotonicWithinMillisecond(t *testing.T) {
	t.Parallel()

	var m monotonic
	ms := time.Now().UnixMilli()

	prev := m.next(ms)
	for i := 0; i < 1000; i++ {
		cur := m.next(ms)
		require.Less(t, prev, cur, "ULIDs in the same millisecond must increase")
		prev = cur
	}
}

func TestRecord_ClockGoingBackwardsStaysOrdered(t *testing.T) {
	t.Parallel()

	var m monotonic
	ms := time.Now().UnixMilli()

	a := m.next(ms)
	b := m.next(ms - 10)
	assert.Less(t, a, b)
}

func TestRecord_SortsByTime(t *testing.T) {
	t.Parallel()

	var m monotonic
	base := time.Now().UnixMilli()
	ids := []string{m.next(base + 3), m.next(base + 7), m.next(base + 20)}

	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	assert.Equal(t, ids, sorted)
}

func TestRecord_ConcurrentUnique(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	seen := make(map[string]struct{}, 2000)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				v := Record()
				mu.Lock()
				seen[v] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 2000)
}

func TestTime_RoundTrip(t *testing.T) {
	t.Parallel()

	var m monotonic
	now := time.Now().Truncate(time.Millisecond)
	v := m.next(now.UnixMilli())

	got, err := Time(v)
	require.NoError(t, err)
	assert.True(t, now.Equal(got), "got %v want %v", got, now)
}

func TestTime_Invalid(t *testing.T) {
	t.Parallel()

	_, err := Time("short")
	assert.Error(t, err)

	_, err = Time(strings.Repeat("U", ULIDLength))
	assert.Error(t, err)
}

func TestRequest_IsUUID(t *testing.T) {
	t.Parallel()

	re := regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)
	assert.Regexp(t, re, Request())
}

func TestPrefixed(t *testing.T) {
	t.Parallel()

	v := Prefixed("ws")
	assert.Regexp(t, `^ws_[0-9a-f]{12}$`, v)
	assert.NotEqual(t, v, Prefixed("ws"))
}
