package capture

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_PublishAndUnsubscribe(t *testing.T) {
	t.Parallel()

	h := NewHub(4)
	var counts []int
	h.OnChange = func(n int) { counts = append(counts, n) }

	a, unsubA := h.Subscribe()
	b, unsubB := h.Subscribe()
	assert.Equal(t, 2, h.Count())

	assert.Zero(t, h.Publish([]byte("one")))
	assert.Equal(t, []byte("one"), <-a)
	assert.Equal(t, []byte("one"), <-b)

	unsubA()
	unsubA()
	_, open := <-a
	assert.False(t, open, "unsubscribe closes the channel")
	assert.Equal(t, 1, h.Count())

	h.Publish([]byte("two"))
	assert.Equal(t, []byte("two"), <-b)

	unsubB()
	assert.Equal(t, 0, h.Count())
	assert.Equal(t, []int{1, 2, 1, 0}, counts)
}

func TestHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	t.Parallel()

	h := NewHub(1)
	slow, unsubSlow := h.Subscribe()
	defer unsubSlow()
	fast, unsubFast := h.Subscribe()
	defer unsubFast()

	assert.Zero(t, h.Publish([]byte("1")))
	require.Equal(t, []byte("1"), <-fast)

	// slow still holds "1"; the second frame is dropped for it only.
	assert.Equal(t, 1, h.Publish([]byte("2")))
	assert.Equal(t, []byte("2"), <-fast)
	assert.Equal(t, []byte("1"), <-slow)
}
