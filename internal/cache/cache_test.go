package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet_RoundTrip(t *testing.T) {
	c := New(10)
	c.Put("fp-1", map[string]any{"file": "a.mp4"}, time.Minute)

	got, ok := c.Get("fp-1")
	require.True(t, ok)
	assert.Equal(t, "a.mp4", got["file"])

	_, ok = c.Get("fp-2")
	assert.False(t, ok)
}

func TestGet_NeverReturnsExpired(t *testing.T) {
	clock := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	c := New(10, WithClock(func() time.Time { return clock }))

	c.Put("fp-1", map[string]any{"file": "a.mp4"}, time.Minute)

	clock = clock.Add(59 * time.Second)
	_, ok := c.Get("fp-1")
	require.True(t, ok)

	clock = clock.Add(time.Second) // exactly at expiry
	_, ok = c.Get("fp-1")
	assert.False(t, ok)
}

func TestPut_NonPositiveTTLIsNoOp(t *testing.T) {
	c := New(10)
	c.Put("fp-1", map[string]any{"file": "a.mp4"}, 0)
	c.Put("fp-2", map[string]any{"file": "b.mp4"}, -time.Second)

	assert.Equal(t, 0, c.Len())
}

func TestPut_EvictsEarliestExpiryAtCapacity(t *testing.T) {
	clock := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	c := New(3, WithClock(func() time.Time { return clock }))

	c.Put("short", map[string]any{}, time.Minute)
	c.Put("medium", map[string]any{}, 10*time.Minute)
	c.Put("long", map[string]any{}, time.Hour)

	c.Put("new", map[string]any{}, 30*time.Minute)

	_, ok := c.Get("short")
	assert.False(t, ok, "entry closest to expiry is evicted first")
	_, ok = c.Get("medium")
	assert.True(t, ok)
	_, ok = c.Get("long")
	assert.True(t, ok)
	_, ok = c.Get("new")
	assert.True(t, ok)
}

func TestPut_OverwriteDoesNotEvict(t *testing.T) {
	c := New(2)
	c.Put("a", map[string]any{"v": 1}, time.Minute)
	c.Put("b", map[string]any{"v": 2}, time.Hour)

	c.Put("a", map[string]any{"v": 3}, time.Hour)

	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 3, got["v"])
	_, ok = c.Get("b")
	assert.True(t, ok)
}

func TestPurgeExpired(t *testing.T) {
	clock := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	c := New(0, WithClock(func() time.Time { return clock }))

	for i := 0; i < 5; i++ {
		c.Put(fmt.Sprintf("short-%d", i), map[string]any{}, time.Minute)
	}
	c.Put("long", map[string]any{}, time.Hour)

	clock = clock.Add(2 * time.Minute)
	assert.Equal(t, 5, c.PurgeExpired())
	assert.Equal(t, 1, c.Len())
}

func TestInvalidate(t *testing.T) {
	c := New(10)
	c.Put("fp-1", map[string]any{}, time.Minute)

	assert.True(t, c.Invalidate("fp-1"))
	assert.False(t, c.Invalidate("fp-1"), "second invalidation finds nothing")

	_, ok := c.Get("fp-1")
	assert.False(t, ok)
}

func TestGet_ReturnsCopy(t *testing.T) {
	c := New(10)
	c.Put("fp-1", map[string]any{"file": "a.mp4"}, time.Minute)

	first, ok := c.Get("fp-1")
	require.True(t, ok)
	first["file"] = "tampered.mp4"

	second, ok := c.Get("fp-1")
	require.True(t, ok)
	assert.Equal(t, "a.mp4", second["file"], "callers must not reach the stored entry")
}
