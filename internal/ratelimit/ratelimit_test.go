package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllow_DeniesPastLimit(t *testing.T) {
	clock := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	l := New(60, time.Minute, true, WithClock(func() time.Time { return clock }))

	for i := 0; i < 60; i++ {
		ok, _ := l.Allow("alice")
		require.True(t, ok, "request %d should be admitted", i+1)
	}

	ok, retryAfter := l.Allow("alice")
	assert.False(t, ok)
	assert.Equal(t, time.Minute, retryAfter)
	assert.Equal(t, 0, l.remaining("alice"))
}

func TestAllow_WindowRollover(t *testing.T) {
	clock := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	l := New(2, time.Minute, true, WithClock(func() time.Time { return clock }))

	ok, _ := l.Allow("alice")
	require.True(t, ok)
	ok, _ = l.Allow("alice")
	require.True(t, ok)
	ok, retryAfter := l.Allow("alice")
	require.False(t, ok)
	assert.Greater(t, retryAfter, time.Duration(0))

	// A fresh window starts at the first request after the period elapses.
	clock = clock.Add(time.Minute)
	ok, _ = l.Allow("alice")
	assert.True(t, ok)
	assert.Equal(t, 1, l.remaining("alice"))
}

func TestAllow_OwnersAreIndependent(t *testing.T) {
	clock := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	l := New(1, time.Minute, true, WithClock(func() time.Time { return clock }))

	ok, _ := l.Allow("alice")
	require.True(t, ok)
	ok, _ = l.Allow("alice")
	require.False(t, ok)

	ok, _ = l.Allow("bob")
	assert.True(t, ok, "one owner exhausting their window must not affect another")
}

func TestAllow_RetryAfterShrinksWithinWindow(t *testing.T) {
	clock := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	l := New(1, time.Minute, true, WithClock(func() time.Time { return clock }))

	ok, _ := l.Allow("alice")
	require.True(t, ok)

	clock = clock.Add(40 * time.Second)
	ok, retryAfter := l.Allow("alice")
	require.False(t, ok)
	assert.Equal(t, 20*time.Second, retryAfter)
}

func TestAllow_DisabledAdmitsEverything(t *testing.T) {
	l := New(1, time.Minute, false)

	for i := 0; i < 10; i++ {
		ok, _ := l.Allow("alice")
		require.True(t, ok)
	}
	assert.Equal(t, 1, l.remaining("alice"))
}

func TestPurgeExpired_DropsExpiredWindows(t *testing.T) {
	clock := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	l := New(5, time.Minute, true, WithClock(func() time.Time { return clock }))

	l.Allow("alice")
	l.Allow("bob")

	clock = clock.Add(30 * time.Second)
	l.Allow("carol")

	clock = clock.Add(45 * time.Second) // alice and bob expired, carol not yet
	assert.Equal(t, 2, l.PurgeExpired())

	ok, _ := l.Allow("alice")
	assert.True(t, ok)
}
