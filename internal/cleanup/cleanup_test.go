package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spoolworks/mediaspool/internal/cache"
	"github.com/spoolworks/mediaspool/internal/jobs"
)

type stubReclaimer struct {
	cutoffs []time.Time
	reply   int
}

func (r *stubReclaimer) ReclaimStale(ctx context.Context, cutoff time.Time) int {
	r.cutoffs = append(r.cutoffs, cutoff)
	return r.reply
}

func TestSweepOnce_DeletesExpiredJobs(t *testing.T) {
	store := jobs.NewMemoryStore()
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour)
	fresh := time.Now().Add(-time.Minute)
	require.NoError(t, store.Insert(ctx, &jobs.Job{ID: "old", State: jobs.StateSucceeded, FinishedAt: &old}))
	require.NoError(t, store.Insert(ctx, &jobs.Job{ID: "fresh", State: jobs.StateSucceeded, FinishedAt: &fresh}))
	require.NoError(t, store.Insert(ctx, &jobs.Job{ID: "active", State: jobs.StateRunning}))

	s := New(store, nil, nil, nil, time.Hour, 24*time.Hour, 0)
	s.SweepOnce(ctx)

	_, err := store.Get(ctx, "old")
	assert.ErrorIs(t, err, jobs.ErrNotFound)
	_, err = store.Get(ctx, "fresh")
	assert.NoError(t, err)
	_, err = store.Get(ctx, "active")
	assert.NoError(t, err)
}

func TestSweepOnce_ReclaimsWithHeartbeatCutoff(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	rec := &stubReclaimer{reply: 2}

	s := New(nil, rec, nil, nil, time.Hour, 0, 2*time.Minute, WithClock(func() time.Time { return now }))
	s.SweepOnce(context.Background())

	require.Len(t, rec.cutoffs, 1)
	assert.Equal(t, now.Add(-2*time.Minute), rec.cutoffs[0])
}

func TestSweepOnce_PurgesCache(t *testing.T) {
	clock := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	c := cache.New(0, cache.WithClock(func() time.Time { return clock }))
	c.Put("fp", map[string]any{}, time.Minute)
	clock = clock.Add(2 * time.Minute)

	s := New(nil, nil, c, nil, time.Hour, 0, 0)
	s.SweepOnce(context.Background())

	assert.Equal(t, 0, c.Len())
}

func TestSweepOnce_RemovesStaleSpoolFiles(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, "stale.mp4")
	fresh := filepath.Join(dir, "fresh.mp4")
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(fresh, []byte("x"), 0o644))

	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(stale, past, past))

	s := New(nil, nil, nil, nil, time.Hour, 24*time.Hour, 0, WithSpoolDir(dir))
	s.SweepOnce(context.Background())

	_, err := os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh)
	assert.NoError(t, err)
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	s := New(nil, nil, nil, nil, 10*time.Millisecond, 0, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
