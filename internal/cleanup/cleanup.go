// Package cleanup runs the periodic maintenance sweep: expired job records,
// stale cache entries, idle rate windows, lost workers and abandoned spool
// files.
package cleanup

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// JobStore is the slice of the job store the sweeper needs.
type JobStore interface {
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// Reclaimer force-fails running jobs whose heartbeat stopped.
type Reclaimer interface {
	ReclaimStale(ctx context.Context, cutoff time.Time) int
}

// Purger drops expired entries and reports how many were removed. Both the
// result cache and the rate limiter satisfy it.
type Purger interface {
	PurgeExpired() int
}

// Sweeper owns the maintenance loop. Every sweep is independent and
// idempotent: a missed or doubled run only shifts when garbage is collected,
// never correctness.
type Sweeper struct {
	store     JobStore
	reclaimer Reclaimer
	cache     Purger
	limiter   Purger

	spoolDir         string
	retention        time.Duration
	heartbeatTimeout time.Duration
	interval         time.Duration

	now func() time.Time
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithSpoolDir enables removal of spool files untouched for the retention
// period.
func WithSpoolDir(dir string) Option {
	return func(s *Sweeper) { s.spoolDir = dir }
}

// WithClock substitutes the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

// New returns a sweeper. Nil collaborators are skipped per sweep.
func New(store JobStore, reclaimer Reclaimer, cache, limiter Purger, interval, retention, heartbeatTimeout time.Duration, opts ...Option) *Sweeper {
	s := &Sweeper{
		store:            store,
		reclaimer:        reclaimer,
		cache:            cache,
		limiter:          limiter,
		interval:         interval,
		retention:        retention,
		heartbeatTimeout: heartbeatTimeout,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps on the configured interval until ctx is done. The first sweep
// happens after one full interval, not at startup; startup recovery is the
// manager's job.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("cleanup sweeper started", "interval", s.interval, "retention", s.retention)
	for {
		select {
		case <-ctx.Done():
			slog.Info("cleanup sweeper stopped")
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce performs a single maintenance pass.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	now := s.now()

	if s.reclaimer != nil && s.heartbeatTimeout > 0 {
		if n := s.reclaimer.ReclaimStale(ctx, now.Add(-s.heartbeatTimeout)); n > 0 {
			slog.Warn("reclaimed jobs with stale heartbeats", "count", n)
		}
	}

	if s.store != nil && s.retention > 0 {
		removed, err := s.store.DeleteFinishedBefore(ctx, now.Add(-s.retention))
		if err != nil {
			slog.Error("failed to delete expired jobs", "error", err)
		} else if removed > 0 {
			slog.Info("deleted expired job records", "count", removed)
		}
	}

	if s.cache != nil {
		if n := s.cache.PurgeExpired(); n > 0 {
			slog.Debug("purged cache entries", "count", n)
		}
	}

	if s.limiter != nil {
		s.limiter.PurgeExpired()
	}

	if s.spoolDir != "" && s.retention > 0 {
		s.sweepSpool(now.Add(-s.retention))
	}
}

// sweepSpool removes regular files under the spool directory that have not
// been modified since cutoff. Subdirectories are left in place.
func (s *Sweeper) sweepSpool(cutoff time.Time) {
	removed := 0
	err := filepath.WalkDir(s.spoolDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err != nil {
				slog.Warn("failed to remove spool file", "path", path, "error", err)
				return nil
			}
			removed++
		}
		return nil
	})
	if err != nil {
		slog.Error("spool sweep failed", "dir", s.spoolDir, "error", err)
		return
	}
	if removed > 0 {
		slog.Info("removed abandoned spool files", "count", removed)
	}
}
