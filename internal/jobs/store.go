package jobs

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store is the durable record of job state transitions. Implementations
// must apply transitions atomically: Finalize and MarkRunning are
// compare-and-set operations that report whether they took effect, so the
// manager's idempotency guarantees hold across concurrent callers.
type Store interface {
	Insert(ctx context.Context, j *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	ListByOwner(ctx context.Context, owner string, limit int) ([]*Job, error)

	// MarkRunning transitions queued → running. Returns false when the job
	// is no longer queued (e.g. cancelled while waiting for a pool slot).
	MarkRunning(ctx context.Context, id string, at time.Time) (bool, error)

	// UpdateProgress applies a progress report to a running job. Reports on
	// non-running jobs and regressions below the committed value return
	// false and change nothing.
	UpdateProgress(ctx context.Context, id string, progress int, at time.Time) (bool, error)

	// Finalize transitions to a terminal state exactly once. A second call
	// on an already-terminal job returns false and leaves the first
	// result intact.
	Finalize(ctx context.Context, id string, state State, result map[string]any, jobErr *JobError, at time.Time) (bool, error)

	// Running returns all jobs currently in StateRunning, optionally only
	// those whose heartbeat is older than staleBefore (zero = all).
	Running(ctx context.Context, staleBefore time.Time) ([]*Job, error)

	// Queued returns jobs awaiting dispatch, oldest first.
	Queued(ctx context.Context) ([]*Job, error)

	// DeleteFinishedBefore removes terminal jobs finished before cutoff and
	// reports how many were removed.
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int, error)

	Ping(ctx context.Context) error
}

// MemoryStore is a mutex-guarded in-process Store. It backs tests and the
// standalone (database-less) mode.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*Job)}
}

func (s *MemoryStore) Insert(ctx context.Context, j *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.ID] = j.Clone()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return j.Clone(), nil
}

func (s *MemoryStore) ListByOwner(ctx context.Context, owner string, limit int) ([]*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Job, 0)
	for _, j := range s.jobs {
		if j.Owner == owner {
			out = append(out, j.Clone())
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) MarkRunning(ctx context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return false, ErrNotFound
	}
	if j.State != StateQueued {
		return false, nil
	}
	j.State = StateRunning
	started := at
	j.StartedAt = &started
	j.LastHeartbeat = at
	return true, nil
}

func (s *MemoryStore) UpdateProgress(ctx context.Context, id string, progress int, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return false, ErrNotFound
	}
	if j.State != StateRunning || progress < j.Progress {
		return false, nil
	}
	j.Progress = progress
	j.LastHeartbeat = at
	return true, nil
}

func (s *MemoryStore) Finalize(ctx context.Context, id string, state State, result map[string]any, jobErr *JobError, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return false, ErrNotFound
	}
	if j.State.Terminal() {
		return false, nil
	}
	j.State = state
	j.Result = result
	j.Error = jobErr
	finished := at
	j.FinishedAt = &finished
	if state == StateSucceeded {
		j.Progress = 100
	}
	return true, nil
}

func (s *MemoryStore) Running(ctx context.Context, staleBefore time.Time) ([]*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Job, 0)
	for _, j := range s.jobs {
		if j.State != StateRunning {
			continue
		}
		if !staleBefore.IsZero() && !j.LastHeartbeat.Before(staleBefore) {
			continue
		}
		out = append(out, j.Clone())
	}
	return out, nil
}

func (s *MemoryStore) Queued(ctx context.Context) ([]*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Job, 0)
	for _, j := range s.jobs {
		if j.State == StateQueued {
			out = append(out, j.Clone())
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, j := range s.jobs {
		if j.State.Terminal() && j.FinishedAt != nil && j.FinishedAt.Before(cutoff) {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }
