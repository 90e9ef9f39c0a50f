package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// AdmissionController gates submissions per owner. Implemented by the
// fixed-window rate limiter; a nil controller admits everything.
type AdmissionController interface {
	Allow(owner string) (ok bool, retryAfter time.Duration)
}

// ResultCache short-circuits duplicate work for completed fingerprints.
type ResultCache interface {
	Get(fingerprint string) (map[string]any, bool)
	Put(fingerprint string, result map[string]any, ttl time.Duration)
	Invalidate(fingerprint string) bool
}

// Notifier delivers terminal-state notifications. Implementations must not
// block the caller; webhook failures never propagate back to the job.
type Notifier interface {
	Notify(targets []string, s Summary)
}

// EventSink receives job state transitions for live subscribers.
type EventSink interface {
	JobUpdated(s Summary)
}

// SubmitResult is the synchronous answer to a Submit call. The caller never
// blocks on execution: either a cached result comes back immediately, or a
// job id to poll.
type SubmitResult struct {
	JobID     string         `json:"job_id,omitempty"`
	FromCache bool           `json:"from_cache"`
	Attached  bool           `json:"attached"`
	Result    map[string]any `json:"result,omitempty"`
}

// Manager is the orchestration core. It owns the in-flight registration
// table; the check-and-register step for a fingerprint is the one place in
// the system that holds a lock across a read-modify-write.
type Manager struct {
	store    Store
	registry *Registry
	cache    ResultCache
	limiter  AdmissionController
	notifier Notifier
	events   EventSink

	sem     *semaphore.Weighted
	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	mu        sync.Mutex
	inflight  map[string]string // fingerprint → job id, queued/running only
	cancels   map[string]context.CancelFunc
	requested map[string]struct{} // job ids with a pending user cancel

	now func() time.Time
}

// ManagerOption configures optional collaborators.
type ManagerOption func(*Manager)

func WithCache(c ResultCache) ManagerOption       { return func(m *Manager) { m.cache = c } }
func WithLimiter(l AdmissionController) ManagerOption { return func(m *Manager) { m.limiter = l } }
func WithNotifier(n Notifier) ManagerOption       { return func(m *Manager) { m.notifier = n } }
func WithEventSink(s EventSink) ManagerOption     { return func(m *Manager) { m.events = s } }
func WithClock(now func() time.Time) ManagerOption { return func(m *Manager) { m.now = now } }

func NewManager(store Store, registry *Registry, concurrency int, opts ...ManagerOption) *Manager {
	if concurrency < 1 {
		concurrency = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		store:     store,
		registry:  registry,
		sem:       semaphore.NewWeighted(int64(concurrency)),
		baseCtx:   ctx,
		stop:      cancel,
		inflight:  make(map[string]string),
		cancels:   make(map[string]context.CancelFunc),
		requested: make(map[string]struct{}),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Submit runs a request through admission control and either returns a
// cached result, attaches the caller to an identical in-flight job, or
// creates and dispatches a new job. It never blocks on job execution.
func (m *Manager) Submit(ctx context.Context, owner string, kind Kind, params map[string]any, webhookTargets []string) (SubmitResult, error) {
	handler, ok := m.registry.Lookup(kind)
	if !ok {
		return SubmitResult{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidRequest, kind)
	}
	if handler.Validate != nil {
		if err := handler.Validate(params); err != nil {
			return SubmitResult{}, err
		}
	}

	if m.limiter != nil {
		if ok, retryAfter := m.limiter.Allow(owner); !ok {
			return SubmitResult{}, &RateLimitError{RetryAfter: retryAfter}
		}
	}

	fp, err := Fingerprint(kind, params)
	if err != nil {
		return SubmitResult{}, err
	}

	if m.cache != nil {
		if result, hit := m.cache.Get(fp); hit {
			return SubmitResult{FromCache: true, Result: result}, nil
		}
	}

	// Check-and-register must be atomic per fingerprint: without the lock
	// two racing submissions could both observe "no in-flight job" and both
	// start work.
	m.mu.Lock()
	if existing, inFlight := m.inflight[fp]; inFlight {
		m.mu.Unlock()
		return SubmitResult{JobID: existing, Attached: true}, nil
	}
	job := &Job{
		ID:             uuid.New().String(),
		Kind:           kind,
		Fingerprint:    fp,
		Owner:          owner,
		Params:         params,
		State:          StateQueued,
		CreatedAt:      m.now(),
		LastHeartbeat:  m.now(),
		WebhookTargets: append([]string(nil), webhookTargets...),
	}
	m.inflight[fp] = job.ID
	m.mu.Unlock()

	if err := m.store.Insert(ctx, job); err != nil {
		m.mu.Lock()
		delete(m.inflight, fp)
		m.mu.Unlock()
		return SubmitResult{}, fmt.Errorf("persist job: %w", err)
	}

	m.dispatch(job.Clone(), handler)

	slog.Info("job submitted", "job_id", job.ID, "kind", kind, "owner", owner, "fingerprint", fp)
	return SubmitResult{JobID: job.ID}, nil
}

// InvalidateCached drops the cached result for the request described by
// kind and params, forcing the next identical submission to re-execute.
// Reports whether an entry existed.
func (m *Manager) InvalidateCached(kind Kind, params map[string]any) (bool, error) {
	if _, ok := m.registry.Lookup(kind); !ok {
		return false, fmt.Errorf("%w: unknown kind %q", ErrInvalidRequest, kind)
	}
	fp, err := Fingerprint(kind, params)
	if err != nil {
		return false, err
	}
	if m.cache == nil {
		return false, nil
	}
	dropped := m.cache.Invalidate(fp)
	if dropped {
		slog.Info("cached result invalidated", "kind", kind, "fingerprint", fp)
	}
	return dropped, nil
}

// GetStatus returns the latest committed snapshot. It never blocks on an
// in-progress worker.
func (m *Manager) GetStatus(ctx context.Context, id string) (*Job, error) {
	return m.store.Get(ctx, id)
}

// ListByOwner returns the owner's jobs, newest first.
func (m *Manager) ListByOwner(ctx context.Context, owner string, limit int) ([]*Job, error) {
	return m.store.ListByOwner(ctx, owner, limit)
}

// Cancel marks a queued job cancelled immediately. For a running job it
// signals cooperative cancellation; the transition lands once the worker
// observes the signal (bounded by the worker's poll interval).
func (m *Manager) Cancel(ctx context.Context, id string) error {
	job, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.State.Terminal() {
		return fmt.Errorf("%w: job %s already %s", ErrInvalidState, id, job.State)
	}

	m.mu.Lock()
	m.requested[id] = struct{}{}
	cancel := m.cancels[id]
	m.mu.Unlock()

	if job.State == StateQueued {
		// The dispatch goroutine may promote it concurrently; finalize is a
		// CAS, so exactly one of the two outcomes lands.
		m.finalize(ctx, id, StateCancelled, nil, &JobError{Reason: ReasonCancelled, Message: "cancelled before start"})
		return nil
	}

	if cancel != nil {
		cancel()
	}
	slog.Info("cancellation signalled", "job_id", id)
	return nil
}

// dispatch hands the job to the bounded pool.
func (m *Manager) dispatch(job *Job, handler Handler) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(job, handler)
	}()
}

func (m *Manager) run(job *Job, handler Handler) {
	if err := m.sem.Acquire(m.baseCtx, 1); err != nil {
		// Shutting down before a slot opened; the job stays queued and is
		// picked up by Recover on the next start.
		return
	}
	defer m.sem.Release(1)

	jobCtx, cancel := context.WithCancel(m.baseCtx)
	defer cancel()

	m.mu.Lock()
	if _, cancelled := m.requested[job.ID]; cancelled {
		m.mu.Unlock()
		return // finalized as cancelled while queued
	}
	m.cancels[job.ID] = cancel
	m.mu.Unlock()

	started, err := m.store.MarkRunning(jobCtx, job.ID, m.now())
	if err != nil || !started {
		m.mu.Lock()
		delete(m.cancels, job.ID)
		m.mu.Unlock()
		if err != nil {
			slog.Error("failed to mark job running", "job_id", job.ID, "error", err)
		}
		return
	}
	m.publish(jobCtx, job.ID)

	report := func(progress int) {
		m.reportProgress(job.ID, progress)
	}

	result, workErr := handler.Worker(jobCtx, job, report)

	// A worker must never finalize as succeeded after cancellation was
	// signalled, even if the external call completed.
	userCancelled := false
	m.mu.Lock()
	_, userCancelled = m.requested[job.ID]
	m.mu.Unlock()

	switch {
	case userCancelled:
		m.finalize(context.Background(), job.ID, StateCancelled, nil, &JobError{Reason: ReasonCancelled, Message: "cancelled by caller"})
	case m.baseCtx.Err() != nil:
		// Process shutdown: leave the record running for startup recovery.
		slog.Warn("worker interrupted by shutdown", "job_id", job.ID)
	case workErr != nil:
		m.finalize(context.Background(), job.ID, StateFailed, nil, &JobError{Reason: ReasonWorkerFailure, Message: workErr.Error()})
	default:
		m.finalizeSuccess(job, handler, result)
	}
}

// reportProgress is callable only by the executing worker for its own job.
// Reports against non-running jobs and regressions are discarded so a stale
// worker cannot corrupt state after cancellation.
func (m *Manager) reportProgress(id string, progress int) {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	applied, err := m.store.UpdateProgress(m.baseCtx, id, progress, m.now())
	if err != nil {
		slog.Error("failed to update progress", "job_id", id, "error", err)
		return
	}
	if !applied {
		slog.Debug("progress report ignored", "job_id", id, "progress", progress)
		return
	}
	m.publish(m.baseCtx, id)
}

func (m *Manager) finalizeSuccess(job *Job, handler Handler, result map[string]any) {
	applied := m.finalize(context.Background(), job.ID, StateSucceeded, result, nil)
	if applied && m.cache != nil && handler.CacheTTL > 0 {
		m.cache.Put(job.Fingerprint, result, handler.CacheTTL)
	}
}

// finalize commits a terminal state exactly once, releases the in-flight
// slot and fans out notifications. Idempotent: the second caller loses the
// CAS and does nothing.
func (m *Manager) finalize(ctx context.Context, id string, state State, result map[string]any, jobErr *JobError) bool {
	applied, err := m.store.Finalize(ctx, id, state, result, jobErr, m.now())
	if err != nil {
		slog.Error("failed to finalize job", "job_id", id, "state", state, "error", err)
		return false
	}
	if !applied {
		return false
	}

	job, err := m.store.Get(ctx, id)
	if err != nil {
		slog.Error("failed to load finalized job", "job_id", id, "error", err)
		return true
	}

	m.mu.Lock()
	if m.inflight[job.Fingerprint] == id {
		delete(m.inflight, job.Fingerprint)
	}
	delete(m.cancels, id)
	delete(m.requested, id)
	m.mu.Unlock()

	slog.Info("job finalized", "job_id", id, "state", state, "kind", job.Kind)

	summary := summarize(job)
	if m.events != nil {
		m.events.JobUpdated(summary)
	}
	if m.notifier != nil && len(job.WebhookTargets) > 0 {
		m.notifier.Notify(job.WebhookTargets, summary)
	}
	return true
}

func (m *Manager) publish(ctx context.Context, id string) {
	if m.events == nil {
		return
	}
	if job, err := m.store.Get(ctx, id); err == nil {
		m.events.JobUpdated(summarize(job))
	}
}

// ReclaimStale force-finalizes running jobs whose heartbeat is older than
// cutoff as failed/worker_lost, releasing their in-flight slots so a
// resubmission can proceed. Idempotent; driven by the cleanup sweeper.
func (m *Manager) ReclaimStale(ctx context.Context, cutoff time.Time) int {
	stale, err := m.store.Running(ctx, cutoff)
	if err != nil {
		slog.Error("failed to list stale jobs", "error", err)
		return 0
	}
	reclaimed := 0
	for _, job := range stale {
		m.mu.Lock()
		cancel := m.cancels[job.ID]
		m.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		if m.finalize(ctx, job.ID, StateFailed, nil, &JobError{Reason: ReasonWorkerLost, Message: "worker heartbeat timed out"}) {
			slog.Warn("reclaimed stale job", "job_id", job.ID, "last_heartbeat", job.LastHeartbeat)
			reclaimed++
		}
	}
	return reclaimed
}

// Recover handles jobs left over from a previous process: running jobs are
// failed as worker_lost (their workers died with the process) and queued
// jobs are re-registered and dispatched.
func (m *Manager) Recover(ctx context.Context) error {
	orphaned, err := m.store.Running(ctx, time.Time{})
	if err != nil {
		return fmt.Errorf("list orphaned jobs: %w", err)
	}
	for _, job := range orphaned {
		m.finalize(ctx, job.ID, StateFailed, nil, &JobError{Reason: ReasonWorkerLost, Message: "process restarted during execution"})
	}

	queued, err := m.store.Queued(ctx)
	if err != nil {
		return fmt.Errorf("list queued jobs: %w", err)
	}
	for _, job := range queued {
		handler, ok := m.registry.Lookup(job.Kind)
		if !ok {
			m.finalize(ctx, job.ID, StateFailed, nil, &JobError{Reason: ReasonWorkerFailure, Message: "no handler registered for kind"})
			continue
		}
		m.mu.Lock()
		m.inflight[job.Fingerprint] = job.ID
		m.mu.Unlock()
		m.dispatch(job, handler)
	}

	if len(orphaned) > 0 || len(queued) > 0 {
		slog.Info("job recovery complete", "orphaned", len(orphaned), "requeued", len(queued))
	}
	return nil
}

// Healthy reports whether the store is reachable.
func (m *Manager) Healthy(ctx context.Context) error {
	return m.store.Ping(ctx)
}

// Close stops intake, cancels running workers and waits for them up to the
// context deadline.
func (m *Manager) Close(ctx context.Context) error {
	m.stop()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
