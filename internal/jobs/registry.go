package jobs

import (
	"context"
	"fmt"
	"time"
)

// ProgressFunc is handed to a worker so it can report percent complete at
// bounded intervals. Reports also serve as liveness heartbeats.
type ProgressFunc func(progress int)

// WorkerFunc executes one job body. It must check ctx at bounded intervals
// (cancellation is cooperative) and call report while work advances. The
// returned map becomes the job's immutable result.
type WorkerFunc func(ctx context.Context, j *Job, report ProgressFunc) (map[string]any, error)

// Handler binds an operation kind to its worker, the scope a caller needs,
// the result-cache TTL policy and parameter validation.
type Handler struct {
	Worker   WorkerFunc
	Scope    string
	CacheTTL time.Duration

	// Validate rejects malformed parameters before admission. Nil means
	// any params are accepted.
	Validate func(params map[string]any) error
}

// Registry is the static kind → handler mapping built at startup. It is
// read-only after construction, so lookups need no locking.
type Registry struct {
	handlers map[Kind]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[Kind]Handler)}
}

// Register adds a handler for kind. Registering the same kind twice is a
// wiring bug and panics at startup rather than at dispatch time.
func (r *Registry) Register(kind Kind, h Handler) {
	if _, dup := r.handlers[kind]; dup {
		panic(fmt.Sprintf("jobs: duplicate handler for kind %q", kind))
	}
	if h.Worker == nil {
		panic(fmt.Sprintf("jobs: nil worker for kind %q", kind))
	}
	r.handlers[kind] = h
}

func (r *Registry) Lookup(kind Kind) (Handler, bool) {
	h, ok := r.handlers[kind]
	return h, ok
}

// Kinds returns the registered operation kinds.
func (r *Registry) Kinds() []Kind {
	out := make([]Kind, 0, len(r.handlers))
	for k := range r.handlers {
		out = append(out, k)
	}
	return out
}

// RequireString validates that params carries a non-empty string field.
// Shared by handler Validate funcs.
func RequireString(params map[string]any, field string) error {
	v, ok := params[field]
	if !ok {
		return fmt.Errorf("%w: missing required field %q", ErrInvalidRequest, field)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return fmt.Errorf("%w: field %q must be a non-empty string", ErrInvalidRequest, field)
	}
	return nil
}
