// Package tools exposes the job operations as a flat, name-addressed tool
// set for assistant integrations. Each tool is a thin adapter over the
// manager; no orchestration logic lives here.
package tools

import (
	"context"
	"fmt"

	"github.com/spoolworks/mediaspool/internal/apikeys"
	"github.com/spoolworks/mediaspool/internal/jobs"
)

// Tool is one invocable operation. Invoke receives the validated key record
// of the caller; tools enforce the same scope and ownership rules as the
// REST handlers.
type Tool struct {
	Name        string
	Description string
	Invoke      func(ctx context.Context, caller *apikeys.Record, args map[string]any) (map[string]any, error)
}

// Registry is the static name → tool mapping, built once at startup.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry builds the tool set over the manager. Submission tools exist
// for every registered job kind and require that kind's scope, plus status
// and cancel tools.
func NewRegistry(m *jobs.Manager, registry *jobs.Registry) *Registry {
	r := &Registry{tools: make(map[string]Tool)}

	descriptions := map[jobs.Kind]string{
		jobs.KindDownload:    "Download media from a URL into the spool. Args: url.",
		jobs.KindProcess:     "Transcode a spooled media file. Args: input, optional scale_height, crf, preset.",
		jobs.KindVectorIndex: "Index a media transcript for semantic search. Args: media_path, content.",
		jobs.KindSearch:      "Semantic search over indexed media. Args: query, optional limit.",
	}

	for _, kind := range registry.Kinds() {
		handler, _ := registry.Lookup(kind)
		scope := handler.Scope
		r.add(Tool{
			Name:        "submit_" + string(kind),
			Description: descriptions[kind],
			Invoke: func(ctx context.Context, caller *apikeys.Record, args map[string]any) (map[string]any, error) {
				if scope != "" && !caller.HasScope(scope) {
					return nil, fmt.Errorf("%w: key lacks scope %q", jobs.ErrUnauthorized, scope)
				}
				result, err := m.Submit(ctx, caller.ID, kind, args, nil)
				if err != nil {
					return nil, err
				}
				out := map[string]any{"from_cache": result.FromCache}
				if result.JobID != "" {
					out["job_id"] = result.JobID
				}
				if result.Result != nil {
					out["result"] = result.Result
				}
				return out, nil
			},
		})
	}

	r.add(Tool{
		Name:        "job_status",
		Description: "Get the current state of a job. Args: job_id.",
		Invoke: func(ctx context.Context, caller *apikeys.Record, args map[string]any) (map[string]any, error) {
			id, err := requireID(args)
			if err != nil {
				return nil, err
			}
			job, err := ownedJob(ctx, m, caller, id)
			if err != nil {
				return nil, err
			}
			out := map[string]any{
				"job_id":   job.ID,
				"kind":     job.Kind,
				"state":    job.State,
				"progress": job.Progress,
			}
			if job.Result != nil {
				out["result"] = job.Result
			}
			if job.Error != nil {
				out["error"] = job.Error.Error()
			}
			return out, nil
		},
	})

	r.add(Tool{
		Name:        "job_cancel",
		Description: "Request cancellation of a queued or running job. Args: job_id.",
		Invoke: func(ctx context.Context, caller *apikeys.Record, args map[string]any) (map[string]any, error) {
			id, err := requireID(args)
			if err != nil {
				return nil, err
			}
			if _, err := ownedJob(ctx, m, caller, id); err != nil {
				return nil, err
			}
			if err := m.Cancel(ctx, id); err != nil {
				return nil, err
			}
			return map[string]any{"job_id": id, "state": "cancelling"}, nil
		},
	})

	return r
}

// ownedJob loads a job the caller may see. Foreign jobs look like they do
// not exist unless the key holds the admin scope, matching the REST layer.
func ownedJob(ctx context.Context, m *jobs.Manager, caller *apikeys.Record, id string) (*jobs.Job, error) {
	job, err := m.GetStatus(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Owner != caller.ID && !caller.HasScope(apikeys.ScopeAdmin) {
		return nil, jobs.ErrNotFound
	}
	return job, nil
}

func (r *Registry) add(t Tool) {
	if _, dup := r.tools[t.Name]; dup {
		panic(fmt.Sprintf("tools: duplicate tool %q", t.Name))
	}
	r.tools[t.Name] = t
}

// Lookup returns the named tool.
func (r *Registry) Lookup(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names returns all registered tool names.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.tools))
	for name := range r.tools {
		out = append(out, name)
	}
	return out
}

// Call invokes a tool by name on behalf of the caller's key.
func (r *Registry) Call(ctx context.Context, caller *apikeys.Record, name string, args map[string]any) (map[string]any, error) {
	t, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: unknown tool %q", jobs.ErrInvalidRequest, name)
	}
	return t.Invoke(ctx, caller, args)
}

func requireID(args map[string]any) (string, error) {
	if err := jobs.RequireString(args, "job_id"); err != nil {
		return "", err
	}
	return args["job_id"].(string), nil
}
