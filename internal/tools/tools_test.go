package tools

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spoolworks/mediaspool/internal/apikeys"
	"github.com/spoolworks/mediaspool/internal/jobs"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()

	reg := jobs.NewRegistry()
	reg.Register(jobs.KindSearch, jobs.Handler{
		Worker: func(ctx context.Context, j *jobs.Job, report jobs.ProgressFunc) (map[string]any, error) {
			return map[string]any{"count": 0}, nil
		},
		Scope:    "search",
		Validate: func(params map[string]any) error { return jobs.RequireString(params, "query") },
	})

	m := jobs.NewManager(jobs.NewMemoryStore(), reg, 2)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.Close(ctx)
	})

	return NewRegistry(m, reg)
}

func keyWithScopes(id string, scopes ...string) *apikeys.Record {
	return &apikeys.Record{ID: id, Name: id, Scopes: scopes}
}

func TestRegistry_ToolSet(t *testing.T) {
	r := newTestRegistry(t)

	assert.ElementsMatch(t, []string{"submit_search", "job_status", "job_cancel"}, r.Names())

	_, ok := r.Lookup("submit_search")
	assert.True(t, ok)
	_, ok = r.Lookup("submit_download")
	assert.False(t, ok, "unregistered kinds get no submit tool")
}

func TestCall_SubmitAndStatus(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	alice := keyWithScopes("alice", "search")

	out, err := r.Call(ctx, alice, "submit_search", map[string]any{"query": "sunset"})
	require.NoError(t, err)
	jobID := out["job_id"].(string)
	require.NotEmpty(t, jobID)

	require.Eventually(t, func() bool {
		status, err := r.Call(ctx, alice, "job_status", map[string]any{"job_id": jobID})
		return err == nil && status["state"] == jobs.StateSucceeded
	}, 3*time.Second, 10*time.Millisecond)

	bob := keyWithScopes("bob", "search")
	_, err = r.Call(ctx, bob, "job_status", map[string]any{"job_id": jobID})
	assert.ErrorIs(t, err, jobs.ErrNotFound, "tools enforce owner isolation")

	admin := keyWithScopes("ops", apikeys.ScopeAdmin)
	status, err := r.Call(ctx, admin, "job_status", map[string]any{"job_id": jobID})
	require.NoError(t, err, "admin sees all jobs")
	assert.Equal(t, jobID, status["job_id"])
}

func TestCall_SubmitRequiresKindScope(t *testing.T) {
	r := newTestRegistry(t)

	caller := keyWithScopes("ci", "download")
	_, err := r.Call(context.Background(), caller, "submit_search", map[string]any{"query": "sunset"})
	assert.ErrorIs(t, err, jobs.ErrUnauthorized)

	admin := keyWithScopes("ops", apikeys.ScopeAdmin)
	_, err = r.Call(context.Background(), admin, "submit_search", map[string]any{"query": "sunset"})
	assert.NoError(t, err, "admin implies every kind scope")
}

func TestCall_UnknownTool(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.Call(context.Background(), keyWithScopes("alice", "search"), "transmogrify", nil)
	assert.ErrorIs(t, err, jobs.ErrInvalidRequest)
}

func TestCall_InvalidArgs(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.Call(context.Background(), keyWithScopes("alice", "search"), "job_status", map[string]any{})
	assert.ErrorIs(t, err, jobs.ErrInvalidRequest)
}
