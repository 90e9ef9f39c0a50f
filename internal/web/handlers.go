package web

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/spoolworks/mediaspool/internal/apikeys"
	"github.com/spoolworks/mediaspool/internal/jobs"
	"github.com/spoolworks/mediaspool/internal/tools"
)

type submitRequest struct {
	Kind        string         `json:"kind"`
	Params      map[string]any `json:"params"`
	WebhookURLs []string       `json:"webhook_urls,omitempty"`
}

// HandleSubmitJob admits a new job. The kind-specific scope is checked here
// because the kind is only known after the body is parsed.
func HandleSubmitJob(m *jobs.Manager, registry *jobs.Registry) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req submitRequest
		if err := c.Bind(&req); err != nil {
			return respondError(c, fmt.Errorf("%w: malformed body", jobs.ErrInvalidRequest))
		}

		kind := jobs.Kind(req.Kind)
		handler, ok := registry.Lookup(kind)
		if !ok {
			return respondError(c, fmt.Errorf("%w: unknown kind %q", jobs.ErrInvalidRequest, req.Kind))
		}

		record := currentKey(c)
		if handler.Scope != "" && !record.HasScope(handler.Scope) {
			return respondError(c, fmt.Errorf("%w: key lacks scope %q", jobs.ErrUnauthorized, handler.Scope))
		}

		result, err := m.Submit(c.Request().Context(), record.ID, kind, req.Params, req.WebhookURLs)
		if err != nil {
			return respondError(c, err)
		}

		status := http.StatusAccepted
		if result.FromCache {
			status = http.StatusOK
		}
		return c.JSON(status, result)
	}
}

// HandleJobStatus returns the latest snapshot of one job. Keys only see
// their own jobs unless they hold the admin scope.
func HandleJobStatus(m *jobs.Manager) echo.HandlerFunc {
	return func(c echo.Context) error {
		job, err := m.GetStatus(c.Request().Context(), c.Param("id"))
		if err != nil {
			return respondError(c, err)
		}

		record := currentKey(c)
		if job.Owner != record.ID && !record.HasScope(apikeys.ScopeAdmin) {
			return respondError(c, jobs.ErrNotFound)
		}
		return c.JSON(http.StatusOK, job)
	}
}

// HandleJobList returns the caller's jobs, newest first.
func HandleJobList(m *jobs.Manager) echo.HandlerFunc {
	return func(c echo.Context) error {
		limit := 50
		if err := echo.QueryParamsBinder(c).Int("limit", &limit).BindError(); err != nil {
			return respondError(c, fmt.Errorf("%w: invalid limit", jobs.ErrInvalidRequest))
		}

		list, err := m.ListByOwner(c.Request().Context(), currentKey(c).ID, limit)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]any{"jobs": list})
	}
}

// HandleJobCancel requests cancellation of one job.
func HandleJobCancel(m *jobs.Manager) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Param("id")

		job, err := m.GetStatus(c.Request().Context(), id)
		if err != nil {
			return respondError(c, err)
		}
		record := currentKey(c)
		if job.Owner != record.ID && !record.HasScope(apikeys.ScopeAdmin) {
			return respondError(c, jobs.ErrNotFound)
		}

		if err := m.Cancel(c.Request().Context(), id); err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusAccepted, map[string]string{"job_id": id, "state": "cancelling"})
	}
}

type createKeyRequest struct {
	Name       string   `json:"name"`
	Scopes     []string `json:"scopes"`
	TTLSeconds int      `json:"ttl_seconds,omitempty"`
}

// HandleKeyCreate issues a new api key. The plaintext appears in this
// response only.
func HandleKeyCreate(reg *apikeys.Registry) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req createKeyRequest
		if err := c.Bind(&req); err != nil {
			return respondError(c, fmt.Errorf("%w: malformed body", jobs.ErrInvalidRequest))
		}

		record, plaintext, err := reg.Create(c.Request().Context(), req.Name, req.Scopes, time.Duration(req.TTLSeconds)*time.Second)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusCreated, map[string]any{"key": plaintext, "record": record})
	}
}

// HandleKeyList returns all key records, digests excluded.
func HandleKeyList(reg *apikeys.Registry) echo.HandlerFunc {
	return func(c echo.Context) error {
		records, err := reg.List(c.Request().Context())
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]any{"keys": records})
	}
}

// HandleKeyRevoke permanently disables a key.
func HandleKeyRevoke(reg *apikeys.Registry) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := reg.Revoke(c.Request().Context(), c.Param("id")); err != nil {
			return respondError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

// HandleKeyRotate replaces a key's secret and returns the new plaintext.
func HandleKeyRotate(reg *apikeys.Registry) echo.HandlerFunc {
	return func(c echo.Context) error {
		plaintext, err := reg.Rotate(c.Request().Context(), c.Param("id"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]string{"key": plaintext})
	}
}

// HandleToolList returns the assistant tool names.
func HandleToolList(reg *tools.Registry) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{"tools": reg.Names()})
	}
}

// HandleToolCall invokes one assistant tool on behalf of the caller's key.
func HandleToolCall(reg *tools.Registry) echo.HandlerFunc {
	return func(c echo.Context) error {
		var args map[string]any
		if err := c.Bind(&args); err != nil {
			return respondError(c, fmt.Errorf("%w: malformed body", jobs.ErrInvalidRequest))
		}

		out, err := reg.Call(c.Request().Context(), currentKey(c), c.Param("name"), args)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, out)
	}
}

// HandleJobDeliveries returns the recorded webhook outcomes for one job.
func HandleJobDeliveries(lister DeliveryLister) echo.HandlerFunc {
	return func(c echo.Context) error {
		if lister == nil {
			return c.JSON(http.StatusOK, map[string]any{"deliveries": []any{}})
		}
		deliveries, err := lister.ListDeliveries(c.Request().Context(), c.Param("id"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]any{"deliveries": deliveries})
	}
}

type invalidateRequest struct {
	Kind   string         `json:"kind"`
	Params map[string]any `json:"params"`
}

// HandleCacheInvalidate drops the cached result for one request shape so the
// next identical submission re-executes.
func HandleCacheInvalidate(m *jobs.Manager) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req invalidateRequest
		if err := c.Bind(&req); err != nil {
			return respondError(c, fmt.Errorf("%w: malformed body", jobs.ErrInvalidRequest))
		}
		dropped, err := m.InvalidateCached(jobs.Kind(req.Kind), req.Params)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]any{"invalidated": dropped})
	}
}

// HandleHealthz reports process and store health.
func HandleHealthz(m *jobs.Manager) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := m.Healthy(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	}
}
