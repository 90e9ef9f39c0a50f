// Package web exposes the REST and websocket surface of the job service.
package web

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/spoolworks/mediaspool/internal/apikeys"
	"github.com/spoolworks/mediaspool/internal/jobs"
	"github.com/spoolworks/mediaspool/internal/tools"
	"github.com/spoolworks/mediaspool/internal/webhook"
)

// DeliveryLister reads back recorded webhook outcomes. Nil is allowed; the
// deliveries route then answers with an empty list.
type DeliveryLister interface {
	ListDeliveries(ctx context.Context, jobID string) ([]*webhook.Delivery, error)
}

type Webserver struct {
	*echo.Echo
	manager    *jobs.Manager
	registry   *jobs.Registry
	keys       *apikeys.Registry
	tools      *tools.Registry
	deliveries DeliveryLister
	hub        *Hub

	upgrader websocket.Upgrader
}

func NewWebserver(manager *jobs.Manager, registry *jobs.Registry, keys *apikeys.Registry, toolReg *tools.Registry, deliveries DeliveryLister, hub *Hub) *Webserver {
	s := &Webserver{
		Echo:       echo.New(),
		manager:    manager,
		registry:   registry,
		keys:       keys,
		tools:      toolReg,
		deliveries: deliveries,
		hub:        hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}

	s.setupMiddleware()
	s.registerRoutes()
	return s
}

func (s *Webserver) setupMiddleware() {
	s.HideBanner = true
	s.HidePort = true
	s.Use(middleware.BodyLimit("2M"))
	s.Use(middleware.Recover())
	s.Use(middleware.RequestID())
	s.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/api/jobs/stream"
		},
		LogURI:       true,
		LogMethod:    true,
		LogStatus:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  false,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
				"remote_ip", v.RemoteIP,
				"request_id", v.RequestID,
			}
			if v.Error != nil {
				fields = append(fields, "error", v.Error)
			}
			slog.Info("request", fields...)
			return nil
		},
	}))
}

func (s *Webserver) registerRoutes() {
	api := s.Group("/api")

	jobsGroup := api.Group("/jobs")
	jobsGroup.Use(s.requireScope(""))
	jobsGroup.POST("", HandleSubmitJob(s.manager, s.registry))
	jobsGroup.GET("", HandleJobList(s.manager))
	jobsGroup.GET("/stream", s.handleJobStream)
	jobsGroup.GET("/:id", HandleJobStatus(s.manager))
	jobsGroup.POST("/:id/cancel", HandleJobCancel(s.manager))

	toolsGroup := api.Group("/tools")
	toolsGroup.Use(s.requireScope(""))
	toolsGroup.GET("", HandleToolList(s.tools))
	toolsGroup.POST("/:name", HandleToolCall(s.tools))

	keysGroup := api.Group("/keys")
	keysGroup.Use(s.requireScope(apikeys.ScopeAdmin))
	keysGroup.POST("", HandleKeyCreate(s.keys))
	keysGroup.GET("", HandleKeyList(s.keys))
	keysGroup.DELETE("/:id", HandleKeyRevoke(s.keys))
	keysGroup.POST("/:id/rotate", HandleKeyRotate(s.keys))

	api.GET("/jobs/:id/deliveries", HandleJobDeliveries(s.deliveries), s.requireScope(apikeys.ScopeAdmin))
	api.DELETE("/cache", HandleCacheInvalidate(s.manager), s.requireScope(apikeys.ScopeAdmin))

	s.GET("/healthz", HandleHealthz(s.manager))
	s.GET("/readyz", HandleHealthz(s.manager))
}

// handleJobStream upgrades to a websocket and subscribes the client to job
// transitions. The connection stays open until the client goes away.
func (s *Webserver) handleJobStream(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	s.hub.register(conn)
	defer s.hub.unregister(conn)

	// Reads are discarded; the socket is one-way. A read error means the
	// client disconnected.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return nil
		}
	}
}

// Serve runs the listener until Shutdown.
func (s *Webserver) Serve(port string) error {
	slog.Info("webserver listening", "port", port)
	if err := s.Start(":" + port); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and drops websocket subscribers.
func (s *Webserver) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.Echo.Shutdown(ctx)
}
