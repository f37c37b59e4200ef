// Package api exposes the notifier over HTTP with gin.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xraph/notifier/engine"
)

// API wires the HTTP handlers for the notifier.
type API struct {
	eng     *engine.Engine
	push    http.Handler
	version string
	logger  *slog.Logger
}

// Option configures an API.
type Option func(*API)

// WithPushHandler mounts h at /api/v1/push/ws, typically a push.Hub.
func WithPushHandler(h http.Handler) Option {
	return func(a *API) { a.push = h }
}

// WithVersion sets the version reported by the root route.
func WithVersion(v string) Option {
	return func(a *API) { a.version = v }
}

// WithLogger sets the request logger. Defaults to the engine's logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) { a.logger = l }
}

// New creates an API from an Engine.
func New(eng *engine.Engine, opts ...Option) *API {
	a := &API{
		eng:     eng,
		version: "1.0.0",
		logger:  eng.Notifier().Logger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns a gin engine with every route registered.
func (a *API) Handler() http.Handler {
	router := gin.New()
	router.Use(gin.Recovery(), a.requestLogger())
	a.RegisterRoutes(router)
	return router
}

// RegisterRoutes registers all notifier routes on r.
func (a *API) RegisterRoutes(r gin.IRouter) {
	r.GET("/", a.root)
	r.GET("/health", a.health)

	v1 := r.Group("/api/v1")
	{
		notifications := v1.Group("/notifications")
		{
			notifications.POST("", a.createNotification)
			notifications.GET("", a.listNotifications)
			notifications.GET("/:id", a.getNotification)
			notifications.PATCH("/:id", a.updateNotification)
			notifications.DELETE("/:id", a.deleteNotification)
			notifications.POST("/:id/cancel", a.cancelNotification)
		}

		v1.GET("/stats", a.stats)

		if a.push != nil {
			v1.GET("/push/ws", gin.WrapH(a.push))
		}
	}
}

func (a *API) root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "Universal Notifier API is running",
		"version": a.version,
	})
}

// health reports unhealthy when the store cannot be reached.
func (a *API) health(c *gin.Context) {
	if err := a.eng.Store().Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (a *API) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		level := slog.LevelInfo
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		a.logger.LogAttrs(c.Request.Context(), level, "http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("elapsed", time.Since(start)),
		)
	}
}
