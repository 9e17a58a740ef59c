// Package httpapi exposes the course workflow over HTTP with gin.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"courseflow/obs"
)

// ReadinessChecker reports whether backing stores are reachable.
type ReadinessChecker interface {
	Check(ctx context.Context) error
}

type RouterOptions struct {
	Handler        *Handler
	Authn          Authenticator
	Readiness      ReadinessChecker
	Limiter        *RateLimiter
	AllowedOrigins []string
	Logger         zerolog.Logger
}

func NewRouter(opts RouterOptions) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), RequestLogger(opts.Logger), Metrics())

	config := cors.DefaultConfig()
	if len(opts.AllowedOrigins) == 0 || (len(opts.AllowedOrigins) == 1 && opts.AllowedOrigins[0] == "*") {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = opts.AllowedOrigins
		config.AllowCredentials = true
	}
	config.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", requestIDHeader}
	config.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	config.ExposeHeaders = []string{requestIDHeader}
	r.Use(cors.New(config))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/readyz", func(c *gin.Context) {
		if opts.Readiness != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := opts.Readiness.Check(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(obs.Handler()))

	h := opts.Handler
	api := r.Group("/api/v1")
	api.Use(AuthMiddleware(opts.Authn, opts.Logger))
	if opts.Limiter != nil {
		api.Use(opts.Limiter.Limit())
	}
	{
		api.GET("/me", h.Me)

		courses := api.Group("/courses")
		{
			courses.POST("", h.CreateCourse)
			courses.GET("/:id", h.GetCourse)
			courses.GET("/:id/history", h.CourseHistory)
			courses.GET("/:id/participants", h.CourseParticipants)
			courses.POST("/:id/promote", h.Promote)
			courses.POST("/:id/validate", h.Validate)
			courses.POST("/:id/override", h.Override)
			courses.POST("/:id/participants", h.AttachParticipants)
		}

		queues := api.Group("/queues")
		{
			queues.GET("/approved", h.listQueue(h.queues.ListApprovedFor))
			queues.GET("/authored", h.listQueue(h.queues.ListAuthoredFor))
			queues.GET("/pending-countersign", h.listQueue(h.queues.ListPendingCountersign))
			queues.GET("/central-authored", h.listQueue(h.queues.ListCentralAuthored))
		}
	}

	return r
}
