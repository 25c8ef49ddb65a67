// Package api wires the HTTP routes to their handlers.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/pixfusion/pixfusion/internal/auth"
	"github.com/pixfusion/pixfusion/internal/generation"
	"github.com/pixfusion/pixfusion/internal/http/api/handlers"
	"github.com/pixfusion/pixfusion/internal/ratelimit"
)

// Options carries the collaborators the router needs.
type Options struct {
	DB              *gorm.DB
	Engine          *generation.Engine
	Sessions        *auth.Sessions
	Google          handlers.GoogleExchanger
	Presigner       handlers.Presigner
	Limiter         *ratelimit.Manager
	SubmitPerMinute int
	FrontendHost    string
	SecureCookies   bool
}

// NewRouter builds the gin engine with all routes registered.
func NewRouter(opts Options) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger())
	RegisterRoutes(r, opts)
	return r
}

// RegisterRoutes registers public, authenticated, and webhook routes.
func RegisterRoutes(r *gin.Engine, opts Options) {
	if r == nil || opts.DB == nil {
		return
	}

	r.GET("/healthz", func(c *gin.Context) {
		sqlDB, errDB := opts.DB.DB()
		if errDB != nil || sqlDB.PingContext(c.Request.Context()) != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authHandler := handlers.NewAuthHandler(opts.DB, opts.Sessions, opts.Google, opts.FrontendHost, opts.SecureCookies)
	r.GET("/auth/google/login", authHandler.Login)
	r.GET("/auth/google/callback", authHandler.Callback)

	paymentHandler := handlers.NewPaymentHandler(opts.DB)
	r.POST("/payments/lemonsqueezy/callback", paymentHandler.Callback)

	authed := r.Group("")
	authed.Use(auth.RequireUser(opts.Sessions, opts.DB))

	authed.GET("/users/profile", authHandler.Profile)
	authed.GET("/payments/credits/:units", paymentHandler.Checkout)

	generationHandler := handlers.NewGenerationHandler(opts.DB, opts.Engine, opts.Presigner, opts.Limiter, opts.SubmitPerMinute)
	authed.POST("/api/generations", generationHandler.Create)
	authed.GET("/api/generations", generationHandler.List)
	authed.GET("/api/generations/:id", generationHandler.Get)
	authed.GET("/api/generations/:id/status", generationHandler.Status)
	authed.GET("/api/generations/:id/download", generationHandler.Download)
	authed.DELETE("/api/generations/:id", generationHandler.Delete)
}

// requestLogger emits one structured line per request.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(log.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"elapsed": time.Since(start).String(),
		}).Debug("request")
	}
}
