// Package httpapi wires the HTTP transport (Gin) to the tracking services,
// middleware, and route handlers. It centralizes cross-cutting concerns:
// tracing, correlation IDs, logging, panic recovery, compression, metrics,
// rate limiting, and CORS.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/pricewatch/go-tracker-backend/internal/chat"
	"github.com/pricewatch/go-tracker-backend/internal/config"
	"github.com/pricewatch/go-tracker-backend/internal/httpapi/handlers"
	"github.com/pricewatch/go-tracker-backend/internal/httpapi/middleware"
	"github.com/pricewatch/go-tracker-backend/internal/ratelimit"
	"github.com/pricewatch/go-tracker-backend/internal/services"
)

// Deps are the constructed services the routes are mounted on.
type Deps struct {
	Tracker *services.TrackingService
	Stats   *services.StatsService
	Conv    *chat.Conversation
}

// RegisterRoutes attaches all middleware and endpoints to the Gin engine.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. Logger: structured access logs
//  4. Recovery: capture panics after the logger
//  5. Body size limiter
//  6. Compression
//  7. Metrics and the /metrics endpoint
//  8. Per-IP rate limiter (public boundary)
//  9. CORS
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.Recovery())
	r.Use(limitBody(1 << 20))
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	ipWindow := ratelimit.NewWindow(cfg.Limits.IPPerHour, time.Hour)
	r.Use(middleware.IPRateLimit(ipWindow))

	if len(cfg.CORS.AllowedOrigins) == 0 {
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "X-API-Key"},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "X-API-Key"},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	wh := &handlers.WebhookHandler{Conv: deps.Conv, Secret: cfg.Telegram.WebhookSecret}
	r.POST("/webhook/:secret", wh.Receive)

	h := handlers.New(deps.Tracker, deps.Stats)
	api := r.Group("/api/v1")
	api.Use(middleware.APIKey(cfg.APIKey))
	{
		api.POST("/tracking", h.Actions)
	}
}

// limitBody caps the request body size for all endpoints; reads past the cap
// error out downstream.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
