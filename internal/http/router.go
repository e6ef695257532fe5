// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as correlation IDs, logging, panic recovery, metrics, CORS, security
// headers, and rate limiting.
//
// Design goals:
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS and security header posture
package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/tbourn/go-telejelly-backend/internal/config"
	"github.com/tbourn/go-telejelly-backend/internal/http/handlers"
	"github.com/tbourn/go-telejelly-backend/internal/http/middleware"
)

// Deps carries the injected application services exposed over HTTP.
//
// Snapshot supplies the live whitelist configuration; Provision backs the
// SSO login flow; Validate probes bot tokens; Queue is the persisted media
// request queue; Library receives item lifecycle events.
type Deps struct {
	Snapshot  handlers.ConfigSource
	Provision handlers.AccountProvisioner
	Validate  handlers.TokenValidator
	Queue     handlers.RequestQueue
	Catalog   handlers.FolderCatalog
	Directory handlers.AccountDirectory
	Library   handlers.LibraryPort
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (request logs, metrics), rate limiting,
// CORS and security headers, health and metrics endpoints, and then mounts
// the login, configuration-page, and webhook routes.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything (no-op tracer unless enabled)
//  2. RequestID: generate/propagate correlation id
//  3. Logger: structured access logs
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Rate limiter (per user/IP)
//  8. CORS and Security headers
func RegisterRoutes(r *gin.Engine, cfg config.Config, d Deps) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured access logging
	r.Use(middleware.Logger())

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Token-bucket rate limiter per user/IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	r.Use(rl.Handler())

	// 8) CORS posture (safe defaults: allow all if none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers. The whole surface carries token-bearing responses, so
	// caching is off; the CSP admits the Telegram login widget.
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:  cfg.Security.EnableHSTS,
		HSTSMaxAge:  cfg.Security.HSTSMaxAge,
		NoStore:     true,
		LoginWidget: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	sso := handlers.NewSSO(d.Snapshot, d.Provision, cfg.AuthTTL)
	admin := handlers.NewAdmin(d.Validate, d.Queue, d.Catalog, d.Directory)
	library := handlers.NewLibrary(d.Library)

	// Login widget flow
	r.POST("/sso/telegram/authenticate", sso.Authenticate)
	r.GET("/sso/telegram/assets/default-avatar.svg", handlers.DefaultAvatar)

	// Configuration-page collaborators
	api := groupWithPrefix(r, "/api/telejelly")
	{
		api.POST("/validate-bot-token", admin.ValidateBotToken)
		api.GET("/requests", admin.ListRequests)
		api.POST("/requests", admin.ReplaceRequests)
		api.GET("/folders", admin.ListFolders)
		api.GET("/accounts", admin.ListAccounts)
		api.GET("/sessions/:token", admin.GetSession)
		api.DELETE("/sessions/:token", admin.RevokeSession)
	}

	// Media-server webhooks
	lib := groupWithPrefix(r, "/library/items")
	{
		lib.POST("/added", library.ItemAdded)
		lib.POST("/updated", library.ItemUpdated)
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	p := strings.TrimSpace(prefix)
	if p == "" || p == "/" {
		return r.Group("/")
	}
	return r.Group(p)
}
