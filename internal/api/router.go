package api

import (
	"stockbridge/internal/metrics"
	"stockbridge/internal/middleware"
	"stockbridge/internal/repository"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

type Handlers struct {
	Documents   *DocumentHandler
	Integration *IntegrationHandler
	Auth        *AuthHandler
	Health      *HealthHandler
}

type RouterOptions struct {
	ClientKeys        repository.ClientKeyRepository
	Redis             *redis.Client
	JWTSecret         []byte
	RequestsPerSecond int
	Env               string
	// DevPass lets X-Dev-Pass stand in for a token outside production.
	DevPass bool
}

func RegisterRoutes(h Handlers, opts RouterOptions) *gin.Engine {
	r := gin.New()

	devMode := opts.DevPass && opts.Env != "prod"

	// Global Middleware
	r.Use(
		middleware.CorsMiddleware(),
		middleware.RequestID(),
		middleware.GinZapLogger(),
		middleware.GinZapRecovery(),
		middleware.HttpMiddleware(),
		middleware.TraceMiddleware(),
	)
	r.SetTrustedProxies(nil)

	// Public Routes
	r.GET("/health", h.Health.HealthCheck)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	writeLimiter := middleware.RateLimitMiddleware(opts.Redis, opts.RequestsPerSecond)

	// Intake (Protected by client API key)
	intake := r.Group("/v1/documents")
	intake.Use(middleware.APIKeyMiddleware(opts.ClientKeys))
	{
		intake.POST("", writeLimiter, h.Documents.CreateDocument)
	}

	if h.Auth != nil {
		auth := r.Group("/v1/auth")
		{
			auth.POST("/login", writeLimiter, h.Auth.Login)
			auth.POST("/refresh", h.Auth.Refresh)
		}

		authProtected := r.Group("/v1/auth")
		authProtected.Use(middleware.JWTMiddleware(opts.JWTSecret, devMode))
		{
			authProtected.GET("/me", h.Auth.GetProfile)
			authProtected.POST("/logout", h.Auth.Logout)
		}
	}

	// Operator Routes
	protected := r.Group("/v1")
	protected.Use(middleware.JWTMiddleware(opts.JWTSecret, devMode))
	{
		protected.GET("/documents/:id/payload", h.Documents.PreviewPayload)
		protected.GET("/documents/:id/audits", h.Documents.GetAudits)

		protected.POST("/integration/dispatch", writeLimiter, h.Integration.Dispatch)
		protected.POST("/integration/queue/:id/requeue", writeLimiter, h.Integration.Requeue)
		protected.POST("/integration/sync/purchase-orders", writeLimiter, h.Integration.SyncPurchaseOrders)
		protected.GET("/integration/cursors/:key", h.Integration.GetCursor)
		protected.PUT("/integration/cursors/:key", writeLimiter, h.Integration.ResetCursor)
	}
	return r
}
