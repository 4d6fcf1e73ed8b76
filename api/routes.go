package api

import (
	"github.com/gin-gonic/gin"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/opentracing/opentracing-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/customeros/mailsync/api/handlers"
	"github.com/customeros/mailsync/api/middleware"
	"github.com/customeros/mailsync/internal/tracing"
)

const AppSource = "mailsync"

// RegisterRoutes sets up all API endpoints. A nil key set makes user routes
// trust the X-User-Id header.
func RegisterRoutes(r *gin.Engine, h *handlers.APIHandlers, apikey string, keys jwk.Set) {
	if h == nil {
		panic("Handlers cannot be nil")
	}

	r.Use(gin.Recovery())
	r.Use(tracing.RecoveryWithJaeger(opentracing.GlobalTracer()))

	r.GET("/health", handlers.HealthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	apiKeyMiddleware := middleware.APIKeyMiddleware(middleware.APIKeyConfig{
		HeaderName:  middleware.APIKeyHeader,
		ValidAPIKey: apikey,
	})

	r.GET("/status", apiKeyMiddleware, handlers.Status(h.Accounts.Service()))

	// provider and identity webhooks authenticate by signature
	webhooks := r.Group("/webhooks")
	webhooks.Use(middleware.CustomContextMiddleware(AppSource))
	webhooks.Use(middleware.TracingMiddleware())
	{
		webhooks.GET("/mailbox", h.Webhooks.MailboxNotification())
		webhooks.POST("/mailbox", h.Webhooks.MailboxNotification())
		webhooks.POST("/users", h.Webhooks.UserEvent())
	}

	internal := r.Group("/v1")
	internal.Use(apiKeyMiddleware)
	internal.Use(middleware.CustomContextMiddleware(AppSource))
	internal.Use(middleware.TracingMiddleware())
	{
		internal.POST("/sync", h.Sync.Trigger())
		internal.POST("/accounts", h.Accounts.Link())
	}

	user := r.Group("/v1")
	user.Use(middleware.UserAuthMiddleware(keys))
	user.Use(middleware.CustomContextMiddleware(AppSource))
	user.Use(middleware.TracingMiddleware())
	{
		user.POST("/search", h.Search.Search())

		accounts := user.Group("/accounts")
		{
			accounts.GET("", h.Accounts.List())
			accounts.GET("/:id/threads", h.Accounts.Threads())
			accounts.GET("/:id/threads/count", h.Accounts.CountThreads())
			accounts.GET("/:id/messages/:messageId", h.Accounts.Message())
		}

		user.POST("/chat", h.Chat.Chat())
		user.GET("/chat/credits", h.Chat.Credits())
		user.POST("/compose", h.Chat.Compose())
		user.POST("/autocomplete", h.Chat.Autocomplete())
	}
}
