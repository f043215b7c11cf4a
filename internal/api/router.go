package api

import (
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"smartengo-backend/config"
	"smartengo-backend/internal/auth"
	"smartengo-backend/internal/events"
	"smartengo-backend/internal/model"
	"smartengo-backend/internal/mw"
	"smartengo-backend/internal/service"
	"smartengo-backend/internal/store"
	"smartengo-backend/internal/util"
)

// Deps are the collaborators the router wires into handlers.
type Deps struct {
	Server  config.ServerConfig
	Service *service.ToiletService
	Store   store.Store
	Auth    *auth.Manager
	Hub     *events.Hub
	WebPush *webpush.Options

	// Cache and Limiter are created when nil. Callers that run
	// ReadCache.FlushOnChange or limiter eviction pass their own.
	Cache   *mw.ReadCache
	Limiter *mw.IPRateLimiter
}

// NewRouter creates and configures a new Gin router.
func NewRouter(d Deps) *gin.Engine {
	if d.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), mw.Logger(util.GetLogger().Named("http")), mw.Metrics())

	handler := NewHandler(d.Service, d.Store, d.Auth, d.Hub, d.WebPush)
	handler.secureCookie = d.Server.Env == "production"

	cacheTTL := time.Duration(d.Server.CacheTTLSeconds) * time.Second
	if d.Cache == nil {
		d.Cache = mw.NewReadCache(cacheTTL)
	}
	if d.Limiter == nil {
		d.Limiter = mw.NewIPRateLimiter(rate.Limit(d.Server.RateLimitPerSec), d.Server.RateLimitBurst)
	}
	rateLimiter := mw.RateLimit(d.Limiter)
	caching := d.Cache.Middleware()
	cors := mw.CORS(d.Server.CORSAllowOrigin)

	r.GET("/health", handler.Health)
	r.GET("/ready", handler.Ready)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Inbound webhooks, open to any origin.
	functions := r.Group("/functions/v1", cors)
	{
		functions.POST("/payment-webhook", handler.PaymentWebhook)
		functions.OPTIONS("/payment-webhook")
		functions.POST("/sensor-update", handler.SensorWebhook)
		functions.OPTIONS("/sensor-update")
	}

	api := r.Group("/api")
	{
		webhooks := api.Group("/webhooks", cors)
		webhooks.POST("/payment", handler.PaymentWebhook)
		webhooks.OPTIONS("/payment")
		webhooks.POST("/sensor", handler.SensorWebhook)
		webhooks.OPTIONS("/sensor")

		public := api.Group("", rateLimiter)
		public.GET("/toilets", caching, handler.ListToilets)
		public.GET("/events", handler.StreamEvents)
		public.GET("/subscriptions", handler.GetSubscription)
		public.PUT("/subscriptions", handler.PutSubscription)
		public.DELETE("/subscriptions", handler.DeleteSubscription)
		public.GET("/vapid_public_key", handler.GetVAPIDPublicKey)

		authGroup := api.Group("/auth", rateLimiter)
		authGroup.POST("/login", handler.Login)
		authGroup.POST("/logout", handler.Logout)
		authGroup.GET("/me", mw.RequireAuth(d.Auth), handler.Me)
	}

	operators := mw.RequireRole(model.RoleAdmin, model.RoleModerator)
	admin := r.Group("/api/admin", mw.RequireAuth(d.Auth))
	{
		admin.GET("/toilets", handler.ListToilets)
		admin.POST("/toilets", operators, handler.CreateToilet)
		admin.GET("/toilets/:id", handler.GetToilet)
		admin.PATCH("/toilets/:id", operators, handler.UpdateToilet)
		admin.DELETE("/toilets/:id", mw.RequireRole(model.RoleAdmin), handler.DeleteToilet)
		admin.POST("/toilets/:id/manual-open", operators, handler.ManualOpen)
		admin.POST("/toilets/:id/door", operators, handler.ToggleDoor)
		admin.POST("/toilets/:id/payments", operators, handler.RecordPayment)
		admin.GET("/toilets/:id/alert", handler.GetAlert)
		admin.GET("/payments/recent", handler.RecentPayments)
		admin.GET("/access-logs/recent", handler.RecentAccessLogs)
	}

	return r
}
