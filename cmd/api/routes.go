package main

import (
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"ai-receptionist/internal/audit"
	"ai-receptionist/internal/auth"
	"ai-receptionist/internal/calls"
	"ai-receptionist/internal/config"
	"ai-receptionist/internal/httpapi"
	"ai-receptionist/internal/metrics"
	"ai-receptionist/internal/notify"
	"ai-receptionist/internal/reporting"
	"ai-receptionist/internal/telephony"
	"ai-receptionist/internal/tenants"
	"ai-receptionist/internal/transcript"
	"ai-receptionist/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// app carries the dependencies built in main.
type app struct {
	cfg      config.Config
	log      *slog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	auth     *auth.Manager

	engine    *calls.Engine
	directory tenants.Directory
	recorder  *transcript.Recorder
	calls     calls.Repository
	stats     *reporting.Service
	audit     *audit.Service
	bus       notify.Bus

	db    *sql.DB
	redis *redis.Client
}

// registerRoutes wires HTTP routes to handlers. It holds no business logic.
func registerRoutes(r *gin.Engine, a app) {
	// CORS sits on the engine so preflights for unrouted OPTIONS still get headers.
	if mw := httpapi.CORS(a.cfg.HTTP.CORSOrigins); mw != nil {
		r.Use(mw)
	}

	// public
	r.GET("/healthz", a.healthz)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry})))

	// Carrier webhooks.
	hooks := r.Group("/")
	if a.cfg.Twilio.ValidateSignature {
		hooks.Use(telephony.RequireTwilioSignature(a.cfg.Twilio.AuthToken, a.cfg.Webhook.PublicBaseURL, a.audit.SignatureRejected))
	}
	telephony.Handlers{
		Engine:  a.engine,
		Tenants: a.directory,
		Audit:   a.audit,
		Metrics: a.metrics,
		Listen:  telephony.Listen{Timeout: a.cfg.Webhook.ListenTimeout, SpeechTimeout: a.cfg.Webhook.SpeechTimeout},
		Region:  a.cfg.Webhook.PhoneRegion,
	}.Register(hooks)

	// Dashboard observer API.
	limiter := httpapi.NewIPRateLimiter(rate.Limit(a.cfg.HTTP.RateLimit), a.cfg.HTTP.RateBurst, a.log)
	v1 := r.Group("/v1")
	v1.Use(limiter.RateLimit(), httpapi.ClientIP(), auth.RequireAccessToken(a.auth))
	httpapi.Handlers{
		Engine:      a.engine,
		Calls:       a.calls,
		Transcripts: a.recorder,
		Stats:       a.stats,
		Audit:       a.audit,
		Events:      a.bus,
	}.Register(v1)
}

func (a app) healthz(c *gin.Context) {
	ctx := c.Request.Context()
	if a.db != nil {
		if err := utils.HealthCheck(ctx, a.db, 2*time.Second); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "postgres": err.Error()})
			return
		}
	}
	if a.redis != nil {
		if err := a.redis.Ping(ctx).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "redis": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
