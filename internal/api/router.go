// Package api wires together all HTTP routes for the audit service.
//
// Route grouping:
//   - /health and /ready are unauthenticated probes for the orchestrator.
//   - /api/v1/audit/events is the ingest endpoint used by business services. It needs
//     audit:write and is never self-audited, otherwise every ingest would record twice.
//   - Every other /api/v1/audit route reads or maintains the trail itself. Those need
//     audit:read (or audit:admin for purges) and pass through SelfAudit, so access to
//     the audit trail is itself recorded.
package api

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/auditcore/audit-service/internal/analytics"
	"github.com/auditcore/audit-service/internal/api/admin"
	"github.com/auditcore/audit-service/internal/api/ingest"
	"github.com/auditcore/audit-service/internal/audit"
	"github.com/auditcore/audit-service/internal/auth"
	"github.com/auditcore/audit-service/internal/config"
	"github.com/auditcore/audit-service/internal/jobs"
	"github.com/auditcore/audit-service/internal/middleware"
	"github.com/auditcore/audit-service/internal/reporting"
	"github.com/auditcore/audit-service/internal/safego"
	"github.com/auditcore/audit-service/internal/storage"
)

// Dependencies are the services the router exposes. Storage and Redis are optional:
// a nil Storage skips the readiness probe for the archive backend and a nil Redis
// keeps rate limiting in memory.
type Dependencies struct {
	DB        *sql.DB
	Storage   storage.Storage
	Redis     redis.UniversalClient
	Keys      *auth.KeyRing
	Verifier  middleware.TokenVerifier
	Recorder  *audit.Recorder
	Queries   *audit.QueryService
	Engine    *analytics.Engine
	Detector  *analytics.Detector
	Reports   *reporting.Aggregator
	Retention jobs.Runner
	Version   string
}

// BackgroundServices holds references to background jobs and resources that must
// be stopped during graceful shutdown. The caller (cmd/server) is responsible for
// calling Shutdown() when the process receives a termination signal.
type BackgroundServices struct {
	purger       *jobs.RetentionPurger
	rateLimiters []*middleware.RateLimiter
}

// Shutdown stops all background goroutines. It should be called after the HTTP
// server has been shut down so that in-flight requests are drained first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.purger != nil {
		bg.purger.Stop()
	}
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, deps Dependencies) (*gin.Engine, *BackgroundServices) {
	router := gin.New()
	bg := &BackgroundServices{}

	if deps.Retention != nil {
		bg.purger = jobs.NewRetentionPurger(deps.Retention, cfg.Audit.Retention)
		purger := bg.purger
		safego.Go("retention-purger", func() { purger.Start(context.Background()) })
	}

	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.LoggerMiddleware())
	router.Use(middleware.CORSMiddleware(cfg.Security.CORS))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig(cfg.Security.TLS.Enabled)))

	router.GET("/health", healthCheckHandler(deps.DB))
	router.GET("/ready", readinessHandler(deps.DB, deps.Storage))
	router.GET("/version", versionHandler(deps.Version))

	v1 := router.Group("/api/v1/audit")
	if limiter := newLimiter(cfg.Security.RateLimiting, deps.Redis, bg); limiter != nil {
		v1.Use(middleware.RateLimitMiddleware(limiter))
	}
	v1.Use(middleware.AuthMiddleware(deps.Keys, deps.Verifier))

	ingestHandler := ingest.NewHandler(deps.Recorder)
	v1.POST("/events", middleware.RequireScope(auth.ScopeAuditWrite), ingestHandler.CreateEvent)

	logsHandler := admin.NewLogsHandler(deps.Queries)
	analyticsHandler := admin.NewAnalyticsHandler(deps.Engine, deps.Detector, cfg.Audit.Analytics)
	reportsHandler := admin.NewReportsHandler(deps.Reports, cfg.Audit.Analytics)

	read := v1.Group("")
	read.Use(middleware.RequireScope(auth.ScopeAuditRead))
	read.Use(middleware.SelfAudit(deps.Recorder, cfg.Audit.Recording.AuditReads))
	{
		read.GET("/logs", logsHandler.ListLogs)
		read.GET("/logs/:id", logsHandler.GetLog)
		read.GET("/logs/:id/changes", logsHandler.GetLogChanges)
		read.GET("/users/:actor_id/logins", logsHandler.LoginHistory)
		read.GET("/high-risk", logsHandler.HighRisk)

		read.GET("/analytics/timeseries", analyticsHandler.TimeSeries)
		read.GET("/analytics/top-actors", analyticsHandler.TopActors)
		read.GET("/analytics/distribution", analyticsHandler.Distribution)
		read.GET("/analytics/hourly", analyticsHandler.Hourly)
		read.GET("/anomalies", analyticsHandler.Anomalies)

		read.GET("/reports/activity", reportsHandler.Activity)
		read.GET("/dashboard", reportsHandler.Dashboard)
	}

	if deps.Retention != nil {
		maintenanceHandler := admin.NewMaintenanceHandler(deps.Retention)
		maint := v1.Group("/maintenance")
		maint.Use(middleware.RequireScope(auth.ScopeAuditAdmin))
		maint.Use(middleware.SelfAudit(deps.Recorder, false))
		maint.POST("/purge", maintenanceHandler.Purge)
	}

	return router, bg
}

// newLimiter picks the rate limiter backend. Redis is used only when both the config
// asks for it and a client is available; otherwise each instance limits on its own.
func newLimiter(cfg config.RateLimitingConfig, client redis.UniversalClient, bg *BackgroundServices) middleware.Limiter {
	if !cfg.Enabled {
		slog.Info("rate limiting disabled")
		return nil
	}
	rlCfg := middleware.RateLimitConfigFrom(cfg)
	if cfg.Backend == "redis" {
		if client != nil {
			slog.Info("rate limiting backed by redis", "requests_per_minute", rlCfg.RequestsPerMinute)
			return middleware.NewRedisRateLimiter(client, rlCfg)
		}
		slog.Warn("rate limiting backend is redis but redis is disabled, falling back to memory")
	}
	rl := middleware.NewRateLimiter(rlCfg)
	bg.rateLimiters = append(bg.rateLimiters, rl)
	return rl
}

// @Summary      Health check
// @Description  Returns the health status of the service, including database connectivity.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: healthy, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "status: unhealthy, error: database connection failed"
// @Router       /health [get]
// healthCheckHandler returns the health status of the service
func healthCheckHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      Readiness check
// @Description  Returns whether the service is ready to accept traffic. Checks the database and the archive backend.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "ready: true, checks, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "ready: false, checks, error"
// @Router       /ready [get]
// readinessHandler returns the readiness status of the service. Unlike /health it
// also probes the archive backend, because a retention run would fail without it.
func readinessHandler(db *sql.DB, archive storage.Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		if err := db.PingContext(c.Request.Context()); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		if archive != nil {
			// Probe with a known-absent sentinel path. Exists exercises credentials
			// and connectivity without creating any state.
			if _, err := archive.Exists(c.Request.Context(), ".readiness-probe"); err != nil {
				checks["storage"] = "unhealthy"
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"ready":  false,
					"checks": checks,
					"error":  "storage backend not ready",
				})
				return
			}
			checks["storage"] = "healthy"
		}

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      API version
// @Description  Returns the service build version and API version.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "version, api_version"
// @Router       /version [get]
func versionHandler(version string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     version,
			"api_version": "v1",
		})
	}
}
