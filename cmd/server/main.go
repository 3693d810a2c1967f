// @title           Audit Service API
// @version         1.0.0
// @description     Append-only audit trail with field-level change tracking, risk classification, analytics and anomaly detection
// @license.name    Apache-2.0
// @basePath        /
// @schemes         http https
// @securityDefinitions.apiKey  Bearer
// @in                          header
// @name                         Authorization
// @description                  "JWT token or service API key: 'Bearer {token}'"
//
// @tag.name         System
// @tag.description  Health and readiness endpoints.
//
// @tag.name         Observability
// @tag.description  Prometheus metrics are served on a dedicated side-channel port (default: 9090) that is separate from the main API server. Configure the port with AUDIT_TELEMETRY_METRICS_PROMETHEUS_PORT. The endpoint path is always GET /metrics.

// Package main is the entry point for the audit service binary. It dispatches its
// subcommands (serve, migrate, purge, token, apikey, version) via a simple switch on
// os.Args so the binary's full CLI surface is readable in one place. The serve command
// runs auto-migration on startup so freshly deployed containers never need a separate
// migration step.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/auditcore/audit-service/internal/analytics"
	"github.com/auditcore/audit-service/internal/api"
	"github.com/auditcore/audit-service/internal/audit"
	"github.com/auditcore/audit-service/internal/auth"
	"github.com/auditcore/audit-service/internal/auth/oidc"
	"github.com/auditcore/audit-service/internal/config"
	"github.com/auditcore/audit-service/internal/db"
	"github.com/auditcore/audit-service/internal/db/repositories"
	"github.com/auditcore/audit-service/internal/middleware"
	"github.com/auditcore/audit-service/internal/reporting"
	"github.com/auditcore/audit-service/internal/retention"
	"github.com/auditcore/audit-service/internal/safego"
	"github.com/auditcore/audit-service/internal/storage"
	"github.com/auditcore/audit-service/internal/telemetry"

	// Import storage backends to register them
	_ "github.com/auditcore/audit-service/internal/storage/azure"
	_ "github.com/auditcore/audit-service/internal/storage/gcs"
	_ "github.com/auditcore/audit-service/internal/storage/local"
	_ "github.com/auditcore/audit-service/internal/storage/s3"
)

// version is overridden at build time with -ldflags "-X main.version=..."
var version = "0.1.0"

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func run(args []string) error {
	command := "serve"
	if len(args) > 0 {
		command = args[0]
		args = args[1:]
	}

	// Commands that need no configuration
	switch command {
	case "version":
		fmt.Printf("Audit Service v%s\n", version)
		return nil
	case "token":
		return runToken(args)
	case "apikey":
		return runAPIKey(args)
	}

	configPath := os.Getenv("CONFIG_PATH")

	switch command {
	case "serve":
		return serve(configPath)
	case "migrate":
		if len(args) < 1 {
			return fmt.Errorf("usage: %s migrate <up|down|force VERSION>", os.Args[0])
		}
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return runMigrations(cfg, args)
	case "purge":
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return runPurge(cfg, args)
	default:
		return fmt.Errorf("unknown command: %s\nAvailable commands: serve, migrate, purge, token, apikey, version", command)
	}
}

// reloadTargets receives configuration changes picked up by config.Watch. The watch
// callback can fire before the services exist, so it only applies what is registered.
type reloadTargets struct {
	mu       sync.Mutex
	recorder *audit.Recorder
	detector *analytics.Detector
}

func (rt *reloadTargets) set(recorder *audit.Recorder, detector *analytics.Detector) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.recorder = recorder
	rt.detector = detector
}

func (rt *reloadTargets) apply(cfg *config.Config) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.recorder != nil {
		rt.recorder.SetClassifier(audit.NewClassifier(cfg.Audit.Risk))
	}
	if rt.detector != nil {
		rt.detector.SetThresholds(cfg.Audit.Anomaly)
	}
	slog.Info("risk rules and anomaly thresholds reloaded")
}

// services is everything built from the configuration that both serve and purge need.
type services struct {
	database *sqlx.DB
	redis    *redis.Client
	repo     *repositories.AuditRepository
	shipper  audit.Shipper
	recorder *audit.Recorder
	archive  storage.Storage
	reports  *reporting.Aggregator
	runner   *retention.Service
}

func (s *services) Close() {
	if s.shipper != nil {
		if err := s.shipper.Close(); err != nil {
			slog.Warn("failed to close audit shipper", "error", err)
		}
	}
	if s.redis != nil {
		_ = s.redis.Close()
	}
	if s.database != nil {
		_ = s.database.Close()
	}
}

func buildServices(ctx context.Context, cfg *config.Config) (*services, error) {
	s := &services{}

	conn, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	s.database = sqlx.NewDb(conn, "postgres")
	s.repo = repositories.NewAuditRepository(s.database)

	s.redis, err = db.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	multi, err := audit.NewMultiShipper(cfg.Audit.Shippers)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to initialize audit shippers: %w", err)
	}
	s.shipper = multi
	slog.Info("audit shippers initialized", "count", multi.Len())

	s.recorder = audit.NewRecorder(s.repo, audit.NewClassifier(cfg.Audit.Risk), s.shipper, cfg.Audit.Recording.Timeout)

	var cache reporting.Cache
	if s.redis != nil {
		cache = reporting.NewRedisCache(s.redis)
	}
	s.reports = reporting.NewAggregator(s.repo, cache, cfg.Redis.DashboardCacheTTL)

	var archiver *retention.Archiver
	if cfg.Audit.Retention.Archive {
		s.archive, err = storage.NewStorage(cfg)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to initialize storage backend: %w", err)
		}
		archiver = retention.NewArchiver(s.repo, s.archive, cfg.Storage.DefaultBackend)
		slog.Info("retention archive enabled", "backend", cfg.Storage.DefaultBackend)
	}
	s.runner = retention.NewService(archiver, s.recorder)
	s.runner.OnPurged(s.reports.InvalidateDashboard)

	return s, nil
}

func serve(configPath string) error {
	targets := &reloadTargets{}
	cfg, err := config.Watch(configPath, targets.apply)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialise structured logger as early as possible so all subsequent log output
	// uses the configured format (json / text) and level.
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level, cfg.Telemetry.ServiceName)

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// Fails in production if AUDIT_JWT_SECRET is not set and no OIDC issuer is configured
	if !cfg.Auth.OIDC.Enabled() {
		if err := auth.ValidateJWTSecret(); err != nil {
			return fmt.Errorf("security configuration error: %w", err)
		}
	}

	slog.Info("connecting to database",
		"host", cfg.Database.Host, "port", cfg.Database.Port,
		"name", cfg.Database.Name, "user", cfg.Database.User, "ssl_mode", cfg.Database.SSLMode)

	ctx := context.Background()
	svc, err := buildServices(ctx, cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	telemetry.StartDBStatsCollector(svc.database.DB)

	slog.Info("running database migrations")
	if err := db.RunMigrations(svc.database.DB, "up"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if v, dirty, err := db.GetMigrationVersion(svc.database.DB); err != nil {
		slog.Warn("failed to get migration version", "error", err)
	} else {
		slog.Info("database schema ready", "version", v, "dirty", dirty)
	}

	detector := analytics.NewDetector(svc.repo, cfg.Audit.Anomaly, cfg.Audit.Analytics.MaxScanRows)
	targets.set(svc.recorder, detector)

	keys := auth.NewKeyRing(cfg.Auth.APIKeys)
	slog.Info("service API keys loaded", "count", keys.Len())

	var verifier middleware.TokenVerifier
	if cfg.Auth.OIDC.Enabled() {
		v, err := oidc.NewVerifier(ctx, cfg.Auth.OIDC)
		if err != nil {
			return fmt.Errorf("failed to initialize OIDC verifier: %w", err)
		}
		verifier = v
		slog.Info("bearer tokens verified through OIDC", "issuer", cfg.Auth.OIDC.IssuerURL, "audience", cfg.Auth.OIDC.Audience)
	}

	// Metrics live on a dedicated port so they are not reachable through the public
	// API ingress path.
	if cfg.Telemetry.Metrics.Enabled {
		metricsAddr := fmt.Sprintf(":%d", cfg.Telemetry.Metrics.PrometheusPort)
		safego.Go("metrics-server", func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			slog.Info("starting Prometheus metrics server", "addr", metricsAddr)
			srv := &http.Server{
				Addr:         metricsAddr,
				Handler:      mux,
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 10 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server error", "error", err)
			}
		})
	}

	deps := api.Dependencies{
		DB:        svc.database.DB,
		Storage:   svc.archive,
		Keys:      keys,
		Verifier:  verifier,
		Recorder:  svc.recorder,
		Queries:   audit.NewQueryService(svc.repo),
		Engine:    analytics.NewEngine(svc.repo),
		Detector:  detector,
		Reports:   svc.reports,
		Retention: svc.runner,
		Version:   version,
	}
	if svc.redis != nil {
		deps.Redis = svc.redis
	}
	router, bgServices := api.NewRouter(cfg, deps)

	server := &http.Server{
		Addr:         cfg.Server.GetAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	safego.Go("http-server", func() {
		slog.Info("starting server", "addr", cfg.Server.GetAddress(), "tls", cfg.Security.TLS.Enabled)

		var err error
		if cfg.Security.TLS.Enabled {
			err = server.ListenAndServeTLS(cfg.Security.TLS.CertFile, cfg.Security.TLS.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		bgServices.Shutdown()
		return fmt.Errorf("failed to start server: %w", err)
	}

	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	// Stop the retention job and rate limiter goroutines
	bgServices.Shutdown()

	slog.Info("server stopped gracefully")
	return nil
}

func runMigrations(cfg *config.Config, args []string) error {
	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	direction := args[0]
	if direction == "force" {
		// Clears the dirty flag after an interrupted migration
		if len(args) < 2 {
			return fmt.Errorf("usage: %s migrate force VERSION", os.Args[0])
		}
		v, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid migration version %q: %w", args[1], err)
		}
		if err := db.ForceMigrationVersion(database, v); err != nil {
			return err
		}
		log.Printf("Migration version forced to %d", v)
		return nil
	}

	log.Printf("Running migrations: %s", direction)

	if err := db.RunMigrations(database, direction); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	v, dirty, err := db.GetMigrationVersion(database)
	if err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	log.Printf("Migration completed successfully. Current version: %d (dirty: %v)", v, dirty)
	return nil
}
