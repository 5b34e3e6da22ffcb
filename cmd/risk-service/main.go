// Package main is the entry point for the fraud risk scoring service.
// It combines IP reputation, device trust, and behavioral signals into a
// bounded confidence score with an ALLOW/REVIEW/DENY decision.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/riskcore/riskcore/internal/common/config"
	"github.com/riskcore/riskcore/internal/common/database"
	"github.com/riskcore/riskcore/internal/common/logger"
	"github.com/riskcore/riskcore/internal/common/middleware"
	"github.com/riskcore/riskcore/internal/common/tracing"
	"github.com/riskcore/riskcore/internal/health"
	"github.com/riskcore/riskcore/internal/risk"
)

var (
	Version    = "dev"
	BuildTime  = "unknown"
	CommitHash = "unknown"
)

func main() {
	// Initialize logger
	log := logger.New()
	defer log.Sync()

	log.Info("Starting Risk Scoring Service",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("commit", CommitHash),
	)

	// Load configuration
	cfg, err := config.Load("risk-service")
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}

	cfg.LogSecurityWarnings(log)

	// Initialize tracing
	tracingCfg := tracing.ConfigFromEnv("risk-service", cfg.Environment)
	shutdownTracer, err := tracing.Init(context.Background(), tracingCfg, log)
	if err != nil {
		log.Warn("Failed to initialize tracing", zap.Error(err))
	} else {
		defer shutdownTracer(context.Background())
	}

	// Initialize database connection
	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	// Initialize Redis connection
	redis, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redis.Close()

	// Initialize stores and ensure schema
	deviceStore := risk.NewDeviceStore(db, log)
	accessStore := risk.NewAccessStore(db, log)
	assessmentStore := risk.NewAssessmentStore(db, redis, log)

	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer initCancel()
	if err := deviceStore.InitSchema(initCtx); err != nil {
		log.Fatal("Failed to initialize device schema", zap.Error(err))
	}
	if err := assessmentStore.InitSchema(initCtx); err != nil {
		log.Fatal("Failed to initialize assessment schema", zap.Error(err))
	}

	// Initialize reputation client
	reputation := risk.NewReputationClient(risk.ReputationConfig{
		BaseURL:      cfg.Reputation.BaseURL,
		APIKey:       cfg.Reputation.APIKey,
		Timeout:      time.Duration(cfg.Reputation.TimeoutSeconds) * time.Second,
		CacheTTL:     time.Duration(cfg.Reputation.CacheTTLSecs) * time.Second,
		BatchWorkers: cfg.Reputation.BatchWorkers,
	}, redis, log)

	// Initialize risk engine
	engineCfg := risk.DefaultEngineConfig()
	engineCfg.AllowThreshold = cfg.Risk.AllowThreshold
	engineCfg.ReviewThreshold = cfg.Risk.ReviewThreshold
	engineCfg.APIVersion = cfg.Risk.APIVersion
	engineCfg.Travel = risk.TravelConfig{
		ReviewSpeedKmh: cfg.Risk.TravelReviewSpeedKmh,
		DenySpeedKmh:   cfg.Risk.TravelDenySpeedKmh,
	}
	engineCfg.Hardware = risk.HardwareConfig{
		MinCPUCores:       cfg.Risk.MinCPUCores,
		MinDeviceMemoryGB: cfg.Risk.MinDeviceMemoryGB,
	}
	engine, err := risk.NewEngine(engineCfg, reputation, deviceStore, accessStore, assessmentStore, log)
	if err != nil {
		log.Fatal("Failed to initialize risk engine", zap.Error(err))
	}

	// Set Gin mode
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize router
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("risk-service"))
	router.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	router.Use(logger.GinMiddleware(log))
	router.Use(middleware.CORS())
	router.Use(middleware.RequestID())
	router.Use(middleware.PrometheusMetrics("risk-service"))

	// Metrics endpoint
	router.GET("/metrics", middleware.MetricsHandler())

	// Initialize health service with database and Redis checks
	healthService := health.NewHealthService(log)
	healthService.SetVersion(Version)
	healthService.RegisterCheck(health.NewPostgresChecker(db))
	healthService.RegisterCheck(health.NewRedisChecker(redis))
	if cfg.Reputation.APIKey != "" {
		healthService.RegisterCheck(health.NewReputationProviderChecker(
			cfg.Reputation.BaseURL,
			time.Duration(cfg.Reputation.TimeoutSeconds)*time.Second,
		))
	}
	healthService.RegisterStandardRoutes(router, "")

	// Register API routes
	handler := risk.NewHandler(engine, deviceStore, accessStore, assessmentStore, log)
	api := router.Group("/api/v1")
	handler.RegisterRoutes(api)

	// Background context for long-running goroutines
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	// Start access history retention purge
	go func() {
		interval := time.Duration(cfg.Retention.PurgeIntervalMins) * time.Minute
		if interval <= 0 {
			interval = time.Hour
		}
		retention := time.Duration(cfg.Retention.AccessDays) * 24 * time.Hour

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-bgCtx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().UTC().Add(-retention)
				if _, err := accessStore.PurgeOlderThan(bgCtx, cutoff); err != nil {
					log.Warn("Access history purge failed", zap.Error(err))
				}
			}
		}
	}()
	log.Info("Access retention purge scheduled",
		zap.Int("retention_days", cfg.Retention.AccessDays),
		zap.Int("interval_minutes", cfg.Retention.PurgeIntervalMins))

	// Create HTTP server
	port := cfg.Port
	if port == 0 {
		port = 8010
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("Starting risk service", zap.Int("port", port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited")
}
