package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	appagg "github.com/mspbill/backend/internal/application/aggregation"
	appalerting "github.com/mspbill/backend/internal/application/alerting"
	appallocation "github.com/mspbill/backend/internal/application/allocation"
	appcommitment "github.com/mspbill/backend/internal/application/commitment"
	apprating "github.com/mspbill/backend/internal/application/rating"
	"github.com/mspbill/backend/internal/domain/billing"
	"github.com/mspbill/backend/internal/domain/charging"
	"github.com/mspbill/backend/internal/domain/shared"
	"github.com/mspbill/backend/internal/infrastructure/cache"
	"github.com/mspbill/backend/internal/infrastructure/config"
	"github.com/mspbill/backend/internal/infrastructure/event"
	"github.com/mspbill/backend/internal/infrastructure/logger"
	"github.com/mspbill/backend/internal/infrastructure/notification"
	"github.com/mspbill/backend/internal/infrastructure/persistence"
	"github.com/mspbill/backend/internal/infrastructure/scheduler"
	"github.com/mspbill/backend/internal/infrastructure/tax"
	"github.com/mspbill/backend/internal/infrastructure/telemetry"
	"github.com/mspbill/backend/internal/interfaces/http/handler"
	"github.com/mspbill/backend/internal/interfaces/http/middleware"
	"github.com/mspbill/backend/internal/interfaces/http/router"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "ISO8601",
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting MSP billing engine",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	// Database connection with zap-backed GORM logging
	gormLogLevel := logger.MapGormLogLevel(cfg.Log.Level)
	gormLog := logger.NewGormLogger(log, gormLogLevel)
	db, err := persistence.NewDatabaseWithCustomLogger(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database connection", zap.Error(err))
		}
	}()
	log.Info("Database connected",
		zap.String("host", cfg.Database.Host),
		zap.String("dbname", cfg.Database.DBName),
	)

	// OpenTelemetry providers (optional)
	var tracerProvider *telemetry.TracerProvider
	var meterProvider *telemetry.MeterProvider
	if cfg.Telemetry.Enabled {
		tracerProvider, err = telemetry.NewTracerProvider(context.Background(), telemetry.Config{
			Enabled:           cfg.Telemetry.Enabled,
			CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
			SamplingRatio:     cfg.Telemetry.SamplingRatio,
			ServiceName:       cfg.Telemetry.ServiceName,
			Insecure:          cfg.Telemetry.Insecure,
		}, log)
		if err != nil {
			log.Fatal("Failed to initialize tracer provider", zap.Error(err))
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tracerProvider.Shutdown(ctx); err != nil {
				log.Error("Error shutting down tracer provider", zap.Error(err))
			}
		}()

		meterProvider, err = telemetry.NewMeterProvider(context.Background(), telemetry.MetricsConfig{
			Enabled:           cfg.Telemetry.Enabled,
			CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
			ServiceName:       cfg.Telemetry.ServiceName,
			Insecure:          cfg.Telemetry.Insecure,
		}, log)
		if err != nil {
			log.Fatal("Failed to initialize meter provider", zap.Error(err))
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := meterProvider.Shutdown(ctx); err != nil {
				log.Error("Error shutting down meter provider", zap.Error(err))
			}
		}()

		if cfg.Telemetry.DBTraceEnabled {
			dbTracing := telemetry.NewDBTracingPlugin(telemetry.DBTracingConfig{
				Enabled:         true,
				LogFullSQL:      cfg.Telemetry.DBLogFullSQL,
				SlowQueryThresh: cfg.Telemetry.DBSlowQueryThresh,
			}, log)
			if err := dbTracing.RegisterOtelGorm(db.DB); err != nil {
				log.Warn("Failed to register database tracing", zap.Error(err))
			}
		}

		dbMetrics, err := telemetry.RegisterDBMetrics(db.DB, meterProvider, telemetry.DefaultDBMetricsConfig(), log)
		if err != nil {
			log.Warn("Failed to register database metrics", zap.Error(err))
		} else if dbMetrics != nil {
			dbMetrics.StartPoolStatsCollection(context.Background())
			defer dbMetrics.Stop()
		}
	}

	// Event serialization and the transactional outbox writer. Repositories
	// that emit domain events share the publisher so the event row commits
	// with the aggregate write.
	eventSerializer := event.NewEventSerializer()
	event.RegisterAllEvents(eventSerializer)
	outboxPublisher := event.NewOutboxPublisher(eventSerializer)
	outboxRepo := event.NewGormOutboxRepository(db.DB)

	// Repositories
	usageEventRepo := persistence.NewUsageEventRepository(db.DB)
	pricingRuleRepo := persistence.NewPricingRuleRepository(db.DB)
	positionTracker := persistence.NewUsagePositionTracker(db.DB)
	usagePoolRepo := persistence.NewUsagePoolRepository(db.DB)
	usageBucketRepo := persistence.NewUsageBucketRepository(db.DB)
	ratedEventRepo := persistence.NewRatedEventRepositoryWithOutbox(db.DB, outboxPublisher)
	commitmentRepo := persistence.NewCommitmentRepositoryWithOutbox(db.DB, outboxPublisher)
	usageAlertRepo := persistence.NewUsageAlertRepositoryWithOutbox(db.DB, outboxPublisher)
	rollupRepo := persistence.NewUsageAggregationRepository(db.DB)
	tenantSource := persistence.NewGormTenantSource(db.DB)

	// Idempotency fast path (redis, in-memory fallback)
	storeFactory := cache.NewIdempotencyStoreFactory(cfg.Redis, cache.WithLogger(log))
	idempotencyStore, err := storeFactory.CreateStore()
	if err != nil {
		log.Fatal("Failed to create idempotency store", zap.Error(err))
	}

	// Event bus fed by the outbox poller
	eventBus := event.NewInMemoryEventBus(log)
	if err := eventBus.Start(context.Background()); err != nil {
		log.Fatal("Failed to start event bus", zap.Error(err))
	}
	defer func() {
		if err := eventBus.Stop(context.Background()); err != nil {
			log.Error("Error stopping event bus", zap.Error(err))
		}
	}()

	outboxProcessorConfig := event.DefaultOutboxProcessorConfig()
	outboxProcessor := event.NewOutboxProcessor(outboxRepo, eventBus, eventSerializer, outboxProcessorConfig, log)
	if err := outboxProcessor.Start(context.Background()); err != nil {
		log.Fatal("Failed to start outbox processor", zap.Error(err))
	}
	defer func() {
		if err := outboxProcessor.Stop(context.Background()); err != nil {
			log.Error("Error stopping outbox processor", zap.Error(err))
		}
	}()

	// Tax provider and charge calculator
	taxProvider := tax.NewProviderFromConfig(cfg.Tax)
	calculator := charging.NewCalculator(taxProvider)
	if cfg.Tax.Timeout > 0 {
		calculator = calculator.WithTaxTimeout(cfg.Tax.Timeout)
	}

	// Alert delivery
	notifier := notification.NewNotifierFromConfig(cfg.Alerting, log)

	// Application services
	aggregationService := appagg.NewService(ratedEventRepo, rollupRepo, log)
	evaluationService := appcommitment.NewEvaluationService(commitmentRepo, notifier, log)
	monitorService := appalerting.NewMonitorService(usageAlertRepo, notifier, log)
	rolloverService := appallocation.NewRolloverService(usagePoolRepo, usageBucketRepo, log)

	ingestionConfig := apprating.IngestionConfig{
		MaxAllocationRetries: cfg.Rating.MaxAllocationRetries,
		RetryBaseDelay:       cfg.Rating.RetryBaseDelay,
		Idempotency: shared.IdempotencyConfig{
			TTL:     cfg.Rating.IdempotencyTTL,
			Enabled: true,
		},
	}
	ingestionService := apprating.NewIngestionService(
		usageEventRepo,
		pricingRuleRepo,
		positionTracker,
		usagePoolRepo,
		usageBucketRepo,
		ratedEventRepo,
		commitmentRepo,
		usageAlertRepo,
		notifier,
		idempotencyStore,
		calculator,
		log,
		ingestionConfig,
	)

	if meterProvider != nil && meterProvider.IsEnabled() {
		pipelineMetrics, err := telemetry.NewPipelineMetrics(telemetry.PipelineMetricsConfig{
			Meter:  meterProvider.Meter("mspbill.pipeline"),
			Logger: log,
		})
		if err != nil {
			log.Warn("Failed to initialize pipeline metrics", zap.Error(err))
		} else {
			ingestionService.SetMetrics(pipelineMetrics)
			defer pipelineMetrics.Stop()
		}
	}

	// Background sweeps: daily rollups, commitment period closes, alert
	// escalation re-checks. The scheduler is created even when disabled so
	// manual recompute triggers keep working.
	sweepExecutor := scheduler.NewSweepExecutor(aggregationService, evaluationService, monitorService, rolloverService, tenantSource, log)
	sweepJobRepo := scheduler.NewSweepJobRepository(db.DB)
	sweepScheduler, err := scheduler.NewSweepCronScheduler(cfg.Scheduler, sweepExecutor, sweepJobRepo, log)
	if err != nil {
		log.Fatal("Failed to create sweep scheduler", zap.Error(err))
	}

	// Rated events flowing off the outbox queue a rollup recompute for
	// their tenant, so aggregations stay fresh between scheduled sweeps.
	// The idempotency wrapper drops redelivered outbox entries.
	ratedHandler := appagg.NewRatedEventHandler(sweepScheduler, log)
	eventBus.Subscribe(
		event.NewIdempotentHandler(ratedHandler, idempotencyStore, log),
		billing.EventTypeUsageRated,
	)
	if cfg.Scheduler.Enabled {
		if err := sweepScheduler.Start(context.Background()); err != nil {
			log.Fatal("Failed to start sweep scheduler", zap.Error(err))
		}
		defer func() {
			if err := sweepScheduler.Stop(context.Background()); err != nil {
				log.Error("Error stopping sweep scheduler", zap.Error(err))
			}
		}()
		log.Info("Sweep scheduler started",
			zap.String("aggregation_schedule", cfg.Scheduler.AggregationSchedule),
			zap.String("commitment_schedule", cfg.Scheduler.CommitmentSchedule),
			zap.Duration("escalation_interval", cfg.Scheduler.EscalationInterval),
		)
	}

	// HTTP handlers
	systemHandler := handler.NewSystemHandler()
	usageEventHandler := handler.NewUsageEventHandler(ingestionService, usageEventRepo)
	usageEventHandler.SetMaxBatchSize(cfg.Rating.MaxBatchSize)
	usageEventHandler.SetImportService(apprating.NewCDRImportService(ingestionService, log))
	pricingRuleHandler := handler.NewPricingRuleHandler(pricingRuleRepo)
	aggregationHandler := handler.NewAggregationHandler(aggregationService, sweepScheduler)
	alertHandler := handler.NewAlertHandler(usageAlertRepo, monitorService)

	// Set Gin mode based on environment
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Setup validation
	middleware.SetupValidator()

	engine := gin.New()

	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Warn("Failed to set trusted proxies", zap.Error(err))
		}
	}

	// Middleware stack, outermost first
	engine.Use(middleware.RequestID())
	engine.Use(logger.Recovery(log))
	engine.Use(logger.GinMiddleware(log))
	engine.Use(middleware.Secure())

	corsConfig := middleware.CORSConfig{
		AllowOrigins:     cfg.HTTP.CORSAllowOrigins,
		AllowMethods:     cfg.HTTP.CORSAllowMethods,
		AllowHeaders:     cfg.HTTP.CORSAllowHeaders,
		ExposeHeaders:    []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	engine.Use(middleware.CORSWithConfig(corsConfig))

	engine.Use(middleware.BodyLimit(cfg.HTTP.MaxBodySize))

	if cfg.HTTP.RateLimitEnabled {
		rateLimiter := middleware.NewRateLimiter(cfg.HTTP.RateLimitRequests, cfg.HTTP.RateLimitWindow)
		engine.Use(middleware.RateLimit(rateLimiter))
		log.Info("Rate limiting enabled",
			zap.Int("requests", cfg.HTTP.RateLimitRequests),
			zap.Duration("window", cfg.HTTP.RateLimitWindow),
		)
	}

	if cfg.Telemetry.Enabled {
		engine.Use(middleware.Tracing())
	}
	if meterProvider != nil && meterProvider.IsEnabled() {
		engine.Use(middleware.HTTPMetricsWithMeter(meterProvider.Meter("mspbill.http"), true))
	}

	// Tenant resolution: every API route runs in a tenant scope
	tenantConfig := middleware.DefaultTenantConfig()
	tenantConfig.Logger = log
	tenantConfig.SkipPaths = append(tenantConfig.SkipPaths,
		"/api/v1/ping",
		"/api/v1/system/ping",
		"/api/v1/system/info",
	)
	engine.Use(middleware.TenantMiddlewareWithConfig(tenantConfig))

	// Health check endpoint (outside API versioning)
	engine.GET("/health", healthHandler(db, log))

	// API routes
	r := router.NewRouter(engine, router.WithAPIVersion("v1"))
	r.Register(systemHandler).
		Register(usageEventHandler).
		Register(pricingRuleHandler).
		Register(aggregationHandler).
		Register(alertHandler)
	r.Setup()

	// Simple ping at root API level for basic liveness probes
	engine.GET("/api/v1/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}

// healthHandler reports process liveness and database reachability
func healthHandler(db *persistence.Database, _ *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqLog := logger.GetGinLogger(c)
		if err := db.Ping(); err != nil {
			reqLog.Warn("Health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"time":     time.Now().Format(time.RFC3339),
				"database": "error",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":   "healthy",
			"time":     time.Now().Format(time.RFC3339),
			"database": "ok",
		})
	}
}
