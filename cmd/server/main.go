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
	"github.com/google/uuid"
	appevent "github.com/projectlink/backend/internal/application/event"
	appintegration "github.com/projectlink/backend/internal/application/integration"
	"github.com/projectlink/backend/internal/domain/integration"
	"github.com/projectlink/backend/internal/infrastructure/cache"
	"github.com/projectlink/backend/internal/infrastructure/config"
	"github.com/projectlink/backend/internal/infrastructure/event"
	"github.com/projectlink/backend/internal/infrastructure/logger"
	"github.com/projectlink/backend/internal/infrastructure/persistence"
	"github.com/projectlink/backend/internal/infrastructure/provider"
	"github.com/projectlink/backend/internal/infrastructure/retry"
	"github.com/projectlink/backend/internal/infrastructure/scheduler"
	"github.com/projectlink/backend/internal/infrastructure/storage"
	"github.com/projectlink/backend/internal/infrastructure/telemetry"
	"github.com/projectlink/backend/internal/interfaces/http/handler"
	"github.com/projectlink/backend/internal/interfaces/http/middleware"
	"github.com/projectlink/backend/internal/interfaces/http/router"
	"github.com/redis/go-redis/v9"
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
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting ProjectLink Backend",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	// Create GORM logger backed by zap
	gormLogLevel := logger.MapGormLogLevel(cfg.Log.Level)
	gormLog := logger.NewGormLogger(log, gormLogLevel)

	// Initialize database connection with custom logger
	db, err := persistence.NewDatabaseWithCustomLogger(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Database connected successfully")

	// OpenTelemetry bootstrap. The providers install no-op globals when
	// telemetry is disabled, so downstream wiring stays unconditional.
	var meterProvider *telemetry.MeterProvider
	var tracerProvider *telemetry.TracerProvider
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

		// Log export. Rebuilds the process logger as a tee writing to both
		// the configured output and the collector; components constructed
		// from here on log through the bridge.
		if cfg.Telemetry.LogsEnabled {
			logsProvider, err := telemetry.NewLoggerProvider(context.Background(), telemetry.LogsConfig{
				Enabled:           true,
				CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
				ServiceName:       cfg.Telemetry.ServiceName,
				Insecure:          cfg.Telemetry.Insecure,
			}, log)
			if err != nil {
				log.Fatal("Failed to initialize logger provider", zap.Error(err))
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := logsProvider.Shutdown(ctx); err != nil {
					log.Error("Error shutting down logger provider", zap.Error(err))
				}
			}()

			bridged, err := telemetry.CreateBridgedLoggerFromConfig(&telemetry.BaseLoggerConfig{
				Level:      cfg.Log.Level,
				Format:     cfg.Log.Format,
				Output:     cfg.Log.Output,
				TimeFormat: "2006-01-02T15:04:05.000Z07:00",
			}, logsProvider, cfg.Telemetry.ServiceName)
			if err != nil {
				log.Fatal("Failed to initialize bridged logger", zap.Error(err))
			}
			log = bridged
			log.Info("OTEL log export enabled", zap.String("collector", cfg.Telemetry.CollectorEndpoint))
		}

		if cfg.Telemetry.DBTraceEnabled {
			dbTracingCfg := telemetry.DefaultDBTracingConfig()
			dbTracingCfg.Enabled = true
			dbTracingCfg.LogFullSQL = cfg.Telemetry.DBLogFullSQL
			if cfg.Telemetry.DBSlowQueryThresh > 0 {
				dbTracingCfg.SlowQueryThresh = cfg.Telemetry.DBSlowQueryThresh
			}
			if err := telemetry.NewDBTracingPlugin(dbTracingCfg, log).RegisterOtelGorm(db.DB); err != nil {
				log.Warn("Failed to register database tracing", zap.Error(err))
			}
		}

		// Database query counters and connection pool gauges
		dbMetricsCfg := telemetry.DefaultDBMetricsConfig()
		if cfg.Telemetry.DBSlowQueryThresh > 0 {
			dbMetricsCfg.SlowQueryThreshold = cfg.Telemetry.DBSlowQueryThresh
		}
		dbMetrics, err := telemetry.RegisterDBMetrics(db.DB, meterProvider, dbMetricsCfg, log)
		if err != nil {
			log.Warn("Failed to register database metrics", zap.Error(err))
		} else if dbMetrics != nil {
			dbMetrics.StartPoolStatsCollection(context.Background())
			defer dbMetrics.Stop()
		}

		log.Info("Telemetry enabled",
			zap.String("collector", cfg.Telemetry.CollectorEndpoint),
			zap.Float64("sampling_ratio", cfg.Telemetry.SamplingRatio),
		)
	}

	// Continuous profiling. The profiler must be running before span
	// profiles are enabled on the tracer provider.
	if cfg.Profiling.Enabled {
		profiler, err := telemetry.NewProfiler(telemetry.ProfilerConfig{
			Enabled:           true,
			ServerAddress:     cfg.Profiling.ServerAddress,
			ApplicationName:   cfg.Profiling.ApplicationName,
			ProfileCPU:        true,
			ProfileAllocSpace: true,
			ProfileInuseSpace: true,
			ProfileGoroutines: true,
		}, log)
		if err != nil {
			log.Fatal("Failed to start profiler", zap.Error(err))
		}
		defer func() {
			if err := profiler.Stop(); err != nil {
				log.Error("Error stopping profiler", zap.Error(err))
			}
		}()

		if cfg.Profiling.SpanProfiles && tracerProvider != nil {
			if err := tracerProvider.EnableSpanProfiles(); err != nil {
				log.Warn("Failed to enable span profiles", zap.Error(err))
			}
		}
	}

	// Initialize repositories
	recordRepo := persistence.NewGormInternalRecordRepository(db.DB)
	runRepo := persistence.NewGormSyncRunRepository(db.DB)
	taskQueue := persistence.NewGormTaskQueue(db.DB)
	outboxRepo := event.NewGormOutboxRepository(db.DB)

	// Initialize event serializer and register all event types
	eventSerializer := event.NewEventSerializer()
	event.RegisterSyncEvents(eventSerializer)

	// Create outbox publisher for transactional event saving
	outboxPublisher := event.NewOutboxPublisher(eventSerializer)

	// Inject outbox publisher into repositories that need transactional event publishing
	recordRepo.SetOutboxEventSaver(outboxPublisher)
	runRepo.SetOutboxEventSaver(outboxPublisher)

	// Retry policy shared by provider fetches and task redelivery backoff
	retryCfg := retry.Config{
		MaxAttempts:    cfg.Sync.Retry.MaxAttempts,
		BaseDelay:      cfg.Sync.Retry.BaseDelay,
		MaxDelay:       cfg.Sync.Retry.MaxDelay,
		JitterFraction: cfg.Sync.Retry.JitterFraction,
	}

	// Provider registry. Adapters register only when configured, so a
	// deployment can run Jira-only or Entra-only.
	providerRegistry := provider.NewRegistry()
	if cfg.Providers.Jira.BaseURL != "" {
		jiraAdapter, err := provider.NewJiraAdapter(provider.NewJiraConfig(
			cfg.Providers.Jira.BaseURL,
			cfg.Providers.Jira.Email,
			cfg.Providers.Jira.APIToken,
		))
		if err != nil {
			log.Fatal("Failed to initialize Jira adapter", zap.Error(err))
		}
		providerRegistry.Register(jiraAdapter)
		log.Info("Jira provider registered", zap.String("base_url", cfg.Providers.Jira.BaseURL))
	}
	if cfg.Providers.Entra.TenantID != "" {
		entraCfg := provider.NewEntraConfig(
			cfg.Providers.Entra.TenantID,
			cfg.Providers.Entra.ClientID,
			cfg.Providers.Entra.ClientSecret,
		)
		if cfg.Providers.Entra.BaseURL != "" {
			entraCfg.BaseURL = cfg.Providers.Entra.BaseURL
		}
		tokenSource := provider.NewClientCredentialsTokenSource(
			integration.ProviderCodeEntra,
			entraCfg.TokenEndpoint(),
			entraCfg.ClientID,
			entraCfg.ClientSecret,
			provider.EntraGraphScope,
			newTokenCache(cfg.Redis, log),
		)
		entraAdapter, err := provider.NewEntraAdapter(entraCfg, tokenSource)
		if err != nil {
			log.Fatal("Failed to initialize Entra adapter", zap.Error(err))
		}
		providerRegistry.Register(entraAdapter)
		log.Info("Entra provider registered", zap.String("tenant_id", cfg.Providers.Entra.TenantID))
	}
	if len(providerRegistry.List()) == 0 {
		log.Warn("No providers configured, sync runs will fail until one is registered")
	}

	// Staleness cache for single-entity lookups
	entityCache := cache.NewEntityCache(
		cache.WithEntityTTL(cfg.Sync.CacheTTL),
		cache.WithEntityCacheLogger(log),
	)
	defer entityCache.Close()

	// Initialize application services
	mergeEngine := appintegration.NewMergeEngine(recordRepo, log)
	orchestrator := appintegration.NewOrchestrator(providerRegistry, runRepo, taskQueue, mergeEngine, appintegration.OrchestratorConfig{
		PageSize:         cfg.Sync.PageSize,
		MergeConcurrency: cfg.Sync.MergeConcurrency,
		Retry:            retryCfg,
	}, log)
	syncService := appintegration.NewSyncService(runRepo, recordRepo, taskQueue, mergeEngine, log)
	lookupService := appintegration.NewEntityLookupService(providerRegistry, entityCache, retryCfg, log)

	// Object storage for run archives (optional)
	if cfg.Storage.Enabled {
		storageOpts := []storage.S3ArchiveStoreOption{storage.WithLogger(log)}
		if cfg.Storage.PresignTTL > 0 {
			storageOpts = append(storageOpts, storage.WithPresignTTL(cfg.Storage.PresignTTL))
		}
		archiveStore, err := storage.NewS3ArchiveStore(&cfg.Storage, storageOpts...)
		if err != nil {
			log.Fatal("Failed to initialize archive store", zap.Error(err))
		}
		orchestrator.SetArchiveStore(archiveStore)
		syncService.SetArchiveStore(archiveStore)
		log.Info("Run archiving enabled", zap.String("bucket", cfg.Storage.Bucket))
	}

	// Initialize event bus and consumers
	eventBus := event.NewInMemoryEventBus(log)

	// The audit consumer sees every event exactly once: the idempotency
	// store absorbs outbox redeliveries.
	idempotencyStore, err := cache.NewIdempotencyStoreFactory(cfg.Redis, cache.WithLogger(log)).CreateStore()
	if err != nil {
		log.Fatal("Failed to create idempotency store", zap.Error(err))
	}
	auditConsumer := event.NewIdempotentHandler(event.NewAuditConsumer(log), idempotencyStore, log)
	eventBus.Subscribe(auditConsumer)

	// Start event bus
	if err := eventBus.Start(context.Background()); err != nil {
		log.Fatal("Failed to start event bus", zap.Error(err))
	}
	defer func() {
		if err := eventBus.Stop(context.Background()); err != nil {
			log.Error("Error stopping event bus", zap.Error(err))
		}
	}()

	// Initialize and start outbox processor for guaranteed event delivery.
	// The processor reads events from the outbox_events table and publishes
	// them to the event bus.
	if cfg.Event.ProcessorEnabled {
		outboxProcessorConfig := event.DefaultOutboxProcessorConfig()
		if cfg.Event.BatchSize > 0 {
			outboxProcessorConfig.BatchSize = cfg.Event.BatchSize
		}
		if cfg.Event.PollInterval > 0 {
			outboxProcessorConfig.PollInterval = cfg.Event.PollInterval
		}
		outboxProcessorConfig.CleanupEnabled = cfg.Event.CleanupEnabled
		if cfg.Event.CleanupRetention > 0 {
			outboxProcessorConfig.CleanupRetention = cfg.Event.CleanupRetention
		}
		outboxProcessor := event.NewOutboxProcessor(outboxRepo, eventBus, eventSerializer, outboxProcessorConfig, log)
		if err := outboxProcessor.Start(context.Background()); err != nil {
			log.Fatal("Failed to start outbox processor", zap.Error(err))
		}
		defer func() {
			if err := outboxProcessor.Stop(context.Background()); err != nil {
				log.Error("Error stopping outbox processor", zap.Error(err))
			}
		}()
		log.Info("Outbox processor started",
			zap.Int("batch_size", outboxProcessorConfig.BatchSize),
			zap.Duration("poll_interval", outboxProcessorConfig.PollInterval),
		)
	}

	// Sync-domain metrics (runs, merges, provider calls, queue depth)
	var syncMetrics *telemetry.SyncMetrics
	if meterProvider != nil {
		syncMetrics, err = telemetry.NewSyncMetrics(telemetry.SyncMetricsConfig{
			Meter:         meterProvider.Meter("sync.engine"),
			Logger:        log,
			QueueProvider: taskQueue,
		})
		if err != nil {
			log.Fatal("Failed to initialize sync metrics", zap.Error(err))
		}
		orchestrator.SetSyncMetrics(syncMetrics)
		mergeEngine.SetSyncMetrics(syncMetrics)
		syncMetrics.StartQueueDepthCollection(context.Background(), 30*time.Second)
		defer syncMetrics.Stop()
	}

	// Initialize and start the task dispatcher worker pool
	taskDispatcher, err := scheduler.NewTaskDispatcher(scheduler.DispatcherConfig{
		Enabled:       true,
		Workers:       cfg.Sync.Queue.Workers,
		PollInterval:  cfg.Sync.Queue.PollInterval,
		LeaseDuration: cfg.Sync.Queue.LeaseDuration,
		TaskTimeout:   cfg.Sync.Queue.TaskTimeout,
		Backoff:       retryCfg,
	}, taskQueue, orchestrator, log)
	if err != nil {
		log.Fatal("Failed to initialize task dispatcher", zap.Error(err))
	}
	if syncMetrics != nil {
		taskDispatcher.SetSyncMetrics(syncMetrics)
	}
	if err := taskDispatcher.Start(context.Background()); err != nil {
		log.Fatal("Failed to start task dispatcher", zap.Error(err))
	}
	defer func() {
		if err := taskDispatcher.Stop(context.Background()); err != nil {
			log.Error("Error stopping task dispatcher", zap.Error(err))
		}
	}()
	log.Info("Task dispatcher started",
		zap.Int("workers", cfg.Sync.Queue.Workers),
		zap.Duration("lease_duration", cfg.Sync.Queue.LeaseDuration),
	)

	// Initialize stream scheduler (if enabled)
	if cfg.Sync.SchedulerEnabled {
		streams := make([]integration.Stream, 0, len(cfg.Sync.Streams))
		for _, sc := range cfg.Sync.Streams {
			stream, err := streamFromConfig(sc)
			if err != nil {
				log.Fatal("Invalid stream configuration",
					zap.String("provider", sc.Provider),
					zap.String("entity_type", sc.EntityType),
					zap.Error(err),
				)
			}
			streams = append(streams, stream)
		}
		if len(streams) == 0 {
			log.Warn("Stream scheduler enabled but no streams configured")
		} else {
			schedulerConfig := scheduler.DefaultStreamSchedulerConfig()
			if cfg.Sync.SchedulerInterval > 0 {
				schedulerConfig.SyncInterval = cfg.Sync.SchedulerInterval
			}
			streamScheduler, err := scheduler.NewStreamScheduler(schedulerConfig, streams, taskQueue, runRepo, log)
			if err != nil {
				log.Fatal("Failed to initialize stream scheduler", zap.Error(err))
			}
			if err := streamScheduler.Start(context.Background()); err != nil {
				log.Fatal("Failed to start stream scheduler", zap.Error(err))
			}
			defer func() {
				if err := streamScheduler.Stop(context.Background()); err != nil {
					log.Error("Error stopping stream scheduler", zap.Error(err))
				}
			}()
			log.Info("Stream scheduler started",
				zap.Int("streams", len(streams)),
				zap.Duration("sync_interval", schedulerConfig.SyncInterval),
			)
		}
	}

	// Initialize HTTP handlers
	syncHandler := handler.NewSyncHandler(syncService)
	syncHandler.SetLookupService(lookupService)
	systemHandler := handler.NewSystemHandler()
	outboxHandler := handler.NewOutboxHandler(appevent.NewOutboxService(outboxRepo, log))

	// Set Gin mode based on environment
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Setup validation
	middleware.SetupValidator()

	// Initialize router with custom middleware
	engine := gin.New()

	// Configure trusted proxies
	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Warn("Failed to set trusted proxies", zap.Error(err))
		}
	}

	// Apply middleware stack in order:
	// 1. RequestID - Generate/propagate request ID
	// 2. Recovery - Catch panics
	// 3. Tracing - OpenTelemetry spans (if enabled)
	// 4. Logger - Log requests
	// 5. Security - Add security headers
	// 6. CORS - Handle cross-origin requests
	// 7. BodyLimit - Limit request body size
	// 8. Metrics - HTTP metrics (if enabled)
	// 9. Profiling - Pyroscope labels (if enabled)
	// 10. RateLimit - Apply rate limiting (if enabled)
	engine.Use(middleware.RequestID())
	engine.Use(logger.Recovery(log))
	if cfg.Telemetry.Enabled {
		engine.Use(middleware.Tracing())
		engine.Use(middleware.SpanErrorMarker())
	}
	engine.Use(logger.GinMiddleware(log))
	engine.Use(middleware.Secure())

	// Configure CORS from config
	corsConfig := middleware.CORSConfig{
		AllowOrigins:     cfg.HTTP.CORSAllowOrigins,
		AllowMethods:     cfg.HTTP.CORSAllowMethods,
		AllowHeaders:     cfg.HTTP.CORSAllowHeaders,
		ExposeHeaders:    []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	engine.Use(middleware.CORSWithConfig(corsConfig))

	// Body size limit
	engine.Use(middleware.BodyLimit(cfg.HTTP.MaxBodySize))

	// HTTP metrics (if telemetry enabled)
	if meterProvider != nil {
		engine.Use(middleware.HTTPMetricsWithMeter(meterProvider.Meter("http.server"), true))
	}

	// Profiling labels (if the Pyroscope profiler is running)
	if cfg.Profiling.Enabled {
		engine.Use(middleware.Profiling())
	}

	// Rate limiting (if enabled)
	var triggerLimit gin.HandlerFunc
	if cfg.HTTP.RateLimitEnabled {
		rateLimiter := middleware.NewRateLimiter(cfg.HTTP.RateLimitRequests, cfg.HTTP.RateLimitWindow)
		engine.Use(middleware.RateLimit(rateLimiter))

		// Run triggers fan out into provider API calls, so they get a
		// tighter budget than regular reads.
		triggerRequests := cfg.HTTP.RateLimitRequests / 10
		if triggerRequests < 1 {
			triggerRequests = 1
		}
		triggerLimit = middleware.TriggerRateLimit(
			middleware.NewRateLimiter(triggerRequests, cfg.HTTP.RateLimitWindow))

		log.Info("Rate limiting enabled",
			zap.Int("requests", cfg.HTTP.RateLimitRequests),
			zap.Int("trigger_requests", triggerRequests),
			zap.Duration("window", cfg.HTTP.RateLimitWindow),
		)
	}

	// Health check endpoint (outside API versioning)
	engine.GET("/healthz", healthHandler(db, log))

	// Setup API routes using router
	r := router.NewRouter(engine, router.WithAPIVersion("v1"))

	// Sync domain (runs, tasks, records, entity lookups)
	syncRoutes := router.NewDomainGroup("sync", "/sync")
	syncRoutes.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "sync service ready"})
	})

	// Run routes
	if triggerLimit != nil {
		syncRoutes.POST("/runs", triggerLimit, syncHandler.TriggerRun)
	} else {
		syncRoutes.POST("/runs", syncHandler.TriggerRun)
	}
	syncRoutes.GET("/runs", syncHandler.ListRuns)
	syncRoutes.GET("/runs/:id", syncHandler.GetRun)
	syncRoutes.GET("/runs/:id/archive", syncHandler.GetRunArchive)

	// Task routes
	syncRoutes.GET("/tasks/:id", syncHandler.GetTask)

	// Record routes
	syncRoutes.GET("/records", syncHandler.ListRecords)
	syncRoutes.GET("/records/summary", syncHandler.GetRecordSummary)
	syncRoutes.GET("/records/:id", syncHandler.GetRecord)
	syncRoutes.POST("/records/:id/unlink", syncHandler.UnlinkRecord)

	// Entity lookups served through the staleness cache
	syncRoutes.GET("/entities/:provider/:type/:external_id", syncHandler.LookupEntity)

	// System routes
	systemRoutes := router.NewDomainGroup("system", "/system")
	systemRoutes.GET("/info", systemHandler.GetSystemInfo)
	systemRoutes.GET("/ping", systemHandler.Ping)

	// Outbox dead letter management
	systemRoutes.GET("/outbox/stats", outboxHandler.GetStats)
	systemRoutes.GET("/outbox/dead", outboxHandler.GetDeadLetterEntries)
	systemRoutes.POST("/outbox/dead/retry-all", outboxHandler.RetryAllDeadEntries)
	systemRoutes.GET("/outbox/:id", outboxHandler.GetEntry)
	systemRoutes.POST("/outbox/:id/retry", outboxHandler.RetryDeadEntry)

	// Register all domain groups
	r.Register(syncRoutes).
		Register(systemRoutes)

	// Setup routes
	r.Setup()

	// Also keep a simple ping at root API level for basic health checks
	engine.GET("/api/v1/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	// Create HTTP server with config
	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	// Start server in goroutine
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

// newTokenCache returns a Redis-backed token cache, or nil when Redis is
// not configured or unreachable. A nil cache means every token refresh
// hits the identity provider, which is correct just slower.
func newTokenCache(cfg config.RedisConfig, log *zap.Logger) provider.TokenCache {
	if cfg.Host == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn("Redis unavailable, provider tokens will not be cached", zap.Error(err))
		_ = client.Close()
		return nil
	}
	return provider.NewRedisTokenCache(client, "")
}

// streamFromConfig converts a declared stream into its domain form
func streamFromConfig(sc config.StreamConfig) (integration.Stream, error) {
	orgID, err := uuid.Parse(sc.OrgID)
	if err != nil {
		return integration.Stream{}, fmt.Errorf("invalid org_id %q: %w", sc.OrgID, err)
	}
	scope := integration.OrgScope()
	if sc.ScopeKind != "" {
		scope = integration.Scope{Kind: integration.ScopeKind(sc.ScopeKind), Key: sc.ScopeKey}
	}
	stream := integration.Stream{
		OrgID:      orgID,
		Provider:   integration.ProviderCode(sc.Provider),
		EntityType: integration.EntityType(sc.EntityType),
		Scope:      scope,
	}
	if err := stream.Validate(); err != nil {
		return integration.Stream{}, err
	}
	return stream, nil
}

// healthHandler returns a handler for health check endpoints
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
