package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	importapp "github.com/marketplace/backend/internal/application/import"
	"github.com/marketplace/backend/internal/domain/bulk"
	"github.com/marketplace/backend/internal/infrastructure/config"
	"github.com/marketplace/backend/internal/infrastructure/logger"
	"github.com/marketplace/backend/internal/infrastructure/persistence"
	"github.com/marketplace/backend/internal/infrastructure/scheduler"
	"github.com/marketplace/backend/internal/infrastructure/storage"
	"github.com/marketplace/backend/internal/infrastructure/telemetry"
	"github.com/marketplace/backend/internal/interfaces/http/handler"
	"github.com/marketplace/backend/internal/interfaces/http/middleware"
	"github.com/marketplace/backend/internal/interfaces/http/router"
	"go.uber.org/zap"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

const version = "1.0.0"

//	@title			Marketplace Import API
//	@version		1.0
//	@description	Resumable bulk CSV product import for marketplace catalogs
//	@termsOfService	http://swagger.io/terms/

//	@license.name	Apache 2.0
//	@license.url	http://www.apache.org/licenses/LICENSE-2.0.html

//	@host		localhost:8080
//	@BasePath	/api/v1

//	@externalDocs.description	OpenAPI
//	@externalDocs.url			https://swagger.io/resources/open-api/

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
		Service:    cfg.App.Name,
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting Marketplace Import Backend",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Telemetry: traces and import metrics are exported over OTLP when enabled
	tp, err := telemetry.InitTracer(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracer", zap.Error(err))
	}

	mp, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.MetricsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ExportInterval:    cfg.Telemetry.MetricsInterval,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize meter provider", zap.Error(err))
	}

	importMetrics, err := telemetry.NewImportMetricsFromProvider(mp)
	if err != nil {
		log.Fatal("Failed to create import metrics", zap.Error(err))
	}

	// Database with a zap-backed GORM logger
	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level))
	db, err := persistence.NewDatabase(&cfg.Database, persistence.WithLogger(gormLog))
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Database connected successfully")

	if cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled {
		plugin := telemetry.NewDBTracingPlugin(telemetry.DBTracingConfig{
			Enabled:         true,
			SlowQueryThresh: cfg.Telemetry.DBSlowQueryThresh,
			DBSystem:        "postgresql",
		}, log)
		if err := plugin.RegisterOtelGorm(db.DB); err != nil {
			log.Warn("Failed to register database tracing", zap.Error(err))
		}
	}

	// Repositories and collaborators
	jobRepo := persistence.NewGormImportJobRepository(db.DB)
	catalogStore := persistence.NewGormCatalogStore(db.DB)

	files, err := storage.New(&cfg.Storage, log)
	if err != nil {
		log.Fatal("Failed to initialize file storage", zap.Error(err))
	}
	if s3Store, ok := files.(*storage.S3Store); ok {
		if err := s3Store.EnsureBucket(ctx); err != nil {
			log.Fatal("Failed to prepare storage bucket", zap.Error(err))
		}
	}

	queue, healthChecks := newQueue(cfg, db, log)
	defer func() {
		if err := queue.Close(); err != nil {
			log.Warn("Error closing job queue", zap.Error(err))
		}
	}()

	// Import engine
	opts := importOptions(cfg.Import)
	capacity := importapp.NewCapacityChecker(catalogStore)
	processor := importapp.NewRowProcessor(capacity, catalogStore, opts, log)
	runner := importapp.NewJobRunner(jobRepo, files, catalogStore, capacity, processor, importMetrics, opts, workerID(), log)

	pool, err := scheduler.NewPool(scheduler.PoolConfig{
		Workers: cfg.Import.Workers,
	}, queue, runner, log)
	if err != nil {
		log.Fatal("Failed to create worker pool", zap.Error(err))
	}
	if err := importMetrics.ObserveQueue(pool.Queued); err != nil {
		log.Warn("Failed to register queue gauge", zap.Error(err))
	}

	recovery := scheduler.NewRecoveryPoller(scheduler.RecoveryConfig{
		Interval:  cfg.Import.PollInterval,
		BatchSize: cfg.Import.Workers * 4,
	}, jobRepo, pool, log)

	if err := pool.Start(ctx); err != nil {
		log.Fatal("Failed to start worker pool", zap.Error(err))
	}
	if err := recovery.Start(ctx); err != nil {
		log.Fatal("Failed to start recovery poller", zap.Error(err))
	}
	log.Info("Import workers started",
		zap.String("worker_id", runner.WorkerID()),
		zap.Int("workers", cfg.Import.Workers),
		zap.String("queue", cfg.Import.QueueBackend),
	)

	jobService := importapp.NewJobService(jobRepo, jobRepo, catalogStore, capacity, files, pool, opts, log)
	templateService := importapp.NewTemplateService(catalogStore, catalogStore, opts, log)

	// Handlers
	importHandler := handler.NewImportHandler(jobService, templateService, opts.MaxFileSize)
	systemHandler := handler.NewSystemHandler(version, healthChecks, pool.Queued)

	// Set Gin mode based on environment
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Setup validation
	middleware.SetupValidator()

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
	// 3. Logger - Log requests
	// 4. Tracing - Server spans, marked on error responses
	// 5. Metrics - Request counts and latency
	// 6. Security - Add security headers
	// 7. CORS - Handle cross-origin requests
	// 8. BodyLimit - Limit request body size
	engine.Use(middleware.RequestID())
	engine.Use(logger.Recovery(log))
	engine.Use(logger.GinMiddleware(log))
	engine.Use(middleware.TracingWithConfig(middleware.TracingConfig{
		ServiceName: cfg.Telemetry.ServiceName,
		Enabled:     cfg.Telemetry.Enabled,
	}))
	engine.Use(middleware.SpanErrorMarker())
	engine.Use(middleware.HTTPMetrics(middleware.HTTPMetricsConfig{
		MeterProvider: mp,
		Enabled:       cfg.Telemetry.MetricsEnabled,
	}))
	engine.Use(middleware.Secure())

	corsConfig := middleware.DefaultCORSConfig()
	corsConfig.AllowOrigins = cfg.HTTP.AllowOrigins
	engine.Use(middleware.CORSWithConfig(corsConfig))

	engine.Use(middleware.BodyLimit(cfg.HTTP.MaxBodySize))

	// Health check endpoint (outside API versioning)
	engine.GET("/health", systemHandler.Health)

	// Swagger documentation endpoint
	engine.GET("/swagger/*any",
		middleware.SwaggerProtection(middleware.SwaggerConfig{
			Enabled:    cfg.Swagger.Enabled,
			AllowedIPs: cfg.Swagger.AllowedIPs,
		}),
		ginSwagger.WrapHandler(swaggerFiles.Handler),
	)

	r := router.NewRouter(engine, router.WithAPIVersion("v1"))
	r.Register(router.ImportRoutes(importHandler)).
		Register(router.SystemRoutes(systemHandler))
	r.Setup()

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
	<-ctx.Done()
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	// interrupted runs keep their lease and checkpoint; the recovery poller
	// of any instance picks them up once the lease expires
	if err := recovery.Stop(shutdownCtx); err != nil {
		log.Warn("Error stopping recovery poller", zap.Error(err))
	}
	if err := pool.Stop(shutdownCtx); err != nil {
		log.Warn("Error stopping worker pool", zap.Error(err))
	}
	if err := mp.Shutdown(shutdownCtx); err != nil {
		log.Warn("Error shutting down meter provider", zap.Error(err))
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Warn("Error shutting down tracer provider", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}

// newQueue picks the job queue backend and returns the health checks that
// cover it alongside the database
func newQueue(cfg *config.Config, db *persistence.Database, log *zap.Logger) (scheduler.Queue, map[string]handler.HealthChecker) {
	checks := map[string]handler.HealthChecker{"database": db}

	if cfg.Import.QueueBackend == "redis" {
		q, err := scheduler.NewRedisQueue(cfg.Redis.Addr(), cfg.Redis.Password, cfg.Redis.DB,
			scheduler.WithQueueLogger(log),
		)
		if err != nil {
			log.Fatal("Failed to connect job queue to Redis", zap.Error(err))
		}
		checks["queue"] = q
		log.Info("Using Redis job queue", zap.String("addr", cfg.Redis.Addr()), zap.String("key", q.Key()))
		return q, checks
	}

	log.Info("Using in-memory job queue", zap.Int("size", cfg.Import.QueueSize))
	return scheduler.NewMemoryQueue(cfg.Import.QueueSize), checks
}

// importOptions maps the import section of the configuration onto engine options.
// Zero values fall back to the engine defaults.
func importOptions(cfg config.ImportConfig) importapp.Options {
	opts := importapp.Options{
		MaxFileSize:         cfg.MaxFileSize,
		DefaultStrategy:     bulk.ProcessingStrategy(cfg.DefaultStrategy),
		DefaultMaxRetries:   cfg.DefaultMaxRetries,
		ParallelWindow:      cfg.ParallelWindow,
		ParallelWorkers:     cfg.ParallelWorkers,
		PersistenceAttempts: cfg.PersistenceAttempts,
		PersistenceBackoff:  cfg.PersistenceBackoff,
		ValueDelimiter:      cfg.ValueDelimiter,
		AttributeStrictness: importapp.Strictness(cfg.AttributeStrictness),
		ErrorThreshold:      cfg.ErrorThreshold,
		LeaseDuration:       cfg.LeaseDuration,
	}
	switch cfg.FieldDelimiter {
	case "":
	case `\t`, "tab":
		opts.FieldDelimiter = '\t'
	default:
		opts.FieldDelimiter, _ = utf8.DecodeRuneInString(cfg.FieldDelimiter)
	}
	return opts
}

// workerID names this process in job leases
func workerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	// worker_id is varchar(128) and runs append "/" plus 8 characters
	if len(host) > 40 {
		host = host[:40]
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
}
