package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"classifieds-catalog/internal/api"
	"classifieds-catalog/internal/cache"
	"classifieds-catalog/internal/catalog"
	"classifieds-catalog/internal/category"
	"classifieds-catalog/internal/config"
	"classifieds-catalog/internal/outbox"
	"classifieds-catalog/internal/platform/logger"
	"classifieds-catalog/internal/platform/metrics"
	"classifieds-catalog/internal/platform/tracer"
	"classifieds-catalog/internal/query"
	"classifieds-catalog/internal/search"
	"classifieds-catalog/internal/search/elastic"
	"classifieds-catalog/internal/store"
)

func main() {
	resync := flag.Bool("resync", false, "enqueue every listing for re-projection into the search index on start")
	flag.Parse()

	// --- Configuration Loading ---
	cfg, dotenv, err := config.Load()
	if err != nil {
		// no logger yet
		zap.NewExample().Fatal("failed to load configuration", zap.Error(err))
	}
	log := logger.New(cfg.AppEnv, cfg.LogLevel)
	defer func() { _ = log.Sync() }()
	if !dotenv {
		log.Info(".env file not found, relying on system environment")
	}
	log.Info("starting service", zap.String("service", cfg.ServiceName), zap.String("env", cfg.AppEnv))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := tracer.Init(ctx, cfg.ServiceName, cfg.Tracing.Endpoint)
	if err != nil {
		log.Fatal("failed to initialize tracer", zap.Error(err))
	}

	m := metrics.NewMetricsManager(cfg.Metrics.Namespace)

	// --- Database Connection ---
	db, err := sql.Open("postgres", cfg.Postgres.DSN())
	if err != nil {
		log.Fatal("failed to initialize database connection", zap.Error(err))
	}
	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Postgres.ConnMaxLifetime)

	pingCtx, cancelPing := context.WithTimeout(ctx, 10*time.Second)
	err = db.PingContext(pingCtx)
	cancelPing()
	if err != nil {
		log.Fatal("failed to ping database", zap.Error(err))
	}
	dbStore := store.NewPostgresStore(db)
	if cfg.Postgres.Migrate {
		if err := dbStore.Migrate(ctx); err != nil {
			log.Fatal("failed to apply schema", zap.Error(err))
		}
		log.Info("database schema is up to date")
	}

	// --- Search Index ---
	index, err := newSearchIndex(cfg.Search, log)
	if err != nil {
		log.Fatal("failed to create search client", zap.Error(err))
	}
	schemaCtx, cancelSchema := context.WithTimeout(ctx, 30*time.Second)
	err = index.EnsureSchema(schemaCtx)
	cancelSchema()
	if err != nil {
		log.Fatal("failed to ensure search index schema", zap.Error(err))
	}

	// --- Cache ---
	var listingCache cache.Cache = cache.Noop{}
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			// the cache is optional; a dead redis only costs latency
			log.Warn("redis ping failed, continuing with cache misses", zap.Error(err))
		}
		listingCache = cache.NewRedis(redisClient, cfg.Redis.KeyPrefix, cfg.Redis.Timeout, log, m)
	}

	// --- Core Components ---
	categories := category.NewService(dbStore, log)
	listings := catalog.NewService(dbStore, listingCache, catalog.Options{
		DefaultLifetime:   cfg.Listings.DefaultLifetime,
		ActiveListingsTTL: cfg.Redis.ActiveListingsTTL,
	}, log, m)
	engine := query.NewEngine(index, dbStore, cfg.Search.Timeout, log, m)
	relay := outbox.NewRelay(dbStore, index, outbox.Options{
		BatchSize:     cfg.Outbox.BatchSize,
		PollInterval:  cfg.Outbox.PollInterval,
		RetryBase:     cfg.Outbox.RetryBase,
		MaxRetries:    cfg.Outbox.MaxRetries,
		MaxRetryDelay: cfg.Outbox.MaxRetryDelay,
		Retention:     cfg.Outbox.Retention,
	}, log, m)

	if *resync {
		if _, err := relay.Resync(ctx); err != nil {
			log.Fatal("resync failed", zap.Error(err))
		}
	}

	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		_ = relay.Run(ctx)
	}()

	// --- Scheduled Tasks ---
	scheduler := cron.New()
	_, err = scheduler.AddFunc(cfg.Listings.CleanupSchedule, func() {
		runCtx, cancel := context.WithTimeout(ctx, 10*time.Minute)
		defer cancel()
		if _, err := listings.RunCleanup(runCtx); err != nil {
			log.Error("cleanup sweep failed", zap.Error(err))
		}
		if _, err := relay.Purge(runCtx); err != nil {
			log.Error("outbox purge failed", zap.Error(err))
		}
	})
	if err != nil {
		log.Fatal("invalid cleanup schedule", zap.String("schedule", cfg.Listings.CleanupSchedule), zap.Error(err))
	}
	scheduler.Start()
	log.Info("cleanup scheduled", zap.String("schedule", cfg.Listings.CleanupSchedule))

	// --- Setup & Start HTTP Server ---
	httpRouter := chi.NewRouter()
	setupBaseMiddleware(httpRouter, log, cfg.HttpServer.RequestTimeout)
	registerHealthCheck(httpRouter, log, cfg.ServiceName, dbStore)
	api.NewHTTPHandler(categories, listings, engine, log, m).RegisterRoutes(httpRouter)

	httpServer := &http.Server{
		Addr:         ":" + cfg.HttpServer.Port,
		Handler:      httpRouter,
		ReadTimeout:  cfg.HttpServer.TimeoutRead,
		WriteTimeout: cfg.HttpServer.TimeoutWrite,
		IdleTimeout:  cfg.HttpServer.TimeoutIdle,
	}
	go func() {
		log.Info("HTTP server listening", zap.String("port", cfg.HttpServer.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server ListenAndServe error", zap.Error(err))
		}
	}()

	metricsServer := metrics.NewServer(":"+cfg.Metrics.Port, m.Registry)
	go func() {
		log.Info("metrics server listening", zap.String("port", cfg.Metrics.Port))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server error", zap.Error(err))
		}
	}()

	// --- Setup & Start gRPC Health Server ---
	grpcServer, healthServer := setupGRPCServer(log)
	grpcListener, err := net.Listen("tcp", ":"+cfg.GrpcServer.Port)
	if err != nil {
		log.Fatal("failed to listen for gRPC", zap.String("port", cfg.GrpcServer.Port), zap.Error(err))
	}
	go func() {
		log.Info("gRPC server listening", zap.String("port", cfg.GrpcServer.Port))
		if err := grpcServer.Serve(grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Fatal("gRPC server Serve error", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	<-ctx.Done()
	log.Info("shutdown signal received, starting graceful shutdown")
	healthServer.Shutdown()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	stoppedGrpc := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stoppedGrpc)
	}()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP server graceful shutdown failed", zap.Error(err))
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("metrics server shutdown failed", zap.Error(err))
	}

	select {
	case <-stoppedGrpc:
	case <-shutdownCtx.Done():
		log.Warn("gRPC graceful stop timed out, forcing stop")
		grpcServer.Stop()
	}

	select {
	case <-scheduler.Stop().Done():
	case <-shutdownCtx.Done():
		log.Warn("scheduled task still running at shutdown")
	}
	<-relayDone

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			log.Warn("error closing redis client", zap.Error(err))
		}
	}
	if err := dbStore.Close(); err != nil {
		log.Warn("error closing database connection", zap.Error(err))
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Warn("tracer shutdown failed", zap.Error(err))
	}
	log.Info("graceful shutdown completed")
}

func newSearchIndex(cfg config.SearchConfig, log *zap.Logger) (search.Index, error) {
	if cfg.Backend == config.SearchBackendMemory {
		log.Warn("using in-memory search index; documents do not survive a restart")
		return search.NewMemoryIndex(), nil
	}
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, err
	}
	return elastic.New(client, elastic.Config{Index: cfg.Index}, log), nil
}

func setupBaseMiddleware(router *chi.Mux, log *zap.Logger, timeout time.Duration) {
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLogger(log))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(timeout))
}

// requestLogger logs one line per request with zap.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	log = log.Named("access")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}

func registerHealthCheck(router *chi.Mux, log *zap.Logger, serviceName string, db *store.PostgresStore) {
	router.Get("/api/v1/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		dbStatus := "healthy"
		if err := db.Ping(ctx); err != nil {
			dbStatus = "unhealthy"
			log.Warn("health check DB ping failed", zap.Error(err))
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":      "healthy",
			"serviceName": serviceName,
			"timestamp":   time.Now().UTC().Format(time.RFC3339),
			"database":    dbStatus,
		})
	})
}

func setupGRPCServer(log *zap.Logger) (*grpc.Server, *health.Server) {
	s := grpc.NewServer()

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	grpc_health_v1.RegisterHealthServer(s, healthServer)

	// for grpcurl
	reflection.Register(s)
	log.Info("gRPC health and reflection services registered")
	return s, healthServer
}
