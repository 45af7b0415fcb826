package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ispring-backend/internal/config"
	"ispring-backend/internal/database"
	"ispring-backend/internal/handlers"
	"ispring-backend/internal/lock"
	"ispring-backend/internal/logger"
	"ispring-backend/internal/metrics"
	"ispring-backend/internal/middleware"
	"ispring-backend/internal/repository"
	"ispring-backend/internal/router"
	"ispring-backend/internal/services"
	"ispring-backend/internal/storage"
	"ispring-backend/internal/websocket"
	"ispring-backend/internal/worker"
)

func main() {
	// ──── Step 1: Load Environment Variables ────
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	log.Info("Starting iSpring content backend", "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ──── Step 2: Initialize PostgreSQL Connection Pool ────
	pool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("PostgreSQL connection failed", "error", err)
	}
	defer pool.Close()
	log.Info("PostgreSQL connected")

	// ──── Step 3: Initialize Redis Clients ────
	redisClients, err := database.NewRedisClients(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatal("Redis connection failed", "error", err)
	}
	defer redisClients.Close()
	log.Info("Redis connected")

	// ──── Step 4: Run Database Migrations ────
	if err := database.RunMigrations(ctx, pool, cfg.MigrationsDir, log); err != nil {
		log.Fatal("Database migration failed", "error", err)
	}

	// ──── Step 5: Storage and Locks ────
	var store storage.Storage
	switch cfg.StorageType {
	case "minio":
		store, err = storage.NewMinIO(ctx, storage.MinIOConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
	default:
		store, err = storage.NewLocal(cfg.StoragePath)
	}
	if err != nil {
		log.Fatal("Storage initialization failed", "type", cfg.StorageType, "error", err)
	}
	packages := storage.NewPackages(store, 0)
	log.Info("Storage ready", "type", cfg.StorageType)

	var locker lock.Locker
	if cfg.LockBackend == "local" {
		locker = lock.NewLocal()
	} else {
		locker = lock.NewRedis(redisClients.Locks)
	}

	m := metrics.New()

	// ──── Initialize Repositories ────
	moduleRepo := repository.NewModuleRepo(pool)
	contentRepo := repository.NewContentRepo(pool)
	sessionRepo := repository.NewSessionRepo(pool)
	gradebookRepo := repository.NewGradebookRepo(pool)

	// ──── Initialize Services ────
	jwtAuth := middleware.NewJWTAuth(cfg.JWTSecret)
	wsHub := websocket.NewHub(redisClients.PubSub, jwtAuth, cfg.FrontendURL, log, m)

	moduleService := services.NewModuleService(moduleRepo, log)
	contentService := services.NewContentService(contentRepo, moduleRepo, packages, locker,
		database.NewTxScope(pool), log, m, cfg.SessionLockTimeout)
	sessionService := services.NewSessionService(sessionRepo, contentRepo, locker,
		services.SystemClock{}, log, m, cfg.SessionLockTimeout)
	gradingService := services.NewGradingService(sessionRepo, contentRepo, moduleRepo)
	requirementsService := services.NewRequirementsService(sessionRepo, contentRepo, moduleRepo)
	completionService := services.NewCompletionService(gradingService, gradebookRepo, wsHub, log)

	// ──── Step 6: Start Completion Worker Pool ────
	workerPool := worker.NewPool(redisClients.Queue, sessionRepo, completionService, log,
		cfg.CompletionWorkers, cfg.CompletionMaxRetries)
	workerPool.Start()

	// ──── Initialize Handlers ────
	sessionHandler := handlers.NewSessionHandler(sessionService, worker.NewQueue(redisClients.Queue), log)
	contentHandler := handlers.NewContentHandler(contentService, packages, cfg.MaxPackageSizeBytes(), log)
	moduleHandler := handlers.NewModuleHandler(moduleService, gradingService, requirementsService, log)

	// ──── Step 7: Start HTTP Server ────
	r := router.New(ctx, router.Deps{
		JWTAuth:        jwtAuth,
		Sessions:       sessionHandler,
		Contents:       contentHandler,
		Modules:        moduleHandler,
		Hub:            wsHub,
		Metrics:        m,
		Log:            log,
		FrontendURL:    cfg.FrontendURL,
		RateLimitPerIP: cfg.RateLimitPerMinute,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		log.Info("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP shutdown failed", "error", err)
		}
		workerPool.Stop()
	}()

	log.Info("Backend ready", "addr", server.Addr, "api", "/api/v1", "ws", "/api/v1/ws")

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal("Server error", "error", err)
	}
	<-stopped
	log.Info("Shutdown complete")
}
