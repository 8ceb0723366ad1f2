package main

import (
	"context"
	"database/sql"
	"fire-detection-backend/cmd"
	"fire-detection-backend/internal/api"
	"fire-detection-backend/internal/config"
	"fire-detection-backend/internal/core"
	"fire-detection-backend/internal/database"
	"fire-detection-backend/internal/metrics"
	"fire-detection-backend/internal/pipeline"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

func main() {
	log.Println("Starting API Server...")

	cmd.LoadEnvFile()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("error loading config: %v", err)
	}

	cmd.InitLogger(cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()

	m, err := metrics.New()
	if err != nil {
		log.Fatalf("Failed to initialize metrics: %v", err)
	}

	db, closeDB, err := database.NewDatabase(ctx, cmd.DatabaseConfig(cfg.Database))
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer closeDB()

	gateway := database.NewGateway(db, cfg.Database.AcquireTimeout, database.WithRecordCache(cfg.Database.ResultCacheTTL))
	if err := m.RegisterPoolStats(func() sql.DBStats {
		stats, _ := gateway.Stats()
		return stats
	}); err != nil {
		log.Fatalf("Failed to register pool metrics: %v", err)
	}

	files, err := cmd.NewFileStore(ctx, cfg.Storage)
	if err != nil {
		log.Fatalf("Failed to initialize file storage: %v", err)
	}

	loaders, err := cmd.NewModelLoaders(cfg.Models)
	if err != nil {
		log.Fatalf("Failed to configure models: %v", err)
	}

	registry := core.NewRegistry(loaders,
		core.WithConcurrentInference(cfg.Models.ConcurrentInference),
		core.WithLoadObserver(func(kind core.ModelKind, elapsed time.Duration, err error) {
			m.ObserveModelLoad(kind.WireName(), elapsed, err)
		}),
	)
	defer registry.Close()

	// Warm both models up front. A failure here only degrades that model kind.
	for _, kind := range registry.Kinds() {
		if !registry.EnsureLoaded(kind) {
			slog.Warn("model unavailable at startup", "kind", kind)
		}
	}

	opts := []pipeline.Option{pipeline.WithMetrics(m)}

	publisher, err := cmd.NewPublisher(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Failed to initialize event publisher: %v", err)
	}
	if publisher != nil {
		defer publisher.Close()
		opts = append(opts, pipeline.WithPublisher(publisher))
	}

	orchestrator := pipeline.NewOrchestrator(
		registry,
		cmd.NewRenderer(cfg.Models),
		gateway,
		files,
		pipeline.Config{UploadFolder: cfg.Storage.UploadFolder, ProcessedFolder: cfg.Storage.ProcessedFolder},
		opts...,
	)

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	apiHandler := api.NewBackendService(orchestrator, registry, m, cfg.MaxUploadBytes())
	apiHandler.AddRoutes(r)

	server := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("Shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}
	}()

	log.Printf("API server listening on port %s", cfg.APIPort)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %s: %v\n", cfg.APIPort, err)
	}

	log.Println("Server stopped.")
}
