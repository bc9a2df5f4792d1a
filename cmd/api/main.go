package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/nikhilbhutani/indicstt/internal/api"
	"github.com/nikhilbhutani/indicstt/internal/api/handlers"
	"github.com/nikhilbhutani/indicstt/internal/cache"
	"github.com/nikhilbhutani/indicstt/internal/config"
	"github.com/nikhilbhutani/indicstt/internal/database"
	"github.com/nikhilbhutani/indicstt/internal/history"
	"github.com/nikhilbhutani/indicstt/internal/jobs"
	"github.com/nikhilbhutani/indicstt/internal/logging"
	"github.com/nikhilbhutani/indicstt/internal/metrics"
	"github.com/nikhilbhutani/indicstt/internal/queue"
	"github.com/nikhilbhutani/indicstt/internal/storage"
	"github.com/nikhilbhutani/indicstt/internal/stt"
	"github.com/nikhilbhutani/indicstt/internal/transcription"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logging.New(os.Stdout, cfg.Log))

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	deps := api.Deps{Metrics: m, Checks: map[string]handlers.Pinger{}}
	svcDeps := transcription.Deps{Metrics: m}

	// Database connection (optional)
	var db *pgxpool.Pool
	if cfg.Database.URL == "" {
		slog.Warn("DATABASE_URL not set, history and jobs disabled")
	} else if db, err = database.Open(ctx, cfg.Database); err != nil {
		slog.Warn("database unavailable, running without DB", "error", err)
		db = nil
	} else {
		defer db.Close()
		hist := history.NewStore(db)
		svcDeps.History = hist
		deps.History = hist
		deps.Checks["database"] = db
	}

	// Redis connection (optional)
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	redisUp := rdb.Ping(ctx).Err() == nil
	if redisUp {
		c := cache.NewCache(rdb, cfg.Redis.CacheTTL)
		svcDeps.Cache = c
		deps.Checks["redis"] = c
	} else {
		slog.Warn("redis unavailable, running without cache or job queue", "addr", cfg.Redis.Addr)
	}

	if db != nil && redisUp {
		store, err := storage.New(cfg.Storage)
		if err != nil {
			slog.Warn("storage unavailable, async jobs disabled", "error", err)
		} else {
			qc := queue.NewClient(cfg.Redis)
			defer qc.Close()
			deps.Jobs = jobs.NewStore(db)
			deps.Storage = store
			deps.Queue = qc
		}
	}

	engine := stt.NewEngine(stt.EngineOptions{
		SampleRate:    cfg.Audio.SampleRate,
		MaxConcurrent: cfg.STT.MaxConcurrent,
		Timeout:       cfg.STT.InferenceTimeout,
	}, stt.DefaultLoaders(cfg.STT)...)
	defer engine.Close()
	svcDeps.Engine = engine

	// The API serves status endpoints while the model loads; transcription
	// answers 503 until then.
	go func() {
		slog.Info("loading speech model", "model_dir", cfg.STT.ModelDir, "onnx_enabled", cfg.STT.ONNXEnabled)
		if err := engine.Load(ctx); err != nil {
			slog.Error("failed to initialize speech model, running in limited mode", "error", err)
			return
		}
		slog.Info("service ready", "model_type", engine.ModelType())
	}()

	deps.Service = transcription.NewService(cfg, svcDeps)
	router := api.NewRouter(cfg, deps)
	defer router.Close()

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router.Setup(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: cfg.STT.InferenceTimeout + 60*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("starting API server", "addr", cfg.Addr(), "auth_enabled", cfg.Auth.Enabled())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced shutdown", "error", err)
	}
	slog.Info("server stopped")
}
