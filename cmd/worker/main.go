package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/nikhilbhutani/indicstt/internal/cache"
	"github.com/nikhilbhutani/indicstt/internal/config"
	"github.com/nikhilbhutani/indicstt/internal/database"
	"github.com/nikhilbhutani/indicstt/internal/history"
	"github.com/nikhilbhutani/indicstt/internal/jobs"
	"github.com/nikhilbhutani/indicstt/internal/logging"
	"github.com/nikhilbhutani/indicstt/internal/queue"
	"github.com/nikhilbhutani/indicstt/internal/queue/workers"
	"github.com/nikhilbhutani/indicstt/internal/storage"
	"github.com/nikhilbhutani/indicstt/internal/stt"
	"github.com/nikhilbhutani/indicstt/internal/transcription"
	"github.com/nikhilbhutani/indicstt/internal/webhook"
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

	ctx := context.Background()

	// Jobs live in Postgres, so the worker cannot run without it.
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		slog.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	store, err := storage.New(cfg.Storage)
	if err != nil {
		slog.Error("storage unavailable", "error", err)
		os.Exit(1)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	engine := stt.NewEngine(stt.EngineOptions{
		SampleRate:    cfg.Audio.SampleRate,
		MaxConcurrent: cfg.STT.MaxConcurrent,
		Timeout:       cfg.STT.InferenceTimeout,
	}, stt.DefaultLoaders(cfg.STT)...)
	if err := engine.Load(ctx); err != nil {
		slog.Error("failed to load speech model", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	svc := transcription.NewService(cfg, transcription.Deps{
		Engine:  engine,
		Cache:   cache.NewCache(rdb, cfg.Redis.CacheTTL),
		History: history.NewStore(db),
	})

	dispatcher := webhook.NewDispatcher(cfg.Webhook.Secret, webhook.NewPGRecorder(db))
	defer dispatcher.Close()

	worker := workers.NewTranscriptionWorker(jobs.NewStore(db), svc, store, cfg.Storage.Bucket, dispatcher)

	concurrency := max(1, cfg.STT.MaxConcurrent)
	srv := asynq.NewServer(
		queue.RedisOpt(cfg.Redis),
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				"default": 1,
			},
		},
	)

	registry := queue.NewHandlersRegistry()
	registry.Register(queue.TypeTranscriptionRun, asynq.HandlerFunc(worker.ProcessTask))

	slog.Info("starting worker", "concurrency", concurrency, "model_type", engine.ModelType())
	if err := srv.Run(registry.Mux()); err != nil {
		slog.Error("worker error", "error", err)
		os.Exit(1)
	}
}
