package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/split-labs/split/internal/api"
	"github.com/split-labs/split/internal/cache"
	"github.com/split-labs/split/internal/config"
	"github.com/split-labs/split/internal/ratelimit"
	"github.com/split-labs/split/internal/store"
	"github.com/split-labs/split/internal/visibility"
	"github.com/split-labs/split/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Error("connect postgres", "error", err)
		os.Exit(1)
	}
	defer st.Close()
	if err := st.EnsureSchema(ctx); err != nil {
		logger.Error("ensure schema", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()
	limiter := ratelimit.NewTokenBucket(redisClient, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)
	visitCache := cache.NewRedis(redisClient, "split")

	// The process-snapshot endpoint drains the queue inline, so the API
	// binary carries the same analysis pipeline as the worker.
	archiver, err := visibility.NewArchiver(ctx, cfg)
	if err != nil {
		logger.Error("init screenshot archiver", "error", err)
		os.Exit(1)
	}
	engine := visibility.NewEngine(
		visibility.NewCrawlClient(cfg.CrawlAPIBase, cfg.CrawlAPIKey, cfg.CrawlTimeout),
		visibility.NewAnswerClient(cfg.AnswerAPIBase, cfg.AnswerAPIKey, cfg.CrawlTimeout),
		archiver,
		logger,
	)
	drainer := worker.New(cfg, st, engine, workerID(), logger)

	server := api.New(cfg, st, drainer, limiter, visitCache, logger)
	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server.Router(),
	}

	logger.Info("api listening", "addr", cfg.ListenAddr, "env", cfg.AppEnv)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listen", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
	logger.Info("api stopped")
}

func workerID() string {
	if id := os.Getenv("WORKER_ID"); id != "" {
		return id
	}
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "api"
	}
	return hostname + "-inline"
}

func newLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "text") || cfg.IsDev() {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
