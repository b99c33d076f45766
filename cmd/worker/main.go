package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/robfig/cron/v3"

	"github.com/split-labs/split/internal/config"
	"github.com/split-labs/split/internal/store"
	"github.com/split-labs/split/internal/telemetry"
	"github.com/split-labs/split/internal/visibility"
	workerproc "github.com/split-labs/split/internal/worker"
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

	workerID := os.Getenv("WORKER_ID")
	if workerID == "" {
		hostname, _ := os.Hostname()
		if hostname != "" {
			workerID = hostname
		} else {
			workerID = fmt.Sprintf("worker-%d", os.Getpid())
		}
	}

	processor := workerproc.New(cfg, st, engine, workerID, logger)

	// Scheduled reclaim of rows whose worker died mid-analysis. The cron
	// maintenance endpoint covers the same ground on demand.
	sched := cron.New()
	if _, err := sched.AddFunc(cfg.ReclaimSchedule, func() {
		if _, err := processor.Reclaim(ctx); err != nil {
			logger.Error("scheduled reclaim failed", "error", err)
		}
	}); err != nil {
		logger.Error("parse reclaim schedule", "schedule", cfg.ReclaimSchedule, "error", err)
		os.Exit(1)
	}
	sched.Start()
	defer sched.Stop()

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			logger.Error("metrics server stopped", "error", err)
		}
	}()

	logger.Info("worker started",
		"worker_id", workerID,
		"poll_interval", cfg.WorkerPollInterval,
		"reclaim_after", cfg.ReclaimAfter,
		"reclaim_schedule", cfg.ReclaimSchedule)
	if err := processor.Run(ctx); err != nil {
		logger.Error("worker stopped", "error", err)
	}
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
