package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"task-assistant/internal/ai"
	"task-assistant/internal/api"
	"task-assistant/internal/bot"
	"task-assistant/internal/config"
	"task-assistant/internal/repository"
	"task-assistant/internal/service"
	"task-assistant/internal/storage"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("task assistant stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	db, err := repository.NewDB(cfg.DatabaseDriver, cfg.DatabaseURL, logger)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}

	taskRepo := repository.NewTaskRepository(db)
	attachmentRepo := repository.NewAttachmentRepository(db)
	subscriberRepo := repository.NewSubscriberRepository(db)

	if cfg.AI.APIKey == "" {
		logger.Warn("no AI API key configured, task generation will fail")
	}
	completer := ai.NewClient(ai.Config{
		APIKey:  cfg.AI.APIKey,
		BaseURL: cfg.AI.BaseURL,
		Model:   cfg.AI.Model,
		Timeout: cfg.AITimeout(),
	})

	taskSvc := service.NewTaskService(taskRepo, store, logger)
	attachmentSvc := service.NewAttachmentService(attachmentRepo, store, cfg.MaxUploadBytes(), logger)
	ingestionSvc := service.NewIngestionService(completer, taskSvc, logger)
	summarySvc := service.NewSummaryService(taskRepo)
	sweeper := service.NewSweeper(attachmentRepo, store, cfg.OrphanGrace(), logger)

	scheduler := service.NewSchedulerService(time.Local, logger)
	if interval := cfg.SweepInterval(); interval > 0 {
		if _, err := scheduler.ScheduleInterval("orphan-sweep", interval, 10*time.Minute, sweeper.Run); err != nil {
			return err
		}
	}

	errCh := make(chan error, 2)

	if cfg.Telegram.Token != "" {
		telegramBot, err := bot.New(cfg.Telegram.Token, taskSvc, ingestionSvc, summarySvc, subscriberRepo, logger)
		if err != nil {
			return err
		}
		if cfg.Telegram.SummaryTime != "" {
			if _, err := scheduler.ScheduleDaily("summary", cfg.Telegram.SummaryTime, 30*time.Second, telegramBot.SendSummaries); err != nil {
				return err
			}
		}
		go func() {
			if err := telegramBot.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- err
			}
		}()
	}

	scheduler.Start()
	defer scheduler.Stop()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.New(taskSvc, attachmentSvc, ingestionSvc, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("http server listening", "addr", cfg.HTTPAddr, "storage", cfg.Storage.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg config.Config) (storage.ContentStore, error) {
	if cfg.Storage.Backend == config.BackendS3 {
		return storage.NewS3Store(ctx, storage.S3Config{
			Bucket:   cfg.Storage.S3Bucket,
			Region:   cfg.Storage.S3Region,
			Endpoint: cfg.Storage.S3Endpoint,
			Prefix:   cfg.Storage.S3Prefix,
		})
	}
	return storage.NewFSStore(cfg.Storage.UploadDir)
}
