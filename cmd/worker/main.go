package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/godata/exporter/internal/config"
	"github.com/godata/exporter/internal/db"
	"github.com/godata/exporter/internal/docstore/pgstore"
	"github.com/godata/exporter/internal/export"
	"github.com/godata/exporter/internal/kms"
	"github.com/godata/exporter/internal/notifications"
	"github.com/godata/exporter/internal/queue"
	"github.com/godata/exporter/internal/storage"
	"github.com/godata/exporter/internal/worker"
	"github.com/godata/exporter/pkg/logger"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}
	log := logger.Must(cfg.App.Env, cfg.App.LogLevel)
	defer log.Sync() //nolint:errcheck

	// 1. Init DB
	database, err := db.Connect(ctx, cfg.Database)
	if err != nil {
		log.Fatal("failed to connect to db", zap.Error(err))
	}
	defer database.Close()
	if err := database.EnsureSchema(ctx); err != nil {
		log.Fatal("failed to ensure schema", zap.Error(err))
	}

	// 2. Init KMS
	if cfg.KMS.Key == "" {
		log.Fatal("KMS key is required (EXPORTER_KMS_KEY)")
	}
	kmsService, err := kms.New(cfg.KMS.Key)
	if err != nil {
		log.Fatal("failed to init kms", zap.Error(err))
	}

	// 3. Init Storage
	store, err := storage.Open(ctx, cfg.Storage, cfg.S3)
	if err != nil {
		log.Fatal("failed to init storage", zap.String("backend", cfg.Storage.Backend), zap.Error(err))
	}

	// 4. Init Queue
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	queueClient := asynq.NewClient(redisOpt)
	defer queueClient.Close()

	// 5. Init Notifier
	var notifier notifications.NotificationService = &notifications.ConsoleNotifier{Log: log}
	if cfg.Notifications.SlackWebhookURL != "" {
		notifier = notifications.NewSlackNotifier(cfg.Notifications.SlackWebhookURL).WithTimeout(cfg.Notifications.Timeout)
	}

	// 6. Init Engine and Processors
	engine := export.NewEngine(
		pgstore.New(database.Pool),
		database.ExportJobs,
		worker.NewArtifactPublisher(store, log),
		cfg.Export.Engine(),
		log,
	)
	exportProcessor := worker.NewExportProcessor(database.ExportJobs, engine, kmsService, queueClient, log, notifier)
	verifyProcessor := worker.NewArtifactVerifyProcessor(database.ExportJobs, store, log, notifier)
	expireProcessor := worker.NewArtifactExpireProcessor(database.ExportJobs, store, log)

	// 7. Start Scheduler
	scheduler := worker.NewExpireScheduler(queueClient, log, cfg.Worker.SweepInterval, cfg.Export.ArtifactRetentionDays)
	go scheduler.Run(ctx)

	// 8. Start Worker Server
	srv := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Worker.Concurrency,
			Queues: map[string]int{
				queue.QueueCritical: 6,
				queue.QueueDefault:  3,
				queue.QueueLow:      1,
			},
			Logger: log.Sugar(),
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeExportRun, exportProcessor.ProcessTask)
	mux.HandleFunc(queue.TypeArtifactVerify, verifyProcessor.ProcessTask)
	mux.HandleFunc(queue.TypeArtifactExpire, expireProcessor.ProcessTask)

	go func() {
		if err := srv.Run(mux); err != nil {
			log.Fatal("could not run server", zap.Error(err))
		}
	}()

	// 9. Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down worker")
	cancel()
	srv.Shutdown()
}
