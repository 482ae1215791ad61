package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/godata/exporter/internal/api/handlers"
	apimw "github.com/godata/exporter/internal/api/middleware"
	"github.com/godata/exporter/internal/api/routes"
	"github.com/godata/exporter/internal/config"
	"github.com/godata/exporter/internal/db"
	"github.com/godata/exporter/internal/docstore/pgstore"
	"github.com/godata/exporter/internal/export"
	"github.com/godata/exporter/internal/kms"
	"github.com/godata/exporter/internal/storage"
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

	// 3. Init Storage (for artifact download)
	store, err := storage.Open(ctx, cfg.Storage, cfg.S3)
	if err != nil {
		log.Fatal("failed to init storage", zap.String("backend", cfg.Storage.Backend), zap.Error(err))
	}

	// 4. Init Queue client
	queueClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer queueClient.Close()

	// 5. Request validation shares the worker's engine configuration
	planner := export.NewEngine(pgstore.New(database.Pool), database.ExportJobs, nil, cfg.Export.Engine(), log)

	// 6. Init Echo
	e := echo.New()
	e.HideBanner = true

	// Global middleware
	e.Use(apimw.RequestID())
	e.Use(apimw.SecurityHeaders())
	e.Use(apimw.RequestLogger(log))
	e.Use(apimw.Prometheus())
	e.Use(echomw.Recover())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderAuthorization, echo.HeaderContentType, echo.HeaderAccept},
		MaxAge:       3600,
	}))
	e.Use(echomw.BodyLimit("10M"))
	e.Use(apimw.RateLimit(apimw.RatePolicy{Rate: cfg.App.RateLimit, Burst: cfg.App.RateBurst}, apimw.PerClient))

	if cfg.JWT.Secret == "" {
		log.Fatal("JWT secret is required (EXPORTER_JWT_SECRET)")
	}

	// 7. Register Routes
	h := handlers.NewHandlers(database.ExportJobs, planner, kmsService, queueClient, store, log, cfg.Worker.JobTimeout)
	health := handlers.Health(cfg.App.Version, map[string]handlers.Pinger{
		"postgres": database.Pool,
		"redis":    handlers.TCPPinger(cfg.Redis.Addr),
	})
	routes.Register(e, h, health, routes.Options{
		JWTSecret:   cfg.JWT.Secret,
		ServiceKeys: cfg.JWT.ServiceKeys,
		CreateLimit: apimw.RatePolicy{Rate: cfg.App.CreateRateLimit, Burst: cfg.App.CreateRateBurst},
	})

	// 8. Start Server
	go func() {
		port := strconv.Itoa(cfg.App.Port)
		if err := e.Start(":" + port); err != nil && err != http.ErrServerClosed {
			log.Error("server stopped", zap.Error(err))
		}
	}()

	// 9. Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")
	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := e.Shutdown(ctxShutdown); err != nil {
		log.Fatal("server forced to shutdown", zap.Error(err))
	}
}
