package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"

	"coldrelay/config"
	"coldrelay/routes"
	"coldrelay/utils"
	"coldrelay/worker"
)

func main() {
	logger := utils.Logger()

	if err := config.LoadConfig(); err != nil {
		logger.Fatalf("failed to load configuration: %v", err)
	}

	if config.AppConfig.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:         config.AppConfig.SentryDSN,
			Environment: config.AppConfig.Environment,
		})
		if err != nil {
			logger.Fatalf("failed to initialize sentry: %v", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	if err := config.ConnectDB(); err != nil {
		logger.Fatalf("failed to connect to database: %v", err)
	}
	db := config.DB

	var rdb *redis.Client
	if config.AppConfig.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     config.AppConfig.Redis.Address,
			Password: config.AppConfig.Redis.Password,
			DB:       config.AppConfig.Redis.DB,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			utils.LogWarn("redis unavailable, API rate limiting disabled", map[string]interface{}{
				"error": err.Error(),
			})
			rdb = nil
		}
	}

	// engine wiring: one transport, one limiter, one dispatcher shared
	// by the workers
	transport := utils.NewSMTPTransport()
	limiter := utils.NewQuotaLimiter(db)
	scorer := utils.NewWeightedScorer(db)
	classifier := utils.NewClassifier(db)
	dispatcher := utils.NewDispatcher(db, transport, limiter,
		config.AppConfig.MinReputation, config.AppConfig.TrackingBaseURL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go worker.NewCampaignWorker(db, dispatcher, config.AppConfig.CampaignTickInterval).Start(ctx)
	go worker.NewWarmupWorker(db, dispatcher, scorer, config.AppConfig.WarmupTickInterval).Start(ctx)
	go worker.NewInboxWorker(db, transport, classifier, dispatcher, config.AppConfig.InboxSyncInterval).Start(ctx)
	go worker.NewResetWorker(db).Start(ctx)

	app := fiber.New(fiber.Config{
		AppName: "coldrelay",
	})
	routes.Setup(app, db, rdb, transport, scorer)

	// graceful shutdown: stop workers first so in-flight sends finish,
	// then drain HTTP
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-shutdown
		logger.Info("shutting down")
		cancel()
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			logger.Errorf("shutdown error: %v", err)
		}
	}()

	logger.Infof("server starting on port %s", config.AppConfig.ServerPort)
	if err := app.Listen(":" + config.AppConfig.ServerPort); err != nil {
		logger.Fatalf("failed to start server: %v", err)
	}
}
