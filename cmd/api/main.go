package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/clinic-webhooks/cmd/mainconfig"
	"github.com/wolfman30/clinic-webhooks/internal/api/router"
	"github.com/wolfman30/clinic-webhooks/internal/app/bootstrap"
	"github.com/wolfman30/clinic-webhooks/internal/archive"
	appconfig "github.com/wolfman30/clinic-webhooks/internal/config"
	"github.com/wolfman30/clinic-webhooks/internal/events"
	"github.com/wolfman30/clinic-webhooks/internal/notify"
	"github.com/wolfman30/clinic-webhooks/internal/observability/metrics"
	"github.com/wolfman30/clinic-webhooks/internal/webhooks"
	"github.com/wolfman30/clinic-webhooks/pkg/logging"
)

func main() {
	// .env is optional; real deployments inject the environment.
	_ = godotenv.Load()

	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting clinic-webhooks API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool := bootstrap.ConnectPostgresPool(ctx, cfg.DatabaseURL, logger)
	if pool == nil {
		logger.Error("postgres is required for webhook ingestion")
		os.Exit(1)
	}
	defer pool.Close()

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	metricsHandler, webhookMetrics := setupMetrics()

	outbox := events.NewOutboxStore(pool)
	processed := events.NewProcessedStore(pool)
	dispatcher := bootstrap.NewRouter(bootstrap.BuildPipeline(pool, outbox, logger), webhookMetrics, logger)

	gateway := webhooks.NewGateway(
		webhooks.GatewayConfig{
			SignatureHeader: cfg.WebhookSignatureHeader,
			ResponseBudget:  cfg.WebhookResponseBudget,
			HandlerTimeout:  cfg.WebhookHandlerTimeout,
			MaxBodyBytes:    cfg.WebhookMaxBodyBytes,
		},
		bootstrap.BuildSecretResolver(pool, redisClient, cfg, logger),
		processed,
		dispatcher,
		setupArchiver(awsCfg, cfg, logger),
		webhookMetrics,
		logger,
	)

	replayer := webhooks.NewReplayer(processed, dispatcher, webhookMetrics, logger).
		WithInterval(cfg.WebhookReplayInterval).
		WithBatchSize(int32(cfg.WebhookReplayBatch)).
		WithMaxAttempts(cfg.WebhookReplayMaxAttempts).
		WithHandlerTimeout(cfg.WebhookHandlerTimeout)
	go replayer.Start(ctx)

	deliverer := events.NewDeliverer(outbox, setupNotificationPublisher(awsCfg, cfg, logger), logger).
		WithInterval(cfg.OutboxPollInterval)
	go deliverer.Start(ctx)

	if cfg.AdminJWTSecret == "" {
		logger.Warn("ADMIN_JWT_SECRET not set; admin replay endpoint disabled")
	}
	r := router.New(&router.Config{
		Logger:          logger,
		Webhooks:        gateway.Handle,
		AdminReplay:     webhooks.NewAdminHandler(replayer, logger).Replay,
		AdminAuthSecret: cfg.AdminJWTSecret,
		MetricsHandler:  metricsHandler,
		DB:              pool,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	// Dispatches that outlived their request still record an outcome.
	if err := gateway.Wait(shutdownCtx); err != nil {
		logger.Warn("in-flight dispatches did not finish before shutdown", "error", err)
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

func setupMetrics() (http.Handler, *metrics.WebhookMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), metrics.NewWebhookMetrics(reg)
}

func setupArchiver(awsCfg aws.Config, cfg *appconfig.Config, logger *logging.Logger) *archive.PayloadArchiver {
	if cfg.PayloadArchiveBucket == "" {
		logger.Info("payload archive disabled")
		return archive.NewPayloadArchiver(nil, "", logger)
	}
	return archive.NewPayloadArchiver(mainconfig.NewS3Client(awsCfg, cfg), cfg.PayloadArchiveBucket, logger)
}

func setupNotificationPublisher(awsCfg aws.Config, cfg *appconfig.Config, logger *logging.Logger) events.DeliveryHandler {
	if cfg.NotificationQueueURL == "" {
		logger.Warn("NOTIFICATION_QUEUE_URL not set; notifications will only be logged")
		return notify.NewLogPublisher(logger)
	}
	return notify.NewSQSPublisher(sqs.NewFromConfig(awsCfg), cfg.NotificationQueueURL, logger)
}
