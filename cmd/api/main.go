package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/theramatch/booking-platform/cmd/mainconfig"
	"github.com/theramatch/booking-platform/internal/acuity"
	"github.com/theramatch/booking-platform/internal/alerting"
	"github.com/theramatch/booking-platform/internal/api/router"
	"github.com/theramatch/booking-platform/internal/app/bootstrap"
	"github.com/theramatch/booking-platform/internal/availability"
	appconfig "github.com/theramatch/booking-platform/internal/config"
	"github.com/theramatch/booking-platform/internal/directory"
	"github.com/theramatch/booking-platform/internal/events"
	"github.com/theramatch/booking-platform/internal/http/handlers"
	"github.com/theramatch/booking-platform/internal/ledger"
	"github.com/theramatch/booking-platform/internal/notify"
	"github.com/theramatch/booking-platform/internal/observability/metrics"
	"github.com/theramatch/booking-platform/internal/reservation"
	"github.com/theramatch/booking-platform/internal/webhook"
	"github.com/theramatch/booking-platform/pkg/logging"
)

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting booking-platform API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx := context.Background()

	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to create pgx pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		logger.Error("database not reachable", "error", err)
		os.Exit(1)
	}
	// database/sql view over the same pool for the directory store.
	sqlDB := stdlib.OpenDBFromPool(pool)
	defer func() { _ = sqlDB.Close() }()

	registry := prometheus.NewRegistry()
	bookingMetrics := metrics.NewBookingMetrics(registry)

	dir := directory.NewStore(sqlDB)
	acuityClient := acuity.NewClient(cfg.AcuityUserID, cfg.AcuityAPIKey, cfg.AcuityBaseURL, logger)

	availService := availability.NewService(availability.NewRepository(pool), acuityClient, dir, logger).
		WithTTL(cfg.AvailabilityTTL).
		WithDailyCap(cfg.AvailabilityDailyCap).
		WithMetrics(bookingMetrics)
	if cfg.AcuityIntroTypeID != "" && cfg.AcuityFullSessionTypeID != "" {
		availService.WithKinds(map[string]string{
			availability.KindIntro:       cfg.AcuityIntroTypeID,
			availability.KindFullSession: cfg.AcuityFullSessionTypeID,
		})
	}

	eventLog := events.NewLog(pool)
	tracker := alerting.NewTracker(eventLog, logger).
		WithWindow(cfg.FailureWindow).
		WithThreshold(cfg.FailureAlertThreshold).
		WithMetrics(bookingMetrics)

	ledgerRepo := ledger.NewRepository(pool)
	ledgerService := ledger.NewService(ledgerRepo, dir, logger).
		WithCacheInvalidator(availService).
		WithFailureTracker(tracker).
		WithEventLog(eventLog)

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	sender := buildEmailSender(cfg, awsCfg, logger)
	dispatcher := notify.NewDispatcher(ledgerRepo, dir, sender, logger).
		WithSinkEmail(cfg.TestSinkEmail).
		WithMetrics(bookingMetrics)

	// Confirmation dispatch: SQS with a separate worker binary in production,
	// an in-process queue and worker for local development.
	var inlineWorker *notify.Worker
	if cfg.UseMemoryQueue {
		queue := notify.NewMemoryQueue(64)
		ledgerService.WithNotifications(notify.NewPublisher(queue, logger))
		inlineWorker = notify.NewWorker(queue, dispatcher, logger).WithWorkerCount(cfg.WorkerCount)
	} else if cfg.NotifyQueueURL != "" {
		queue := notify.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.NotifyQueueURL)
		ledgerService.WithNotifications(notify.NewPublisher(queue, logger))
	} else {
		logger.Warn("no notification queue configured; confirmations disabled")
	}

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	dedupeGuard := webhook.NewDedupeGuard(redisClient, cfg.WebhookDedupeTTL, logger)

	webhookHandler := webhook.NewHandler(cfg.AcuityWebhookSecret, ledgerService, logger).
		WithDedupeGuard(dedupeGuard).
		WithMetrics(bookingMetrics)

	coordinator := reservation.NewCoordinator(acuityClient, availService, ledgerService, dir, logger).
		WithTimeout(cfg.ProviderTimeout).
		WithEventLog(eventLog).
		WithMetrics(bookingMetrics)

	r := router.New(&router.Config{
		Logger:              logger,
		WebhookHandler:      webhookHandler,
		AvailabilityHandler: handlers.NewAvailabilityHandler(availService, logger),
		ReservationsHandler: handlers.NewReservationsHandler(coordinator, logger),
		MetricsHandler:      promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		CORSAllowedOrigins:  cfg.CORSAllowedOrigins,
		APIRateLimit:        cfg.APIRateLimit,
		APIRateBurst:        cfg.APIRateBurst,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()
	if inlineWorker != nil {
		inlineWorker.Start(workerCtx)
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	if inlineWorker != nil {
		stopWorker()
		inlineWorker.Wait()
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}

	logger.Info("server stopped")
}

// buildEmailSender picks the configured provider, falling back to the stub so
// local runs never hard-require email credentials.
func buildEmailSender(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) notify.EmailSender {
	switch cfg.EmailProvider {
	case "ses":
		if sender := notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
			FromEmail: cfg.SESFromEmail,
			FromName:  cfg.SESFromName,
		}, logger); sender != nil {
			return sender
		}
	case "sendgrid":
		if sender := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger); sender != nil {
			return sender
		}
	}
	logger.Warn("email provider not configured; using stub sender", "provider", cfg.EmailProvider)
	return notify.NewStubEmailSender(logger)
}
