package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"postbell/internal/api"
	"postbell/internal/config"
	"postbell/internal/db"
	"postbell/internal/dispatch"
	"postbell/internal/email"
	"postbell/internal/ledger"
	"postbell/internal/metrics"
	"postbell/internal/models"
	"postbell/internal/notify"
	"postbell/internal/queue"
	"postbell/internal/recipients"
	"postbell/internal/render"
	"postbell/internal/report"
	"postbell/internal/token"
	"postbell/internal/worker"
)

func main() {

	// ------------------------------------------------
	// Logger
	// ------------------------------------------------
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// ------------------------------------------------
	// Config
	// ------------------------------------------------
	if err := godotenv.Load(); err != nil {
		logger.Debug("no .env file loaded", zap.Error(err))
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	// ------------------------------------------------
	// Root Context + Shutdown
	// ------------------------------------------------
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// ------------------------------------------------
	// Database
	// ------------------------------------------------
	if cfg.RunMigrations {
		if err := db.RunMigrations(cfg.DatabaseURL); err != nil {
			logger.Fatal("database migration failed", zap.Error(err))
		}
		logger.Info("database migrations applied")
	}

	store, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer store.Close()

	// ------------------------------------------------
	// Metrics
	// ------------------------------------------------
	metrics.Init()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())

	metricsServer := &http.Server{
		Addr:              ":" + cfg.MetricsPort,
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("metrics server started", zap.String("port", cfg.MetricsPort))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("metrics server error", zap.Error(err))
		}
	}()

	// ------------------------------------------------
	// Email Transport (SMTP + rate limit)
	// ------------------------------------------------
	sender := &email.Sender{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		User:     cfg.SMTPUser,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		Retries:  cfg.SendRetries,
	}
	transport := email.NewRateLimited(sender, cfg.RateLimit)

	// ------------------------------------------------
	// Rendering
	// ------------------------------------------------
	codec, err := token.NewCodec(cfg.TokenSecret)
	if err != nil {
		logger.Fatal("invalid token secret", zap.Error(err))
	}

	renderer, err := render.New(cfg.SiteURL, codec)
	if err != nil {
		logger.Fatal("failed to build renderer", zap.Error(err))
	}

	// ------------------------------------------------
	// Delivery pipeline
	// ------------------------------------------------
	deliveries := ledger.New(store, logger, cfg.LedgerTimeout)

	dispatcher := dispatch.New(transport, renderer, deliveries, logger, dispatch.Config{
		BatchSize:        cfg.BatchSize,
		BatchDelay:       cfg.BatchDelay,
		SendTimeout:      cfg.SendTimeout,
		ReplyTo:          cfg.ReplyTo,
		NotificationType: models.NotificationBlogPost,
	})

	retryQueue := queue.New(store, transport, deliveries, logger, queue.Config{
		MaxAttempts:      cfg.QueueMaxAttempts,
		Limit:            cfg.SweepLimit,
		Workers:          cfg.SweepWorkers,
		SendTimeout:      cfg.SendTimeout,
		ClaimLease:       cfg.ClaimLease,
		ReplyTo:          cfg.ReplyTo,
		NotificationType: models.NotificationBlogPost,
	})

	notifier := notify.New(notify.Deps{
		Resolver:   recipients.NewResolver(store, logger),
		Dispatcher: dispatcher,
		History:    deliveries,
		Reporter:   report.NewReporter(transport, cfg.OperatorEmails, logger, cfg.SendTimeout),
		Queue:      retryQueue,
		Renderer:   renderer,
		Log:        logger,
	})

	// ------------------------------------------------
	// Retry queue sweeper
	// ------------------------------------------------
	scheduler, err := worker.NewScheduler(retryQueue, cfg.SweepSchedule, logger)
	if err != nil {
		logger.Fatal("invalid sweep schedule", zap.Error(err))
	}
	if err := scheduler.Start(ctx); err != nil {
		logger.Fatal("failed to start sweep scheduler", zap.Error(err))
	}

	// ------------------------------------------------
	// HTTP API Server
	// ------------------------------------------------
	apiHandler := &api.Handler{
		Subscribers: store,
		Tokens:      codec,
		Publisher:   notifier,
		Deliveries:  deliveries,
		Queue:       retryQueue,
		Auth:        api.NewAuthenticator(cfg.JWTSecret),
		Validate:    models.Validator(),
		Log:         logger,
		RunContext:  ctx,
	}

	apiServer := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           apiHandler.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("api server started", zap.String("port", cfg.APIPort))
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("api server error", zap.Error(err))
		}
	}()

	// ------------------------------------------------
	// Wait for shutdown
	// ------------------------------------------------
	<-ctx.Done()

	logger.Info("shutting down services...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	// Stop taking publish requests before draining background work. Runs
	// already saw ctx canceled and stop after their current batch.
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("api shutdown failed", zap.Error(err))
	}
	apiHandler.Wait()

	scheduler.Stop()
	notifier.Wait()

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics shutdown failed", zap.Error(err))
	}

	logger.Info("application shutdown complete")
}
