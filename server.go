package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"therapy-scheduling-server/internal/analysis"
	"therapy-scheduling-server/internal/config"
	"therapy-scheduling-server/internal/metrics"
	"therapy-scheduling-server/internal/middleware"
	"therapy-scheduling-server/internal/models"
	"therapy-scheduling-server/internal/report"
	"therapy-scheduling-server/internal/repository"
	"therapy-scheduling-server/internal/routes"
	"therapy-scheduling-server/internal/services"
)

const shutdownTimeout = 10 * time.Second

func runServer(parent context.Context, cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := models.InitDB(models.DatabaseConfig{Driver: cfg.Database.Driver, DSN: cfg.Database.DSN})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	loc, _ := cfg.Location()

	registry := prometheus.NewRegistry()
	workflowMetrics := metrics.NewWorkflowMetrics(registry)

	queue, err := newVoiceQueue(ctx, cfg)
	if err != nil {
		return err
	}

	store := repository.NewStore(db)
	notifier := services.NewNotificationService(store.Notifications, logger, workflowMetrics)
	payments := services.NewPaymentService(store, notifier, logger,
		services.WithVoiceQueue(analysis.NewPublisher(queue)),
		services.WithPaymentMetrics(workflowMetrics),
		services.WithDefaultAmount(cfg.DefaultPaymentAmount),
		services.WithPaymentClock(time.Now, loc),
	)
	appointments := services.NewAppointmentService(store, notifier, logger,
		services.WithAppointmentListener(payments),
		services.WithAppointmentMetrics(workflowMetrics),
		services.WithLocation(loc),
	)

	processorOpts := []analysis.ProcessorOption{analysis.WithProcessorMetrics(workflowMetrics)}
	if deliverer := report.NewSendGridDeliverer(report.SendGridConfig{
		APIKey:    cfg.Mailer.SendGridAPIKey,
		FromEmail: cfg.Mailer.DefaultFrom,
		FromName:  cfg.Mailer.FromName,
	}, logger); deliverer != nil {
		processorOpts = append(processorOpts, analysis.WithDeliverer(deliverer))
	} else {
		logger.Warn().Msg("SENDGRID_API_KEY not set; voice reports will not be e-mailed")
	}
	processor := analysis.NewProcessor(store,
		analysis.NewClient(cfg.EmotionAnalysis.URL, cfg.EmotionAnalysis.Timeout),
		report.NewPDFGenerator(), logger, processorOpts...)

	worker := analysis.NewWorker(queue, processor, logger, analysis.WithWorkerCount(cfg.VoiceQueue.Workers))
	worker.Start(ctx)

	sweeper := services.NewSweeper(appointments, logger).
		WithInterval(cfg.SweepInterval).
		WithVoiceRequeue(payments)
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		sweeper.Run(ctx)
	}()

	if !cfg.IsDev() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RequestLogger(logger), middleware.Recovery(logger))

	// Configure CORS
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{cfg.Origin}
	corsConfig.AllowCredentials = true
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
	router.Use(cors.New(corsConfig))

	routes.SetupRoutes(router, routes.Dependencies{
		Config:        cfg,
		Logger:        logger,
		Store:         store,
		Appointments:  appointments,
		Payments:      payments,
		Notifications: notifier,
		Gatherer:      registry,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("port", cfg.Port).Str("env", cfg.Environment).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			stop()
			worker.Wait()
			<-sweepDone
			return fmt.Errorf("http server: %w", err)
		}
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	stop()
	worker.Wait()
	<-sweepDone
	logger.Info().Msg("shutdown complete")
	return nil
}

// newVoiceQueue selects SQS when a queue URL is configured and the
// in-process queue otherwise.
func newVoiceQueue(ctx context.Context, cfg *config.Config) (analysis.Queue, error) {
	if cfg.VoiceQueue.SQSQueueURL == "" {
		return analysis.NewMemoryQueue(cfg.VoiceQueue.Buffer), nil
	}

	loaders := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.AWS.Region)}
	if strings.TrimSpace(cfg.AWS.AccessKeyID) != "" && strings.TrimSpace(cfg.AWS.SecretAccessKey) != "" {
		loaders = append(loaders, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWS.AccessKeyID, cfg.AWS.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if endpoint := cfg.AWS.EndpointOverride; endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return analysis.NewSQSQueue(client, cfg.VoiceQueue.SQSQueueURL)
}
