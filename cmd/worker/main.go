package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kelseyhightower/envconfig"
	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/scheduling-api/internal/config"
	"github.com/jwalitptl/scheduling-api/internal/email"
	"github.com/jwalitptl/scheduling-api/internal/handler/health"
	"github.com/jwalitptl/scheduling-api/internal/handler/prometheus"
	"github.com/jwalitptl/scheduling-api/internal/middleware"
	"github.com/jwalitptl/scheduling-api/internal/repository/postgres"
	"github.com/jwalitptl/scheduling-api/internal/service/notification"
	internalworker "github.com/jwalitptl/scheduling-api/internal/worker"
	"github.com/jwalitptl/scheduling-api/pkg/logger"
	"github.com/jwalitptl/scheduling-api/pkg/messaging/redis"
	"github.com/jwalitptl/scheduling-api/pkg/metrics"
	"github.com/jwalitptl/scheduling-api/pkg/worker"
)

const namespace = "scheduling_worker"

// Settings are read from WORKER_* environment variables
type Settings struct {
	ID         string `envconfig:"ID"`
	HealthPort int    `envconfig:"HEALTH_PORT" default:"8081"`
	// Notify runs the notification dispatcher next to the outbox relay
	Notify bool `envconfig:"NOTIFY" default:"true"`
}

func main() {
	var settings Settings
	if err := envconfig.Process("worker", &settings); err != nil {
		log.Fatal().Err(err).Msg("failed to read worker settings")
	}
	if settings.ID == "" {
		settings.ID = generateWorkerID()
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Redis.URL == "" {
		log.Fatal().Msg("redis.url is required by the worker")
	}

	zerolog.SetGlobalLevel(logger.ParseLevel(cfg.Log.Level))
	appLogger := logger.NewLogger(&logger.Config{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Pretty: cfg.Log.Pretty,
	}).WithFields(map[string]interface{}{"worker_id": settings.ID})

	registry := promclient.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	workerMetrics := metrics.New(namespace, registry)

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	broker, err := redis.NewRedisBroker(cfg.ToBrokerConfig(), appLogger.ZL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create redis broker")
	}
	defer broker.Close()

	outboxRepo := postgres.NewOutboxRepository(db)

	processor := worker.NewOutboxProcessor(
		outboxRepo,
		broker,
		cfg.ToWorkerConfig(),
		appLogger,
		workerMetrics,
	)
	cleanup := internalworker.NewOutboxCleanupWorker(
		outboxRepo,
		cfg.Outbox.Retention,
		cfg.Outbox.CleanupInterval,
		appLogger,
		workerMetrics,
	)

	srv := healthServer(settings.HealthPort, registry, map[string]health.Check{
		"database": db.PingContext,
		"redis":    broker.Ping,
	})
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Fatal(err, "health server failed")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	run := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}

	run(processor.Start)
	run(cleanup.Start)
	if settings.Notify {
		dispatcher := notification.NewDispatcher(broker, newEmailService(cfg, appLogger), appLogger, workerMetrics)
		run(func(ctx context.Context) {
			if err := dispatcher.Run(ctx); err != nil {
				appLogger.Error(err, "notification dispatcher stopped")
			}
		})
	}

	appLogger.Info("worker started", "health_port", settings.HealthPort, "notify", settings.Notify)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	appLogger.Info("shutting down...")
	cancel()
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(err, "health server forced to shutdown")
	}
}

func healthServer(port int, registry *promclient.Registry, checks map[string]health.Check) *http.Server {
	engine := gin.New()
	engine.Use(middleware.Recovery())
	health.NewHandler(checks).RegisterRoutes(engine)
	engine.GET("/metrics", prometheus.New(registry, namespace).Handler())

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func newEmailService(cfg *config.Config, l *logger.Logger) email.Service {
	if !cfg.SMTP.Enabled() {
		return email.NewLogService(l)
	}
	return email.NewSMTPService(email.Config{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	})
}

func generateWorkerID() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return fmt.Sprintf("%s-%d", hostname, time.Now().UnixNano())
}
