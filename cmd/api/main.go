package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/scheduling-api/internal/config"
	"github.com/jwalitptl/scheduling-api/internal/email"
	"github.com/jwalitptl/scheduling-api/internal/handler/appointment"
	"github.com/jwalitptl/scheduling-api/internal/handler/health"
	"github.com/jwalitptl/scheduling-api/internal/handler/prometheus"
	"github.com/jwalitptl/scheduling-api/internal/meeting"
	"github.com/jwalitptl/scheduling-api/internal/middleware"
	"github.com/jwalitptl/scheduling-api/internal/repository"
	"github.com/jwalitptl/scheduling-api/internal/repository/memory"
	"github.com/jwalitptl/scheduling-api/internal/repository/postgres"
	"github.com/jwalitptl/scheduling-api/internal/router"
	appointmentService "github.com/jwalitptl/scheduling-api/internal/service/appointment"
	auditService "github.com/jwalitptl/scheduling-api/internal/service/audit"
	eventService "github.com/jwalitptl/scheduling-api/internal/service/event"
	"github.com/jwalitptl/scheduling-api/internal/service/notification"
	"github.com/jwalitptl/scheduling-api/pkg/logger"
	"github.com/jwalitptl/scheduling-api/pkg/messaging"
	"github.com/jwalitptl/scheduling-api/pkg/messaging/redis"
	"github.com/jwalitptl/scheduling-api/pkg/metrics"
)

const namespace = "scheduling"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	zerolog.SetGlobalLevel(logger.ParseLevel(cfg.Log.Level))
	if cfg.Log.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	appLogger := logger.NewLogger(&logger.Config{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Pretty: cfg.Log.Pretty,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := promclient.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	appMetrics := metrics.New(namespace, registry)

	checks := map[string]health.Check{}

	var (
		appointmentRepo repository.AppointmentRepository
		auditRepo       repository.AuditRepository
		publisher       eventService.Publisher
	)

	switch cfg.Store.Driver {
	case "postgres":
		if cfg.Database.Migrate {
			if err := postgres.Migrate(cfg.Database.DSN()); err != nil {
				log.Fatal().Err(err).Msg("failed to apply migrations")
			}
		}

		db, err := postgres.NewDB(cfg.Database)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()
		checks["database"] = db.PingContext

		appointmentRepo = postgres.NewAppointmentRepository(db)
		auditRepo = postgres.NewAuditRepository(db)
		// events are relayed to the broker by cmd/worker
		publisher = eventService.NewOutboxPublisher(postgres.NewOutboxRepository(db))

	case "memory":
		appointmentRepo = memory.NewAppointmentRepository()
		auditRepo = memory.NewAuditRepository()

		broker, closeBroker := newBroker(cfg, checks)
		defer closeBroker()
		publisher = eventService.NewBrokerPublisher(broker)

		dispatcher := notification.NewDispatcher(broker, newEmailService(cfg, appLogger), appLogger, appMetrics)
		go func() {
			if err := dispatcher.Run(ctx); err != nil {
				appLogger.Error(err, "notification dispatcher stopped")
			}
		}()
	}

	meetings, err := meeting.NewLinkProvider(cfg.Meeting.BaseURL, cfg.Meeting.Secret)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid meeting configuration")
	}

	location, err := cfg.Scheduling.Location()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid scheduling configuration")
	}

	appointmentSvc := appointmentService.NewService(
		appointmentRepo,
		publisher,
		meetings,
		auditService.NewService(auditRepo),
		appointmentService.Config{
			Location:        location,
			StoreTimeout:    cfg.Scheduling.StoreTimeout,
			DefaultDuration: cfg.Scheduling.DefaultDuration,
			DefaultLocation: cfg.Scheduling.DefaultLocation,
			WorkDayStart:    cfg.Scheduling.WorkDayStart,
			WorkDayEnd:      cfg.Scheduling.WorkDayEnd,
			SlotStepMinutes: cfg.Scheduling.SlotStepMinutes,
			Alternatives:    cfg.Scheduling.Alternatives,
		},
		appLogger,
		appMetrics,
	)

	corsConfig := middleware.DefaultCORSConfig()
	corsConfig.AllowOrigins = cfg.CORS.AllowOrigins

	r, err := router.NewRouter(
		health.NewHandler(checks),
		prometheus.New(registry, namespace),
		router.RouterConfig{
			RateLimit:      cfg.RateLimit.Limit(),
			RateBurst:      cfg.RateLimit.Burst,
			CORSConfig:     corsConfig,
			RequestTimeout: cfg.Server.RequestTimeout,
			JWTSecret:      cfg.Auth.JWTSecret,
			JWTIssuer:      cfg.Auth.Issuer,
			IdempotencyTTL: cfg.Idempotency.TTL,
			MaxBodySize:    cfg.Server.MaxBodySize,
		},
		appointment.NewHandler(appointmentSvc),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build router")
	}
	r.Setup()

	if cfg.Auth.JWTSecret == "" {
		log.Warn().Msg("auth.jwt_secret is empty, callers are identified by request parameters")
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           r.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Str("store", cfg.Store.Driver).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server exited")
}

// newBroker connects to Redis when configured, otherwise events stay in process
func newBroker(cfg *config.Config, checks map[string]health.Check) (messaging.Broker, func()) {
	if cfg.Redis.URL == "" {
		broker := messaging.NewLocalBroker()
		return broker, func() { broker.Close() }
	}

	broker, err := redis.NewRedisBroker(cfg.ToBrokerConfig(), log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	checks["redis"] = broker.Ping
	return broker, func() { broker.Close() }
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
