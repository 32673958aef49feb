package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"reservation-service/config"
	"reservation-service/internal/api"
	"reservation-service/internal/broker"
	"reservation-service/internal/jobs"
	"reservation-service/internal/lock"
	"reservation-service/internal/notify"
	"reservation-service/internal/redisclient"
	"reservation-service/internal/saga"
	"reservation-service/internal/service"
	"reservation-service/internal/store"
	"reservation-service/internal/util"
	"reservation-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// backend is what both the Postgres and the in-memory store provide.
type backend interface {
	service.LedgerStore
	saga.Journal
	worker.EventLog
	api.Pinger
}

func main() {
	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting reservation service")

	tp, err := util.InitTracer("reservation-service", cfg.Server.Env, cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	var db backend
	if cfg.Database.URL != "" {
		pg, err := store.NewStore(cfg.Database.URL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer pg.Close()
		if err := pg.InitSchema(context.Background()); err != nil {
			log.Fatalf("Failed to initialize schema: %v", err)
		}
		db = pg
		logger.Info("Database connected")
	} else {
		db = store.NewMemoryStore()
		logger.Warn("DATABASE_URL not set, using in-memory store")
	}

	var redisClient *redisclient.Client
	if cfg.Redis.Enabled {
		redisClient, err = redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisClient.Close()
		logger.Info("Redis connected")
	}

	var locker lock.Locker = lock.NewKeyedMutex()
	if cfg.Business.LockBackend == "redis" {
		if redisClient == nil {
			log.Fatalf("LOCK_BACKEND=redis requires REDIS_ENABLED=true")
		}
		locker = lock.NewRedisLocker(redisClient, cfg.Business.LockTTL, cfg.Business.LockWait)
	}

	var (
		publisher     service.EventPublisher
		notifications *broker.EventPublisher
	)
	if cfg.Kafka.Enabled {
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicReservation)
		defer producer.Close()
		publisher = broker.NewEventPublisher(producer)

		notifyProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicNotifications)
		defer notifyProducer.Close()
		notifications = broker.NewEventPublisher(notifyProducer)
		logger.Info("Kafka producers initialized")
	}

	notifier := notify.NewFanout(notify.RetryPolicy{
		MaxAttempts: cfg.Notification.MaxAttempts,
		BaseDelay:   cfg.Notification.RetryBackoff,
		MaxDelay:    5 * time.Second,
	}, channels(cfg, notifications, logger)...)

	currency := cfg.Business.DefaultCurrency
	settings := service.DistributionSettings{
		OwnerPercent:    cfg.Business.OwnerPercent,
		PlatformPercent: cfg.Business.PlatformPercent,
		AgentPercent:    cfg.Business.AgentPercent,
	}
	tasks := service.NewTaskFactory(db, cfg.Business.CleaningCost)
	workflows := service.NewWorkflows(db, tasks, notifier, currency)
	payments := service.NewPaymentProcessor(db, notifier, settings, currency)

	registry, err := service.BuildRegistry(workflows, payments)
	if err != nil {
		log.Fatalf("Failed to build saga registry: %v", err)
	}
	executor := saga.NewExecutor(registry,
		saga.WithJournal(db),
		saga.WithStepTimeout(cfg.Business.StepTimeout),
	)
	reservationService := service.NewReservationService(db, executor, payments, locker, publisher, currency)
	logger.Info("Sagas registered", zap.Strings("sagas", registry.Names()))

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	var (
		reservationWorker *worker.ReservationWorker
		paymentWorker     *worker.PaymentWorker
	)
	if cfg.Kafka.Enabled && cfg.Kafka.EnableCommandWorker {
		dispatcher := worker.NewDispatcher(reservationService, db)

		reservationWorker = worker.NewReservationWorker(
			broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicCommands, cfg.Kafka.ConsumerGroup), dispatcher)
		go func() {
			if err := reservationWorker.Start(workerCtx); err != nil {
				logger.Error("Reservation worker error", zap.Error(err))
			}
		}()

		paymentWorker = worker.NewPaymentWorker(
			broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicPayments, cfg.Kafka.ConsumerGroup), dispatcher)
		go func() {
			if err := paymentWorker.Start(workerCtx); err != nil {
				logger.Error("Payment worker error", zap.Error(err))
			}
		}()
	}

	var scheduler *jobs.Scheduler
	if cfg.Scheduler.Enabled {
		runner := jobs.NewJobRunner(db, reservationService, notifier, cfg.Business.PayoutReminder)
		scheduler, err = jobs.NewScheduler(runner, cfg.Scheduler)
		if err != nil {
			log.Fatalf("Failed to create scheduler: %v", err)
		}
		scheduler.Start()
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(reservationService, db, redisClient)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	if scheduler != nil {
		scheduler.Stop()
	}
	workerCancel()
	if reservationWorker != nil {
		_ = reservationWorker.Stop()
	}
	if paymentWorker != nil {
		_ = paymentWorker.Stop()
	}

	logger.Info("Server exited")
}

// channels builds the enabled notification channels. The kafka channel is
// skipped when no notification publisher is configured.
func channels(cfg *config.Config, notifications *broker.EventPublisher, logger *zap.Logger) []notify.Channel {
	var out []notify.Channel
	for _, name := range cfg.Notification.Channels {
		switch strings.TrimSpace(name) {
		case "log":
			out = append(out, notify.NewLogChannel(logger))
		case "kafka":
			if notifications == nil {
				logger.Warn("Kafka notification channel requested but Kafka is disabled")
				continue
			}
			out = append(out, notify.NewKafkaChannel(notifications))
		case "email":
			if cfg.Notification.SendGridAPIKey == "" {
				logger.Warn("Email notification channel requested without SENDGRID_API_KEY")
				continue
			}
			out = append(out, notify.NewEmailChannel(cfg.Notification.SendGridAPIKey, cfg.Notification.FromEmail, cfg.Notification.FromName))
		case "":
		default:
			logger.Warn("Unknown notification channel", zap.String("channel", name))
		}
	}
	if len(out) == 0 {
		out = append(out, notify.NewLogChannel(logger))
	}
	return out
}
