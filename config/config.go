package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	Kafka        KafkaConfig
	Observ       ObservabilityConfig
	Business     BusinessConfig
	Notification NotificationConfig
	Scheduler    SchedulerConfig
}

type ServerConfig struct {
	Port string
	Env  string
}

// DatabaseConfig selects the ledger store. An empty URL runs on the in-memory store.
type DatabaseConfig struct {
	URL string
}

// RedisConfig is optional. Without it locks are process-local and
// Idempotency-Key headers are ignored.
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Enabled             bool
	Brokers             []string
	TopicReservation    string
	TopicCommands       string
	TopicPayments       string
	TopicNotifications  string
	ConsumerGroup       string
	EnableCommandWorker bool
}

type ObservabilityConfig struct {
	JaegerEndpoint string
	PrometheusPort string
}

type BusinessConfig struct {
	OwnerPercent    float64
	PlatformPercent float64
	AgentPercent    float64
	CleaningCost    int64
	DefaultCurrency string

	// LockBackend is "memory" or "redis".
	LockBackend    string
	LockTTL        time.Duration
	LockWait       time.Duration
	StepTimeout    time.Duration
	PayoutReminder time.Duration
}

type NotificationConfig struct {
	// Channels lists the enabled channels: log, kafka, email.
	Channels       []string
	SendGridAPIKey string
	FromEmail      string
	FromName       string
	MaxAttempts    int
	RetryBackoff   time.Duration
}

// SchedulerConfig holds six-field cron specs (seconds first).
type SchedulerConfig struct {
	Enabled        bool
	PayoutReminder string
	AutoComplete   string
}

func Load() *Config {
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	cleaningCost, _ := strconv.ParseInt(getEnv("CLEANING_COST", "150"), 10, 64)
	maxAttempts, _ := strconv.Atoi(getEnv("NOTIFY_MAX_ATTEMPTS", "3"))

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
			Env:  getEnv("ENV", "development"),
		},
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		Redis: RedisConfig{
			Enabled:  getBool("REDIS_ENABLED", false),
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Kafka: KafkaConfig{
			Enabled:             getBool("KAFKA_ENABLED", false),
			Brokers:             strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
			TopicReservation:    getEnv("KAFKA_TOPIC_RESERVATION_EVENTS", "reservation-events"),
			TopicCommands:       getEnv("KAFKA_TOPIC_RESERVATION_COMMANDS", "reservation-commands"),
			TopicPayments:       getEnv("KAFKA_TOPIC_PAYMENT_EVENTS", "payment-events"),
			TopicNotifications:  getEnv("KAFKA_TOPIC_NOTIFICATIONS", "notifications"),
			ConsumerGroup:       getEnv("KAFKA_CONSUMER_GROUP", "reservation-service-group"),
			EnableCommandWorker: getBool("KAFKA_ENABLE_WORKERS", false),
		},
		Observ: ObservabilityConfig{
			JaegerEndpoint: getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
			PrometheusPort: getEnv("PROMETHEUS_PORT", "9090"),
		},
		Business: BusinessConfig{
			OwnerPercent:    getFloat("DISTRIBUTION_OWNER_PERCENT", 70),
			PlatformPercent: getFloat("DISTRIBUTION_PLATFORM_PERCENT", 25),
			AgentPercent:    getFloat("DISTRIBUTION_AGENT_PERCENT", 5),
			CleaningCost:    cleaningCost,
			DefaultCurrency: getEnv("DEFAULT_CURRENCY", "USD"),
			LockBackend:     getEnv("LOCK_BACKEND", "memory"),
			LockTTL:         getDuration("LOCK_TTL", 30*time.Second),
			LockWait:        getDuration("LOCK_WAIT", 5*time.Second),
			StepTimeout:     getDuration("SAGA_STEP_TIMEOUT", 0),
			PayoutReminder:  getDuration("PAYOUT_REMINDER_AFTER", 72*time.Hour),
		},
		Notification: NotificationConfig{
			Channels:       strings.Split(getEnv("NOTIFY_CHANNELS", "log"), ","),
			SendGridAPIKey: getEnv("SENDGRID_API_KEY", ""),
			FromEmail:      getEnv("NOTIFY_FROM_EMAIL", "no-reply@example.com"),
			FromName:       getEnv("NOTIFY_FROM_NAME", "Reservations"),
			MaxAttempts:    maxAttempts,
			RetryBackoff:   getDuration("NOTIFY_RETRY_BACKOFF", 200*time.Millisecond),
		},
		Scheduler: SchedulerConfig{
			Enabled:        getBool("SCHEDULER_ENABLED", true),
			PayoutReminder: getEnv("CRON_PAYOUT_REMINDER", "0 0 9 * * *"),
			AutoComplete:   getEnv("CRON_AUTO_COMPLETE", "0 0 * * * *"),
		},
	}

	log.Printf("Config loaded: env=%s, port=%s", cfg.Server.Env, cfg.Server.Port)
	return cfg
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getFloat(key string, defaultVal float64) float64 {
	if v, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return v
	}
	return defaultVal
}

func getBool(key string, defaultVal bool) bool {
	if v, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return v
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if v, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return v
	}
	return defaultVal
}
