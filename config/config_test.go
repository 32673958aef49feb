package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Empty(t, cfg.Database.URL)
	assert.False(t, cfg.Redis.Enabled)
	assert.False(t, cfg.Kafka.Enabled)
	assert.Equal(t, 70.0, cfg.Business.OwnerPercent)
	assert.Equal(t, 25.0, cfg.Business.PlatformPercent)
	assert.Equal(t, 5.0, cfg.Business.AgentPercent)
	assert.Equal(t, int64(150), cfg.Business.CleaningCost)
	assert.Equal(t, "memory", cfg.Business.LockBackend)
	assert.Equal(t, time.Duration(0), cfg.Business.StepTimeout)
	assert.Equal(t, []string{"log"}, cfg.Notification.Channels)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DISTRIBUTION_OWNER_PERCENT", "80")
	t.Setenv("LOCK_BACKEND", "redis")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("SAGA_STEP_TIMEOUT", "3s")
	t.Setenv("NOTIFY_CHANNELS", "log,email")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("PAYOUT_REMINDER_AFTER", "not-a-duration")

	cfg := Load()

	assert.Equal(t, 80.0, cfg.Business.OwnerPercent)
	assert.Equal(t, "redis", cfg.Business.LockBackend)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 3*time.Second, cfg.Business.StepTimeout)
	assert.Equal(t, []string{"log", "email"}, cfg.Notification.Channels)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 72*time.Hour, cfg.Business.PayoutReminder)
}
