package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewConfig_Defaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, int32(8394), cfg.HTTP.Port)
	assert.Equal(t, "0.0.0.0", cfg.HTTP.Host)
	assert.Equal(t, DefaultDatabasePath, cfg.Database.Path)

	assert.True(t, cfg.Sync.Enabled)
	assert.Equal(t, "*/5 * * * *", cfg.Sync.Schedule)
	assert.Equal(t, DefaultQueueCapacity, cfg.Sync.QueueCapacity)
	assert.Equal(t, DefaultMaxAttempts, cfg.Sync.MaxAttempts)
	assert.Equal(t, 15*time.Second, cfg.Sync.ItemTimeout)

	assert.Equal(t, 10*time.Second, cfg.Remote.Timeout)
	assert.Empty(t, cfg.Remote.URL)

	assert.True(t, cfg.Tasks.Enabled)
	assert.Equal(t, 1, cfg.Tasks.Workers)
}

func TestNewConfig_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("REMOTE_URL", "https://backend.test")
	t.Setenv("SYNC_QUEUE_CAPACITY", "25")

	cfg := NewConfig()

	assert.Equal(t, int32(9000), cfg.HTTP.Port)
	assert.Equal(t, "https://backend.test", cfg.Remote.URL)
	assert.Equal(t, 25, cfg.Sync.QueueCapacity)
}
