package config

import (
	"time"

	"github.com/spf13/viper"
)

type (
	Config struct {
		HTTP
		Remote
		Database
		Sync
		Tasks
		Global
		Log
	}

	HTTP struct {
		Port int32
		Host string
	}
	Remote struct {
		URL         string // Base URL of the hosted backend
		APIKey      string // Anonymous/service API key
		RedirectURL string // OAuth redirect target for this deployment
		Timeout     time.Duration
	}
	Database struct {
		Path string
	}
	Sync struct {
		Enabled       bool
		Schedule      string // Cron format: "*/5 * * * *" = every 5 minutes
		QueueCapacity int    // Max queued offline writes before oldest eviction
		MaxAttempts   int    // Replay attempts before an item is marked failed
		ItemTimeout   time.Duration
	}
	Tasks struct {
		Enabled         bool
		Workers         int
		ReleaseAfter    time.Duration
		CleanupInterval time.Duration
	}
	Global struct {
		ShutdownTimeoutInSeconds int
	}
	Log struct {
		File       string // Rotating log file; empty means stderr only
		MaxSizeMB  int
		MaxBackups int
	}
)

func NewConfig() *Config {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("port", 8394)
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("shutdown_timeout_in_seconds", 2)
	v.SetDefault("database_path", DefaultDatabasePath)

	// Remote backend defaults
	v.SetDefault("remote_url", "")
	v.SetDefault("remote_api_key", "")
	v.SetDefault("remote_redirect_url", "")
	v.SetDefault("remote_timeout", "10s")

	// Sync defaults
	v.SetDefault("sync_enabled", true)
	v.SetDefault("sync_schedule", "*/5 * * * *") // Every 5 minutes
	v.SetDefault("sync_queue_capacity", DefaultQueueCapacity)
	v.SetDefault("sync_max_attempts", DefaultMaxAttempts)
	v.SetDefault("sync_item_timeout", "15s")

	// Task queue defaults
	v.SetDefault("tasks_enabled", true)
	v.SetDefault("task_workers", 1)
	v.SetDefault("task_release_after", "15m")
	v.SetDefault("task_cleanup_interval", "1h")

	// Logging defaults
	v.SetDefault("log_file", "")
	v.SetDefault("log_max_size_mb", 20)
	v.SetDefault("log_max_backups", 3)

	return &Config{
		HTTP: HTTP{
			Port: v.GetInt32("PORT"),
			Host: v.GetString("HOST"),
		},
		Remote: Remote{
			URL:         v.GetString("REMOTE_URL"),
			APIKey:      v.GetString("REMOTE_API_KEY"),
			RedirectURL: v.GetString("REMOTE_REDIRECT_URL"),
			Timeout:     v.GetDuration("REMOTE_TIMEOUT"),
		},
		Database: Database{
			Path: v.GetString("DATABASE_PATH"),
		},
		Sync: Sync{
			Enabled:       v.GetBool("SYNC_ENABLED"),
			Schedule:      v.GetString("SYNC_SCHEDULE"),
			QueueCapacity: v.GetInt("SYNC_QUEUE_CAPACITY"),
			MaxAttempts:   v.GetInt("SYNC_MAX_ATTEMPTS"),
			ItemTimeout:   v.GetDuration("SYNC_ITEM_TIMEOUT"),
		},
		Tasks: Tasks{
			Enabled:         v.GetBool("TASKS_ENABLED"),
			Workers:         v.GetInt("TASK_WORKERS"),
			ReleaseAfter:    v.GetDuration("TASK_RELEASE_AFTER"),
			CleanupInterval: v.GetDuration("TASK_CLEANUP_INTERVAL"),
		},
		Global: Global{
			ShutdownTimeoutInSeconds: v.GetInt("SHUTDOWN_TIMEOUT_IN_SECONDS"),
		},
		Log: Log{
			File:       v.GetString("LOG_FILE"),
			MaxSizeMB:  v.GetInt("LOG_MAX_SIZE_MB"),
			MaxBackups: v.GetInt("LOG_MAX_BACKUPS"),
		},
	}
}
