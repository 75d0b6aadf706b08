package config

import (
	"time"

	"github.com/spf13/viper"
)

// DefaultDatabasePath is the default path for the orchestration database.
const DefaultDatabasePath = "./skyferry.db"

type (
	Config struct {
		HTTP
		Global
		Database
		Worker
		Scheduler
		Sync
		Plans
		S3
		Tokens
	}

	HTTP struct {
		Port int32
		Host string
	}

	Global struct {
		ShutdownTimeoutInSeconds int
	}

	Database struct {
		Path string
	}

	Worker struct {
		// Concurrency is the global ceiling on jobs executing at once
		// within this worker process.
		Concurrency int
		// BatchCap bounds how many jobs one poll may claim.
		BatchCap int
		// PollInterval is the base poll cadence; it grows up to
		// MaxPollInterval after consecutive empty polls.
		PollInterval    time.Duration
		MaxPollInterval time.Duration
		// JobTimeout is the per-job wall-clock budget.
		JobTimeout time.Duration
		// BackoffBase/BackoffCap/BackoffJitter shape the retry delay:
		// min(base * 2^(attempts-1), cap) plus up to jitter fraction.
		BackoffBase   time.Duration
		BackoffCap    time.Duration
		BackoffJitter float64
		// AdmissionDelay is the short fixed delay used when a job is
		// returned to the queue by per-user admission control.
		AdmissionDelay time.Duration
		// StaleLockThreshold is the lock age beyond which an in-progress
		// job is presumed orphaned by a crashed worker.
		StaleLockThreshold time.Duration
		HeartbeatInterval  time.Duration
		// Retention is how long terminal jobs are kept before purging.
		Retention time.Duration
		// ClientCacheSize bounds pooled per-(provider,user) clients.
		ClientCacheSize int
		DefaultRetries  int
	}

	Scheduler struct {
		PollInterval time.Duration
		// MonitorInterval/MonitorMaxWait bound how long a dispatched job
		// is watched for a terminal state.
		MonitorInterval time.Duration
		MonitorMaxWait  time.Duration
	}

	Sync struct {
		// ConflictThreshold is the modified-time difference beyond which
		// both-sides changes count as a conflict.
		ConflictThreshold time.Duration
	}

	// Plans maps subscription tiers to per-user concurrent job ceilings.
	Plans struct {
		FreeConcurrency int
		ProConcurrency  int
	}

	S3 struct {
		Endpoint  string
		AccessKey string
		SecretKey string
		Bucket    string
		UseSSL    bool
	}

	Tokens struct {
		// EncryptionKey is the base64-encoded 32-byte AES key for tokens
		// at rest. Empty falls back to the key file.
		EncryptionKey string
		KeyFilePath   string
	}
)

func NewConfig() *Config {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("port", 8199)
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("shutdown_timeout_in_seconds", 5)
	v.SetDefault("database_path", DefaultDatabasePath)

	// Worker defaults
	v.SetDefault("worker_concurrency", 4)
	v.SetDefault("worker_batch_cap", 5)
	v.SetDefault("worker_poll_interval", "2s")
	v.SetDefault("worker_max_poll_interval", "30s")
	v.SetDefault("worker_job_timeout", "10m")
	v.SetDefault("worker_backoff_base", "1s")
	v.SetDefault("worker_backoff_cap", "60s")
	v.SetDefault("worker_backoff_jitter", 0.2)
	v.SetDefault("worker_admission_delay", "5s")
	v.SetDefault("worker_stale_lock_threshold", "15m")
	v.SetDefault("worker_heartbeat_interval", "1m")
	v.SetDefault("worker_retention", "24h")
	v.SetDefault("worker_client_cache_size", 32)
	v.SetDefault("worker_default_retries", 3)

	// Scheduler defaults
	v.SetDefault("scheduler_poll_interval", "60s")
	v.SetDefault("scheduler_monitor_interval", "5s")
	v.SetDefault("scheduler_monitor_max_wait", "30m")

	// Sync defaults
	v.SetDefault("sync_conflict_threshold", "60s")

	// Plan ceilings
	v.SetDefault("plan_free_concurrency", 1)
	v.SetDefault("plan_pro_concurrency", 3)

	// S3-compatible endpoint
	v.SetDefault("s3_endpoint", "")
	v.SetDefault("s3_access_key", "")
	v.SetDefault("s3_secret_key", "")
	v.SetDefault("s3_bucket", "")
	v.SetDefault("s3_use_ssl", true)

	// Token storage
	v.SetDefault("token_encryption_key", "")
	v.SetDefault("token_key_file", "")

	return &Config{
		HTTP: HTTP{
			Port: v.GetInt32("PORT"),
			Host: v.GetString("HOST"),
		},
		Global: Global{
			ShutdownTimeoutInSeconds: v.GetInt("SHUTDOWN_TIMEOUT_IN_SECONDS"),
		},
		Database: Database{
			Path: v.GetString("DATABASE_PATH"),
		},
		Worker: Worker{
			Concurrency:        v.GetInt("WORKER_CONCURRENCY"),
			BatchCap:           v.GetInt("WORKER_BATCH_CAP"),
			PollInterval:       v.GetDuration("WORKER_POLL_INTERVAL"),
			MaxPollInterval:    v.GetDuration("WORKER_MAX_POLL_INTERVAL"),
			JobTimeout:         v.GetDuration("WORKER_JOB_TIMEOUT"),
			BackoffBase:        v.GetDuration("WORKER_BACKOFF_BASE"),
			BackoffCap:         v.GetDuration("WORKER_BACKOFF_CAP"),
			BackoffJitter:      v.GetFloat64("WORKER_BACKOFF_JITTER"),
			AdmissionDelay:     v.GetDuration("WORKER_ADMISSION_DELAY"),
			StaleLockThreshold: v.GetDuration("WORKER_STALE_LOCK_THRESHOLD"),
			HeartbeatInterval:  v.GetDuration("WORKER_HEARTBEAT_INTERVAL"),
			Retention:          v.GetDuration("WORKER_RETENTION"),
			ClientCacheSize:    v.GetInt("WORKER_CLIENT_CACHE_SIZE"),
			DefaultRetries:     v.GetInt("WORKER_DEFAULT_RETRIES"),
		},
		Scheduler: Scheduler{
			PollInterval:    v.GetDuration("SCHEDULER_POLL_INTERVAL"),
			MonitorInterval: v.GetDuration("SCHEDULER_MONITOR_INTERVAL"),
			MonitorMaxWait:  v.GetDuration("SCHEDULER_MONITOR_MAX_WAIT"),
		},
		Sync: Sync{
			ConflictThreshold: v.GetDuration("SYNC_CONFLICT_THRESHOLD"),
		},
		Plans: Plans{
			FreeConcurrency: v.GetInt("PLAN_FREE_CONCURRENCY"),
			ProConcurrency:  v.GetInt("PLAN_PRO_CONCURRENCY"),
		},
		S3: S3{
			Endpoint:  v.GetString("S3_ENDPOINT"),
			AccessKey: v.GetString("S3_ACCESS_KEY"),
			SecretKey: v.GetString("S3_SECRET_KEY"),
			Bucket:    v.GetString("S3_BUCKET"),
			UseSSL:    v.GetBool("S3_USE_SSL"),
		},
		Tokens: Tokens{
			EncryptionKey: v.GetString("TOKEN_ENCRYPTION_KEY"),
			KeyFilePath:   v.GetString("TOKEN_KEY_FILE"),
		},
	}
}
