package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Settings is the process configuration read once at startup.
type Settings struct {
	DBDriver   string
	DBUser     string
	DBPassword string
	DBHost     string
	DBPort     string
	DBName     string

	RedisAddress string

	PubSubProjectId       string
	PubSubTopic           string
	SnapshotArchiveBucket string

	AuditRetentionMonths int
	AuditSweepInterval   time.Duration
	AuditSweepBatchSize  int

	SerialRetryAttempts int
	SerialRetryBackoff  time.Duration
	FinalizeTimeout     time.Duration
	SnapshotCacheTTL    time.Duration

	OutboxBatchSize   int
	OutboxMaxAttempts int
	OutboxPollEvery   time.Duration

	LogLevel string
}

func init() {
	// Load env from .env
	godotenv.Load()
}

func LoadSettings() Settings {
	return Settings{
		DBDriver:   stringFromEnv("DB_DRIVER", "mysql"),
		DBUser:     os.Getenv("DB_USER"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBHost:     os.Getenv("DB_HOST"),
		DBPort:     stringFromEnv("DB_PORT", "3306"),
		DBName:     os.Getenv("DB_NAME"),

		RedisAddress: os.Getenv("REDIS_ADDRESS"),

		PubSubProjectId:       getPubSubProjectID(),
		PubSubTopic:           os.Getenv("PUBSUB_TOPIC"),
		SnapshotArchiveBucket: os.Getenv("SNAPSHOT_ARCHIVE_BUCKET"),

		AuditRetentionMonths: positiveIntFromEnv("AUDIT_RETENTION_MONTHS", 24),
		AuditSweepInterval:   time.Duration(positiveIntFromEnv("AUDIT_SWEEP_INTERVAL_MINUTES", 60)) * time.Minute,
		AuditSweepBatchSize:  positiveIntFromEnv("AUDIT_SWEEP_BATCH_SIZE", 500),

		SerialRetryAttempts: positiveIntFromEnv("SERIAL_RETRY_ATTEMPTS", 5),
		SerialRetryBackoff:  time.Duration(intFromEnv("SERIAL_RETRY_BACKOFF_MS", 50)) * time.Millisecond,
		FinalizeTimeout:     time.Duration(intFromEnv("FINALIZE_TIMEOUT_SECONDS", 15)) * time.Second,
		SnapshotCacheTTL:    time.Duration(intFromEnv("SNAPSHOT_CACHE_TTL_SECONDS", 3600)) * time.Second,

		OutboxBatchSize:   positiveIntFromEnv("OUTBOX_DISPATCH_BATCH_SIZE", 50),
		OutboxMaxAttempts: positiveIntFromEnv("OUTBOX_MAX_ATTEMPTS", 10),
		OutboxPollEvery:   time.Duration(positiveIntFromEnv("OUTBOX_POLL_INTERVAL_MS", 1000)) * time.Millisecond,

		LogLevel: stringFromEnv("LOG_LEVEL", "error"),
	}
}

func intFromEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// positiveIntFromEnv is intFromEnv for counts and intervals, where zero or less would stall
// or panic a loop; such values fall back to the default.
func positiveIntFromEnv(key string, def int) int {
	if n := intFromEnv(key, def); n > 0 {
		return n
	}
	return def
}

func stringFromEnv(key string, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
