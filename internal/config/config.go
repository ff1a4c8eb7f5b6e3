// Package config collects the environment-driven settings shared by the API
// and worker services. Every tunable the pipeline used to hard-code lives
// here so deployments can adjust it without a rebuild.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the runtime settings for both services.
type Config struct {
	// HTTP edge (API service only).
	ListenAddr     string
	AllowedOrigins []string

	// Logging.
	LogLevel  string
	LogFormat string

	// Redis.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Object storage (MinIO or any S3-compatible endpoint).
	StorageEndpoint  string
	StorageRegion    string
	StorageAccessKey string
	StorageSecretKey string
	MediaBucket      string
	CredentialBucket string
	CredentialKey    string

	// Queue.
	QueueKey string

	// Worker pool.
	WorkerCount int

	// External processes.
	FetchCommand  string
	EncodeCommand string
	SegmentSecs   int
	// StrictExitCodes makes the pipeline report failure when either external
	// process exits non-zero. Off by default: the historical behaviour treats
	// both processes exiting as completion regardless of exit status.
	StrictExitCodes bool

	// Progressive uploader.
	PollInterval       time.Duration
	EarlyProbeDelay    time.Duration
	ProbeDelay         time.Duration
	EarlySegmentCount  int
	UploadAttempts     int
	UploadRetryDelay   time.Duration
	PlaylistMinPublish time.Duration

	// Lifetimes.
	StatusTTL  time.Duration
	DedupTTL   time.Duration
	PresignTTL time.Duration

	// Startup connectivity retries.
	ConnectAttempts int
	ConnectDelay    time.Duration

	// Weekly storage cleanup schedule (cron expression, empty disables it).
	CleanupSchedule string
}

// Load reads configuration from the environment, consulting a local .env
// file first outside production.
func Load() (Config, error) {
	if env := strings.TrimSpace(os.Getenv("TUBETUNNEL_ENV")); env == "" || env == "development" {
		// Missing .env is fine; explicit environment wins either way.
		_ = godotenv.Load()
	}

	cfg := Config{
		ListenAddr:         envOrDefault("TUBETUNNEL_ADDR", ":8080"),
		AllowedOrigins:     splitList(envOrDefault("TUBETUNNEL_ALLOWED_ORIGINS", "*")),
		LogLevel:           envOrDefault("TUBETUNNEL_LOG_LEVEL", "info"),
		LogFormat:          envOrDefault("TUBETUNNEL_LOG_FORMAT", "json"),
		RedisAddr:          envOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		StorageEndpoint:    envOrDefault("STORAGE_ENDPOINT", "http://localhost:9000"),
		StorageRegion:      envOrDefault("STORAGE_REGION", "us-east-1"),
		StorageAccessKey:   os.Getenv("STORAGE_ACCESS_KEY"),
		StorageSecretKey:   os.Getenv("STORAGE_SECRET_KEY"),
		MediaBucket:        envOrDefault("MEDIA_BUCKET", "videos"),
		CredentialBucket:   envOrDefault("CREDENTIAL_BUCKET", "credentials"),
		CredentialKey:      envOrDefault("CREDENTIAL_KEY", "cookie.txt"),
		QueueKey:           envOrDefault("QUEUE_KEY", "job-queue"),
		FetchCommand:       envOrDefault("FETCH_COMMAND", "yt-dlp"),
		EncodeCommand:      envOrDefault("ENCODE_COMMAND", "ffmpeg"),
		CleanupSchedule:    envOrDefault("CLEANUP_SCHEDULE", "0 23 * * 0"),
		StrictExitCodes:    envBool("TRANSCODE_STRICT_EXIT", false),
		WorkerCount:        4,
		SegmentSecs:        6,
		PollInterval:       time.Second,
		EarlyProbeDelay:    100 * time.Millisecond,
		ProbeDelay:         300 * time.Millisecond,
		EarlySegmentCount:  3,
		UploadAttempts:     3,
		UploadRetryDelay:   2 * time.Second,
		PlaylistMinPublish: 5 * time.Second,
		StatusTTL:          24 * time.Hour,
		DedupTTL:           time.Hour,
		PresignTTL:         24 * time.Hour,
		ConnectAttempts:    10,
		ConnectDelay:       2 * time.Second,
	}

	var err error
	if cfg.RedisDB, err = envInt("REDIS_DB", 0); err != nil {
		return Config{}, err
	}
	if cfg.WorkerCount, err = envInt("WORKER_COUNT", cfg.WorkerCount); err != nil {
		return Config{}, err
	}
	if cfg.WorkerCount <= 0 {
		return Config{}, fmt.Errorf("WORKER_COUNT must be positive")
	}
	if cfg.SegmentSecs, err = envInt("SEGMENT_SECONDS", cfg.SegmentSecs); err != nil {
		return Config{}, err
	}
	if cfg.UploadAttempts, err = envInt("UPLOAD_ATTEMPTS", cfg.UploadAttempts); err != nil {
		return Config{}, err
	}
	if cfg.EarlySegmentCount, err = envInt("EARLY_SEGMENT_COUNT", cfg.EarlySegmentCount); err != nil {
		return Config{}, err
	}
	if cfg.ConnectAttempts, err = envInt("CONNECT_ATTEMPTS", cfg.ConnectAttempts); err != nil {
		return Config{}, err
	}
	if cfg.PollInterval, err = envDuration("POLL_INTERVAL", cfg.PollInterval); err != nil {
		return Config{}, err
	}
	if cfg.EarlyProbeDelay, err = envDuration("EARLY_PROBE_DELAY", cfg.EarlyProbeDelay); err != nil {
		return Config{}, err
	}
	if cfg.ProbeDelay, err = envDuration("PROBE_DELAY", cfg.ProbeDelay); err != nil {
		return Config{}, err
	}
	if cfg.UploadRetryDelay, err = envDuration("UPLOAD_RETRY_DELAY", cfg.UploadRetryDelay); err != nil {
		return Config{}, err
	}
	if cfg.PlaylistMinPublish, err = envDuration("PLAYLIST_MIN_PUBLISH", cfg.PlaylistMinPublish); err != nil {
		return Config{}, err
	}
	if cfg.StatusTTL, err = envDuration("STATUS_TTL", cfg.StatusTTL); err != nil {
		return Config{}, err
	}
	if cfg.DedupTTL, err = envDuration("DEDUP_TTL", cfg.DedupTTL); err != nil {
		return Config{}, err
	}
	if cfg.PresignTTL, err = envDuration("PRESIGN_TTL", cfg.PresignTTL); err != nil {
		return Config{}, err
	}
	if cfg.ConnectDelay, err = envDuration("CONNECT_DELAY", cfg.ConnectDelay); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return value, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return value, nil
}

func envBool(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
