// Package bootstrap holds the startup plumbing shared by the API and worker
// binaries: dialing the queue and storage backends with bounded retries and
// making sure the buckets exist.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"

	"tubetunnel/internal/config"
	"tubetunnel/internal/storage"
)

// ConnectRedis dials Redis and pings it until it answers or the attempt
// budget runs out.
func ConnectRedis(ctx context.Context, cfg config.Config, logger *slog.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	var err error
	for attempt := 1; attempt <= cfg.ConnectAttempts; attempt++ {
		if err = client.Ping(ctx).Err(); err == nil {
			logger.Info("redis connected", "addr", cfg.RedisAddr)
			return client, nil
		}
		logger.Warn("redis not reachable yet", "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			_ = client.Close()
			return nil, ctx.Err()
		case <-time.After(cfg.ConnectDelay):
		}
	}
	_ = client.Close()
	return nil, fmt.Errorf("redis unreachable after %d attempts: %w", cfg.ConnectAttempts, err)
}

// OpenStorage builds the object store client and provisions the media and
// credential buckets, retrying until the endpoint answers.
func OpenStorage(ctx context.Context, cfg config.Config, logger *slog.Logger) (*storage.S3Store, error) {
	store, err := storage.NewS3Store(storage.S3Config{
		Endpoint:       cfg.StorageEndpoint,
		Region:         cfg.StorageRegion,
		AccessKey:      cfg.StorageAccessKey,
		SecretKey:      cfg.StorageSecretKey,
		ForcePathStyle: true,
	})
	if err != nil {
		return nil, err
	}
	for attempt := 1; attempt <= cfg.ConnectAttempts; attempt++ {
		err = ensureBuckets(ctx, store, cfg)
		if err == nil {
			logger.Info("storage ready", "endpoint", cfg.StorageEndpoint)
			return store, nil
		}
		logger.Warn("storage not reachable yet", "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(cfg.ConnectDelay):
		}
	}
	return nil, fmt.Errorf("storage unreachable after %d attempts: %w", cfg.ConnectAttempts, err)
}

func ensureBuckets(ctx context.Context, store *storage.S3Store, cfg config.Config) error {
	for _, bucket := range []string{cfg.MediaBucket, cfg.CredentialBucket} {
		if err := store.EnsureBucket(ctx, bucket); err != nil {
			return err
		}
	}
	return nil
}
