// Package jobstore persists per-job status and progress records in Redis and
// implements the create-if-absent marker that deduplicates concurrent
// enqueues of the same job identity.
package jobstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"tubetunnel/internal/models"
)

const keyPrefix = "job:"

// Store reads and writes job lifecycle records. Each record carries its own
// lifetime, refreshed in full on every write; an expired record reads back
// as absent, which callers must treat as "unknown" rather than "never
// existed".
type Store struct {
	client    redis.UniversalClient
	statusTTL time.Duration
	dedupTTL  time.Duration
}

// New builds a Store over an existing Redis client. statusTTL bounds status
// and progress records, dedupTTL bounds the enqueue marker.
func New(client redis.UniversalClient, statusTTL, dedupTTL time.Duration) (*Store, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if statusTTL <= 0 || dedupTTL <= 0 {
		return nil, errors.New("record lifetimes must be positive")
	}
	return &Store{client: client, statusTTL: statusTTL, dedupTTL: dedupTTL}, nil
}

func statusKey(jobID string) string   { return keyPrefix + jobID + ":status" }
func progressKey(jobID string) string { return keyPrefix + jobID + ":progress" }
func queuedKey(jobID string) string   { return keyPrefix + jobID + ":queued" }

// SetStatus writes the job's status record with a fresh lifetime.
func (s *Store) SetStatus(ctx context.Context, jobID string, status models.JobStatus) error {
	if err := s.client.Set(ctx, statusKey(jobID), string(status), s.statusTTL).Err(); err != nil {
		return fmt.Errorf("set status %s=%s: %w", jobID, status, err)
	}
	return nil
}

// Status reads the job's status record. An absent or expired record reports
// StatusUnknown with no error.
func (s *Store) Status(ctx context.Context, jobID string) (models.JobStatus, error) {
	raw, err := s.client.Get(ctx, statusKey(jobID)).Result()
	if errors.Is(err, redis.Nil) {
		return models.StatusUnknown, nil
	}
	if err != nil {
		return models.StatusUnknown, fmt.Errorf("get status %s: %w", jobID, err)
	}
	return models.ParseStatus(raw), nil
}

// HasStatus reports whether any status record exists for the job.
func (s *Store) HasStatus(ctx context.Context, jobID string) (bool, error) {
	count, err := s.client.Exists(ctx, statusKey(jobID)).Result()
	if err != nil {
		return false, fmt.Errorf("check status %s: %w", jobID, err)
	}
	return count > 0, nil
}

// SetProgress writes the job's fractional progress with a fresh lifetime.
func (s *Store) SetProgress(ctx context.Context, jobID string, progress float64) error {
	value := strconv.FormatFloat(progress, 'f', -1, 64)
	if err := s.client.Set(ctx, progressKey(jobID), value, s.statusTTL).Err(); err != nil {
		return fmt.Errorf("set progress %s=%s: %w", jobID, value, err)
	}
	return nil
}

// Progress reads the job's progress record. Absent or unparsable records
// report nil with no error.
func (s *Store) Progress(ctx context.Context, jobID string) (*float64, error) {
	raw, err := s.client.Get(ctx, progressKey(jobID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get progress %s: %w", jobID, err)
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, nil
	}
	return &value, nil
}

// MarkQueued attempts to create the dedup marker for the job. It reports
// true for the single caller that created the marker; every concurrent or
// subsequent caller within the marker's lifetime observes false. The
// marker's lifetime is refreshed whenever creation succeeds.
func (s *Store) MarkQueued(ctx context.Context, jobID string) (bool, error) {
	created, err := s.client.SetNX(ctx, queuedKey(jobID), "1", 0).Result()
	if err != nil {
		return false, fmt.Errorf("mark queued %s: %w", jobID, err)
	}
	if err := s.client.Expire(ctx, queuedKey(jobID), s.dedupTTL).Err(); err != nil {
		return created, fmt.Errorf("expire queued marker %s: %w", jobID, err)
	}
	return created, nil
}

// DeleteJobKeys removes the status, progress, and dedup-marker keys for one
// job and returns how many of them existed.
func (s *Store) DeleteJobKeys(ctx context.Context, jobID string) (int64, error) {
	var deleted int64
	for _, key := range []string{statusKey(jobID), progressKey(jobID), queuedKey(jobID)} {
		count, err := s.client.Del(ctx, key).Result()
		if err != nil {
			return deleted, fmt.Errorf("delete %s: %w", key, err)
		}
		deleted += count
	}
	return deleted, nil
}

// DeleteAllJobKeys removes every job-prefixed key and returns the count.
func (s *Store) DeleteAllJobKeys(ctx context.Context) (int64, error) {
	keys, err := s.client.Keys(ctx, keyPrefix+"*").Result()
	if err != nil {
		return 0, fmt.Errorf("list job keys: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}
	deleted, err := s.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("delete job keys: %w", err)
	}
	return deleted, nil
}
