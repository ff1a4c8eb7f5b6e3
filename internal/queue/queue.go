// Package queue provides the durable Redis list used as the job work queue.
// Producers push serialized jobs onto one end; workers consume from the
// opposite end with a blocking pop.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"tubetunnel/internal/models"
)

// Queue wraps the Redis list holding pending jobs. The underlying client is
// safe for concurrent use, so one Queue may be shared by every worker and
// producer in the process.
type Queue struct {
	client redis.UniversalClient
	key    string
}

// New builds a Queue over an existing Redis client. The key names the list;
// it must not be empty.
func New(client redis.UniversalClient, key string) (*Queue, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return nil, errors.New("queue key is required")
	}
	return &Queue{client: client, key: trimmed}, nil
}

// Key returns the Redis list key the queue operates on.
func (q *Queue) Key() string {
	return q.key
}

// Push serializes the job and appends it to the queue.
func (q *Queue) Push(ctx context.Context, job models.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("push job %s: %w", job.ID, err)
	}
	return nil
}

// popBlock bounds each server-side BRPOP round. The client does not
// interrupt a blocked read when the context is cancelled, so an
// unbounded pop would never return on an idle queue; cancellation is
// observed between rounds instead.
const popBlock = time.Second

// Pop blocks until a job payload is available and returns its raw bytes.
// It waits in bounded rounds, so a cancelled context interrupts an idle
// pop within one round.
func (q *Queue) Pop(ctx context.Context) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		reply, err := q.client.BRPop(ctx, popBlock, q.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if len(reply) != 2 {
			return nil, fmt.Errorf("unexpected brpop reply length %d", len(reply))
		}
		return []byte(reply[1]), nil
	}
}

// Len reports the number of queued payloads.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}

// Remove deletes the first queued payload whose jobId matches the given id.
// It reports whether an entry was removed.
func (q *Queue) Remove(ctx context.Context, jobID string) (bool, error) {
	entries, err := q.client.LRange(ctx, q.key, 0, -1).Result()
	if err != nil {
		return false, fmt.Errorf("scan queue: %w", err)
	}
	for _, entry := range entries {
		var job models.Job
		if err := json.Unmarshal([]byte(entry), &job); err != nil {
			continue
		}
		if job.ID != jobID {
			continue
		}
		if err := q.client.LRem(ctx, q.key, 1, entry).Err(); err != nil {
			return false, fmt.Errorf("remove queue entry: %w", err)
		}
		return true, nil
	}
	return false, nil
}

// Contains reports whether a payload with the given jobId is queued.
func (q *Queue) Contains(ctx context.Context, jobID string) (bool, error) {
	entries, err := q.client.LRange(ctx, q.key, 0, -1).Result()
	if err != nil {
		return false, fmt.Errorf("scan queue: %w", err)
	}
	for _, entry := range entries {
		var job models.Job
		if err := json.Unmarshal([]byte(entry), &job); err != nil {
			continue
		}
		if job.ID == jobID {
			return true, nil
		}
	}
	return false, nil
}

// Purge drops the whole queue and returns how many payloads were discarded.
func (q *Queue) Purge(ctx context.Context) (int64, error) {
	length, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("queue length: %w", err)
	}
	if length == 0 {
		return 0, nil
	}
	if err := q.client.Del(ctx, q.key).Err(); err != nil {
		return 0, fmt.Errorf("purge queue: %w", err)
	}
	return length, nil
}
