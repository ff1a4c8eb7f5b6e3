// Package producer turns submissions into queued jobs. It owns the
// check-then-act sequence that guarantees at most one live enqueue per
// logical job under concurrent submitters, and serves the read side of job
// state.
package producer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"tubetunnel/internal/jobstore"
	"tubetunnel/internal/models"
	"tubetunnel/internal/playlist"
	"tubetunnel/internal/queue"
	"tubetunnel/internal/storage"
)

// ErrInvalidInput reports a malformed submission that was rejected before
// touching the queue.
var ErrInvalidInput = errors.New("invalid submission")

// Producer accepts submissions and conditionally enqueues them.
type Producer struct {
	store       *jobstore.Store
	queue       *queue.Queue
	objects     storage.ObjectStore
	mediaBucket string
	logger      *slog.Logger
}

// New wires a Producer. All collaborators are required.
func New(store *jobstore.Store, q *queue.Queue, objects storage.ObjectStore, mediaBucket string, logger *slog.Logger) (*Producer, error) {
	if store == nil || q == nil || objects == nil {
		return nil, errors.New("job store, queue, and object store are required")
	}
	if mediaBucket == "" {
		return nil, errors.New("media bucket is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Producer{store: store, queue: q, objects: objects, mediaBucket: mediaBucket, logger: logger}, nil
}

// Submit derives the job identity from the submission URL and enqueues the
// job unless it is already finished, known, or in flight. It returns the job
// id in every successful case; callers cannot tell "newly queued" from
// "deduplicated" through the return value.
func (p *Producer) Submit(ctx context.Context, sourceURL string, audioOnly bool) (string, error) {
	jobID, err := models.DeriveJobID(sourceURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	// Fast path: the finished playlist already exists, nothing to do.
	done, err := p.objects.Exists(ctx, p.mediaBucket, playlist.ObjectKey(jobID, playlist.Manifest))
	if err != nil {
		return "", fmt.Errorf("check artifact for %s: %w", jobID, err)
	}
	if done {
		p.logger.Info("job already completed, skipping queue", "job_id", jobID)
		return jobID, nil
	}

	// A status record means the job is already pending, running, or settled.
	known, err := p.store.HasStatus(ctx, jobID)
	if err != nil {
		return "", err
	}
	if known {
		p.logger.Info("job already known, skipping queue", "job_id", jobID)
		return jobID, nil
	}

	// The queue may still hold a payload whose status record and dedup
	// marker expired before a worker reached it; scanning it closes that
	// window.
	queued, err := p.queue.Contains(ctx, jobID)
	if err != nil {
		return "", err
	}
	if queued {
		p.logger.Info("job already queued, skipping queue", "job_id", jobID)
		return jobID, nil
	}

	if err := p.store.SetStatus(ctx, jobID, models.StatusPending); err != nil {
		return "", err
	}

	// The dedup marker closes the race between the checks above and the
	// push below: only the submitter that creates it may enqueue.
	created, err := p.store.MarkQueued(ctx, jobID)
	if err != nil {
		return "", err
	}
	if !created {
		p.logger.Info("duplicate submission suppressed", "job_id", jobID)
		return jobID, nil
	}

	job := models.Job{ID: jobID, SourceURL: sourceURL, AudioOnly: audioOnly}
	if err := p.queue.Push(ctx, job); err != nil {
		return "", err
	}
	p.logger.Info("job queued", "job_id", jobID, "audio_only", audioOnly)
	return jobID, nil
}

// GetStatus reports the job's current state. The terminal artifact in
// storage overrides whatever the status store holds; read failures degrade
// to "unknown" rather than surfacing an error.
func (p *Producer) GetStatus(ctx context.Context, jobID string) models.JobState {
	done, err := p.objects.Exists(ctx, p.mediaBucket, playlist.ObjectKey(jobID, playlist.Manifest))
	if err != nil {
		p.logger.Warn("artifact check failed", "job_id", jobID, "error", err)
	} else if done {
		complete := 1.0
		return models.JobState{Status: models.StatusCompleted, Progress: &complete}
	}

	status, err := p.store.Status(ctx, jobID)
	if err != nil {
		p.logger.Warn("status read failed", "job_id", jobID, "error", err)
		return models.JobState{Status: models.StatusUnknown}
	}
	progress, err := p.store.Progress(ctx, jobID)
	if err != nil {
		p.logger.Warn("progress read failed", "job_id", jobID, "error", err)
		progress = nil
	}
	return models.JobState{Status: status, Progress: progress}
}

// CleanJob removes the job's status, progress, and dedup-marker keys plus
// any matching queue entry, returning the exact count removed.
func (p *Producer) CleanJob(ctx context.Context, jobID string) (int64, error) {
	deleted, err := p.store.DeleteJobKeys(ctx, jobID)
	if err != nil {
		return deleted, err
	}
	removed, err := p.queue.Remove(ctx, jobID)
	if err != nil {
		return deleted, err
	}
	if removed {
		deleted++
	}
	p.logger.Info("job cleaned", "job_id", jobID, "deleted", deleted)
	return deleted, nil
}

// CleanAllJobs empties the queue and removes every job-prefixed key,
// returning the total count removed.
func (p *Producer) CleanAllJobs(ctx context.Context) (int64, error) {
	deleted, err := p.store.DeleteAllJobKeys(ctx)
	if err != nil {
		return deleted, err
	}
	purged, err := p.queue.Purge(ctx)
	if err != nil {
		return deleted, err
	}
	deleted += purged
	p.logger.Info("all jobs cleaned", "deleted", deleted)
	return deleted, nil
}
