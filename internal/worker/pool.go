// Package worker consumes the job queue with a fixed pool of independent
// consumers and drives each dequeued job through the transcode pipeline.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"tubetunnel/internal/jobstore"
	"tubetunnel/internal/models"
	"tubetunnel/internal/observability/logging"
	"tubetunnel/internal/playlist"
	"tubetunnel/internal/queue"
	"tubetunnel/internal/storage"
)

// JobRunner executes a single job. It is satisfied by *Runner; tests
// substitute fakes.
type JobRunner interface {
	Process(ctx context.Context, job models.Job) error
}

// Pool runs a fixed number of consumers against the shared queue. A
// cooperative stop flag is checked once per loop iteration, never mid-job:
// a job already popped always runs to completion.
type Pool struct {
	queue       *queue.Queue
	store       *jobstore.Store
	objects     storage.ObjectStore
	mediaBucket string
	runner      JobRunner
	size        int
	logger      *slog.Logger

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewPool wires a Pool of size consumers.
func NewPool(q *queue.Queue, store *jobstore.Store, objects storage.ObjectStore, mediaBucket string, runner JobRunner, size int, logger *slog.Logger) (*Pool, error) {
	if q == nil || store == nil || objects == nil || runner == nil {
		return nil, errors.New("queue, job store, object store, and runner are required")
	}
	if mediaBucket == "" {
		return nil, errors.New("media bucket is required")
	}
	if size <= 0 {
		return nil, errors.New("pool size must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		queue:       q,
		store:       store,
		objects:     objects,
		mediaBucket: mediaBucket,
		runner:      runner,
		size:        size,
		logger:      logger,
	}, nil
}

// Start launches the consumers. Cancelling ctx, like Stop, interrupts
// idle pops so the process can exit; neither preempts a job in flight.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.running.Store(true)
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.consume(ctx, i)
	}
	p.logger.Info("worker pool started", "workers", p.size)
}

// Stop flips the cooperative flag and cancels the consumer context, which
// unblocks idle pops; whatever is already running finishes first. Wait
// for Join to know the pool has drained.
func (p *Pool) Stop() {
	p.running.Store(false)
	if p.cancel != nil {
		p.cancel()
	}
	p.logger.Info("worker pool stopping")
}

// Join blocks until every consumer has returned.
func (p *Pool) Join() {
	p.wg.Wait()
}

func (p *Pool) consume(ctx context.Context, id int) {
	defer p.wg.Done()
	logger := p.logger.With("worker", id)
	defer func() {
		if r := recover(); r != nil {
			// Contain the crash to this one consumer; the rest of the pool
			// keeps running.
			logger.Error("worker crashed", "panic", r)
		}
	}()
	for p.running.Load() {
		payload, err := p.queue.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("queue pop failed", "error", err)
			return
		}
		var job models.Job
		if err := json.Unmarshal(payload, &job); err != nil {
			// Malformed payloads are dropped, not requeued.
			logger.Error("discarding malformed job payload", "error", err)
			continue
		}
		// A popped job runs to completion regardless of shutdown. The job
		// id rides on the context so every log line below carries it.
		jobCtx := logging.ContextWithJobID(context.WithoutCancel(ctx), job.ID)
		jobLogger := logging.WithContext(jobCtx, logger)
		jobLogger.Info("job received")
		p.handle(jobCtx, job, jobLogger)
	}
}

func (p *Pool) handle(ctx context.Context, job models.Job, logger *slog.Logger) {
	// Idempotency guard: duplicates that slipped past the dedup gate, and
	// payloads with no identity, are settled without reprocessing.
	if job.ID == "" || p.artifactExists(ctx, job.ID) {
		logger.Info("job empty or already finished, marking completed")
		if err := p.store.SetStatus(ctx, job.ID, models.StatusCompleted); err != nil {
			logger.Error("status write failed", "error", err)
		}
		return
	}

	if err := p.store.SetStatus(ctx, job.ID, models.StatusProcessing); err != nil {
		logger.Error("status write failed", "error", err)
	}
	if err := p.store.SetProgress(ctx, job.ID, 0); err != nil {
		logger.Error("progress write failed", "error", err)
	}

	if err := p.runner.Process(ctx, job); err != nil {
		// The error is logged, not persisted; the job is not retried.
		logger.Error("job failed", "error", err)
		if err := p.store.SetStatus(ctx, job.ID, models.StatusFailed); err != nil {
			logger.Error("status write failed", "error", err)
		}
		return
	}

	if err := p.store.SetStatus(ctx, job.ID, models.StatusCompleted); err != nil {
		logger.Error("status write failed", "error", err)
	}
	if err := p.store.SetProgress(ctx, job.ID, 1.0); err != nil {
		logger.Error("progress write failed", "error", err)
	}
	logger.Info("job completed")
}

func (p *Pool) artifactExists(ctx context.Context, jobID string) bool {
	exists, err := p.objects.Exists(ctx, p.mediaBucket, playlist.ObjectKey(jobID, playlist.Manifest))
	if err != nil {
		p.logger.Warn("artifact check failed", "job_id", jobID, "error", err)
		return false
	}
	return exists
}
