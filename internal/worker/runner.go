package worker

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"tubetunnel/internal/models"
	"tubetunnel/internal/observability/logging"
	"tubetunnel/internal/transcode"
	"tubetunnel/internal/uploader"
)

// Runner executes one job end to end: it prepares the working directory,
// runs the transcode pipeline, and keeps the progressive uploader streaming
// segments alongside it until the final sweep finishes.
type Runner struct {
	pipeline *transcode.Pipeline
	uploads  *uploader.Uploader
	logger   *slog.Logger
}

// NewRunner wires a Runner.
func NewRunner(pipeline *transcode.Pipeline, uploads *uploader.Uploader, logger *slog.Logger) (*Runner, error) {
	if pipeline == nil || uploads == nil {
		return nil, errors.New("pipeline and uploader are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{pipeline: pipeline, uploads: uploads, logger: logger}, nil
}

// Process runs the job to completion. Three tasks run concurrently inside:
// the pipe copy and process supervision owned by the pipeline, and the
// uploader session polling the shared working directory. The uploader is
// stopped once both processes have exited, then the final sweep publishes
// everything that remains.
func (r *Runner) Process(ctx context.Context, job models.Job) error {
	logger := logging.WithContext(ctx, r.logger)
	workDir, err := r.pipeline.Prepare(ctx, job)
	if err != nil {
		return err
	}
	cleanup := true
	defer func() {
		if cleanup {
			if err := os.RemoveAll(workDir); err != nil {
				logger.Warn("remove working directory failed", "error", err)
			}
		}
	}()

	session := r.uploads.Session(job.ID, workDir)
	uploadCtx, stopUploader := context.WithCancel(ctx)
	uploaderDone := make(chan struct{})
	go func() {
		defer close(uploaderDone)
		session.Run(uploadCtx)
	}()

	pipelineErr := r.pipeline.Run(ctx, job, workDir)
	stopUploader()
	<-uploaderDone

	if pipelineErr != nil {
		return pipelineErr
	}
	if err := session.FinalSweep(ctx); err != nil {
		return err
	}
	// FinalSweep already removed the working directory.
	cleanup = false
	return nil
}
