// Command worker consumes queued transcode jobs and runs them to completion.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"tubetunnel/internal/bootstrap"
	"tubetunnel/internal/config"
	"tubetunnel/internal/jobstore"
	"tubetunnel/internal/observability/logging"
	"tubetunnel/internal/queue"
	"tubetunnel/internal/storage"
	"tubetunnel/internal/transcode"
	"tubetunnel/internal/uploader"
	"tubetunnel/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Init(logging.Config{}).Error("load configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := bootstrap.ConnectRedis(ctx, cfg, logger)
	if err != nil {
		logger.Error("connect redis", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	objects, err := bootstrap.OpenStorage(ctx, cfg, logger)
	if err != nil {
		logger.Error("open storage", "error", err)
		os.Exit(1)
	}

	store, err := jobstore.New(client, cfg.StatusTTL, cfg.DedupTTL)
	if err != nil {
		logger.Error("build job store", "error", err)
		os.Exit(1)
	}
	jobQueue, err := queue.New(client, cfg.QueueKey)
	if err != nil {
		logger.Error("build queue", "error", err)
		os.Exit(1)
	}
	credentials, err := storage.NewCredentialSource(objects, cfg.CredentialBucket, cfg.CredentialKey)
	if err != nil {
		logger.Error("build credential source", "error", err)
		os.Exit(1)
	}
	pipeline, err := transcode.New(transcode.Config{
		FetchCommand:    cfg.FetchCommand,
		EncodeCommand:   cfg.EncodeCommand,
		SegmentSeconds:  cfg.SegmentSecs,
		StrictExitCodes: cfg.StrictExitCodes,
	}, credentials, logging.WithComponent(logger, "transcode"))
	if err != nil {
		logger.Error("build pipeline", "error", err)
		os.Exit(1)
	}
	uploads, err := uploader.New(objects, cfg.MediaBucket, store, uploader.Config{
		PollInterval:       cfg.PollInterval,
		EarlyProbeDelay:    cfg.EarlyProbeDelay,
		ProbeDelay:         cfg.ProbeDelay,
		EarlySegmentCount:  cfg.EarlySegmentCount,
		UploadAttempts:     cfg.UploadAttempts,
		RetryDelay:         cfg.UploadRetryDelay,
		PlaylistMinPublish: cfg.PlaylistMinPublish,
	}, logging.WithComponent(logger, "uploader"))
	if err != nil {
		logger.Error("build uploader", "error", err)
		os.Exit(1)
	}
	runner, err := worker.NewRunner(pipeline, uploads, logging.WithComponent(logger, "runner"))
	if err != nil {
		logger.Error("build runner", "error", err)
		os.Exit(1)
	}
	pool, err := worker.NewPool(jobQueue, store, objects, cfg.MediaBucket, runner, cfg.WorkerCount, logging.WithComponent(logger, "pool"))
	if err != nil {
		logger.Error("build pool", "error", err)
		os.Exit(1)
	}

	pool.Start(ctx)

	<-ctx.Done()
	logger.Info("shutdown requested, draining workers")
	pool.Stop()
	pool.Join()
	logger.Info("worker stopped")
}
