// Command api starts the HTTP service that accepts submissions and serves
// job status and presigned playlists.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"tubetunnel/internal/api"
	"tubetunnel/internal/bootstrap"
	"tubetunnel/internal/config"
	"tubetunnel/internal/jobstore"
	"tubetunnel/internal/observability/logging"
	"tubetunnel/internal/playlist"
	"tubetunnel/internal/producer"
	"tubetunnel/internal/queue"
	"tubetunnel/internal/serverutil"
	"tubetunnel/internal/storage"
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
	submitter, err := producer.New(store, jobQueue, objects, cfg.MediaBucket, logging.WithComponent(logger, "producer"))
	if err != nil {
		logger.Error("build producer", "error", err)
		os.Exit(1)
	}
	presigner, err := playlist.NewPresigner(objects, cfg.MediaBucket, cfg.PresignTTL, logging.WithComponent(logger, "presigner"))
	if err != nil {
		logger.Error("build presigner", "error", err)
		os.Exit(1)
	}
	credentials, err := storage.NewCredentialSource(objects, cfg.CredentialBucket, cfg.CredentialKey)
	if err != nil {
		logger.Error("build credential source", "error", err)
		os.Exit(1)
	}
	handler, err := api.NewHandler(submitter, presigner, credentials, objects, cfg.MediaBucket, logging.WithComponent(logger, "api"))
	if err != nil {
		logger.Error("build handler", "error", err)
		os.Exit(1)
	}

	if cfg.CleanupSchedule != "" {
		scheduler := cron.New()
		if _, err := scheduler.AddFunc(cfg.CleanupSchedule, func() {
			deleted, err := objects.PurgeBucket(context.Background(), cfg.MediaBucket)
			if err != nil {
				logger.Error("scheduled storage cleanup failed", "error", err)
				return
			}
			logger.Info("scheduled storage cleanup finished", "deleted", deleted)
		}); err != nil {
			logger.Error("register cleanup schedule", "schedule", cfg.CleanupSchedule, "error", err)
			os.Exit(1)
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.NewRouter(handler, cfg.AllowedOrigins),
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info("api listening", "addr", cfg.ListenAddr)
	if err := serverutil.Run(ctx, serverutil.Config{Server: server}); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("api stopped")
}
