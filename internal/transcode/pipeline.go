// Package transcode drives the per-job external pipeline: a fetch process
// streaming raw media to standard output, chained by a byte pipe into an
// encode process that writes fixed-duration segments and a playlist into
// the job's working directory.
package transcode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"tubetunnel/internal/models"
	"tubetunnel/internal/playlist"
	"tubetunnel/internal/storage"
)

// CredentialFile is the name the fetch-stage credential is materialized
// under inside the working directory.
const CredentialFile = "cookie.txt"

// Config controls how the external processes are spawned.
type Config struct {
	FetchCommand   string
	EncodeCommand  string
	SegmentSeconds int
	// StrictExitCodes turns a non-zero exit of either process into a
	// pipeline error. Historically completion was determined purely by both
	// processes exiting, so a fetch failure producing zero output still
	// counted as success; this switch opts into the stricter check without
	// changing the default.
	StrictExitCodes bool
}

// Pipeline spawns and supervises the fetch and encode processes for one job
// at a time. A single Pipeline may be shared across workers; each Run owns
// only per-call state.
type Pipeline struct {
	cfg         Config
	credentials *storage.CredentialSource
	logger      *slog.Logger
}

// New builds a Pipeline. credentials supplies the fetch-stage credential
// blob, fetched fresh per job.
func New(cfg Config, credentials *storage.CredentialSource, logger *slog.Logger) (*Pipeline, error) {
	if cfg.FetchCommand == "" || cfg.EncodeCommand == "" {
		return nil, errors.New("fetch and encode commands are required")
	}
	if cfg.SegmentSeconds <= 0 {
		return nil, errors.New("segment duration must be positive")
	}
	if credentials == nil {
		return nil, errors.New("credential source is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{cfg: cfg, credentials: credentials, logger: logger}, nil
}

// WorkDir returns the private working directory path for a job.
func WorkDir(jobID string) string {
	return filepath.Join(os.TempDir(), "video-"+jobID)
}

// Prepare creates the job's working directory and materializes the
// credential file inside it, returning the directory path. Any error here
// is fatal for the job.
func (p *Pipeline) Prepare(ctx context.Context, job models.Job) (string, error) {
	workDir := WorkDir(job.ID)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return "", fmt.Errorf("create working directory: %w", err)
	}
	credential, err := p.credentials.Fetch(ctx)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(workDir, CredentialFile), credential, 0o600); err != nil {
		return "", fmt.Errorf("write credential file: %w", err)
	}
	return workDir, nil
}

// Run spawns both processes and blocks until each has exited. The two are
// connected by a direct byte copy, so the encode stage blocks on read when
// starved and the fetch stage blocks on write when the encoder lags,
// bounded only by pipe buffering. Unless StrictExitCodes is set, exit
// status is not inspected: both processes exiting is completion.
func (p *Pipeline) Run(ctx context.Context, job models.Job, workDir string) error {
	cookiePath := filepath.Join(workDir, CredentialFile)
	playlistPath := filepath.Join(workDir, playlist.Manifest)
	logger := p.logger.With("job_id", job.ID)

	fetch := exec.CommandContext(ctx, p.cfg.FetchCommand, fetchArgs(job.SourceURL, cookiePath, job.AudioOnly)...)
	fetch.Stderr = newLogWriter(p.logger, job.ID, "fetch", "stderr")
	fetchOut, err := fetch.StdoutPipe()
	if err != nil {
		return fmt.Errorf("fetch stdout pipe: %w", err)
	}

	encode := exec.CommandContext(ctx, p.cfg.EncodeCommand, encodeArgs(playlistPath, p.cfg.SegmentSeconds, job.AudioOnly)...)
	encode.Dir = workDir
	encode.Stderr = newLogWriter(p.logger, job.ID, "encode", "stderr")
	encodeIn, err := encode.StdinPipe()
	if err != nil {
		return fmt.Errorf("encode stdin pipe: %w", err)
	}

	if err := fetch.Start(); err != nil {
		return fmt.Errorf("start fetch process: %w", err)
	}
	if err := encode.Start(); err != nil {
		// The fetch process is already running; reap it before failing.
		_ = fetchOut.Close()
		_ = fetch.Wait()
		return fmt.Errorf("start encode process: %w", err)
	}
	logger.Info("pipeline started", "audio_only", job.AudioOnly)

	var group errgroup.Group
	group.Go(func() error {
		// Copy errors are expected when either process dies early; the
		// waits decide the outcome.
		if _, err := io.Copy(encodeIn, fetchOut); err != nil {
			logger.Debug("pipe copy ended", "error", err)
			// An early encoder exit can leave the fetch process blocked
			// writing; closing its stdout unblocks it so Wait can reap it.
			_ = fetchOut.Close()
		}
		if err := encodeIn.Close(); err != nil {
			logger.Debug("close encode stdin", "error", err)
		}
		// Wait closes the stdout pipe, so it must only run once the copy
		// has drained it; calling it sooner drops the buffered tail of
		// the stream.
		err := fetch.Wait()
		if err != nil {
			logger.Warn("fetch process exited with error", "error", err)
			if p.cfg.StrictExitCodes {
				return fmt.Errorf("fetch process: %w", err)
			}
		}
		return nil
	})
	group.Go(func() error {
		err := encode.Wait()
		if err != nil {
			logger.Warn("encode process exited with error", "error", err)
			if p.cfg.StrictExitCodes {
				return fmt.Errorf("encode process: %w", err)
			}
		}
		return nil
	})
	if err := group.Wait(); err != nil {
		return err
	}
	logger.Info("pipeline processes exited")
	return nil
}
