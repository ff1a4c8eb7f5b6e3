// Package uploader streams finished segments to durable storage while the
// encoder is still producing them. It polls the job's working directory,
// uploads segments once a stability probe shows the encoder has closed
// them, and republishes the playlist so the stored copy never references a
// segment storage has not received.
package uploader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"tubetunnel/internal/playlist"
	"tubetunnel/internal/storage"
	"tubetunnel/internal/transcode"
)

// progressPerSegment is the capped heuristic advancing job progress as
// segments land; progress approaches but never reaches 1.0 until the job is
// explicitly marked completed.
const (
	progressPerSegment = 0.05
	progressCeiling    = 0.95
)

// ProgressSink receives fractional progress updates for a job.
type ProgressSink interface {
	SetProgress(ctx context.Context, jobID string, progress float64) error
}

// Config tunes the polling and retry behaviour.
type Config struct {
	// PollInterval is the delay between working-directory scans.
	PollInterval time.Duration
	// EarlyProbeDelay is the stability-probe delay used for the first
	// EarlySegmentCount segments, kept short to minimise time to first
	// playable segment. ProbeDelay applies thereafter.
	EarlyProbeDelay   time.Duration
	ProbeDelay        time.Duration
	EarlySegmentCount int
	// UploadAttempts bounds retries per segment upload; RetryDelay separates
	// attempts.
	UploadAttempts int
	RetryDelay     time.Duration
	// PlaylistMinPublish is the minimum time between playlist republishes.
	PlaylistMinPublish time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.EarlyProbeDelay <= 0 {
		c.EarlyProbeDelay = 100 * time.Millisecond
	}
	if c.ProbeDelay <= 0 {
		c.ProbeDelay = 300 * time.Millisecond
	}
	if c.EarlySegmentCount <= 0 {
		c.EarlySegmentCount = 3
	}
	if c.UploadAttempts <= 0 {
		c.UploadAttempts = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 2 * time.Second
	}
	if c.PlaylistMinPublish <= 0 {
		c.PlaylistMinPublish = 5 * time.Second
	}
	return c
}

// Uploader builds per-job sessions sharing one object store client.
type Uploader struct {
	objects  storage.ObjectStore
	bucket   string
	progress ProgressSink
	cfg      Config
	logger   *slog.Logger
}

// New wires an Uploader over the media bucket.
func New(objects storage.ObjectStore, bucket string, progress ProgressSink, cfg Config, logger *slog.Logger) (*Uploader, error) {
	if objects == nil {
		return nil, errors.New("object store is required")
	}
	if bucket == "" {
		return nil, errors.New("media bucket is required")
	}
	if progress == nil {
		return nil, errors.New("progress sink is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Uploader{objects: objects, bucket: bucket, progress: progress, cfg: cfg.withDefaults(), logger: logger}, nil
}

// Session tracks the upload state for one in-flight job. The uploaded set
// never shrinks during the job's lifetime and is guarded because both the
// polling loop and the post-exit final sweep touch it.
type Session struct {
	u       *Uploader
	jobID   string
	workDir string
	logger  *slog.Logger

	mu       sync.Mutex
	uploaded map[string]struct{}

	segments    int
	lastPublish time.Time
}

// Session starts tracking a job whose encoder writes into workDir.
func (u *Uploader) Session(jobID, workDir string) *Session {
	return &Session{
		u:        u,
		jobID:    jobID,
		workDir:  workDir,
		logger:   u.logger.With("job_id", jobID),
		uploaded: make(map[string]struct{}),
	}
}

// Run polls the working directory until ctx is cancelled, uploading
// stabilized segments and republishing the playlist as they land. It is
// meant to run concurrently with the transcode pipeline for the job's full
// duration.
func (s *Session) Run(ctx context.Context) {
	ticker := time.NewTicker(s.u.cfg.PollInterval)
	defer ticker.Stop()
	for {
		s.scan(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Session) scan(ctx context.Context) {
	entries, err := os.ReadDir(s.workDir)
	if err != nil {
		s.logger.Error("scan working directory failed", "error", err)
		return
	}
	newSegments := false
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".ts") {
			continue
		}
		if s.isUploaded(entry.Name()) {
			continue
		}
		path := filepath.Join(s.workDir, entry.Name())
		if !s.stable(path) {
			continue
		}
		if !s.uploadSegmentWithRetry(ctx, path, entry.Name()) {
			continue
		}
		s.markUploaded(entry.Name())
		newSegments = true
		s.advanceProgress(ctx)
		if err := os.Remove(path); err != nil {
			s.logger.Warn("remove uploaded segment failed", "segment", entry.Name(), "error", err)
		}
	}
	if newSegments && time.Since(s.lastPublish) >= s.u.cfg.PlaylistMinPublish {
		if err := s.publishPlaylist(ctx, false); err != nil {
			s.logger.Error("publish playlist failed", "error", err)
		} else {
			s.lastPublish = time.Now()
		}
	}
}

// stable samples the file size twice across a short delay and reports
// whether it held still. A file the encoder is still appending to is never
// treated as closed.
func (s *Session) stable(path string) bool {
	delay := s.u.cfg.ProbeDelay
	if s.segmentCount() < s.u.cfg.EarlySegmentCount {
		delay = s.u.cfg.EarlyProbeDelay
	}
	first, err := os.Stat(path)
	if err != nil {
		return false
	}
	time.Sleep(delay)
	second, err := os.Stat(path)
	if err != nil {
		return false
	}
	return first.Size() == second.Size()
}

func (s *Session) uploadSegmentWithRetry(ctx context.Context, path, name string) bool {
	for attempt := 1; ; attempt++ {
		err := s.uploadFile(ctx, path, name)
		if err == nil {
			s.logger.Info("segment uploaded", "segment", name, "total", s.segmentCount()+1)
			return true
		}
		s.logger.Error("segment upload failed", "segment", name, "attempt", attempt, "error", err)
		if attempt >= s.u.cfg.UploadAttempts {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(s.u.cfg.RetryDelay):
		}
	}
}

func (s *Session) uploadFile(ctx context.Context, path, name string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	key := playlist.ObjectKey(s.jobID, name)
	if err := s.u.objects.Upload(ctx, s.u.bucket, key, bytes.NewReader(data), storage.ContentTypeForSegment(name)); err != nil {
		return err
	}
	return nil
}

func (s *Session) advanceProgress(ctx context.Context) {
	count := s.segmentCount()
	progress := float64(count) * progressPerSegment
	if progress > progressCeiling {
		progress = progressCeiling
	}
	if err := s.u.progress.SetProgress(ctx, s.jobID, progress); err != nil {
		s.logger.Warn("progress update failed", "error", err)
	}
}

// publishPlaylist uploads the local playlist. Unless complete is set, lines
// referencing segments storage has not received yet are truncated away so
// the stored playlist never runs ahead of the segments behind it.
func (s *Session) publishPlaylist(ctx context.Context, complete bool) error {
	path := filepath.Join(s.workDir, playlist.Manifest)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read playlist: %w", err)
	}
	body := data
	if !complete {
		body = []byte(s.truncateToUploaded(string(data)))
	}
	key := playlist.ObjectKey(s.jobID, playlist.Manifest)
	if err := s.u.objects.Upload(ctx, s.u.bucket, key, bytes.NewReader(body), storage.ContentTypeForSegment(playlist.Manifest)); err != nil {
		return err
	}
	s.logger.Info("playlist published", "segments", s.segmentCount(), "complete", complete)
	return nil
}

// truncateToUploaded cuts the playlist at the first segment reference that
// has not landed in storage, dropping that segment's EXTINF tag and the
// end-of-list marker so players keep polling for the rest.
func (s *Session) truncateToUploaded(content string) string {
	lines := strings.Split(content, "\n")
	out := make([]string, 0, len(lines))
	truncated := false
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if strings.HasSuffix(line, ".ts") && !s.isUploaded(line) {
			if len(out) > 0 && strings.HasPrefix(out[len(out)-1], "#EXTINF") {
				out = out[:len(out)-1]
			}
			truncated = true
			break
		}
		out = append(out, line)
	}
	if truncated {
		for len(out) > 0 && strings.TrimSpace(out[len(out)-1]) == "#EXT-X-ENDLIST" {
			out = out[:len(out)-1]
		}
	}
	return strings.Join(out, "\n")
}

// FinalSweep runs after both external processes exit: it uploads any
// segment files the polling loop missed (one immediate retry each),
// publishes the complete playlist, then removes the working directory
// along with the credential file inside it. Playlist files are left to
// the publish step so the stored playlist never references segments
// that are not uploaded yet.
func (s *Session) FinalSweep(ctx context.Context) error {
	entries, err := os.ReadDir(s.workDir)
	if err != nil {
		return fmt.Errorf("final sweep scan: %w", err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".ts") {
			continue
		}
		if s.isUploaded(name) {
			continue
		}
		path := filepath.Join(s.workDir, name)
		if err := s.uploadFile(ctx, path, name); err != nil {
			s.logger.Error("final sweep upload failed, retrying", "file", name, "error", err)
			if err := s.uploadFile(ctx, path, name); err != nil {
				return fmt.Errorf("final sweep upload %s: %w", name, err)
			}
		}
		s.markUploaded(name)
	}
	if err := s.publishPlaylist(ctx, true); err != nil {
		return fmt.Errorf("final playlist publish: %w", err)
	}
	credential := filepath.Join(s.workDir, transcode.CredentialFile)
	if err := os.Remove(credential); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("remove credential file failed", "error", err)
	}
	if err := os.RemoveAll(s.workDir); err != nil {
		return fmt.Errorf("remove working directory: %w", err)
	}
	s.logger.Info("job artifacts uploaded", "segments", s.segmentCount())
	return nil
}

func (s *Session) isUploaded(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.uploaded[name]
	return ok
}

func (s *Session) markUploaded(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.uploaded[name]; !ok {
		s.uploaded[name] = struct{}{}
		s.segments++
	}
}

func (s *Session) segmentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.segments
}
