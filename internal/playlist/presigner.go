// Package playlist serves stored playlists on the read path, rewriting
// segment references into time-limited signed retrieval URLs.
package playlist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"tubetunnel/internal/storage"
)

// ObjectKey returns the storage key for a job's file.
func ObjectKey(jobID, filename string) string {
	return jobID + "/" + filename
}

// Manifest is the playlist filename every job publishes.
const Manifest = "playlist.m3u8"

// Presigner rewrites a stored playlist so each segment line becomes a
// presigned URL valid for the configured expiry.
type Presigner struct {
	store  storage.ObjectStore
	bucket string
	expiry time.Duration
	logger *slog.Logger
}

// NewPresigner builds a Presigner over the media bucket.
func NewPresigner(store storage.ObjectStore, bucket string, expiry time.Duration, logger *slog.Logger) (*Presigner, error) {
	if store == nil {
		return nil, errors.New("object store is required")
	}
	if bucket == "" {
		return nil, errors.New("media bucket is required")
	}
	if expiry <= 0 {
		return nil, errors.New("presign expiry must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Presigner{store: store, bucket: bucket, expiry: expiry, logger: logger}, nil
}

// Playlist fetches the stored playlist for the job and returns its text with
// every segment line replaced by a presigned URL. A line whose signing fails
// falls back to its original text; only a missing playlist fails the whole
// call, with an error wrapping storage.ErrNotFound.
func (p *Presigner) Playlist(ctx context.Context, jobID string) (string, error) {
	manifestKey := ObjectKey(jobID, Manifest)
	exists, err := p.store.Exists(ctx, p.bucket, manifestKey)
	if err != nil {
		return "", fmt.Errorf("check playlist for %s: %w", jobID, err)
	}
	if !exists {
		return "", fmt.Errorf("playlist for %s: %w", jobID, storage.ErrNotFound)
	}

	data, err := p.store.Download(ctx, p.bucket, manifestKey)
	if err != nil {
		return "", fmt.Errorf("fetch playlist for %s: %w", jobID, err)
	}

	lines := strings.Split(string(data), "\n")
	for i, line := range lines {
		if !strings.HasSuffix(line, ".ts") {
			continue
		}
		signed, err := p.store.Presign(p.bucket, ObjectKey(jobID, line), p.expiry)
		if err != nil {
			p.logger.Error("presign segment failed", "job_id", jobID, "segment", line, "error", err)
			continue
		}
		lines[i] = signed
	}
	return strings.Join(lines, "\n"), nil
}
