// Package storage wraps the S3-compatible object store holding finished
// media segments, playlists, and the fetch-stage credential blob.
package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"
)

// ErrNotFound reports that a requested object does not exist.
var ErrNotFound = errors.New("object not found")

// ObjectStore is the storage surface the pipeline depends on. The S3
// implementation is safe for concurrent use; tests substitute in-memory
// fakes.
type ObjectStore interface {
	// Upload stores body under bucket/key, overwriting any existing object.
	Upload(ctx context.Context, bucket, key string, body io.Reader, contentType string) error
	// Download returns the full contents of bucket/key, or ErrNotFound.
	Download(ctx context.Context, bucket, key string) ([]byte, error)
	// Exists reports whether bucket/key holds an object.
	Exists(ctx context.Context, bucket, key string) (bool, error)
	// Presign issues a time-limited credential-free retrieval URL for
	// bucket/key.
	Presign(bucket, key string, expiry time.Duration) (string, error)
	// PurgeBucket deletes every object in the bucket and returns the count
	// removed.
	PurgeBucket(ctx context.Context, bucket string) (int64, error)
	// EnsureBucket creates the bucket when it does not already exist.
	EnsureBucket(ctx context.Context, bucket string) error
}

// ContentTypeForSegment maps media filenames to upload content types.
func ContentTypeForSegment(name string) string {
	switch {
	case strings.HasSuffix(name, ".m3u8"):
		return "application/vnd.apple.mpegurl"
	case strings.HasSuffix(name, ".ts"):
		return "video/mp2t"
	default:
		return "application/octet-stream"
	}
}
