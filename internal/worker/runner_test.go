package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tubetunnel/internal/models"
	"tubetunnel/internal/playlist"
	"tubetunnel/internal/storage"
	"tubetunnel/internal/testsupport/memstore"
	"tubetunnel/internal/transcode"
	"tubetunnel/internal/uploader"
)

type nullSink struct{}

func (nullSink) SetProgress(ctx context.Context, jobID string, progress float64) error {
	return nil
}

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write script %s: %v", name, err)
	}
	return path
}

func newRunner(t *testing.T, objects *memstore.Store, fetchBody, encodeBody string) *Runner {
	t.Helper()
	scripts := t.TempDir()
	fetch := writeScript(t, scripts, "fetch.sh", fetchBody)
	encode := writeScript(t, scripts, "encode.sh", encodeBody)

	credentials, err := storage.NewCredentialSource(objects, "credentials", "cookie.txt")
	if err != nil {
		t.Fatalf("new credential source: %v", err)
	}
	pipeline, err := transcode.New(transcode.Config{
		FetchCommand:   fetch,
		EncodeCommand:  encode,
		SegmentSeconds: 6,
	}, credentials, nil)
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	uploads, err := uploader.New(objects, mediaBucket, nullSink{}, uploader.Config{
		PollInterval:       10 * time.Millisecond,
		EarlyProbeDelay:    time.Millisecond,
		ProbeDelay:         time.Millisecond,
		RetryDelay:         5 * time.Millisecond,
		PlaylistMinPublish: time.Millisecond,
	}, nil)
	if err != nil {
		t.Fatalf("new uploader: %v", err)
	}
	runner, err := NewRunner(pipeline, uploads, nil)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	return runner
}

func TestProcessEndToEnd(t *testing.T) {
	objects := memstore.New()
	objects.Put("credentials", "cookie.txt", []byte("cookie-data"))

	// The encode stage drains stdin, then drops a segment and a playlist
	// into its working directory the way the real encoder would.
	runner := newRunner(t, objects,
		"printf 'raw-media'",
		`cat > /dev/null
printf 'segment-bytes' > segment0.ts
printf '#EXTM3U\n#EXTINF:6.000000,\nsegment0.ts\n#EXT-X-ENDLIST\n' > playlist.m3u8`,
	)

	job := models.Job{ID: "runner-e2e", SourceURL: "https://example.com/watch?v=runner-e2e"}
	if err := runner.Process(context.Background(), job); err != nil {
		t.Fatalf("process: %v", err)
	}

	data, ok := objects.Object(mediaBucket, playlist.ObjectKey(job.ID, "segment0.ts"))
	if !ok {
		t.Fatal("segment was not uploaded")
	}
	if string(data) != "segment-bytes" {
		t.Fatalf("segment content = %q", data)
	}
	manifest, ok := objects.Object(mediaBucket, playlist.ObjectKey(job.ID, playlist.Manifest))
	if !ok {
		t.Fatal("playlist was not uploaded")
	}
	if !strings.Contains(string(manifest), "#EXT-X-ENDLIST") {
		t.Fatalf("final playlist missing end marker:\n%s", manifest)
	}
	if _, ok := objects.Object(mediaBucket, playlist.ObjectKey(job.ID, transcode.CredentialFile)); ok {
		t.Fatal("credential file leaked into the media bucket")
	}
	if _, err := os.Stat(transcode.WorkDir(job.ID)); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("working directory was not cleaned up")
	}
}

func TestProcessFailsWithoutCredential(t *testing.T) {
	objects := memstore.New()
	runner := newRunner(t, objects, "printf 'data'", "cat > /dev/null")

	job := models.Job{ID: "no-cred-run", SourceURL: "https://example.com/watch?v=no-cred-run"}
	err := runner.Process(context.Background(), job)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("error = %v, want %v", err, storage.ErrNotFound)
	}
}

func TestProcessRemovesWorkDirWithoutArtifacts(t *testing.T) {
	objects := memstore.New()
	objects.Put("credentials", "cookie.txt", []byte("cookie-data"))

	// The encoder produces nothing. The job still settles and its working
	// directory must not be left behind.
	runner := newRunner(t, objects, "printf 'data'", "exit 0")

	job := models.Job{ID: "cleanup-check", SourceURL: "https://example.com/watch?v=cleanup-check"}
	if err := runner.Process(context.Background(), job); err != nil {
		t.Fatalf("process: %v", err)
	}
	if _, err := os.Stat(transcode.WorkDir(job.ID)); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("working directory survived the job")
	}
}
