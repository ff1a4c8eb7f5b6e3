package playlist

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"tubetunnel/internal/storage"
	"tubetunnel/internal/testsupport/memstore"
)

const bucket = "videos"

func newPresigner(t *testing.T, objects *memstore.Store) *Presigner {
	t.Helper()
	p, err := NewPresigner(objects, bucket, 24*time.Hour, nil)
	if err != nil {
		t.Fatalf("new presigner: %v", err)
	}
	return p
}

func TestObjectKey(t *testing.T) {
	if got := ObjectKey("abc", "segment0.ts"); got != "abc/segment0.ts" {
		t.Fatalf("ObjectKey = %q", got)
	}
	if got := ObjectKey("abc", Manifest); got != "abc/playlist.m3u8" {
		t.Fatalf("ObjectKey manifest = %q", got)
	}
}

func TestPlaylistSignsSegmentLines(t *testing.T) {
	objects := memstore.New()
	manifest := strings.Join([]string{
		"#EXTM3U",
		"#EXT-X-VERSION:3",
		"#EXTINF:6.000000,",
		"segment0.ts",
		"#EXTINF:6.000000,",
		"segment1.ts",
		"#EXT-X-ENDLIST",
	}, "\n")
	objects.Put(bucket, ObjectKey("abc", Manifest), []byte(manifest))

	out, err := newPresigner(t, objects).Playlist(context.Background(), "abc")
	if err != nil {
		t.Fatalf("playlist: %v", err)
	}

	lines := strings.Split(out, "\n")
	if len(lines) != 7 {
		t.Fatalf("line count = %d, want 7", len(lines))
	}
	// Tag lines pass through untouched, in order.
	for _, i := range []int{0, 1, 2, 4, 6} {
		want := strings.Split(manifest, "\n")[i]
		if lines[i] != want {
			t.Fatalf("line %d = %q, want %q", i, lines[i], want)
		}
	}
	// Segment lines become signed URLs that still name their segment.
	for i, segment := range map[int]string{3: "segment0.ts", 5: "segment1.ts"} {
		if !strings.HasPrefix(lines[i], "https://") {
			t.Fatalf("line %d = %q, expected a signed url", i, lines[i])
		}
		if !strings.Contains(lines[i], "abc/"+segment) {
			t.Fatalf("line %d = %q, does not reference %s", i, lines[i], segment)
		}
	}
}

func TestPlaylistMissing(t *testing.T) {
	objects := memstore.New()
	_, err := newPresigner(t, objects).Playlist(context.Background(), "absent")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("error = %v, want %v", err, storage.ErrNotFound)
	}
}

func TestPlaylistSigningFailureFallsBack(t *testing.T) {
	objects := memstore.New()
	manifest := "#EXTM3U\n#EXTINF:6.000000,\nsegment0.ts\n#EXTINF:6.000000,\nsegment1.ts"
	objects.Put(bucket, ObjectKey("abc", Manifest), []byte(manifest))
	objects.PresignErr = func(bucket, key string) error {
		if strings.HasSuffix(key, "segment0.ts") {
			return errors.New("signer offline")
		}
		return nil
	}

	out, err := newPresigner(t, objects).Playlist(context.Background(), "abc")
	if err != nil {
		t.Fatalf("playlist: %v", err)
	}
	lines := strings.Split(out, "\n")
	if lines[2] != "segment0.ts" {
		t.Fatalf("failed segment line = %q, want original text", lines[2])
	}
	if !strings.HasPrefix(lines[4], "https://") {
		t.Fatalf("healthy segment line = %q, expected a signed url", lines[4])
	}
}

func TestNewPresignerValidation(t *testing.T) {
	objects := memstore.New()
	if _, err := NewPresigner(nil, bucket, time.Hour, nil); err == nil {
		t.Fatal("expected error for nil store")
	}
	if _, err := NewPresigner(objects, "", time.Hour, nil); err == nil {
		t.Fatal("expected error for empty bucket")
	}
	if _, err := NewPresigner(objects, bucket, 0, nil); err == nil {
		t.Fatal("expected error for zero expiry")
	}
}
