package storage_test

import (
	"context"
	"errors"
	"testing"

	"tubetunnel/internal/storage"
	"tubetunnel/internal/testsupport/memstore"
)

func TestContentTypeForSegment(t *testing.T) {
	cases := map[string]string{
		"playlist.m3u8": "application/vnd.apple.mpegurl",
		"segment0.ts":   "video/mp2t",
		"cookie.txt":    "application/octet-stream",
	}
	for name, want := range cases {
		if got := storage.ContentTypeForSegment(name); got != want {
			t.Fatalf("ContentTypeForSegment(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestCredentialSourceRoundTrip(t *testing.T) {
	objects := memstore.New()
	source, err := storage.NewCredentialSource(objects, "credentials", "cookie.txt")
	if err != nil {
		t.Fatalf("new credential source: %v", err)
	}
	ctx := context.Background()

	if _, err := source.Fetch(ctx); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("fetch before save: error = %v, want %v", err, storage.ErrNotFound)
	}

	if err := source.Save(ctx, []byte("cookie-data")); err != nil {
		t.Fatalf("save: %v", err)
	}
	data, err := source.Fetch(ctx)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(data) != "cookie-data" {
		t.Fatalf("fetched credential = %q", data)
	}
	if ct := objects.ContentType("credentials", "cookie.txt"); ct != "text/plain" {
		t.Fatalf("credential content type = %q", ct)
	}
}

func TestCredentialSourceRejectsEmpty(t *testing.T) {
	objects := memstore.New()
	source, err := storage.NewCredentialSource(objects, "credentials", "cookie.txt")
	if err != nil {
		t.Fatalf("new credential source: %v", err)
	}
	if err := source.Save(context.Background(), nil); err == nil {
		t.Fatal("expected error for empty credential")
	}

	// An empty blob in storage is treated as missing configuration.
	objects.Put("credentials", "cookie.txt", nil)
	if _, err := source.Fetch(context.Background()); err == nil {
		t.Fatal("expected error for empty stored credential")
	}
}

func TestNewCredentialSourceValidation(t *testing.T) {
	objects := memstore.New()
	if _, err := storage.NewCredentialSource(nil, "bucket", "key"); err == nil {
		t.Fatal("expected error for nil store")
	}
	if _, err := storage.NewCredentialSource(objects, "", "key"); err == nil {
		t.Fatal("expected error for empty bucket")
	}
	if _, err := storage.NewCredentialSource(objects, "bucket", ""); err == nil {
		t.Fatal("expected error for empty key")
	}
}
