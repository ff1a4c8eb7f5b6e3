package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
)

// CredentialSource fetches the fetch-stage credential blob from its
// well-known location. The blob is retrieved fresh for every job so rotated
// credentials take effect without a restart.
type CredentialSource struct {
	store  ObjectStore
	bucket string
	key    string
}

// NewCredentialSource builds a source reading bucket/key from the store.
func NewCredentialSource(store ObjectStore, bucket, key string) (*CredentialSource, error) {
	if store == nil {
		return nil, errors.New("object store is required")
	}
	if bucket == "" || key == "" {
		return nil, errors.New("credential bucket and key are required")
	}
	return &CredentialSource{store: store, bucket: bucket, key: key}, nil
}

// Fetch returns the credential contents, or an error wrapping ErrNotFound
// when the blob has not been uploaded yet.
func (c *CredentialSource) Fetch(ctx context.Context) ([]byte, error) {
	data, err := c.store.Download(ctx, c.bucket, c.key)
	if err != nil {
		return nil, fmt.Errorf("fetch credential: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("credential %s/%s is empty", c.bucket, c.key)
	}
	return data, nil
}

// Save stores new credential contents at the well-known location,
// overwriting any previous blob.
func (c *CredentialSource) Save(ctx context.Context, contents []byte) error {
	if len(contents) == 0 {
		return errors.New("credential contents are empty")
	}
	if err := c.store.Upload(ctx, c.bucket, c.key, bytes.NewReader(contents), "text/plain"); err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	return nil
}
