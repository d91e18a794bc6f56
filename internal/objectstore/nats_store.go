// Package objectstore provides NATS JetStream object store buckets for
// narration scripts, finished audio and the synthesis staging area.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Config describes a bucket. A zero TTL keeps objects forever.
type Config struct {
	Bucket      string
	Description string
	TTL         time.Duration
}

// Store implements core.ObjectStore and core.StagingStore on a NATS
// JetStream object store bucket.
type Store struct {
	bucket string
	store  nats.ObjectStore
}

// New creates the bucket described by cfg, or binds to it if it exists.
func New(jetstreamContext nats.JetStreamContext, cfg Config) (*Store, error) {
	description := cfg.Description
	if description == "" {
		description = fmt.Sprintf("Storage for the %s bucket.", cfg.Bucket)
	}

	store, err := jetstreamContext.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      cfg.Bucket,
		Description: description,
		TTL:         cfg.TTL,
		MaxBytes:    0,
		Storage:     nats.FileStorage,
		Replicas:    1,
		Placement:   nil,
		Metadata:    nil,
		Compression: false,
	})
	if err != nil {
		if !errors.Is(err, jetstream.ErrBucketExists) {
			return nil, fmt.Errorf("failed to create object store bucket '%s': %w", cfg.Bucket, err)
		}

		store, err = jetstreamContext.ObjectStore(cfg.Bucket)
		if err != nil {
			return nil, fmt.Errorf("failed to bind to existing object store bucket '%s': %w", cfg.Bucket, err)
		}
	}

	return &Store{
		bucket: cfg.Bucket,
		store:  store,
	}, nil
}

// Bucket returns the bucket name.
func (s *Store) Bucket() string {
	return s.bucket
}

// Download retrieves an object into memory.
func (s *Store) Download(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.store.Get(key, nats.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to get object '%s' from bucket '%s': %w", key, s.bucket, err)
	}

	data, readErr := io.ReadAll(obj)
	closeErr := obj.Close()

	if readErr != nil {
		return nil, fmt.Errorf("failed to read object '%s': %w", key, readErr)
	}

	if closeErr != nil {
		return data, fmt.Errorf("failed to close object '%s': %w", key, closeErr)
	}

	return data, nil
}

// DownloadToFile streams an object to path without buffering it in memory.
func (s *Store) DownloadToFile(ctx context.Context, key, path string) error {
	err := s.store.GetFile(key, path, nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("failed to get object '%s' from bucket '%s' into '%s': %w", key, s.bucket, path, err)
	}

	return nil
}

// Upload saves an object.
func (s *Store) Upload(ctx context.Context, key string, data []byte) error {
	reader := bytes.NewReader(data)

	_, err := s.store.Put(&nats.ObjectMeta{
		Name:        key,
		Description: "",
		Headers:     nil,
		Metadata:    nil,
		Opts:        nil,
	}, reader, nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("failed to put object '%s' to bucket '%s': %w", key, s.bucket, err)
	}

	return nil
}

// Delete removes an object. Deleting a missing object is not an error.
func (s *Store) Delete(_ context.Context, key string) error {
	err := s.store.Delete(key)
	if err != nil && !errors.Is(err, nats.ErrObjectNotFound) {
		return fmt.Errorf("failed to delete object '%s' from bucket '%s': %w", key, s.bucket, err)
	}

	return nil
}
