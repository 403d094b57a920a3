package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

// GetEnv is a helper to read an environment variable or return a default value.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

const (
	uploadAttempts = 4
	uploadTimeout  = 50 * time.Second
)

// ObjectStore reads and writes Cloud Storage objects for the conversion
// backends, the office converter and the artifact sweep.
type ObjectStore struct {
	client *storage.Client
	// backoff is the delay before the first retry; it doubles per attempt.
	backoff time.Duration
}

func NewObjectStore(client *storage.Client) *ObjectStore {
	return &ObjectStore{client: client, backoff: time.Second}
}

// NewObjectStoreFromEnv creates its own storage client.
func NewObjectStoreFromEnv(ctx context.Context) (*ObjectStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Storage client: %w", err)
	}
	return NewObjectStore(client), nil
}

// Upload writes r to bucket/object. Seekable readers, such as staged files,
// are rewound and retried with a doubling backoff; anything else gets one
// attempt.
func (s *ObjectStore) Upload(ctx context.Context, bucket, object string, r io.Reader) error {
	seeker, canRetry := r.(io.Seeker)
	attempts := 1
	if canRetry {
		attempts = uploadAttempts
	}
	backoff := s.backoff
	var lastErr error

	for i := 0; i < attempts; i++ {
		if i > 0 {
			if _, err := seeker.Seek(0, io.SeekStart); err != nil {
				return fmt.Errorf("failed to rewind upload of %s: %w", object, err)
			}
		}
		err := s.write(ctx, s.client.Bucket(bucket).Object(object), r)
		if err == nil {
			return nil
		}
		lastErr = err
		if i == attempts-1 {
			break
		}
		slog.Warn(
			"Upload failed, will retry.",
			"gcsObject", object,
			"attempt", i+1,
			"maxRetries", attempts,
			"backoff", backoff.String(),
			"error", err,
		)
		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			slog.Error("Context cancelled during backoff. Aborting retries.", "gcsObject", object, "error", ctx.Err())
			return ctx.Err()
		}
	}
	return fmt.Errorf("upload of gs://%s/%s failed: %w", bucket, object, lastErr)
}

func (s *ObjectStore) write(ctx context.Context, obj *storage.ObjectHandle, r io.Reader) error {
	writeCtx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	w := obj.NewWriter(writeCtx)
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("io.Copy to GCS failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer (finalize upload): %w", err)
	}
	return nil
}

// Open streams bucket/object.
func (s *ObjectStore) Open(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
	rc, err := s.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get GCS object reader for gs://%s/%s: %w", bucket, object, err)
	}
	return rc, nil
}

// Exists reports whether bucket/object is present.
func (s *ObjectStore) Exists(ctx context.Context, bucket, object string) (bool, error) {
	_, err := s.client.Bucket(bucket).Object(object).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat gs://%s/%s: %w", bucket, object, err)
	}
	return true, nil
}

// SaveAtomically writes r to bucket/object only if the object does not exist
// yet. created is false when another writer got there first, which is not a
// failure in an idempotent flow.
func (s *ObjectStore) SaveAtomically(ctx context.Context, bucket, object string, r io.Reader) (created bool, err error) {
	obj := s.client.Bucket(bucket).Object(object).If(storage.Conditions{DoesNotExist: true})
	err = s.write(ctx, obj, r)
	if isPreconditionFailed(err) {
		slog.Info("Object already exists. Skipping.", "gcsObject", object)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to write to GCS: %w", err)
	}
	return true, nil
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}

// Sweep deletes objects under prefix created before cutoff and returns how
// many were removed. Deletion failures are logged and the sweep continues.
func (s *ObjectStore) Sweep(ctx context.Context, bucket, prefix string, cutoff time.Time) (int, error) {
	logCtx := slog.With("gcsBucket", bucket, "prefix", prefix, "cutoff", cutoff)
	it := s.client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	deleted := 0
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return deleted, fmt.Errorf("failed to list gs://%s/%s: %w", bucket, prefix, err)
		}
		if !expired(attrs, cutoff) {
			continue
		}
		err = s.client.Bucket(bucket).Object(attrs.Name).If(storage.Conditions{GenerationMatch: attrs.Generation}).Delete(ctx)
		switch {
		case err == nil:
			deleted++
		case errors.Is(err, storage.ErrObjectNotExist), isPreconditionFailed(err):
			// Removed or replaced concurrently.
		default:
			logCtx.Warn("Failed to delete expired object.", "gcsObject", attrs.Name, "error", err)
		}
	}
	logCtx.Info("Sweep complete.", "deleted", deleted)
	return deleted, nil
}

func expired(attrs *storage.ObjectAttrs, cutoff time.Time) bool {
	return attrs.Prefix == "" && !attrs.Created.IsZero() && attrs.Created.Before(cutoff)
}
