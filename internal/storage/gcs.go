package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"spa-cms/internal/logger"
)

// GCSStorage keeps files in a Google Cloud Storage bucket. The storage path
// is the object key.
type GCSStorage struct {
	client *storage.Client
	bucket string
	log    *logger.Logger
}

func NewGCSStorage(ctx context.Context, bucket string, log *logger.Logger, opts ...option.ClientOption) (*GCSStorage, error) {
	if bucket == "" {
		return nil, fmt.Errorf("gcs storage: bucket is required")
	}
	if log == nil {
		log = logger.Nop()
	}
	opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCSStorage{client: client, bucket: bucket, log: log.With("service", "GCSStorage", "bucket", bucket)}, nil
}

func (s *GCSStorage) Save(ctx context.Context, category, fileID, filename string, reader io.Reader) (string, error) {
	key := category + "/" + fileID + "/" + filename
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = ContentType(key)
	if w.ContentType == "" {
		w.ContentType = "application/octet-stream"
	}
	if _, err := io.Copy(w, reader); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("failed to write data to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to close GCS writer: %w", err)
	}
	s.log.Debug("object written", "key", key)
	return key, nil
}

// readCloserWithCancel releases the read deadline only once the caller is
// done with the object.
type readCloserWithCancel struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (r *readCloserWithCancel) Close() error {
	err := r.ReadCloser.Close()
	r.cancel()
	return err
}

func (s *GCSStorage) Open(ctx context.Context, storagePath string) (io.ReadCloser, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	r, err := s.client.Bucket(s.bucket).Object(storagePath).NewReader(ctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open GCS reader: %w", err)
	}
	return &readCloserWithCancel{ReadCloser: r, cancel: cancel}, nil
}

func (s *GCSStorage) Delete(ctx context.Context, storagePath string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	err := s.client.Bucket(s.bucket).Object(storagePath).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete GCS object %q: %w", storagePath, err)
	}
	return nil
}

// PublicBaseURL is the default URL prefix for objects of a public bucket.
func (s *GCSStorage) PublicBaseURL() string {
	return "https://storage.googleapis.com/" + s.bucket
}

func (s *GCSStorage) Close() error {
	return s.client.Close()
}
