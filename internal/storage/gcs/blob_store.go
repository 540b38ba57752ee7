// Package gcs archives blobs in a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
)

// objectWriter is the subset of *storage.Writer used here.
type objectWriter interface {
	io.WriteCloser
}

// BlobStore writes archived pages to a bucket.
type BlobStore struct {
	bucket    string
	newWriter func(ctx context.Context, path, contentType string) objectWriter
}

// New creates a GCS-backed blob store.
func New(client *storage.Client, bucket string) (*BlobStore, error) {
	if client == nil {
		return nil, errors.New("storage client is required")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("bucket name is required")
	}
	return &BlobStore{
		bucket: bucket,
		newWriter: func(ctx context.Context, path, contentType string) objectWriter {
			w := client.Bucket(bucket).Object(path).NewWriter(ctx)
			w.ContentType = contentType
			w.Metadata = map[string]string{"producer": "realtime-jobs-crawler"}
			return w
		},
	}, nil
}

// PutObject uploads r and returns a gs:// URI.
func (s *BlobStore) PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error) {
	path = strings.TrimLeft(path, "/")
	if strings.TrimSpace(path) == "" {
		return "", errors.New("path is required")
	}
	w := s.newWriter(ctx, path, contentType)
	if _, err := io.Copy(w, r); err != nil {
		if closeErr := w.Close(); closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, path), nil
}
