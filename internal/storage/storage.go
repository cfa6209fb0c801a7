package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Storage keeps capture artifacts written by the CLI. The HTTP service never
// persists captures.
type Storage interface {
	// Put stores data with the given key and returns the storage URL
	Put(ctx context.Context, key string, contentType string, data []byte) (string, error)
	// Get retrieves data from the given storage URL
	Get(ctx context.Context, url string) ([]byte, error)
}

// CaptureKey names a capture of target taken at t:
// capture/<first 16 hex chars of sha256(target)>/<timestamp>.<extension>
func CaptureKey(target string, t time.Time, extension string) string {
	sum := sha256.Sum256([]byte(target))
	return fmt.Sprintf("capture/%s/%s.%s", hex.EncodeToString(sum[:])[:16], t.UTC().Format("20060102150405"), extension)
}

func New(ctx context.Context, backend string, directory string, bucket string) (Storage, error) {
	switch backend {
	case "", "file":
		return NewFileStorage(ctx, FileConfig{Directory: directory})
	case "s3":
		return NewS3Storage(ctx, S3Config{Bucket: bucket})
	}
	return nil, fmt.Errorf("unknown storage backend: %s", backend)
}
