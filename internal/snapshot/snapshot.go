// Package snapshot archives scraped page markup for audit and reprocessing.
package snapshot

import (
	"context"
	"fmt"
	"path"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
)

// Archive stores raw page snapshots keyed by lead and URL.
type Archive interface {
	Save(ctx context.Context, objectName string, data []byte) error
}

// ObjectName builds a deterministic archive key for one page visit.
func ObjectName(prefix, ownerID, leadID string, visitedAt time.Time) string {
	return path.Join(prefix, ownerID, visitedAt.UTC().Format("2006/01/02"), leadID+".html")
}

// NoOpArchive discards snapshots.
type NoOpArchive struct{}

// Save does nothing.
func (NoOpArchive) Save(_ context.Context, _ string, _ []byte) error { return nil }

// GCSArchive writes snapshots to a Google Cloud Storage bucket.
// Authentication uses Application Default Credentials.
type GCSArchive struct {
	client *storage.Client
	bucket string
	logger *zap.Logger
}

// NewGCSArchive connects and verifies the bucket up front so a typoed
// bucket name fails at startup, not mid-job.
func NewGCSArchive(ctx context.Context, bucket string, logger *zap.Logger) (*GCSArchive, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	if _, err := client.Bucket(bucket).Attrs(ctx); err != nil {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("closing gcs client after bucket check failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("gcs bucket %q: %w", bucket, err)
	}
	return &GCSArchive{client: client, bucket: bucket, logger: logger}, nil
}

// Save uploads one snapshot object.
func (g *GCSArchive) Save(ctx context.Context, objectName string, data []byte) error {
	w := g.client.Bucket(g.bucket).Object(objectName).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		if closeErr := w.Close(); closeErr != nil {
			g.logger.Warn("closing gcs writer after write failure", zap.Error(closeErr))
		}
		return fmt.Errorf("write gcs object %s: %w", objectName, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize gcs object %s: %w", objectName, err)
	}
	return nil
}

// Close releases the client.
func (g *GCSArchive) Close() error {
	return g.client.Close()
}
