// Package storage persists exported files and returns locators clients can
// dereference. A Backend instance serves exactly one job and remembers what it
// stored so a failed job can be purged.
package storage

import (
	"context"
	"fmt"
	"path"

	"github.com/trobanga/geochain/internal/models"
)

// Backend is the destination of exported resources
type Backend interface {
	// Name identifies the backend in logs and stored resource records.
	Name() string

	// Setup prepares the destination and fails if it is unreachable or not writable.
	// It must succeed before Store is called.
	Setup(ctx context.Context) error

	// Store persists the file at localPath and returns its record.
	Store(ctx context.Context, localPath string) (models.StoredResource, error)

	// MovesSource reports whether Store consumes localPath.
	MovesSource() bool

	// Stored lists everything stored by this instance, in order.
	Stored() []models.StoredResource

	// RemoveAll deletes everything stored by this instance.
	RemoveAll(ctx context.Context) error

	Close() error
}

// Factory creates the backend instance of one job
type Factory func(ctx context.Context, userID, resourceID string) (Backend, error)

// NewFactory returns the factory for the configured backend
func NewFactory(cfg models.StorageConfig) (Factory, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Backend {
	case "local":
		return func(_ context.Context, userID, resourceID string) (Backend, error) {
			return NewLocal(cfg.Local, userID, resourceID), nil
		}, nil
	case "s3":
		return func(_ context.Context, userID, resourceID string) (Backend, error) {
			return NewS3(cfg.S3, userID, resourceID), nil
		}, nil
	case "gcs":
		return func(_ context.Context, userID, resourceID string) (Backend, error) {
			return NewGCS(cfg.GCS, userID, resourceID), nil
		}, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// objectKey builds <prefix>/<user>/<resource>/<file>
func objectKey(prefix, userID, resourceID, fileName string) string {
	return path.Join(prefix, userID, resourceID, fileName)
}
