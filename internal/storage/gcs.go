package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/trobanga/geochain/internal/lib"
	"github.com/trobanga/geochain/internal/models"
)

// GCS uploads files to a Google Cloud Storage bucket. The source file is kept.
type GCS struct {
	cfg        models.GCSStorageConfig
	userID     string
	resourceID string
	client     *gcs.Client
	stored     []models.StoredResource
}

// NewGCS creates the GCS backend of one job. The client is created by Setup.
func NewGCS(cfg models.GCSStorageConfig, userID, resourceID string) *GCS {
	return &GCS{cfg: cfg, userID: userID, resourceID: resourceID}
}

func (g *GCS) Name() string { return "gcs" }

func (g *GCS) MovesSource() bool { return false }

func (g *GCS) destination() string {
	return "gs://" + g.cfg.Bucket + "/" + objectKey(g.cfg.Prefix, g.userID, g.resourceID, "")
}

// Setup connects and reads the bucket attributes
func (g *GCS) Setup(ctx context.Context) error {
	var opts []option.ClientOption
	if g.cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(g.cfg.CredentialsFile))
	}

	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return lib.ErrStorageUnreachable(g.Name(), g.destination(), err)
	}

	if _, err := client.Bucket(g.cfg.Bucket).Attrs(ctx); err != nil {
		_ = client.Close()
		return lib.ErrStorageUnreachable(g.Name(), g.destination(), err)
	}

	g.client = client
	return nil
}

func (g *GCS) Store(ctx context.Context, localPath string) (models.StoredResource, error) {
	if g.client == nil {
		return models.StoredResource{}, fmt.Errorf("gcs storage used before setup")
	}

	key := objectKey(g.cfg.Prefix, g.userID, g.resourceID, filepath.Base(localPath))
	locator := "gs://" + g.cfg.Bucket + "/" + key

	f, err := os.Open(localPath)
	if err != nil {
		return models.StoredResource{}, fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer f.Close()

	w := g.client.Bucket(g.cfg.Bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType(localPath)
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return models.StoredResource{}, lib.ErrStorageUnreachable(g.Name(), locator, err)
	}
	if err := w.Close(); err != nil {
		return models.StoredResource{}, lib.ErrStorageUnreachable(g.Name(), locator, err)
	}

	resource := models.StoredResource{
		SourcePath: localPath,
		Locator:    locator,
		Backend:    g.Name(),
		Key:        key,
	}
	g.stored = append(g.stored, resource)
	return resource, nil
}

func (g *GCS) Stored() []models.StoredResource {
	return append([]models.StoredResource{}, g.stored...)
}

// RemoveAll deletes every object stored by this instance and returns the first error
func (g *GCS) RemoveAll(ctx context.Context) error {
	if g.client == nil {
		return nil
	}
	var firstErr error
	var remaining []models.StoredResource
	for _, r := range g.stored {
		err := g.client.Bucket(g.cfg.Bucket).Object(r.Key).Delete(ctx)
		if err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to remove %s: %w", r.Locator, err)
			}
			remaining = append(remaining, r)
		}
	}
	g.stored = remaining
	return firstErr
}

func (g *GCS) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}
