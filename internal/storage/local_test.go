package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trobanga/geochain/internal/lib"
	"github.com/trobanga/geochain/internal/models"
)

func writeExport(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLocal_StoreMovesSource(t *testing.T) {
	ctx := context.Background()
	baseDir := t.TempDir()
	backend := NewLocal(models.LocalStorageConfig{BaseDir: baseDir}, "alice", "resource_id-1")

	require.NoError(t, backend.Setup(ctx))

	src := writeExport(t, "elevation.tiff", "raster")
	resource, err := backend.Store(ctx, src)
	require.NoError(t, err)

	dest := filepath.Join(baseDir, "alice", "resource_id-1", "elevation.tiff")
	assert.Equal(t, dest, resource.Key)
	assert.Equal(t, dest, resource.Locator, "without a base URL the locator is the path")
	assert.Equal(t, "local", resource.Backend)
	assert.True(t, backend.MovesSource())

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "raster", string(data))
	assert.NoFileExists(t, src)

	assert.Equal(t, []models.StoredResource{resource}, backend.Stored())
}

func TestLocal_LocatorWithBaseURL(t *testing.T) {
	ctx := context.Background()
	backend := NewLocal(models.LocalStorageConfig{
		BaseDir: t.TempDir(),
		BaseURL: "https://data.example.com/resources/",
	}, "alice", "resource_id-1")
	require.NoError(t, backend.Setup(ctx))

	resource, err := backend.Store(ctx, writeExport(t, "roads.json.zip", "zip"))
	require.NoError(t, err)
	assert.Equal(t, "https://data.example.com/resources/alice/resource_id-1/roads.json.zip", resource.Locator)
}

func TestLocal_StoreBeforeSetup(t *testing.T) {
	backend := NewLocal(models.LocalStorageConfig{BaseDir: t.TempDir()}, "alice", "resource_id-1")
	_, err := backend.Store(context.Background(), writeExport(t, "a.tiff", "x"))
	assert.Error(t, err)
}

func TestLocal_SetupUnwritable(t *testing.T) {
	// A regular file where the base directory should be
	blocker := writeExport(t, "not-a-dir", "x")
	backend := NewLocal(models.LocalStorageConfig{BaseDir: blocker}, "alice", "resource_id-1")

	err := backend.Setup(context.Background())
	require.Error(t, err)
	assert.Equal(t, lib.CategoryStorageUnreachable, lib.CategoryOf(err))
}

func TestLocal_RemoveAll(t *testing.T) {
	ctx := context.Background()
	baseDir := t.TempDir()
	backend := NewLocal(models.LocalStorageConfig{BaseDir: baseDir}, "alice", "resource_id-1")
	other := NewLocal(models.LocalStorageConfig{BaseDir: baseDir}, "alice", "resource_id-2")
	require.NoError(t, backend.Setup(ctx))
	require.NoError(t, other.Setup(ctx))

	_, err := backend.Store(ctx, writeExport(t, "a.tiff", "a"))
	require.NoError(t, err)
	kept, err := other.Store(ctx, writeExport(t, "b.tiff", "b"))
	require.NoError(t, err)

	require.NoError(t, backend.RemoveAll(ctx))
	assert.NoDirExists(t, backend.JobDir())
	assert.Empty(t, backend.Stored())
	assert.FileExists(t, kept.Key, "other jobs are untouched")

	require.NoError(t, backend.RemoveAll(ctx), "purging twice is harmless")
}

func TestNewFactory(t *testing.T) {
	ctx := context.Background()

	factory, err := NewFactory(models.StorageConfig{
		Backend: "local",
		Local:   models.LocalStorageConfig{BaseDir: t.TempDir()},
	})
	require.NoError(t, err)
	backend, err := factory(ctx, "alice", "resource_id-1")
	require.NoError(t, err)
	assert.Equal(t, "local", backend.Name())

	factory, err = NewFactory(models.StorageConfig{Backend: "s3", S3: models.S3StorageConfig{Bucket: "exports"}})
	require.NoError(t, err)
	backend, err = factory(ctx, "alice", "resource_id-1")
	require.NoError(t, err)
	assert.Equal(t, "s3", backend.Name())
	assert.False(t, backend.MovesSource())

	factory, err = NewFactory(models.StorageConfig{Backend: "gcs", GCS: models.GCSStorageConfig{Bucket: "exports"}})
	require.NoError(t, err)
	backend, err = factory(ctx, "alice", "resource_id-1")
	require.NoError(t, err)
	assert.Equal(t, "gcs", backend.Name())

	_, err = NewFactory(models.StorageConfig{Backend: "ftp"})
	assert.Error(t, err)
	_, err = NewFactory(models.StorageConfig{Backend: "s3"})
	assert.Error(t, err, "bucket is required")
}

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "alice/r1/a.tiff", objectKey("", "alice", "r1", "a.tiff"))
	assert.Equal(t, "exports/alice/r1/a.tiff", objectKey("exports/", "alice", "r1", "a.tiff"))
	assert.Equal(t, "exports/alice/r1", objectKey("exports", "alice", "r1", ""))
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "application/json", contentType("roads.json"))
	assert.Equal(t, "application/octet-stream", contentType("elevation.unknownext"))
}
