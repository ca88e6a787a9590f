package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/trobanga/geochain/internal/lib"
	"github.com/trobanga/geochain/internal/models"
)

// Local moves files into <base_dir>/<user>/<resource>.
// Store consumes the source file.
type Local struct {
	baseDir    string
	baseURL    string
	userID     string
	resourceID string
	ready      bool
	stored     []models.StoredResource
}

// NewLocal creates the local backend of one job
func NewLocal(cfg models.LocalStorageConfig, userID, resourceID string) *Local {
	return &Local{
		baseDir:    cfg.BaseDir,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		userID:     userID,
		resourceID: resourceID,
	}
}

func (l *Local) Name() string { return "local" }

func (l *Local) MovesSource() bool { return true }

// JobDir returns the directory this job's resources are moved into
func (l *Local) JobDir() string {
	return filepath.Join(l.baseDir, l.userID, l.resourceID)
}

// Setup creates the job directory and probes that it is writable
func (l *Local) Setup(_ context.Context) error {
	dir := l.JobDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return lib.ErrStorageUnreachable(l.Name(), dir, err)
	}

	probe := filepath.Join(dir, ".probe-"+uuid.New().String())
	if err := os.WriteFile(probe, nil, 0644); err != nil {
		return lib.ErrStorageUnreachable(l.Name(), dir, err)
	}
	_ = os.Remove(probe)

	l.ready = true
	return nil
}

func (l *Local) Store(_ context.Context, localPath string) (models.StoredResource, error) {
	if !l.ready {
		return models.StoredResource{}, fmt.Errorf("local storage used before setup")
	}

	fileName := filepath.Base(localPath)
	dest := filepath.Join(l.JobDir(), fileName)

	if err := os.Rename(localPath, dest); err != nil {
		// Rename fails across filesystems; fall back to copy and delete
		if err := copyThenRemove(localPath, dest); err != nil {
			return models.StoredResource{}, lib.ErrStorageUnreachable(l.Name(), dest, err)
		}
	}

	absDest, err := filepath.Abs(dest)
	if err != nil {
		absDest = dest
	}

	locator := absDest
	if l.baseURL != "" {
		locator = l.baseURL + "/" + url.PathEscape(l.userID) + "/" + url.PathEscape(l.resourceID) + "/" + url.PathEscape(fileName)
	}

	resource := models.StoredResource{
		SourcePath: localPath,
		Locator:    locator,
		Backend:    l.Name(),
		Key:        absDest,
	}
	l.stored = append(l.stored, resource)
	return resource, nil
}

func (l *Local) Stored() []models.StoredResource {
	return append([]models.StoredResource{}, l.stored...)
}

// RemoveAll deletes the job directory
func (l *Local) RemoveAll(_ context.Context) error {
	if err := os.RemoveAll(l.JobDir()); err != nil {
		return fmt.Errorf("failed to remove %s: %w", l.JobDir(), err)
	}
	l.stored = nil
	return nil
}

func (l *Local) Close() error { return nil }

func copyThenRemove(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return err
	}
	return os.Remove(src)
}
