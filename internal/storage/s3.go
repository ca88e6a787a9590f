package storage

import (
	"context"
	"fmt"
	"mime"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/trobanga/geochain/internal/lib"
	"github.com/trobanga/geochain/internal/models"
)

// S3 uploads files to an S3 compatible bucket. The source file is kept.
type S3 struct {
	cfg        models.S3StorageConfig
	userID     string
	resourceID string
	client     *minio.Client
	stored     []models.StoredResource
}

// NewS3 creates the S3 backend of one job. The client is created by Setup.
func NewS3(cfg models.S3StorageConfig, userID, resourceID string) *S3 {
	return &S3{cfg: cfg, userID: userID, resourceID: resourceID}
}

func (s *S3) Name() string { return "s3" }

func (s *S3) MovesSource() bool { return false }

func (s *S3) destination() string {
	return "s3://" + s.cfg.Bucket + "/" + objectKey(s.cfg.Prefix, s.userID, s.resourceID, "")
}

// Setup connects and verifies the bucket exists
func (s *S3) Setup(ctx context.Context) error {
	creds := credentials.NewEnvAWS()
	if s.cfg.AccessKeyID != "" {
		creds = credentials.NewStaticV4(s.cfg.AccessKeyID, s.cfg.SecretAccessKey, "")
	}

	client, err := minio.New(s.cfg.Endpoint, &minio.Options{
		Creds:  creds,
		Secure: s.cfg.UseSSL,
		Region: s.cfg.Region,
	})
	if err != nil {
		return lib.ErrStorageUnreachable(s.Name(), s.destination(), err)
	}

	exists, err := client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return lib.ErrStorageUnreachable(s.Name(), s.destination(), err)
	}
	if !exists {
		return lib.ErrStorageUnreachable(s.Name(), s.destination(), fmt.Errorf("bucket %s does not exist", s.cfg.Bucket))
	}

	s.client = client
	return nil
}

func (s *S3) Store(ctx context.Context, localPath string) (models.StoredResource, error) {
	if s.client == nil {
		return models.StoredResource{}, fmt.Errorf("s3 storage used before setup")
	}

	key := objectKey(s.cfg.Prefix, s.userID, s.resourceID, filepath.Base(localPath))
	opts := minio.PutObjectOptions{ContentType: contentType(localPath)}
	if _, err := s.client.FPutObject(ctx, s.cfg.Bucket, key, localPath, opts); err != nil {
		return models.StoredResource{}, lib.ErrStorageUnreachable(s.Name(), "s3://"+s.cfg.Bucket+"/"+key, err)
	}

	resource := models.StoredResource{
		SourcePath: localPath,
		Locator:    "s3://" + s.cfg.Bucket + "/" + key,
		Backend:    s.Name(),
		Key:        key,
	}
	s.stored = append(s.stored, resource)
	return resource, nil
}

func (s *S3) Stored() []models.StoredResource {
	return append([]models.StoredResource{}, s.stored...)
}

// RemoveAll deletes every object stored by this instance; it keeps going after
// a failed delete and returns the first error
func (s *S3) RemoveAll(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	var firstErr error
	var remaining []models.StoredResource
	for _, r := range s.stored {
		if err := s.client.RemoveObject(ctx, s.cfg.Bucket, r.Key, minio.RemoveObjectOptions{}); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to remove %s: %w", r.Locator, err)
			}
			remaining = append(remaining, r)
		}
	}
	s.stored = remaining
	return firstErr
}

func (s *S3) Close() error { return nil }

func contentType(localPath string) string {
	if t := mime.TypeByExtension(filepath.Ext(localPath)); t != "" {
		return t
	}
	return "application/octet-stream"
}
