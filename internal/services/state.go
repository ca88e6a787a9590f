package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/trobanga/geochain/internal/models"
)

const (
	StatusFileName = "status.json"
)

// ErrJobNotFound is returned by Load for unknown resource ids
var ErrJobNotFound = errors.New("job not found")

// StatusStore publishes job status records for polling clients
type StatusStore interface {
	Publish(ctx context.Context, job *models.Job) error
	Load(ctx context.Context, resourceID string) (*models.Job, error)
	List(ctx context.Context) ([]*models.Job, error)
	Close() error
}

// sortJobs orders by creation time, oldest first
func sortJobs(jobs []*models.Job) {
	sort.SliceStable(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ResourceID < jobs[j].ResourceID
		}
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
}

// FileStatusStore keeps one status.json per job below dir
type FileStatusStore struct {
	dir string
}

// NewFileStatusStore creates the store, creating dir if needed
func NewFileStatusStore(dir string) (*FileStatusStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create status directory: %w", err)
	}
	return &FileStatusStore{dir: dir}, nil
}

// GetJobDir returns the directory path for a specific job
func (s *FileStatusStore) GetJobDir(resourceID string) string {
	return filepath.Join(s.dir, resourceID)
}

// GetStatusFilePath returns the full path to a job's status file
func (s *FileStatusStore) GetStatusFilePath(resourceID string) string {
	return filepath.Join(s.GetJobDir(resourceID), StatusFileName)
}

// Load reads a job's status from disk
func (s *FileStatusStore) Load(_ context.Context, resourceID string) (*models.Job, error) {
	data, err := os.ReadFile(s.GetStatusFilePath(resourceID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrJobNotFound, resourceID)
		}
		return nil, fmt.Errorf("failed to read job status: %w", err)
	}

	var job models.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to parse job status: %w", err)
	}

	if err := job.Validate(); err != nil {
		return nil, fmt.Errorf("invalid job status loaded from disk: %w", err)
	}

	return &job, nil
}

// Publish writes a job's status to disk with atomic write
// Uses temp file + rename so pollers never read a partial record
func (s *FileStatusStore) Publish(_ context.Context, job *models.Job) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("cannot publish invalid job: %w", err)
	}

	jobDir := s.GetJobDir(job.ResourceID)
	if err := os.MkdirAll(jobDir, 0755); err != nil {
		return fmt.Errorf("failed to create job directory: %w", err)
	}

	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal job status: %w", err)
	}

	tempFile := filepath.Join(jobDir, fmt.Sprintf(".status.tmp.%s", uuid.New().String()))
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp status file: %w", err)
	}

	if err := os.Rename(tempFile, s.GetStatusFilePath(job.ResourceID)); err != nil {
		_ = os.Remove(tempFile)
		return fmt.Errorf("failed to publish job status: %w", err)
	}

	return nil
}

// List scans the status directory and returns every readable job
func (s *FileStatusStore) List(ctx context.Context) ([]*models.Job, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*models.Job{}, nil
		}
		return nil, fmt.Errorf("failed to read status directory: %w", err)
	}

	jobs := []*models.Job{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(s.GetStatusFilePath(entry.Name())); err != nil {
			continue
		}
		job, err := s.Load(ctx, entry.Name())
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}

	sortJobs(jobs)
	return jobs, nil
}

// Close is a no-op
func (s *FileStatusStore) Close() error { return nil }

// MemoryStatusStore keeps status records in process
type MemoryStatusStore struct {
	mu   sync.RWMutex
	jobs map[string]*models.Job
}

// NewMemoryStatusStore creates an empty store
func NewMemoryStatusStore() *MemoryStatusStore {
	return &MemoryStatusStore{jobs: make(map[string]*models.Job)}
}

func (s *MemoryStatusStore) Publish(_ context.Context, job *models.Job) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("cannot publish invalid job: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ResourceID] = job.Clone()
	return nil
}

func (s *MemoryStatusStore) Load(_ context.Context, resourceID string) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[resourceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, resourceID)
	}
	return job.Clone(), nil
}

func (s *MemoryStatusStore) List(_ context.Context) ([]*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	jobs := make([]*models.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job.Clone())
	}
	sortJobs(jobs)
	return jobs, nil
}

func (s *MemoryStatusStore) Close() error { return nil }

// OpenStatusStore creates the status store selected by the configuration
func OpenStatusStore(cfg models.StatusConfig) (StatusStore, error) {
	switch cfg.Backend {
	case "memory":
		return NewMemoryStatusStore(), nil
	case "file":
		return NewFileStatusStore(cfg.Dir)
	case "sqlite":
		return NewSQLiteStatusStore(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown status backend %q", cfg.Backend)
	}
}
