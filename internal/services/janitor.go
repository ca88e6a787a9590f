package services

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/trobanga/geochain/internal/lib"
)

// Janitor removes ephemeral workspace trees left behind by crashed workers
type Janitor struct {
	tmpDir string
	maxAge time.Duration
	logger *lib.Logger
	cron   *cron.Cron
	now    func() time.Time
}

// NewJanitor creates a janitor sweeping tmpDir. An empty tmpDir means os.TempDir().
func NewJanitor(tmpDir string, maxAge time.Duration, logger *lib.Logger) *Janitor {
	if tmpDir == "" {
		tmpDir = os.TempDir()
	}
	if logger == nil {
		logger = lib.DiscardLogger
	}
	return &Janitor{
		tmpDir: tmpDir,
		maxAge: maxAge,
		logger: logger,
		now:    time.Now,
	}
}

// Start runs the sweep on the cron schedule (standard 5-field spec or a
// descriptor such as "@every 1h")
func (j *Janitor) Start(schedule string) error {
	if j.cron != nil {
		return fmt.Errorf("janitor already started")
	}

	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		if _, err := j.RunOnce(); err != nil {
			j.logger.Error("Janitor sweep failed", "error", err)
		}
	}); err != nil {
		return lib.ErrInvalidConfig(fmt.Sprintf("invalid janitor schedule %q", schedule), err)
	}

	j.cron = c
	c.Start()

	j.logger.Info("Janitor started", "schedule", schedule, "tmp_dir", j.tmpDir, "max_age", j.maxAge)
	return nil
}

// Stop stops the schedule and waits for a running sweep
func (j *Janitor) Stop() {
	if j.cron == nil {
		return
	}
	<-j.cron.Stop().Done()
	j.cron = nil
	j.logger.Info("Janitor stopped")
}

// RunOnce removes every workspace tree whose last sign of life is older than
// maxAge and returns the removed paths. A running job keeps its tree alive by
// touching the lease file; trees without one fall back to the directory mtime.
func (j *Janitor) RunOnce() ([]string, error) {
	entries, err := os.ReadDir(j.tmpDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", j.tmpDir, err)
	}

	cutoff := j.now().Add(-j.maxAge)
	var removed []string
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), WorkspaceDirPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(j.tmpDir, entry.Name())
		lastSeen := lastActivity(path, info)
		if lastSeen.After(cutoff) {
			continue
		}

		if err := os.RemoveAll(path); err != nil {
			j.logger.Warn("Failed to remove orphaned workspace", "path", path, "error", err)
			continue
		}
		j.logger.Info("Removed orphaned workspace", "path", path, "age", j.now().Sub(lastSeen).Round(time.Second))
		removed = append(removed, path)
	}

	return removed, nil
}

func lastActivity(root string, info os.FileInfo) time.Time {
	last := info.ModTime()
	if lease, err := os.Stat(filepath.Join(root, LeaseFileName)); err == nil && lease.ModTime().After(last) {
		last = lease.ModTime()
	}
	return last
}
