package kvstore

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

const fileStoreLockName = ".lock"

// File is a Store keeping one file per key in a directory.
// Mutations are serialised by an exclusive OS file lock on <dir>/.lock,
// so independent processes on the same host share a consistent view.
type File struct {
	dir string
}

// NewFile creates the store directory if needed
func NewFile(dir string) (*File, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create key/value directory: %w", err)
	}
	return &File{dir: dir}, nil
}

func (f *File) keyPath(key string) string {
	return filepath.Join(f.dir, url.PathEscape(key))
}

// withLock runs fn while holding the store-wide lock
func (f *File) withLock(fn func() error) error {
	lockFile, err := os.OpenFile(filepath.Join(f.dir, fileStoreLockName), os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("failed to open lock file: %w", err)
	}
	defer func() {
		_ = lockFile.Close()
	}()

	if err := acquireFileLock(lockFile); err != nil {
		return fmt.Errorf("failed to acquire store lock: %w", err)
	}
	defer func() {
		_ = releaseFileLock(lockFile)
	}()

	writeLockInfo(lockFile)
	return fn()
}

func (f *File) read(key string) (string, bool, error) {
	data, err := os.ReadFile(f.keyPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read key %s: %w", key, err)
	}
	return string(data), true, nil
}

// write uses temp file + rename so readers never see a partial value
func (f *File) write(key string, value string) error {
	tempFile := filepath.Join(f.dir, fmt.Sprintf(".tmp.%s", uuid.New().String()))
	if err := os.WriteFile(tempFile, []byte(value), 0644); err != nil {
		return fmt.Errorf("failed to write key %s: %w", key, err)
	}
	if err := os.Rename(tempFile, f.keyPath(key)); err != nil {
		_ = os.Remove(tempFile)
		return fmt.Errorf("failed to write key %s: %w", key, err)
	}
	return nil
}

func (f *File) Get(_ context.Context, key string) (string, bool, error) {
	if err := checkKey(key); err != nil {
		return "", false, err
	}
	return f.read(key)
}

func (f *File) Set(_ context.Context, key string, value string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if err := checkValue(value); err != nil {
		return err
	}
	return f.withLock(func() error {
		return f.write(key, value)
	})
}

func (f *File) CompareAndSet(_ context.Context, key string, expected string, value string) (bool, error) {
	if err := checkKey(key); err != nil {
		return false, err
	}
	if err := checkValue(value); err != nil {
		return false, err
	}

	swapped := false
	err := f.withLock(func() error {
		current, found, err := f.read(key)
		if err != nil {
			return err
		}
		if expected == "" && found {
			return nil
		}
		if expected != "" && (!found || current != expected) {
			return nil
		}
		if err := f.write(key, value); err != nil {
			return err
		}
		swapped = true
		return nil
	})
	return swapped, err
}

func (f *File) Delete(_ context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	return f.withLock(func() error {
		if err := os.Remove(f.keyPath(key)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete key %s: %w", key, err)
		}
		return nil
	})
}

func (f *File) Close() error { return nil }

// writeLockInfo writes debug information to the lock file
func writeLockInfo(lockFile *os.File) {
	lockInfo := fmt.Sprintf("pid=%d\ntime=%s\n", os.Getpid(), time.Now().Format(time.RFC3339))
	_ = lockFile.Truncate(0)
	_, _ = lockFile.Seek(0, 0)
	_, _ = lockFile.WriteString(lockInfo)
}
