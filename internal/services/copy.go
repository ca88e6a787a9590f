package services

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/trobanga/geochain/internal/lib"
)

// copyTree copies the directory src into dst, merging with existing content.
// Symlinks are recreated, not followed.
func copyTree(src string, dst string, logger *lib.Logger) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		switch {
		case info.Mode()&os.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return fmt.Errorf("failed to read link %s: %w", path, err)
			}
			_ = os.Remove(target)
			return os.Symlink(link, target)
		case info.IsDir():
			return os.MkdirAll(target, info.Mode().Perm()|0700)
		default:
			return copyFile(path, target, info.Mode().Perm(), logger)
		}
	})
}

// copyFile copies a single file, replacing the destination
func copyFile(sourcePath string, destPath string, perm os.FileMode, logger *lib.Logger) error {
	srcFile, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer func() {
		if err := srcFile.Close(); err != nil {
			logger.Error("Failed to close source file", "error", err)
		}
	}()

	destFile, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm|0600)
	if err != nil {
		return fmt.Errorf("failed to create destination file: %w", err)
	}

	bytesWritten, err := io.Copy(destFile, srcFile)
	if err != nil {
		_ = destFile.Close()
		return fmt.Errorf("failed to copy file: %w", err)
	}
	if err := destFile.Close(); err != nil {
		return fmt.Errorf("failed to close destination file: %w", err)
	}

	logger.Debug("File copied", "file", filepath.Base(destPath), "size", bytesWritten)
	return nil
}
