package util

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"
)

// HashFile computes the SHA-256 checksum of a file's content, hex-encoded.
// Used for content-addressed duplicate detection and move verification.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash file: %w", err)
	}

	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// IsSameFilesystem checks if two paths are on the same filesystem
// by comparing their device IDs (st_dev).
func IsSameFilesystem(path1, path2 string) (bool, error) {
	stat1, err := os.Stat(path1)
	if err != nil {
		return false, err
	}

	stat2, err := os.Stat(path2)
	if err != nil {
		return false, err
	}

	sysStat1, ok1 := stat1.Sys().(*syscall.Stat_t)
	sysStat2, ok2 := stat2.Sys().(*syscall.Stat_t)

	if !ok1 || !ok2 {
		// If we can't get syscall.Stat_t, assume different filesystems
		// (better to warn when unsure)
		return false, nil
	}

	return sysStat1.Dev == sysStat2.Dev, nil
}

// MoveFile moves a file, falling back to copy + delete when the source and
// destination are on different filesystems. The destination directory is
// created if missing.
func MoveFile(srcPath, destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if err := os.Rename(srcPath, destPath); err == nil {
		return nil
	}

	// Rename failed (likely EXDEV), fall back to copy + delete
	if err := copyFileContents(srcPath, destPath); err != nil {
		return err
	}

	if err := os.Remove(srcPath); err != nil {
		WarnLog("Failed to delete source file %s after copy: %v", srcPath, err)
	}

	return nil
}

// copyFileContents copies a file atomically via a .part temporary file
func copyFileContents(srcPath, destPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer src.Close()

	tempPath := destPath + ".part"
	dest, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	_, err = io.Copy(dest, src)
	closeErr := dest.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to copy: %w", err)
	}

	if err := os.Rename(tempPath, destPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename: %w", err)
	}

	return nil
}

// MoveDir relocates an entire directory. Plain rename first; cross-device
// moves (or an existing destination) fall back to per-file moves.
func MoveDir(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	err := filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		return MoveFile(path, filepath.Join(dst, rel))
	})
	if err != nil {
		return fmt.Errorf("failed to relocate %s: %w", src, err)
	}

	return os.RemoveAll(src)
}

// EnsureDir creates a directory (and parents) if it does not exist
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	return nil
}

// DirSize returns the total size in bytes of the regular files in a directory
func DirSize(dir string) (int64, error) {
	var total int64
	err := filepath.Walk(dir, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}
