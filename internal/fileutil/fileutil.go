// Package fileutil provides the plain file helpers spec.md §4.3
// describes: size, hashing, and mutating operations, each of which takes
// an exclusive file-operation lock from internal/lock around the mutation.
package fileutil

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gwlsn/firefly/internal/lock"
)

const hashBufferSize = 64 * 1024

// HashFile returns the hex SHA-256 of path's exact byte stream, read in
// ~64 KiB chunks.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("fileutil: opening %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, hashBufferSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("fileutil: hashing %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// SizeBytes returns a file's size in bytes.
func SizeBytes(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("fileutil: stat %s: %w", path, err)
	}
	return info.Size(), nil
}

// Delete removes the file at path under an exclusive file-operation lock.
// Missing files are not an error.
func Delete(lm *lock.Manager, path string) error {
	r, err := lm.AcquireFileOp(path, lock.Exclusive)
	if err != nil {
		return err
	}
	defer r.Release()

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("fileutil: deleting %s: %w", path, err)
	}
	return nil
}

// CopyFile copies src to dst under an exclusive file-operation lock on
// dst. Only the content is copied: dst is created with default
// permissions, and src's mode and other attributes are not preserved.
func CopyFile(lm *lock.Manager, src, dst string) error {
	r, err := lm.AcquireFileOp(dst, lock.Exclusive)
	if err != nil {
		return err
	}
	defer r.Release()

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("fileutil: opening source %s: %w", src, err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("fileutil: preparing destination directory: %w", err)
	}

	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("fileutil: creating temp file %s: %w", tmp, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("fileutil: copying %s to %s: %w", src, dst, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("fileutil: closing temp file: %w", err)
	}

	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("fileutil: renaming %s to %s: %w", tmp, dst, err)
	}
	return nil
}

// RenameReplace atomically replaces dst with src under an exclusive
// file-operation lock on dst.
func RenameReplace(lm *lock.Manager, src, dst string) error {
	r, err := lm.AcquireFileOp(dst, lock.Exclusive)
	if err != nil {
		return err
	}
	defer r.Release()

	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("fileutil: renaming %s to %s: %w", src, dst, err)
	}
	return nil
}

// FileNameWithExtension returns the base name (with extension) of path.
func FileNameWithExtension(path string) string {
	return filepath.Base(path)
}

// SizeMegabytes returns a file's size in megabytes, matching the
// original's file_utils.get_file_size_megabytes (MiB-based: bytes / 1048576).
func SizeMegabytes(path string) (float64, error) {
	size, err := SizeBytes(path)
	if err != nil {
		return 0, err
	}
	return float64(size) / 1048576.0, nil
}
