package fileutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gwlsn/firefly/internal/lock"
)

func TestHashFileStable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.mp4")
	if err := os.WriteFile(path, []byte("hello world"), 0o644); err != nil {
		t.Fatal(err)
	}

	h1, err := HashFile(path)
	if err != nil {
		t.Fatalf("HashFile: %v", err)
	}
	h2, err := HashFile(path)
	if err != nil {
		t.Fatalf("HashFile: %v", err)
	}
	if h1 != h2 {
		t.Errorf("hash not stable across calls: %s != %s", h1, h2)
	}
	const want = "b94d27b9934d3e08a52e52d7da7dacefb6e3668fa3c8ad55f7f7e78acbbf3aac"
	if h1 != want {
		t.Errorf("hash mismatch: got %s, want %s", h1, want)
	}
}

func TestSizeBytesAndMegabytes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.mp4")
	data := make([]byte, 1048576) // exactly 1 MiB
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	size, err := SizeBytes(path)
	if err != nil {
		t.Fatalf("SizeBytes: %v", err)
	}
	if size != 1048576 {
		t.Errorf("SizeBytes = %d, want 1048576", size)
	}

	mb, err := SizeMegabytes(path)
	if err != nil {
		t.Fatalf("SizeMegabytes: %v", err)
	}
	if mb != 1.0 {
		t.Errorf("SizeMegabytes = %v, want 1.0", mb)
	}
}

func TestCopyFileAtomic(t *testing.T) {
	dir := t.TempDir()
	lm := lock.NewManager(dir, 200*time.Millisecond)

	src := filepath.Join(dir, "src.mp4")
	dst := filepath.Join(dir, "dst.mp4")
	if err := os.WriteFile(src, []byte("payload"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := CopyFile(lm, src, dst); err != nil {
		t.Fatalf("CopyFile: %v", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("reading dst: %v", err)
	}
	if string(got) != "payload" {
		t.Errorf("copied content mismatch: %q", got)
	}
	if _, err := os.Stat(dst + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("expected temp file to be gone after rename")
	}
}

func TestDeleteMissingFileIsNotError(t *testing.T) {
	dir := t.TempDir()
	lm := lock.NewManager(dir, 200*time.Millisecond)

	if err := Delete(lm, filepath.Join(dir, "nope.mp4")); err != nil {
		t.Errorf("Delete of missing file should be a no-op, got: %v", err)
	}
}
