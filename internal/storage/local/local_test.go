package local

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/auditcore/audit-service/internal/config"
	"github.com/auditcore/audit-service/internal/storage"
)

// newTestStorage creates a LocalStorage rooted in a per-test temp directory.
func newTestStorage(t *testing.T) *LocalStorage {
	t.Helper()
	s, err := New(&config.LocalStorageConfig{BasePath: t.TempDir()})
	if err != nil {
		t.Fatal("New:", err)
	}
	return s
}

// ---------------------------------------------------------------------------
// New
// ---------------------------------------------------------------------------

func TestNew_CreatesDirectory(t *testing.T) {
	subDir := filepath.Join(t.TempDir(), "a", "b", "c")
	if _, err := New(&config.LocalStorageConfig{BasePath: subDir}); err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if _, err := os.Stat(subDir); os.IsNotExist(err) {
		t.Error("New() did not create base directory")
	}
}

func TestNew_RequiresBasePath(t *testing.T) {
	if _, err := New(&config.LocalStorageConfig{}); err == nil {
		t.Error("New() = nil error, want error for empty base path")
	}
}

// ---------------------------------------------------------------------------
// Upload / Download
// ---------------------------------------------------------------------------

func TestUpload_WritesContentAndChecksum(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	res, err := s.Upload(ctx, "archive/2026-01-01/audit-logs.ndjson", strings.NewReader("hello"), 5)
	if err != nil {
		t.Fatalf("Upload() error: %v", err)
	}
	if res.Size != 5 {
		t.Errorf("Size = %d, want 5", res.Size)
	}
	if res.Checksum != "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824" {
		t.Errorf("Checksum = %q", res.Checksum)
	}

	rc, err := s.Download(ctx, "archive/2026-01-01/audit-logs.ndjson")
	if err != nil {
		t.Fatalf("Download() error: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "hello" {
		t.Errorf("Download() content = %q, want hello", data)
	}

	// no temp files left behind
	entries, _ := os.ReadDir(filepath.Join(s.basePath, "archive", "2026-01-01"))
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want 1", len(entries))
	}
}

func TestUpload_Overwrites(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	_, _ = s.Upload(ctx, "f.txt", strings.NewReader("first"), 5)
	if _, err := s.Upload(ctx, "f.txt", strings.NewReader("second"), 6); err != nil {
		t.Fatalf("Upload() error: %v", err)
	}
	rc, _ := s.Download(ctx, "f.txt")
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "second" {
		t.Errorf("content = %q, want second", data)
	}
}

func TestUpload_RejectsEscapingPath(t *testing.T) {
	s := newTestStorage(t)
	if _, err := s.Upload(context.Background(), "../outside.txt", strings.NewReader("x"), 1); err == nil {
		t.Error("Upload() = nil error, want error for path outside the root")
	}
}

func TestDownload_NotFound(t *testing.T) {
	s := newTestStorage(t)
	_, err := s.Download(context.Background(), "missing.ndjson")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Download() error = %v, want storage.ErrNotFound", err)
	}
}

// ---------------------------------------------------------------------------
// Exists / Delete
// ---------------------------------------------------------------------------

func TestExistsAndDelete(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	if ok, err := s.Exists(ctx, "a/b/c.txt"); err != nil || ok {
		t.Fatalf("Exists(before) = %v, %v; want false, nil", ok, err)
	}
	_, _ = s.Upload(ctx, "a/b/c.txt", strings.NewReader("x"), 1)
	if ok, err := s.Exists(ctx, "a/b/c.txt"); err != nil || !ok {
		t.Fatalf("Exists(after upload) = %v, %v; want true, nil", ok, err)
	}

	if err := s.Delete(ctx, "a/b/c.txt"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if ok, _ := s.Exists(ctx, "a/b/c.txt"); ok {
		t.Error("file still exists after Delete()")
	}
	if _, err := os.Stat(filepath.Join(s.basePath, "a")); !os.IsNotExist(err) {
		t.Error("empty parent directories were not pruned")
	}
	if _, err := os.Stat(s.basePath); err != nil {
		t.Error("Delete() removed the base directory")
	}
}

func TestDelete_MissingIsNotAnError(t *testing.T) {
	s := newTestStorage(t)
	if err := s.Delete(context.Background(), "never/existed.txt"); err != nil {
		t.Errorf("Delete() error = %v, want nil", err)
	}
}
