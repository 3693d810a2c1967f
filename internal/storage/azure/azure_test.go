package azure

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	"github.com/auditcore/audit-service/internal/config"
	"github.com/auditcore/audit-service/internal/storage"
)

type storedBlob struct {
	content  []byte
	metadata map[string]string
}

// newTestStorage imitates enough of the Blob REST API for object CRUD.
func newTestStorage(t *testing.T) (*AzureStorage, map[string]*storedBlob) {
	t.Helper()

	var mu sync.Mutex
	blobs := map[string]*storedBlob{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(r.URL.Path, "/")
		mu.Lock()
		defer mu.Unlock()

		switch r.Method {
		case http.MethodPut:
			data, _ := io.ReadAll(r.Body)
			meta := map[string]string{}
			for k, v := range r.Header {
				lk := strings.ToLower(k)
				if strings.HasPrefix(lk, "x-ms-meta-") && len(v) > 0 {
					meta[strings.TrimPrefix(lk, "x-ms-meta-")] = v[0]
				}
			}
			blobs[key] = &storedBlob{content: data, metadata: meta}
			w.WriteHeader(http.StatusCreated)

		case http.MethodGet, http.MethodHead:
			b, ok := blobs[key]
			if !ok {
				w.Header().Set("x-ms-error-code", "BlobNotFound")
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Header().Set("Content-Length", fmt.Sprintf("%d", len(b.content)))
			w.WriteHeader(http.StatusOK)
			if r.Method == http.MethodGet {
				_, _ = w.Write(b.content)
			}

		case http.MethodDelete:
			if _, ok := blobs[key]; !ok {
				w.Header().Set("x-ms-error-code", "BlobNotFound")
				w.WriteHeader(http.StatusNotFound)
				return
			}
			delete(blobs, key)
			w.WriteHeader(http.StatusAccepted)

		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(srv.Close)

	client, err := azblob.NewClientWithNoCredential(srv.URL, nil)
	if err != nil {
		t.Fatalf("failed to create azblob client: %v", err)
	}
	return &AzureStorage{client: client, containerName: "audit"}, blobs
}

// ---------------------------------------------------------------------------
// New
// ---------------------------------------------------------------------------

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.AzureStorageConfig
	}{
		{"missing account", config.AzureStorageConfig{AccountKey: "a2V5", ContainerName: "audit"}},
		{"missing key", config.AzureStorageConfig{AccountName: "acct", ContainerName: "audit"}},
		{"missing container", config.AzureStorageConfig{AccountName: "acct", AccountKey: "a2V5"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(&tt.cfg); err == nil {
				t.Error("New() = nil error, want error")
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Operations
// ---------------------------------------------------------------------------

func TestUploadDownloadDeleteAndExists(t *testing.T) {
	s, blobs := newTestStorage(t)
	ctx := context.Background()
	data := []byte("hello azure")

	res, err := s.Upload(ctx, "archive/2026-01-01/a.ndjson", bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if res.Size != int64(len(data)) {
		t.Fatalf("size = %d, want %d", res.Size, len(data))
	}
	if got := blobs["audit/archive/2026-01-01/a.ndjson"].metadata["sha256"]; got != res.Checksum {
		t.Errorf("sha256 metadata = %q, want %q", got, res.Checksum)
	}

	rc, err := s.Download(ctx, "archive/2026-01-01/a.ndjson")
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	got, _ := io.ReadAll(rc)
	rc.Close()
	if !bytes.Equal(got, data) {
		t.Fatalf("download content mismatch: %q", got)
	}

	if ok, err := s.Exists(ctx, "archive/2026-01-01/a.ndjson"); err != nil || !ok {
		t.Fatalf("Exists = %v, %v; want true, nil", ok, err)
	}
	if err := s.Delete(ctx, "archive/2026-01-01/a.ndjson"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if ok, err := s.Exists(ctx, "archive/2026-01-01/a.ndjson"); err != nil || ok {
		t.Fatalf("Exists after delete = %v, %v; want false, nil", ok, err)
	}
}

func TestMissingBlob(t *testing.T) {
	s, _ := newTestStorage(t)
	ctx := context.Background()

	if _, err := s.Download(ctx, "nope"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Download(missing) error = %v, want storage.ErrNotFound", err)
	}
	if err := s.Delete(ctx, "nope"); err != nil {
		t.Errorf("Delete(missing) error = %v, want nil", err)
	}
}
