// Package storage defines the object store that audit archives are written to before
// the retention job deletes the corresponding rows.
//
// Backends register themselves with the factory from an init() function:
//
//	func init() {
//	    storage.Register("mybackend", func(cfg *config.Config) (storage.Storage, error) {
//	        return NewMyBackend(&cfg.Storage.MyBackend)
//	    })
//	}
//
// and cmd/server blank-imports each backend package so its init() runs.
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by Download when no object exists at the path.
var ErrNotFound = errors.New("storage: object not found")

// Storage is an archive sink. Paths are slash-separated and relative to the
// backend's root (bucket, container or base directory).
type Storage interface {
	// Upload writes the object and returns its size and SHA-256 checksum
	Upload(ctx context.Context, path string, reader io.Reader, size int64) (*UploadResult, error)

	// Download opens the object for reading
	Download(ctx context.Context, path string) (io.ReadCloser, error)

	// Delete removes the object. Deleting a missing object is not an error.
	Delete(ctx context.Context, path string) error

	Exists(ctx context.Context, path string) (bool, error)
}

// UploadResult describes a stored object
type UploadResult struct {
	Path     string
	Size     int64
	Checksum string
}
