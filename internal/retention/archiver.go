// Package retention archives audit entries past their retention age to object
// storage and then purges them from the database.
package retention

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/auditcore/audit-service/internal/db/models"
	"github.com/auditcore/audit-service/internal/storage"
	"github.com/auditcore/audit-service/internal/telemetry"
	"github.com/auditcore/audit-service/pkg/checksum"
)

// Source streams the entries a purge would remove.
type Source interface {
	StreamOlderThan(ctx context.Context, cutoff time.Time, fn func(*models.AuditLog) error) error
	GetAuditChanges(ctx context.Context, auditLogID string) ([]*models.AuditChange, error)
}

// Record is one NDJSON line of an archive: the entry and its change records.
type Record struct {
	*models.AuditLog
	Changes []*models.AuditChange `json:"changes,omitempty"`
}

// Manifest describes a written archive. Path is empty when nothing was archived.
type Manifest struct {
	Path         string `json:"path,omitempty"`
	ChecksumPath string `json:"checksum_path,omitempty"`
	Checksum     string `json:"checksum,omitempty"`
	Entries      int    `json:"entries"`
	Bytes        int64  `json:"bytes"`
}

// Archiver writes entries older than a cutoff to a storage backend as NDJSON with
// a sha256sum sidecar.
type Archiver struct {
	src     Source
	store   storage.Storage
	backend string
	now     func() time.Time
}

// NewArchiver creates an archiver. backend labels the archive-bytes metric.
func NewArchiver(src Source, store storage.Storage, backend string) *Archiver {
	return &Archiver{src: src, store: store, backend: backend, now: time.Now}
}

// ObjectPath returns archive/<cutoff date>/audit-logs-<run timestamp>.ndjson.
func ObjectPath(cutoff, runAt time.Time) string {
	return path.Join("archive", cutoff.UTC().Format(time.DateOnly),
		"audit-logs-"+runAt.UTC().Format("20060102T150405Z")+".ndjson")
}

// Archive writes every entry strictly older than cutoff. The sidecar is uploaded
// only after the archive itself, so a present .sha256 implies a complete archive.
func (a *Archiver) Archive(ctx context.Context, cutoff time.Time) (*Manifest, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	entries := 0

	err := a.src.StreamOlderThan(ctx, cutoff, func(l *models.AuditLog) error {
		rec := Record{AuditLog: l}
		if l.ChangesCount > 0 {
			changes, err := a.src.GetAuditChanges(ctx, l.ID)
			if err != nil {
				return fmt.Errorf("failed to load changes for %s: %w", l.ID, err)
			}
			rec.Changes = changes
		}
		entries++
		return enc.Encode(rec)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read entries to archive: %w", err)
	}
	if entries == 0 {
		return &Manifest{}, nil
	}

	objectPath := ObjectPath(cutoff, a.now())
	size := int64(buf.Len())
	res, err := a.store.Upload(ctx, objectPath, &buf, size)
	if err != nil {
		return nil, fmt.Errorf("failed to upload archive: %w", err)
	}

	sumPath := objectPath + ".sha256"
	sidecar := checksum.SumFile(res.Checksum, path.Base(objectPath))
	if _, err := a.store.Upload(ctx, sumPath, bytes.NewBufferString(sidecar), int64(len(sidecar))); err != nil {
		return nil, fmt.Errorf("failed to upload archive checksum: %w", err)
	}

	telemetry.AuditArchiveBytesTotal.WithLabelValues(a.backend).Add(float64(res.Size))
	slog.Info("archived audit logs",
		"path", objectPath, "entries", entries, "bytes", res.Size, "backend", a.backend)

	return &Manifest{
		Path:         objectPath,
		ChecksumPath: sumPath,
		Checksum:     res.Checksum,
		Entries:      entries,
		Bytes:        res.Size,
	}, nil
}

// Verify re-reads an archive and compares it with its sidecar.
func (a *Archiver) Verify(ctx context.Context, objectPath string) error {
	sc, err := a.store.Download(ctx, objectPath+".sha256")
	if err != nil {
		return fmt.Errorf("failed to read checksum file: %w", err)
	}
	defer sc.Close()
	var sidecar bytes.Buffer
	if _, err := sidecar.ReadFrom(sc); err != nil {
		return fmt.Errorf("failed to read checksum file: %w", err)
	}
	want, name, err := checksum.ParseSumFile(sidecar.String())
	if err != nil {
		return err
	}
	if name != path.Base(objectPath) {
		return fmt.Errorf("checksum file names %q, expected %q", name, path.Base(objectPath))
	}

	body, err := a.store.Download(ctx, objectPath)
	if err != nil {
		return fmt.Errorf("failed to read archive: %w", err)
	}
	defer body.Close()
	ok, err := checksum.VerifySHA256(body, want)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("archive %s does not match its checksum", objectPath)
	}
	return nil
}
