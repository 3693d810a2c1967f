package retention

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditcore/audit-service/internal/config"
	"github.com/auditcore/audit-service/internal/db/models"
	"github.com/auditcore/audit-service/internal/storage"
	"github.com/auditcore/audit-service/internal/storage/local"
)

var (
	cutoff = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	runAt  = time.Date(2026, 4, 1, 3, 0, 0, 0, time.UTC)
)

// ---------------------------------------------------------------------------
// fakes
// ---------------------------------------------------------------------------

type memSource struct {
	logs    []*models.AuditLog
	changes map[string][]*models.AuditChange
	err     error
}

func (m *memSource) StreamOlderThan(_ context.Context, c time.Time, fn func(*models.AuditLog) error) error {
	if m.err != nil {
		return m.err
	}
	for _, l := range m.logs {
		if l.Timestamp.Before(c) {
			if err := fn(l); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *memSource) GetAuditChanges(_ context.Context, id string) ([]*models.AuditChange, error) {
	return m.changes[id], nil
}

type fakePurger struct {
	deleted int64
	err     error
	calls   int
	cutoff  time.Time
}

func (f *fakePurger) PurgeOlderThan(_ context.Context, c time.Time) (int64, error) {
	f.calls++
	f.cutoff = c
	return f.deleted, f.err
}

// failingStorage rejects every upload.
type failingStorage struct{ storage.Storage }

func (failingStorage) Upload(context.Context, string, io.Reader, int64) (*storage.UploadResult, error) {
	return nil, errors.New("bucket unavailable")
}

func newLocal(t *testing.T) storage.Storage {
	t.Helper()
	s, err := local.New(&config.LocalStorageConfig{BasePath: t.TempDir()})
	require.NoError(t, err)
	return s
}

func oldLogs() *memSource {
	s := "new"
	return &memSource{
		logs: []*models.AuditLog{
			{ID: "a1", ActorID: "u1", Action: models.ActionCreate, ResourceType: "PROJECT", Timestamp: cutoff.Add(-48 * time.Hour), Success: true},
			{ID: "a2", ActorID: "u1", Action: models.ActionUpdate, ResourceType: "PROJECT", Timestamp: cutoff.Add(-24 * time.Hour), Success: true, ChangesCount: 1},
			{ID: "a3", ActorID: "u2", Action: models.ActionView, ResourceType: "PROJECT", Timestamp: cutoff.Add(time.Hour), Success: true},
		},
		changes: map[string][]*models.AuditChange{
			"a2": {{ID: "c1", AuditLogID: "a2", FieldName: "name", NewValue: &s, DataType: models.DataTypeString}},
		},
	}
}

// ---------------------------------------------------------------------------
// Archiver
// ---------------------------------------------------------------------------

func TestObjectPath(t *testing.T) {
	assert.Equal(t, "archive/2026-01-01/audit-logs-20260401T030000Z.ndjson", ObjectPath(cutoff, runAt))
}

func TestArchive_WritesNDJSONAndSidecar(t *testing.T) {
	store := newLocal(t)
	a := NewArchiver(oldLogs(), store, "local")
	a.now = func() time.Time { return runAt }

	m, err := a.Archive(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, 2, m.Entries)
	assert.Equal(t, "archive/2026-01-01/audit-logs-20260401T030000Z.ndjson", m.Path)
	assert.Equal(t, m.Path+".sha256", m.ChecksumPath)
	assert.Len(t, m.Checksum, 64)

	rc, err := store.Download(context.Background(), m.Path)
	require.NoError(t, err)
	defer rc.Close()

	var lines []Record
	sc := bufio.NewScanner(rc)
	for sc.Scan() {
		var rec Record
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		lines = append(lines, rec)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "a1", lines[0].ID)
	assert.Empty(t, lines[0].Changes)
	assert.Equal(t, "a2", lines[1].ID)
	require.Len(t, lines[1].Changes, 1)
	assert.Equal(t, "name", lines[1].Changes[0].FieldName)

	require.NoError(t, a.Verify(context.Background(), m.Path))
}

func TestArchive_NothingToArchive(t *testing.T) {
	store := newLocal(t)
	m, err := NewArchiver(&memSource{}, store, "local").Archive(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Zero(t, m.Entries)
	assert.Empty(t, m.Path)
}

func TestVerify_DetectsTampering(t *testing.T) {
	store := newLocal(t)
	a := NewArchiver(oldLogs(), store, "local")
	m, err := a.Archive(context.Background(), cutoff)
	require.NoError(t, err)

	_, err = store.Upload(context.Background(), m.Path, strings.NewReader("{}\n"), 3)
	require.NoError(t, err)
	assert.Error(t, a.Verify(context.Background(), m.Path))
}

// ---------------------------------------------------------------------------
// Service
// ---------------------------------------------------------------------------

func TestRun_ArchivesThenPurges(t *testing.T) {
	purger := &fakePurger{deleted: 2}
	svc := NewService(NewArchiver(oldLogs(), newLocal(t), "local"), purger)
	hooked := 0
	svc.OnPurged(func(context.Context) { hooked++ })

	res, err := svc.Run(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Deleted)
	require.NotNil(t, res.Archive)
	assert.Equal(t, 2, res.Archive.Entries)
	assert.Equal(t, 1, purger.calls)
	assert.Equal(t, cutoff, purger.cutoff)
	assert.Equal(t, 1, hooked)
}

func TestRun_ArchiveFailureSkipsPurge(t *testing.T) {
	purger := &fakePurger{deleted: 2}
	svc := NewService(NewArchiver(oldLogs(), failingStorage{}, "s3"), purger)

	_, err := svc.Run(context.Background(), cutoff)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket unavailable")
	assert.Zero(t, purger.calls)
}

func TestRun_SourceFailureSkipsPurge(t *testing.T) {
	purger := &fakePurger{}
	svc := NewService(NewArchiver(&memSource{err: errors.New("db down")}, newLocal(t), "local"), purger)

	_, err := svc.Run(context.Background(), cutoff)
	require.Error(t, err)
	assert.Zero(t, purger.calls)
}

func TestRun_WithoutArchiver(t *testing.T) {
	purger := &fakePurger{deleted: 0}
	svc := NewService(nil, purger)
	hooked := false
	svc.OnPurged(func(context.Context) { hooked = true })

	res, err := svc.Run(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Nil(t, res.Archive)
	assert.Zero(t, res.Deleted)
	assert.False(t, hooked, "hooks only run when something was deleted")
}

func TestRun_PurgeError(t *testing.T) {
	svc := NewService(nil, &fakePurger{err: errors.New("tx aborted")})
	_, err := svc.Run(context.Background(), cutoff)
	assert.ErrorContains(t, err, "tx aborted")
}
