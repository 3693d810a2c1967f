//go:build integration

package repositories_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/auditcore/audit-service/internal/db"
	"github.com/auditcore/audit-service/internal/db/models"
	"github.com/auditcore/audit-service/internal/db/repositories"
)

var (
	sharedDB     *sqlx.DB
	sharedDBOnce sync.Once
	sharedDBErr  error
)

// testDB starts one PostgreSQL container per test run and applies the migrations.
func testDB(t *testing.T) *sqlx.DB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	sharedDBOnce.Do(func() {
		sharedDB, sharedDBErr = startPostgres(context.Background())
	})
	if sharedDBErr != nil {
		t.Fatalf("Failed to setup test database: %v", sharedDBErr)
	}

	_, err := sharedDB.Exec(`TRUNCATE audit_changes, audit_logs`)
	require.NoError(t, err)
	return sharedDB
}

func startPostgres(ctx context.Context) (*sqlx.DB, error) {
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "audit_test",
			"POSTGRES_USER":     "audit",
			"POSTGRES_PASSWORD": "test_password",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start test container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}

	dsn := fmt.Sprintf("host=%s port=%s user=audit password=test_password dbname=audit_test sslmode=disable",
		host, port.Port())

	var conn *sqlx.DB
	for i := 0; i < 10; i++ {
		sqlDB, err := db.Connect(dsn, 5, 1)
		if err == nil {
			conn = sqlx.NewDb(sqlDB, "postgres")
			break
		}
		time.Sleep(500 * time.Millisecond)
	}
	if conn == nil {
		return nil, fmt.Errorf("database at %s:%s never became reachable", host, port.Port())
	}

	if err := db.RunMigrations(conn.DB, "up"); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return conn, nil
}

func entryAt(actor string, action models.Action, ts time.Time) *models.AuditLog {
	risk := models.RiskLow
	return &models.AuditLog{
		ActorID:      actor,
		ActorName:    actor,
		Action:       action,
		ResourceType: models.ResourceUser,
		ResourceID:   "user-1",
		Details:      string(action) + " user",
		Timestamp:    ts,
		Success:      true,
		RiskLevel:    &risk,
	}
}

func TestAuditRepository_Integration_RoundTrip(t *testing.T) {
	repo := repositories.NewAuditRepository(testDB(t))
	ctx := context.Background()

	ip := "10.0.0.7"
	entry := entryAt("u1", models.ActionUpdate, time.Now().UTC().Truncate(time.Microsecond))
	entry.IPAddress = &ip
	entry.Metadata = map[string]string{"source": "billing"}
	entry.Tags = []string{"gdpr"}
	entry.ChangesCount = 2
	require.NoError(t, repo.CreateAuditLog(ctx, entry))
	require.NotEmpty(t, entry.ID)

	oldV, newV := "INACTIVE", "ACTIVE"
	require.NoError(t, repo.CreateAuditChanges(ctx, []*models.AuditChange{
		{AuditLogID: entry.ID, FieldName: "status", OldValue: &oldV, NewValue: &newV, DataType: models.DataTypeString},
		{AuditLogID: entry.ID, FieldName: "email", OldValue: nil, NewValue: &newV, DataType: models.DataTypeString},
	}))

	got, err := repo.GetAuditLog(ctx, entry.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "u1", got.ActorID)
	assert.Equal(t, ip, *got.IPAddress)
	assert.Equal(t, "billing", got.Metadata["source"])
	assert.Equal(t, []string{"gdpr"}, got.Tags)
	assert.Empty(t, got.AffectedUsers)
	assert.True(t, entry.Timestamp.Equal(got.Timestamp))

	changes, err := repo.GetAuditChanges(ctx, entry.ID)
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, "email", changes[0].FieldName)
	assert.Nil(t, changes[0].OldValue)
	assert.Equal(t, "status", changes[1].FieldName)

	missing, err := repo.GetAuditLog(ctx, "00000000-0000-0000-0000-000000000000")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestAuditRepository_Integration_ListAndCount(t *testing.T) {
	repo := repositories.NewAuditRepository(testDB(t))
	ctx := context.Background()
	base := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, repo.CreateAuditLog(ctx, entryAt("u1", models.ActionLogin, base)))
	require.NoError(t, repo.CreateAuditLog(ctx, entryAt("u1", models.ActionCreate, base.Add(time.Hour))))
	require.NoError(t, repo.CreateAuditLog(ctx, entryAt("u2", models.ActionDelete, base.Add(2*time.Hour))))

	actor := "u1"
	logs, total, err := repo.ListAuditLogs(ctx, repositories.AuditFilter{ActorID: &actor}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, logs, 2)
	assert.Equal(t, models.ActionCreate, logs[0].Action, "newest first")

	page, total, err := repo.ListAuditLogs(ctx, repositories.AuditFilter{}, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, page, 1)
	assert.Equal(t, models.ActionCreate, page[0].Action)

	byAction, err := repo.CountByColumn(ctx, "action", repositories.AuditFilter{})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"LOGIN": 1, "CREATE": 1, "DELETE": 1}, byAction)

	actors, err := repo.CountDistinctActors(ctx, repositories.AuditFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, actors)

	end := base.Add(90 * time.Minute)
	scanned, err := repo.ScanRange(ctx, base, end, 10)
	require.NoError(t, err)
	assert.Len(t, scanned, 2)

	_, err = repo.ScanRange(ctx, base, base.Add(3*time.Hour), 2)
	assert.ErrorIs(t, err, repositories.ErrScanLimitExceeded)
}

func TestAuditRepository_Integration_PurgeOlderThan(t *testing.T) {
	repo := repositories.NewAuditRepository(testDB(t))
	ctx := context.Background()
	cutoff := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	old := entryAt("u1", models.ActionUpdate, cutoff.Add(-time.Hour))
	require.NoError(t, repo.CreateAuditLog(ctx, old))
	v := "x"
	require.NoError(t, repo.CreateAuditChanges(ctx, []*models.AuditChange{
		{AuditLogID: old.ID, FieldName: "name", NewValue: &v, DataType: models.DataTypeString},
	}))
	boundary := entryAt("u2", models.ActionUpdate, cutoff)
	high := models.RiskHigh
	project := "proj-9"
	boundary.RiskLevel = &high
	boundary.ProjectID = &project
	boundary.Metadata = map[string]string{"ticket": "SEC-12"}
	boundary.Tags = []string{"gdpr", "pii"}
	boundary.ComplianceFlags = []string{"SOX"}
	boundary.AffectedUsers = []string{"user-1"}
	boundary.ChangesCount = 1
	require.NoError(t, repo.CreateAuditLog(ctx, boundary))
	oldRole, newRole := "viewer", "admin"
	require.NoError(t, repo.CreateAuditChanges(ctx, []*models.AuditChange{
		{AuditLogID: boundary.ID, FieldName: "role", OldValue: &oldRole, NewValue: &newRole, DataType: models.DataTypeString},
	}))

	before, err := repo.GetAuditLog(ctx, boundary.ID)
	require.NoError(t, err)
	require.NotNil(t, before)
	changesBefore, err := repo.GetAuditChanges(ctx, boundary.ID)
	require.NoError(t, err)
	require.Len(t, changesBefore, 1)

	var streamed []string
	require.NoError(t, repo.StreamOlderThan(ctx, cutoff, func(l *models.AuditLog) error {
		streamed = append(streamed, l.ID)
		return nil
	}))
	assert.Equal(t, []string{old.ID}, streamed)

	deleted, err := repo.PurgeOlderThan(ctx, cutoff)
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)

	changes, err := repo.GetAuditChanges(ctx, old.ID)
	require.NoError(t, err)
	assert.Empty(t, changes)
	purged, err := repo.GetAuditLog(ctx, old.ID)
	require.NoError(t, err)
	assert.Nil(t, purged)

	// Entries at or after the cutoff are untouched, change records included.
	after, err := repo.GetAuditLog(ctx, boundary.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	changesAfter, err := repo.GetAuditChanges(ctx, boundary.ID)
	require.NoError(t, err)
	assert.Equal(t, changesBefore, changesAfter)
}
