// Package repositories - audit_repository.go provides database operations for audit log entries
// and their field-level change records: inserts, filtered listing with counts, range scans for
// analytics, SQL-side aggregations, and the transactional age-based purge.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/auditcore/audit-service/internal/db/models"
)

// ErrScanLimitExceeded is returned by ScanRange when the range holds more rows than the caller allows.
var ErrScanLimitExceeded = errors.New("range scan exceeds configured row limit")

const auditLogColumns = `id, actor_id, actor_name, action, resource_type, resource_id, details,
	ip_address, user_agent, session_id, project_id, occurred_at, success, error_message,
	risk_level, parent_log_id, metadata, tags, changes_count, affected_users, compliance_flags`

const auditChangeColumns = `id, audit_log_id, field_name, old_value, new_value, data_type, occurred_at`

// AuditRepository handles audit log database operations
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// AuditFilter narrows a query. Nil fields are ignored; Start and End are inclusive,
// Before is exclusive.
type AuditFilter struct {
	ActorID      *string
	Action       *models.Action
	Actions      []models.Action
	ResourceType *string
	ResourceID   *string
	ProjectID    *string
	Success      *bool
	RiskLevel    *models.RiskLevel
	RiskLevels   []models.RiskLevel
	IPAddress    *string
	Start        *time.Time
	End          *time.Time
	Before       *time.Time
}

// auditLogRow is the sqlx scan target for audit_logs.
type auditLogRow struct {
	ID              string         `db:"id"`
	ActorID         string         `db:"actor_id"`
	ActorName       string         `db:"actor_name"`
	Action          string         `db:"action"`
	ResourceType    string         `db:"resource_type"`
	ResourceID      string         `db:"resource_id"`
	Details         string         `db:"details"`
	IPAddress       sql.NullString `db:"ip_address"`
	UserAgent       sql.NullString `db:"user_agent"`
	SessionID       sql.NullString `db:"session_id"`
	ProjectID       sql.NullString `db:"project_id"`
	OccurredAt      time.Time      `db:"occurred_at"`
	Success         bool           `db:"success"`
	ErrorMessage    sql.NullString `db:"error_message"`
	RiskLevel       sql.NullString `db:"risk_level"`
	ParentLogID     sql.NullString `db:"parent_log_id"`
	Metadata        []byte         `db:"metadata"`
	Tags            pq.StringArray `db:"tags"`
	ChangesCount    int            `db:"changes_count"`
	AffectedUsers   pq.StringArray `db:"affected_users"`
	ComplianceFlags pq.StringArray `db:"compliance_flags"`
}

func (r *auditLogRow) toModel() (*models.AuditLog, error) {
	log := &models.AuditLog{
		ID:              r.ID,
		ActorID:         r.ActorID,
		ActorName:       r.ActorName,
		Action:          models.Action(r.Action),
		ResourceType:    r.ResourceType,
		ResourceID:      r.ResourceID,
		Details:         r.Details,
		IPAddress:       nullableString(r.IPAddress),
		UserAgent:       nullableString(r.UserAgent),
		SessionID:       nullableString(r.SessionID),
		ProjectID:       nullableString(r.ProjectID),
		Timestamp:       r.OccurredAt,
		Success:         r.Success,
		ErrorMessage:    nullableString(r.ErrorMessage),
		ParentLogID:     nullableString(r.ParentLogID),
		Tags:            nonNil(r.Tags),
		ChangesCount:    r.ChangesCount,
		AffectedUsers:   nonNil(r.AffectedUsers),
		ComplianceFlags: nonNil(r.ComplianceFlags),
	}
	if r.RiskLevel.Valid {
		lvl := models.RiskLevel(r.RiskLevel.String)
		log.RiskLevel = &lvl
	}
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &log.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata for audit log %s: %w", r.ID, err)
		}
	}
	return log, nil
}

type auditChangeRow struct {
	ID         string         `db:"id"`
	AuditLogID string         `db:"audit_log_id"`
	FieldName  string         `db:"field_name"`
	OldValue   sql.NullString `db:"old_value"`
	NewValue   sql.NullString `db:"new_value"`
	DataType   string         `db:"data_type"`
	OccurredAt time.Time      `db:"occurred_at"`
}

// CreateAuditLog inserts an audit entry. ID and Timestamp are assigned when empty.
func (r *AuditRepository) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	if log.ID == "" {
		log.ID = uuid.New().String()
	}
	if log.Timestamp.IsZero() {
		log.Timestamp = time.Now().UTC()
	}

	var metadataJSON []byte
	if len(log.Metadata) > 0 {
		var err error
		metadataJSON, err = json.Marshal(log.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	var risk *string
	if log.RiskLevel != nil {
		s := string(*log.RiskLevel)
		risk = &s
	}

	query := `
		INSERT INTO audit_logs (` + auditLogColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`

	_, err := r.db.ExecContext(ctx, query,
		log.ID,
		log.ActorID,
		log.ActorName,
		string(log.Action),
		log.ResourceType,
		log.ResourceID,
		log.Details,
		log.IPAddress,
		log.UserAgent,
		log.SessionID,
		log.ProjectID,
		log.Timestamp,
		log.Success,
		log.ErrorMessage,
		risk,
		log.ParentLogID,
		metadataJSON,
		pq.Array(nonNil(log.Tags)),
		log.ChangesCount,
		pq.Array(nonNil(log.AffectedUsers)),
		pq.Array(nonNil(log.ComplianceFlags)),
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

// CreateAuditChanges inserts the change records of one entry in a single transaction.
func (r *AuditRepository) CreateAuditChanges(ctx context.Context, changes []*models.AuditChange) error {
	if len(changes) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `INSERT INTO audit_changes (` + auditChangeColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7)`
	for _, ch := range changes {
		if ch.ID == "" {
			ch.ID = uuid.New().String()
		}
		if ch.Timestamp.IsZero() {
			ch.Timestamp = time.Now().UTC()
		}
		if _, err := tx.ExecContext(ctx, query,
			ch.ID, ch.AuditLogID, ch.FieldName, ch.OldValue, ch.NewValue, string(ch.DataType), ch.Timestamp,
		); err != nil {
			return fmt.Errorf("failed to insert audit change %q: %w", ch.FieldName, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit audit changes: %w", err)
	}
	return nil
}

// GetAuditLog retrieves a single audit log entry by ID. Returns nil, nil when absent.
func (r *AuditRepository) GetAuditLog(ctx context.Context, id string) (*models.AuditLog, error) {
	var row auditLogRow
	err := r.db.GetContext(ctx, &row, `SELECT `+auditLogColumns+` FROM audit_logs WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get audit log: %w", err)
	}
	return row.toModel()
}

// GetAuditChanges returns the change records of an entry ordered by field name.
func (r *AuditRepository) GetAuditChanges(ctx context.Context, auditLogID string) ([]*models.AuditChange, error) {
	var rows []auditChangeRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT `+auditChangeColumns+` FROM audit_changes WHERE audit_log_id = $1 ORDER BY field_name, id`,
		auditLogID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit changes: %w", err)
	}

	changes := make([]*models.AuditChange, 0, len(rows))
	for _, row := range rows {
		changes = append(changes, &models.AuditChange{
			ID:         row.ID,
			AuditLogID: row.AuditLogID,
			FieldName:  row.FieldName,
			OldValue:   nullableString(row.OldValue),
			NewValue:   nullableString(row.NewValue),
			DataType:   models.DataType(row.DataType),
			Timestamp:  row.OccurredAt,
		})
	}
	return changes, nil
}

// ListAuditLogs retrieves audit logs matching the filter, newest first, with the total match count.
// A limit of zero or less returns every match.
func (r *AuditRepository) ListAuditLogs(ctx context.Context, filter AuditFilter, limit, offset int) ([]*models.AuditLog, int, error) {
	where, args := buildWhere(filter)

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM audit_logs "+where, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count audit logs: %w", err)
	}

	query := "SELECT " + auditLogColumns + " FROM audit_logs " + where + " ORDER BY occurred_at DESC, id DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
		args = append(args, limit, offset)
	}

	var rows []auditLogRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list audit logs: %w", err)
	}

	logs := make([]*models.AuditLog, 0, len(rows))
	for i := range rows {
		log, err := rows[i].toModel()
		if err != nil {
			return nil, 0, err
		}
		logs = append(logs, log)
	}
	return logs, total, nil
}

// CountAuditLogs returns the number of entries matching the filter.
func (r *AuditRepository) CountAuditLogs(ctx context.Context, filter AuditFilter) (int, error) {
	where, args := buildWhere(filter)
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM audit_logs "+where, args...); err != nil {
		return 0, fmt.Errorf("failed to count audit logs: %w", err)
	}
	return total, nil
}

// CountDistinctActors returns the number of distinct actors among entries matching the filter.
func (r *AuditRepository) CountDistinctActors(ctx context.Context, filter AuditFilter) (int, error) {
	where, args := buildWhere(filter)
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(DISTINCT actor_id) FROM audit_logs "+where, args...); err != nil {
		return 0, fmt.Errorf("failed to count distinct actors: %w", err)
	}
	return total, nil
}

var groupableColumns = map[string]bool{
	"action":        true,
	"resource_type": true,
	"risk_level":    true,
}

// CountByColumn groups entries matching the filter by one of action, resource_type or
// risk_level and returns value -> count. NULL values are skipped.
func (r *AuditRepository) CountByColumn(ctx context.Context, column string, filter AuditFilter) (map[string]int, error) {
	if !groupableColumns[column] {
		return nil, fmt.Errorf("unsupported group column: %s", column)
	}

	where, args := buildWhere(filter)
	query := fmt.Sprintf(
		"SELECT %[1]s AS value, COUNT(*) AS count FROM audit_logs %[2]s AND %[1]s IS NOT NULL GROUP BY %[1]s",
		column, where)

	var rows []struct {
		Value string `db:"value"`
		Count int    `db:"count"`
	}
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to group audit logs by %s: %w", column, err)
	}

	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[row.Value] = row.Count
	}
	return counts, nil
}

// ScanRange streams every entry with start <= timestamp <= end in ascending time order.
// It fails with ErrScanLimitExceeded once more than maxRows rows are read (maxRows <= 0 disables the bound).
func (r *AuditRepository) ScanRange(ctx context.Context, start, end time.Time, maxRows int) ([]*models.AuditLog, error) {
	var logs []*models.AuditLog
	err := r.stream(ctx, AuditFilter{Start: &start, End: &end}, func(log *models.AuditLog) error {
		if maxRows > 0 && len(logs) >= maxRows {
			return ErrScanLimitExceeded
		}
		logs = append(logs, log)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if logs == nil {
		logs = []*models.AuditLog{}
	}
	return logs, nil
}

// StreamRange calls fn for every entry with start <= timestamp <= end, oldest first,
// without materializing the range. A non-nil error from fn stops the scan and is returned.
func (r *AuditRepository) StreamRange(ctx context.Context, start, end time.Time, fn func(*models.AuditLog) error) error {
	return r.stream(ctx, AuditFilter{Start: &start, End: &end}, fn)
}

// StreamOlderThan calls fn for every entry with timestamp strictly before cutoff, oldest first.
func (r *AuditRepository) StreamOlderThan(ctx context.Context, cutoff time.Time, fn func(*models.AuditLog) error) error {
	return r.stream(ctx, AuditFilter{Before: &cutoff}, fn)
}

func (r *AuditRepository) stream(ctx context.Context, filter AuditFilter, fn func(*models.AuditLog) error) error {
	where, args := buildWhere(filter)
	rows, err := r.db.QueryxContext(ctx,
		"SELECT "+auditLogColumns+" FROM audit_logs "+where+" ORDER BY occurred_at ASC, id ASC", args...)
	if err != nil {
		return fmt.Errorf("failed to scan audit logs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var row auditLogRow
		if err := rows.StructScan(&row); err != nil {
			return fmt.Errorf("failed to read audit log row: %w", err)
		}
		log, err := row.toModel()
		if err != nil {
			return err
		}
		if err := fn(log); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating audit logs: %w", err)
	}
	return nil
}

// PurgeOlderThan deletes every entry with timestamp strictly before cutoff together with its
// change records, in one transaction. Returns the number of entries removed.
func (r *AuditRepository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM audit_changes WHERE audit_log_id IN (SELECT id FROM audit_logs WHERE occurred_at < $1)`,
		cutoff); err != nil {
		return 0, fmt.Errorf("failed to purge audit changes: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM audit_logs WHERE occurred_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge audit logs: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read purge result: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit purge: %w", err)
	}
	return deleted, nil
}

// buildWhere renders the filter as a WHERE clause with positional arguments.
func buildWhere(f AuditFilter) (string, []interface{}) {
	var b strings.Builder
	b.WriteString("WHERE 1=1")
	args := []interface{}{}
	argNum := 1

	add := func(cond string, val interface{}) {
		fmt.Fprintf(&b, " AND "+cond, argNum)
		args = append(args, val)
		argNum++
	}

	if f.ActorID != nil {
		add("actor_id = $%d", *f.ActorID)
	}
	if f.Action != nil {
		add("action = $%d", string(*f.Action))
	}
	if len(f.Actions) > 0 {
		vals := make([]string, len(f.Actions))
		for i, a := range f.Actions {
			vals[i] = string(a)
		}
		add("action = ANY($%d)", pq.Array(vals))
	}
	if f.ResourceType != nil {
		add("resource_type = $%d", *f.ResourceType)
	}
	if f.ResourceID != nil {
		add("resource_id = $%d", *f.ResourceID)
	}
	if f.ProjectID != nil {
		add("project_id = $%d", *f.ProjectID)
	}
	if f.Success != nil {
		add("success = $%d", *f.Success)
	}
	if f.RiskLevel != nil {
		add("risk_level = $%d", string(*f.RiskLevel))
	}
	if len(f.RiskLevels) > 0 {
		vals := make([]string, len(f.RiskLevels))
		for i, l := range f.RiskLevels {
			vals[i] = string(l)
		}
		add("risk_level = ANY($%d)", pq.Array(vals))
	}
	if f.IPAddress != nil {
		add("ip_address = $%d", *f.IPAddress)
	}
	if f.Start != nil {
		add("occurred_at >= $%d", *f.Start)
	}
	if f.End != nil {
		add("occurred_at <= $%d", *f.End)
	}
	if f.Before != nil {
		add("occurred_at < $%d", *f.Before)
	}

	return b.String(), args
}

func nullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
