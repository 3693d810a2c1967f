// Package audit is the core of the audit trail: it diffs before/after snapshots,
// classifies risk, records entries and their field-level changes, and serves
// filtered reads over what was recorded.
//
// Recording is best-effort by contract. Business operations call the Recorder
// after completing their own write; a store failure is reported through
// RecordResult and logged, never returned as an error that would fail the caller.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/auditcore/audit-service/internal/db/models"
	"github.com/auditcore/audit-service/internal/telemetry"
)

// Status is the outcome of a record call.
type Status string

const (
	// StatusRecorded means the entry and all of its change records were persisted.
	StatusRecorded Status = "recorded"
	// StatusDegraded means persistence failed in part or in full. The caller's
	// operation still succeeded.
	StatusDegraded Status = "degraded"
	// StatusRejected means the request was invalid and nothing was written.
	StatusRejected Status = "rejected"
)

// RecordResult reports what a record call did.
type RecordResult struct {
	Status  Status
	Entry   *models.AuditLog
	Changes []*models.AuditChange
	// Err is the validation or persistence error behind a non-recorded status
	Err error
}

// Persisted reports whether the entry itself reached the store. A degraded result
// with a persisted entry means only its change records were lost.
func (r RecordResult) Persisted() bool {
	return r.Entry != nil
}

// ErrChangesNotPersisted wraps the store error when an entry was written but its
// change records were not. The entry is left in place without its changes.
var ErrChangesNotPersisted = errors.New("change records not persisted")

// Actor identifies who performed an action.
type Actor struct {
	ID   string
	Name string
}

// SystemActor is used for entries the service writes on its own behalf.
var SystemActor = Actor{ID: "system", Name: "System"}

// Session carries request context attached to an entry. Empty fields are stored as null.
type Session struct {
	IPAddress string
	UserAgent string
	SessionID string
}

// Option enriches an entry before it is classified and persisted.
type Option func(*models.AuditLog)

// WithSession attaches client address, agent and session id.
func WithSession(s Session) Option {
	return func(l *models.AuditLog) {
		l.IPAddress = optional(s.IPAddress)
		l.UserAgent = optional(s.UserAgent)
		l.SessionID = optional(s.SessionID)
	}
}

// WithProject scopes the entry to a project.
func WithProject(projectID string) Option {
	return func(l *models.AuditLog) { l.ProjectID = optional(projectID) }
}

// WithParent chains the entry to an earlier one.
func WithParent(parentLogID string) Option {
	return func(l *models.AuditLog) { l.ParentLogID = optional(parentLogID) }
}

// WithMetadata merges key/value pairs into the entry metadata.
func WithMetadata(md map[string]string) Option {
	return func(l *models.AuditLog) {
		if len(md) == 0 {
			return
		}
		if l.Metadata == nil {
			l.Metadata = make(map[string]string, len(md))
		}
		for k, v := range md {
			l.Metadata[k] = v
		}
	}
}

// WithTags adds tags, skipping duplicates.
func WithTags(tags ...string) Option {
	return func(l *models.AuditLog) { l.Tags = appendUnique(l.Tags, tags...) }
}

// WithAffectedUsers adds the ids of users affected by the action.
func WithAffectedUsers(ids ...string) Option {
	return func(l *models.AuditLog) { l.AffectedUsers = appendUnique(l.AffectedUsers, ids...) }
}

// WithComplianceFlags adds compliance labels such as GDPR or SOX.
func WithComplianceFlags(flags ...string) Option {
	return func(l *models.AuditLog) { l.ComplianceFlags = appendUnique(l.ComplianceFlags, flags...) }
}

// WithFailure marks the action as failed with the given error message.
func WithFailure(errMsg string) Option {
	return func(l *models.AuditLog) {
		l.Success = false
		l.ErrorMessage = optional(errMsg)
	}
}

// Store is the persistence the Recorder needs.
type Store interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
	CreateAuditChanges(ctx context.Context, changes []*models.AuditChange) error
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Recorder writes audit entries. It is safe for concurrent use.
type Recorder struct {
	store      Store
	classifier atomic.Pointer[Classifier]
	shipper    Shipper
	timeout    time.Duration
	now        func() time.Time
}

// NewRecorder creates a recorder. A nil shipper disables forwarding; a zero timeout
// leaves the caller's context deadline in charge.
func NewRecorder(store Store, classifier *Classifier, shipper Shipper, timeout time.Duration) *Recorder {
	if classifier == nil {
		classifier = DefaultClassifier()
	}
	if shipper == nil {
		shipper = NopShipper{}
	}
	r := &Recorder{
		store:   store,
		shipper: shipper,
		timeout: timeout,
		now:     time.Now,
	}
	r.classifier.Store(classifier)
	return r
}

// SetClassifier swaps the risk rules used for subsequent records.
func (r *Recorder) SetClassifier(c *Classifier) {
	if c != nil {
		r.classifier.Store(c)
	}
}

// Classifier returns the rules currently in use.
func (r *Recorder) Classifier() *Classifier {
	return r.classifier.Load()
}

// Record writes one entry without change records.
func (r *Recorder) Record(ctx context.Context, actor Actor, action models.Action, resourceType, resourceID, details string, opts ...Option) RecordResult {
	return r.record(ctx, actor, action, resourceType, resourceID, details, nil, nil, opts)
}

// RecordWithChanges writes one entry and, for an UPDATE with both snapshots non-empty,
// one change record per differing field. The entry's risk level reflects the changed
// field names and its ChangesCount equals the number of change records.
func (r *Recorder) RecordWithChanges(ctx context.Context, actor Actor, action models.Action, resourceType, resourceID, details string, prev, next map[string]any, opts ...Option) RecordResult {
	return r.record(ctx, actor, action, resourceType, resourceID, details, prev, next, opts)
}

// RecordLogin records a successful login by actor.
func (r *Recorder) RecordLogin(ctx context.Context, actor Actor, session Session, opts ...Option) RecordResult {
	opts = append([]Option{WithSession(session)}, opts...)
	return r.Record(ctx, actor, models.ActionLogin, models.ResourceUser, actor.ID, "User logged in", opts...)
}

// RecordLogout records a logout by actor.
func (r *Recorder) RecordLogout(ctx context.Context, actor Actor, session Session, opts ...Option) RecordResult {
	opts = append([]Option{WithSession(session)}, opts...)
	return r.Record(ctx, actor, models.ActionLogout, models.ResourceUser, actor.ID, "User logged out", opts...)
}

// RecordFailure records an action that did not succeed.
func (r *Recorder) RecordFailure(ctx context.Context, actor Actor, action models.Action, resourceType, resourceID, details, errMsg string, opts ...Option) RecordResult {
	opts = append(opts, WithFailure(errMsg))
	return r.Record(ctx, actor, action, resourceType, resourceID, details, opts...)
}

// RecordInProject records an action scoped to a project.
func (r *Recorder) RecordInProject(ctx context.Context, projectID string, actor Actor, action models.Action, resourceType, resourceID, details string, opts ...Option) RecordResult {
	opts = append(opts, WithProject(projectID))
	return r.Record(ctx, actor, action, resourceType, resourceID, details, opts...)
}

func (r *Recorder) record(ctx context.Context, actor Actor, action models.Action, resourceType, resourceID, details string, prev, next map[string]any, opts []Option) RecordResult {
	entry := &models.AuditLog{
		ActorID:         actor.ID,
		ActorName:       actor.Name,
		Action:          action,
		ResourceType:    resourceType,
		ResourceID:      resourceID,
		Details:         details,
		Timestamp:       r.now().UTC().Truncate(time.Microsecond),
		Success:         true,
		Tags:            []string{},
		AffectedUsers:   []string{},
		ComplianceFlags: []string{},
	}
	for _, opt := range opts {
		opt(entry)
	}

	if err := validateEntry(entry); err != nil {
		telemetry.AuditRecordsTotal.WithLabelValues(string(StatusRejected)).Inc()
		slog.Warn("audit record rejected",
			"action", action, "resource_type", resourceType, "actor_id", actor.ID, "error", err)
		return RecordResult{Status: StatusRejected, Err: err}
	}

	var diffs []FieldChange
	if action == models.ActionUpdate && len(prev) > 0 && len(next) > 0 {
		diffs = Diff(prev, next)
	}

	risk := r.classifier.Load().Classify(action, resourceType, FieldNames(diffs), entry.Success)
	entry.RiskLevel = &risk
	entry.ChangesCount = len(diffs)
	entry.ID = uuid.New().String()

	changes := make([]*models.AuditChange, 0, len(diffs))
	for _, d := range diffs {
		changes = append(changes, &models.AuditChange{
			ID:         uuid.New().String(),
			AuditLogID: entry.ID,
			FieldName:  d.Field,
			OldValue:   d.Old.Ptr(),
			NewValue:   d.New.Ptr(),
			DataType:   d.DataType,
			Timestamp:  entry.Timestamp,
		})
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() { telemetry.AuditRecordDuration.Observe(time.Since(start).Seconds()) }()

	if err := r.store.CreateAuditLog(ctx, entry); err != nil {
		telemetry.AuditRecordsTotal.WithLabelValues(string(StatusDegraded)).Inc()
		slog.Warn("failed to persist audit entry",
			"action", action, "resource_type", resourceType, "actor_id", actor.ID, "error", err)
		return RecordResult{Status: StatusDegraded, Err: fmt.Errorf("persist entry: %w", err)}
	}

	result := RecordResult{Status: StatusRecorded, Entry: entry, Changes: changes}
	if len(changes) > 0 {
		if err := r.store.CreateAuditChanges(ctx, changes); err != nil {
			slog.Warn("failed to persist audit change records",
				"audit_log_id", entry.ID, "changes", len(changes), "error", err)
			result.Status = StatusDegraded
			result.Changes = nil
			result.Err = fmt.Errorf("%w: %w", ErrChangesNotPersisted, err)
		} else {
			telemetry.AuditChangeRecordsTotal.Add(float64(len(changes)))
		}
	}
	telemetry.AuditRecordsTotal.WithLabelValues(string(result.Status)).Inc()

	if err := r.shipper.Ship(ctx, entry); err != nil {
		slog.Warn("failed to ship audit entry", "audit_log_id", entry.ID, "error", err)
	}
	return result
}

// PurgeOlderThan deletes every entry with a timestamp strictly before cutoff together
// with its change records. When anything was deleted a MAINTENANCE entry is recorded
// by the system actor. Unlike record calls, a store failure is returned.
func (r *Recorder) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	deleted, err := r.store.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge audit logs: %w", err)
	}
	telemetry.AuditPurgedEntriesTotal.Add(float64(deleted))

	if deleted > 0 {
		details := fmt.Sprintf("Deleted %d old audit logs before %s", deleted, cutoff.UTC().Format(time.RFC3339))
		r.Record(ctx, SystemActor, models.ActionMaintenance, models.ResourceAuditLog, "", details)
		slog.Info("purged audit logs", "deleted", deleted, "cutoff", cutoff.UTC())
	}
	return deleted, nil
}

func validateEntry(l *models.AuditLog) error {
	switch {
	case l.ActorID == "":
		return &ValidationError{Field: "actor", Err: errors.New("actor id is required")}
	case l.Action == "":
		return &ValidationError{Field: "action", Err: errors.New("action is required")}
	case l.ResourceType == "":
		return &ValidationError{Field: "resource_type", Err: errors.New("resource type is required")}
	}
	return nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func appendUnique(dst []string, items ...string) []string {
	for _, it := range items {
		if it == "" {
			continue
		}
		dup := false
		for _, existing := range dst {
			if existing == it {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, it)
		}
	}
	return dst
}
