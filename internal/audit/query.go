package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/auditcore/audit-service/internal/db/models"
	"github.com/auditcore/audit-service/internal/db/repositories"
)

// Filter narrows a query. See repositories.AuditFilter for field semantics.
type Filter = repositories.AuditFilter

// Page selects a window of a descending-by-time listing. Limit 0 means no limit.
type Page struct {
	Limit  int
	Offset int
}

// ListResult is one page of entries plus the total number of matches.
type ListResult struct {
	Logs   []*models.AuditLog `json:"logs"`
	Total  int                `json:"total"`
	Limit  int                `json:"limit"`
	Offset int                `json:"offset"`
}

// Reader is the read side of the audit store.
type Reader interface {
	GetAuditLog(ctx context.Context, id string) (*models.AuditLog, error)
	GetAuditChanges(ctx context.Context, auditLogID string) ([]*models.AuditChange, error)
	ListAuditLogs(ctx context.Context, filter repositories.AuditFilter, limit, offset int) ([]*models.AuditLog, int, error)
	CountAuditLogs(ctx context.Context, filter repositories.AuditFilter) (int, error)
}

// QueryService serves filtered reads. Listings are ordered newest first with the
// entry id as tie-break. Arguments are validated before the store is touched.
type QueryService struct {
	store Reader
}

// NewQueryService creates a query service over store.
func NewQueryService(store Reader) *QueryService {
	return &QueryService{store: store}
}

// List returns one page of entries matching filter.
func (q *QueryService) List(ctx context.Context, filter Filter, page Page) (*ListResult, error) {
	if err := validateFilter(filter); err != nil {
		return nil, err
	}
	if err := ValidateLimit(page.Limit); err != nil {
		return nil, err
	}
	if page.Offset < 0 {
		return nil, &ValidationError{Field: "offset", Err: fmt.Errorf("%w (got %d)", ErrNegativeOffset, page.Offset)}
	}

	logs, total, err := q.store.ListAuditLogs(ctx, filter, page.Limit, page.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}
	if logs == nil {
		logs = []*models.AuditLog{}
	}
	return &ListResult{Logs: logs, Total: total, Limit: page.Limit, Offset: page.Offset}, nil
}

// Count returns the number of entries matching filter.
func (q *QueryService) Count(ctx context.Context, filter Filter) (int, error) {
	if err := validateFilter(filter); err != nil {
		return 0, err
	}
	n, err := q.store.CountAuditLogs(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to count audit logs: %w", err)
	}
	return n, nil
}

// Get returns one entry or ErrNotFound.
func (q *QueryService) Get(ctx context.Context, id string) (*models.AuditLog, error) {
	log, err := q.store.GetAuditLog(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get audit log: %w", err)
	}
	if log == nil {
		return nil, ErrNotFound
	}
	return log, nil
}

// GetChanges returns the change records of an entry ordered by field name.
func (q *QueryService) GetChanges(ctx context.Context, auditLogID string) ([]*models.AuditChange, error) {
	changes, err := q.store.GetAuditChanges(ctx, auditLogID)
	if err != nil {
		return nil, fmt.Errorf("failed to get audit changes: %w", err)
	}
	if changes == nil {
		changes = []*models.AuditChange{}
	}
	return changes, nil
}

// Single-dimension listings.

func (q *QueryService) ByActor(ctx context.Context, actorID string, page Page) (*ListResult, error) {
	return q.List(ctx, Filter{ActorID: &actorID}, page)
}

func (q *QueryService) ByAction(ctx context.Context, action models.Action, page Page) (*ListResult, error) {
	return q.List(ctx, Filter{Action: &action}, page)
}

func (q *QueryService) ByResourceType(ctx context.Context, resourceType string, page Page) (*ListResult, error) {
	return q.List(ctx, Filter{ResourceType: &resourceType}, page)
}

func (q *QueryService) ByResource(ctx context.Context, resourceType, resourceID string, page Page) (*ListResult, error) {
	return q.List(ctx, Filter{ResourceType: &resourceType, ResourceID: &resourceID}, page)
}

func (q *QueryService) ByProject(ctx context.Context, projectID string, page Page) (*ListResult, error) {
	return q.List(ctx, Filter{ProjectID: &projectID}, page)
}

func (q *QueryService) ByOutcome(ctx context.Context, success bool, page Page) (*ListResult, error) {
	return q.List(ctx, Filter{Success: &success}, page)
}

func (q *QueryService) ByRiskLevel(ctx context.Context, level models.RiskLevel, page Page) (*ListResult, error) {
	return q.List(ctx, Filter{RiskLevel: &level}, page)
}

func (q *QueryService) ByIPAddress(ctx context.Context, ip string, page Page) (*ListResult, error) {
	return q.List(ctx, Filter{IPAddress: &ip}, page)
}

func (q *QueryService) InRange(ctx context.Context, start, end time.Time, page Page) (*ListResult, error) {
	return q.List(ctx, Filter{Start: &start, End: &end}, page)
}

// Listings combining a dimension with a time range.

func (q *QueryService) ActorInRange(ctx context.Context, actorID string, start, end time.Time, page Page) (*ListResult, error) {
	return q.List(ctx, Filter{ActorID: &actorID, Start: &start, End: &end}, page)
}

func (q *QueryService) ActionInRange(ctx context.Context, action models.Action, start, end time.Time, page Page) (*ListResult, error) {
	return q.List(ctx, Filter{Action: &action, Start: &start, End: &end}, page)
}

func (q *QueryService) ResourceTypeInRange(ctx context.Context, resourceType string, start, end time.Time, page Page) (*ListResult, error) {
	return q.List(ctx, Filter{ResourceType: &resourceType, Start: &start, End: &end}, page)
}

func (q *QueryService) IPAddressInRange(ctx context.Context, ip string, start, end time.Time, page Page) (*ListResult, error) {
	return q.List(ctx, Filter{IPAddress: &ip, Start: &start, End: &end}, page)
}

func (q *QueryService) FailuresInRange(ctx context.Context, start, end time.Time, page Page) (*ListResult, error) {
	failed := false
	return q.List(ctx, Filter{Success: &failed, Start: &start, End: &end}, page)
}

// LoginHistory lists LOGIN and LOGOUT entries for an actor.
func (q *QueryService) LoginHistory(ctx context.Context, actorID string, page Page) (*ListResult, error) {
	return q.List(ctx, Filter{
		ActorID: &actorID,
		Actions: []models.Action{models.ActionLogin, models.ActionLogout},
	}, page)
}

// RecentHighRisk lists HIGH and CRITICAL entries at or after since.
func (q *QueryService) RecentHighRisk(ctx context.Context, since time.Time, limit int) ([]*models.AuditLog, error) {
	res, err := q.List(ctx, Filter{
		Start:      &since,
		RiskLevels: []models.RiskLevel{models.RiskHigh, models.RiskCritical},
	}, Page{Limit: limit})
	if err != nil {
		return nil, err
	}
	return res.Logs, nil
}

// Counting variants used by statistics.

func (q *QueryService) CountByActor(ctx context.Context, actorID string) (int, error) {
	return q.Count(ctx, Filter{ActorID: &actorID})
}

func (q *QueryService) CountByAction(ctx context.Context, action models.Action) (int, error) {
	return q.Count(ctx, Filter{Action: &action})
}

func (q *QueryService) CountByActionInRange(ctx context.Context, action models.Action, start, end time.Time) (int, error) {
	return q.Count(ctx, Filter{Action: &action, Start: &start, End: &end})
}

func (q *QueryService) CountFailuresInRange(ctx context.Context, start, end time.Time) (int, error) {
	failed := false
	return q.Count(ctx, Filter{Success: &failed, Start: &start, End: &end})
}

func (q *QueryService) CountByRiskLevel(ctx context.Context, level models.RiskLevel) (int, error) {
	return q.Count(ctx, Filter{RiskLevel: &level})
}

func validateFilter(f Filter) error {
	if f.Start != nil && f.End != nil {
		return ValidateRange(*f.Start, *f.End)
	}
	return nil
}
