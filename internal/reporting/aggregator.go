// Package reporting composes query results into the fixed-shape summaries served to
// dashboards and compliance reports.
package reporting

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/auditcore/audit-service/internal/audit"
	"github.com/auditcore/audit-service/internal/db/models"
	"github.com/auditcore/audit-service/internal/db/repositories"
)

const dashboardCacheKey = "audit:dashboard:v1"

// Store is the aggregate read access reports need. Counting is pushed to the database.
type Store interface {
	CountAuditLogs(ctx context.Context, filter repositories.AuditFilter) (int, error)
	CountDistinctActors(ctx context.Context, filter repositories.AuditFilter) (int, error)
	CountByColumn(ctx context.Context, column string, filter repositories.AuditFilter) (map[string]int, error)
}

// ActivityReport summarizes one range.
type ActivityReport struct {
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	TotalActions int       `json:"total_actions"`
	LoginCount   int       `json:"login_count"`
	CreateCount  int       `json:"create_count"`
	UpdateCount  int       `json:"update_count"`
	DeleteCount  int       `json:"delete_count"`
	FailedCount  int       `json:"failed_count"`
}

// DashboardStats is the landing-page summary.
type DashboardStats struct {
	TotalLogs                 int            `json:"total_logs"`
	LogsLast24h               int            `json:"logs_last_24h"`
	FailedLogsLast24h         int            `json:"failed_logs_last_24h"`
	ActiveUsersLast24h        int            `json:"active_users_last_24h"`
	MostFrequentActions       map[string]int `json:"most_frequent_actions"`
	MostAccessedResourceTypes map[string]int `json:"most_accessed_resource_types"`
	GeneratedAt               time.Time      `json:"generated_at"`
}

// Aggregator builds reports. DashboardStats is served from cache when one is set;
// concurrent cache misses share a single computation.
type Aggregator struct {
	store    Store
	cache    Cache
	cacheTTL time.Duration
	now      func() time.Time
	group    singleflight.Group
}

// NewAggregator creates an aggregator. A nil cache or zero TTL disables caching.
func NewAggregator(store Store, cache Cache, cacheTTL time.Duration) *Aggregator {
	return &Aggregator{store: store, cache: cache, cacheTTL: cacheTTL, now: time.Now}
}

// ActivityReport counts entries in [start, end] by action kind and failure.
func (a *Aggregator) ActivityReport(ctx context.Context, start, end time.Time) (*ActivityReport, error) {
	if err := audit.ValidateRange(start, end); err != nil {
		return nil, err
	}
	rng := repositories.AuditFilter{Start: &start, End: &end}

	byAction, err := a.store.CountByColumn(ctx, "action", rng)
	if err != nil {
		return nil, fmt.Errorf("failed to count actions: %w", err)
	}

	failedOnly := false
	failures := rng
	failures.Success = &failedOnly
	failed, err := a.store.CountAuditLogs(ctx, failures)
	if err != nil {
		return nil, fmt.Errorf("failed to count failures: %w", err)
	}

	total := 0
	for _, n := range byAction {
		total += n
	}

	return &ActivityReport{
		Start:        start,
		End:          end,
		TotalActions: total,
		LoginCount:   byAction[string(models.ActionLogin)],
		CreateCount:  byAction[string(models.ActionCreate)],
		UpdateCount:  byAction[string(models.ActionUpdate)],
		DeleteCount:  byAction[string(models.ActionDelete)],
		FailedCount:  failed,
	}, nil
}

// DashboardStats returns totals for all time and for the last 24 hours. An empty
// store yields zero counts and empty maps.
func (a *Aggregator) DashboardStats(ctx context.Context) (*DashboardStats, error) {
	if stats, ok := a.cached(ctx); ok {
		return stats, nil
	}

	v, err, _ := a.group.Do(dashboardCacheKey, func() (any, error) {
		stats, err := a.computeDashboard(ctx)
		if err != nil {
			return nil, err
		}
		a.storeInCache(ctx, stats)
		return stats, nil
	})
	if err != nil {
		return nil, err
	}
	stats, ok := v.(*DashboardStats)
	if !ok {
		return nil, fmt.Errorf("reporting: unexpected singleflight result type %T", v)
	}
	return stats, nil
}

func (a *Aggregator) computeDashboard(ctx context.Context) (*DashboardStats, error) {
	now := a.now().UTC()
	since := now.Add(-24 * time.Hour)
	all := repositories.AuditFilter{}
	last24h := repositories.AuditFilter{Start: &since}

	total, err := a.store.CountAuditLogs(ctx, all)
	if err != nil {
		return nil, fmt.Errorf("failed to count audit logs: %w", err)
	}
	recent, err := a.store.CountAuditLogs(ctx, last24h)
	if err != nil {
		return nil, fmt.Errorf("failed to count recent audit logs: %w", err)
	}

	failedOnly := false
	recentFailures := last24h
	recentFailures.Success = &failedOnly
	failed, err := a.store.CountAuditLogs(ctx, recentFailures)
	if err != nil {
		return nil, fmt.Errorf("failed to count recent failures: %w", err)
	}

	actors, err := a.store.CountDistinctActors(ctx, last24h)
	if err != nil {
		return nil, fmt.Errorf("failed to count active actors: %w", err)
	}
	actions, err := a.store.CountByColumn(ctx, "action", all)
	if err != nil {
		return nil, fmt.Errorf("failed to count actions: %w", err)
	}
	resources, err := a.store.CountByColumn(ctx, "resource_type", all)
	if err != nil {
		return nil, fmt.Errorf("failed to count resource types: %w", err)
	}

	return &DashboardStats{
		TotalLogs:                 total,
		LogsLast24h:               recent,
		FailedLogsLast24h:         failed,
		ActiveUsersLast24h:        actors,
		MostFrequentActions:       nonNilMap(actions),
		MostAccessedResourceTypes: nonNilMap(resources),
		GeneratedAt:               now,
	}, nil
}

// InvalidateDashboard drops the cached dashboard, e.g. after a purge.
func (a *Aggregator) InvalidateDashboard(ctx context.Context) {
	if a.cache == nil {
		return
	}
	if err := a.cache.Delete(ctx, dashboardCacheKey); err != nil {
		slog.Warn("failed to invalidate dashboard cache", "error", err)
	}
}

func (a *Aggregator) cached(ctx context.Context) (*DashboardStats, bool) {
	if a.cache == nil || a.cacheTTL <= 0 {
		return nil, false
	}
	data, ok, err := a.cache.Get(ctx, dashboardCacheKey)
	if err != nil {
		slog.Warn("dashboard cache read failed", "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var stats DashboardStats
	if err := json.Unmarshal(data, &stats); err != nil {
		slog.Warn("discarding undecodable dashboard cache entry", "error", err)
		return nil, false
	}
	stats.MostFrequentActions = nonNilMap(stats.MostFrequentActions)
	stats.MostAccessedResourceTypes = nonNilMap(stats.MostAccessedResourceTypes)
	return &stats, true
}

func (a *Aggregator) storeInCache(ctx context.Context, stats *DashboardStats) {
	if a.cache == nil || a.cacheTTL <= 0 {
		return
	}
	data, err := json.Marshal(stats)
	if err != nil {
		return
	}
	if err := a.cache.Set(ctx, dashboardCacheKey, data, a.cacheTTL); err != nil {
		slog.Warn("dashboard cache write failed", "error", err)
	}
}

func nonNilMap(m map[string]int) map[string]int {
	if m == nil {
		return map[string]int{}
	}
	return m
}
