// Package analytics aggregates audit entries over a time window for dashboards
// and runs the anomaly heuristics used for security monitoring.
//
// Aggregations stream rows from the store in timestamp order and fold them into
// per-bucket or per-key accumulators, so memory grows with the number of groups
// and not with the number of entries. Anomaly detection needs the whole window at
// once and is bounded by audit.analytics.max_scan_rows instead.
//
// All bucketing is done in UTC. Weeks start on Monday 00:00 UTC.
package analytics

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/auditcore/audit-service/internal/audit"
	"github.com/auditcore/audit-service/internal/config"
	"github.com/auditcore/audit-service/internal/db/models"
)

// Source is the read access analytics needs from the audit store.
type Source interface {
	// StreamRange calls fn for every entry with start <= timestamp <= end, oldest first.
	StreamRange(ctx context.Context, start, end time.Time, fn func(*models.AuditLog) error) error
	// ScanRange materializes the same range, failing past maxRows.
	ScanRange(ctx context.Context, start, end time.Time, maxRows int) ([]*models.AuditLog, error)
}

// Granularity is the width of a time-series bucket.
type Granularity string

const (
	Hour Granularity = "HOUR"
	Day  Granularity = "DAY"
	Week Granularity = "WEEK"
)

// ParseGranularity accepts HOUR, DAY or WEEK in any case.
func ParseGranularity(s string) (Granularity, error) {
	switch g := Granularity(strings.ToUpper(strings.TrimSpace(s))); g {
	case Hour, Day, Week:
		return g, nil
	}
	return "", &audit.ValidationError{Field: "granularity", Err: fmt.Errorf("%w (got %q)", audit.ErrInvalidGranularity, s)}
}

// BucketStart truncates t to the start of its bucket in UTC.
func BucketStart(t time.Time, g Granularity) time.Time {
	t = t.UTC()
	switch g {
	case Hour:
		return t.Truncate(time.Hour)
	case Day:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case Week:
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		// Monday = 0 … Sunday = 6
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	}
	return t
}

// Dimension selects the attribute a distribution counts.
type Dimension string

const (
	DimensionAction       Dimension = "action"
	DimensionResourceType Dimension = "resourceType"
	DimensionRiskLevel    Dimension = "riskLevel"
)

// ParseDimension accepts action, resourceType (or resource_type) and riskLevel (or risk_level).
func ParseDimension(s string) (Dimension, error) {
	switch strings.TrimSpace(s) {
	case "action":
		return DimensionAction, nil
	case "resourceType", "resource_type":
		return DimensionResourceType, nil
	case "riskLevel", "risk_level":
		return DimensionRiskLevel, nil
	}
	return "", &audit.ValidationError{Field: "dimension", Err: fmt.Errorf("%w (got %q)", audit.ErrInvalidDimension, s)}
}

// TimeSeriesPoint is one non-empty bucket.
type TimeSeriesPoint struct {
	Timestamp    time.Time `json:"timestamp"`
	Count        int       `json:"count"`
	SuccessCount int       `json:"success_count"`
	FailureCount int       `json:"failure_count"`
}

// ActorActivity summarizes one actor over a range.
type ActorActivity struct {
	ActorID      string    `json:"actor_id"`
	ActorName    string    `json:"actor_name"`
	ActionCount  int       `json:"action_count"`
	LastActivity time.Time `json:"last_activity"`
	RiskScore    int       `json:"risk_score"`
}

const maxRiskScore = 100

// RiskScore weighs failures, deletions and high-risk entries, capped at 100.
func RiskScore(failed, deletes, highRisk int) int {
	score := 10*failed + 15*deletes + 20*highRisk
	if score > maxRiskScore {
		return maxRiskScore
	}
	return score
}

// Engine computes aggregations over a time range.
type Engine struct {
	src Source
}

// NewEngine creates an analytics engine over src.
func NewEngine(src Source) *Engine {
	return &Engine{src: src}
}

// TimeSeries returns one point per non-empty bucket in [start, end], ascending.
func (e *Engine) TimeSeries(ctx context.Context, start, end time.Time, g Granularity) ([]TimeSeriesPoint, error) {
	if err := audit.ValidateRange(start, end); err != nil {
		return nil, err
	}
	if _, err := ParseGranularity(string(g)); err != nil {
		return nil, err
	}

	buckets := make(map[time.Time]*TimeSeriesPoint)
	err := e.src.StreamRange(ctx, start, end, func(l *models.AuditLog) error {
		key := BucketStart(l.Timestamp, g)
		p, ok := buckets[key]
		if !ok {
			p = &TimeSeriesPoint{Timestamp: key}
			buckets[key] = p
		}
		p.Count++
		if l.Success {
			p.SuccessCount++
		} else {
			p.FailureCount++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build time series: %w", err)
	}

	points := make([]TimeSeriesPoint, 0, len(buckets))
	for _, p := range buckets {
		points = append(points, *p)
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Timestamp.Before(points[j].Timestamp) })
	return points, nil
}

type actorAcc struct {
	ActorActivity
	failed, deletes, highRisk int
}

// TopActors ranks actors in [start, end] by action count, descending, with the actor
// id as tie-break. A limit of 0 returns every actor.
func (e *Engine) TopActors(ctx context.Context, limit int, start, end time.Time) ([]ActorActivity, error) {
	if err := audit.ValidateRange(start, end); err != nil {
		return nil, err
	}
	if err := audit.ValidateLimit(limit); err != nil {
		return nil, err
	}

	actors := make(map[string]*actorAcc)
	err := e.src.StreamRange(ctx, start, end, func(l *models.AuditLog) error {
		a, ok := actors[l.ActorID]
		if !ok {
			a = &actorAcc{ActorActivity: ActorActivity{ActorID: l.ActorID, ActorName: l.ActorName}}
			actors[l.ActorID] = a
		}
		a.ActionCount++
		if l.Timestamp.After(a.LastActivity) {
			a.LastActivity = l.Timestamp
		}
		if !l.Success {
			a.failed++
		}
		if l.Action == models.ActionDelete {
			a.deletes++
		}
		if l.Risk().IsHighOrCritical() {
			a.highRisk++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to rank actors: %w", err)
	}

	out := make([]ActorActivity, 0, len(actors))
	for _, a := range actors {
		a.RiskScore = RiskScore(a.failed, a.deletes, a.highRisk)
		out = append(out, a.ActorActivity)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ActionCount != out[j].ActionCount {
			return out[i].ActionCount > out[j].ActionCount
		}
		return out[i].ActorID < out[j].ActorID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Distribution counts entries in [start, end] by the chosen dimension. The risk level
// distribution skips entries that were never classified.
func (e *Engine) Distribution(ctx context.Context, dim Dimension, start, end time.Time) (map[string]int, error) {
	if err := audit.ValidateRange(start, end); err != nil {
		return nil, err
	}

	var key func(*models.AuditLog) (string, bool)
	switch dim {
	case DimensionAction:
		key = func(l *models.AuditLog) (string, bool) { return string(l.Action), true }
	case DimensionResourceType:
		key = func(l *models.AuditLog) (string, bool) { return l.ResourceType, true }
	case DimensionRiskLevel:
		key = func(l *models.AuditLog) (string, bool) {
			if l.RiskLevel == nil {
				return "", false
			}
			return string(*l.RiskLevel), true
		}
	default:
		return nil, &audit.ValidationError{Field: "dimension", Err: fmt.Errorf("%w (got %q)", audit.ErrInvalidDimension, dim)}
	}

	counts := make(map[string]int)
	err := e.src.StreamRange(ctx, start, end, func(l *models.AuditLog) error {
		if k, ok := key(l); ok {
			counts[k]++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to compute %s distribution: %w", dim, err)
	}
	return counts, nil
}

// HourlyActivity counts entries in [start, end] by UTC hour of day (0-23), summed
// across days. Hours without entries are absent.
func (e *Engine) HourlyActivity(ctx context.Context, start, end time.Time) (map[int]int, error) {
	if err := audit.ValidateRange(start, end); err != nil {
		return nil, err
	}

	counts := make(map[int]int)
	err := e.src.StreamRange(ctx, start, end, func(l *models.AuditLog) error {
		counts[l.Timestamp.UTC().Hour()]++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to compute hourly activity: %w", err)
	}
	return counts, nil
}

// DefaultRange resolves optional request bounds: a missing end is now and a missing
// start is end minus the configured default window.
func DefaultRange(cfg config.AnalyticsConfig, start, end *time.Time, now time.Time) (time.Time, time.Time) {
	e := now.UTC()
	if end != nil {
		e = end.UTC()
	}
	window := cfg.DefaultWindow
	if window <= 0 {
		window = 7 * 24 * time.Hour
	}
	s := e.Add(-window)
	if start != nil {
		s = start.UTC()
	}
	return s, e
}
