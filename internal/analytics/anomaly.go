package analytics

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/auditcore/audit-service/internal/audit"
	"github.com/auditcore/audit-service/internal/config"
	"github.com/auditcore/audit-service/internal/db/models"
	"github.com/auditcore/audit-service/internal/telemetry"
)

// AnomalyType names the heuristic that produced an anomaly.
type AnomalyType string

const (
	FailedAttempts    AnomalyType = "FAILED_ATTEMPTS"
	UnusualActivity   AnomalyType = "UNUSUAL_ACTIVITY"
	SuspiciousPattern AnomalyType = "SUSPICIOUS_PATTERN"
	HighVolume        AnomalyType = "HIGH_VOLUME"
)

// Anomaly is a pattern flagged over a window.
type Anomaly struct {
	ID           string           `json:"id"`
	Type         AnomalyType      `json:"type"`
	Description  string           `json:"description"`
	Severity     models.RiskLevel `json:"severity"`
	Timestamp    time.Time        `json:"timestamp"`
	ActorID      *string          `json:"actor_id,omitempty"`
	ResourceType *string          `json:"resource_type,omitempty"`
	Details      map[string]any   `json:"details"`
}

// heuristic inspects an immutable, timestamp-ascending slice of entries.
type heuristic func(logs []*models.AuditLog, th config.AnomalyConfig) []Anomaly

// Detector runs the anomaly heuristics over a window. Thresholds can be swapped at
// runtime with SetThresholds.
type Detector struct {
	src        Source
	maxRows    int
	thresholds atomic.Pointer[config.AnomalyConfig]
	heuristics []heuristic
}

// NewDetector creates a detector reading from src. maxRows bounds the window size
// (0 disables the bound).
func NewDetector(src Source, th config.AnomalyConfig, maxRows int) *Detector {
	d := &Detector{
		src:     src,
		maxRows: maxRows,
		heuristics: []heuristic{
			detectFailedAttempts,
			detectUnusualActivity,
			detectSuspiciousPattern,
			detectHighVolume,
		},
	}
	d.thresholds.Store(&th)
	return d
}

// SetThresholds replaces the thresholds used by later runs.
func (d *Detector) SetThresholds(th config.AnomalyConfig) {
	d.thresholds.Store(&th)
}

// Thresholds returns the thresholds currently in use.
func (d *Detector) Thresholds() config.AnomalyConfig {
	return *d.thresholds.Load()
}

// Detect runs every heuristic over the entries in [start, end] and returns their
// combined output, newest first. Ordering is independent of heuristic scheduling.
func (d *Detector) Detect(ctx context.Context, start, end time.Time) ([]Anomaly, error) {
	if err := audit.ValidateRange(start, end); err != nil {
		return nil, err
	}

	logs, err := d.src.ScanRange(ctx, start, end, d.maxRows)
	if err != nil {
		return nil, fmt.Errorf("failed to load anomaly window: %w", err)
	}
	th := d.Thresholds()

	results := make([][]Anomaly, len(d.heuristics))
	g, gctx := errgroup.WithContext(ctx)
	for i, h := range d.heuristics {
		i, h := i, h
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = h(logs, th)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []Anomaly
	for _, r := range results {
		out = append(out, r...)
	}
	for i := range out {
		out[i].ID = anomalyID(out[i], start, end)
		telemetry.AnomaliesDetectedTotal.WithLabelValues(string(out[i].Type), string(out[i].Severity)).Inc()
	}
	sortAnomalies(out)
	if out == nil {
		out = []Anomaly{}
	}
	return out, nil
}

func detectFailedAttempts(logs []*models.AuditLog, th config.AnomalyConfig) []Anomaly {
	type acc struct {
		count  int
		latest time.Time
	}
	byActor := make(map[string]*acc)
	for _, l := range logs {
		if l.Action != models.ActionLogin || l.Success {
			continue
		}
		a, ok := byActor[l.ActorID]
		if !ok {
			a = &acc{}
			byActor[l.ActorID] = a
		}
		a.count++
		if l.Timestamp.After(a.latest) {
			a.latest = l.Timestamp
		}
	}

	var out []Anomaly
	for actor, a := range byActor {
		if a.count < th.FailedAttemptsHigh {
			continue
		}
		severity := models.RiskHigh
		if a.count >= th.FailedAttemptsCritical {
			severity = models.RiskCritical
		}
		out = append(out, Anomaly{
			Type:        FailedAttempts,
			Description: fmt.Sprintf("Actor %s: %d failed login attempts", actor, a.count),
			Severity:    severity,
			Timestamp:   a.latest,
			ActorID:     strPtr(actor),
			Details:     map[string]any{"attemptCount": a.count},
		})
	}
	return out
}

func detectUnusualActivity(logs []*models.AuditLog, th config.AnomalyConfig) []Anomaly {
	type acc struct {
		count  int
		latest time.Time
	}
	byActor := make(map[string]*acc)
	for _, l := range logs {
		a, ok := byActor[l.ActorID]
		if !ok {
			a = &acc{}
			byActor[l.ActorID] = a
		}
		a.count++
		if l.Timestamp.After(a.latest) {
			a.latest = l.Timestamp
		}
	}
	if len(byActor) == 0 {
		return nil
	}
	mean := float64(len(logs)) / float64(len(byActor))

	var out []Anomaly
	for actor, a := range byActor {
		n := float64(a.count)
		if n <= mean*th.UnusualActivityMedium {
			continue
		}
		severity := models.RiskMedium
		if n > mean*th.UnusualActivityHigh {
			severity = models.RiskHigh
		}
		out = append(out, Anomaly{
			Type:        UnusualActivity,
			Description: fmt.Sprintf("Unusual activity for actor %s: %d actions (mean %.1f)", actor, a.count, mean),
			Severity:    severity,
			Timestamp:   a.latest,
			ActorID:     strPtr(actor),
			Details:     map[string]any{"actionCount": a.count, "averageActivity": mean},
		})
	}
	return out
}

func detectSuspiciousPattern(logs []*models.AuditLog, th config.AnomalyConfig) []Anomaly {
	type acc struct {
		count  int
		latest time.Time
	}
	byActor := make(map[string]*acc)
	for _, l := range logs {
		if l.Action != models.ActionDelete {
			continue
		}
		a, ok := byActor[l.ActorID]
		if !ok {
			a = &acc{}
			byActor[l.ActorID] = a
		}
		a.count++
		if l.Timestamp.After(a.latest) {
			a.latest = l.Timestamp
		}
	}

	var out []Anomaly
	for actor, a := range byActor {
		if a.count < th.DeleteBurst {
			continue
		}
		out = append(out, Anomaly{
			Type:        SuspiciousPattern,
			Description: fmt.Sprintf("Suspicious pattern: %d deletions by actor %s", a.count, actor),
			Severity:    models.RiskHigh,
			Timestamp:   a.latest,
			ActorID:     strPtr(actor),
			Details:     map[string]any{"deleteCount": a.count},
		})
	}
	return out
}

// detectHighVolume emits one global anomaly stamped with the latest critical entry.
func detectHighVolume(logs []*models.AuditLog, th config.AnomalyConfig) []Anomaly {
	var count int
	var latest time.Time
	for _, l := range logs {
		if l.Risk() != models.RiskCritical {
			continue
		}
		count++
		if l.Timestamp.After(latest) {
			latest = l.Timestamp
		}
	}
	if count <= th.CriticalVolume {
		return nil
	}
	return []Anomaly{{
		Type:        HighVolume,
		Description: fmt.Sprintf("High volume of critical actions: %d", count),
		Severity:    models.RiskCritical,
		Timestamp:   latest,
		Details:     map[string]any{"criticalActionCount": count},
	}}
}

var severityRank = map[models.RiskLevel]int{
	models.RiskLow:      0,
	models.RiskMedium:   1,
	models.RiskHigh:     2,
	models.RiskCritical: 3,
}

// sortAnomalies orders newest first, then by severity, type and actor.
func sortAnomalies(a []Anomaly) {
	sort.SliceStable(a, func(i, j int) bool {
		if !a[i].Timestamp.Equal(a[j].Timestamp) {
			return a[i].Timestamp.After(a[j].Timestamp)
		}
		if severityRank[a[i].Severity] != severityRank[a[j].Severity] {
			return severityRank[a[i].Severity] > severityRank[a[j].Severity]
		}
		if a[i].Type != a[j].Type {
			return a[i].Type < a[j].Type
		}
		return deref(a[i].ActorID) < deref(a[j].ActorID)
	})
}

// anomalyID is stable for the same finding over the same window.
func anomalyID(a Anomaly, start, end time.Time) string {
	key := fmt.Sprintf("%s|%s|%d|%d", a.Type, deref(a.ActorID), start.UnixNano(), end.UnixNano())
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()
}

func strPtr(s string) *string { return &s }

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
