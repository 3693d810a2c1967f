package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/auditcore/audit-service/internal/telemetry"
)

// Purger deletes entries older than a cutoff and returns how many were removed.
// audit.Recorder implements it and records the MAINTENANCE follow-up entry.
type Purger interface {
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Result reports one archive-and-purge run.
type Result struct {
	Cutoff  time.Time `json:"cutoff"`
	Archive *Manifest `json:"archive,omitempty"`
	Deleted int64     `json:"deleted"`
}

// Service runs archive-then-purge. A nil archiver purges without archiving.
type Service struct {
	archiver *Archiver
	purger   Purger
	onPurged []func(context.Context)
}

// NewService creates a retention service.
func NewService(archiver *Archiver, purger Purger) *Service {
	return &Service{archiver: archiver, purger: purger}
}

// OnPurged registers fn to run after a run that deleted at least one entry.
func (s *Service) OnPurged(fn func(context.Context)) {
	s.onPurged = append(s.onPurged, fn)
}

// Run archives entries older than cutoff and then deletes them. When archiving
// fails nothing is deleted.
func (s *Service) Run(ctx context.Context, cutoff time.Time) (*Result, error) {
	res := &Result{Cutoff: cutoff.UTC()}

	if s.archiver != nil {
		manifest, err := s.archiver.Archive(ctx, cutoff)
		if err != nil {
			telemetry.RetentionRunErrorsTotal.Inc()
			return nil, fmt.Errorf("archive failed, purge skipped: %w", err)
		}
		if manifest.Entries > 0 {
			res.Archive = manifest
		}
	}

	deleted, err := s.purger.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		telemetry.RetentionRunErrorsTotal.Inc()
		return nil, err
	}
	res.Deleted = deleted

	if res.Archive != nil && int64(res.Archive.Entries) != deleted {
		// only a concurrent purge of the same range makes these differ
		slog.Warn("archived and purged entry counts differ",
			"archived", res.Archive.Entries, "deleted", deleted, "cutoff", res.Cutoff)
	}

	if deleted > 0 {
		for _, fn := range s.onPurged {
			fn(ctx)
		}
	}
	return res, nil
}
