// retention_purger.go implements the RetentionPurger background job, which periodically
// archives and deletes audit entries older than audit.retention.max_age. The job is a
// no-op when retention is disabled, so it is always safe to start.
package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/auditcore/audit-service/internal/config"
	"github.com/auditcore/audit-service/internal/retention"
)

const (
	defaultRetentionInterval = 24 * time.Hour
	defaultRetentionMaxAge   = 365 * 24 * time.Hour
)

// Runner performs one archive-and-purge pass. retention.Service implements it.
type Runner interface {
	Run(ctx context.Context, cutoff time.Time) (*retention.Result, error)
}

// RetentionPurger runs the retention pass on a fixed interval.
type RetentionPurger struct {
	runner   Runner
	enabled  bool
	maxAge   time.Duration
	interval time.Duration
	now      func() time.Time
	stopOnce sync.Once
	stopChan chan struct{}
}

// NewRetentionPurger creates a RetentionPurger. Non-positive durations fall back to
// a daily check and a one-year retention period.
func NewRetentionPurger(runner Runner, cfg config.RetentionConfig) *RetentionPurger {
	interval := cfg.CheckInterval
	if interval <= 0 {
		interval = defaultRetentionInterval
	}
	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = defaultRetentionMaxAge
	}
	return &RetentionPurger{
		runner:   runner,
		enabled:  cfg.Enabled,
		maxAge:   maxAge,
		interval: interval,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
}

// Start runs a pass immediately and then on every tick until ctx is cancelled or
// Stop is called.
func (p *RetentionPurger) Start(ctx context.Context) {
	if !p.enabled {
		slog.Info("retention purger disabled (audit.retention.enabled=false)")
		return
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	slog.Info("retention purger started", "interval", p.interval, "max_age", p.maxAge)
	p.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			p.RunOnce(ctx)
		case <-p.stopChan:
			slog.Info("retention purger stopped")
			return
		case <-ctx.Done():
			slog.Info("retention purger context cancelled")
			return
		}
	}
}

// Stop signals the loop to exit. It is safe to call more than once.
func (p *RetentionPurger) Stop() {
	p.stopOnce.Do(func() { close(p.stopChan) })
}

// Cutoff returns the timestamp before which entries are expired.
func (p *RetentionPurger) Cutoff() time.Time {
	return p.now().UTC().Add(-p.maxAge)
}

// RunOnce performs a single pass. Failures are logged; the next tick retries.
func (p *RetentionPurger) RunOnce(ctx context.Context) *retention.Result {
	cutoff := p.Cutoff()
	res, err := p.runner.Run(ctx, cutoff)
	if err != nil {
		slog.Error("retention run failed", "cutoff", cutoff, "error", err)
		return nil
	}
	attrs := []any{"cutoff", cutoff, "deleted", res.Deleted}
	if res.Archive != nil {
		attrs = append(attrs, "archive", res.Archive.Path, "archived", res.Archive.Entries)
	}
	slog.Info("retention run complete", attrs...)
	return res
}
