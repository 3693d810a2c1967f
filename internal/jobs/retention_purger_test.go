package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/auditcore/audit-service/internal/config"
	"github.com/auditcore/audit-service/internal/retention"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type recordingRunner struct {
	mu      sync.Mutex
	cutoffs []time.Time
	err     error
	ran     chan struct{}
}

func newRecordingRunner() *recordingRunner {
	return &recordingRunner{ran: make(chan struct{}, 16)}
}

func (r *recordingRunner) Run(_ context.Context, cutoff time.Time) (*retention.Result, error) {
	r.mu.Lock()
	r.cutoffs = append(r.cutoffs, cutoff)
	r.mu.Unlock()
	r.ran <- struct{}{}
	if r.err != nil {
		return nil, r.err
	}
	return &retention.Result{Cutoff: cutoff, Deleted: 3}, nil
}

func (r *recordingRunner) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cutoffs)
}

// ---------------------------------------------------------------------------
// NewRetentionPurger: defaults
// ---------------------------------------------------------------------------

func TestNewRetentionPurger_Defaults(t *testing.T) {
	p := NewRetentionPurger(nil, config.RetentionConfig{Enabled: true})
	if p.interval != 24*time.Hour {
		t.Errorf("interval = %v, want 24h", p.interval)
	}
	if p.maxAge != 365*24*time.Hour {
		t.Errorf("maxAge = %v, want 8760h", p.maxAge)
	}
}

func TestNewRetentionPurger_Custom(t *testing.T) {
	p := NewRetentionPurger(nil, config.RetentionConfig{Enabled: true, MaxAge: 90 * 24 * time.Hour, CheckInterval: time.Hour})
	if p.interval != time.Hour || p.maxAge != 90*24*time.Hour {
		t.Errorf("interval/maxAge = %v/%v", p.interval, p.maxAge)
	}
}

// ---------------------------------------------------------------------------
// RunOnce / Cutoff
// ---------------------------------------------------------------------------

func TestRunOnce_UsesMaxAgeCutoff(t *testing.T) {
	runner := newRecordingRunner()
	p := NewRetentionPurger(runner, config.RetentionConfig{Enabled: true, MaxAge: 30 * 24 * time.Hour})
	now := time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	res := p.RunOnce(context.Background())
	if res == nil || res.Deleted != 3 {
		t.Fatalf("RunOnce() = %+v", res)
	}
	want := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if runner.cutoffs[0] != want {
		t.Errorf("cutoff = %v, want %v", runner.cutoffs[0], want)
	}
}

func TestRunOnce_ErrorReturnsNil(t *testing.T) {
	runner := newRecordingRunner()
	runner.err = errors.New("archive failed")
	p := NewRetentionPurger(runner, config.RetentionConfig{Enabled: true})
	if res := p.RunOnce(context.Background()); res != nil {
		t.Errorf("RunOnce() = %+v, want nil on error", res)
	}
}

// ---------------------------------------------------------------------------
// Start / Stop
// ---------------------------------------------------------------------------

func TestStart_DisabledReturnsImmediately(t *testing.T) {
	runner := newRecordingRunner()
	p := NewRetentionPurger(runner, config.RetentionConfig{Enabled: false})

	done := make(chan struct{})
	go func() {
		p.Start(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start() did not return for a disabled purger")
	}
	if runner.calls() != 0 {
		t.Errorf("runner called %d times, want 0", runner.calls())
	}
}

func TestStart_RunsImmediatelyAndStops(t *testing.T) {
	runner := newRecordingRunner()
	p := NewRetentionPurger(runner, config.RetentionConfig{Enabled: true, CheckInterval: time.Hour})

	done := make(chan struct{})
	go func() {
		p.Start(context.Background())
		close(done)
	}()

	select {
	case <-runner.ran:
	case <-time.After(time.Second):
		t.Fatal("no initial run")
	}
	p.Stop()
	p.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start() did not return after Stop()")
	}
}

func TestStart_ContextCancel(t *testing.T) {
	runner := newRecordingRunner()
	p := NewRetentionPurger(runner, config.RetentionConfig{Enabled: true, CheckInterval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(done)
	}()
	<-runner.ran
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start() did not return after cancel")
	}
}
