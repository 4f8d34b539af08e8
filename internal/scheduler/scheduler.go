// Package scheduler runs periodic backfills and provides the concurrency
// primitives shared by the dispatchers.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
)

// Config holds scheduler settings.
type Config struct {
	// Interval between runs. Zero disables the scheduler.
	Interval time.Duration
	// LockPath is the host-local lock file guarding overlapping runs.
	LockPath string
}

// RunFunc is one scheduled unit of work.
type RunFunc func(ctx context.Context) error

// Scheduler runs a RunFunc on a fixed interval, skipping ticks while a
// previous run is still going in this process or in another one on the host.
type Scheduler struct {
	cfg     Config
	run     RunFunc
	lock    *flock.Flock
	running atomic.Bool
	lastRun atomic.Int64
}

// New creates a Scheduler.
func New(cfg Config, run RunFunc) *Scheduler {
	s := &Scheduler{cfg: cfg, run: run}
	if cfg.LockPath != "" {
		s.lock = flock.New(cfg.LockPath)
	}
	return s
}

// Enabled reports whether a positive interval is configured.
func (s *Scheduler) Enabled() bool {
	return s.cfg.Interval > 0
}

// LastRun returns when the last completed run started, zero if none.
func (s *Scheduler) LastRun() time.Time {
	n := s.lastRun.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Run starts the tick loop. Blocks until ctx is cancelled. A disabled
// scheduler returns nil immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.Enabled() {
		slog.Debug("Scheduler disabled")
		return nil
	}
	slog.Info("Scheduler started", "interval", s.cfg.Interval, "lock", s.cfg.LockPath)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				slog.Warn("Scheduled run failed", "error", err)
			}
		}
	}
}

// RunOnce executes the RunFunc unless a run is already in progress. It
// reports whether the run happened.
func (s *Scheduler) RunOnce(ctx context.Context) (bool, error) {
	if !s.running.CompareAndSwap(false, true) {
		slog.Debug("Scheduler tick skipped: run in progress")
		return false, nil
	}
	defer s.running.Store(false)

	if s.lock != nil {
		if err := os.MkdirAll(filepath.Dir(s.cfg.LockPath), 0o700); err != nil {
			return false, fmt.Errorf("create lock dir: %w", err)
		}
		acquired, err := s.lock.TryLock()
		if err != nil {
			return false, fmt.Errorf("scheduler lock: %w", err)
		}
		if !acquired {
			slog.Debug("Scheduler tick skipped: lock held by another process")
			return false, nil
		}
		defer func() {
			if err := s.lock.Unlock(); err != nil {
				slog.Warn("Scheduler unlock failed", "error", err)
			}
		}()
	}

	start := time.Now()
	err := s.run(ctx)
	s.lastRun.Store(start.UnixNano())
	slog.Info("Scheduled run finished", "elapsed", time.Since(start).Truncate(time.Millisecond), "error", err)
	return true, err
}
