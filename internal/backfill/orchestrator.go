// Package backfill re-runs group synthesis across every eligible group with
// a bounded worker pool and a cooldown policy.
package backfill

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/KafClaw/groupjournal/internal/apperr"
	"github.com/KafClaw/groupjournal/internal/bus"
	"github.com/KafClaw/groupjournal/internal/metrics"
	"github.com/KafClaw/groupjournal/internal/store"
	"github.com/KafClaw/groupjournal/internal/synthesis"
)

// Per-group statuses.
const (
	StatusOK               = "ok"
	StatusSkippedNotEnough = "skipped_not_enough"
	StatusUnchanged        = "unchanged"
	StatusError            = "error"
)

// ReasonCooldown marks groups excluded because they were updated recently.
const ReasonCooldown = "cooldown"

// Request selects what a run covers.
type Request struct {
	GroupID string `json:"group_id,omitempty"`
	Force   bool   `json:"force,omitempty"`
}

// Skipped is a group excluded before any work was done.
type Skipped struct {
	GroupID      string    `json:"groupId"`
	Reason       string    `json:"reason"`
	LastUpdated  time.Time `json:"lastUpdated"`
	RetryAfterMs int64     `json:"retryAfterMs"`
}

// GroupResult is the outcome for one processed group.
type GroupResult struct {
	GroupID   string            `json:"groupId"`
	Status    string            `json:"status"`
	ElapsedMs int64             `json:"elapsedMs"`
	Payload   *synthesis.Result `json:"payload,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// Report aggregates a run.
type Report struct {
	Processed    int           `json:"processed"`
	OkCount      int           `json:"okCount"`
	ErrorCount   int           `json:"errorCount"`
	AvgLatencyMs float64       `json:"avgLatencyMs"`
	Skipped      []Skipped     `json:"skipped"`
	Results      []GroupResult `json:"results"`
}

// Options tunes the orchestrator.
type Options struct {
	Workers   int
	Cooldown  time.Duration
	Threshold int
}

// Orchestrator runs backfills.
type Orchestrator struct {
	store   store.ContentStore
	synth   synthesis.Synthesizer
	metrics *metrics.Metrics
	opts    Options
	now     func() time.Time
}

// New creates an Orchestrator.
func New(st store.ContentStore, synth synthesis.Synthesizer, m *metrics.Metrics, opts Options) *Orchestrator {
	if opts.Workers < 1 {
		opts.Workers = 3
	}
	if opts.Cooldown < 0 {
		opts.Cooldown = 0
	}
	if opts.Threshold < 1 {
		opts.Threshold = 3
	}
	return &Orchestrator{store: st, synth: synth, metrics: m, opts: opts, now: time.Now}
}

// Run discovers eligible groups and synthesizes each of them. It returns an
// error only for invalid input or a failed discovery query; individual group
// failures are reported in the Report.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Report, error) {
	start := time.Now()
	report := &Report{Skipped: []Skipped{}, Results: []GroupResult{}}

	var targets []string
	if req.GroupID != "" {
		id, err := apperr.RequireID("group_id", req.GroupID)
		if err != nil {
			return nil, err
		}
		targets = []string{id}
	} else {
		groups, err := o.store.ListGroupsAtOrAboveThreshold(ctx, o.opts.Threshold)
		if err != nil {
			return nil, fmt.Errorf("discover groups: %w", err)
		}
		targets, report.Skipped = o.filterCooldown(ctx, groups, req.Force)
	}

	report.Results = o.process(ctx, targets, req.Force)

	var total int64
	statuses := map[string]int{}
	for _, r := range report.Results {
		total += r.ElapsedMs
		statuses[r.Status]++
		switch r.Status {
		case StatusOK:
			report.OkCount++
		case StatusError:
			report.ErrorCount++
		}
	}
	report.Processed = len(report.Results)
	if report.Processed > 0 {
		report.AvgLatencyMs = float64(total) / float64(report.Processed)
	}
	if n := len(report.Skipped); n > 0 {
		statuses[ReasonCooldown] = n
	}
	o.metrics.BackfillRun(statuses)

	slog.Info("Backfill finished",
		"processed", report.Processed,
		"ok", report.OkCount,
		"errors", report.ErrorCount,
		"skipped", len(report.Skipped),
		"elapsed", time.Since(start).Truncate(time.Millisecond))
	return report, nil
}

func (o *Orchestrator) filterCooldown(ctx context.Context, groups []store.GroupCount, force bool) ([]string, []Skipped) {
	eligible := make([]string, 0, len(groups))
	skipped := []Skipped{}
	now := o.now()
	for _, g := range groups {
		if force || o.opts.Cooldown == 0 {
			eligible = append(eligible, g.GroupID)
			continue
		}
		state, err := o.store.GetGroupState(ctx, g.GroupID)
		if err != nil {
			slog.Warn("Backfill: group state unreadable, treating as eligible", "group", g.GroupID, "error", err)
			eligible = append(eligible, g.GroupID)
			continue
		}
		if state == nil {
			eligible = append(eligible, g.GroupID)
			continue
		}
		elapsed := now.Sub(state.LastUpdated)
		if elapsed < o.opts.Cooldown {
			skipped = append(skipped, Skipped{
				GroupID:      g.GroupID,
				Reason:       ReasonCooldown,
				LastUpdated:  state.LastUpdated,
				RetryAfterMs: (o.opts.Cooldown - elapsed).Milliseconds(),
			})
			continue
		}
		eligible = append(eligible, g.GroupID)
	}
	return eligible, skipped
}

type job struct {
	index   int
	groupID string
}

// process runs exactly Workers goroutines over targets and returns results
// in target order.
func (o *Orchestrator) process(ctx context.Context, targets []string, force bool) []GroupResult {
	results := make([]GroupResult, len(targets))
	if len(targets) == 0 {
		return results
	}

	jobs := make(chan job, len(targets))
	for i, id := range targets {
		jobs <- job{index: i, groupID: id}
	}
	close(jobs)

	var wg sync.WaitGroup
	for w := 0; w < o.opts.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				results[j.index] = o.runOne(ctx, j.groupID, force)
			}
		}()
	}
	wg.Wait()
	return results
}

func (o *Orchestrator) runOne(ctx context.Context, groupID string, force bool) (res GroupResult) {
	start := time.Now()
	res.GroupID = groupID
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Backfill group panicked", "group", groupID, "panic", r, "stack", string(debug.Stack()))
			res.Status = StatusError
			res.Error = fmt.Sprintf("panic: %v", r)
			res.Payload = nil
		}
		res.ElapsedMs = time.Since(start).Milliseconds()
	}()

	if err := ctx.Err(); err != nil {
		res.Status = StatusError
		res.Error = err.Error()
		return res
	}

	out, err := o.synth.Handle(ctx, synthesis.Request{GroupID: groupID, Force: force, Source: bus.SourceBackfill})
	if err != nil {
		slog.Warn("Backfill group failed", "group", groupID, "error", err)
		res.Status = StatusError
		res.Error = err.Error()
		return res
	}
	res.Payload = out
	switch out.Reason {
	case synthesis.ReasonNotEnoughItems:
		res.Status = StatusSkippedNotEnough
	case synthesis.ReasonUnchanged:
		res.Status = StatusUnchanged
	default:
		res.Status = StatusOK
	}
	return res
}
