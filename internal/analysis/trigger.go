// Package analysis runs the per-item analysis fan-out and the cascade rule.
package analysis

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/KafClaw/groupjournal/internal/apperr"
	"github.com/KafClaw/groupjournal/internal/bus"
	"github.com/KafClaw/groupjournal/internal/metrics"
	"github.com/KafClaw/groupjournal/internal/provider"
	"github.com/KafClaw/groupjournal/internal/store"
)

const publishTimeout = 5 * time.Second

var emptyResult = json.RawMessage(`{}`)

// Request is one item submitted for analysis.
type Request struct {
	GroupID string `json:"group_id"`
	ItemID  string `json:"item_id"`
	Title   string `json:"title,omitempty"`
	Text    string `json:"text"`
}

// Result reports what the analysis pass produced.
type Result struct {
	ItemID             string          `json:"itemId"`
	GroupID            string          `json:"groupId"`
	PerTaskHasContent  []bool          `json:"perTaskHasContent"`
	SavedFields        map[string]bool `json:"savedFields"`
	GroupItemCount     int             `json:"groupItemCount"`
	SynthesisTriggered bool            `json:"synthesisTriggered"`
}

// Options tunes the trigger.
type Options struct {
	Kinds     []string
	Timeout   time.Duration
	Threshold int
	// MaxTries is the number of attempts per task, 2 by default.
	MaxTries int
}

// Trigger handles per-item analysis requests.
type Trigger struct {
	store     store.ContentStore
	provider  provider.AnalysisProvider
	publisher bus.Publisher
	metrics   *metrics.Metrics
	opts      Options
}

// NewTrigger creates a Trigger. publisher and m may be nil.
func NewTrigger(st store.ContentStore, prov provider.AnalysisProvider, publisher bus.Publisher, m *metrics.Metrics, opts Options) *Trigger {
	if len(opts.Kinds) == 0 {
		opts.Kinds = []string{"insights", "themes", "sentiment"}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 45 * time.Second
	}
	if opts.Threshold < 1 {
		opts.Threshold = 3
	}
	if opts.MaxTries < 1 {
		opts.MaxTries = 2
	}
	return &Trigger{store: st, provider: prov, publisher: publisher, metrics: m, opts: opts}
}

// ShouldCascade reports whether count lands exactly on a threshold boundary.
func ShouldCascade(count, threshold int) bool {
	return threshold > 0 && count >= threshold && count%threshold == 0
}

func (r Request) validate() (Request, error) {
	var err error
	if r.GroupID, err = apperr.RequireID("group_id", r.GroupID); err != nil {
		return r, err
	}
	if r.ItemID, err = apperr.RequireID("item_id", r.ItemID); err != nil {
		return r, err
	}
	if strings.TrimSpace(r.Text) == "" {
		return r, apperr.Invalid("text", "is required")
	}
	return r, nil
}

// Handle upserts the item, runs every analysis kind concurrently, stores the
// results and publishes a synthesis request when the group count crosses a
// threshold boundary. Only validation and the primary upsert return errors.
func (t *Trigger) Handle(ctx context.Context, req Request) (*Result, error) {
	req, err := req.validate()
	if err != nil {
		return nil, err
	}

	if _, err := t.store.UpsertItem(ctx, store.Item{
		ID:      req.ItemID,
		GroupID: req.GroupID,
		Title:   req.Title,
		Text:    req.Text,
	}); err != nil {
		return nil, err
	}

	results := t.runTasks(ctx, req)

	res := &Result{
		ItemID:            req.ItemID,
		GroupID:           req.GroupID,
		PerTaskHasContent: make([]bool, len(t.opts.Kinds)),
		SavedFields:       make(map[string]bool, len(t.opts.Kinds)),
	}
	analysis := make(map[string]json.RawMessage, len(t.opts.Kinds))
	for i, kind := range t.opts.Kinds {
		res.PerTaskHasContent[i] = !store.IsEmptyResult(results[i])
		analysis[kind] = results[i]
	}

	if err := t.store.SetItemAnalysis(ctx, req.ItemID, analysis); err != nil {
		slog.Warn("Failed to save item analysis", "item", req.ItemID, "group", req.GroupID, "error", err)
	} else {
		for i, kind := range t.opts.Kinds {
			res.SavedFields[kind] = res.PerTaskHasContent[i]
		}
	}

	count, err := t.store.CountItemsInGroup(ctx, req.GroupID)
	if err != nil {
		slog.Warn("Failed to count group items", "group", req.GroupID, "error", err)
		return res, nil
	}
	res.GroupItemCount = count

	if ShouldCascade(count, t.opts.Threshold) {
		res.SynthesisTriggered = t.publish(ctx, req.GroupID, count)
	}
	return res, nil
}

// runTasks fans out one call per kind. Tasks never fail the group, so a
// failing kind cannot cancel its siblings.
func (t *Trigger) runTasks(ctx context.Context, req Request) []json.RawMessage {
	payload := provider.Payload{ItemID: req.ItemID, Title: req.Title, Text: req.Text}
	results := make([]json.RawMessage, len(t.opts.Kinds))

	var g errgroup.Group
	for i, kind := range t.opts.Kinds {
		g.Go(func() error {
			out, err := provider.CallWithRetry(ctx, kind, t.opts.Timeout, t.opts.MaxTries,
				func(callCtx context.Context) (json.RawMessage, error) {
					return t.provider.Analyze(callCtx, kind, payload)
				})
			if err != nil || !json.Valid(out) {
				slog.Warn("Analysis task degraded", "item", req.ItemID, "kind", kind, "error", err)
				t.metrics.AnalysisTask(kind, "degraded")
				results[i] = emptyResult
				return nil
			}
			t.metrics.AnalysisTask(kind, "ok")
			results[i] = out
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (t *Trigger) publish(ctx context.Context, groupID string, count int) bool {
	if t.publisher == nil {
		return false
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	err := t.publisher.Publish(pubCtx, bus.SynthesisRequest{
		GroupID:   groupID,
		ItemCount: count,
		Source:    bus.SourceCascade,
	})
	if err != nil {
		slog.Warn("Failed to publish cascade synthesis", "group", groupID, "count", count, "error", err)
		return false
	}
	slog.Info("Cascade synthesis requested", "group", groupID, "count", count)
	t.metrics.CascadeTriggered()
	return true
}
