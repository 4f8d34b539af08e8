// Package synthesis builds and stores group journals and dispatches
// cascade requests to the trigger.
package synthesis

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/KafClaw/groupjournal/internal/apperr"
	"github.com/KafClaw/groupjournal/internal/artifact"
	"github.com/KafClaw/groupjournal/internal/bus"
	"github.com/KafClaw/groupjournal/internal/journal"
	"github.com/KafClaw/groupjournal/internal/metrics"
	"github.com/KafClaw/groupjournal/internal/provider"
	"github.com/KafClaw/groupjournal/internal/store"
)

// Reasons reported when no new journal is written.
const (
	ReasonNotEnoughItems = "not_enough_items"
	ReasonDryRun         = "dry_run"
	ReasonUnchanged      = "unchanged"
)

// Request asks for one group's journal to be refreshed.
type Request struct {
	GroupID string `json:"group_id"`
	DryRun  bool   `json:"dry_run,omitempty"`
	Debug   bool   `json:"debug,omitempty"`
	Force   bool   `json:"force,omitempty"`
	Source  string `json:"source,omitempty"`
}

// Diagnostics describes the corpus a synthesis would use.
type Diagnostics struct {
	CorpusChars        int  `json:"corpusChars"`
	CorpusTruncated    bool `json:"corpusTruncated"`
	ItemsIncluded      int  `json:"itemsIncluded"`
	HasPreviousJournal bool `json:"hasPreviousJournal"`
	HasArtifact        bool `json:"hasArtifact"`
}

// DebugInfo is attached when the request sets Debug.
type DebugInfo struct {
	CorpusChars     int    `json:"corpusChars"`
	CorpusTruncated bool   `json:"corpusTruncated"`
	ItemsIncluded   int    `json:"itemsIncluded"`
	ProviderError   string `json:"providerError,omitempty"`
}

// Result reports the outcome of a synthesis request.
type Result struct {
	Triggered         bool            `json:"triggered"`
	Updated           bool            `json:"updated"`
	Reason            string          `json:"reason,omitempty"`
	DryRun            bool            `json:"dryRun,omitempty"`
	GroupItemCount    int             `json:"groupItemCount"`
	Journal           json.RawMessage `json:"journal,omitempty"`
	ArtifactGenerated bool            `json:"artifactGenerated"`
	Fallback          bool            `json:"fallback"`
	*Diagnostics
	Debug *DebugInfo `json:"debug,omitempty"`
}

// Options tunes the trigger.
type Options struct {
	Threshold       int
	CorpusBudget    int
	Timeout         time.Duration
	Retries         int
	IdentityBaseURL string
}

// Trigger synthesizes group journals. Concurrent requests for one group are
// collapsed into a single run, and a group whose items have not changed
// since the stored journal is left alone unless forced.
type Trigger struct {
	store     store.ContentStore
	provider  provider.AnalysisProvider
	artifacts artifact.Generator
	metrics   *metrics.Metrics
	opts      Options
	flight    singleflight.Group
	now       func() time.Time
}

// NewTrigger creates a Trigger. artifacts and m may be nil.
func NewTrigger(st store.ContentStore, prov provider.AnalysisProvider, artifacts artifact.Generator, m *metrics.Metrics, opts Options) *Trigger {
	if opts.Threshold < 1 {
		opts.Threshold = 3
	}
	if opts.CorpusBudget <= 0 {
		opts.CorpusBudget = 24000
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 90 * time.Second
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	return &Trigger{
		store:     st,
		provider:  prov,
		artifacts: artifacts,
		metrics:   m,
		opts:      opts,
		now:       time.Now,
	}
}

// flightTimeout bounds one shared synthesis run: every provider attempt plus
// slack for the store reads and writes around it.
func (t *Trigger) flightTimeout() time.Duration {
	return time.Duration(t.opts.Retries+1)*t.opts.Timeout + 30*time.Second
}

// Threshold returns the minimum item count for synthesis.
func (t *Trigger) Threshold() int { return t.opts.Threshold }

// Handle runs one synthesis request. Errors are returned only for invalid
// input and failed required store operations.
func (t *Trigger) Handle(ctx context.Context, req Request) (*Result, error) {
	groupID, err := apperr.RequireID("group_id", req.GroupID)
	if err != nil {
		return nil, err
	}
	req.GroupID = groupID
	if req.Source == "" {
		req.Source = bus.SourceManual
	}

	count, err := t.store.CountItemsInGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if count < t.opts.Threshold {
		return &Result{Reason: ReasonNotEnoughItems, GroupItemCount: count}, nil
	}

	if req.DryRun {
		return t.dryRun(ctx, groupID)
	}

	key := groupID
	if req.Force {
		key += "\x00force"
	}
	// The run is shared by every caller for this group, so it must not die
	// with whichever caller happened to start it.
	ch := t.flight.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.flightTimeout())
		defer cancel()
		return t.synthesize(fctx, req)
	})
	var r singleflight.Result
	select {
	case r = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if r.Err != nil {
		return nil, r.Err
	}
	if r.Shared {
		slog.Debug("Synthesis coalesced", "group", groupID, "source", req.Source)
	}
	v := r.Val
	res := *v.(*Result)
	if !req.Debug {
		res.Debug = nil
	}
	return &res, nil
}

func (t *Trigger) dryRun(ctx context.Context, groupID string) (*Result, error) {
	items, err := t.store.ListItemsInGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	state, err := t.store.GetGroupState(ctx, groupID)
	if err != nil {
		return nil, err
	}
	c := BuildCorpus(items, t.opts.CorpusBudget)
	return &Result{
		DryRun:         true,
		Reason:         ReasonDryRun,
		GroupItemCount: len(items),
		Diagnostics: &Diagnostics{
			CorpusChars:        c.Chars,
			CorpusTruncated:    c.Truncated,
			ItemsIncluded:      c.ItemsIncluded,
			HasPreviousJournal: state != nil && len(state.Journal) > 0,
			HasArtifact:        state.HasArtifact(),
		},
	}, nil
}

func (t *Trigger) synthesize(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	groupID := req.GroupID

	items, err := t.store.ListItemsInGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	state, err := t.store.GetGroupState(ctx, groupID)
	if err != nil {
		return nil, err
	}
	count := len(items)
	fingerprint := Fingerprint(items)

	if !req.Force && state != nil && state.SourceFingerprint != "" && state.SourceFingerprint == fingerprint {
		slog.Debug("Synthesis skipped: items unchanged", "group", groupID)
		t.metrics.SynthesisRun(req.Source, ReasonUnchanged, time.Since(start))
		return &Result{
			Triggered:      true,
			Reason:         ReasonUnchanged,
			GroupItemCount: count,
			Journal:        state.Journal,
		}, nil
	}

	corpus := BuildCorpus(items, t.opts.CorpusBudget)
	debug := &DebugInfo{
		CorpusChars:     corpus.Chars,
		CorpusTruncated: corpus.Truncated,
		ItemsIncluded:   corpus.ItemsIncluded,
	}

	now := t.now()
	j, providerErr := t.callProvider(ctx, corpus.Text, previousJournal(state), count, now)
	fallback := providerErr != nil
	if fallback {
		slog.Warn("Synthesis fell back to placeholder journal", "group", groupID, "error", providerErr)
		debug.ProviderError = providerErr.Error()
		j = journal.Fallback(count, now)
		fingerprint = ""
	}
	journalJSON := j.Marshal()

	var png []byte
	generated := false
	if state.HasArtifact() {
		png = state.Artifact
	} else {
		png, generated = t.renderArtifact(ctx, groupID)
	}

	if err := t.store.SetGroupState(ctx, store.GroupState{
		GroupID:           groupID,
		Journal:           journalJSON,
		Artifact:          png,
		SourceFingerprint: fingerprint,
		LastUpdated:       now,
	}); err != nil {
		t.metrics.SynthesisRun(req.Source, "error", time.Since(start))
		return nil, err
	}

	source := req.Source
	if fallback {
		source += ":fallback"
	}
	if err := t.store.AppendHistory(ctx, store.HistoryEntry{
		GroupID:   groupID,
		Snapshot:  journalJSON,
		Source:    source,
		CreatedAt: now,
	}); err != nil {
		slog.Warn("Failed to append journal history", "group", groupID, "error", err)
	}

	result := "updated"
	if fallback {
		result = "fallback"
	}
	t.metrics.SynthesisRun(req.Source, result, time.Since(start))
	slog.Info("Group journal updated", "group", groupID, "items", count, "source", req.Source,
		"fallback", fallback, "artifact", generated, "elapsed", time.Since(start).Truncate(time.Millisecond))

	return &Result{
		Triggered:         true,
		Updated:           true,
		GroupItemCount:    count,
		Journal:           journalJSON,
		ArtifactGenerated: generated,
		Fallback:          fallback,
		Debug:             debug,
	}, nil
}

// previousJournal returns the stored journal unless it is the placeholder.
func previousJournal(state *store.GroupState) json.RawMessage {
	if state == nil || len(state.Journal) == 0 {
		return nil
	}
	j, err := journal.Parse(state.Journal)
	if err != nil || j.IsFallback() {
		return nil
	}
	return state.Journal
}

func (t *Trigger) callProvider(ctx context.Context, corpus string, previous json.RawMessage, count int, now time.Time) (journal.Journal, error) {
	raw, err := provider.CallWithRetry(ctx, "synthesis", t.opts.Timeout, 1+t.opts.Retries,
		func(callCtx context.Context) (json.RawMessage, error) {
			return t.provider.Synthesize(callCtx, corpus, previous)
		})
	if err != nil {
		return journal.Journal{}, err
	}
	return journal.Normalize(raw, count, now)
}

func (t *Trigger) renderArtifact(ctx context.Context, groupID string) ([]byte, bool) {
	if t.artifacts == nil {
		return nil, false
	}
	identity := artifact.IdentityURL(t.opts.IdentityBaseURL, groupID)
	if identity == "" {
		return nil, false
	}
	png, err := t.artifacts.Render(ctx, identity)
	if err != nil || len(png) == 0 {
		slog.Warn("Artifact generation failed", "group", groupID, "error", err)
		return nil, false
	}
	return png, true
}
