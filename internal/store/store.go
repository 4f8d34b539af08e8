// Package store persists items, group journal state and journal history.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Item is one analyzed content unit belonging to a group.
type Item struct {
	ID        string                     `json:"id"`
	GroupID   string                     `json:"groupId"`
	Title     string                     `json:"title"`
	Text      string                     `json:"text"`
	Analysis  map[string]json.RawMessage `json:"analysis"`
	CreatedAt time.Time                  `json:"createdAt"`
	UpdatedAt time.Time                  `json:"updatedAt"`
}

// GroupState is the current journal of a group. Journal is never empty once
// the row exists.
type GroupState struct {
	GroupID           string          `json:"groupId"`
	Journal           json.RawMessage `json:"journal"`
	Artifact          []byte          `json:"-"`
	SourceFingerprint string          `json:"sourceFingerprint,omitempty"`
	LastUpdated       time.Time       `json:"lastUpdated"`
}

// HasArtifact reports whether an artifact blob is stored.
func (g *GroupState) HasArtifact() bool {
	return g != nil && len(g.Artifact) > 0
}

// HistoryEntry is an append-only snapshot of a past journal.
type HistoryEntry struct {
	ID        string          `json:"id"`
	GroupID   string          `json:"groupId"`
	Snapshot  json.RawMessage `json:"snapshot"`
	Source    string          `json:"source"`
	CreatedAt time.Time       `json:"createdAt"`
}

// GroupCount pairs a group with its committed item count.
type GroupCount struct {
	GroupID string `json:"groupId"`
	Count   int    `json:"count"`
}

// ContentStore is the narrow storage interface the pipeline depends on.
type ContentStore interface {
	// GetItem returns an apperr.NotFoundError when the item does not exist.
	GetItem(ctx context.Context, id string) (*Item, error)
	// UpsertItem inserts or overwrites title/text of an item. Moving an
	// existing item to another group is rejected with a ValidationError.
	UpsertItem(ctx context.Context, item Item) (*Item, error)
	// SetItemAnalysis merges analysis results into the item. Empty results
	// never replace a previously stored non-empty result, even one computed
	// for an earlier revision of the item's text.
	SetItemAnalysis(ctx context.Context, itemID string, analysis map[string]json.RawMessage) error
	CountItemsInGroup(ctx context.Context, groupID string) (int, error)
	// ListItemsInGroup returns items in creation order.
	ListItemsInGroup(ctx context.Context, groupID string) ([]Item, error)
	// GetGroupState returns nil, nil when the group has no state yet.
	GetGroupState(ctx context.Context, groupID string) (*GroupState, error)
	SetGroupState(ctx context.Context, state GroupState) error
	AppendHistory(ctx context.Context, entry HistoryEntry) error
	// ListHistory returns the newest entries first.
	ListHistory(ctx context.Context, groupID string, limit int) ([]HistoryEntry, error)
	ListGroupsAtOrAboveThreshold(ctx context.Context, threshold int) ([]GroupCount, error)
	Close() error
}

// Error wraps a storage failure with the operation that failed.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// IsEmptyResult reports whether an analysis value counts as "not analyzed".
func IsEmptyResult(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return true
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return true
	}
	switch t := v.(type) {
	case nil:
		return true
	case map[string]any:
		return len(t) == 0
	case []any:
		return len(t) == 0
	case string:
		return t == ""
	}
	return false
}
