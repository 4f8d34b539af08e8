package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/KafClaw/groupjournal/internal/apperr"
)

func openTestStore(t *testing.T, driver string) *SQLStore {
	t.Helper()
	s, err := Open(context.Background(), Options{Driver: driver, DSN: ":memory:"})
	if err != nil {
		t.Fatalf("open %s: %v", driver, err)
	}
	t.Cleanup(func() { _ = s.Close() })
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return s
}

func TestItemLifecycle(t *testing.T) {
	for _, driver := range []string{"sqlite", "sqlite3"} {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			s := openTestStore(t, driver)

			if _, err := s.GetItem(ctx, "missing"); !apperr.IsNotFound(err) {
				t.Fatalf("expected not found, got %v", err)
			}

			it, err := s.UpsertItem(ctx, Item{ID: "i1", GroupID: "g1", Title: "first", Text: "hello"})
			if err != nil {
				t.Fatalf("upsert: %v", err)
			}
			if it.GroupID != "g1" || it.Text != "hello" || len(it.Analysis) != 0 {
				t.Fatalf("unexpected item: %+v", it)
			}

			again, err := s.UpsertItem(ctx, Item{ID: "i1", GroupID: "g1", Title: "first", Text: "edited"})
			if err != nil {
				t.Fatalf("re-upsert: %v", err)
			}
			if again.Text != "edited" || !again.CreatedAt.Equal(it.CreatedAt) {
				t.Fatalf("expected edit with stable created_at, got %+v", again)
			}

			if _, err := s.UpsertItem(ctx, Item{ID: "i1", GroupID: "g2", Text: "x"}); !apperr.IsValidation(err) {
				t.Fatalf("expected validation error moving item, got %v", err)
			}

			n, err := s.CountItemsInGroup(ctx, "g1")
			if err != nil || n != 1 {
				t.Fatalf("count: %d %v", n, err)
			}
		})
	}
}

func TestSetItemAnalysisKeepsPriorResults(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, "sqlite")
	if _, err := s.UpsertItem(ctx, Item{ID: "i1", GroupID: "g1", Text: "t"}); err != nil {
		t.Fatal(err)
	}

	err := s.SetItemAnalysis(ctx, "i1", map[string]json.RawMessage{
		"insights":  json.RawMessage(`{"points":["a"]}`),
		"sentiment": json.RawMessage(`{}`),
	})
	if err != nil {
		t.Fatalf("set analysis: %v", err)
	}
	err = s.SetItemAnalysis(ctx, "i1", map[string]json.RawMessage{
		"insights":  json.RawMessage(`{}`),
		"sentiment": json.RawMessage(`{"label":"positive"}`),
	})
	if err != nil {
		t.Fatalf("second set: %v", err)
	}

	it, err := s.GetItem(ctx, "i1")
	if err != nil {
		t.Fatal(err)
	}
	if string(it.Analysis["insights"]) != `{"points":["a"]}` {
		t.Fatalf("insights overwritten by empty result: %s", it.Analysis["insights"])
	}
	if string(it.Analysis["sentiment"]) != `{"label":"positive"}` {
		t.Fatalf("sentiment not updated: %s", it.Analysis["sentiment"])
	}

	// Re-ingested text whose sentiment run degraded keeps the last good result.
	if _, err := s.UpsertItem(ctx, Item{ID: "i1", GroupID: "g1", Text: "rewritten"}); err != nil {
		t.Fatal(err)
	}
	if err := s.SetItemAnalysis(ctx, "i1", map[string]json.RawMessage{"sentiment": json.RawMessage(`{}`)}); err != nil {
		t.Fatalf("third set: %v", err)
	}
	if it, err = s.GetItem(ctx, "i1"); err != nil {
		t.Fatal(err)
	}
	if it.Text != "rewritten" || string(it.Analysis["sentiment"]) != `{"label":"positive"}` {
		t.Fatalf("after re-ingest: text=%q sentiment=%s", it.Text, it.Analysis["sentiment"])
	}

	if err := s.SetItemAnalysis(ctx, "nope", nil); !apperr.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListItemsCreationOrder(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, "sqlite3")
	for _, id := range []string{"c", "a", "b"} {
		if _, err := s.UpsertItem(ctx, Item{ID: id, GroupID: "g", Text: id}); err != nil {
			t.Fatal(err)
		}
	}
	items, err := s.ListItemsInGroup(ctx, "g")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 3 || items[0].ID != "c" || items[1].ID != "a" || items[2].ID != "b" {
		t.Fatalf("unexpected order: %+v", items)
	}
}

func TestGroupStateAndHistory(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, "sqlite")

	st, err := s.GetGroupState(ctx, "g")
	if err != nil || st != nil {
		t.Fatalf("expected nil state, got %+v %v", st, err)
	}
	if err := s.SetGroupState(ctx, GroupState{GroupID: "g"}); err == nil {
		t.Fatal("expected error for empty journal")
	}

	want := GroupState{GroupID: "g", Journal: json.RawMessage(`{"summary":"x"}`), Artifact: []byte{1, 2, 3}, SourceFingerprint: "fp"}
	if err := s.SetGroupState(ctx, want); err != nil {
		t.Fatalf("set state: %v", err)
	}
	st, err = s.GetGroupState(ctx, "g")
	if err != nil {
		t.Fatal(err)
	}
	if string(st.Journal) != `{"summary":"x"}` || !st.HasArtifact() || st.SourceFingerprint != "fp" || st.LastUpdated.IsZero() {
		t.Fatalf("unexpected state: %+v", st)
	}

	for i := 0; i < 3; i++ {
		if err := s.AppendHistory(ctx, HistoryEntry{GroupID: "g", Snapshot: json.RawMessage(`{}`), Source: "manual"}); err != nil {
			t.Fatal(err)
		}
	}
	hist, err := s.ListHistory(ctx, "g", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 2 || hist[0].CreatedAt.Before(hist[1].CreatedAt) {
		t.Fatalf("expected 2 newest-first entries, got %+v", hist)
	}
}

func TestListGroupsAtOrAboveThreshold(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, "sqlite")
	seed := map[string]int{"a": 3, "b": 1, "c": 5}
	for g, n := range seed {
		for i := 0; i < n; i++ {
			id := g + string(rune('0'+i))
			if _, err := s.UpsertItem(ctx, Item{ID: id, GroupID: g, Text: id}); err != nil {
				t.Fatal(err)
			}
		}
	}
	groups, err := s.ListGroupsAtOrAboveThreshold(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 2 || groups[0].GroupID != "a" || groups[0].Count != 3 || groups[1].GroupID != "c" {
		t.Fatalf("unexpected groups: %+v", groups)
	}
}

func TestOpenDetectsLegacyOwnerColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.db")
	raw, err := sql.Open("sqlite", "file:"+path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := raw.Exec(`CREATE TABLE items (
		id TEXT PRIMARY KEY, owner_id TEXT NOT NULL, title TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL DEFAULT '', analysis TEXT NOT NULL DEFAULT '{}',
		created_at BIGINT NOT NULL, updated_at BIGINT NOT NULL)`); err != nil {
		t.Fatal(err)
	}
	if _, err := raw.Exec(`INSERT INTO items (id, owner_id, created_at, updated_at) VALUES ('x', 'legacy', 1, 1)`); err != nil {
		t.Fatal(err)
	}
	raw.Close()

	s, err := Open(context.Background(), Options{Driver: "sqlite", DSN: path})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	if s.GroupColumn() != "owner_id" {
		t.Fatalf("expected owner_id, got %q", s.GroupColumn())
	}
	n, err := s.CountItemsInGroup(context.Background(), "legacy")
	if err != nil || n != 1 {
		t.Fatalf("count via legacy column: %d %v", n, err)
	}

	if _, err := Open(context.Background(), Options{Driver: "sqlite", DSN: path, GroupColumn: "user_id"}); err == nil {
		t.Fatal("expected error for explicit column missing from table")
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), Options{Driver: "oracle"}); err == nil {
		t.Fatal("expected error")
	}
	if _, err := Open(context.Background(), Options{Driver: "postgres"}); err == nil {
		t.Fatal("expected DSN error for postgres")
	}
}

func TestRebindPositional(t *testing.T) {
	got := postgresDialect.rebind("SELECT a FROM t WHERE x = ? AND y = ?")
	if got != "SELECT a FROM t WHERE x = $1 AND y = $2" {
		t.Fatalf("rebind: %s", got)
	}
	if sqliteDialect.rebind("a = ?") != "a = ?" {
		t.Fatal("sqlite must keep ? placeholders")
	}
}

func TestErrorUnwrap(t *testing.T) {
	inner := errors.New("disk full")
	var err error = &Error{Op: "set group state", Err: inner}
	if !errors.Is(err, inner) {
		t.Fatal("expected unwrap to inner")
	}
	var se *Error
	if !errors.As(err, &se) || se.Op != "set group state" {
		t.Fatalf("errors.As failed: %v", err)
	}
}

func TestIsEmptyResult(t *testing.T) {
	for raw, want := range map[string]bool{
		``: true, `{}`: true, `[]`: true, `null`: true, `""`: true, `not json`: true,
		`{"a":1}`: false, `["x"]`: false, `"x"`: false, `1`: false,
	} {
		if got := IsEmptyResult(json.RawMessage(raw)); got != want {
			t.Errorf("IsEmptyResult(%q) = %v, want %v", raw, got, want)
		}
	}
}
