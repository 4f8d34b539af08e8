package synthesis

import (
	"strings"
	"testing"
	"time"

	"github.com/KafClaw/groupjournal/internal/store"
)

func items(n int) []store.Item {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	out := make([]store.Item, n)
	for i := range out {
		out[i] = store.Item{
			ID:        string(rune('a' + i)),
			Title:     "note " + string(rune('A'+i)),
			Text:      strings.Repeat("x", 50),
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
			UpdatedAt: base.Add(time.Duration(i) * time.Hour),
		}
	}
	return out
}

func TestBuildCorpusFormat(t *testing.T) {
	c := BuildCorpus(items(2), 0)
	if c.Truncated || c.ItemsIncluded != 2 {
		t.Fatalf("unexpected corpus %+v", c)
	}
	if !strings.HasPrefix(c.Text, "--- item 1 · note A · 2026-03-01T09:00:00Z ---\n") {
		t.Fatalf("unexpected header:\n%s", c.Text)
	}
	if !strings.Contains(c.Text, "--- item 2 · note B · 2026-03-01T10:00:00Z ---") {
		t.Fatalf("second block missing:\n%s", c.Text)
	}
}

func TestBuildCorpusKeepsNewestWhenTruncating(t *testing.T) {
	all := BuildCorpus(items(5), 0)
	budget := all.Chars / 2
	c := BuildCorpus(items(5), budget)
	if !c.Truncated || c.Chars > budget || c.ItemsIncluded == 0 || c.ItemsIncluded >= 5 {
		t.Fatalf("unexpected truncation %+v (budget %d)", c, budget)
	}
	if !strings.Contains(c.Text, "--- item 5 ·") || strings.Contains(c.Text, "--- item 1 ·") {
		t.Fatalf("expected newest items to survive:\n%s", c.Text)
	}
}

func TestBuildCorpusBudgetCountsSeparators(t *testing.T) {
	all := BuildCorpus(items(5), 0)
	for budget := all.Chars - 4; budget <= all.Chars; budget++ {
		c := BuildCorpus(items(5), budget)
		if c.Chars > budget {
			t.Fatalf("budget %d: corpus has %d chars", budget, c.Chars)
		}
		if want := budget < all.Chars; c.Truncated != want {
			t.Fatalf("budget %d: truncated=%v, want %v", budget, c.Truncated, want)
		}
	}
	if c := BuildCorpus(items(5), all.Chars); c.ItemsIncluded != 5 || c.Text != all.Text {
		t.Fatalf("exact budget dropped content: %+v", c)
	}
}

func TestBuildCorpusOversizedSingleItem(t *testing.T) {
	c := BuildCorpus(items(3), 20)
	if !c.Truncated || c.ItemsIncluded != 1 || c.Chars != 20 || !strings.HasPrefix(c.Text, "--- item 3") {
		t.Fatalf("unexpected corpus %+v", c)
	}
}

func TestBuildCorpusEmpty(t *testing.T) {
	if c := BuildCorpus(nil, 100); c.Text != "" || c.ItemsIncluded != 0 {
		t.Fatalf("unexpected corpus %+v", c)
	}
}

func TestFingerprint(t *testing.T) {
	a := items(3)
	if Fingerprint(a) != Fingerprint(items(3)) {
		t.Fatal("fingerprint must be deterministic")
	}
	b := items(3)
	b[1].UpdatedAt = b[1].UpdatedAt.Add(time.Second)
	if Fingerprint(a) == Fingerprint(b) {
		t.Fatal("fingerprint must change with item revisions")
	}
	if Fingerprint(a) == Fingerprint(items(4)) {
		t.Fatal("fingerprint must change with item count")
	}
}
