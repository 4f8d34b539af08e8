package synthesis

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/KafClaw/groupjournal/internal/provider"
	"github.com/KafClaw/groupjournal/internal/store"
)

const goodJournal = `{"summary":"A week of progress","themes":["work"],"highlights":"shipped","mood":"upbeat","extra":1}`

type fakeProvider struct {
	synthCalls atomic.Int32
	fail       bool
	gate       chan struct{}
	mu         sync.Mutex
	previous   []json.RawMessage
}

func (f *fakeProvider) Analyze(_ context.Context, kind string, _ provider.Payload) (json.RawMessage, error) {
	return json.RawMessage(`{"kind":"` + kind + `"}`), nil
}

func (f *fakeProvider) Synthesize(ctx context.Context, _ string, previous json.RawMessage) (json.RawMessage, error) {
	f.synthCalls.Add(1)
	f.mu.Lock()
	f.previous = append(f.previous, previous)
	f.mu.Unlock()
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.fail {
		return nil, errors.New("model overloaded")
	}
	return json.RawMessage(goodJournal), nil
}

type fakeArtifacts struct {
	calls atomic.Int32
	fail  bool
}

func (f *fakeArtifacts) Render(context.Context, string) ([]byte, error) {
	f.calls.Add(1)
	if f.fail {
		return nil, errors.New("renderer crashed")
	}
	return []byte("png-bytes"), nil
}

func newStore(t *testing.T) *store.SQLStore {
	t.Helper()
	s, err := store.Open(context.Background(), store.Options{Driver: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seed(t *testing.T, st store.ContentStore, group string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		id := group + "-" + string(rune('a'+i))
		if _, err := st.UpsertItem(context.Background(), store.Item{ID: id, GroupID: group, Title: id, Text: "text of " + id}); err != nil {
			t.Fatal(err)
		}
	}
}
