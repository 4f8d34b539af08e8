package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/KafClaw/groupjournal/internal/analysis"
	"github.com/KafClaw/groupjournal/internal/apperr"
	"github.com/KafClaw/groupjournal/internal/backfill"
	"github.com/KafClaw/groupjournal/internal/metrics"
	"github.com/KafClaw/groupjournal/internal/store"
	"github.com/KafClaw/groupjournal/internal/synthesis"
)

type fakeAnalyzer struct {
	err   error
	panic bool
}

func (f *fakeAnalyzer) Handle(_ context.Context, req analysis.Request) (*analysis.Result, error) {
	if f.panic {
		panic("analyzer bug")
	}
	if f.err != nil {
		return nil, f.err
	}
	if req.GroupID == "" {
		return nil, apperr.Invalid("group_id", "is required")
	}
	return &analysis.Result{ItemID: req.ItemID, GroupID: req.GroupID, GroupItemCount: 3, SynthesisTriggered: true,
		PerTaskHasContent: []bool{true}, SavedFields: map[string]bool{"insights": true}}, nil
}

type fakeSynth struct {
	last synthesis.Request
}

func (f *fakeSynth) Handle(_ context.Context, req synthesis.Request) (*synthesis.Result, error) {
	f.last = req
	return &synthesis.Result{Triggered: true, Updated: true, GroupItemCount: 3, Journal: json.RawMessage(`{"summary":"s"}`)}, nil
}

type fakeBackfill struct {
	last backfill.Request
}

func (f *fakeBackfill) Run(_ context.Context, req backfill.Request) (*backfill.Report, error) {
	f.last = req
	return &backfill.Report{Processed: 1, OkCount: 1, Skipped: []backfill.Skipped{}, Results: []backfill.GroupResult{{GroupID: "g", Status: "ok"}}}, nil
}

type testEnv struct {
	server   *httptest.Server
	store    *store.SQLStore
	analyzer *fakeAnalyzer
	synth    *fakeSynth
	backfill *fakeBackfill
}

func newEnv(t *testing.T, opts ...ServerOption) *testEnv {
	t.Helper()
	st, err := store.Open(context.Background(), store.Options{Driver: "sqlite3", DSN: ":memory:"})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	env := &testEnv{store: st, analyzer: &fakeAnalyzer{}, synth: &fakeSynth{}, backfill: &fakeBackfill{}}
	router := NewServer(Services{
		Analysis:  env.analyzer,
		Synthesis: env.synth,
		Backfill:  env.backfill,
		Store:     st,
		Metrics:   metrics.New(),
	}, append([]ServerOption{WithMiddlewares(LoggingMiddleware)}, opts...)...)
	env.server = httptest.NewServer(router)
	t.Cleanup(env.server.Close)
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string, header ...string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, e.server.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp, data
}

func decodeError(t *testing.T, data []byte) ErrorResponse {
	t.Helper()
	var e ErrorResponse
	if err := json.Unmarshal(data, &e); err != nil {
		t.Fatalf("not an error envelope: %s", data)
	}
	return e
}

func TestAnalyzeItem(t *testing.T) {
	env := newEnv(t)
	resp, data := env.do(t, http.MethodPost, "/api/v1/items/analyze", `{"group_id":"g","item_id":"i","text":"hi"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, data)
	}
	var body map[string]any
	_ = json.Unmarshal(data, &body)
	if body["ok"] != true || body["itemId"] != "i" || body["synthesisTriggered"] != true {
		t.Fatalf("unexpected body %s", data)
	}
}

func TestStatusMapping(t *testing.T) {
	env := newEnv(t)

	resp, data := env.do(t, http.MethodPost, "/api/v1/items/analyze", `{not json`)
	if resp.StatusCode != http.StatusBadRequest || decodeError(t, data).Code != CodeValidation {
		t.Fatalf("malformed JSON: %d %s", resp.StatusCode, data)
	}

	resp, data = env.do(t, http.MethodPost, "/api/v1/items/analyze", `{"item_id":"i","text":"x"}`)
	if resp.StatusCode != http.StatusBadRequest || decodeError(t, data).Code != CodeValidation {
		t.Fatalf("validation: %d %s", resp.StatusCode, data)
	}

	resp, _ = env.do(t, http.MethodGet, "/api/v1/items/analyze", "")
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}

	resp, data = env.do(t, http.MethodGet, "/api/v1/groups/unknown", "")
	if resp.StatusCode != http.StatusNotFound || decodeError(t, data).Code != CodeNotFound {
		t.Fatalf("expected 404, got %d %s", resp.StatusCode, data)
	}

	env.analyzer.err = &store.Error{Op: "upsert item", Err: errors.New("disk I/O error")}
	resp, data = env.do(t, http.MethodPost, "/api/v1/items/analyze", `{"group_id":"g","item_id":"i","text":"x"}`)
	if resp.StatusCode != http.StatusInternalServerError || decodeError(t, data).Code != CodeStore {
		t.Fatalf("store error: %d %s", resp.StatusCode, data)
	}

	env.analyzer.err = errors.New("something odd")
	resp, data = env.do(t, http.MethodPost, "/api/v1/items/analyze", `{"group_id":"g","item_id":"i","text":"x"}`)
	if resp.StatusCode != http.StatusInternalServerError || decodeError(t, data).Code != CodeInternal {
		t.Fatalf("internal error: %d %s", resp.StatusCode, data)
	}
}

func TestRecoverMiddleware(t *testing.T) {
	env := newEnv(t)
	env.analyzer.panic = true
	resp, data := env.do(t, http.MethodPost, "/api/v1/items/analyze", `{"group_id":"g","item_id":"i","text":"x"}`)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
	if e := decodeError(t, data); e.OK || e.Code != CodeInternal {
		t.Fatalf("unexpected envelope %+v", e)
	}
}

func TestSynthesizeForcesManualSource(t *testing.T) {
	env := newEnv(t)
	resp, data := env.do(t, http.MethodPost, "/api/v1/groups/synthesize", `{"group_id":"g","force":true,"debug":true,"source":"cascade"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, data)
	}
	if env.synth.last.Source != "manual" || !env.synth.last.Force || !env.synth.last.Debug {
		t.Fatalf("unexpected request %+v", env.synth.last)
	}
}

func TestBackfillAcceptsEmptyBody(t *testing.T) {
	env := newEnv(t)
	resp, data := env.do(t, http.MethodPost, "/api/v1/backfill", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, data)
	}
	var report backfill.Report
	if err := json.Unmarshal(data, &report); err != nil || report.Processed != 1 {
		t.Fatalf("unexpected report %s", data)
	}

	env.do(t, http.MethodPost, "/api/v1/backfill", `{"group_id":"g","force":true}`)
	if env.backfill.last.GroupID != "g" || !env.backfill.last.Force {
		t.Fatalf("unexpected request %+v", env.backfill.last)
	}
}

func TestGroupReadEndpoints(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	png := []byte{0x89, 'P', 'N', 'G', 1, 2}
	if err := env.store.SetGroupState(ctx, store.GroupState{GroupID: "g", Journal: json.RawMessage(`{"summary":"s"}`), Artifact: png}); err != nil {
		t.Fatal(err)
	}
	_ = env.store.SetGroupState(ctx, store.GroupState{GroupID: "plain", Journal: json.RawMessage(`{"summary":"s"}`)})
	for i := 0; i < 3; i++ {
		_ = env.store.AppendHistory(ctx, store.HistoryEntry{GroupID: "g", Snapshot: json.RawMessage(`{}`), Source: "manual"})
	}

	resp, data := env.do(t, http.MethodGet, "/api/v1/groups/g", "")
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(data), `"hasArtifact":true`) {
		t.Fatalf("group: %d %s", resp.StatusCode, data)
	}

	resp, data = env.do(t, http.MethodGet, "/api/v1/groups/g/history?limit=2", "")
	var hist []store.HistoryEntry
	if resp.StatusCode != http.StatusOK || json.Unmarshal(data, &hist) != nil || len(hist) != 2 {
		t.Fatalf("history: %d %s", resp.StatusCode, data)
	}
	resp, _ = env.do(t, http.MethodGet, "/api/v1/groups/g/history?limit=zero", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", resp.StatusCode)
	}
	resp, data = env.do(t, http.MethodGet, "/api/v1/groups/none/history", "")
	if resp.StatusCode != http.StatusOK || strings.TrimSpace(string(data)) != "[]" {
		t.Fatalf("empty history: %d %s", resp.StatusCode, data)
	}

	resp, data = env.do(t, http.MethodGet, "/api/v1/groups/g/artifact.png", "")
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "image/png" || string(data) != string(png) {
		t.Fatalf("artifact: %d %q", resp.StatusCode, data)
	}
	resp, _ = env.do(t, http.MethodGet, "/api/v1/groups/plain/artifact.png", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 without artifact, got %d", resp.StatusCode)
	}
}

func TestBearerAuth(t *testing.T) {
	env := newEnv(t, WithAuthToken("s3cret"))

	resp, data := env.do(t, http.MethodPost, "/api/v1/backfill", "{}")
	if resp.StatusCode != http.StatusUnauthorized || decodeError(t, data).Code != CodeUnauthorized {
		t.Fatalf("expected 401, got %d %s", resp.StatusCode, data)
	}
	resp, _ = env.do(t, http.MethodPost, "/api/v1/backfill", "{}", "Authorization", "Bearer wrong")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong token, got %d", resp.StatusCode)
	}
	resp, _ = env.do(t, http.MethodPost, "/api/v1/backfill", "{}", "Authorization", "Bearer s3cret")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", resp.StatusCode)
	}
	resp, _ = env.do(t, http.MethodGet, "/healthz", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health must not require auth, got %d", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newEnv(t)
	resp, data := env.do(t, http.MethodGet, "/metrics", "")
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(data), "go_goroutines") {
		t.Fatalf("metrics: %d", resp.StatusCode)
	}
}
