package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.AnalysisTask("insights", "ok")
	m.CascadeTriggered()
	m.SynthesisRun("manual", "updated", time.Second)
	m.BackfillRun(map[string]int{"ok": 1})
	m.DispatcherInFlight(1)
	if m.Registry() != nil {
		t.Fatal("expected nil registry")
	}
}

func TestCountersAndHandler(t *testing.T) {
	m := New()
	m.AnalysisTask("insights", "ok")
	m.AnalysisTask("insights", "degraded")
	m.AnalysisTask("insights", "ok")
	m.CascadeTriggered()
	m.BackfillRun(map[string]int{"ok": 2, "error": 1})

	if got := testutil.ToFloat64(m.analysisTasks.WithLabelValues("insights", "ok")); got != 2 {
		t.Fatalf("expected 2 ok tasks, got %v", got)
	}
	if got := testutil.ToFloat64(m.backfillGroups.WithLabelValues("ok")); got != 2 {
		t.Fatalf("expected 2 ok groups, got %v", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "groupjournal_cascade_triggers_total 1") {
		t.Fatalf("exposition missing cascade counter:\n%s", body)
	}
}
