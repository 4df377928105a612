package observability

import (
	"fmt"
	"testing"
	"time"
)

func TestStageWindowSnapshot(t *testing.T) {
	w := newStageWindow(8)
	w.Observe("search", 500)
	w.Observe("search", 700)
	w.Observe("search", 900)
	w.ObserveIndicator("barge_in")
	w.ObserveIndicator("barge_in")

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Stage != "search" || s.Samples != 3 {
		t.Fatalf("stage = %+v, want search with 3 samples", s)
	}
	if s.LastMS != 900 {
		t.Fatalf("LastMS = %.2f, want 900", s.LastMS)
	}
	if s.P50MS != 700 {
		t.Fatalf("P50MS = %.2f, want 700", s.P50MS)
	}
	if s.P95MS <= 700 || s.P95MS > 900 {
		t.Fatalf("P95MS = %.2f, want (700,900]", s.P95MS)
	}
	if s.TargetP95MS != 1200 {
		t.Fatalf("TargetP95MS = %.2f, want 1200", s.TargetP95MS)
	}
	if len(snap.Indicators) != 1 || snap.Indicators[0].Count != 2 {
		t.Fatalf("Indicators = %+v, want barge_in x2", snap.Indicators)
	}
}

func TestStageWindowWrapsAtCapacity(t *testing.T) {
	w := newStageWindow(2)
	w.Observe("connect", 1)
	w.Observe("connect", 2)
	w.Observe("connect", 30)

	s := w.Snapshot().Stages[0]
	if s.Samples != 2 {
		t.Fatalf("Samples = %d, want 2", s.Samples)
	}
	if s.AvgMS != 16 {
		t.Fatalf("AvgMS = %.2f, want 16", s.AvgMS)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.IncSessionEvent("connected")
	m.ObserveSearchLatency(time.Second)
	if got := m.StageSnapshot(); len(got.Stages) != 0 {
		t.Fatalf("StageSnapshot() = %+v, want empty", got)
	}
}

func TestMetricsRecordStages(t *testing.T) {
	m := NewMetrics(fmt.Sprintf("personatwin_test_stages_%d", time.Now().UnixNano()))
	m.ObserveSearchLatency(120 * time.Millisecond)
	m.IncToolCall("search", "ok")

	snap := m.StageSnapshot()
	if len(snap.Stages) != 1 || snap.Stages[0].Stage != "search" {
		t.Fatalf("Stages = %+v, want one search stage", snap.Stages)
	}
	if len(snap.Indicators) != 1 || snap.Indicators[0].Name != "tool_ok" {
		t.Fatalf("Indicators = %+v, want tool_ok", snap.Indicators)
	}
}
