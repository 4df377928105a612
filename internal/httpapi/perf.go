package httpapi

import (
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/ent0n29/personatwin/internal/observability"
)

// perfReport is the latency window plus the live load it was measured under.
type perfReport struct {
	observability.StageSnapshot
	ActiveSessions   int `json:"active_sessions"`
	FailedPersistOps int `json:"failed_persist_ops"`
}

// handlePerfLatency serves the rolling stage latencies. ?stage=connect,first_audio
// narrows the report to the named stages.
func (s *Server) handlePerfLatency(w http.ResponseWriter, r *http.Request) {
	snap := observability.StageSnapshot{GeneratedAt: time.Now().UTC(), Stages: []observability.StageStats{}}
	if s.metrics != nil {
		snap = s.metrics.StageSnapshot()
	}
	if want := stageFilter(r.URL.Query().Get("stage")); len(want) > 0 {
		snap.Stages = slices.DeleteFunc(snap.Stages, func(st observability.StageStats) bool {
			return !slices.Contains(want, st.Stage)
		})
	}
	report := perfReport{StageSnapshot: snap, ActiveSessions: s.sessions.ActiveCount()}
	if s.recorder != nil {
		report.FailedPersistOps = s.recorder.FailedCount()
	}
	respondJSON(w, http.StatusOK, report)
}

func stageFilter(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
