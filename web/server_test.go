// ABOUTME: Tests for the run status HTTP server using httptest.
// ABOUTME: Covers health, run status folding, trial queries, gaze params, and the SSE event stream.
package web

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/2389-research/visigoth/experiment"
)

func feed(s *Server) {
	now := time.Date(2026, 2, 2, 12, 0, 0, 0, time.UTC)
	s.HandleEvent(experiment.Event{Type: experiment.EventRunStarted, RunID: "r1", State: experiment.StateInitializing,
		Data: map[string]any{"study": "dots", "subject": "s01"}, Timestamp: now})
	s.HandleEvent(experiment.Event{Type: experiment.EventRunState, RunID: "r1", State: experiment.StateRunning, Timestamp: now})
	for i := 1; i <= 3; i++ {
		rec := &experiment.TrialRecord{Trial: i, Responded: true, Result: experiment.Some(experiment.ResultCorrect)}
		s.HandleEvent(experiment.Event{Type: experiment.EventTrialStarted, RunID: "r1", Trial: i, Timestamp: now})
		s.HandleEvent(experiment.Event{Type: experiment.EventTrialCompleted, RunID: "r1", Trial: i, Record: rec, Timestamp: now})
	}
	s.HandleEvent(experiment.Event{Type: experiment.EventTrialStalled, RunID: "r1", Trial: 2, Timestamp: now})
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := get(t, NewServer(ServerConfig{}), "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("body: got %s", rec.Body.String())
	}
}

func TestRunStatus(t *testing.T) {
	s := NewServer(ServerConfig{Console: func() ConsoleStatus {
		return ConsoleStatus{Connected: true, ConnectionID: "c1", PendingTrials: 4}
	}})
	feed(s)

	rec := get(t, s, "/api/run")
	var st RunStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.RunID != "r1" || st.Study != "dots" || st.Subject != "s01" {
		t.Errorf("identity: got %+v", st)
	}
	if st.State != experiment.StateRunning {
		t.Errorf("state: got %q, want running", st.State)
	}
	if st.Trial != 3 || st.Completed != 3 {
		t.Errorf("progress: trial=%d completed=%d, want 3 and 3", st.Trial, st.Completed)
	}
	if len(st.Stalled) != 1 || st.Stalled[0] != 2 {
		t.Errorf("stalled: got %v, want [2]", st.Stalled)
	}
	if st.Console != (ConsoleStatus{Connected: true, ConnectionID: "c1", PendingTrials: 4}) {
		t.Errorf("console: got %+v", st.Console)
	}
}

func TestRunFailedRecordsError(t *testing.T) {
	s := NewServer(ServerConfig{})
	s.HandleEvent(experiment.Event{Type: experiment.EventRunFailed, RunID: "r1", State: experiment.StateTerminated,
		Data: map[string]any{"error": "display: refresh mismatch"}})
	if got := s.Status().Error; got != "display: refresh mismatch" {
		t.Errorf("error: got %q", got)
	}
}

func TestTrialsSince(t *testing.T) {
	s := NewServer(ServerConfig{})
	feed(s)

	var all []map[string]any
	json.Unmarshal(get(t, s, "/api/trials").Body.Bytes(), &all)
	if len(all) != 3 {
		t.Fatalf("all trials: got %d, want 3", len(all))
	}

	var recent []map[string]any
	json.Unmarshal(get(t, s, "/api/trials?since=2").Body.Bytes(), &recent)
	if len(recent) != 1 || recent[0]["trial"] != float64(3) {
		t.Errorf("since=2: got %v", recent)
	}

	if rec := get(t, s, "/api/trials?since=x"); rec.Code != http.StatusBadRequest {
		t.Errorf("bad since: got %d, want 400", rec.Code)
	}
}

func TestTrialByNumber(t *testing.T) {
	s := NewServer(ServerConfig{})
	feed(s)

	rec := get(t, s, "/api/trials/2")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"result":"correct"`) {
		t.Errorf("body: got %s", rec.Body.String())
	}
	if rec := get(t, s, "/api/trials/9"); rec.Code != http.StatusNotFound {
		t.Errorf("missing trial: got %d, want 404", rec.Code)
	}
	if rec := get(t, s, "/api/trials/abc"); rec.Code != http.StatusBadRequest {
		t.Errorf("bad trial: got %d, want 400", rec.Code)
	}
}

func TestParams(t *testing.T) {
	if rec := get(t, NewServer(ServerConfig{}), "/api/params"); rec.Code != http.StatusNotFound {
		t.Errorf("no gaze func: got %d, want 404", rec.Code)
	}
	s := NewServer(ServerConfig{Gaze: func() GazeStatus { return GazeStatus{XOffset: 0.5, FixWindow: 2} }})
	var g GazeStatus
	if err := json.Unmarshal(get(t, s, "/api/params").Body.Bytes(), &g); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if g.XOffset != 0.5 || g.FixWindow != 2 {
		t.Errorf("params: got %+v", g)
	}
}

func TestEventStreamReplaysHistory(t *testing.T) {
	s := NewServer(ServerConfig{})
	feed(s)
	srv := httptest.NewServer(s)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type: got %q", ct)
	}

	var types []string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() && len(types) < 9 {
		if after, ok := strings.CutPrefix(sc.Text(), "event: "); ok {
			types = append(types, after)
		}
	}
	if len(types) != 9 {
		t.Fatalf("events: got %d (%v), want 9", len(types), types)
	}
	if types[0] != "run.started" || types[8] != "trial.stalled" {
		t.Errorf("event order: got %v", types)
	}
}

func TestHistoryIsBounded(t *testing.T) {
	s := NewServer(ServerConfig{History: 2})
	feed(s)
	history, _, unsubscribe := s.subscribe()
	defer unsubscribe()
	if len(history) != 2 {
		t.Fatalf("history: got %d, want 2", len(history))
	}
	if history[1].Type != experiment.EventTrialStalled {
		t.Errorf("newest event: got %s", history[1].Type)
	}
}
