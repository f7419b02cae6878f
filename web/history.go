// ABOUTME: Read-only history routes over the run index: past runs, their trials, and cumulative accuracy.
// ABOUTME: Mounted under /api/history and answering 404 when the status server has no index.
package web

import (
	"context"
	"log"
	"net/http"

	"github.com/2389-research/visigoth/store"
	"github.com/go-chi/chi/v5"
)

// RunIndex is the read side of the run index.
type RunIndex interface {
	ListRuns(ctx context.Context, subject string) ([]store.RunRow, error)
	ListTrials(ctx context.Context, runID string) ([]store.TrialRow, error)
	Accuracy(ctx context.Context, study, subject string) (float64, int, error)
}

// AccuracyStatus is the body of GET /api/history/accuracy.
type AccuracyStatus struct {
	Study    string  `json:"study"`
	Subject  string  `json:"subject"`
	Accuracy float64 `json:"accuracy"`
	Scored   int     `json:"scored"`
}

func (s *Server) requireIndex(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Index == nil {
			http.Error(w, "run history unavailable", http.StatusNotFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHistoryRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.cfg.Index.ListRuns(r.Context(), r.URL.Query().Get("subject"))
	if err != nil {
		log.Printf("component=web action=history_runs_failed err=%v", err)
		http.Error(w, "list runs failed", http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []store.RunRow{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleHistoryTrials(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run")
	trials, err := s.cfg.Index.ListTrials(r.Context(), runID)
	if err != nil {
		log.Printf("component=web action=history_trials_failed run=%s err=%v", runID, err)
		http.Error(w, "list trials failed", http.StatusInternalServerError)
		return
	}
	if len(trials) == 0 {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, trials)
}

func (s *Server) handleHistoryAccuracy(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	study, subject := q.Get("study"), q.Get("subject")
	if study == "" || subject == "" {
		http.Error(w, "study and subject are required", http.StatusBadRequest)
		return
	}
	acc, n, err := s.cfg.Index.Accuracy(r.Context(), study, subject)
	if err != nil {
		log.Printf("component=web action=history_accuracy_failed study=%s subject=%s err=%v", study, subject, err)
		http.Error(w, "accuracy query failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, AccuracyStatus{Study: study, Subject: subject, Accuracy: acc, Scored: n})
}
