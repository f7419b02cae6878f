// ABOUTME: Run status HTTP server: health, run state, trial log, live gaze parameters, and an SSE event stream.
// ABOUTME: Fed by controller events through HandleEvent; all handlers read a mutex-guarded snapshot.
package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/2389-research/visigoth/experiment"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// RunStatus is the body of GET /api/run.
type RunStatus struct {
	RunID     string              `json:"run_id"`
	Study     string              `json:"study"`
	Subject   string              `json:"subject"`
	State     experiment.RunState `json:"state"`
	Trial     int                 `json:"trial"`
	Completed int                 `json:"completed"`
	Stalled   []int               `json:"stalled"`
	Error     string              `json:"error,omitempty"`
	Console   ConsoleStatus       `json:"console"`
	StartedAt time.Time           `json:"started_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// ConsoleStatus describes the remote console link.
type ConsoleStatus struct {
	Connected     bool   `json:"connected"`
	ConnectionID  string `json:"connection_id,omitempty"`
	PendingTrials int    `json:"pending_trials"`
}

// GazeStatus is the body of GET /api/params.
type GazeStatus struct {
	XOffset   float64 `json:"x_offset"`
	YOffset   float64 `json:"y_offset"`
	FixWindow float64 `json:"fix_window"`
}

// ServerConfig holds the status server configuration.
type ServerConfig struct {
	Addr string // listen address (default: "127.0.0.1:8321")
	// Console reports the remote console link. Optional.
	Console func() ConsoleStatus
	// Gaze returns the live gaze parameters. Optional.
	Gaze func() GazeStatus
	// History bounds the events replayed to new stream subscribers.
	History int
	// Index serves past runs under /api/history. Optional.
	Index RunIndex
}

// Server serves run status. HandleEvent may be called from any goroutine.
type Server struct {
	cfg    ServerConfig
	router chi.Router

	mu      sync.RWMutex
	status  RunStatus
	trials  []*experiment.TrialRecord
	history []eventJSON
	subs    map[chan eventJSON]struct{}
}

type eventJSON struct {
	Type      experiment.EventType    `json:"type"`
	RunID     string                  `json:"run_id"`
	Trial     int                     `json:"trial,omitempty"`
	State     experiment.RunState     `json:"state,omitempty"`
	Record    *experiment.TrialRecord `json:"record,omitempty"`
	Data      map[string]any          `json:"data,omitempty"`
	Timestamp time.Time               `json:"timestamp"`
}

// NewServer creates a status server.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8321"
	}
	if cfg.History <= 0 {
		cfg.History = 256
	}
	s := &Server{
		cfg:    cfg,
		status: RunStatus{State: experiment.StateUninitialized, Stalled: []int{}},
		subs:   make(map[chan eventJSON]struct{}),
	}
	s.router = s.buildRouter()
	return s
}

// ServeHTTP delegates to the chi router, satisfying http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// HTTPServer returns an http.Server for the configured address with
// timeouts suited to a long-lived event stream.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/run", s.handleRun)
		r.Get("/trials", s.handleTrials)
		r.Get("/trials/{trial}", s.handleTrial)
		r.Get("/params", s.handleParams)
		r.Get("/events", s.handleEvents)
		r.Route("/history", func(r chi.Router) {
			r.Use(s.requireIndex)
			r.Get("/runs", s.handleHistoryRuns)
			r.Get("/runs/{run}/trials", s.handleHistoryTrials)
			r.Get("/accuracy", s.handleHistoryAccuracy)
		})
	})
	return r
}

// HandleEvent folds a controller event into the status snapshot and fans
// it out to stream subscribers. Slow subscribers miss events.
func (s *Server) HandleEvent(evt experiment.Event) {
	ej := eventJSON{
		Type:      evt.Type,
		RunID:     evt.RunID,
		Trial:     evt.Trial,
		State:     evt.State,
		Record:    evt.Record,
		Data:      evt.Data,
		Timestamp: evt.Timestamp,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st := &s.status
	st.RunID = evt.RunID
	if evt.State != "" {
		st.State = evt.State
	}
	st.UpdatedAt = evt.Timestamp
	switch evt.Type {
	case experiment.EventRunStarted:
		st.StartedAt = evt.Timestamp
		st.Study, _ = evt.Data["study"].(string)
		st.Subject, _ = evt.Data["subject"].(string)
	case experiment.EventTrialStarted:
		st.Trial = evt.Trial
	case experiment.EventTrialCompleted:
		st.Completed++
		if evt.Record != nil {
			s.trials = append(s.trials, evt.Record)
		}
	case experiment.EventTrialStalled:
		st.Stalled = append(st.Stalled, evt.Trial)
	case experiment.EventRunFailed:
		st.Error, _ = evt.Data["error"].(string)
	}

	s.history = append(s.history, ej)
	if over := len(s.history) - s.cfg.History; over > 0 {
		s.history = s.history[over:]
	}
	for ch := range s.subs {
		select {
		case ch <- ej:
		default:
		}
	}
}

// Status returns a copy of the current run status.
func (s *Server) Status() RunStatus {
	s.mu.RLock()
	st := s.status
	st.Stalled = append([]int{}, s.status.Stalled...)
	s.mu.RUnlock()
	if s.cfg.Console != nil {
		st.Console = s.cfg.Console()
	}
	return st
}

func (s *Server) subscribe() ([]eventJSON, chan eventJSON, func()) {
	ch := make(chan eventJSON, 64)
	s.mu.Lock()
	defer s.mu.Unlock()
	history := append([]eventJSON(nil), s.history...)
	s.subs[ch] = struct{}{}
	return history, ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, ch)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Status())
}

func (s *Server) handleTrials(w http.ResponseWriter, r *http.Request) {
	since := 0
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "since must be a non-negative trial number", http.StatusBadRequest)
			return
		}
		since = n
	}
	s.mu.RLock()
	out := make([]*experiment.TrialRecord, 0, len(s.trials))
	for _, t := range s.trials {
		if t.Trial > since {
			out = append(out, t)
		}
	}
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTrial(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(chi.URLParam(r, "trial"))
	if err != nil {
		http.Error(w, "trial must be a number", http.StatusBadRequest)
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.trials {
		if t.Trial == n {
			writeJSON(w, http.StatusOK, t)
			return
		}
	}
	http.Error(w, "trial not found", http.StatusNotFound)
}

func (s *Server) handleParams(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Gaze == nil {
		http.Error(w, "gaze parameters unavailable", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Gaze())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	history, ch, unsubscribe := s.subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, canFlush := w.(http.Flusher)
	for _, evt := range history {
		writeSSE(w, evt)
	}
	if canFlush {
		flusher.Flush()
	}

	for {
		select {
		case evt := <-ch:
			writeSSE(w, evt)
			if canFlush {
				flusher.Flush()
			}
		case <-r.Context().Done():
			return
		}
	}
}

func writeSSE(w http.ResponseWriter, evt eventJSON) {
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, data)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
