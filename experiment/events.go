// ABOUTME: Lifecycle events emitted by the controller and the RunState enumeration they report.
// ABOUTME: Handlers may be called from the watchdog goroutine as well as the trial loop.
package experiment

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// EventType identifies the kind of controller event.
type EventType string

const (
	EventRunStarted     EventType = "run.started"
	EventRunState       EventType = "run.state"
	EventTrialStarted   EventType = "trial.started"
	EventTrialCompleted EventType = "trial.completed"
	EventTrialStalled   EventType = "trial.stalled"
	EventParamsUpdated  EventType = "params.updated"
	EventRunAborted     EventType = "run.aborted"
	EventRunCompleted   EventType = "run.completed"
	EventRunFailed      EventType = "run.failed"
)

// Event is one controller event. Record, when set, is a private copy.
type Event struct {
	Type      EventType
	RunID     string
	Trial     int
	State     RunState
	Record    *TrialRecord
	Data      map[string]any
	Timestamp time.Time
}

// RunState is a stage of the run lifecycle.
type RunState string

const (
	StateUninitialized     RunState = "uninitialized"
	StateInitializing      RunState = "initializing"
	StateWaitingForTrigger RunState = "waiting_for_trigger"
	StateWaitingPreRun     RunState = "waiting_pre_run"
	StateRunning           RunState = "running"
	StateEndedCleanly      RunState = "ended_cleanly"
	StateAborted           RunState = "aborted"
	StateShuttingDown      RunState = "shutting_down"
	StateTerminated        RunState = "terminated"
)

// NewRunID returns a sortable unique run identifier.
func NewRunID() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}
