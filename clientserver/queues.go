// ABOUTME: Thread-safe queues that are the only channel between the trial loop and the socket goroutines.
// ABOUTME: Screen snapshots are latest-wins; trial records are ordered and never dropped.
package clientserver

import (
	"context"
	"time"
)

// DefaultTrialBuffer bounds how many unsent trial records may accumulate
// before PutTrial blocks.
const DefaultTrialBuffer = 4096

// Queues are the four queues shared by the trial loop and the server
// goroutine. The zero value is not usable; call NewQueues.
type Queues struct {
	screen chan []byte
	trial  chan []byte
	param  chan []byte
	cmd    chan Kind
}

// NewQueues creates the server-side queue set. trialBuffer <= 0 uses
// DefaultTrialBuffer.
func NewQueues(trialBuffer int) *Queues {
	if trialBuffer <= 0 {
		trialBuffer = DefaultTrialBuffer
	}
	return &Queues{
		screen: make(chan []byte, 1),
		trial:  make(chan []byte, trialBuffer),
		param:  make(chan []byte, 1),
		cmd:    make(chan Kind, 1),
	}
}

// PutScreen replaces any pending screen snapshot with b. Never blocks.
func (q *Queues) PutScreen(b []byte) {
	putLatest(q.screen, b)
}

// TakeScreen returns the pending screen snapshot, if any.
func (q *Queues) TakeScreen() ([]byte, bool) {
	return takeNow(q.screen)
}

// PutTrial enqueues a trial record. It blocks only if the buffer is full,
// and gives up when ctx is done.
func (q *Queues) PutTrial(ctx context.Context, b []byte) error {
	select {
	case q.trial <- b:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TakeTrial returns the oldest pending trial record, if any.
func (q *Queues) TakeTrial() ([]byte, bool) {
	return takeNow(q.trial)
}

// PendingTrials reports how many trial records have not been taken.
func (q *Queues) PendingTrials() int {
	return len(q.trial)
}

// RequestParams asks the server goroutine to fetch edited gaze parameters
// from the console on its next cycle. Repeated requests collapse into one.
// An answer left over from an earlier request is discarded first.
func (q *Queues) RequestParams() {
	takeNow(q.param)
	select {
	case q.cmd <- ParamRequest:
	default:
	}
}

// takeCmd returns a pending command, if any.
func (q *Queues) takeCmd() (Kind, bool) {
	select {
	case k := <-q.cmd:
		return k, true
	default:
		return 0, false
	}
}

// putParams hands the console's answer to the trial loop. An empty payload
// means the console had no edits.
func (q *Queues) putParams(b []byte) {
	putLatest(q.param, b)
}

// WaitParams waits up to timeout for the console's answer to RequestParams.
// It returns ok=false on timeout or when the console had no edits.
func (q *Queues) WaitParams(timeout time.Duration) ([]byte, bool) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case b := <-q.param:
		return b, len(b) > 0
	case <-t.C:
		return nil, false
	}
}

// ConsoleQueues are the queues shared by the remote console UI and its
// client goroutine.
type ConsoleQueues struct {
	screen chan []byte
	trial  chan []byte
	params chan []byte
	edits  chan []byte
	cmd    chan Kind
}

// NewConsoleQueues creates the client-side queue set.
func NewConsoleQueues(trialBuffer int) *ConsoleQueues {
	if trialBuffer <= 0 {
		trialBuffer = DefaultTrialBuffer
	}
	return &ConsoleQueues{
		screen: make(chan []byte, 1),
		trial:  make(chan []byte, trialBuffer),
		params: make(chan []byte, 1),
		edits:  make(chan []byte, 1),
		cmd:    make(chan Kind, 1),
	}
}

// TakeScreen returns the newest screen snapshot received, if any.
func (q *ConsoleQueues) TakeScreen() ([]byte, bool) { return takeNow(q.screen) }

// TakeTrial returns the oldest trial record received, if any.
func (q *ConsoleQueues) TakeTrial() ([]byte, bool) { return takeNow(q.trial) }

// TakeParams returns the latest gaze parameters the server reported, if any.
func (q *ConsoleQueues) TakeParams() ([]byte, bool) { return takeNow(q.params) }

// SubmitEdits stages edited gaze parameters for the server's next
// PARAM_REQUEST. A later submission replaces an unsent one.
func (q *ConsoleQueues) SubmitEdits(b []byte) { putLatest(q.edits, b) }

// FetchParams asks the client goroutine to request the server's current
// gaze parameters on its next cycle.
func (q *ConsoleQueues) FetchParams() {
	select {
	case q.cmd <- ParamRequest:
	default:
	}
}

func (q *ConsoleQueues) takeCmd() (Kind, bool) {
	select {
	case k := <-q.cmd:
		return k, true
	default:
		return 0, false
	}
}

func putLatest(ch chan []byte, b []byte) {
	for {
		select {
		case ch <- b:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func takeNow(ch chan []byte) ([]byte, bool) {
	select {
	case b := <-ch:
		return b, true
	default:
		return nil, false
	}
}
