// ABOUTME: WaitUntil, the frame-paced polling loop every timed epoch of a trial runs inside.
// ABOUTME: Each iteration either sleeps a poll interval or draws, flips, and streams the screen state.
package experiment

import (
	"fmt"
	"math"
	"time"
)

// Forever is an unbounded WaitOptions.Timeout. Waits never default to it.
const Forever = time.Duration(math.MaxInt64)

// WaitOptions configures WaitUntil.
type WaitOptions struct {
	// Timeout bounds the wait. Zero returns immediately; pass Forever to
	// wait without bound.
	Timeout time.Duration
	// PollInterval, when non-zero, sleeps between checks instead of drawing.
	PollInterval time.Duration
	// Draw names the stimuli drawn on every refresh.
	Draw []string
	// CheckAbort polls the abort keys on every iteration.
	CheckAbort bool
}

// Host is what WaitUntil needs from the running experiment.
type Host interface {
	Now() time.Time
	Sleep(d time.Duration)
	// DrawFrame draws the named stimuli, flips, and streams the screen state.
	DrawFrame(names []string) error
	// FrameInterval is the duration of one refresh.
	FrameInterval() time.Duration
	// CheckAbort returns ErrAbort if the run should stop.
	CheckAbort() error
}

// WaitUntil polls cond until it reports done or the timeout elapses. It
// returns cond's value with ok=true, or the zero value with ok=false on
// timeout. A nil cond simply waits out the timeout.
func WaitUntil[T any](h Host, cond func() (T, bool), opts WaitOptions) (T, bool, error) {
	var zero T
	if opts.PollInterval > 0 && len(opts.Draw) > 0 {
		return zero, false, fmt.Errorf("%w: poll interval and draw list are mutually exclusive", ErrUsage)
	}

	timeout := opts.Timeout
	if len(opts.Draw) > 0 && timeout != Forever {
		// Leave room for the last scheduled refresh.
		timeout -= h.FrameInterval()
	}

	start := h.Now()
	for timeout == Forever || h.Now().Sub(start) < timeout {
		if opts.CheckAbort {
			if err := h.CheckAbort(); err != nil {
				return zero, false, err
			}
		}
		if cond != nil {
			if v, done := cond(); done {
				return v, true, nil
			}
		}
		if opts.PollInterval > 0 {
			h.Sleep(opts.PollInterval)
			continue
		}
		if err := h.DrawFrame(opts.Draw); err != nil {
			return zero, false, err
		}
	}
	return zero, false, nil
}

// Wait is WaitUntil without a condition: it draws or sleeps for timeout.
func Wait(h Host, opts WaitOptions) error {
	_, _, err := WaitUntil[struct{}](h, nil, opts)
	return err
}
