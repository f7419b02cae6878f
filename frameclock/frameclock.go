// ABOUTME: Converts stimulus durations to display refresh counts and yields frame indices for timed epochs.
// ABOUTME: Range self-corrects when the display reports missed refreshes so wall-clock timing is preserved.
package frameclock

import (
	"errors"
	"fmt"
	"iter"
	"math"
)

// ErrUsage is returned when a Span sets both a duration and a frame count, or neither.
var ErrUsage = errors.New("frameclock: exactly one of seconds or frames must be set")

// Rounding converts a fractional frame count to a whole number of frames.
type Rounding func(float64) float64

// Rounding rules accepted by FramesFor. Floor is the default.
var (
	Floor Rounding = math.Floor
	Ceil  Rounding = math.Ceil
	Round Rounding = math.Round
)

// DropCounter reports the cumulative number of refreshes the display has missed.
type DropCounter interface {
	DroppedFrames() int
}

// FramesFor returns the number of refresh intervals in seconds at the given
// refresh rate. A nil rounding rule means Floor. Negative results clamp to zero.
func FramesFor(seconds, refreshHz float64, round Rounding) int {
	if round == nil {
		round = Floor
	}
	n := round(seconds * refreshHz)
	if n < 0 || math.IsNaN(n) {
		return 0
	}
	return int(n)
}

// Span describes the length of a timed epoch, either in seconds or in frames.
type Span struct {
	Seconds *float64
	Frames  *int
	Round   Rounding // applied to Seconds; nil means Floor
}

// Seconds returns a Span measured in seconds.
func Seconds(s float64) Span {
	return Span{Seconds: &s}
}

// Frames returns a Span measured in whole frames.
func Frames(n int) Span {
	return Span{Frames: &n}
}

// Resolve returns the frame count the span covers at refreshHz.
func (s Span) Resolve(refreshHz float64) (int, error) {
	switch {
	case s.Seconds != nil && s.Frames != nil, s.Seconds == nil && s.Frames == nil:
		return 0, ErrUsage
	case s.Frames != nil:
		if *s.Frames < 0 {
			return 0, fmt.Errorf("frameclock: negative frame count %d", *s.Frames)
		}
		return *s.Frames, nil
	default:
		if *s.Seconds < 0 {
			return 0, fmt.Errorf("frameclock: negative duration %gs", *s.Seconds)
		}
		if refreshHz <= 0 {
			return 0, fmt.Errorf("frameclock: refresh rate must be positive, got %g", refreshHz)
		}
		return FramesFor(*s.Seconds, refreshHz, s.Round), nil
	}
}

// Range is a finite, non-restartable sequence of logical frame indices.
// When compensation is on, each step consults the display's dropped-frame
// counter and advances past any refreshes that were missed since the last step.
type Range struct {
	counter    DropCounter
	total      int
	compensate bool

	frame   int
	dropped int // drops observed since the range started
	base    int // counter value at range start
	skipped []int
	started bool
	done    bool
}

// NewRange creates a Range over total frames. counter may be nil, in which case
// no compensation is possible and the range yields 0..total-1.
func NewRange(counter DropCounter, total int, compensate bool) *Range {
	r := &Range{
		counter:    counter,
		total:      total,
		compensate: compensate && counter != nil,
	}
	if r.compensate {
		r.base = counter.DroppedFrames()
	}
	return r
}

// Next advances the range and returns the next frame index together with the
// indices skipped since the previous step. ok is false once the range is exhausted.
func (r *Range) Next() (frame int, skipped []int, ok bool) {
	if r.done {
		return 0, nil, false
	}

	if !r.started {
		r.started = true
	} else {
		r.skipped = nil
		if r.compensate {
			observed := r.counter.DroppedFrames() - r.base
			if fresh := observed - r.dropped; fresh > 0 {
				for i := 1; i <= fresh; i++ {
					r.skipped = append(r.skipped, r.frame+i)
				}
				r.frame += fresh
				r.dropped = observed
			}
		}
		r.frame++
	}

	if r.frame >= r.total {
		r.done = true
		return 0, nil, false
	}
	return r.frame, r.skipped, true
}

// DroppedCount returns the drops observed since the range started.
func (r *Range) DroppedCount() int {
	return r.dropped
}

// All adapts the range to a range-over-func iterator of (frame, skipped) pairs.
// Because Range is not restartable, iterating twice yields nothing the second time.
func (r *Range) All() iter.Seq2[int, []int] {
	return func(yield func(int, []int) bool) {
		for {
			frame, skipped, ok := r.Next()
			if !ok || !yield(frame, skipped) {
				return
			}
		}
	}
}

// Missed reports whether any of the skipped indices is a multiple of period,
// which tells a caller that a periodic update scheduled on a dropped frame
// never happened and should be applied now.
func Missed(skipped []int, period int) bool {
	if period <= 0 {
		return false
	}
	for _, f := range skipped {
		if f%period == 0 {
			return true
		}
	}
	return false
}
