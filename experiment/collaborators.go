// ABOUTME: Interfaces for the collaborators the controller drives: display, stimuli, eyetracker, keyboard, clock.
// ABOUTME: Optional stimulus capabilities (position, color) are discovered with type assertions.
package experiment

import (
	"context"
	"iter"
	"math"
	"time"
)

// Point is a position in degrees of visual angle. NaN components mean missing.
type Point struct {
	X float64
	Y float64
}

// Missing returns a Point with both components NaN.
func Missing() Point { return Point{X: math.NaN(), Y: math.NaN()} }

// Finite reports whether both components are finite numbers.
func (p Point) Finite() bool {
	return !math.IsNaN(p.X) && !math.IsNaN(p.Y) && !math.IsInf(p.X, 0) && !math.IsInf(p.Y, 0)
}

// Add returns p shifted by q.
func (p Point) Add(q Point) Point { return Point{X: p.X + q.X, Y: p.Y + q.Y} }

// Drawable is anything that can be drawn into the next frame.
type Drawable interface {
	Draw()
}

// Positionable stimuli report their position in screen-state snapshots.
type Positionable interface {
	Pos() Point
	SetPos(Point)
}

// Colorable stimuli expose a color.
type Colorable interface {
	Color() string
	SetColor(string)
}

// Display presents frames at a fixed refresh cadence.
type Display interface {
	// Flip shows the frame drawn since the previous Flip and blocks until
	// the refresh completes.
	Flip() error
	// RefreshRate is the measured refresh rate in Hz.
	RefreshRate() float64
	// DroppedFrames is the cumulative count of missed refreshes.
	DroppedFrames() int
	Close() error
}

// Tracker is the eyetracker.
type Tracker interface {
	// ReadGaze returns the newest gaze sample, or a Missing point during a
	// blink or tracking loss.
	ReadGaze(log, applyOffsets bool) Point
	// CheckFixation reports whether gaze is strictly inside radius of pos.
	// A radius <= 0 uses the tracker's fixation window.
	CheckFixation(pos Point, radius float64, newSample bool) bool
	CheckEyeOpen(newSample bool) bool
	Offsets() Point
	SetOffsets(Point)
	FixWindow() float64
	SetFixWindow(float64)
	RunCalibration(ctx context.Context) error
	StartRun() error
	Shutdown() error
}

// SampleHistory is implemented by trackers that keep the samples they
// logged during the run.
type SampleHistory interface {
	LastValidSample(applyOffsets bool) (time.Time, Point, bool)
}

// KeyPress is one key event with the time it was read.
type KeyPress struct {
	Key string
	At  time.Time
}

// Keyboard buffers key presses until they are consumed.
type Keyboard interface {
	// Keys consumes and returns pending presses whose key is in accept.
	// Presses of other keys stay buffered. A nil accept matches any key.
	Keys(accept []string) []KeyPress
	// Clear discards every pending press.
	Clear()
}

// Clock is the controller's time source.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type wallClock struct{}

func (wallClock) Now() time.Time        { return time.Now() }
func (wallClock) Sleep(d time.Duration) { time.Sleep(d) }

// WallClock returns the real-time clock.
func WallClock() Clock { return wallClock{} }

// Feedback signals an outcome to the subject, keyed by result label.
type Feedback interface {
	Play(result string)
}

// Presenter shows full-screen text such as instructions or a run summary.
type Presenter interface {
	Show(lines []string) error
}

// Persister receives the full run at shutdown.
type Persister interface {
	Persist(ctx context.Context, run *RunData) error
}

// Study supplies the study-specific parts of a run.
type Study interface {
	Name() string
	CreateStimuli(e *Experiment) (map[string]Drawable, error)
	GenerateTrials(e *Experiment) iter.Seq[*TrialRecord]
	RunTrial(e *Experiment, t *TrialRecord) (*TrialRecord, error)
}

// Summarizer lets a study replace the default end-of-run metrics.
type Summarizer interface {
	Summarize(e *Experiment, trials []*TrialRecord) Summary
}
