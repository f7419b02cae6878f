// ABOUTME: Deterministic fakes for the experiment collaborators used across this package's tests.
// ABOUTME: The fake display advances the fake clock by one frame per Flip.
package experiment

import (
	"context"
	"iter"
	"slices"
	"sync"
	"time"
)

var epoch = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: epoch} }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Sleep(d time.Duration)   { c.now = c.now.Add(d) }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }
func (c *fakeClock) Set(d time.Duration)     { c.now = epoch.Add(d) }

type fakeDisplay struct {
	clock   *fakeClock
	hz      float64
	dropped int
	flips   int
	closed  bool
}

func (d *fakeDisplay) Flip() error {
	d.flips++
	if d.clock != nil {
		d.clock.Advance(time.Duration(float64(time.Second) / d.hz))
	}
	return nil
}
func (d *fakeDisplay) RefreshRate() float64 { return d.hz }
func (d *fakeDisplay) DroppedFrames() int   { return d.dropped }
func (d *fakeDisplay) Close() error         { d.closed = true; return nil }

// fakeTracker reports gaze from a function of elapsed fake time.
type fakeTracker struct {
	mu        sync.Mutex
	clock     *fakeClock
	gazeAt    func(elapsed time.Duration) Point
	offsets   Point
	fixWindow float64
	last      Point
	started   bool
	shutdowns int
}

func (t *fakeTracker) ReadGaze(log, applyOffsets bool) Point {
	t.mu.Lock()
	defer t.mu.Unlock()
	g := Point{}
	if t.gazeAt != nil {
		var elapsed time.Duration
		if t.clock != nil {
			elapsed = t.clock.Now().Sub(epoch)
		}
		g = t.gazeAt(elapsed)
	}
	t.last = g
	if applyOffsets {
		g = g.Add(t.offsets)
	}
	return g
}

func (t *fakeTracker) CheckFixation(pos Point, radius float64, newSample bool) bool {
	g := t.last
	if newSample {
		g = t.ReadGaze(true, true)
	}
	if radius <= 0 {
		radius = t.FixWindow()
	}
	return CheckGaze(g, pos, radius)
}

func (t *fakeTracker) CheckEyeOpen(newSample bool) bool {
	if newSample {
		return t.ReadGaze(true, false).Finite()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last.Finite()
}

func (t *fakeTracker) Offsets() Point {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.offsets
}
func (t *fakeTracker) SetOffsets(p Point) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.offsets = p
}
func (t *fakeTracker) FixWindow() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fixWindow
}
func (t *fakeTracker) SetFixWindow(r float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fixWindow = r
}
func (t *fakeTracker) RunCalibration(context.Context) error { return nil }
func (t *fakeTracker) StartRun() error                      { t.started = true; return nil }
func (t *fakeTracker) Shutdown() error                      { t.shutdowns++; return nil }

type fakeKeyboard struct {
	presses []KeyPress
}

func (k *fakeKeyboard) Press(key string, at time.Time) {
	k.presses = append(k.presses, KeyPress{Key: key, At: at})
}

func (k *fakeKeyboard) Keys(accept []string) []KeyPress {
	var got, keep []KeyPress
	for _, p := range k.presses {
		if accept == nil || slices.Contains(accept, p.Key) {
			got = append(got, p)
		} else {
			keep = append(keep, p)
		}
	}
	k.presses = keep
	return got
}

func (k *fakeKeyboard) Clear() { k.presses = nil }

type point struct{ pos Point }

func (p *point) Draw()          {}
func (p *point) Pos() Point     { return p.pos }
func (p *point) SetPos(q Point) { p.pos = q }

// fakeStudy runs n trials; trial bodies come from body.
type fakeStudy struct {
	n      int
	body   func(e *Experiment, t *TrialRecord) (*TrialRecord, error)
	ran    []int
	stimOK bool
}

func (s *fakeStudy) Name() string { return "fake" }

func (s *fakeStudy) CreateStimuli(*Experiment) (map[string]Drawable, error) {
	s.stimOK = true
	return map[string]Drawable{"fix": &point{}}, nil
}

func (s *fakeStudy) GenerateTrials(e *Experiment) iter.Seq[*TrialRecord] {
	return func(yield func(*TrialRecord) bool) {
		for i := range e.TrialCount(s.n) {
			t := e.NewTrialRecord(i)
			t.Set("coherence", 0.1*float64(i))
			if !yield(t) {
				return
			}
		}
	}
}

func (s *fakeStudy) RunTrial(e *Experiment, t *TrialRecord) (*TrialRecord, error) {
	s.ran = append(s.ran, t.Trial)
	if s.body != nil {
		return s.body(e, t)
	}
	return t, nil
}

type capturePersister struct {
	runs []*RunData
}

func (p *capturePersister) Persist(_ context.Context, run *RunData) error {
	p.runs = append(p.runs, run)
	return nil
}
