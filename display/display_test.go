// ABOUTME: Tests for the frame-paced terminal window, its stimuli, and text presentation.
// ABOUTME: Uses a stepping clock so refresh pacing and dropped-frame counting are exact.
package display

import (
	"bytes"
	"math"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/2389-research/visigoth/experiment"
)

type stepClock struct {
	now   time.Time
	slept []time.Duration
}

func (c *stepClock) Now() time.Time { return c.now }
func (c *stepClock) Sleep(d time.Duration) {
	c.slept = append(c.slept, d)
	c.now = c.now.Add(d)
}

func newWindow(t *testing.T, out *bytes.Buffer) (*Window, *stepClock) {
	t.Helper()
	clk := &stepClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	cfg := Config{RefreshHz: 100, Clock: clk, Cols: 21, Rows: 11, HalfWidth: 10, HalfHeight: 5}
	if out != nil {
		cfg.Out = out
	}
	w, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return w, clk
}

func TestNewRejectsBadRefresh(t *testing.T) {
	if _, err := New(Config{RefreshHz: 0}); err == nil {
		t.Error("expected error for zero refresh rate")
	}
}

func TestFlipPacesToRefresh(t *testing.T) {
	w, clk := newWindow(t, nil)
	start := clk.now
	for range 5 {
		if err := w.Flip(); err != nil {
			t.Fatalf("Flip: %v", err)
		}
	}
	if got := clk.now.Sub(start); got != 40*time.Millisecond {
		t.Errorf("elapsed after 5 flips: got %v, want 40ms", got)
	}
	if w.DroppedFrames() != 0 {
		t.Errorf("dropped: got %d, want 0", w.DroppedFrames())
	}
	if w.flips != 5 {
		t.Errorf("flips: got %d, want 5", w.flips)
	}
}

func TestLateFlipCountsDrops(t *testing.T) {
	w, clk := newWindow(t, nil)
	start := clk.now
	w.Flip()
	clk.now = clk.now.Add(35 * time.Millisecond)
	w.Flip()

	if got := w.DroppedFrames(); got != 3 {
		t.Errorf("dropped: got %d, want 3", got)
	}
	if got := clk.now.Sub(start); got != 40*time.Millisecond {
		t.Errorf("flip landed at %v, want 40ms", got)
	}
	w.Flip()
	if got := clk.now.Sub(start); got != 50*time.Millisecond {
		t.Errorf("next flip at %v, want 50ms", got)
	}
}

func TestIdleGapIsNotDropped(t *testing.T) {
	w, clk := newWindow(t, nil)
	w.Flip()
	clk.now = clk.now.Add(2 * time.Second)
	w.Flip()
	if got := w.DroppedFrames(); got != 0 {
		t.Errorf("dropped after idle: got %d, want 0", got)
	}
}

func TestFlipAfterClose(t *testing.T) {
	w, _ := newWindow(t, nil)
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := w.Flip(); err != ErrClosed {
		t.Errorf("Flip after Close: got %v, want ErrClosed", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestCellMapping(t *testing.T) {
	w, _ := newWindow(t, nil)
	cases := []struct {
		p        experiment.Point
		col, row int
		ok       bool
	}{
		{experiment.Point{}, 10, 5, true},
		{experiment.Point{X: -10, Y: 5}, 0, 0, true},
		{experiment.Point{X: 10, Y: -5}, 20, 10, true},
		{experiment.Point{X: 11}, 0, 0, false},
		{experiment.Missing(), 0, 0, false},
	}
	for _, c := range cases {
		col, row, ok := w.Cell(c.p)
		if ok != c.ok || (ok && (col != c.col || row != c.row)) {
			t.Errorf("Cell(%+v): got (%d,%d,%v), want (%d,%d,%v)", c.p, col, row, ok, c.col, c.row, c.ok)
		}
	}
}

func TestDrawnMarksShowOnFlip(t *testing.T) {
	var out bytes.Buffer
	w, _ := newWindow(t, &out)
	fix := NewDot(w, "fix", "+", "", experiment.Point{})
	fix.Draw()
	if len(w.shown) != 0 {
		t.Error("marks should not be shown before Flip")
	}
	w.Flip()

	shown := w.shown
	if len(shown) != 1 || shown[0].Name != "fix" {
		t.Fatalf("shown: got %+v, want one fix mark", shown)
	}
	if !strings.Contains(out.String(), "+") {
		t.Error("rendered frame should contain the fix glyph")
	}
	w.Flip()
	if len(w.shown) != 0 {
		t.Error("an undrawn frame should be empty")
	}
}

func TestDotAccessors(t *testing.T) {
	w, _ := newWindow(t, nil)
	d := NewDot(w, "t1", "o", "white", experiment.Point{X: 1})
	d.SetPos(experiment.Point{X: 2, Y: 3})
	d.SetColor("red")
	if p := d.Pos(); p.X != 2 || p.Y != 3 {
		t.Errorf("Pos: got %+v", p)
	}
	if d.Color() != "red" {
		t.Errorf("Color: got %q, want red", d.Color())
	}
}

func TestDotFieldCoherentMotion(t *testing.T) {
	w, _ := newWindow(t, nil)
	f := NewDotField(w, "dots", experiment.Point{}, 5, 0.1, 20, 3)
	f.SetMotion(1, 0)
	before := slices.Clone(f.dots)
	f.Update()
	after := slices.Clone(f.dots)

	for i := range before {
		if math.Hypot(before[i].X+0.1, before[i].Y) >= 5 {
			continue
		}
		if math.Abs(after[i].X-before[i].X-0.1) > 1e-9 || math.Abs(after[i].Y-before[i].Y) > 1e-9 {
			t.Errorf("dot %d: moved from %+v to %+v, want +0.1 in x", i, before[i], after[i])
		}
	}
	for i, d := range after {
		if math.Hypot(d.X, d.Y) >= 5 {
			t.Errorf("dot %d left the aperture: %+v", i, d)
		}
	}

	f.Draw()
	w.Flip()
	if got := len(w.shown); got != 20 {
		t.Errorf("shown marks: got %d, want 20", got)
	}
}

func TestTextScreenShow(t *testing.T) {
	var out bytes.Buffer
	if err := (TextScreen{Out: &out}).Show([]string{"Accuracy: 80%", "Press space"}); err != nil {
		t.Fatalf("Show: %v", err)
	}
	for _, want := range []string{"Accuracy: 80%", "Press space"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q", want)
		}
	}
	if err := (TextScreen{}).Show([]string{"x"}); err != nil {
		t.Errorf("headless Show: %v", err)
	}
}

func TestFeedbackBell(t *testing.T) {
	var out bytes.Buffer
	f := &Feedback{Out: &out}
	f.Play(experiment.ResultCorrect)
	f.Play(experiment.ResultWrong)
	if got := strings.Count(out.String(), "\a"); got != 1 {
		t.Errorf("bells: got %d, want 1", got)
	}
	if got := f.played; len(got) != 2 || got[1] != experiment.ResultWrong {
		t.Errorf("Played: got %v", got)
	}
}
