// ABOUTME: Tests for duration-to-frame conversion, span validation, and drop-compensating frame ranges.
// ABOUTME: Uses a scripted drop counter to simulate displays that miss refreshes mid-epoch.
package frameclock

import (
	"errors"
	"reflect"
	"testing"
)

// scriptedCounter returns the next value from drops on every call, then repeats the last one.
type scriptedCounter struct {
	drops []int
	calls int
}

func (c *scriptedCounter) DroppedFrames() int {
	if len(c.drops) == 0 {
		return 0
	}
	i := c.calls
	if i >= len(c.drops) {
		i = len(c.drops) - 1
	}
	c.calls++
	return c.drops[i]
}

func TestFramesForRounding(t *testing.T) {
	tests := []struct {
		name    string
		seconds float64
		hz      float64
		round   Rounding
		want    int
	}{
		{"zero", 0, 60, nil, 0},
		{"exact", 1, 60, nil, 60},
		{"floor default", 0.51, 60, nil, 30},
		{"ceil", 0.51, 60, Ceil, 31},
		{"round", 0.508, 60, Round, 30},
		{"fractional hz", 2, 59.94, nil, 119},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FramesFor(tt.seconds, tt.hz, tt.round)
			if got != tt.want {
				t.Errorf("FramesFor(%v, %v) = %d, want %d", tt.seconds, tt.hz, got, tt.want)
			}
			if got < 0 {
				t.Errorf("FramesFor returned negative count %d", got)
			}
		})
	}
}

func TestSpanRejectsBothAndNeither(t *testing.T) {
	s, n := 1.0, 60
	if _, err := (Span{Seconds: &s, Frames: &n}).Resolve(60); !errors.Is(err, ErrUsage) {
		t.Errorf("both set: err = %v, want ErrUsage", err)
	}
	if _, err := (Span{}).Resolve(60); !errors.Is(err, ErrUsage) {
		t.Errorf("neither set: err = %v, want ErrUsage", err)
	}
}

func TestSpanResolve(t *testing.T) {
	got, err := Seconds(0.5).Resolve(120)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 60 {
		t.Errorf("Seconds(0.5) at 120Hz = %d, want 60", got)
	}

	got, err = Frames(7).Resolve(0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 7 {
		t.Errorf("Frames(7) = %d, want 7", got)
	}

	if _, err := Seconds(1).Resolve(0); err == nil {
		t.Error("expected error for zero refresh rate")
	}
	if _, err := Seconds(-1).Resolve(60); err == nil {
		t.Error("expected error for negative duration")
	}
}

func TestRangeWithoutDrops(t *testing.T) {
	r := NewRange(&scriptedCounter{}, 5, true)
	var frames []int
	for f, skipped := range r.All() {
		if len(skipped) != 0 {
			t.Errorf("frame %d reported skipped %v with no drops", f, skipped)
		}
		frames = append(frames, f)
	}
	want := []int{0, 1, 2, 3, 4}
	if !reflect.DeepEqual(frames, want) {
		t.Errorf("frames = %v, want %v", frames, want)
	}
}

func TestRangeSkipsDroppedFrame(t *testing.T) {
	// Counter is read once at construction and once per step after the first.
	// A drop appears while frame 2 is on screen.
	counter := &scriptedCounter{drops: []int{10, 10, 10, 11, 11, 11}}
	r := NewRange(counter, 6, true)

	var frames []int
	var skippedAt = map[int][]int{}
	for f, skipped := range r.All() {
		frames = append(frames, f)
		if len(skipped) > 0 {
			skippedAt[f] = skipped
		}
	}

	want := []int{0, 1, 2, 4, 5}
	if !reflect.DeepEqual(frames, want) {
		t.Errorf("frames = %v, want %v", frames, want)
	}
	if got := skippedAt[4]; !reflect.DeepEqual(got, []int{3}) {
		t.Errorf("skipped at frame 4 = %v, want [3]", got)
	}
	if r.DroppedCount() != 1 {
		t.Errorf("DroppedCount = %d, want 1", r.DroppedCount())
	}
}

func TestRangeWithoutCompensation(t *testing.T) {
	counter := &scriptedCounter{drops: []int{0, 3, 6, 9}}
	r := NewRange(counter, 4, false)
	var frames []int
	for f := range r.All() {
		frames = append(frames, f)
	}
	if !reflect.DeepEqual(frames, []int{0, 1, 2, 3}) {
		t.Errorf("frames = %v, want [0 1 2 3]", frames)
	}
}

func TestRangeIsNotRestartable(t *testing.T) {
	r := NewRange(nil, 3, true)
	count := 0
	for range r.All() {
		count++
	}
	for range r.All() {
		count++
	}
	if count != 3 {
		t.Errorf("iterated %d frames across two passes, want 3", count)
	}
}

func TestMissed(t *testing.T) {
	if !Missed([]int{11, 12}, 12) {
		t.Error("expected Missed to detect frame 12 for period 12")
	}
	if Missed([]int{13, 14}, 12) {
		t.Error("expected no miss for frames 13, 14")
	}
	if Missed([]int{0}, 0) {
		t.Error("period 0 should never report a miss")
	}
}
