// ABOUTME: Simulated eyetracker implementing the controller's Tracker interface over a swappable gaze Source.
// ABOUTME: Keeps a low-resolution sample log with offsets and writes it as CSV at shutdown.
package tracker

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/2389-research/visigoth/experiment"
)

// Sample is one logged gaze reading.
type Sample struct {
	At      time.Time
	Pos     experiment.Point
	Offsets experiment.Point
}

// Config configures a Tracker.
type Config struct {
	Clock     experiment.Clock
	Source    Source
	Offsets   experiment.Point
	FixWindow float64
	// LogPath receives the sample log as CSV at Shutdown. Empty disables it.
	LogPath string
	// CalibrationTime is how long RunCalibration blocks.
	CalibrationTime time.Duration
}

// Tracker is a simulated eyetracker. It is safe for concurrent use.
type Tracker struct {
	clock   experiment.Clock
	logPath string
	calib   time.Duration

	mu        sync.Mutex
	source    Source
	offsets   experiment.Point
	fixWindow float64
	samples   []Sample
	runStart  time.Time
	recording bool
	closed    bool
}

// New creates a tracker. A nil Source reports gaze at the origin.
func New(cfg Config) *Tracker {
	if cfg.Clock == nil {
		cfg.Clock = experiment.WallClock()
	}
	if cfg.Source == nil {
		cfg.Source = Fixed(experiment.Point{})
	}
	return &Tracker{
		clock:     cfg.Clock,
		logPath:   cfg.LogPath,
		calib:     cfg.CalibrationTime,
		source:    cfg.Source,
		offsets:   cfg.Offsets,
		fixWindow: cfg.FixWindow,
	}
}

// ReadGaze samples the source, logging the raw sample when asked.
func (t *Tracker) ReadGaze(logSample, applyOffsets bool) experiment.Point {
	now := t.clock.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	gaze := t.source.Gaze(now)
	if logSample {
		t.samples = append(t.samples, Sample{At: now, Pos: gaze, Offsets: t.offsets})
	}
	if applyOffsets {
		gaze = gaze.Add(t.offsets)
	}
	return gaze
}

// CheckFixation reports whether gaze is strictly within radius of pos. A
// radius <= 0 uses the fixation window. Without a new sample, the last
// logged sample is used.
func (t *Tracker) CheckFixation(pos experiment.Point, radius float64, newSample bool) bool {
	var gaze experiment.Point
	if newSample {
		gaze = t.ReadGaze(true, true)
	} else {
		s, ok := t.last()
		if !ok {
			return false
		}
		gaze = s.Pos.Add(s.Offsets)
	}
	if radius <= 0 {
		radius = t.FixWindow()
	}
	return experiment.CheckGaze(gaze, pos, radius)
}

// CheckEyeOpen reports whether a valid sample is available.
func (t *Tracker) CheckEyeOpen(newSample bool) bool {
	if newSample {
		return t.ReadGaze(true, false).Finite()
	}
	s, ok := t.last()
	return ok && s.Pos.Finite()
}

func (t *Tracker) last() (Sample, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.samples) == 0 {
		return Sample{}, false
	}
	return t.samples[len(t.samples)-1], true
}

// LastValidSample returns the most recent logged sample with a finite position.
func (t *Tracker) LastValidSample(applyOffsets bool) (time.Time, experiment.Point, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.samples) - 1; i >= 0; i-- {
		s := t.samples[i]
		if !s.Pos.Finite() {
			continue
		}
		if applyOffsets {
			return s.At, s.Pos.Add(s.Offsets), true
		}
		return s.At, s.Pos, true
	}
	return time.Time{}, experiment.Point{}, false
}

// Samples returns a copy of the sample log.
func (t *Tracker) Samples() []Sample {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Sample(nil), t.samples...)
}

func (t *Tracker) Offsets() experiment.Point {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.offsets
}

func (t *Tracker) SetOffsets(p experiment.Point) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.offsets = p
}

func (t *Tracker) FixWindow() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fixWindow
}

func (t *Tracker) SetFixWindow(r float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fixWindow = r
}

// RunCalibration simulates the calibration routine.
func (t *Tracker) RunCalibration(ctx context.Context) error {
	log.Printf("component=tracker action=calibrate duration=%s", t.calib)
	if t.calib <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(t.calib):
		return nil
	}
}

// StartRun begins recording and marks the sync time for the sample log.
func (t *Tracker) StartRun() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errors.New("tracker: already shut down")
	}
	t.runStart = t.clock.Now()
	t.recording = true
	log.Printf("component=tracker action=start_run msg=SYNCTIME")
	return nil
}

// Shutdown stops recording and writes the sample log. Calling it again is a no-op.
func (t *Tracker) Shutdown() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.recording = false
	t.mu.Unlock()

	if t.logPath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(t.logPath), 0o755); err != nil {
		return fmt.Errorf("create eye log dir: %w", err)
	}
	f, err := os.Create(t.logPath)
	if err != nil {
		return fmt.Errorf("create eye log: %w", err)
	}
	if err := t.WriteLog(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close eye log: %w", err)
	}
	log.Printf("component=tracker action=log_written path=%s samples=%d", t.logPath, len(t.Samples()))
	return nil
}

// WriteLog writes the sample log as CSV with times relative to StartRun.
func (t *Tracker) WriteLog(w io.Writer) error {
	t.mu.Lock()
	samples := append([]Sample(nil), t.samples...)
	start := t.runStart
	t.mu.Unlock()

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"time", "x", "y", "x_offset", "y_offset"}); err != nil {
		return err
	}
	for _, s := range samples {
		var ts float64
		if !start.IsZero() {
			ts = s.At.Sub(start).Seconds()
		}
		rec := []string{fmtFloat(ts), fmtFloat(s.Pos.X), fmtFloat(s.Pos.Y), fmtFloat(s.Offsets.X), fmtFloat(s.Offsets.Y)}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func fmtFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

var (
	_ experiment.Tracker       = (*Tracker)(nil)
	_ experiment.SampleHistory = (*Tracker)(nil)
)
