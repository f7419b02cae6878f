// ABOUTME: Tests for parameter file loading, set selection, merge priority, and display profiles.
package experiment

import (
	"errors"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"
)

const paramYAML = `
base:
  n_trials: 20
  fix_window: 1.5
  target_pos: [[5, 0], [-5, 0]]
  coherence: [0.1, 0.2]
  iti: [expon, 1.0, 0.5]
sets:
  fast:
    n_trials: 10
  faster:
    n_trials: 5
  slow:
    n_trials: 40
    display_name: lab
displays:
  lab:
    refresh_hz: 120
    width_cm: 50
    distance_cm: 60
    resolution: [1920, 1080]
`

func writeParams(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "params.yaml")
	if err := os.WriteFile(path, []byte(paramYAML), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoadParamsMergeOrder(t *testing.T) {
	path := writeParams(t)
	p, err := LoadParams(path, LoadOptions{
		Defaults:  map[string]any{"n_trials": 1, "wait_pre_run": 2.0},
		Set:       "fast",
		Overrides: map[string]any{"subject": "s07"},
	})
	if err != nil {
		t.Fatalf("LoadParams: %v", err)
	}
	if p.NTrials != 10 {
		t.Errorf("n_trials: got %d, want 10 from set", p.NTrials)
	}
	if p.FixWindow != 1.5 {
		t.Errorf("fix_window: got %v, want 1.5 from base", p.FixWindow)
	}
	if p.WaitPreRun != 2 {
		t.Errorf("wait_pre_run: got %v, want 2 from study defaults", p.WaitPreRun)
	}
	if p.Subject != "s07" || p.ParamSet != "fast" {
		t.Errorf("subject/param_set: got %q/%q", p.Subject, p.ParamSet)
	}
	if len(p.TargetPos) != 2 || p.TargetPos[1] != (Point{X: -5, Y: 0}) {
		t.Errorf("target_pos: got %v", p.TargetPos)
	}
	if len(p.AbortKeys) != 1 || p.AbortKeys[0] != "escape" {
		t.Errorf("abort_keys default: got %v", p.AbortKeys)
	}
}

func TestSelectSetPrefix(t *testing.T) {
	path := writeParams(t)
	cases := []struct {
		set     string
		want    string
		wantErr error
	}{
		{"fast", "fast", nil},
		{"sl", "slow", nil},
		{"fa", "", ErrAmbiguousParamSet},
		{"zzz", "", ErrUnknownParamSet},
	}
	for _, tc := range cases {
		p, err := LoadParams(path, LoadOptions{Set: tc.set})
		if tc.wantErr != nil {
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("%q: got %v, want %v", tc.set, err, tc.wantErr)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: %v", tc.set, err)
			continue
		}
		if p.ParamSet != tc.want {
			t.Errorf("%q: selected %q, want %q", tc.set, p.ParamSet, tc.want)
		}
	}
}

func TestDisplayProfileResolved(t *testing.T) {
	p, err := LoadParams(writeParams(t), LoadOptions{Set: "slow"})
	if err != nil {
		t.Fatalf("LoadParams: %v", err)
	}
	if p.Display.RefreshHz != 120 || p.Display.Resolution != [2]int{1920, 1080} {
		t.Errorf("display: got %+v", p.Display)
	}
}

func TestMissingDisplayProfile(t *testing.T) {
	_, err := LoadParams(writeParams(t), LoadOptions{Overrides: map[string]any{"display_name": "nope"}})
	if !errors.Is(err, ErrMissingDisplay) {
		t.Errorf("got %v, want ErrMissingDisplay", err)
	}
}

func TestMissingParamFile(t *testing.T) {
	if _, err := LoadParams(filepath.Join(t.TempDir(), "absent.yaml"), LoadOptions{}); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestDecodeStudyParams(t *testing.T) {
	p, err := LoadParams(writeParams(t), LoadOptions{})
	if err != nil {
		t.Fatalf("LoadParams: %v", err)
	}
	var sp struct {
		Coherence Values `yaml:"coherence"`
		ITI       Values `yaml:"iti"`
	}
	if err := p.Decode(&sp); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(sp.Coherence.Choices) != 2 || sp.ITI.Dist != "expon" || len(sp.ITI.Args) != 2 {
		t.Errorf("decoded: %+v", sp)
	}
	rng := rand.New(rand.NewPCG(1, 2))
	v, err := sp.ITI.SampleWithin(rng, 1, 3)
	if err != nil || v < 1 || v > 3 {
		t.Errorf("iti sample: %v %v", v, err)
	}
}

func TestParamsSetGazeUpdatesJSON(t *testing.T) {
	p, err := BuildParams(nil, LoadOptions{})
	if err != nil {
		t.Fatalf("BuildParams: %v", err)
	}
	p.SetGaze(Point{X: 0.5, Y: -0.5}, 3)
	if p.FixWindow != 3 || p.raw["x_offset"] != 0.5 {
		t.Errorf("SetGaze: fix=%v raw=%v", p.FixWindow, p.raw["x_offset"])
	}
	if _, err := p.JSON(); err != nil {
		t.Errorf("JSON: %v", err)
	}
}
