// ABOUTME: Tests for CLI flag parsing, parameter overrides, and params loading in the visigoth binary.
// ABOUTME: Uses temp params files and discards usage output.
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/2389-research/visigoth/experiment"
	"github.com/2389-research/visigoth/tracker"
)

func TestParseFlagsDefaults(t *testing.T) {
	cfg, err := parseFlags(nil, io.Discard)
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if cfg.study != "dotmotion" {
		t.Errorf("study: got %q, want dotmotion", cfg.study)
	}
	if cfg.refreshError != nil {
		t.Errorf("refreshError: got %v, want nil", *cfg.refreshError)
	}
	if cfg.paramsFile != "" || cfg.demo || cfg.nosave {
		t.Errorf("unexpected non-default config: %+v", cfg)
	}
}

func TestParseFlagsCollectsOverrides(t *testing.T) {
	args := []string{"-s", "s01", "-r", "3", "-p", "n_trials=5", "-p", "coherence=[0.1, 0.2]", "-refresh-error", "1.5", "-demo", "params.yaml"}
	cfg, err := parseFlags(args, io.Discard)
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if cfg.paramsFile != "params.yaml" {
		t.Errorf("paramsFile: got %q", cfg.paramsFile)
	}
	if len(cfg.sets) != 2 {
		t.Errorf("sets: got %v, want 2 entries", cfg.sets)
	}
	if cfg.refreshError == nil || *cfg.refreshError != 1.5 {
		t.Errorf("refreshError: got %v", cfg.refreshError)
	}

	got, err := cfg.overrides()
	if err != nil {
		t.Fatalf("overrides: %v", err)
	}
	want := map[string]any{
		"subject":       "s01",
		"run":           3,
		"n_trials":      5,
		"coherence":     []any{0.1, 0.2},
		"refresh_error": 1.5,
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("overrides: got %v, want %v", got, want)
	}
}

func TestParseFlagsRejectsBadInput(t *testing.T) {
	cases := [][]string{
		{"-p", "novalue"},
		{"-refresh-error", "fast"},
		{"a.yaml", "b.yaml"},
	}
	for _, args := range cases {
		if _, err := parseFlags(args, io.Discard); err == nil {
			t.Errorf("parseFlags(%v): expected error", args)
		}
	}
}

func TestParseFlagsHelp(t *testing.T) {
	var out strings.Builder
	_, err := parseFlags([]string{"-help"}, &out)
	if !errors.Is(err, flag.ErrHelp) {
		t.Fatalf("got %v, want flag.ErrHelp", err)
	}
	if !strings.Contains(out.String(), "dotmotion") {
		t.Errorf("help should list studies, got:\n%s", out.String())
	}
}

func TestParseOverrideTypes(t *testing.T) {
	cases := []struct {
		in   string
		key  string
		want any
	}{
		{"n_trials=10", "n_trials", 10},
		{"eye_response=false", "eye_response", false},
		{"subject=s02", "subject", "s02"},
		{"iti=[truncexpon, 4, 1, 0.5]", "iti", []any{"truncexpon", 4, 1, 0.5}},
		{"session=", "session", ""},
	}
	for _, c := range cases {
		key, v, err := parseOverride(c.in)
		if err != nil {
			t.Errorf("parseOverride(%q): %v", c.in, err)
			continue
		}
		if key != c.key || !reflect.DeepEqual(v, c.want) {
			t.Errorf("parseOverride(%q): got %q=%#v, want %q=%#v", c.in, key, v, c.key, c.want)
		}
	}
}

func TestDedicatedFlagsWinOverP(t *testing.T) {
	cfg, err := parseFlags([]string{"-p", "subject=x", "-s", "y"}, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	o, err := cfg.overrides()
	if err != nil {
		t.Fatal(err)
	}
	if o["subject"] != "y" {
		t.Errorf("subject: got %v, want y", o["subject"])
	}
}

func TestLoadParamsMergesFileSetAndFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "params.yaml")
	doc := `
base:
  n_trials: 50
  wait_fix: 3
sets:
  training:
    n_trials: 10
    coherence: [0.5]
  testing:
    n_trials: 200
displays:
  lab:
    refresh_hz: 120
    width_cm: 50
    distance_cm: 57
    resolution: [1920, 1080]
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := parseFlags([]string{"-set", "tr", "-display-name", "lab", "-s", "s09", path}, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	entry, err := lookupStudy(cfg.study)
	if err != nil {
		t.Fatal(err)
	}
	p, err := loadParams(cfg, entry)
	if err != nil {
		t.Fatalf("loadParams: %v", err)
	}
	if p.NTrials != 10 {
		t.Errorf("n_trials: got %d, want 10 from the training set", p.NTrials)
	}
	if p.ParamSet != "training" {
		t.Errorf("param_set: got %q, want training", p.ParamSet)
	}
	if p.Display.RefreshHz != 120 {
		t.Errorf("refresh: got %v, want 120", p.Display.RefreshHz)
	}
	if p.Subject != "s09" {
		t.Errorf("subject: got %q", p.Subject)
	}
	if !reflect.DeepEqual(p.AbortKeys, []string{"escape", "ctrl+c"}) {
		t.Errorf("abort keys: got %v", p.AbortKeys)
	}
}

func TestLookupStudyUnknown(t *testing.T) {
	_, err := lookupStudy("stroop")
	if err == nil || !strings.Contains(err.Error(), "dotmotion") {
		t.Errorf("got %v, want error listing available studies", err)
	}
}

func TestBuildPersisters(t *testing.T) {
	ps, idx, closeFn := buildPersisters(config{nosave: true}, t.TempDir())
	closeFn()
	if len(ps) != 0 || idx != nil {
		t.Errorf("nosave: got %d persisters and index %v, want none", len(ps), idx)
	}

	dir := t.TempDir()
	ps, idx, closeFn = buildPersisters(config{}, dir)
	defer closeFn()
	if len(ps) != 3 {
		t.Errorf("got %d persisters, want files, report, and index", len(ps))
	}
	if idx == nil {
		t.Error("index should be returned for the status server")
	}
	if _, err := os.Stat(filepath.Join(dir, "index.db")); err != nil {
		t.Errorf("index not created: %v", err)
	}
}

func TestReportAccuracy(t *testing.T) {
	_, idx, closeFn := buildPersisters(config{}, t.TempDir())
	defer closeFn()

	var out bytes.Buffer
	reportAccuracy(context.Background(), &out, idx, "dotmotion", "s01")
	if out.Len() != 0 {
		t.Errorf("no scored trials: got %q, want nothing", out.String())
	}

	p, err := experiment.BuildParams(nil, experiment.LoadOptions{Overrides: map[string]any{"subject": "s01"}})
	if err != nil {
		t.Fatalf("BuildParams: %v", err)
	}
	run := &experiment.RunData{
		ID:     "01J0000000000000000000ACC1",
		Study:  "dotmotion",
		Params: p,
		Trials: []*experiment.TrialRecord{
			{Subject: "s01", Trial: 1, Correct: experiment.Some(true)},
			{Subject: "s01", Trial: 2, Correct: experiment.Some(false)},
			{Subject: "s01", Trial: 3, Correct: experiment.Some(true)},
			{Subject: "s01", Trial: 4, Correct: experiment.Some(true)},
		},
		StartedAt: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
	}
	if err := idx.Persist(context.Background(), run); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	reportAccuracy(context.Background(), &out, idx, "dotmotion", "s01")
	if want := "dotmotion accuracy for s01 across runs: 75.0% (4 scored trials)"; !strings.Contains(out.String(), want) {
		t.Errorf("got %q, want %q", out.String(), want)
	}
	out.Reset()
	reportAccuracy(context.Background(), &out, nil, "dotmotion", "s01")
	if out.Len() != 0 {
		t.Errorf("nil index: got %q", out.String())
	}
}

func TestDemoSource(t *testing.T) {
	base := tracker.Fixed(experiment.Point{X: 1})
	if got := demoSource(config{}, base, 1).Gaze(time.Time{}); got != (experiment.Point{X: 1}) {
		t.Errorf("no noise: got %+v, want {1 0}", got)
	}
	if demoSource(config{blinkRate: 1}, base, 1).Gaze(time.Time{}).Finite() {
		t.Error("blink rate 1 should always report missing")
	}
	jittered := demoSource(config{gazeNoise: 0.5}, base, 1).Gaze(time.Time{})
	if !jittered.Finite() || jittered == (experiment.Point{X: 1}) {
		t.Errorf("jitter: got %+v, want a finite point off {1 0}", jittered)
	}
}
