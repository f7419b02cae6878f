// ABOUTME: Tests for the end-of-run markdown and HTML reports.
// ABOUTME: Checks run metadata, performance lines, result counts, and the written files.
package report

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/2389-research/visigoth/experiment"
	"github.com/2389-research/visigoth/store"
)

func makeRun(t *testing.T) *experiment.RunData {
	t.Helper()
	p, err := experiment.BuildParams(nil, experiment.LoadOptions{
		Overrides: map[string]any{"subject": "s02", "study": "dots"},
	})
	if err != nil {
		t.Fatalf("BuildParams: %v", err)
	}
	start := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	return &experiment.RunData{
		ID:     "01J00000000000000000REPORT",
		Study:  "dots",
		Params: p,
		Trials: []*experiment.TrialRecord{
			{Trial: 1, Responded: true, Correct: experiment.Some(true), RT: experiment.Some(0.5), Result: experiment.Some("correct")},
			{Trial: 2, Responded: true, Correct: experiment.Some(false), RT: experiment.Some(0.7), Result: experiment.Some("wrong")},
			{Trial: 3, Result: experiment.Some("nochoice")},
		},
		State:     experiment.StateTerminated,
		StartedAt: start,
		EndedAt:   start.Add(90 * time.Second),
	}
}

func TestMarkdownContents(t *testing.T) {
	md := Markdown(makeRun(t))
	for _, want := range []string{
		"# dots run 1",
		"| Subject | s02 |",
		"| Duration | 1m30s |",
		"Trials: 3 (responded 2)",
		"| nochoice | 1 |",
		"| wrong | 1 |",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q\n%s", want, md)
		}
	}
}

func TestMarkdownShowsError(t *testing.T) {
	run := makeRun(t)
	run.Err = "tracker lost | reconnect"
	if md := Markdown(run); !strings.Contains(md, `| Error | tracker lost \| reconnect |`) {
		t.Errorf("error row not escaped:\n%s", md)
	}
}

func TestHTMLRendersTables(t *testing.T) {
	html, err := HTML(makeRun(t))
	if err != nil {
		t.Fatalf("HTML: %v", err)
	}
	s := string(html)
	for _, want := range []string{"<!DOCTYPE html>", "<table>", "<h1>dots run 1</h1>", "<li>Trials: 3 (responded 2)</li>"} {
		if !strings.Contains(s, want) {
			t.Errorf("html missing %q", want)
		}
	}
}

func TestReportPersist(t *testing.T) {
	run := makeRun(t)
	root := t.TempDir()
	if err := (Report{Root: root}).Persist(context.Background(), run); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	stem := store.Files{Root: root}.Stem(run)
	for _, suffix := range []string{"_report.md", "_report.html"} {
		if _, err := os.Stat(stem + suffix); err != nil {
			t.Errorf("missing %s: %v", suffix, err)
		}
	}
}
