// ABOUTME: Per-run data files: CSV trial table, JSONL trial log, and merged params JSON under a subject/study tree.
// ABOUTME: Files implements the controller's Persister; Index wraps the SQLite index as one too.
package store

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"slices"

	"github.com/2389-research/visigoth/experiment"
)

// Files writes each run's data under Root/<subject>/<study>/.
type Files struct {
	Root string
}

// Stem is the path prefix shared by a run's data files.
func (f Files) Stem(run *experiment.RunData) string {
	var p experiment.Params
	if run.Params != nil {
		p = *run.Params
	}
	subject := p.Subject
	if subject == "" {
		subject = "unknown"
	}
	name := fmt.Sprintf("%s_%s_%s_%02d", run.StartedAt.Format("20060102-150405"), subject, p.Session, p.Run)
	return filepath.Join(f.Root, subject, run.Study, name)
}

// Persist writes <stem>_trials.csv, <stem>_trials.jsonl and <stem>_params.json.
// Persisting a run again completes its trial log without repeating trials.
func (f Files) Persist(ctx context.Context, run *experiment.RunData) error {
	stem := f.Stem(run)
	if err := os.MkdirAll(filepath.Dir(stem), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	if err := writeFile(stem+"_trials.csv", func(w io.Writer) error { return WriteTrialTable(w, run.Trials) }); err != nil {
		return err
	}

	if err := appendTrialLog(ctx, stem+"_trials.jsonl", run.Trials); err != nil {
		return err
	}

	if run.Params != nil {
		data, err := run.Params.JSON()
		if err != nil {
			return fmt.Errorf("encode params: %w", err)
		}
		if err := os.WriteFile(stem+"_params.json", data, 0o644); err != nil {
			return fmt.Errorf("write params: %w", err)
		}
	}
	log.Printf("component=store action=persisted run=%s trials=%d stem=%s", run.ID, len(run.Trials), stem)
	return nil
}

// appendTrialLog brings the log at path up to date with trials. Trials a
// previous attempt already logged are not written again.
func appendTrialLog(ctx context.Context, path string, trials []*experiment.TrialRecord) error {
	logged, err := RepairJsonl(path)
	if err != nil {
		return fmt.Errorf("repair trial log: %w", err)
	}
	have := make(map[int]bool, len(logged))
	for _, t := range logged {
		have[t.Trial] = true
	}

	jl, err := OpenJsonl(path)
	if err != nil {
		return err
	}
	appended := 0
	for _, t := range trials {
		if have[t.Trial] {
			continue
		}
		if err := ctx.Err(); err != nil {
			_ = jl.Close()
			return err
		}
		if err := jl.Append(t); err != nil {
			_ = jl.Close()
			return err
		}
		appended++
	}
	if err := jl.Close(); err != nil {
		return fmt.Errorf("close trial log: %w", err)
	}
	if len(logged) > 0 {
		log.Printf("component=store action=resumed_trial_log path=%s already=%d appended=%d", path, len(logged), appended)
	}
	return nil
}

func writeFile(path string, write func(io.Writer) error) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	if err := write(file); err != nil {
		_ = file.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return file.Close()
}

// TableColumns is the union of the trials' columns: core columns first,
// then every condition key in sorted order.
func TableColumns(trials []*experiment.TrialRecord) []string {
	seen := map[string]bool{}
	var extra []string
	for _, t := range trials {
		for _, k := range t.ConditionKeys() {
			if !seen[k] && !slices.Contains(experiment.CoreColumns, k) {
				seen[k] = true
				extra = append(extra, k)
			}
		}
	}
	slices.Sort(extra)
	return append(slices.Clone(experiment.CoreColumns), extra...)
}

// WriteTrialTable writes one CSV row per trial under a header of TableColumns.
func WriteTrialTable(w io.Writer, trials []*experiment.TrialRecord) error {
	cols := TableColumns(trials)
	cw := csv.NewWriter(w)
	if err := cw.Write(cols); err != nil {
		return err
	}
	for _, t := range trials {
		if err := cw.Write(t.Row(cols)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

var (
	_ experiment.Persister = Files{}
	_ experiment.Persister = (*SqliteIndex)(nil)
)
