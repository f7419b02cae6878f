// ABOUTME: SQLite-backed index of runs and trials for querying across sessions without reading every data file.
// ABOUTME: Provides run and trial upserts plus list queries; rebuildable from the JSONL trial logs.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/2389-research/visigoth/experiment"
	_ "github.com/mattn/go-sqlite3"
)

// RunRow is a row from the runs table.
type RunRow struct {
	RunID     string `json:"run_id"`
	Study     string `json:"study"`
	Subject   string `json:"subject"`
	Session   string `json:"session"`
	Run       int    `json:"run"`
	ParamSet  string `json:"param_set"`
	State     string `json:"state"`
	Aborted   bool   `json:"aborted"`
	Err       string `json:"err,omitempty"`
	NTrials   int    `json:"n_trials"`
	StartedAt string `json:"started_at"`
	EndedAt   string `json:"ended_at"`
}

// TrialRow is a row from the trials table. Data holds the full record as JSON.
type TrialRow struct {
	RunID     string   `json:"run_id"`
	Trial     int      `json:"trial"`
	Responded bool     `json:"responded"`
	Result    *string  `json:"result"`
	RT        *float64 `json:"rt"`
	Correct   *bool    `json:"correct"`
	Data      string   `json:"data"`
}

// SqliteIndex mirrors run metadata and trial outcomes for fast reads. The
// per-run data files stay the source of truth.
type SqliteIndex struct {
	db *sql.DB
}

// OpenSqlite opens or creates an index database at path and runs migrations.
func OpenSqlite(path string) (*SqliteIndex, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			study TEXT NOT NULL,
			subject TEXT NOT NULL,
			session TEXT NOT NULL,
			run INTEGER NOT NULL,
			param_set TEXT NOT NULL,
			state TEXT NOT NULL,
			aborted INTEGER NOT NULL,
			err TEXT NOT NULL,
			n_trials INTEGER NOT NULL,
			started_at TEXT NOT NULL,
			ended_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS trials (
			run_id TEXT NOT NULL,
			trial INTEGER NOT NULL,
			responded INTEGER NOT NULL,
			result TEXT,
			rt REAL,
			correct INTEGER,
			data TEXT NOT NULL,
			PRIMARY KEY (run_id, trial),
			FOREIGN KEY (run_id) REFERENCES runs(run_id)
		);`

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SqliteIndex{db: db}, nil
}

// Close closes the database connection.
func (idx *SqliteIndex) Close() error {
	return idx.db.Close()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (idx *SqliteIndex) updateRun(ctx context.Context, db execer, run *experiment.RunData) error {
	var p experiment.Params
	if run.Params != nil {
		p = *run.Params
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO runs (run_id, study, subject, session, run, param_set, state, aborted, err, n_trials, started_at, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET
			state = excluded.state,
			aborted = excluded.aborted,
			err = excluded.err,
			n_trials = excluded.n_trials,
			ended_at = excluded.ended_at`,
		run.ID,
		run.Study,
		p.Subject,
		p.Session,
		p.Run,
		p.ParamSet,
		string(run.State),
		run.Aborted,
		run.Err,
		len(run.Trials),
		formatTime(run.StartedAt),
		formatTime(run.EndedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}
	return nil
}

func updateTrial(ctx context.Context, db execer, runID string, t *experiment.TrialRecord) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal trial %d: %w", t.Trial, err)
	}
	var result *string
	if v, ok := t.Result.Get(); ok {
		result = &v
	}
	var rt *float64
	if v, ok := t.RT.Get(); ok {
		rt = &v
	}
	var correct *bool
	if v, ok := t.Correct.Get(); ok {
		correct = &v
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO trials (run_id, trial, responded, result, rt, correct, data)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, trial) DO UPDATE SET
			responded = excluded.responded,
			result = excluded.result,
			rt = excluded.rt,
			correct = excluded.correct,
			data = excluded.data`,
		runID, t.Trial, t.Responded, result, rt, correct, string(data),
	)
	if err != nil {
		return fmt.Errorf("upsert trial %d: %w", t.Trial, err)
	}
	return nil
}

// Persist writes the run and all its trials in one transaction.
func (idx *SqliteIndex) Persist(ctx context.Context, run *experiment.RunData) error {
	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := idx.updateRun(ctx, tx, run); err != nil {
		return err
	}
	for _, t := range run.Trials {
		if err := updateTrial(ctx, tx, run.ID, t); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run %s: %w", run.ID, err)
	}
	return nil
}

// ListRuns returns runs for a subject, newest first. An empty subject lists all runs.
func (idx *SqliteIndex) ListRuns(ctx context.Context, subject string) ([]RunRow, error) {
	query := `SELECT run_id, study, subject, session, run, param_set, state, aborted, err, n_trials, started_at, ended_at
		FROM runs`
	var args []any
	if subject != "" {
		query += " WHERE subject = ?"
		args = append(args, subject)
	}
	query += " ORDER BY started_at DESC"

	rows, err := idx.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []RunRow
	for rows.Next() {
		var r RunRow
		if err := rows.Scan(&r.RunID, &r.Study, &r.Subject, &r.Session, &r.Run, &r.ParamSet,
			&r.State, &r.Aborted, &r.Err, &r.NTrials, &r.StartedAt, &r.EndedAt); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ListTrials returns the trials of a run in trial order.
func (idx *SqliteIndex) ListTrials(ctx context.Context, runID string) ([]TrialRow, error) {
	rows, err := idx.db.QueryContext(ctx,
		`SELECT run_id, trial, responded, result, rt, correct, data
		 FROM trials WHERE run_id = ? ORDER BY trial ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("query trials: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var trials []TrialRow
	for rows.Next() {
		var t TrialRow
		if err := rows.Scan(&t.RunID, &t.Trial, &t.Responded, &t.Result, &t.RT, &t.Correct, &t.Data); err != nil {
			return nil, fmt.Errorf("scan trial row: %w", err)
		}
		trials = append(trials, t)
	}
	return trials, rows.Err()
}

// Accuracy returns the mean of the correct column across a subject's
// trials in a study, skipping trials without a score.
func (idx *SqliteIndex) Accuracy(ctx context.Context, study, subject string) (float64, int, error) {
	var mean sql.NullFloat64
	var n int
	err := idx.db.QueryRowContext(ctx,
		`SELECT AVG(t.correct), COUNT(t.correct)
		 FROM trials t JOIN runs r ON r.run_id = t.run_id
		 WHERE r.study = ? AND r.subject = ? AND t.correct IS NOT NULL`,
		study, subject).Scan(&mean, &n)
	if err != nil {
		return 0, 0, fmt.Errorf("query accuracy: %w", err)
	}
	return mean.Float64, n, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
