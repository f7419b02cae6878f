// ABOUTME: Append-only JSONL trial log, one record per line, fsynced after every append.
// ABOUTME: A log cut short by a crash mid-write is repaired in place before anything is appended to it.
package store

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"

	"github.com/2389-research/visigoth/experiment"
)

// JsonlLog is an append-only trial log backed by a file.
type JsonlLog struct {
	path string
	file *os.File
}

// OpenJsonl opens or creates a log at path in append mode, creating parent directories.
func OpenJsonl(path string) (*JsonlLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create parent dirs: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open jsonl file: %w", err)
	}
	return &JsonlLog{path: path, file: file}, nil
}

// Path returns the log file path.
func (l *JsonlLog) Path() string {
	return l.path
}

// Append writes one trial as a JSON line and fsyncs.
func (l *JsonlLog) Append(t *experiment.TrialRecord) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal trial: %w", err)
	}
	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write trial line: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("fsync: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (l *JsonlLog) Close() error {
	return l.file.Close()
}

// RepairJsonl makes the log at path safe to append to and returns the trials
// it already holds. Lines that do not parse, such as a final line cut short
// by a crash, are dropped by rewriting the file through a temp file and
// rename. An intact log is left untouched and a missing one holds nothing.
func RepairJsonl(path string) ([]*experiment.TrialRecord, error) {
	trials, kept, dropped, err := scanTrialLog(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if dropped == 0 {
		return trials, nil
	}
	if err := rewriteLines(path, kept); err != nil {
		return nil, err
	}
	log.Printf("component=store action=repaired_trial_log path=%s kept=%d dropped=%d", path, len(trials), dropped)
	return trials, nil
}

// scanTrialLog parses each non-blank line of the log. kept holds the raw
// lines that parsed, in file order, and dropped counts the rest.
func scanTrialLog(path string) (trials []*experiment.TrialRecord, kept [][]byte, dropped int, err error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, 0, err
	}
	defer func() { _ = file.Close() }()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		t := &experiment.TrialRecord{}
		if json.Unmarshal(line, t) != nil {
			dropped++
			continue
		}
		trials = append(trials, t)
		kept = append(kept, bytes.Clone(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, 0, fmt.Errorf("scan trial log: %w", err)
	}
	return trials, kept, dropped, nil
}

func rewriteLines(path string, lines [][]byte) error {
	tmpPath := path + ".tmp"
	tmp, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	w := bufio.NewWriter(tmp)
	for _, line := range lines {
		_, _ = w.Write(line)
		_ = w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write repaired log: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("fsync temp file: %w", err)
	}
	_ = tmp.Close()

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replace trial log: %w", err)
	}
	if dir, err := os.Open(filepath.Dir(path)); err == nil {
		_ = dir.Sync()
		_ = dir.Close()
	}
	return nil
}
