// ABOUTME: End-of-run report rendered as markdown and converted to a standalone HTML page with goldmark.
// ABOUTME: The Report persister writes both files next to the run's data files.
package report

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/2389-research/visigoth/experiment"
	"github.com/2389-research/visigoth/store"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// Markdown renders the run summary as markdown.
func Markdown(run *experiment.RunData) string {
	var p experiment.Params
	if run.Params != nil {
		p = *run.Params
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# %s run %d\n\n", run.Study, p.Run)

	b.WriteString("| Field | Value |\n|---|---|\n")
	rows := [][2]string{
		{"Run ID", run.ID},
		{"Subject", p.Subject},
		{"Session", p.Session},
		{"Parameter set", p.ParamSet},
		{"State", string(run.State)},
		{"Aborted", fmt.Sprint(run.Aborted)},
		{"Started", formatTime(run.StartedAt)},
		{"Duration", duration(run)},
	}
	if run.Err != "" {
		rows = append(rows, [2]string{"Error", run.Err})
	}
	for _, r := range rows {
		fmt.Fprintf(&b, "| %s | %s |\n", r[0], escapeCell(r[1]))
	}

	summary := run.Summary
	if summary == nil {
		s := experiment.Summarize(run.Params, run.Trials)
		summary = &s
	}
	b.WriteString("\n## Performance\n\n")
	for _, line := range summary.Lines() {
		fmt.Fprintf(&b, "- %s\n", line)
	}

	counts := map[string]int{}
	for _, t := range run.Trials {
		res := t.Result.String()
		if res == "" {
			res = "none"
		}
		counts[res]++
	}
	if len(counts) > 0 {
		b.WriteString("\n## Results\n\n| Result | Trials |\n|---|---|\n")
		keys := make([]string, 0, len(counts))
		for k := range counts {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "| %s | %d |\n", k, counts[k])
		}
	}
	return b.String()
}

var page = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 48rem; margin: 2rem auto; color: #222; }
table { border-collapse: collapse; }
td, th { border: 1px solid #ccc; padding: 0.25rem 0.75rem; text-align: left; }
</style>
</head>
<body>
{{.Body}}
</body>
</html>
`))

// HTML converts the markdown report to a standalone page.
func HTML(run *experiment.RunData) ([]byte, error) {
	var body bytes.Buffer
	md := goldmark.New(goldmark.WithExtensions(extension.Table))
	if err := md.Convert([]byte(Markdown(run)), &body); err != nil {
		return nil, fmt.Errorf("render markdown: %w", err)
	}
	var out bytes.Buffer
	err := page.Execute(&out, struct {
		Title string
		Body  template.HTML
	}{
		Title: fmt.Sprintf("%s %s", run.Study, run.ID),
		Body:  template.HTML(body.String()),
	})
	if err != nil {
		return nil, fmt.Errorf("render page: %w", err)
	}
	return out.Bytes(), nil
}

// Report writes <stem>_report.md and <stem>_report.html under the same
// layout as store.Files.
type Report struct {
	Root string
}

// Persist implements experiment.Persister.
func (r Report) Persist(_ context.Context, run *experiment.RunData) error {
	stem := store.Files{Root: r.Root}.Stem(run)
	if err := os.MkdirAll(filepath.Dir(stem), 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	if err := os.WriteFile(stem+"_report.md", []byte(Markdown(run)), 0o644); err != nil {
		return fmt.Errorf("write markdown report: %w", err)
	}
	html, err := HTML(run)
	if err != nil {
		return err
	}
	if err := os.WriteFile(stem+"_report.html", html, 0o644); err != nil {
		return fmt.Errorf("write html report: %w", err)
	}
	log.Printf("component=report action=written run=%s path=%s_report.html", run.ID, stem)
	return nil
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

func duration(run *experiment.RunData) string {
	if run.StartedAt.IsZero() || run.EndedAt.IsZero() {
		return ""
	}
	return run.EndedAt.Sub(run.StartedAt).Round(time.Millisecond).String()
}

var _ experiment.Persister = Report{}
