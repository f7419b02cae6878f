// ABOUTME: Character-grid rendering of the subject's screen: stimulus positions, fixation window, and gaze.
// ABOUTME: Maps degrees of visual angle onto a fixed-extent grid centered on the screen.
package remote

import (
	"math"
	"slices"
	"strings"

	"github.com/2389-research/visigoth/clientserver"
)

// fieldExtent is the half-width in degrees shown by the field panel.
const fieldExtent = 10.0

type field struct {
	cols, rows int
	cells      [][]string
}

func newField(cols, rows int) *field {
	f := &field{cols: max(cols, 3), rows: max(rows, 3)}
	f.cells = make([][]string, f.rows)
	for r := range f.cells {
		f.cells[r] = make([]string, f.cols)
	}
	return f
}

// cell maps degrees to a grid cell. Rows use half the horizontal scale
// since terminal cells are about twice as tall as wide.
func (f *field) cell(x, y float64) (int, int, bool) {
	if math.IsNaN(x) || math.IsNaN(y) {
		return 0, 0, false
	}
	halfRows := float64(f.rows-1) / 2
	halfCols := float64(f.cols-1) / 2
	col := int(math.Round(halfCols + x/fieldExtent*halfCols))
	row := int(math.Round(halfRows - y/fieldExtent*halfCols/2))
	if col < 0 || col >= f.cols || row < 0 || row >= f.rows {
		return 0, 0, false
	}
	return col, row, true
}

func (f *field) put(x, y float64, glyph string) {
	if col, row, ok := f.cell(x, y); ok {
		f.cells[row][col] = glyph
	}
}

// ring outlines a circle of radius r degrees around (x, y).
func (f *field) ring(x, y, r float64) {
	if r <= 0 {
		return
	}
	for i := range 48 {
		a := 2 * math.Pi * float64(i) / 48
		col, row, ok := f.cell(x+r*math.Cos(a), y+r*math.Sin(a))
		if ok && f.cells[row][col] == "" {
			f.cells[row][col] = WindowStyle.Render("·")
		}
	}
}

func (f *field) String() string {
	var b strings.Builder
	for i, row := range f.cells {
		for _, c := range row {
			if c == "" {
				c = " "
			}
			b.WriteString(c)
		}
		if i < len(f.cells)-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}

// renderField draws stimuli, the fixation window, and the offset-corrected gaze.
func renderField(cols, rows int, s clientserver.ScreenState, gp clientserver.GazeParams) string {
	f := newField(cols, rows)
	if fix, ok := s.Stims["fix"]; ok && !fix.Missing() {
		f.ring(fix.X, fix.Y, gp.FixWindow)
	}
	names := make([]string, 0, len(s.Stims))
	for name := range s.Stims {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		c := s.Stims[name]
		if c.Missing() {
			continue
		}
		glyph := "o"
		if name == "fix" {
			glyph = "+"
		}
		f.put(c.X, c.Y, StimulusStyle.Render(glyph))
	}
	if !s.Gaze.Missing() {
		f.put(s.Gaze.X+gp.XOffset, s.Gaze.Y+gp.YOffset, GazeStyle.Render("●"))
	}
	return f.String()
}
