// ABOUTME: Terminal display that paces flips on a fixed refresh grid and counts missed refreshes.
// ABOUTME: Renders marked stimuli onto a bordered character field with ANSI cursor control, or runs headless.
package display

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/2389-research/visigoth/experiment"
	"github.com/charmbracelet/lipgloss"
)

// ErrClosed is returned by Flip after Close.
var ErrClosed = errors.New("display: closed")

// Mark is one glyph placed on the next frame, in degrees of visual angle.
type Mark struct {
	Name  string
	Pos   experiment.Point
	Glyph string
	Color string
}

// Config configures a Window.
type Config struct {
	RefreshHz float64
	Clock     experiment.Clock
	// Out receives rendered frames. Nil runs headless.
	Out io.Writer
	// Cols and Rows size the stimulus field in characters.
	Cols, Rows int
	// HalfWidth and HalfHeight are the field extents in degrees from center.
	HalfWidth, HalfHeight float64
	// IdleFrames is the gap, in refreshes, after which a flip starts a new
	// sequence instead of counting drops. Zero uses 30.
	IdleFrames int
}

// DefaultConfig is a 60 Hz field of 61x21 characters spanning 12x8 degrees.
func DefaultConfig() Config {
	return Config{RefreshHz: 60, Cols: 61, Rows: 21, HalfWidth: 12, HalfHeight: 8}
}

// Window is a frame-paced display. Draw calls between flips add marks;
// Flip renders them and waits for the next refresh boundary.
type Window struct {
	cfg   Config
	clock experiment.Clock
	frame time.Duration

	mu      sync.Mutex
	pending []Mark
	shown   []Mark
	last    time.Time
	flips   int
	dropped int
	closed  bool
}

// New creates a window. It hides the cursor when rendering to Out.
func New(cfg Config) (*Window, error) {
	if cfg.RefreshHz <= 0 {
		return nil, fmt.Errorf("display: refresh rate must be positive, got %v", cfg.RefreshHz)
	}
	def := DefaultConfig()
	if cfg.Cols <= 0 || cfg.Rows <= 0 {
		cfg.Cols, cfg.Rows = def.Cols, def.Rows
	}
	if cfg.HalfWidth <= 0 || cfg.HalfHeight <= 0 {
		cfg.HalfWidth, cfg.HalfHeight = def.HalfWidth, def.HalfHeight
	}
	if cfg.Clock == nil {
		cfg.Clock = experiment.WallClock()
	}
	if cfg.IdleFrames <= 0 {
		cfg.IdleFrames = 30
	}
	w := &Window{
		cfg:   cfg,
		clock: cfg.Clock,
		frame: time.Duration(float64(time.Second) / cfg.RefreshHz),
	}
	if cfg.Out != nil {
		fmt.Fprint(cfg.Out, "\033[?25l\033[2J")
	}
	return w, nil
}

// Mark adds a glyph to the frame being drawn.
func (w *Window) Mark(m Mark) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = append(w.pending, m)
}

// Flip shows the pending frame at the next refresh boundary. A flip that
// arrives after its boundary lands on the first later boundary and counts
// each skipped refresh as dropped, unless the window sat idle for
// IdleFrames or more.
func (w *Window) Flip() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	now := w.clock.Now()
	target := now
	if !w.last.IsZero() {
		target = w.last.Add(w.frame)
		if late := now.Sub(target); late > 0 {
			k := (late + w.frame - 1) / w.frame
			target = target.Add(k * w.frame)
			if int(k) < w.cfg.IdleFrames {
				w.dropped += int(k)
			}
		}
	}
	w.last = target
	w.flips++
	w.shown, w.pending = w.pending, nil
	frame := w.shown
	w.mu.Unlock()

	if w.cfg.Out != nil {
		if _, err := io.WriteString(w.cfg.Out, w.render(frame)); err != nil {
			return fmt.Errorf("render frame: %w", err)
		}
	}
	if wait := target.Sub(now); wait > 0 {
		w.clock.Sleep(wait)
	}
	return nil
}

// RefreshRate returns the configured rate.
func (w *Window) RefreshRate() float64 { return w.cfg.RefreshHz }

// FrameInterval is the duration of one refresh.
func (w *Window) FrameInterval() time.Duration { return w.frame }

func (w *Window) DroppedFrames() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dropped
}

// Close restores the cursor. Later flips fail.
func (w *Window) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if w.cfg.Out != nil {
		fmt.Fprint(w.cfg.Out, "\033[?25h\033[2J\033[H")
	}
	return nil
}

// Cell maps a position in degrees to a field cell. ok is false outside the field.
func (w *Window) Cell(p experiment.Point) (col, row int, ok bool) {
	if !p.Finite() {
		return 0, 0, false
	}
	col = int(math.Round((p.X + w.cfg.HalfWidth) / (2 * w.cfg.HalfWidth) * float64(w.cfg.Cols-1)))
	// Screen rows grow downward, degrees grow upward.
	row = int(math.Round((w.cfg.HalfHeight - p.Y) / (2 * w.cfg.HalfHeight) * float64(w.cfg.Rows-1)))
	if col < 0 || col >= w.cfg.Cols || row < 0 || row >= w.cfg.Rows {
		return 0, 0, false
	}
	return col, row, true
}

func (w *Window) render(marks []Mark) string {
	cells := make([][]string, w.cfg.Rows)
	for r := range cells {
		cells[r] = make([]string, w.cfg.Cols)
	}
	for _, m := range marks {
		col, row, ok := w.Cell(m.Pos)
		if !ok {
			continue
		}
		glyph := m.Glyph
		if glyph == "" {
			glyph = "●"
		}
		if m.Color != "" {
			glyph = lipgloss.NewStyle().Foreground(lipgloss.Color(m.Color)).Render(glyph)
		}
		cells[row][col] = glyph
	}

	var buf strings.Builder
	buf.Grow((w.cfg.Cols + 2) * (w.cfg.Rows + 2) * 4)
	buf.WriteString("\033[H")
	buf.WriteString("┌" + strings.Repeat("─", w.cfg.Cols) + "┐\r\n")
	for _, row := range cells {
		buf.WriteString("│")
		for _, c := range row {
			if c == "" {
				c = " "
			}
			buf.WriteString(c)
		}
		buf.WriteString("│\r\n")
	}
	buf.WriteString("└" + strings.Repeat("─", w.cfg.Cols) + "┘\r\n")
	return buf.String()
}

var _ experiment.Display = (*Window)(nil)
