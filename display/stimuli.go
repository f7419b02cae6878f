// ABOUTME: Stimuli that draw themselves as marks on a Window.
// ABOUTME: Dot is a single positioned glyph; DotField is a moving cloud of dots.
package display

import (
	"math"
	"math/rand/v2"
	"sync"

	"github.com/2389-research/visigoth/experiment"
)

// Dot is a single glyph at a position.
type Dot struct {
	win   *Window
	name  string
	glyph string

	mu    sync.Mutex
	pos   experiment.Point
	color string
}

// NewDot creates a dot that draws onto win.
func NewDot(win *Window, name, glyph, color string, pos experiment.Point) *Dot {
	return &Dot{win: win, name: name, glyph: glyph, color: color, pos: pos}
}

func (d *Dot) Draw() {
	d.mu.Lock()
	m := Mark{Name: d.name, Pos: d.pos, Glyph: d.glyph, Color: d.color}
	d.mu.Unlock()
	d.win.Mark(m)
}

func (d *Dot) Pos() experiment.Point {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pos
}

func (d *Dot) SetPos(p experiment.Point) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pos = p
}

func (d *Dot) Color() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.color
}

func (d *Dot) SetColor(c string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.color = c
}

// DotField is a circular aperture of dots. Each Update moves a Coherence
// fraction of dots in Direction and replots the rest at random.
type DotField struct {
	win    *Window
	name   string
	rng    *rand.Rand
	radius float64
	speed  float64

	mu        sync.Mutex
	center    experiment.Point
	dots      []experiment.Point
	coherence float64
	direction float64
	color     string
}

// NewDotField creates n dots inside radius degrees of center. speed is in
// degrees per update.
func NewDotField(win *Window, name string, center experiment.Point, radius, speed float64, n int, seed uint64) *DotField {
	f := &DotField{
		win:    win,
		name:   name,
		rng:    rand.New(rand.NewPCG(seed, seed+1)),
		radius: radius,
		speed:  speed,
		center: center,
		dots:   make([]experiment.Point, n),
		color:  "15",
	}
	for i := range f.dots {
		f.dots[i] = f.randomPoint()
	}
	return f
}

// SetMotion sets coherence (0 to 1) and direction in degrees, 0 is rightward.
func (f *DotField) SetMotion(coherence, direction float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.coherence = coherence
	f.direction = direction
}

// Update advances every dot by one step.
func (f *DotField) Update() {
	f.mu.Lock()
	defer f.mu.Unlock()
	theta := f.direction * math.Pi / 180
	dx, dy := f.speed*math.Cos(theta), f.speed*math.Sin(theta)
	for i, d := range f.dots {
		if f.rng.Float64() >= f.coherence {
			f.dots[i] = f.randomPoint()
			continue
		}
		next := experiment.Point{X: d.X + dx, Y: d.Y + dy}
		if math.Hypot(next.X, next.Y) >= f.radius {
			// Wrap to the opposite edge of the aperture.
			next = experiment.Point{X: -d.X, Y: -d.Y}
		}
		f.dots[i] = next
	}
}

func (f *DotField) Draw() {
	f.mu.Lock()
	marks := make([]Mark, len(f.dots))
	for i, d := range f.dots {
		marks[i] = Mark{Name: f.name, Pos: f.center.Add(d), Glyph: "·", Color: f.color}
	}
	f.mu.Unlock()
	for _, m := range marks {
		f.win.Mark(m)
	}
}

func (f *DotField) Pos() experiment.Point {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.center
}

func (f *DotField) SetPos(p experiment.Point) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.center = p
}

func (f *DotField) Color() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.color
}

func (f *DotField) SetColor(c string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.color = c
}

// randomPoint samples uniformly inside the aperture. Caller holds mu or owns f.
func (f *DotField) randomPoint() experiment.Point {
	r := f.radius * math.Sqrt(f.rng.Float64())
	a := 2 * math.Pi * f.rng.Float64()
	return experiment.Point{X: r * math.Cos(a), Y: r * math.Sin(a)}
}
