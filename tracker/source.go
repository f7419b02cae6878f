// ABOUTME: Simulated gaze sources that stand in for eyetracker hardware in demo mode and tests.
// ABOUTME: Sources are pure functions of time, optionally wrapped with measurement noise and blinks.
package tracker

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/2389-research/visigoth/experiment"
)

// Source produces a raw gaze position for a moment in time.
type Source interface {
	Gaze(at time.Time) experiment.Point
}

// SourceFunc adapts a function to Source.
type SourceFunc func(at time.Time) experiment.Point

// Gaze implements Source.
func (f SourceFunc) Gaze(at time.Time) experiment.Point { return f(at) }

// Fixed always reports p.
func Fixed(p experiment.Point) Source {
	return SourceFunc(func(time.Time) experiment.Point { return p })
}

// Noisy adds Gaussian jitter with standard deviation SD degrees and, with
// probability BlinkRate per sample, reports a blink.
type Noisy struct {
	Base      Source
	SD        float64
	BlinkRate float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewNoisy wraps base with jitter and blinks drawn from seed.
func NewNoisy(base Source, sd, blinkRate float64, seed uint64) *Noisy {
	return &Noisy{Base: base, SD: sd, BlinkRate: blinkRate, rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Gaze implements Source.
func (n *Noisy) Gaze(at time.Time) experiment.Point {
	p := n.Base.Gaze(at)
	if math.IsNaN(p.X) || math.IsNaN(p.Y) {
		return p
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.BlinkRate > 0 && n.rng.Float64() < n.BlinkRate {
		return experiment.Missing()
	}
	return experiment.Point{X: p.X + n.SD*n.rng.NormFloat64(), Y: p.Y + n.SD*n.rng.NormFloat64()}
}
