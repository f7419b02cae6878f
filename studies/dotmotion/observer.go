// ABOUTME: Simulated observer that produces gaze for demo runs of the dot motion task.
// ABOUTME: Fixates on cue, then saccades to a target after a coherence-dependent latency with psychometric accuracy.
package dotmotion

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/2389-research/visigoth/experiment"
)

// Observer implements tracker.Source by following the study's trial state.
type Observer struct {
	study   *Study
	fix     experiment.Point
	targets []experiment.Point
	// Latency is the saccade latency at zero coherence. Higher coherence
	// shortens it by up to half.
	Latency time.Duration
	// Threshold is the coherence giving about 82% correct.
	Threshold float64

	mu     sync.Mutex
	rng    *rand.Rand
	trial  int
	choice int
}

// NewObserver creates an observer for study looking at fix and choosing
// between targets.
func NewObserver(study *Study, fix experiment.Point, targets []experiment.Point, seed uint64) *Observer {
	return &Observer{
		study:     study,
		fix:       fix,
		targets:   targets,
		Latency:   400 * time.Millisecond,
		Threshold: 0.15,
		rng:       rand.New(rand.NewPCG(seed, seed^0x5bd1e995)),
		choice:    -1,
	}
}

// PCorrect is the observer's probability of choosing the rewarded target.
func (o *Observer) PCorrect(coherence float64) float64 {
	if coherence <= 0 {
		return 0.5
	}
	return 1 - 0.5*math.Exp(-math.Pow(coherence/o.Threshold, 1.5))
}

// Gaze implements tracker.Source.
func (o *Observer) Gaze(at time.Time) experiment.Point {
	st := o.study.State()
	o.mu.Lock()
	defer o.mu.Unlock()
	if st.Trial != o.trial {
		o.trial, o.choice = st.Trial, -1
	}
	switch st.Phase {
	case PhaseITI:
		return experiment.Point{X: o.fix.X, Y: o.fix.Y - 5}
	case PhaseFixation:
		return o.fix
	case PhaseMotion, PhaseResponse:
		latency := time.Duration(float64(o.Latency) * (1 - 0.5*math.Min(st.Coherence, 1)))
		if at.Sub(st.Onset) < latency {
			return o.fix
		}
		return o.target(st)
	default:
		if o.choice >= 0 {
			return o.targets[o.choice]
		}
		return o.fix
	}
}

// target picks the choice once per trial. Caller holds mu.
func (o *Observer) target(st TrialState) experiment.Point {
	if o.choice < 0 && len(o.targets) > 0 {
		o.choice = st.Target
		if o.rng.Float64() >= o.PCorrect(st.Coherence) {
			o.choice = (st.Target + 1) % len(o.targets)
		}
	}
	return o.targets[o.choice]
}
